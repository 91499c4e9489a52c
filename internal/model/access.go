package model

import "time"

// PurchaseMethod описывает, как получен доступ к цифровой версии.
type PurchaseMethod string

const (
	PurchaseCoins    PurchaseMethod = "coins"
	PurchasePhysical PurchaseMethod = "physical_purchase"
)

// AccessType описывает вид доступа.
type AccessType string

const (
	AccessPermanent AccessType = "permanent"
	AccessRental    AccessType = "rental"
)

// ReadingProgress хранит прогресс чтения внутри выдачи доступа.
type ReadingProgress struct {
	LastChapter int       `json:"last_chapter"`
	Bookmarks   []int     `json:"bookmarks"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DigitalAccess описывает право пользователя читать цифровую версию книги.
// Для пары (пользователь, книга) существует не более одной записи.
type DigitalAccess struct {
	ID             int64
	UserID         int64
	BookID         int64
	PurchaseMethod PurchaseMethod
	AccessType     AccessType
	CoinsPaid      int64
	TransactionID  *int64
	ExpiresAt      *time.Time
	IsActive       bool
	Progress       ReadingProgress
	GrantedAt      time.Time
}

// ValidAt сообщает, действует ли доступ в момент now.
func (a *DigitalAccess) ValidAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// NotificationEvent описывает тип уведомления пользователю.
type NotificationEvent string

const (
	EventOrderCreated     NotificationEvent = "order_created"
	EventPaymentSucceeded NotificationEvent = "payment_succeeded"
	EventPaymentFailed    NotificationEvent = "payment_failed"
	EventOrderCancelled   NotificationEvent = "order_cancelled"
	EventOrderStatus      NotificationEvent = "order_status_changed"
	EventReturnConfirmed  NotificationEvent = "return_confirmed"
	EventTopUpCompleted   NotificationEvent = "top_up_completed"
	EventBonusGranted     NotificationEvent = "bonus_granted"
)

// Notification описывает уведомление для внешней службы доставки.
type Notification struct {
	Event       NotificationEvent `json:"event"`
	UserID      int64             `json:"user_id"`
	OrderNumber string            `json:"order_number,omitempty"`
	Amount      int64             `json:"amount,omitempty"`
	Message     string            `json:"message"`
	CreatedAt   time.Time         `json:"created_at"`
}
