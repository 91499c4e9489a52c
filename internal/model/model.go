// Package model содержит доменные сущности книжного магазина и монетного кошелька.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// User представляет покупателя вместе с его монетным кошельком.
// CoinBalance изменяется только через записи журнала монет.
type User struct {
	ID          int64
	Login       string
	FullName    string
	Phone       string
	Address     string
	City        string
	CoinBalance int64
	IsActive    bool
	Role        Role
	CreatedAt   time.Time
}

// Book описывает книгу каталога. Цены хранятся в минимальных денежных единицах,
// цены цифровой версии указаны в монетах.
type Book struct {
	ID              int64
	Title           string
	Author          string
	CategoryID      *int64
	Price           int64
	HasDigital      bool
	CoinPrice       int64
	RentalCoinPrice int64
	IsDeleted       bool
}

// CartItem описывает позицию корзины. Book равен nil, если книга удалена из каталога.
type CartItem struct {
	BookID   int64
	Quantity int
	Book     *Book
}

// ShippingInfo содержит снимок адреса доставки.
type ShippingInfo struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city"`
	Note     string `json:"note,omitempty"`
}

// Complete сообщает, заполнены ли обязательные поля адреса.
func (s ShippingInfo) Complete() bool {
	return s.FullName != "" && s.Phone != "" && s.Address != "" && s.City != ""
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentCashOnDelivery  PaymentMethod = "cash_on_delivery"
	PaymentBankTransfer    PaymentMethod = "bank_transfer"
	PaymentCreditCard      PaymentMethod = "credit_card"
	PaymentCoin            PaymentMethod = "coin"
	PaymentExternalGateway PaymentMethod = "external_gateway"
)

// Valid сообщает, известен ли способ оплаты.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCashOnDelivery, PaymentBankTransfer, PaymentCreditCard, PaymentCoin, PaymentExternalGateway:
		return true
	}
	return false
}

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// OrderStatus описывает статус выполнения заказа.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderProcessing      OrderStatus = "processing"
	OrderShipped         OrderStatus = "shipped"
	OrderDelivered       OrderStatus = "delivered"
	OrderCancelled       OrderStatus = "cancelled"
	OrderReturnRequested OrderStatus = "return_requested"
	OrderReturned        OrderStatus = "returned"
)

// OrderItem описывает позицию заказа с ценой, зафиксированной в момент оформления.
type OrderItem struct {
	BookID    int64  `json:"book_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

// AppliedPromotion содержит снимок промокода, применённого к заказу.
type AppliedPromotion struct {
	Code  string          `json:"code"`
	Type  DiscountType    `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// Order описывает заказ покупателя.
type Order struct {
	ID             int64
	Number         string
	UserID         int64
	Items          []OrderItem
	Shipping       ShippingInfo
	PaymentMethod  PaymentMethod
	PaymentStatus  PaymentStatus
	OrderStatus    OrderStatus
	TotalAmount    int64
	ShippingFee    int64
	DiscountAmount int64
	FinalAmount    int64
	CoinsPaid      int64
	Promotion      *AppliedPromotion
	GatewayTxnNo   string
	TrackingNumber string
	ReturnReason   string
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Recalculate пересчитывает TotalAmount и FinalAmount из позиций, стоимости доставки и скидки.
// Вызывается перед каждым сохранением заказа.
func (o *Order) Recalculate() {
	var total int64
	for i := range o.Items {
		o.Items[i].Subtotal = o.Items[i].UnitPrice * int64(o.Items[i].Quantity)
		total += o.Items[i].Subtotal
	}
	o.TotalAmount = total
	o.FinalAmount = FinalAmount(o.TotalAmount, o.ShippingFee, o.DiscountAmount)
}

// FinalAmount возвращает max(0, total + shipping - discount).
func FinalAmount(total, shipping, discount int64) int64 {
	v := total + shipping - discount
	if v < 0 {
		return 0
	}
	return v
}

// BookIDs возвращает идентификаторы книг заказа.
func (o *Order) BookIDs() []int64 {
	ids := make([]int64, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.BookID)
	}
	return ids
}

// DiscountType описывает тип скидки промокода.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Promotion описывает промокод.
type Promotion struct {
	ID              int64
	Code            string
	Description     string
	Type            DiscountType
	Value           decimal.Decimal
	MinimumPurchase int64
	MaxUsage        *int64
	CurrentUsage    int64
	IsActive        bool
	StartDate       time.Time
	EndDate         time.Time
	BookIDs         []int64
	CategoryIDs     []int64
}

// Scoped сообщает, ограничен ли промокод конкретными книгами или категориями.
func (p *Promotion) Scoped() bool {
	return len(p.BookIDs) > 0 || len(p.CategoryIDs) > 0
}

// Page описывает параметры постраничной выборки.
type Page struct {
	Number int
	Size   int
}

// Offset возвращает смещение первой записи страницы.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}
