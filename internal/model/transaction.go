package model

import "time"

// TransactionType описывает тип записи журнала монет.
type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxPurchase   TransactionType = "purchase"
	TxRefund     TransactionType = "refund"
	TxBonus      TransactionType = "bonus"
	TxWithdrawal TransactionType = "withdrawal"
)

// Valid сообщает, известен ли тип записи.
func (t TransactionType) Valid() bool {
	switch t {
	case TxDeposit, TxPurchase, TxRefund, TxBonus, TxWithdrawal:
		return true
	}
	return false
}

// TransactionStatus описывает статус записи журнала.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxCancelled TransactionStatus = "cancelled"
)

// MetadataKind определяет, какие поля TransactionMetadata заполнены.
type MetadataKind string

const (
	MetaOrderPayment      MetadataKind = "order_payment"
	MetaOrderCancelRefund MetadataKind = "order_cancel_refund"
	MetaReturnRefund      MetadataKind = "return_refund"
	MetaLoyaltyReward     MetadataKind = "loyalty_reward"
	MetaDigitalPurchase   MetadataKind = "digital_purchase"
	MetaDigitalBundle     MetadataKind = "digital_bundle"
	MetaTopUp             MetadataKind = "top_up"
	MetaAdminBonus        MetadataKind = "admin_bonus"
	MetaRewardReversal    MetadataKind = "reward_reversal"
)

// TransactionMetadata описывает метаданные записи журнала. Форма зависит от Kind.
// Gateway хранит только сквозные поля платёжного шлюза.
type TransactionMetadata struct {
	Kind        MetadataKind      `json:"kind"`
	OrderNumber string            `json:"order_number,omitempty"`
	AdminID     int64             `json:"admin_id,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Gateway     map[string]string `json:"gateway,omitempty"`
	// Reverses задаёт ключ идемпотентности сторнируемой записи. Сумма сторно не превышает
	// ни суммы исходной записи, ни текущего баланса; без исходной записи сторно не проводится.
	Reverses string `json:"reverses,omitempty"`
}

// Transaction описывает запись журнала монет. После создания меняется только статус
// ожидающего пополнения.
type Transaction struct {
	ID             int64
	UserID         int64
	Type           TransactionType
	Amount         int64
	MoneyAmount    *int64
	ExchangeRate   *int64
	BalanceBefore  int64
	BalanceAfter   int64
	Status         TransactionStatus
	GatewayRef     string
	BookID         *int64
	IdempotencyKey string
	Description    string
	Metadata       TransactionMetadata
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// TransactionFilter задаёт фильтр истории операций.
type TransactionFilter struct {
	Type TransactionType
	From *time.Time
	To   *time.Time
	Page Page
}
