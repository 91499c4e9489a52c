package service

import (
	"errors"

	"github.com/mmeshcher/bookstore-coins/internal/gateway"
	"github.com/mmeshcher/bookstore-coins/internal/promotion"
	"github.com/mmeshcher/bookstore-coins/internal/repository"
)

var (
	// ErrUserInactive возвращается для заблокированного пользователя.
	ErrUserInactive = errors.New("user is inactive")
	// ErrCartEmpty возвращается, если в корзине нет выбранных позиций.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrBookUnavailable возвращается, если книга из корзины удалена из каталога.
	ErrBookUnavailable = errors.New("book is unavailable")
	// ErrInvalidShipping возвращается при неполном или некорректном адресе доставки.
	ErrInvalidShipping = errors.New("invalid shipping information")
	// ErrInvalidPaymentMethod возвращается для неизвестного или неподходящего способа оплаты.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrInsufficientCoins возвращается, если монет не хватает для оплаты.
	ErrInsufficientCoins = errors.New("insufficient coins")
	// ErrInvalidOrderState возвращается, если заказ не может перейти в запрошенное состояние.
	ErrInvalidOrderState = errors.New("invalid order state")
	// ErrForbidden возвращается при обращении к чужому заказу.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidAmount возвращается для неположительной суммы.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidDuration возвращается для аренды без срока.
	ErrInvalidDuration = errors.New("invalid rental duration")
	// ErrInvalidAccessType возвращается для неизвестного вида доступа.
	ErrInvalidAccessType = errors.New("invalid access type")
	// ErrInvalidFilter возвращается для некорректного фильтра истории операций.
	ErrInvalidFilter = errors.New("invalid transaction filter")
	// ErrLedgerMismatch возвращается, если журнал монет не сходится с балансом.
	ErrLedgerMismatch = errors.New("ledger does not match balance")
	// ErrInvalidProgress возвращается для некорректного прогресса чтения.
	ErrInvalidProgress = errors.New("invalid reading progress")
	// ErrNotDigital возвращается, если у книги нет цифровой версии.
	ErrNotDigital = errors.New("book has no digital edition")
	// ErrNoAccess возвращается, если у пользователя нет действующего доступа к книге.
	ErrNoAccess = errors.New("no access to book")
	// ErrAmountMismatch возвращается, если сумма в ответе шлюза не совпала с ожидаемой.
	ErrAmountMismatch = errors.New("payment amount mismatch")
	// ErrGatewayUnavailable возвращается, если шлюз не настроен.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrAlreadyHasAccess возвращается при повторной выдаче действующего доступа.
	ErrAlreadyHasAccess = repository.ErrAlreadyHasAccess
	// ErrOrderNotFound возвращается для несуществующего заказа.
	ErrOrderNotFound = repository.ErrOrderNotFound
)

// Kind определяет класс ошибки, по которому внешний слой выбирает ответ.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindStateConflict       Kind = "state_conflict"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindInvalidSignature    Kind = "invalid_signature"
	KindInternal            Kind = "internal"
)

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindInvalidSignature, []error{gateway.ErrInvalidSignature}},
	{KindInsufficientBalance, []error{ErrInsufficientCoins, repository.ErrInsufficientBalance}},
	{KindNotFound, []error{
		repository.ErrUserNotFound, repository.ErrBookNotFound, repository.ErrOrderNotFound,
		repository.ErrTransactionNotFound, repository.ErrAccessNotFound, promotion.ErrNotFound, ErrNoAccess,
	}},
	{KindForbidden, []error{ErrForbidden}},
	{KindStateConflict, []error{
		ErrInvalidOrderState, ErrUserInactive, repository.ErrAlreadyHasAccess, promotion.ErrInactive, ErrLedgerMismatch,
	}},
	{KindValidation, []error{
		ErrCartEmpty, ErrBookUnavailable, ErrInvalidShipping, ErrInvalidPaymentMethod, ErrInvalidAmount,
		ErrInvalidDuration, ErrInvalidAccessType, ErrInvalidFilter, ErrInvalidProgress, ErrNotDigital, ErrAmountMismatch, promotion.ErrNotApplicable,
		gateway.ErrInvalidRequest,
	}},
}

// KindOf относит ошибку к одному из классов. Неизвестные ошибки считаются внутренними.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindInternal
}
