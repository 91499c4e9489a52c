// Package service реализует бизнес-логику книжного магазина: оформление заказов,
// журнал монет, расчёты с платёжным шлюзом, цифровой доступ и возвраты.
package service

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/gateway"
	"github.com/mmeshcher/bookstore-coins/internal/model"
	"github.com/mmeshcher/bookstore-coins/internal/pricing"
	"github.com/mmeshcher/bookstore-coins/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	GetBooks(ctx context.Context, ids []int64) ([]model.Book, error)
	GetCart(ctx context.Context, userID int64) ([]model.CartItem, error)

	GetPromotionByCode(ctx context.Context, code string) (*model.Promotion, error)
	ListActivePromotions(ctx context.Context, now time.Time) ([]model.Promotion, error)

	CreateOrder(ctx context.Context, o *model.Order, payment *model.Transaction) error
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64, page model.Page) ([]model.Order, int, error)
	UpdateOrder(ctx context.Context, id int64, fn repository.OrderMutation) (*model.Order, error)
	UpdateOrderByNumber(ctx context.Context, number string, fn repository.OrderMutation) (*model.Order, error)

	CreateTransaction(ctx context.Context, t *model.Transaction) (*model.Transaction, error)
	CompletePendingTransaction(ctx context.Context, gatewayRef string, gatewayFields map[string]string) (*model.Transaction, bool, error)
	FailPendingTransaction(ctx context.Context, gatewayRef string, gatewayFields map[string]string) (*model.Transaction, bool, error)
	GetTransactionByGatewayRef(ctx context.Context, gatewayRef string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, userID int64, f model.TransactionFilter) ([]model.Transaction, int, error)
	ListCompletedTransactions(ctx context.Context, userID int64) ([]model.Transaction, error)

	GrantAccess(ctx context.Context, a *model.DigitalAccess, payment *model.Transaction, now time.Time) error
	GetAccess(ctx context.Context, userID, bookID int64) (*model.DigitalAccess, error)
	DeactivateAccess(ctx context.Context, id int64) error
	ListAccessByUser(ctx context.Context, userID int64) ([]model.DigitalAccess, error)
	UpdateReadingProgress(ctx context.Context, id int64, progress model.ReadingProgress) error
}

// PaymentGateway описывает платёжный шлюз: подпись исходящих платежей и проверку ответов.
type PaymentGateway interface {
	BuildPaymentURL(req gateway.PaymentRequest, now time.Time) (string, error)
	Verify(params url.Values) (*gateway.Result, error)
}

// Notifier доставляет уведомления пользователям. Доставка не должна блокировать вызывающего.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// Options содержит денежные параметры сервиса.
type Options struct {
	// ExchangeRate задаёт число денежных единиц в одной монете.
	ExchangeRate int64
	// RewardPercent задаёт процент от суммы оплаченного заказа, начисляемый монетами.
	RewardPercent int64
	Shipping      pricing.ShippingPolicy
}

const (
	defaultExchangeRate = 1000
	defaultPageSize     = 20
	maxPageSize         = 100
)

// Service содержит бизнес-логику книжного магазина.
type Service struct {
	repo     Repository
	gateway  PaymentGateway
	notifier Notifier
	opts     Options
	logger   *zap.Logger

	now func() time.Time
}

// NewService создаёт сервис. gateway и notifier могут быть nil: тогда оплата через шлюз
// недоступна, а уведомления не отправляются.
func NewService(repo Repository, gw PaymentGateway, notifier Notifier, opts Options, logger *zap.Logger) *Service {
	if opts.ExchangeRate <= 0 {
		opts.ExchangeRate = defaultExchangeRate
	}
	if opts.Shipping == (pricing.ShippingPolicy{}) {
		opts.Shipping = pricing.DefaultShippingPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:     repo,
		gateway:  gw,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) notify(ctx context.Context, n model.Notification) {
	if s.notifier == nil {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.notifier.Notify(ctx, n)
}

func normalizePage(p model.Page) model.Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

// activeUser возвращает пользователя, если он существует и не заблокирован.
func (s *Service) activeUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUserInactive
	}
	return u, nil
}
