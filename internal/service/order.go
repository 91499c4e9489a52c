package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/gateway"
	"github.com/mmeshcher/bookstore-coins/internal/metrics"
	"github.com/mmeshcher/bookstore-coins/internal/model"
	"github.com/mmeshcher/bookstore-coins/internal/pricing"
	"github.com/mmeshcher/bookstore-coins/internal/promotion"
	"github.com/mmeshcher/bookstore-coins/internal/repository"
	"github.com/mmeshcher/bookstore-coins/internal/validation"
)

const orderNumberAttempts = 5

// CreateOrderInput содержит параметры оформления заказа.
type CreateOrderInput struct {
	UserID        int64
	Shipping      model.ShippingInfo
	PaymentMethod model.PaymentMethod
	PromotionCode string
	// SelectedBookIDs ограничивает заказ частью корзины. Пустой список означает всю корзину.
	SelectedBookIDs []int64
	ClientIP        string
}

// CreateOrderResult содержит оформленный заказ и, для оплаты через шлюз, адрес страницы оплаты.
type CreateOrderResult struct {
	Order      *model.Order
	PaymentURL string
}

// checkout содержит выбранные позиции корзины с зафиксированными ценами.
type checkout struct {
	items []model.OrderItem
	cart  promotion.Cart
}

func (s *Service) checkout(ctx context.Context, userID int64, selected []int64) (*checkout, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	c := &checkout{}
	for _, it := range cart {
		if len(selected) > 0 && !slices.Contains(selected, it.BookID) {
			continue
		}
		if it.Book == nil {
			return nil, fmt.Errorf("%w: book %d", ErrBookUnavailable, it.BookID)
		}
		item := model.OrderItem{
			BookID:    it.BookID,
			Title:     it.Book.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.Book.Price,
			Subtotal:  it.Book.Price * int64(it.Quantity),
		}
		c.items = append(c.items, item)
		c.cart.Total += item.Subtotal
		c.cart.BookIDs = append(c.cart.BookIDs, it.BookID)
		if it.Book.CategoryID != nil {
			c.cart.CategoryIDs = append(c.cart.CategoryIDs, *it.Book.CategoryID)
		}
	}

	if len(c.items) == 0 {
		return nil, ErrCartEmpty
	}
	return c, nil
}

func (s *Service) resolvePromotion(ctx context.Context, code string, cart promotion.Cart) (*promotion.Result, error) {
	normalized, ok := validation.NormalizePromoCode(code)
	if !ok {
		return nil, promotion.ErrNotFound
	}

	p, err := s.repo.GetPromotionByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrPromotionNotFound) {
			return nil, promotion.ErrNotFound
		}
		return nil, err
	}

	return promotion.Resolve(p, cart, s.now())
}

func resolveShipping(in model.ShippingInfo, u *model.User) (model.ShippingInfo, error) {
	s := validation.NormalizeShipping(in)
	if s.FullName == "" {
		s.FullName = u.FullName
	}
	if s.Phone == "" {
		s.Phone = u.Phone
	}
	if s.Address == "" {
		s.Address = u.Address
	}
	if s.City == "" {
		s.City = u.City
	}

	if !validation.IsValidShipping(s) {
		return s, ErrInvalidShipping
	}
	return s, nil
}

func (s *Service) newOrderNumber() string {
	return fmt.Sprintf("BK%s%06d", s.now().Format("060102"), rand.IntN(1_000_000))
}

// CreateOrder оформляет заказ из корзины пользователя.
//
// Оплата монетами списывается в той же транзакции, что и сохранение заказа: при нехватке
// монет заказ не создаётся. Для оплаты через шлюз адрес страницы оплаты формируется до
// сохранения, поэтому ошибка шлюза тоже ничего не оставляет в базе.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if !in.PaymentMethod.Valid() {
		return nil, ErrInvalidPaymentMethod
	}
	if in.PaymentMethod == model.PaymentExternalGateway && s.gateway == nil {
		return nil, ErrGatewayUnavailable
	}

	u, err := s.activeUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	c, err := s.checkout(ctx, in.UserID, in.SelectedBookIDs)
	if err != nil {
		return nil, err
	}

	shipping, err := resolveShipping(in.Shipping, u)
	if err != nil {
		return nil, err
	}

	o := &model.Order{
		UserID:        u.ID,
		Items:         c.items,
		Shipping:      shipping,
		PaymentMethod: in.PaymentMethod,
		PaymentStatus: model.PaymentPending,
		OrderStatus:   model.OrderPending,
		ShippingFee:   s.opts.Shipping.Fee(c.cart.Total),
	}

	if in.PromotionCode != "" {
		res, err := s.resolvePromotion(ctx, in.PromotionCode, c.cart)
		if err != nil {
			return nil, err
		}
		o.DiscountAmount = res.DiscountAmount
		o.Promotion = res.Snapshot()
	}
	o.Recalculate()

	if o.PaymentMethod == model.PaymentCoin {
		o.CoinsPaid = pricing.CoinsFor(o.FinalAmount, s.opts.ExchangeRate)
		if u.CoinBalance < o.CoinsPaid {
			return nil, ErrInsufficientCoins
		}
	}
	if o.PaymentMethod == model.PaymentCoin || o.FinalAmount == 0 {
		now := s.now()
		o.PaymentStatus = model.PaymentPaid
		o.PaidAt = &now
	}

	var paymentURL string
	for attempt := 1; ; attempt++ {
		o.Number = s.newOrderNumber()

		if o.PaymentMethod == model.PaymentExternalGateway && o.PaymentStatus == model.PaymentPending {
			paymentURL, err = s.gateway.BuildPaymentURL(gateway.PaymentRequest{
				TxnRef:   o.Number,
				Amount:   o.FinalAmount,
				ClientIP: in.ClientIP,
			}, s.now())
			if err != nil {
				return nil, fmt.Errorf("build payment url: %w", err)
			}
		}

		err = s.repo.CreateOrder(ctx, o, s.orderPayment(o))
		if errors.Is(err, repository.ErrOrderNumberTaken) && attempt < orderNumberAttempts {
			continue
		}
		break
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientBalance):
			return nil, ErrInsufficientCoins
		case errors.Is(err, repository.ErrPromotionExhausted):
			return nil, promotion.ErrInactive
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	metrics.OrdersCreated.WithLabelValues(string(o.PaymentMethod)).Inc()
	s.logger.Info("order created",
		zap.String("order", o.Number),
		zap.Int64("user_id", o.UserID),
		zap.String("payment_method", string(o.PaymentMethod)),
		zap.Int64("final_amount", o.FinalAmount),
	)

	if o.PaymentStatus == model.PaymentPaid {
		s.afterPayment(ctx, o)
	}

	s.notify(ctx, model.Notification{
		Event:       model.EventOrderCreated,
		UserID:      o.UserID,
		OrderNumber: o.Number,
		Amount:      o.FinalAmount,
		Message:     "Order " + o.Number + " has been placed",
	})

	return &CreateOrderResult{Order: o, PaymentURL: paymentURL}, nil
}

// orderPayment возвращает списание монет за заказ или nil, если заказ оплачивается иначе.
func (s *Service) orderPayment(o *model.Order) *model.Transaction {
	if o.PaymentMethod != model.PaymentCoin || o.CoinsPaid == 0 {
		return nil
	}

	money, rate := o.FinalAmount, s.opts.ExchangeRate
	return &model.Transaction{
		UserID:         o.UserID,
		Type:           model.TxPurchase,
		Amount:         o.CoinsPaid,
		MoneyAmount:    &money,
		ExchangeRate:   &rate,
		IdempotencyKey: "order-payment:" + o.Number,
		Description:    "Payment for order " + o.Number,
		Metadata: model.TransactionMetadata{
			Kind:        model.MetaOrderPayment,
			OrderNumber: o.Number,
		},
	}
}

// PreviewPromotion рассчитывает скидку по промокоду для выбранных позиций корзины, ничего не сохраняя.
func (s *Service) PreviewPromotion(ctx context.Context, userID int64, code string, selected []int64) (*promotion.Result, error) {
	c, err := s.checkout(ctx, userID, selected)
	if err != nil {
		return nil, err
	}
	return s.resolvePromotion(ctx, code, c.cart)
}

// ListActivePromotions возвращает действующие промокоды.
func (s *Service) ListActivePromotions(ctx context.Context) ([]model.Promotion, error) {
	return s.repo.ListActivePromotions(ctx, s.now())
}

// ListOrders возвращает страницу заказов пользователя и их общее число.
func (s *Service) ListOrders(ctx context.Context, userID int64, page model.Page) ([]model.Order, int, error) {
	return s.repo.ListOrdersByUser(ctx, userID, normalizePage(page))
}

// GetOrder возвращает заказ пользователя.
func (s *Service) GetOrder(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrForbidden
	}
	return o, nil
}

// CancelOrder отменяет заказ пользователя, пока он в статусе pending.
// Оплаченные суммы возвращаются монетами ровно один раз.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	o, err := s.repo.UpdateOrder(ctx, orderID, func(o *model.Order) (*repository.OrderChange, error) {
		if o.UserID != userID {
			return nil, ErrForbidden
		}
		if o.OrderStatus != model.OrderPending {
			return nil, ErrInvalidOrderState
		}
		return s.cancel(o), nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, model.Notification{
		Event:       model.EventOrderCancelled,
		UserID:      o.UserID,
		OrderNumber: o.Number,
		Message:     "Order " + o.Number + " has been cancelled",
	})
	return o, nil
}

// cancel переводит заказ в cancelled и, если заказ был оплачен, возвращает возврат монет
// вместе со сторно бонуса за заказ и отзывом выданного с ним цифрового доступа.
// Заказ, оплаченный монетами, возвращает списанные монеты и снова ждёт оплаты. Оплата через
// шлюз не отменяется, поэтому её сумма конвертируется в монеты, а статус оплаты остаётся paid.
func (s *Service) cancel(o *model.Order) *repository.OrderChange {
	o.OrderStatus = model.OrderCancelled
	if o.PaymentStatus != model.PaymentPaid {
		return nil
	}

	var coins int64
	if o.PaymentMethod == model.PaymentCoin {
		coins = o.CoinsPaid
		o.PaymentStatus = model.PaymentPending
		o.PaidAt = nil
	} else {
		coins = pricing.CoinsFrom(o.FinalAmount, s.opts.ExchangeRate)
	}
	return withBenefitsReversed(o, s.cancelRefund(o, coins))
}

// cancelRefund возвращает запись возврата coins монет по отменённому заказу или nil для нуля.
func (s *Service) cancelRefund(o *model.Order, coins int64) *model.Transaction {
	if coins == 0 {
		return nil
	}
	money, rate := o.FinalAmount, s.opts.ExchangeRate
	return &model.Transaction{
		UserID:         o.UserID,
		Type:           model.TxRefund,
		Amount:         coins,
		MoneyAmount:    &money,
		ExchangeRate:   &rate,
		IdempotencyKey: "order-cancel-refund:" + o.Number,
		Description:    "Refund for cancelled order " + o.Number,
		Metadata: model.TransactionMetadata{
			Kind:        model.MetaOrderCancelRefund,
			OrderNumber: o.Number,
		},
	}
}

// withBenefitsReversed собирает изменение для заказа, по которому возвращаются деньги:
// возврат refund, сторно бонуса за заказ и отзыв доступа к цифровым версиям из заказа.
// Сторно списывает не больше начисленного бонуса и не больше баланса после возврата.
func withBenefitsReversed(o *model.Order, refund *model.Transaction) *repository.OrderChange {
	change := &repository.OrderChange{RevokeBundledAccess: true}
	if refund != nil {
		change.Entries = append(change.Entries, refund)
	}
	change.Entries = append(change.Entries, &model.Transaction{
		UserID:         o.UserID,
		Type:           model.TxWithdrawal,
		IdempotencyKey: "reward-reversal:" + o.Number,
		Description:    "Reward reversal for order " + o.Number,
		Metadata: model.TransactionMetadata{
			Kind:        model.MetaRewardReversal,
			OrderNumber: o.Number,
			Reverses:    rewardKey(o.Number),
		},
	})
	return change
}

func rewardKey(number string) string {
	return "reward:" + number
}

var statusTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderPending:    {model.OrderProcessing, model.OrderCancelled},
	model.OrderProcessing: {model.OrderShipped, model.OrderCancelled},
	model.OrderShipped:    {model.OrderDelivered},
}

// UpdateOrderStatus продвигает заказ по жизненному циклу от имени администратора.
// Заказ с оплатой при получении становится оплаченным при доставке.
func (s *Service) UpdateOrderStatus(ctx context.Context, adminID, orderID int64, status model.OrderStatus, tracking string) (*model.Order, error) {
	var becamePaid bool
	o, err := s.repo.UpdateOrder(ctx, orderID, func(o *model.Order) (*repository.OrderChange, error) {
		becamePaid = false
		if !slices.Contains(statusTransitions[o.OrderStatus], status) {
			return nil, fmt.Errorf("%w: %s to %s", ErrInvalidOrderState, o.OrderStatus, status)
		}

		switch status {
		case model.OrderCancelled:
			return s.cancel(o), nil
		case model.OrderShipped:
			if tracking != "" {
				o.TrackingNumber = tracking
			}
		case model.OrderDelivered:
			if o.PaymentMethod == model.PaymentCashOnDelivery && o.PaymentStatus != model.PaymentPaid {
				now := s.now()
				o.PaymentStatus = model.PaymentPaid
				o.PaidAt = &now
				becamePaid = true
			}
		}
		o.OrderStatus = status
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status updated",
		zap.String("order", o.Number),
		zap.Int64("admin_id", adminID),
		zap.String("status", string(o.OrderStatus)),
	)

	if becamePaid {
		s.afterPayment(ctx, o)
	}

	event := model.EventOrderStatus
	if o.OrderStatus == model.OrderCancelled {
		event = model.EventOrderCancelled
	}
	s.notify(ctx, model.Notification{
		Event:       event,
		UserID:      o.UserID,
		OrderNumber: o.Number,
		Message:     "Order " + o.Number + " is now " + string(o.OrderStatus),
	})
	return o, nil
}
