package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/model"
	"github.com/mmeshcher/bookstore-coins/internal/pricing"
	"github.com/mmeshcher/bookstore-coins/internal/repository"
)

// RequestReturn оформляет запрос на возврат доставленного заказа.
func (s *Service) RequestReturn(ctx context.Context, userID, orderID int64, reason string) (*model.Order, error) {
	reason = strings.TrimSpace(reason)
	return s.repo.UpdateOrder(ctx, orderID, func(o *model.Order) (*repository.OrderChange, error) {
		if o.UserID != userID {
			return nil, ErrForbidden
		}
		if o.OrderStatus != model.OrderDelivered {
			return nil, ErrInvalidOrderState
		}
		o.OrderStatus = model.OrderReturnRequested
		o.ReturnReason = reason
		return nil, nil
	})
}

// ConfirmReturn подтверждает возврат и зачисляет floor(finalAmount / exchangeRate) монет
// одной записью refund. В той же транзакции сторнируется бонус за заказ и отзывается
// выданный с заказом цифровой доступ. Повторное подтверждение отклоняется.
func (s *Service) ConfirmReturn(ctx context.Context, adminID, orderID int64) (*model.Order, error) {
	var refunded int64
	o, err := s.repo.UpdateOrder(ctx, orderID, func(o *model.Order) (*repository.OrderChange, error) {
		refunded = 0
		if o.OrderStatus != model.OrderReturnRequested {
			return nil, ErrInvalidOrderState
		}
		o.OrderStatus = model.OrderReturned

		coins := pricing.CoinsFrom(o.FinalAmount, s.opts.ExchangeRate)
		if coins == 0 {
			return withBenefitsReversed(o, nil), nil
		}
		refunded = coins

		money, rate := o.FinalAmount, s.opts.ExchangeRate
		return withBenefitsReversed(o, &model.Transaction{
			UserID:         o.UserID,
			Type:           model.TxRefund,
			Amount:         coins,
			MoneyAmount:    &money,
			ExchangeRate:   &rate,
			IdempotencyKey: "return-refund:" + o.Number,
			Description:    "Refund for returned order " + o.Number,
			Metadata: model.TransactionMetadata{
				Kind:        model.MetaReturnRefund,
				OrderNumber: o.Number,
				AdminID:     adminID,
				Reason:      o.ReturnReason,
			},
		}), nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("return confirmed",
		zap.String("order", o.Number),
		zap.Int64("admin_id", adminID),
		zap.Int64("coins", refunded),
	)
	s.notify(ctx, model.Notification{
		Event:       model.EventReturnConfirmed,
		UserID:      o.UserID,
		OrderNumber: o.Number,
		Amount:      refunded,
		Message:     "Return of order " + o.Number + " confirmed",
	})
	return o, nil
}

// RejectReturn отклоняет запрос на возврат, заказ снова считается доставленным.
func (s *Service) RejectReturn(ctx context.Context, adminID, orderID int64, reason string) (*model.Order, error) {
	o, err := s.repo.UpdateOrder(ctx, orderID, func(o *model.Order) (*repository.OrderChange, error) {
		if o.OrderStatus != model.OrderReturnRequested {
			return nil, ErrInvalidOrderState
		}
		o.OrderStatus = model.OrderDelivered
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("return rejected",
		zap.String("order", o.Number),
		zap.Int64("admin_id", adminID),
		zap.String("reason", reason),
	)
	msg := "Return of order " + o.Number + " was rejected"
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += ": " + reason
	}
	s.notify(ctx, model.Notification{
		Event:       model.EventOrderStatus,
		UserID:      o.UserID,
		OrderNumber: o.Number,
		Message:     msg,
	})
	return o, nil
}
