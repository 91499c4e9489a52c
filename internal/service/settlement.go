package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/gateway"
	"github.com/mmeshcher/bookstore-coins/internal/metrics"
	"github.com/mmeshcher/bookstore-coins/internal/model"
	"github.com/mmeshcher/bookstore-coins/internal/pricing"
	"github.com/mmeshcher/bookstore-coins/internal/repository"
)

// topUpPrefix отличает ссылки пополнений от номеров заказов в ответах шлюза.
const topUpPrefix = "TU"

const (
	sourceReturn   = "return"
	sourceCallback = "callback"
	sourceAdmin    = "admin"
)

// Outcome описывает результат обработки сигнала об оплате.
type Outcome string

const (
	OutcomePaid        Outcome = "paid"
	OutcomeAlreadyPaid Outcome = "already_paid"
	OutcomeFailed      Outcome = "failed"
	OutcomeIgnored     Outcome = "ignored"
	// OutcomeRefunded означает, что оплата пришла по уже отменённому заказу и зачислена монетами.
	OutcomeRefunded Outcome = "refunded"
)

// PaymentResult описывает обработанный ответ шлюза для показа пользователю.
type PaymentResult struct {
	TxnRef       string
	Outcome      Outcome
	ResponseCode string
	Message      string
	Order        *model.Order
	TopUp        *model.Transaction
}

// HandleGatewayReturn обрабатывает возврат пользователя со страницы оплаты.
func (s *Service) HandleGatewayReturn(ctx context.Context, params url.Values) (*PaymentResult, error) {
	res, err := s.verify(params, sourceReturn)
	if err != nil {
		return nil, err
	}

	pr := &PaymentResult{
		TxnRef:       res.TxnRef,
		ResponseCode: res.ResponseCode,
		Message:      gateway.ResponseMessage(res.ResponseCode),
	}

	if strings.HasPrefix(res.TxnRef, topUpPrefix) {
		pr.TopUp, pr.Outcome, err = s.settleTopUp(ctx, res, sourceReturn)
	} else {
		pr.Order, pr.Outcome, err = s.settleOrder(ctx, res, sourceReturn)
	}
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// HandleGatewayCallback обрабатывает серверное уведомление шлюза и всегда возвращает
// подтверждение в формате шлюза. Внутренние ошибки журналируются и подтверждаются,
// чтобы шлюз не повторял уведомление; такие платежи разбираются вручную.
func (s *Service) HandleGatewayCallback(ctx context.Context, params url.Values) gateway.Ack {
	res, err := s.verify(params, sourceCallback)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			return gateway.Ack{RspCode: gateway.AckInvalidSignature, Message: "Invalid signature"}
		}
		return gateway.Ack{RspCode: gateway.AckUnknownError, Message: "Invalid request"}
	}

	var outcome Outcome
	if strings.HasPrefix(res.TxnRef, topUpPrefix) {
		_, outcome, err = s.settleTopUp(ctx, res, sourceCallback)
	} else {
		_, outcome, err = s.settleOrder(ctx, res, sourceCallback)
	}

	switch {
	case errors.Is(err, repository.ErrOrderNotFound), errors.Is(err, repository.ErrTransactionNotFound):
		return gateway.Ack{RspCode: gateway.AckOrderNotFound, Message: "Order not found"}
	case errors.Is(err, ErrAmountMismatch):
		return gateway.Ack{RspCode: gateway.AckInvalidAmount, Message: "Invalid amount"}
	case err != nil:
		s.logger.Error("gateway callback left for manual reconciliation",
			zap.String("txn_ref", res.TxnRef),
			zap.String("response_code", res.ResponseCode),
			zap.Error(err),
		)
		return gateway.Ack{RspCode: gateway.AckConfirmed, Message: "Received"}
	case outcome == OutcomeAlreadyPaid:
		return gateway.Ack{RspCode: gateway.AckAlreadyConfirmed, Message: "Order already confirmed"}
	}
	return gateway.Ack{RspCode: gateway.AckConfirmed, Message: "Confirm Success"}
}

func (s *Service) verify(params url.Values, source string) (*gateway.Result, error) {
	if s.gateway == nil {
		return nil, ErrGatewayUnavailable
	}

	res, err := s.gateway.Verify(params)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			metrics.SignatureFailures.WithLabelValues(source).Inc()
			s.logger.Warn("gateway signature rejected",
				zap.String("source", source),
				zap.String("txn_ref", params.Get("vnp_TxnRef")),
			)
		}
		return nil, err
	}
	return res, nil
}

// settleOrder применяет проверенный ответ шлюза к заказу. Повторный успешный ответ
// для оплаченного заказа ничего не меняет, отказ не понижает оплаченный заказ.
// Успешная оплата отменённого заказа фиксируется и сразу возвращается монетами.
func (s *Service) settleOrder(ctx context.Context, res *gateway.Result, source string) (*model.Order, Outcome, error) {
	var outcome Outcome
	o, err := s.repo.UpdateOrderByNumber(ctx, res.TxnRef, func(o *model.Order) (*repository.OrderChange, error) {
		if o.PaymentStatus == model.PaymentPaid {
			outcome = OutcomeAlreadyPaid
			return nil, repository.ErrSkipUpdate
		}
		if o.FinalAmount != res.Amount {
			return nil, ErrAmountMismatch
		}
		if o.OrderStatus == model.OrderCancelled {
			if !res.Success {
				outcome = OutcomeIgnored
				return nil, repository.ErrSkipUpdate
			}
			now := s.now()
			o.PaymentStatus = model.PaymentPaid
			o.PaidAt = &now
			o.GatewayTxnNo = res.TransactionNo
			outcome = OutcomeRefunded
			refund := s.cancelRefund(o, pricing.CoinsFrom(o.FinalAmount, s.opts.ExchangeRate))
			if refund == nil {
				return nil, nil
			}
			return &repository.OrderChange{Entries: []*model.Transaction{refund}}, nil
		}

		if res.Success {
			now := s.now()
			o.PaymentStatus = model.PaymentPaid
			o.PaidAt = &now
			o.GatewayTxnNo = res.TransactionNo
			outcome = OutcomePaid
			return nil, nil
		}

		if o.PaymentStatus != model.PaymentPending {
			outcome = OutcomeIgnored
			return nil, repository.ErrSkipUpdate
		}
		o.PaymentStatus = model.PaymentFailed
		outcome = OutcomeFailed
		return nil, nil
	})
	if err != nil && !errors.Is(err, repository.ErrSkipUpdate) {
		metrics.Settlements.WithLabelValues(source, "error").Inc()
		return nil, "", err
	}
	metrics.Settlements.WithLabelValues(source, string(outcome)).Inc()

	switch outcome {
	case OutcomePaid:
		s.logger.Info("order paid",
			zap.String("order", o.Number),
			zap.String("source", source),
			zap.String("gateway_txn", res.TransactionNo),
		)
		s.afterPayment(ctx, o)
		s.notify(ctx, model.Notification{
			Event:       model.EventPaymentSucceeded,
			UserID:      o.UserID,
			OrderNumber: o.Number,
			Amount:      o.FinalAmount,
			Message:     "Payment for order " + o.Number + " succeeded",
		})
	case OutcomeFailed:
		s.notify(ctx, model.Notification{
			Event:       model.EventPaymentFailed,
			UserID:      o.UserID,
			OrderNumber: o.Number,
			Amount:      o.FinalAmount,
			Message:     gateway.ResponseMessage(res.ResponseCode),
		})
	case OutcomeRefunded:
		s.logger.Warn("payment for cancelled order refunded in coins",
			zap.String("order", o.Number),
			zap.String("source", source),
			zap.String("gateway_txn", res.TransactionNo),
			zap.Int64("coins", pricing.CoinsFrom(o.FinalAmount, s.opts.ExchangeRate)),
		)
		s.notify(ctx, model.Notification{
			Event:       model.EventOrderCancelled,
			UserID:      o.UserID,
			OrderNumber: o.Number,
			Amount:      pricing.CoinsFrom(o.FinalAmount, s.opts.ExchangeRate),
			Message:     "Payment for cancelled order " + o.Number + " was refunded in coins",
		})
	case OutcomeIgnored:
		s.logger.Info("settlement ignored",
			zap.String("order", o.Number),
			zap.String("order_status", string(o.OrderStatus)),
			zap.String("payment_status", string(o.PaymentStatus)),
			zap.String("response_code", res.ResponseCode),
		)
	}

	return o, outcome, nil
}

// settleTopUp завершает или отклоняет ожидающее пополнение.
func (s *Service) settleTopUp(ctx context.Context, res *gateway.Result, source string) (*model.Transaction, Outcome, error) {
	t, err := s.repo.GetTransactionByGatewayRef(ctx, res.TxnRef)
	if err != nil {
		return nil, "", err
	}
	if t.MoneyAmount != nil && *t.MoneyAmount != res.Amount {
		return nil, "", ErrAmountMismatch
	}

	fields := map[string]string{
		"response_code":  res.ResponseCode,
		"transaction_no": res.TransactionNo,
		"bank_code":      res.BankCode,
		"pay_date":       res.PayDate,
	}

	var changed bool
	if res.Success {
		t, changed, err = s.repo.CompletePendingTransaction(ctx, res.TxnRef, fields)
	} else {
		t, changed, err = s.repo.FailPendingTransaction(ctx, res.TxnRef, fields)
	}
	if err != nil {
		metrics.Settlements.WithLabelValues(source, "error").Inc()
		return nil, "", err
	}

	var outcome Outcome
	switch {
	case !changed && t.Status == model.TxCompleted:
		outcome = OutcomeAlreadyPaid
	case !changed:
		outcome = OutcomeIgnored
	case t.Status == model.TxCompleted:
		outcome = OutcomePaid
	default:
		outcome = OutcomeFailed
	}
	metrics.Settlements.WithLabelValues(source, string(outcome)).Inc()

	if outcome == OutcomePaid {
		s.notify(ctx, model.Notification{
			Event:   model.EventTopUpCompleted,
			UserID:  t.UserID,
			Amount:  t.Amount,
			Message: "Top-up completed",
		})
	}
	return t, outcome, nil
}

// MarkOrderPaid вручную отмечает заказ оплаченным. Подпись шлюза не требуется.
func (s *Service) MarkOrderPaid(ctx context.Context, adminID, orderID int64) (*model.Order, error) {
	var outcome Outcome
	o, err := s.repo.UpdateOrder(ctx, orderID, func(o *model.Order) (*repository.OrderChange, error) {
		if o.PaymentStatus == model.PaymentPaid {
			outcome = OutcomeAlreadyPaid
			return nil, repository.ErrSkipUpdate
		}
		if o.OrderStatus == model.OrderCancelled {
			return nil, ErrInvalidOrderState
		}
		now := s.now()
		o.PaymentStatus = model.PaymentPaid
		o.PaidAt = &now
		outcome = OutcomePaid
		return nil, nil
	})
	if err != nil && !errors.Is(err, repository.ErrSkipUpdate) {
		return nil, err
	}
	metrics.Settlements.WithLabelValues(sourceAdmin, string(outcome)).Inc()

	if outcome == OutcomePaid {
		s.logger.Info("order marked paid", zap.String("order", o.Number), zap.Int64("admin_id", adminID))
		s.afterPayment(ctx, o)
		s.notify(ctx, model.Notification{
			Event:       model.EventPaymentSucceeded,
			UserID:      o.UserID,
			OrderNumber: o.Number,
			Amount:      o.FinalAmount,
			Message:     "Payment for order " + o.Number + " confirmed",
		})
	}
	return o, nil
}

// afterPayment выдаёт цифровой доступ к книгам оплаченного заказа и начисляет бонус.
// Ошибки журналируются и не отменяют оплату.
func (s *Service) afterPayment(ctx context.Context, o *model.Order) {
	books, err := s.repo.GetBooks(ctx, o.BookIDs())
	if err != nil {
		s.sideEffectFailed("access_grant", o, err)
	} else {
		for _, b := range books {
			if !b.HasDigital {
				continue
			}
			_, err := s.GrantAccess(ctx, GrantInput{
				UserID:         o.UserID,
				BookID:         b.ID,
				PurchaseMethod: model.PurchasePhysical,
				AccessType:     model.AccessPermanent,
				OrderNumber:    o.Number,
			})
			if err != nil && !errors.Is(err, ErrAlreadyHasAccess) {
				s.sideEffectFailed("access_grant", o, err, zap.Int64("book_id", b.ID))
			}
		}
	}

	reward := pricing.LoyaltyReward(o.FinalAmount, s.opts.RewardPercent, s.opts.ExchangeRate)
	if reward == 0 {
		return
	}
	_, err = s.repo.CreateTransaction(ctx, &model.Transaction{
		UserID:         o.UserID,
		Type:           model.TxBonus,
		Amount:         reward,
		IdempotencyKey: rewardKey(o.Number),
		Description:    "Reward for order " + o.Number,
		Metadata: model.TransactionMetadata{
			Kind:        model.MetaLoyaltyReward,
			OrderNumber: o.Number,
		},
	})
	if err != nil && !errors.Is(err, repository.ErrDuplicateTransaction) {
		s.sideEffectFailed("loyalty_reward", o, err)
	}
}

func (s *Service) sideEffectFailed(kind string, o *model.Order, err error, fields ...zap.Field) {
	metrics.SideEffectFailures.WithLabelValues(kind).Inc()
	fields = append(fields,
		zap.String("kind", kind),
		zap.String("order", o.Number),
		zap.Int64("user_id", o.UserID),
		zap.Error(err),
	)
	s.logger.Warn("side effect failed", fields...)
}
