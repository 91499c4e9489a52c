package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/gateway"
	"github.com/mmeshcher/bookstore-coins/internal/ledger"
	"github.com/mmeshcher/bookstore-coins/internal/model"
)

// TopUpInput содержит параметры пополнения монетного кошелька.
type TopUpInput struct {
	UserID   int64
	Coins    int64
	Method   model.PaymentMethod
	ClientIP string
}

// TopUpResult содержит созданную запись пополнения и, для оплаты через шлюз, адрес страницы оплаты.
type TopUpResult struct {
	Transaction *model.Transaction
	PaymentURL  string
}

// GetBalance возвращает текущий баланс монет пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (int64, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.CoinBalance, nil
}

// ListTransactions возвращает страницу истории операций пользователя и общее число записей.
func (s *Service) ListTransactions(ctx context.Context, userID int64, f model.TransactionFilter) ([]model.Transaction, int, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, fmt.Errorf("%w: transaction type %q", ErrInvalidFilter, f.Type)
	}
	f.Page = normalizePage(f.Page)
	return s.repo.ListTransactions(ctx, userID, f)
}

// TopUp пополняет кошелёк. Оплата через шлюз создаёт ожидающую запись и адрес оплаты,
// банковский перевод и карта зачисляются сразу.
func (s *Service) TopUp(ctx context.Context, in TopUpInput) (*TopUpResult, error) {
	// Сумма в деньгах должна помещаться в int64 и в сотых долях для шлюза.
	if in.Coins <= 0 || in.Coins > gateway.MaxAmount/s.opts.ExchangeRate {
		return nil, ErrInvalidAmount
	}
	switch in.Method {
	case model.PaymentExternalGateway:
		if s.gateway == nil {
			return nil, ErrGatewayUnavailable
		}
	case model.PaymentBankTransfer, model.PaymentCreditCard:
	default:
		return nil, ErrInvalidPaymentMethod
	}

	if _, err := s.activeUser(ctx, in.UserID); err != nil {
		return nil, err
	}

	money, rate := in.Coins*s.opts.ExchangeRate, s.opts.ExchangeRate
	t := &model.Transaction{
		UserID:       in.UserID,
		Type:         model.TxDeposit,
		Amount:       in.Coins,
		MoneyAmount:  &money,
		ExchangeRate: &rate,
		Description:  fmt.Sprintf("Top-up of %d coins via %s", in.Coins, in.Method),
		Metadata:     model.TransactionMetadata{Kind: model.MetaTopUp},
	}

	var paymentURL string
	if in.Method == model.PaymentExternalGateway {
		t.Status = model.TxPending
		t.GatewayRef = topUpPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")

		var err error
		paymentURL, err = s.gateway.BuildPaymentURL(gateway.PaymentRequest{
			TxnRef:    t.GatewayRef,
			Amount:    money,
			OrderInfo: fmt.Sprintf("Nap %d xu", in.Coins),
			ClientIP:  in.ClientIP,
		}, s.now())
		if err != nil {
			return nil, fmt.Errorf("build payment url: %w", err)
		}
	}

	t, err := s.repo.CreateTransaction(ctx, t)
	if err != nil {
		return nil, err
	}

	if t.Status == model.TxCompleted {
		s.notify(ctx, model.Notification{
			Event:   model.EventTopUpCompleted,
			UserID:  t.UserID,
			Amount:  t.Amount,
			Message: "Top-up completed",
		})
	}
	return &TopUpResult{Transaction: t, PaymentURL: paymentURL}, nil
}

// GrantBonus начисляет пользователю бонусные монеты от имени администратора.
func (s *Service) GrantBonus(ctx context.Context, adminID, userID, coins int64, reason string) (*model.Transaction, error) {
	if coins <= 0 {
		return nil, ErrInvalidAmount
	}

	t, err := s.repo.CreateTransaction(ctx, &model.Transaction{
		UserID:      userID,
		Type:        model.TxBonus,
		Amount:      coins,
		Description: "Bonus from administrator",
		Metadata: model.TransactionMetadata{
			Kind:    model.MetaAdminBonus,
			AdminID: adminID,
			Reason:  strings.TrimSpace(reason),
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bonus granted",
		zap.Int64("admin_id", adminID),
		zap.Int64("user_id", userID),
		zap.Int64("coins", coins),
	)
	s.notify(ctx, model.Notification{
		Event:   model.EventBonusGranted,
		UserID:  userID,
		Amount:  coins,
		Message: "You received a bonus of " + fmt.Sprint(coins) + " coins",
	})
	return t, nil
}

// ReconcileUser сверяет журнал монет пользователя с его текущим балансом.
func (s *Service) ReconcileUser(ctx context.Context, userID int64) error {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	entries, err := s.repo.ListCompletedTransactions(ctx, userID)
	if err != nil {
		return err
	}

	if err := ledger.Verify(u.CoinBalance, entries); err != nil {
		s.logger.Error("ledger mismatch", zap.Int64("user_id", userID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrLedgerMismatch, err)
	}
	return nil
}
