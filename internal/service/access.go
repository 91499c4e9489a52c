package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mmeshcher/bookstore-coins/internal/model"
	"github.com/mmeshcher/bookstore-coins/internal/repository"
)

// GrantInput содержит параметры выдачи цифрового доступа.
type GrantInput struct {
	UserID         int64
	BookID         int64
	CoinsPaid      int64
	PurchaseMethod model.PurchaseMethod
	AccessType     model.AccessType
	DurationDays   int
	// OrderNumber задаётся, если доступ выдаётся к книге из оплаченного заказа.
	OrderNumber string
}

// GrantAccess выдаёт доступ к цифровой версии книги.
//
// Если у пользователя уже есть действующий доступ, возвращается ErrAlreadyHasAccess.
// Оплата монетами проводится записью purchase в той же транзакции. Доступ из оплаченного
// заказа сопровождается нулевой записью bonus, которая баланс не меняет.
func (s *Service) GrantAccess(ctx context.Context, in GrantInput) (*model.DigitalAccess, error) {
	if in.CoinsPaid < 0 {
		return nil, ErrInvalidAmount
	}
	if in.AccessType == "" {
		in.AccessType = model.AccessPermanent
	}
	if in.AccessType == model.AccessRental && in.DurationDays <= 0 {
		return nil, ErrInvalidDuration
	}

	now := s.now()
	a := &model.DigitalAccess{
		UserID:         in.UserID,
		BookID:         in.BookID,
		PurchaseMethod: in.PurchaseMethod,
		AccessType:     in.AccessType,
		CoinsPaid:      in.CoinsPaid,
	}
	if in.AccessType == model.AccessRental {
		expires := now.AddDate(0, 0, in.DurationDays)
		a.ExpiresAt = &expires
	}

	var payment *model.Transaction
	switch {
	case in.CoinsPaid > 0:
		payment = &model.Transaction{
			UserID:      in.UserID,
			Type:        model.TxPurchase,
			Amount:      in.CoinsPaid,
			Description: "Digital " + string(in.AccessType) + " of book " + strconv.FormatInt(in.BookID, 10),
			Metadata:    model.TransactionMetadata{Kind: model.MetaDigitalPurchase},
		}
	case in.OrderNumber != "":
		payment = &model.Transaction{
			UserID:         in.UserID,
			Type:           model.TxBonus,
			IdempotencyKey: fmt.Sprintf("access:%s:%d", in.OrderNumber, in.BookID),
			Description:    "Digital edition included in order " + in.OrderNumber,
			Metadata: model.TransactionMetadata{
				Kind:        model.MetaDigitalBundle,
				OrderNumber: in.OrderNumber,
			},
		}
	}

	if err := s.repo.GrantAccess(ctx, a, payment, now); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, ErrInsufficientCoins
		}
		return nil, err
	}
	return a, nil
}

// PurchaseDigital покупает или арендует цифровую версию книги за монеты.
func (s *Service) PurchaseDigital(ctx context.Context, userID, bookID int64, accessType model.AccessType, days int) (*model.DigitalAccess, error) {
	u, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	b, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if b.IsDeleted {
		return nil, ErrBookUnavailable
	}
	if !b.HasDigital {
		return nil, ErrNotDigital
	}

	var price int64
	switch accessType {
	case model.AccessPermanent, "":
		accessType = model.AccessPermanent
		price = b.CoinPrice
	case model.AccessRental:
		price = b.RentalCoinPrice
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccessType, accessType)
	}
	if price <= 0 {
		return nil, ErrNotDigital
	}
	if u.CoinBalance < price {
		return nil, ErrInsufficientCoins
	}

	return s.GrantAccess(ctx, GrantInput{
		UserID:         userID,
		BookID:         bookID,
		CoinsPaid:      price,
		PurchaseMethod: model.PurchaseCoins,
		AccessType:     accessType,
		DurationDays:   days,
	})
}

// CheckAccess возвращает действующий доступ пользователя к книге.
// Просроченный доступ при проверке отключается.
func (s *Service) CheckAccess(ctx context.Context, userID, bookID int64) (*model.DigitalAccess, error) {
	a, err := s.repo.GetAccess(ctx, userID, bookID)
	if err != nil {
		if errors.Is(err, repository.ErrAccessNotFound) {
			return nil, ErrNoAccess
		}
		return nil, err
	}

	if a.ValidAt(s.now()) {
		return a, nil
	}
	if a.IsActive {
		if err := s.repo.DeactivateAccess(ctx, a.ID); err != nil {
			return nil, err
		}
	}
	return nil, ErrNoAccess
}

// UpdateReadingProgress сохраняет прогресс чтения по действующему доступу.
func (s *Service) UpdateReadingProgress(ctx context.Context, userID, bookID int64, chapter int, bookmarks []int) (*model.DigitalAccess, error) {
	if chapter < 0 {
		return nil, ErrInvalidProgress
	}
	for _, b := range bookmarks {
		if b < 0 {
			return nil, ErrInvalidProgress
		}
	}

	a, err := s.CheckAccess(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}

	if bookmarks == nil {
		bookmarks = []int{}
	}
	a.Progress = model.ReadingProgress{
		LastChapter: chapter,
		Bookmarks:   bookmarks,
		UpdatedAt:   s.now(),
	}
	if err := s.repo.UpdateReadingProgress(ctx, a.ID, a.Progress); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAccess возвращает все выдачи доступа пользователя.
func (s *Service) ListAccess(ctx context.Context, userID int64) ([]model.DigitalAccess, error) {
	return s.repo.ListAccessByUser(ctx, userID)
}
