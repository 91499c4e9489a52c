package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

func TestPurchaseDigital_AlreadyHasAccess(t *testing.T) {
	f := newFixture(t)
	f.setBalance(400)
	ctx := context.Background()

	a, err := f.svc.PurchaseDigital(ctx, customerID, bookDigital, model.AccessPermanent, 0)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseCoins, a.PurchaseMethod)
	assert.Equal(t, int64(150), a.CoinsPaid)
	require.NotNil(t, a.TransactionID)
	assert.Nil(t, a.ExpiresAt)
	assert.Equal(t, int64(250), f.repo.balance(customerID))

	_, err = f.svc.PurchaseDigital(ctx, customerID, bookDigital, model.AccessPermanent, 0)
	require.ErrorIs(t, err, ErrAlreadyHasAccess)
	assert.Equal(t, KindStateConflict, KindOf(err))
	assert.Equal(t, int64(250), f.repo.balance(customerID), "second purchase must not charge")
	assert.Len(t, f.repo.entries(customerID, model.TxPurchase), 1)
}

func TestPurchaseDigital_Validation(t *testing.T) {
	f := newFixture(t)
	f.setBalance(10)
	ctx := context.Background()

	_, err := f.svc.PurchaseDigital(ctx, customerID, bookPaper, model.AccessPermanent, 0)
	require.ErrorIs(t, err, ErrNotDigital)

	_, err = f.svc.PurchaseDigital(ctx, customerID, bookDigital, model.AccessPermanent, 0)
	require.ErrorIs(t, err, ErrInsufficientCoins)

	_, err = f.svc.PurchaseDigital(ctx, customerID, bookDigital, "lease", 0)
	require.ErrorIs(t, err, ErrInvalidAccessType)

	f.setBalance(100)
	_, err = f.svc.PurchaseDigital(ctx, customerID, bookDigital, model.AccessRental, 0)
	require.ErrorIs(t, err, ErrInvalidDuration)
}

func TestRentalExpiresAndCanBeRenewed(t *testing.T) {
	f := newFixture(t)
	f.setBalance(100)
	ctx := context.Background()

	a, err := f.svc.PurchaseDigital(ctx, customerID, bookDigital, model.AccessRental, 7)
	require.NoError(t, err)
	require.NotNil(t, a.ExpiresAt)
	assert.Equal(t, testNow.AddDate(0, 0, 7), *a.ExpiresAt)

	_, err = f.svc.UpdateReadingProgress(ctx, customerID, bookDigital, 3, []int{12, 40})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return testNow.AddDate(0, 0, 8) }

	_, err = f.svc.CheckAccess(ctx, customerID, bookDigital)
	require.ErrorIs(t, err, ErrNoAccess)

	stored, err := f.repo.GetAccess(ctx, customerID, bookDigital)
	require.NoError(t, err)
	assert.False(t, stored.IsActive, "expired grant is deactivated on check")

	renewed, err := f.svc.PurchaseDigital(ctx, customerID, bookDigital, model.AccessRental, 7)
	require.NoError(t, err)
	assert.Equal(t, a.ID, renewed.ID, "one grant per user and book")
	assert.Equal(t, 3, renewed.Progress.LastChapter)
	assert.Equal(t, int64(40), f.repo.balance(customerID))
}

func TestGrantAccess_FromOrderIsAuditOnly(t *testing.T) {
	f := newFixture(t)
	f.setBalance(50)
	ctx := context.Background()

	in := GrantInput{
		UserID:         customerID,
		BookID:         bookDigital,
		PurchaseMethod: model.PurchasePhysical,
		AccessType:     model.AccessPermanent,
		OrderNumber:    "BK260115000001",
	}
	_, err := f.svc.GrantAccess(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.GrantAccess(ctx, in)
	require.ErrorIs(t, err, ErrAlreadyHasAccess)

	bonuses := f.repo.entries(customerID, model.TxBonus)
	require.Len(t, bonuses, 1)
	assert.Equal(t, int64(0), bonuses[0].Amount)
	assert.Equal(t, "access:BK260115000001:10", bonuses[0].IdempotencyKey)
	assert.Equal(t, int64(50), f.repo.balance(customerID))
}

func TestUpdateReadingProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateReadingProgress(ctx, customerID, bookDigital, 1, nil)
	require.ErrorIs(t, err, ErrNoAccess)

	_, err = f.svc.GrantAccess(ctx, GrantInput{UserID: customerID, BookID: bookDigital, PurchaseMethod: model.PurchasePhysical})
	require.NoError(t, err)

	_, err = f.svc.UpdateReadingProgress(ctx, customerID, bookDigital, -1, nil)
	require.ErrorIs(t, err, ErrInvalidProgress)

	a, err := f.svc.UpdateReadingProgress(ctx, customerID, bookDigital, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, a.Progress.LastChapter)
	assert.Equal(t, []int{}, a.Progress.Bookmarks)
	assert.Equal(t, testNow, a.Progress.UpdatedAt)

	list, err := f.svc.ListAccess(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 5, list[0].Progress.LastChapter)
}
