// Package ledger содержит арифметику журнала монет: направление операций,
// расчёт нового баланса и сверку журнала с текущим балансом.
package ledger

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

var (
	// ErrInsufficientBalance возвращается, если списание уводит баланс ниже нуля.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount возвращается для отрицательной или недопустимо нулевой суммы.
	ErrInvalidAmount = errors.New("invalid transaction amount")
	// ErrUnknownType возвращается для неизвестного типа записи.
	ErrUnknownType = errors.New("unknown transaction type")
)

// Sign возвращает +1 для зачисляющих типов и -1 для списывающих.
func Sign(t model.TransactionType) (int64, error) {
	switch t {
	case model.TxDeposit, model.TxRefund, model.TxBonus:
		return 1, nil
	case model.TxPurchase, model.TxWithdrawal:
		return -1, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

// Apply вычисляет баланс после проведения завершённой операции.
// Нулевая сумма допустима только для bonus: такие записи нужны для аудита.
func Apply(balance int64, t model.TransactionType, amount int64) (int64, error) {
	sign, err := Sign(t)
	if err != nil {
		return balance, err
	}
	if amount < 0 || (amount == 0 && t != model.TxBonus) {
		return balance, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	after := balance + sign*amount
	if after < 0 {
		return balance, ErrInsufficientBalance
	}
	return after, nil
}

// Stamp заполняет BalanceBefore и BalanceAfter записи по текущему балансу.
// Ожидающая запись баланс не меняет.
func Stamp(tx *model.Transaction, balance int64) error {
	tx.BalanceBefore = balance
	if tx.Status != model.TxCompleted {
		tx.BalanceAfter = balance
		return nil
	}

	after, err := Apply(balance, tx.Type, tx.Amount)
	if err != nil {
		return err
	}
	tx.BalanceAfter = after
	return nil
}

// Verify проверяет, что каждая завершённая запись согласована сама с собой,
// а текущий баланс равен BalanceAfter последней завершённой записи.
// entries должны быть упорядочены по времени завершения.
func Verify(balance int64, entries []model.Transaction) error {
	var last *model.Transaction
	for i := range entries {
		e := &entries[i]
		if e.Status != model.TxCompleted {
			continue
		}
		after, err := Apply(e.BalanceBefore, e.Type, e.Amount)
		if err != nil {
			return fmt.Errorf("entry %d: %w", e.ID, err)
		}
		if after != e.BalanceAfter {
			return fmt.Errorf("entry %d: balance after %d, want %d", e.ID, e.BalanceAfter, after)
		}
		if last != nil && last.BalanceAfter != e.BalanceBefore {
			return fmt.Errorf("entry %d: balance before %d does not continue %d", e.ID, e.BalanceBefore, last.BalanceAfter)
		}
		last = e
	}

	if last == nil {
		if balance != 0 {
			return fmt.Errorf("balance %d without completed entries", balance)
		}
		return nil
	}
	if last.BalanceAfter != balance {
		return fmt.Errorf("balance %d, last entry %d ends at %d", balance, last.ID, last.BalanceAfter)
	}
	return nil
}
