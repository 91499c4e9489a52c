package ledger

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

var allTypes = []model.TransactionType{
	model.TxDeposit, model.TxPurchase, model.TxRefund, model.TxBonus, model.TxWithdrawal,
}

// TestLedgerReconcilesToBalance проверяет, что любая последовательность операций,
// проведённая через Stamp, сходится к текущему балансу.
func TestLedgerReconcilesToBalance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("balance equals last completed entry", prop.ForAll(
		func(kinds []int, amounts []int64) bool {
			var (
				balance int64
				entries []model.Transaction
			)
			for i := 0; i < len(kinds) && i < len(amounts); i++ {
				tx := model.Transaction{
					ID:     int64(i + 1),
					Type:   allTypes[kinds[i]%len(allTypes)],
					Amount: amounts[i],
					Status: model.TxCompleted,
				}
				if err := Stamp(&tx, balance); err != nil {
					// Отклонённая операция не должна менять баланс.
					continue
				}
				balance = tx.BalanceAfter
				entries = append(entries, tx)
			}
			return balance >= 0 && Verify(balance, entries) == nil
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.Int64Range(0, 10000)),
	))

	properties.TestingRun(t)
}

// TestApplyNeverNegative проверяет, что Apply не возвращает отрицательный баланс.
func TestApplyNeverNegative(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("non-negative result", prop.ForAll(
		func(balance, amount int64, kind int) bool {
			after, err := Apply(balance, allTypes[kind%len(allTypes)], amount)
			if err != nil {
				return after == balance
			}
			return after >= 0
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
