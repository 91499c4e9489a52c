package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/bookstore-coins/internal/ledger"
	"github.com/mmeshcher/bookstore-coins/internal/metrics"
	"github.com/mmeshcher/bookstore-coins/internal/model"
)

const transactionColumns = `id, user_id, type, amount, money_amount, exchange_rate, balance_before, balance_after,
	status, COALESCE(gateway_ref, ''), book_id, COALESCE(idempotency_key, ''), description, metadata,
	created_at, completed_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var (
		t      model.Transaction
		typ    string
		status string
	)
	err := row.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.MoneyAmount, &t.ExchangeRate, &t.BalanceBefore, &t.BalanceAfter,
		&status, &t.GatewayRef, &t.BookID, &t.IdempotencyKey, &t.Description, &t.Metadata,
		&t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.Type = model.TransactionType(typ)
	t.Status = model.TransactionStatus(status)
	return &t, nil
}

// lockBalance блокирует строку пользователя до конца транзакции и возвращает текущий баланс.
// Все изменения баланса одного пользователя проходят через эту блокировку.
func lockBalance(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT coin_balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("lock user for update: %w", err)
	}
	return balance, nil
}

// applyTransaction проводит запись журнала внутри tx: проверяет ключ идемпотентности,
// фиксирует балансы до и после, сохраняет запись и новый баланс пользователя.
// При повторном ключе t заполняется ранее сохранённой записью и возвращается ErrDuplicateTransaction.
func applyTransaction(ctx context.Context, tx pgx.Tx, t *model.Transaction) error {
	balance, err := lockBalance(ctx, tx, t.UserID)
	if err != nil {
		return err
	}

	if t.IdempotencyKey != "" {
		existing, err := scanTransaction(tx.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM coin_transactions WHERE idempotency_key = $1`,
			t.IdempotencyKey,
		))
		switch {
		case err == nil:
			*t = *existing
			return ErrDuplicateTransaction
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("check idempotency key: %w", err)
		}
	}

	if t.Status == "" {
		t.Status = model.TxCompleted
	}
	if t.Metadata.Reverses != "" {
		if err := capReversal(ctx, tx, t, balance); err != nil {
			return err
		}
	}
	if err := ledger.Stamp(t, balance); err != nil {
		return err
	}
	if t.Status == model.TxCompleted {
		now := time.Now()
		t.CompletedAt = &now
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO coin_transactions (user_id, type, amount, money_amount, exchange_rate, balance_before, balance_after,
			status, gateway_ref, book_id, idempotency_key, description, metadata, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, created_at`,
		t.UserID, string(t.Type), t.Amount, t.MoneyAmount, t.ExchangeRate, t.BalanceBefore, t.BalanceAfter,
		string(t.Status), nullString(t.GatewayRef), t.BookID, nullString(t.IdempotencyKey), t.Description, t.Metadata, t.CompletedAt,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("insert transaction: %w", err)
	}

	if t.BalanceAfter != balance {
		if _, err := tx.Exec(ctx, `UPDATE users SET coin_balance = $2 WHERE id = $1`, t.UserID, t.BalanceAfter); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
	}

	return nil
}

// capReversal ограничивает сумму сторно суммой исходной записи и текущим балансом.
// Если исходная запись не проводилась или списывать нечего, возвращает errNothingToReverse.
func capReversal(ctx context.Context, tx pgx.Tx, t *model.Transaction, balance int64) error {
	var original int64
	err := tx.QueryRow(ctx,
		`SELECT amount FROM coin_transactions WHERE user_id = $1 AND idempotency_key = $2 AND status = 'completed'`,
		t.UserID, t.Metadata.Reverses,
	).Scan(&original)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errNothingToReverse
		}
		return fmt.Errorf("load reversed entry: %w", err)
	}

	t.Amount = reversalAmount(original, balance)
	if t.Amount == 0 {
		return errNothingToReverse
	}
	return nil
}

func reversalAmount(original, balance int64) int64 {
	return max(0, min(original, balance))
}

func recordTransaction(t *model.Transaction) {
	if t == nil || t.ID == 0 {
		return
	}
	metrics.LedgerEntries.WithLabelValues(string(t.Type), string(t.Status)).Inc()
}

// CreateTransaction атомарно проводит запись журнала и обновляет баланс пользователя.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, t *model.Transaction) (*model.Transaction, error) {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		return applyTransaction(ctx, tx, t)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return t, err
		}
		return nil, err
	}

	recordTransaction(t)
	return t, nil
}

// settlePending переводит ожидающую запись с gatewayRef в статус status.
// Для уже обработанной записи возвращает её без изменений и changed=false.
func (r *PostgresRepository) settlePending(ctx context.Context, gatewayRef string, status model.TransactionStatus, gatewayFields map[string]string) (*model.Transaction, bool, error) {
	var (
		result  *model.Transaction
		changed bool
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		changed = false
		t, err := scanTransaction(tx.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM coin_transactions WHERE gateway_ref = $1 FOR UPDATE`,
			gatewayRef,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTransactionNotFound
			}
			return fmt.Errorf("select pending transaction: %w", err)
		}
		result = t
		if t.Status != model.TxPending {
			return nil
		}

		balance, err := lockBalance(ctx, tx, t.UserID)
		if err != nil {
			return err
		}

		t.Status = status
		if err := ledger.Stamp(t, balance); err != nil {
			return err
		}
		now := time.Now()
		if status == model.TxCompleted {
			t.CompletedAt = &now
		}
		if len(gatewayFields) > 0 {
			t.Metadata.Gateway = gatewayFields
		}

		_, err = tx.Exec(ctx,
			`UPDATE coin_transactions
			 SET status = $2, balance_before = $3, balance_after = $4, completed_at = $5, metadata = $6
			 WHERE id = $1`,
			t.ID, string(t.Status), t.BalanceBefore, t.BalanceAfter, t.CompletedAt, t.Metadata,
		)
		if err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}

		if t.BalanceAfter != balance {
			if _, err := tx.Exec(ctx, `UPDATE users SET coin_balance = $2 WHERE id = $1`, t.UserID, t.BalanceAfter); err != nil {
				return fmt.Errorf("update balance: %w", err)
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		recordTransaction(result)
	}
	return result, changed, nil
}

// CompletePendingTransaction завершает ожидающее пополнение и зачисляет монеты.
// Повторный вызов для уже завершённой записи ничего не меняет.
func (r *PostgresRepository) CompletePendingTransaction(ctx context.Context, gatewayRef string, gatewayFields map[string]string) (*model.Transaction, bool, error) {
	return r.settlePending(ctx, gatewayRef, model.TxCompleted, gatewayFields)
}

// FailPendingTransaction помечает ожидающее пополнение неуспешным.
func (r *PostgresRepository) FailPendingTransaction(ctx context.Context, gatewayRef string, gatewayFields map[string]string) (*model.Transaction, bool, error) {
	return r.settlePending(ctx, gatewayRef, model.TxFailed, gatewayFields)
}

// GetTransactionByGatewayRef возвращает запись журнала по ссылке платёжного шлюза.
func (r *PostgresRepository) GetTransactionByGatewayRef(ctx context.Context, gatewayRef string) (*model.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM coin_transactions WHERE gateway_ref = $1`,
		gatewayRef,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// ListTransactions возвращает страницу истории операций пользователя и общее число записей.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID int64, f model.TransactionFilter) ([]model.Transaction, int, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}

	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM coin_transactions WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	args = append(args, f.Page.Size, f.Page.Offset())
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM coin_transactions WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			transactionColumns, cond, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	res, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

// ListCompletedTransactions возвращает завершённые записи пользователя в порядке проведения.
func (r *PostgresRepository) ListCompletedTransactions(ctx context.Context, userID int64) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM coin_transactions
		 WHERE user_id = $1 AND status = $2
		 ORDER BY completed_at, id`,
		userID, string(model.TxCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("select completed transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	var res []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
