package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

const accessColumns = `id, user_id, book_id, purchase_method, access_type, coins_paid, transaction_id,
	expires_at, is_active, progress, granted_at`

func scanAccess(row pgx.Row) (*model.DigitalAccess, error) {
	var (
		a              model.DigitalAccess
		method, access string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.BookID, &method, &access, &a.CoinsPaid, &a.TransactionID,
		&a.ExpiresAt, &a.IsActive, &a.Progress, &a.GrantedAt)
	if err != nil {
		return nil, err
	}
	a.PurchaseMethod = model.PurchaseMethod(method)
	a.AccessType = model.AccessType(access)
	return &a, nil
}

// GrantAccess выдаёт доступ к книге. Если у пары (пользователь, книга) уже есть действующий доступ,
// возвращает ErrAlreadyHasAccess. Истёкшая или отключённая запись выдаётся заново на месте.
// payment, если передан, проводится в той же транзакции.
func (r *PostgresRepository) GrantAccess(ctx context.Context, a *model.DigitalAccess, payment *model.Transaction, now time.Time) error {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		existing, err := scanAccess(tx.QueryRow(ctx,
			`SELECT `+accessColumns+` FROM digital_access WHERE user_id = $1 AND book_id = $2 FOR UPDATE`,
			a.UserID, a.BookID,
		))
		switch {
		case err == nil:
			if existing.ValidAt(now) {
				return ErrAlreadyHasAccess
			}
		case errors.Is(err, pgx.ErrNoRows):
			existing = nil
		default:
			return fmt.Errorf("lock access: %w", err)
		}

		a.TransactionID = nil
		if payment != nil {
			bookID := a.BookID
			payment.BookID = &bookID
			if err := applyTransaction(ctx, tx, payment); err != nil {
				if errors.Is(err, ErrDuplicateTransaction) {
					return ErrAlreadyHasAccess
				}
				return err
			}
			a.TransactionID = &payment.ID
		}

		a.IsActive = true
		a.GrantedAt = now

		if existing != nil {
			a.ID = existing.ID
			a.Progress = existing.Progress
			_, err = tx.Exec(ctx,
				`UPDATE digital_access
				 SET purchase_method = $2, access_type = $3, coins_paid = $4, transaction_id = $5,
				     expires_at = $6, is_active = TRUE, granted_at = $7
				 WHERE id = $1`,
				a.ID, string(a.PurchaseMethod), string(a.AccessType), a.CoinsPaid, a.TransactionID, a.ExpiresAt, a.GrantedAt,
			)
			if err != nil {
				return fmt.Errorf("regrant access: %w", err)
			}
			return nil
		}

		if a.Progress.Bookmarks == nil {
			a.Progress.Bookmarks = []int{}
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO digital_access (user_id, book_id, purchase_method, access_type, coins_paid, transaction_id,
				expires_at, is_active, progress, granted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9)
			 RETURNING id`,
			a.UserID, a.BookID, string(a.PurchaseMethod), string(a.AccessType), a.CoinsPaid, a.TransactionID,
			a.ExpiresAt, a.Progress, a.GrantedAt,
		).Scan(&a.ID)
		if err != nil {
			if isUniqueViolation(err, "") {
				return ErrAlreadyHasAccess
			}
			return fmt.Errorf("insert access: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordTransaction(payment)
	return nil
}

// GetAccess возвращает запись доступа пользователя к книге.
func (r *PostgresRepository) GetAccess(ctx context.Context, userID, bookID int64) (*model.DigitalAccess, error) {
	a, err := scanAccess(r.pool.QueryRow(ctx,
		`SELECT `+accessColumns+` FROM digital_access WHERE user_id = $1 AND book_id = $2`,
		userID, bookID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccessNotFound
		}
		return nil, fmt.Errorf("get access: %w", err)
	}
	return a, nil
}

// DeactivateAccess снимает признак активности с записи доступа.
func (r *PostgresRepository) DeactivateAccess(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE digital_access SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return fmt.Errorf("deactivate access: %w", err)
	}
	return nil
}

// ListAccessByUser возвращает все выдачи доступа пользователя.
func (r *PostgresRepository) ListAccessByUser(ctx context.Context, userID int64) ([]model.DigitalAccess, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+accessColumns+` FROM digital_access WHERE user_id = $1 ORDER BY granted_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select access: %w", err)
	}
	defer rows.Close()

	var res []model.DigitalAccess
	for rows.Next() {
		a, err := scanAccess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access: %w", err)
		}
		res = append(res, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateReadingProgress сохраняет прогресс чтения.
func (r *PostgresRepository) UpdateReadingProgress(ctx context.Context, id int64, progress model.ReadingProgress) error {
	tag, err := r.pool.Exec(ctx, `UPDATE digital_access SET progress = $2 WHERE id = $1`, id, progress)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccessNotFound
	}
	return nil
}
