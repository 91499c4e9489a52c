package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

const promotionColumns = `id, code, description, discount_type, value::text, minimum_purchase, max_usage,
	current_usage, is_active, start_date, end_date, book_ids, category_ids`

func scanPromotion(row pgx.Row) (*model.Promotion, error) {
	var (
		p     model.Promotion
		typ   string
		value string
	)
	err := row.Scan(&p.ID, &p.Code, &p.Description, &typ, &value, &p.MinimumPurchase, &p.MaxUsage,
		&p.CurrentUsage, &p.IsActive, &p.StartDate, &p.EndDate, &p.BookIDs, &p.CategoryIDs)
	if err != nil {
		return nil, err
	}

	p.Type = model.DiscountType(typ)
	p.Value, err = decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse promotion value %q: %w", value, err)
	}
	return &p, nil
}

// GetPromotionByCode возвращает промокод по коду (код хранится в верхнем регистре).
func (r *PostgresRepository) GetPromotionByCode(ctx context.Context, code string) (*model.Promotion, error) {
	p, err := scanPromotion(r.pool.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPromotionNotFound
		}
		return nil, fmt.Errorf("get promotion: %w", err)
	}
	return p, nil
}

// ListActivePromotions возвращает промокоды, действующие в момент now.
func (r *PostgresRepository) ListActivePromotions(ctx context.Context, now time.Time) ([]model.Promotion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+promotionColumns+`
		 FROM promotions
		 WHERE is_active AND start_date <= $1 AND end_date >= $1
		   AND (max_usage IS NULL OR current_usage < max_usage)
		 ORDER BY end_date`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("select promotions: %w", err)
	}
	defer rows.Close()

	var res []model.Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
