package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

const orderColumns = `id, number, user_id, shipping, payment_method, payment_status, order_status,
	total_amount, shipping_fee, discount_amount, final_amount, coins_paid, promotion,
	gateway_txn_no, tracking_number, return_reason, paid_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                      model.Order
		method, payment, state string
	)
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.Shipping, &method, &payment, &state,
		&o.TotalAmount, &o.ShippingFee, &o.DiscountAmount, &o.FinalAmount, &o.CoinsPaid, &o.Promotion,
		&o.GatewayTxnNo, &o.TrackingNumber, &o.ReturnReason, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.PaymentMethod = model.PaymentMethod(method)
	o.PaymentStatus = model.PaymentStatus(payment)
	o.OrderStatus = model.OrderStatus(state)
	return &o, nil
}

// loadItems заполняет позиции для переданных заказов.
func loadItems(ctx context.Context, q querier, orders []*model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[int64]*model.Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.Query(ctx,
		`SELECT order_id, book_id, title, quantity, unit_price, subtotal
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, book_id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID int64
			it      model.OrderItem
		)
		if err := rows.Scan(&orderID, &it.BookID, &it.Title, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

// CreateOrder в одной транзакции увеличивает счётчик промокода, списывает монеты
// (если передан payment), сохраняет заказ с позициями и убирает купленные книги из корзины.
// При нехватке монет не сохраняется ничего.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order, payment *model.Transaction) error {
	o.Recalculate()

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if o.Promotion != nil {
			tag, err := tx.Exec(ctx,
				`UPDATE promotions SET current_usage = current_usage + 1
				 WHERE code = $1 AND is_active AND (max_usage IS NULL OR current_usage < max_usage)`,
				o.Promotion.Code,
			)
			if err != nil {
				return fmt.Errorf("increment promotion usage: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrPromotionExhausted
			}
		}

		if payment != nil {
			payment.Metadata.OrderNumber = o.Number
			if err := applyTransaction(ctx, tx, payment); err != nil {
				return err
			}
		}

		err := tx.QueryRow(ctx,
			`INSERT INTO orders (number, user_id, shipping, payment_method, payment_status, order_status,
				total_amount, shipping_fee, discount_amount, final_amount, coins_paid, promotion, paid_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 RETURNING id, created_at, updated_at`,
			o.Number, o.UserID, o.Shipping, string(o.PaymentMethod), string(o.PaymentStatus), string(o.OrderStatus),
			o.TotalAmount, o.ShippingFee, o.DiscountAmount, o.FinalAmount, o.CoinsPaid, o.Promotion, o.PaidAt,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, "orders_number_key") {
				return ErrOrderNumberTaken
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for _, it := range o.Items {
			_, err := tx.Exec(ctx,
				`INSERT INTO order_items (order_id, book_id, title, quantity, unit_price, subtotal)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				o.ID, it.BookID, it.Title, it.Quantity, it.UnitPrice, it.Subtotal,
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		_, err = tx.Exec(ctx,
			`DELETE FROM cart_items WHERE user_id = $1 AND book_id = ANY($2)`,
			o.UserID, o.BookIDs(),
		)
		if err != nil {
			return fmt.Errorf("remove cart items: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	recordTransaction(payment)
	return nil
}

// GetOrder возвращает заказ по идентификатору вместе с позициями.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return r.getOrder(ctx, "id", id)
}

// GetOrderByNumber возвращает заказ по номеру вместе с позициями.
func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	return r.getOrder(ctx, "number", number)
}

func (r *PostgresRepository) getOrder(ctx context.Context, column string, key any) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := loadItems(ctx, r.pool, []*model.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrdersByUser возвращает страницу заказов пользователя, новые первыми, и общее число заказов.
func (r *PostgresRepository) ListOrdersByUser(ctx context.Context, userID int64, page model.Page) ([]model.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, page.Size, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var ptrs []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		ptrs = append(ptrs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	if err := loadItems(ctx, r.pool, ptrs); err != nil {
		return nil, 0, err
	}

	orders := make([]model.Order, 0, len(ptrs))
	for _, o := range ptrs {
		orders = append(orders, *o)
	}
	return orders, total, nil
}

// OrderChange перечисляет действия, выполняемые в одной транзакции с сохранением заказа.
type OrderChange struct {
	// Entries проводятся по порядку. Повторный ключ идемпотентности пропускается.
	Entries []*model.Transaction
	// RevokeBundledAccess отключает цифровой доступ, выданный вместе с этим заказом.
	RevokeBundledAccess bool
}

// OrderMutation изменяет заблокированный заказ и при необходимости возвращает действия,
// которые нужно выполнить в той же транзакции. ErrSkipUpdate откатывает транзакцию без изменений.
type OrderMutation func(o *model.Order) (*OrderChange, error)

// UpdateOrder блокирует заказ по идентификатору, применяет fn и сохраняет результат.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, id int64, fn OrderMutation) (*model.Order, error) {
	return r.updateOrder(ctx, "id", id, fn)
}

// UpdateOrderByNumber блокирует заказ по номеру, применяет fn и сохраняет результат.
func (r *PostgresRepository) UpdateOrderByNumber(ctx context.Context, number string, fn OrderMutation) (*model.Order, error) {
	return r.updateOrder(ctx, "number", number, fn)
}

func (r *PostgresRepository) updateOrder(ctx context.Context, column string, key any, fn OrderMutation) (*model.Order, error) {
	var (
		result  *model.Order
		applied []*model.Transaction
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1 FOR UPDATE`, key))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}
		if err := loadItems(ctx, tx, []*model.Order{o}); err != nil {
			return err
		}

		result = o
		applied = nil
		change, err := fn(o)
		if err != nil {
			return err
		}
		o.Recalculate()

		if change != nil {
			for _, entry := range change.Entries {
				// Повторный ключ означает, что деньги по этому событию уже проведены.
				err := applyTransaction(ctx, tx, entry)
				switch {
				case err == nil:
					applied = append(applied, entry)
				case errors.Is(err, ErrDuplicateTransaction), errors.Is(err, errNothingToReverse):
				default:
					return err
				}
			}
			if change.RevokeBundledAccess {
				if err := revokeBundledAccess(ctx, tx, o); err != nil {
					return err
				}
			}
		}

		err = tx.QueryRow(ctx,
			`UPDATE orders
			 SET payment_status = $2, order_status = $3, total_amount = $4, shipping_fee = $5,
			     discount_amount = $6, final_amount = $7, coins_paid = $8, gateway_txn_no = $9,
			     tracking_number = $10, return_reason = $11, paid_at = $12, updated_at = NOW()
			 WHERE id = $1
			 RETURNING updated_at`,
			o.ID, string(o.PaymentStatus), string(o.OrderStatus), o.TotalAmount, o.ShippingFee,
			o.DiscountAmount, o.FinalAmount, o.CoinsPaid, o.GatewayTxnNo,
			o.TrackingNumber, o.ReturnReason, o.PaidAt,
		).Scan(&o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSkipUpdate) {
			return result, err
		}
		return nil, err
	}

	for _, t := range applied {
		recordTransaction(t)
	}
	return result, nil
}

// revokeBundledAccess отключает доступ, выданный нулевыми записями digital_bundle этого заказа.
// Доступ, позже купленный за монеты, ссылается на другую запись и не затрагивается.
func revokeBundledAccess(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	_, err := tx.Exec(ctx,
		`UPDATE digital_access AS da
		 SET is_active = FALSE
		 FROM coin_transactions AS ct
		 WHERE da.transaction_id = ct.id
		   AND da.user_id = $1
		   AND da.is_active
		   AND ct.metadata->>'kind' = $2
		   AND ct.metadata->>'order_number' = $3`,
		o.UserID, string(model.MetaDigitalBundle), o.Number,
	)
	if err != nil {
		return fmt.Errorf("revoke bundled access: %w", err)
	}
	return nil
}
