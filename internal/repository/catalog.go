package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, login, full_name, phone, address, city, coin_balance, is_active, role, created_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Login, &u.FullName, &u.Phone, &u.Address, &u.City, &u.CoinBalance, &u.IsActive, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

const bookColumns = `id, title, author, category_id, price, has_digital, coin_price, rental_coin_price, is_deleted`

func scanBook(row pgx.Row) (*model.Book, error) {
	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.CategoryID, &b.Price, &b.HasDigital, &b.CoinPrice, &b.RentalCoinPrice, &b.IsDeleted)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBook возвращает книгу по идентификатору, включая помеченные удалёнными.
func (r *PostgresRepository) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	b, err := scanBook(r.pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

// GetBooks возвращает книги по списку идентификаторов.
func (r *PostgresRepository) GetBooks(ctx context.Context, ids []int64) ([]model.Book, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	defer rows.Close()

	var res []model.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		res = append(res, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetCart возвращает корзину пользователя. Для удалённых книг Book равен nil.
func (r *PostgresRepository) GetCart(ctx context.Context, userID int64) ([]model.CartItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.book_id, c.quantity,
		        b.id, b.title, b.author, b.category_id, b.price, b.has_digital, b.coin_price, b.rental_coin_price, b.is_deleted
		 FROM cart_items c
		 LEFT JOIN books b ON b.id = c.book_id
		 WHERE c.user_id = $1
		 ORDER BY c.added_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart: %w", err)
	}
	defer rows.Close()

	var items []model.CartItem
	for rows.Next() {
		var (
			item                 model.CartItem
			b                    model.Book
			id, price, coinPrice *int64
			rental               *int64
			title, author        *string
			hasDigital, deleted  *bool
		)
		if err := rows.Scan(&item.BookID, &item.Quantity,
			&id, &title, &author, &b.CategoryID, &price, &hasDigital, &coinPrice, &rental, &deleted); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}

		if id != nil && deleted != nil && !*deleted {
			b.ID = *id
			b.Title = *title
			b.Author = *author
			b.Price = *price
			b.HasDigital = *hasDigital
			b.CoinPrice = *coinPrice
			b.RentalCoinPrice = *rental
			item.Book = &b
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}
