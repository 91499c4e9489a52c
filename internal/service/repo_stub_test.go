package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/mmeshcher/bookstore-coins/internal/ledger"
	"github.com/mmeshcher/bookstore-coins/internal/model"
	"github.com/mmeshcher/bookstore-coins/internal/repository"
)

type accessKey struct {
	userID int64
	bookID int64
}

// stubRepo хранит данные в памяти и повторяет транзакционные контракты PostgresRepository.
type stubRepo struct {
	mu sync.Mutex

	users      map[int64]*model.User
	books      map[int64]*model.Book
	carts      map[int64][]model.CartItem
	promotions map[string]*model.Promotion
	orders     map[int64]*model.Order
	txs        []*model.Transaction
	access     map[accessKey]*model.DigitalAccess

	nextID int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:      map[int64]*model.User{},
		books:      map[int64]*model.Book{},
		carts:      map[int64][]model.CartItem{},
		promotions: map[string]*model.Promotion{},
		orders:     map[int64]*model.Order{},
		access:     map[accessKey]*model.DigitalAccess{},
	}
}

func (r *stubRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	return &c
}

func (r *stubRepo) Close() error { return nil }

func (r *stubRepo) GetUser(ctx context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *stubRepo) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.books[id]
	if !ok {
		return nil, repository.ErrBookNotFound
	}
	c := *b
	return &c, nil
}

func (r *stubRepo) GetBooks(ctx context.Context, ids []int64) ([]model.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Book
	for _, id := range ids {
		if b, ok := r.books[id]; ok {
			res = append(res, *b)
		}
	}
	return res, nil
}

func (r *stubRepo) GetCart(ctx context.Context, userID int64) ([]model.CartItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.CartItem
	for _, it := range r.carts[userID] {
		item := model.CartItem{BookID: it.BookID, Quantity: it.Quantity}
		if b, ok := r.books[it.BookID]; ok && !b.IsDeleted {
			c := *b
			item.Book = &c
		}
		res = append(res, item)
	}
	return res, nil
}

func (r *stubRepo) GetPromotionByCode(ctx context.Context, code string) (*model.Promotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.promotions[code]
	if !ok {
		return nil, repository.ErrPromotionNotFound
	}
	c := *p
	return &c, nil
}

func (r *stubRepo) ListActivePromotions(ctx context.Context, now time.Time) ([]model.Promotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Promotion
	for _, p := range r.promotions {
		if p.IsActive && !now.Before(p.StartDate) && !now.After(p.EndDate) {
			res = append(res, *p)
		}
	}
	return res, nil
}

// applyTx повторяет applyTransaction: ключ идемпотентности, расчёт балансов, запись.
func (r *stubRepo) applyTx(t *model.Transaction, now time.Time) error {
	u, ok := r.users[t.UserID]
	if !ok {
		return repository.ErrUserNotFound
	}

	if t.IdempotencyKey != "" {
		for _, existing := range r.txs {
			if existing.IdempotencyKey == t.IdempotencyKey {
				*t = *existing
				return repository.ErrDuplicateTransaction
			}
		}
	}

	if t.Status == "" {
		t.Status = model.TxCompleted
	}
	if t.Metadata.Reverses != "" {
		original := r.completedByKey(t.UserID, t.Metadata.Reverses)
		if original == nil {
			return errStubNothingToReverse
		}
		t.Amount = max(0, min(original.Amount, u.CoinBalance))
		if t.Amount == 0 {
			return errStubNothingToReverse
		}
	}
	if err := ledger.Stamp(t, u.CoinBalance); err != nil {
		return err
	}
	if t.Status == model.TxCompleted {
		t.CompletedAt = &now
	}
	t.ID = r.id()
	t.CreatedAt = now

	c := *t
	r.txs = append(r.txs, &c)
	u.CoinBalance = t.BalanceAfter
	return nil
}

var errStubNothingToReverse = errors.New("nothing to reverse")

func (r *stubRepo) completedByKey(userID int64, key string) *model.Transaction {
	for _, t := range r.txs {
		if t.UserID == userID && t.IdempotencyKey == key && t.Status == model.TxCompleted {
			return t
		}
	}
	return nil
}

// revokeBundled повторяет revokeBundledAccess: отключает доступ, выданный записями digital_bundle заказа.
func (r *stubRepo) revokeBundled(o *model.Order) {
	for _, a := range r.access {
		if a.UserID != o.UserID || a.TransactionID == nil {
			continue
		}
		for _, t := range r.txs {
			if t.ID == *a.TransactionID && t.Metadata.Kind == model.MetaDigitalBundle && t.Metadata.OrderNumber == o.Number {
				a.IsActive = false
			}
		}
	}
}

func (r *stubRepo) CreateOrder(ctx context.Context, o *model.Order, payment *model.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o.Recalculate()

	var promo *model.Promotion
	if o.Promotion != nil {
		promo = r.promotions[o.Promotion.Code]
		if promo == nil || !promo.IsActive || (promo.MaxUsage != nil && promo.CurrentUsage >= *promo.MaxUsage) {
			return repository.ErrPromotionExhausted
		}
	}
	for _, existing := range r.orders {
		if existing.Number == o.Number {
			return repository.ErrOrderNumberTaken
		}
	}

	now := time.Now()
	if payment != nil {
		payment.Metadata.OrderNumber = o.Number
		if err := r.applyTx(payment, now); err != nil {
			return err
		}
	}
	if promo != nil {
		promo.CurrentUsage++
	}

	o.ID = r.id()
	o.CreatedAt = now
	o.UpdatedAt = now
	r.orders[o.ID] = cloneOrder(o)

	bought := o.BookIDs()
	r.carts[o.UserID] = slices.DeleteFunc(r.carts[o.UserID], func(it model.CartItem) bool {
		return slices.Contains(bought, it.BookID)
	})
	return nil
}

func (r *stubRepo) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *stubRepo) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o := r.findByNumber(number)
	if o == nil {
		return nil, repository.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *stubRepo) findByNumber(number string) *model.Order {
	for _, o := range r.orders {
		if o.Number == number {
			return o
		}
	}
	return nil
}

func (r *stubRepo) ListOrdersByUser(ctx context.Context, userID int64, page model.Page) ([]model.Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []model.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			all = append(all, *cloneOrder(o))
		}
	}
	slices.SortFunc(all, func(a, b model.Order) int { return int(b.ID - a.ID) })

	from := min(page.Offset(), len(all))
	to := min(from+page.Size, len(all))
	return all[from:to], len(all), nil
}

func (r *stubRepo) UpdateOrder(ctx context.Context, id int64, fn repository.OrderMutation) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return r.update(o, fn)
}

func (r *stubRepo) UpdateOrderByNumber(ctx context.Context, number string, fn repository.OrderMutation) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o := r.findByNumber(number)
	if o == nil {
		return nil, repository.ErrOrderNotFound
	}
	return r.update(o, fn)
}

func (r *stubRepo) update(stored *model.Order, fn repository.OrderMutation) (*model.Order, error) {
	o := cloneOrder(stored)
	change, err := fn(o)
	if err != nil {
		if errors.Is(err, repository.ErrSkipUpdate) {
			return cloneOrder(stored), err
		}
		return nil, err
	}
	o.Recalculate()

	if change != nil {
		for _, t := range change.Entries {
			err := r.applyTx(t, time.Now())
			if err != nil && !errors.Is(err, repository.ErrDuplicateTransaction) && !errors.Is(err, errStubNothingToReverse) {
				return nil, err
			}
		}
		if change.RevokeBundledAccess {
			r.revokeBundled(o)
		}
	}
	o.UpdatedAt = time.Now()
	r.orders[o.ID] = cloneOrder(o)
	return o, nil
}

func (r *stubRepo) CreateTransaction(ctx context.Context, t *model.Transaction) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.applyTx(t, time.Now()); err != nil {
		if errors.Is(err, repository.ErrDuplicateTransaction) {
			return t, err
		}
		return nil, err
	}
	return t, nil
}

func (r *stubRepo) settle(ref string, status model.TransactionStatus, fields map[string]string) (*model.Transaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.txs {
		if t.GatewayRef != ref {
			continue
		}
		if t.Status != model.TxPending {
			c := *t
			return &c, false, nil
		}

		u := r.users[t.UserID]
		t.Status = status
		if err := ledger.Stamp(t, u.CoinBalance); err != nil {
			return nil, false, err
		}
		if status == model.TxCompleted {
			now := time.Now()
			t.CompletedAt = &now
		}
		t.Metadata.Gateway = fields
		u.CoinBalance = t.BalanceAfter

		c := *t
		return &c, true, nil
	}
	return nil, false, repository.ErrTransactionNotFound
}

func (r *stubRepo) CompletePendingTransaction(ctx context.Context, ref string, fields map[string]string) (*model.Transaction, bool, error) {
	return r.settle(ref, model.TxCompleted, fields)
}

func (r *stubRepo) FailPendingTransaction(ctx context.Context, ref string, fields map[string]string) (*model.Transaction, bool, error) {
	return r.settle(ref, model.TxFailed, fields)
}

func (r *stubRepo) GetTransactionByGatewayRef(ctx context.Context, ref string) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.txs {
		if t.GatewayRef == ref {
			c := *t
			return &c, nil
		}
	}
	return nil, repository.ErrTransactionNotFound
}

func (r *stubRepo) ListTransactions(ctx context.Context, userID int64, f model.TransactionFilter) ([]model.Transaction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Transaction
	for _, t := range r.txs {
		if t.UserID == userID && (f.Type == "" || t.Type == f.Type) {
			res = append(res, *t)
		}
	}
	return res, len(res), nil
}

func (r *stubRepo) ListCompletedTransactions(ctx context.Context, userID int64) ([]model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Transaction
	for _, t := range r.txs {
		if t.UserID == userID && t.Status == model.TxCompleted {
			res = append(res, *t)
		}
	}
	slices.SortStableFunc(res, func(a, b model.Transaction) int {
		return a.CompletedAt.Compare(*b.CompletedAt)
	})
	return res, nil
}

func (r *stubRepo) GrantAccess(ctx context.Context, a *model.DigitalAccess, payment *model.Transaction, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := accessKey{a.UserID, a.BookID}
	existing := r.access[key]
	if existing != nil && existing.ValidAt(now) {
		return repository.ErrAlreadyHasAccess
	}

	a.TransactionID = nil
	if payment != nil {
		bookID := a.BookID
		payment.BookID = &bookID
		if err := r.applyTx(payment, now); err != nil {
			if errors.Is(err, repository.ErrDuplicateTransaction) {
				return repository.ErrAlreadyHasAccess
			}
			return err
		}
		txID := payment.ID
		a.TransactionID = &txID
	}

	a.IsActive = true
	a.GrantedAt = now
	if existing != nil {
		a.ID = existing.ID
		a.Progress = existing.Progress
	} else {
		a.ID = r.id()
	}
	c := *a
	r.access[key] = &c
	return nil
}

func (r *stubRepo) GetAccess(ctx context.Context, userID, bookID int64) (*model.DigitalAccess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.access[accessKey{userID, bookID}]
	if !ok {
		return nil, repository.ErrAccessNotFound
	}
	c := *a
	return &c, nil
}

func (r *stubRepo) DeactivateAccess(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.access {
		if a.ID == id {
			a.IsActive = false
		}
	}
	return nil
}

func (r *stubRepo) ListAccessByUser(ctx context.Context, userID int64) ([]model.DigitalAccess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.DigitalAccess
	for _, a := range r.access {
		if a.UserID == userID {
			res = append(res, *a)
		}
	}
	return res, nil
}

func (r *stubRepo) UpdateReadingProgress(ctx context.Context, id int64, progress model.ReadingProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.access {
		if a.ID == id {
			a.Progress = progress
			return nil
		}
	}
	return repository.ErrAccessNotFound
}

// balance возвращает текущий баланс пользователя без блокировок теста.
func (r *stubRepo) balance(userID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[userID].CoinBalance
}

func (r *stubRepo) entries(userID int64, typ model.TransactionType) []model.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Transaction
	for _, t := range r.txs {
		if t.UserID == userID && t.Type == typ {
			res = append(res, *t)
		}
	}
	return res
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, note model.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, note)
}

func (n *recordingNotifier) has(event model.NotificationEvent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.Event == event {
			return true
		}
	}
	return false
}
