// Package handler содержит HTTP-обработчики API книжного магазина.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/gateway"
	"github.com/mmeshcher/bookstore-coins/internal/middleware"
	"github.com/mmeshcher/bookstore-coins/internal/model"
	"github.com/mmeshcher/bookstore-coins/internal/promotion"
	"github.com/mmeshcher/bookstore-coins/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*service.CreateOrderResult, error)
	ListOrders(ctx context.Context, userID int64, page model.Page) ([]model.Order, int, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*model.Order, error)
	CancelOrder(ctx context.Context, userID, orderID int64) (*model.Order, error)
	RequestReturn(ctx context.Context, userID, orderID int64, reason string) (*model.Order, error)

	PreviewPromotion(ctx context.Context, userID int64, code string, selected []int64) (*promotion.Result, error)
	ListActivePromotions(ctx context.Context) ([]model.Promotion, error)

	GetBalance(ctx context.Context, userID int64) (int64, error)
	ListTransactions(ctx context.Context, userID int64, f model.TransactionFilter) ([]model.Transaction, int, error)
	TopUp(ctx context.Context, in service.TopUpInput) (*service.TopUpResult, error)

	PurchaseDigital(ctx context.Context, userID, bookID int64, accessType model.AccessType, days int) (*model.DigitalAccess, error)
	CheckAccess(ctx context.Context, userID, bookID int64) (*model.DigitalAccess, error)
	UpdateReadingProgress(ctx context.Context, userID, bookID int64, chapter int, bookmarks []int) (*model.DigitalAccess, error)
	ListAccess(ctx context.Context, userID int64) ([]model.DigitalAccess, error)

	HandleGatewayReturn(ctx context.Context, params url.Values) (*service.PaymentResult, error)
	HandleGatewayCallback(ctx context.Context, params url.Values) gateway.Ack

	UpdateOrderStatus(ctx context.Context, adminID, orderID int64, status model.OrderStatus, tracking string) (*model.Order, error)
	MarkOrderPaid(ctx context.Context, adminID, orderID int64) (*model.Order, error)
	ConfirmReturn(ctx context.Context, adminID, orderID int64) (*model.Order, error)
	RejectReturn(ctx context.Context, adminID, orderID int64, reason string) (*model.Order, error)
	GrantBonus(ctx context.Context, adminID, userID, coins int64, reason string) (*model.Transaction, error)
	ReconcileUser(ctx context.Context, userID int64) error
}

// Handler реализует HTTP-обработчики API книжного магазина.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	callbackLimit  *middleware.RateLimiter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// limiter ограничивает частоту обращений к точкам входа шлюза и может быть nil.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, limiter *middleware.RateLimiter) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		callbackLimit:  limiter,
	}
}

var kindStatus = map[service.Kind]int{
	service.KindValidation:          http.StatusBadRequest,
	service.KindStateConflict:       http.StatusConflict,
	service.KindInsufficientBalance: http.StatusPaymentRequired,
	service.KindNotFound:            http.StatusNotFound,
	service.KindForbidden:           http.StatusForbidden,
	service.KindInvalidSignature:    http.StatusBadRequest,
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError отвечает кодом, соответствующим классу ошибки. Внутренние ошибки журналируются и не раскрываются.
func (h *Handler) writeError(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	kind := service.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func badRequest(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
}

func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return userID, ok
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func pageFromQuery(q url.Values) model.Page {
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return model.Page{Number: number, Size: size}
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

var errBadQuery = errors.New("bad query")

// Health отвечает на проверку готовности.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
