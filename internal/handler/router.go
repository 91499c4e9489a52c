package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/bookstore-coins/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware книжного магазина.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/payments/vnpay", func(r chi.Router) {
		returnHandler := http.Handler(http.HandlerFunc(h.GatewayReturn))
		callbackHandler := http.Handler(http.HandlerFunc(h.GatewayCallback))
		if h.callbackLimit != nil {
			returnHandler = h.callbackLimit.Middleware(returnHandler)
			// Шлюз разбирает только JSON-подтверждение, поэтому сверх лимита он получает код 99 и повторяет уведомление.
			callbackHandler = h.callbackLimit.Limit(callbackHandler, http.HandlerFunc(h.GatewayCallbackThrottled))
		}
		r.Method(http.MethodGet, "/return", returnHandler)
		r.Method(http.MethodGet, "/ipn", callbackHandler)
		r.Method(http.MethodPost, "/ipn", callbackHandler)
	})

	r.Get("/api/promotions", h.ListPromotions)

	r.Route("/api/user", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders", h.GetOrders)
		r.Get("/orders/{orderID}", h.GetOrder)
		r.Post("/orders/{orderID}/cancel", h.CancelOrder)
		r.Post("/orders/{orderID}/return", h.RequestReturn)

		r.Post("/promotions/preview", h.PreviewPromotion)

		r.Get("/coins/balance", h.GetBalance)
		r.Get("/coins/transactions", h.GetTransactions)
		r.Post("/coins/top-up", h.TopUp)

		r.Get("/library", h.ListLibrary)
		r.Post("/library/{bookID}", h.PurchaseDigital)
		r.Get("/library/{bookID}", h.CheckAccess)
		r.Put("/library/{bookID}/progress", h.UpdateProgress)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireAdmin)

		r.Put("/orders/{orderID}/status", h.UpdateOrderStatus)
		r.Post("/orders/{orderID}/mark-paid", h.MarkOrderPaid)
		r.Post("/orders/{orderID}/return/confirm", h.ConfirmReturn)
		r.Post("/orders/{orderID}/return/reject", h.RejectReturn)
		r.Post("/users/{userID}/bonus", h.GrantBonus)
		r.Post("/users/{userID}/reconcile", h.ReconcileUser)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
