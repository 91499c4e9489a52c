package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/middleware"
	"github.com/mmeshcher/bookstore-coins/internal/model"
)

type orderStatusRequest struct {
	Status         model.OrderStatus `json:"status"`
	TrackingNumber string            `json:"tracking_number"`
}

func adminAndOrder(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	adminID, ok := currentUser(w, r)
	if !ok {
		return 0, 0, false
	}
	orderID, ok := idParam(r, "orderID")
	if !ok {
		badRequest(w)
		return 0, 0, false
	}
	return adminID, orderID, true
}

// UpdateOrderStatus переводит заказ в новый статус выполнения.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	adminID, orderID, ok := adminAndOrder(w, r)
	if !ok {
		return
	}

	var req orderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	o, err := h.service.UpdateOrderStatus(r.Context(), adminID, orderID, req.Status, req.TrackingNumber)
	if err != nil {
		h.writeError(w, "update order status error", err, zap.Int64("orderID", orderID))
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// MarkOrderPaid вручную отмечает заказ оплаченным.
func (h *Handler) MarkOrderPaid(w http.ResponseWriter, r *http.Request) {
	adminID, orderID, ok := adminAndOrder(w, r)
	if !ok {
		return
	}

	o, err := h.service.MarkOrderPaid(r.Context(), adminID, orderID)
	if err != nil {
		h.writeError(w, "mark order paid error", err, zap.Int64("orderID", orderID))
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// ConfirmReturn подтверждает возврат и возмещает стоимость монетами.
func (h *Handler) ConfirmReturn(w http.ResponseWriter, r *http.Request) {
	adminID, orderID, ok := adminAndOrder(w, r)
	if !ok {
		return
	}

	o, err := h.service.ConfirmReturn(r.Context(), adminID, orderID)
	if err != nil {
		h.writeError(w, "confirm return error", err, zap.Int64("orderID", orderID))
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// RejectReturn отклоняет заявку на возврат.
func (h *Handler) RejectReturn(w http.ResponseWriter, r *http.Request) {
	adminID, orderID, ok := adminAndOrder(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	o, err := h.service.RejectReturn(r.Context(), adminID, orderID, req.Reason)
	if err != nil {
		h.writeError(w, "reject return error", err, zap.Int64("orderID", orderID))
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type bonusRequest struct {
	Coins  int64  `json:"coins"`
	Reason string `json:"reason"`
}

// GrantBonus начисляет пользователю бонусные монеты.
func (h *Handler) GrantBonus(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	userID, ok := idParam(r, "userID")
	if !ok {
		badRequest(w)
		return
	}

	var req bonusRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	tx, err := h.service.GrantBonus(r.Context(), adminID, userID, req.Coins, req.Reason)
	if err != nil {
		h.writeError(w, "grant bonus error", err, zap.Int64("userID", userID))
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(tx))
}

// ReconcileUser сверяет баланс пользователя с журналом монет.
func (h *Handler) ReconcileUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(r, "userID")
	if !ok {
		badRequest(w)
		return
	}

	if err := h.service.ReconcileUser(r.Context(), userID); err != nil {
		h.writeError(w, "reconcile user error", err, zap.Int64("userID", userID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
