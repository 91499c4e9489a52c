package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/model"
	"github.com/mmeshcher/bookstore-coins/internal/service"
)

type createOrderRequest struct {
	Shipping      model.ShippingInfo  `json:"shipping"`
	PaymentMethod model.PaymentMethod `json:"payment_method"`
	PromotionCode string              `json:"promotion_code"`
	BookIDs       []int64             `json:"book_ids"`
}

type orderResponse struct {
	ID             int64                   `json:"id"`
	Number         string                  `json:"number"`
	Items          []model.OrderItem       `json:"items"`
	Shipping       model.ShippingInfo      `json:"shipping"`
	PaymentMethod  model.PaymentMethod     `json:"payment_method"`
	PaymentStatus  model.PaymentStatus     `json:"payment_status"`
	OrderStatus    model.OrderStatus       `json:"order_status"`
	TotalAmount    int64                   `json:"total_amount"`
	ShippingFee    int64                   `json:"shipping_fee"`
	DiscountAmount int64                   `json:"discount_amount"`
	FinalAmount    int64                   `json:"final_amount"`
	CoinsPaid      int64                   `json:"coins_paid"`
	Promotion      *model.AppliedPromotion `json:"promotion,omitempty"`
	TrackingNumber string                  `json:"tracking_number,omitempty"`
	ReturnReason   string                  `json:"return_reason,omitempty"`
	PaidAt         *string                 `json:"paid_at,omitempty"`
	CreatedAt      string                  `json:"created_at"`
	PaymentURL     string                  `json:"payment_url,omitempty"`
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:             o.ID,
		Number:         o.Number,
		Items:          o.Items,
		Shipping:       o.Shipping,
		PaymentMethod:  o.PaymentMethod,
		PaymentStatus:  o.PaymentStatus,
		OrderStatus:    o.OrderStatus,
		TotalAmount:    o.TotalAmount,
		ShippingFee:    o.ShippingFee,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		CoinsPaid:      o.CoinsPaid,
		Promotion:      o.Promotion,
		TrackingNumber: o.TrackingNumber,
		ReturnReason:   o.ReturnReason,
		PaidAt:         formatTime(o.PaidAt),
		CreatedAt:      o.CreatedAt.Format(time.RFC3339),
	}
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
}

// CreateOrder оформляет заказ из корзины текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	res, err := h.service.CreateOrder(r.Context(), service.CreateOrderInput{
		UserID:          userID,
		Shipping:        req.Shipping,
		PaymentMethod:   req.PaymentMethod,
		PromotionCode:   req.PromotionCode,
		SelectedBookIDs: req.BookIDs,
		ClientIP:        clientIP(r),
	})
	if err != nil {
		h.writeError(w, "create order error", err, zap.Int64("userID", userID))
		return
	}

	resp := toOrderResponse(res.Order)
	resp.PaymentURL = res.PaymentURL
	writeJSON(w, http.StatusCreated, resp)
}

// GetOrders возвращает страницу заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	orders, total, err := h.service.ListOrders(r.Context(), userID, pageFromQuery(r.URL.Query()))
	if err != nil {
		h.writeError(w, "get orders error", err, zap.Int64("userID", userID))
		return
	}

	resp := orderListResponse{Orders: make([]orderResponse, 0, len(orders)), Total: total}
	for i := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrder возвращает заказ текущего пользователя.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	orderID, ok := idParam(r, "orderID")
	if !ok {
		badRequest(w)
		return
	}

	o, err := h.service.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		h.writeError(w, "get order error", err, zap.Int64("orderID", orderID))
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// CancelOrder отменяет заказ текущего пользователя.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	orderID, ok := idParam(r, "orderID")
	if !ok {
		badRequest(w)
		return
	}

	o, err := h.service.CancelOrder(r.Context(), userID, orderID)
	if err != nil {
		h.writeError(w, "cancel order error", err, zap.Int64("orderID", orderID))
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// RequestReturn создаёт заявку на возврат доставленного заказа.
func (h *Handler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	orderID, ok := idParam(r, "orderID")
	if !ok {
		badRequest(w)
		return
	}

	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	o, err := h.service.RequestReturn(r.Context(), userID, orderID, req.Reason)
	if err != nil {
		h.writeError(w, "request return error", err, zap.Int64("orderID", orderID))
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type promotionPreviewRequest struct {
	Code    string  `json:"code"`
	BookIDs []int64 `json:"book_ids"`
}

type promotionPreviewResponse struct {
	Code           string             `json:"code"`
	Type           model.DiscountType `json:"type"`
	Value          string             `json:"value"`
	DiscountAmount int64              `json:"discount_amount"`
}

// PreviewPromotion рассчитывает скидку по промокоду для текущей корзины.
func (h *Handler) PreviewPromotion(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req promotionPreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	res, err := h.service.PreviewPromotion(r.Context(), userID, req.Code, req.BookIDs)
	if err != nil {
		h.writeError(w, "preview promotion error", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, promotionPreviewResponse{
		Code:           res.Promotion.Code,
		Type:           res.Promotion.Type,
		Value:          res.Promotion.Value.String(),
		DiscountAmount: res.DiscountAmount,
	})
}

type promotionResponse struct {
	Code            string             `json:"code"`
	Description     string             `json:"description"`
	Type            model.DiscountType `json:"type"`
	Value           string             `json:"value"`
	MinimumPurchase int64              `json:"minimum_purchase"`
	EndDate         string             `json:"end_date"`
}

// ListPromotions возвращает действующие промокоды.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	promos, err := h.service.ListActivePromotions(r.Context())
	if err != nil {
		h.writeError(w, "list promotions error", err)
		return
	}

	resp := make([]promotionResponse, 0, len(promos))
	for _, p := range promos {
		resp = append(resp, promotionResponse{
			Code:            p.Code,
			Description:     p.Description,
			Type:            p.Type,
			Value:           p.Value.String(),
			MinimumPurchase: p.MinimumPurchase,
			EndDate:         p.EndDate.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
