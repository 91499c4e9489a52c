package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/gateway"
	"github.com/mmeshcher/bookstore-coins/internal/service"
)

type paymentResultResponse struct {
	TxnRef       string               `json:"txn_ref"`
	Outcome      service.Outcome      `json:"outcome"`
	ResponseCode string               `json:"response_code"`
	Message      string               `json:"message"`
	Order        *orderResponse       `json:"order,omitempty"`
	TopUp        *transactionResponse `json:"top_up,omitempty"`
}

// GatewayReturn обрабатывает возврат покупателя со страницы оплаты.
func (h *Handler) GatewayReturn(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.HandleGatewayReturn(r.Context(), r.URL.Query())
	if err != nil {
		h.writeError(w, "gateway return error", err, zap.String("txnRef", r.URL.Query().Get("vnp_TxnRef")))
		return
	}

	resp := paymentResultResponse{
		TxnRef:       res.TxnRef,
		Outcome:      res.Outcome,
		ResponseCode: res.ResponseCode,
		Message:      res.Message,
	}
	if res.Order != nil {
		o := toOrderResponse(res.Order)
		resp.Order = &o
	}
	if res.TopUp != nil {
		tx := toTransactionResponse(res.TopUp)
		resp.TopUp = &tx
	}
	writeJSON(w, http.StatusOK, resp)
}

// GatewayCallback обрабатывает серверное уведомление шлюза. Шлюз ожидает ответ 200 с кодом подтверждения.
func (h *Handler) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			params = r.Form
		}
	}
	writeJSON(w, http.StatusOK, h.service.HandleGatewayCallback(r.Context(), params))
}

// GatewayCallbackThrottled отвечает шлюзу на уведомление сверх лимита частоты.
func (h *Handler) GatewayCallbackThrottled(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("gateway callback throttled",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("txnRef", r.URL.Query().Get("vnp_TxnRef")),
	)
	writeJSON(w, http.StatusOK, gateway.Ack{RspCode: gateway.AckUnknownError, Message: "Too many requests"})
}
