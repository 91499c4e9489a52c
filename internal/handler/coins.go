package handler

import (
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/model"
	"github.com/mmeshcher/bookstore-coins/internal/service"
)

type balanceResponse struct {
	Coins int64 `json:"coins"`
}

// GetBalance возвращает баланс монет текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get balance error", err, zap.Int64("userID", userID))
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Coins: balance})
}

type transactionResponse struct {
	ID            int64                     `json:"id"`
	Type          model.TransactionType     `json:"type"`
	Amount        int64                     `json:"amount"`
	MoneyAmount   *int64                    `json:"money_amount,omitempty"`
	BalanceBefore int64                     `json:"balance_before"`
	BalanceAfter  int64                     `json:"balance_after"`
	Status        model.TransactionStatus   `json:"status"`
	Description   string                    `json:"description,omitempty"`
	Metadata      model.TransactionMetadata `json:"metadata"`
	CreatedAt     string                    `json:"created_at"`
	CompletedAt   *string                   `json:"completed_at,omitempty"`
}

func toTransactionResponse(tx *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:            tx.ID,
		Type:          tx.Type,
		Amount:        tx.Amount,
		MoneyAmount:   tx.MoneyAmount,
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
		Status:        tx.Status,
		Description:   tx.Description,
		Metadata:      tx.Metadata,
		CreatedAt:     tx.CreatedAt.Format(time.RFC3339),
		CompletedAt:   formatTime(tx.CompletedAt),
	}
}

type transactionListResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Total        int                   `json:"total"`
}

func transactionFilter(q url.Values) (model.TransactionFilter, error) {
	f := model.TransactionFilter{
		Type: model.TransactionType(q.Get("type")),
		Page: pageFromQuery(q),
	}
	for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errBadQuery
		}
		*dst = &t
	}
	return f, nil
}

// GetTransactions возвращает историю операций с монетами текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	f, err := transactionFilter(r.URL.Query())
	if err != nil {
		badRequest(w)
		return
	}

	txs, total, err := h.service.ListTransactions(r.Context(), userID, f)
	if err != nil {
		h.writeError(w, "get transactions error", err, zap.Int64("userID", userID))
		return
	}

	resp := transactionListResponse{Transactions: make([]transactionResponse, 0, len(txs)), Total: total}
	for i := range txs {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(&txs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type topUpRequest struct {
	Coins  int64               `json:"coins"`
	Method model.PaymentMethod `json:"method"`
}

type topUpResponse struct {
	Transaction transactionResponse `json:"transaction"`
	PaymentURL  string              `json:"payment_url,omitempty"`
}

// TopUp пополняет баланс монет текущего пользователя.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req topUpRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	res, err := h.service.TopUp(r.Context(), service.TopUpInput{
		UserID:   userID,
		Coins:    req.Coins,
		Method:   req.Method,
		ClientIP: clientIP(r),
	})
	if err != nil {
		h.writeError(w, "top up error", err, zap.Int64("userID", userID))
		return
	}

	status := http.StatusOK
	if res.PaymentURL != "" {
		status = http.StatusAccepted
	}
	writeJSON(w, status, topUpResponse{
		Transaction: toTransactionResponse(res.Transaction),
		PaymentURL:  res.PaymentURL,
	})
}
