package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

type accessResponse struct {
	BookID         int64                 `json:"book_id"`
	PurchaseMethod model.PurchaseMethod  `json:"purchase_method"`
	AccessType     model.AccessType      `json:"access_type"`
	CoinsPaid      int64                 `json:"coins_paid"`
	ExpiresAt      *string               `json:"expires_at,omitempty"`
	IsActive       bool                  `json:"is_active"`
	Progress       model.ReadingProgress `json:"progress"`
	GrantedAt      string                `json:"granted_at"`
}

func toAccessResponse(a *model.DigitalAccess) accessResponse {
	return accessResponse{
		BookID:         a.BookID,
		PurchaseMethod: a.PurchaseMethod,
		AccessType:     a.AccessType,
		CoinsPaid:      a.CoinsPaid,
		ExpiresAt:      formatTime(a.ExpiresAt),
		IsActive:       a.IsActive,
		Progress:       a.Progress,
		GrantedAt:      a.GrantedAt.Format(time.RFC3339),
	}
}

type purchaseDigitalRequest struct {
	AccessType   model.AccessType `json:"access_type"`
	DurationDays int              `json:"duration_days"`
}

// PurchaseDigital покупает за монеты доступ к цифровой версии книги.
func (h *Handler) PurchaseDigital(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	bookID, ok := idParam(r, "bookID")
	if !ok {
		badRequest(w)
		return
	}

	var req purchaseDigitalRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	a, err := h.service.PurchaseDigital(r.Context(), userID, bookID, req.AccessType, req.DurationDays)
	if err != nil {
		h.writeError(w, "purchase digital error", err, zap.Int64("userID", userID), zap.Int64("bookID", bookID))
		return
	}
	writeJSON(w, http.StatusCreated, toAccessResponse(a))
}

// CheckAccess возвращает действующий доступ к книге.
func (h *Handler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	bookID, ok := idParam(r, "bookID")
	if !ok {
		badRequest(w)
		return
	}

	a, err := h.service.CheckAccess(r.Context(), userID, bookID)
	if err != nil {
		h.writeError(w, "check access error", err, zap.Int64("userID", userID), zap.Int64("bookID", bookID))
		return
	}
	writeJSON(w, http.StatusOK, toAccessResponse(a))
}

type progressRequest struct {
	LastChapter int   `json:"last_chapter"`
	Bookmarks   []int `json:"bookmarks"`
}

// UpdateProgress сохраняет прогресс чтения книги.
func (h *Handler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	bookID, ok := idParam(r, "bookID")
	if !ok {
		badRequest(w)
		return
	}

	var req progressRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	a, err := h.service.UpdateReadingProgress(r.Context(), userID, bookID, req.LastChapter, req.Bookmarks)
	if err != nil {
		h.writeError(w, "update progress error", err, zap.Int64("userID", userID), zap.Int64("bookID", bookID))
		return
	}
	writeJSON(w, http.StatusOK, toAccessResponse(a))
}

// ListLibrary возвращает все цифровые доступы текущего пользователя.
func (h *Handler) ListLibrary(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListAccess(r.Context(), userID)
	if err != nil {
		h.writeError(w, "list library error", err, zap.Int64("userID", userID))
		return
	}

	resp := make([]accessResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toAccessResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}
