package middleware

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkout struct {
	PaymentMethod string `json:"payment_method"`
	PromotionCode string `json:"promotion_code"`
}

type placedOrder struct {
	Number        string `json:"number"`
	PaymentMethod string `json:"payment_method"`
	PromotionCode string `json:"promotion_code"`
}

// placeOrder разбирает тело оформления заказа и отвечает созданным заказом.
func placeOrder(w http.ResponseWriter, r *http.Request) {
	var in checkout
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(placedOrder{
		Number:        "BK260115000001",
		PaymentMethod: in.PaymentMethod,
		PromotionCode: in.PromotionCode,
	})
}

func gzipped(t *testing.T, payload []byte) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return &buf
}

// readBody возвращает тело ответа, распаковывая его при Content-Encoding: gzip.
func readBody(t *testing.T, res *http.Response) []byte {
	t.Helper()

	var r io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(res.Body)
		require.NoError(t, err)
		defer zr.Close()
		r = zr
	}
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return body
}

func TestGzipMiddleware_CompressedCheckout(t *testing.T) {
	payload, err := json.Marshal(checkout{PaymentMethod: "coin", PromotionCode: "SPRING10"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/user/orders", gzipped(t, payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()

	GzipMiddleware(http.HandlerFunc(placeOrder)).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "gzip", res.Header.Get("Content-Encoding"))

	var got placedOrder
	require.NoError(t, json.Unmarshal(readBody(t, res), &got))
	assert.Equal(t, placedOrder{Number: "BK260115000001", PaymentMethod: "coin", PromotionCode: "SPRING10"}, got)
}

func TestGzipMiddleware_CorruptBodyRejected(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/user/orders", bytes.NewBufferString(`{"payment_method":"coin"}`))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()

	GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not see an undecodable body")
	})).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGzipMiddleware_Responses(t *testing.T) {
	ack := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"RspCode":"00","Message":"Confirm Success"}`))
	})
	cover := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n"))
	})
	reconciled := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name           string
		handler        http.Handler
		acceptEncoding string
		wantStatus     int
		wantEncoding   string
		wantBody       string
	}{
		{
			name:           "gateway acknowledgement compressed",
			handler:        ack,
			acceptEncoding: "gzip, deflate",
			wantStatus:     http.StatusOK,
			wantEncoding:   "gzip",
			wantBody:       `{"RspCode":"00","Message":"Confirm Success"}`,
		},
		{
			name:         "gateway acknowledgement without gzip support",
			handler:      ack,
			wantStatus:   http.StatusOK,
			wantEncoding: "",
			wantBody:     `{"RspCode":"00","Message":"Confirm Success"}`,
		},
		{
			name:           "cover image passed through",
			handler:        cover,
			acceptEncoding: "gzip",
			wantStatus:     http.StatusOK,
			wantEncoding:   "",
			wantBody:       "\x89PNG\r\n\x1a\n",
		},
		{
			name:           "no content stays empty",
			handler:        reconciled,
			acceptEncoding: "gzip",
			wantStatus:     http.StatusNoContent,
			wantEncoding:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/payments/vnpay/ipn", nil)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			w := httptest.NewRecorder()

			GzipMiddleware(tt.handler).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()
			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, tt.wantEncoding, res.Header.Get("Content-Encoding"))
			assert.Equal(t, tt.wantBody, string(readBody(t, res)))
		})
	}
}
