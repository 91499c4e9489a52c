package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

// signToken выпускает токен так же, как служба учётных записей.
func signToken(secret string, userID int64, role model.Role, issuedAt time.Time) (string, error) {
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(24 * time.Hour)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func TestAuthMiddleware_WithValidToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token, err := signToken("test-secret", 42, model.RoleCustomer, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetUserIDFromContext(r.Context())
		if !ok {
			t.Fatalf("user id not in context")
		}
		if id != 42 {
			t.Fatalf("user id from context = %d, want 42", id)
		}
		if role, _ := GetRoleFromContext(r.Context()); role != model.RoleCustomer {
			t.Fatalf("role = %q, want customer", role)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_TokenFromCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	token, err := signToken("test-secret", 7, model.RoleAdmin, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { nextCalled = true })

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(&http.Cookie{Name: authCookieName, Value: token})

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	foreign, err := signToken("other-secret", 42, model.RoleCustomer, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	expired, err := signToken("test-secret", 42, model.RoleCustomer, time.Now().Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 42, Role: model.RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{name: "no token", header: ""},
		{name: "garbage", header: "Bearer abc.def.ghi"},
		{name: "foreign key", header: "Bearer " + foreign},
		{name: "expired", header: "Bearer " + expired},
		{name: "unsigned", header: "Bearer " + unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			m.Middleware(next).ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RequireAdmin(next)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/admin", nil)
	r = r.WithContext(WithUser(r.Context(), 1, model.RoleCustomer))
	h.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("customer status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/admin", nil)
	r = r.WithContext(WithUser(r.Context(), 2, model.RoleAdmin))
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("admin status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
