// Package middleware содержит HTTP middleware книжного магазина.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	roleKey   contextKey = "role"
)

const (
	authCookieName = "auth_token"
	bearerPrefix   = "Bearer "
)

// Claims описывает содержимое токена доступа.
type Claims struct {
	UserID int64      `json:"user_id"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет токен доступа, выданный службой учётных записей.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт AuthMiddleware с ключом подписи HS256.
// Токены выпускает служба учётных записей тем же ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secretKey: []byte(secret)}
}

// Middleware проверяет токен и добавляет пользователя и его роль в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.parse(extractToken(r))
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		ctx = context.WithValue(ctx, roleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает только запросы администратора. Ставится после Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role, _ := GetRoleFromContext(r.Context()); role != model.RoleAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AuthMiddleware) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, errors.New("missing token")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.UserID <= 0 {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimPrefix(h, bearerPrefix)
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// GetRoleFromContext извлекает роль пользователя из контекста запроса.
func GetRoleFromContext(ctx context.Context) (model.Role, bool) {
	role, ok := ctx.Value(roleKey).(model.Role)
	return role, ok
}

// WithUser добавляет пользователя в контекст. Используется в тестах обработчиков.
func WithUser(ctx context.Context, userID int64, role model.Role) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, roleKey, role)
}
