package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	visitorTTL    = 3 * time.Minute
	sweepInterval = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter ограничивает частоту запросов с одного IP-адреса.
// Применяется к публичным точкам входа шлюза, не требующим аутентификации.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter создаёт ограничитель на rps запросов в секунду с запасом burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		visitors:  make(map[string]*visitor),
		limit:     rate.Limit(rps),
		burst:     burst,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > sweepInterval {
		for key, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(rl.visitors, key)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Middleware отклоняет запросы сверх лимита с кодом 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return rl.Limit(next, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retryAfter := 1
		if rl.limit > 0 {
			retryAfter = int(1/float64(rl.limit)) + 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	}))
}

// Limit передаёт запросы сверх лимита обработчику rejected вместо next.
// Нужен там, где клиент ожидает ответ в собственном формате.
func (rl *RateLimiter) Limit(next, rejected http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if !rl.limiterFor(ip).Allow() {
			rejected.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
