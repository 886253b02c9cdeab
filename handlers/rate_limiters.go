package handlers

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"messenger-console/config"
	apperrors "messenger-console/pkg/errors"
)

type RateLimiter struct {
	MessageLimit *IPRateLimiter
	ViewLimit    *IPRateLimiter
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		MessageLimit: NewIPRateLimiter(cfg.MessageRPS, cfg.Burst),
		ViewLimit:    NewIPRateLimiter(cfg.ViewRPS, cfg.Burst),
	}
}

// IPRateLimiter keeps one token bucket per client address.
type IPRateLimiter struct {
	mu    sync.Mutex
	ips   map[string]*rate.Limiter
	rps   float64
	burst int
}

func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &IPRateLimiter{
		ips:   make(map[string]*rate.Limiter),
		rps:   rps,
		burst: burst,
	}
}

func (l *IPRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.ips[ip]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.ips[ip] = lim
	return lim
}

func (l *IPRateLimiter) Allow(ip string) bool {
	return l.get(ip).Allow()
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			apperrors.WriteJSON(w, http.StatusTooManyRequests, apperrors.ErrorResponse{
				Error: "Rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
