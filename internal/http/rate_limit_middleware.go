package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func (r *Router) withRateLimit(route string, limit int, window time.Duration, keyFn func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		key := keyFn(req)
		if key == "" {
			key = rateLimitKeyIP(req)
		}
		decision := r.limiter.Allow(req.Context(), route+"|"+key, limit, window)
		applyRateHeaders(w, limit, decision)
		if !decision.allowed {
			r.metrics.rateLimitHit(route, rateMetricKey(key))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func (r *Router) handlerAuthRate(route string, limit int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.withRateLimit(route, limit, window, r.rateLimitKeyTeam, next))
}

func (r *Router) rateLimitKeyTeam(req *http.Request) string {
	if info, ok := authInfoFromContext(req.Context()); ok && info.TeamID != "" {
		return "team:" + info.TeamID
	}
	return ""
}

func rateLimitKeyIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

// rateMetricKey reduces a limiter key to its kind so team ids stay out of
// metric labels.
func rateMetricKey(key string) string {
	if idx := strings.IndexRune(key, ':'); idx > 0 {
		return key[:idx]
	}
	if key == "" {
		return "unknown"
	}
	return key
}

func applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(decision.remaining(limit)))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
		if !decision.allowed {
			retry := int(time.Until(decision.windowEnd).Seconds()) + 1
			headers.Set("Retry-After", strconv.Itoa(max(retry, 1)))
		}
	}
}
