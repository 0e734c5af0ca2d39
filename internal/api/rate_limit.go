package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imagebench/internal/ratelimit"
	"go.uber.org/zap"
)

const defaultRateLimitSubjectHeader = "X-Client-ID"

type RateLimiter interface {
	Take(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		group, cost, limited := rateLimitRule(r, s.rateLimitCosts)
		if !limited {
			next.ServeHTTP(w, r)
			return
		}

		subject := strings.TrimSpace(r.Header.Get(s.rateLimitSubjectHeader))
		if subject == "" {
			subject = clientIP(r)
		}
		subject = subject + ":" + group

		decision, err := s.rateLimiter.Take(r.Context(), subject, cost)
		if err != nil {
			s.logger.Warn("rate limiter check failed", zap.String("subject", subject), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(group).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// rateLimitRule limits mutating requests only and prices them by class.
func rateLimitRule(r *http.Request, costs ratelimit.Costs) (group string, cost int, limited bool) {
	switch {
	case r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions:
		return "", 0, false
	case strings.HasPrefix(r.URL.Path, "/api/image/") && r.Method == http.MethodPost:
		return "/api/image", costs.Upload, true
	case strings.HasPrefix(r.URL.Path, "/api/image/"):
		return "/api/image", costs.Delete, true
	case strings.HasPrefix(r.URL.Path, "/api/benchmarks"):
		return "/api/benchmarks", costs.Benchmark, true
	default:
		return "", 0, false
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
