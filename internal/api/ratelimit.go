package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"golang.org/x/time/rate"
)

// limiterStore shares one token bucket across all clients.
type limiterStore struct {
	l *rate.Limiter
}

func (s limiterStore) Allow(string) (bool, error) { return s.l.Allow(), nil }

// RateLimit rejects requests with 429 once l has no tokens left. A nil
// limiter lets everything through.
func RateLimit(l *rate.Limiter) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(*echo.Context) bool { return l == nil },
		Store:   limiterStore{l: l},
		IdentifierExtractor: func(c *echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c *echo.Context, err error) error {
			return writeError(c, http.StatusForbidden, ErrorBody{
				Type:    "rate_limit_error",
				Message: err.Error(),
			})
		},
		DenyHandler: func(c *echo.Context, identifier string, err error) error {
			return writeError(c, http.StatusTooManyRequests, ErrorBody{
				Type:    "rate_limit_error",
				Message: "too many requests from " + identifier,
			})
		},
	})
}

// NewLimiter allows perSecond requests per second with a burst of the same
// size. Zero or less disables limiting.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
}
