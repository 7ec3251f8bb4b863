package auth

import (
	"log/slog"
	"time"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for storage and session diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source. Tests use it to move past expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithSessionLifetime sets the absolute session lifetime.
// Default: 24h.
func WithSessionLifetime(d time.Duration) Option {
	return func(s *Service) {
		s.sessionLifetime = d
	}
}

// WithIdleTimeout sets how long a session may go unused before it expires.
// Zero disables idle expiry. Default: 15m.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.idleTimeout = d
	}
}
