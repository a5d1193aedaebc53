// Package ratelimit throttles shared-credential provider calls per game
// across sliding windows.
package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Backend records one hit under key in every window, but only when each
// window still has room. Rejected hits are not recorded.
type Backend interface {
	Take(ctx context.Context, key string, windows []Window) (bool, error)
}

type Window struct {
	Name   string
	Limit  int
	Period time.Duration
}

type Config struct {
	PerMinute int
	PerDay    int
	// FailOpen lets calls through when the backend errors.
	FailOpen bool
}

func DefaultConfig() Config {
	return Config{PerMinute: 10, PerDay: 100, FailOpen: true}
}

type Limiter struct {
	backend  Backend
	windows  []Window
	failOpen bool
}

// New returns a limiter; a nil backend limits nothing.
func New(b Backend, cfg Config) *Limiter {
	l := &Limiter{backend: b, failOpen: cfg.FailOpen}
	if cfg.PerMinute > 0 {
		l.windows = append(l.windows, Window{Name: "minute", Limit: cfg.PerMinute, Period: time.Minute})
	}
	if cfg.PerDay > 0 {
		l.windows = append(l.windows, Window{Name: "day", Limit: cfg.PerDay, Period: 24 * time.Hour})
	}
	return l
}

func Key(gameID uuid.UUID) string { return "game:" + gameID.String() }

// IsLimited reports whether any window is full. A call that is let through
// counts against every window.
func (l *Limiter) IsLimited(ctx context.Context, gameID uuid.UUID) bool {
	if l == nil || l.backend == nil || len(l.windows) == 0 {
		return false
	}
	key := Key(gameID)
	ok, err := l.backend.Take(ctx, key, l.windows)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Bool("failOpen", l.failOpen).Msg("rate limit backend error")
		return !l.failOpen
	}
	return !ok
}
