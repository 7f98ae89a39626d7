// Package ratelimit implements a fixed-window counter shared across
// workers through Redis, with configurable behavior when Redis is
// unreachable.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned in strict mode when the backing store
// cannot be reached; the server maps it to 503.
var ErrUnavailable = errors.New("ratelimit: backing store unavailable")

// Mode selects what happens when Redis is down.
type Mode string

const (
	// ModeStrict surfaces ErrUnavailable.
	ModeStrict Mode = "strict"
	// ModeDegraded allows the request and logs a warning.
	ModeDegraded Mode = "degraded"
	// ModeLocal falls back to a per-process counter. Not cross-worker
	// safe; development only.
	ModeLocal Mode = "local"
)

// ParseMode validates a configured fallback mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStrict, ModeDegraded, ModeLocal:
		return Mode(s), nil
	case "":
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("ratelimit: unknown fallback mode %q", s)
	}
}

// Limiter answers allow/deny for (key, limit, window) triples.
type Limiter struct {
	rdb  redis.Cmdable
	mode Mode
	log  *slog.Logger

	mu    sync.Mutex
	local map[string]*window
}

type window struct {
	count   int64
	expires time.Time
}

// New creates a limiter. rdb may be nil, in which case every check
// takes the fallback path.
func New(rdb redis.Cmdable, mode Mode, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{rdb: rdb, mode: mode, log: log, local: make(map[string]*window)}
}

// NewFromURL dials Redis from a URL like redis://host:6379/0. An empty
// URL yields a limiter with no backing store.
func NewFromURL(url string, mode Mode, log *slog.Logger) (*Limiter, error) {
	if url == "" {
		return New(nil, mode, log), nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parsing redis url: %w", err)
	}
	return New(redis.NewClient(opts), mode, log), nil
}

// Check increments the counter under key and reports whether the
// request is allowed. The decision is inclusive: current == limit
// still passes. Every decision emits a structured event.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, windowSeconds int) (bool, error) {
	current, err := l.incr(ctx, key, windowSeconds)
	if err != nil {
		switch l.mode {
		case ModeDegraded:
			l.log.Warn("rate limiter degraded, allowing",
				"key", key, "limit", limit, "window", windowSeconds, "error", err)
			return true, nil
		case ModeLocal:
			current = l.incrLocal(key, windowSeconds)
		default:
			l.log.Error("rate limiter unavailable",
				"key", key, "limit", limit, "window", windowSeconds, "error", err)
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	allowed := current <= limit
	l.log.Info("rate limit decision",
		"key", key, "allowed", allowed, "current", current, "limit", limit, "window", windowSeconds)
	return allowed, nil
}

// incr bumps the redis counter, arming expiry on first increment.
func (l *Limiter) incr(ctx context.Context, key string, windowSeconds int) (int64, error) {
	if l.rdb == nil {
		return 0, errors.New("no redis client configured")
	}
	var incr *redis.IntCmd
	_, err := l.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, time.Duration(windowSeconds)*time.Second)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (l *Limiter) incrLocal(key string, windowSeconds int) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	w := l.local[key]
	if w == nil || now.After(w.expires) {
		w = &window{expires: now.Add(time.Duration(windowSeconds) * time.Second)}
		l.local[key] = w
	}
	w.count++
	return w.count
}
