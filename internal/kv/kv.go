// Package kv provides the expiring key-value store behind playback sessions,
// AI result caches and redirect transfer tokens.
package kv

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("kv: key not found")

// Store is a byte-oriented key-value store. A zero ttl keeps the value
// until it is deleted.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take returns the value and removes it in one step, so concurrent
	// callers never both receive it.
	Take(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Purger is implemented by stores that need expired entries swept.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func expired(at time.Time, now time.Time) bool {
	return !at.IsZero() && !now.Before(at)
}
