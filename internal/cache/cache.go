// Package cache holds the single-value TTL caches used for the file listing:
// a Redis backend shared by server replicas and a file backend for the CLI.
package cache

import (
	"context"
	"time"
)

// Cache stores one value of type T until it expires or is invalidated.
// A miss is reported as ok == false with a nil error.
//
// Every Invalidate bumps a generation counter. Callers read Version before
// loading the value from the source and pass it to Set; a Set whose version
// is no longer current is dropped, so a snapshot taken before an
// invalidation never overwrites it.
type Cache[T any] interface {
	Get(ctx context.Context) (value T, ok bool, err error)
	Version(ctx context.Context) (int64, error)
	Set(ctx context.Context, version int64, value T) error
	Invalidate(ctx context.Context) error
}

// entry is the serialized form shared by the backends.
type entry[T any] struct {
	Data      T         `json:"data"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (e entry[T]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Noop never stores anything; every Get is a miss.
type Noop[T any] struct{}

func (Noop[T]) Get(context.Context) (T, bool, error) {
	var zero T
	return zero, false, nil
}

func (Noop[T]) Version(context.Context) (int64, error) { return 0, nil }

func (Noop[T]) Set(context.Context, int64, T) error { return nil }

func (Noop[T]) Invalidate(context.Context) error { return nil }
