// Package cache holds computed scan results keyed by (image hash, category).
//
// The result cache is a performance optimization only: every implementation
// may drop entries at any time, and read or write failures are logged and
// treated as misses. Values are opaque byte slices written and read whole,
// so a reader never observes a partially written entry.
package cache

import (
	"context"
	"time"

	"github.com/fpang/item-identify/internal/category"
)

// Key identifies a cached result.
type Key struct {
	ImageHash string
	// Scope is the normalized category, or category.All.
	Scope string
}

// NewKey builds a Key, normalizing the category.
func NewKey(imageHash, cat string) Key {
	return Key{ImageHash: imageHash, Scope: category.Normalize(cat)}
}

func (k Key) String() string {
	return k.ImageHash + "#" + k.Scope
}

// ResultCache stores encoded results with an absolute expiry.
// Implementations are safe for concurrent use.
type ResultCache interface {
	// Get returns the value and its expiry, or ok=false on a miss or an
	// expired entry.
	Get(ctx context.Context, key Key) (value []byte, expiresAt time.Time, ok bool)
	// Set stores value until expiresAt, replacing any existing entry.
	Set(ctx context.Context, key Key, value []byte, expiresAt time.Time)
}

// Tiered reads through a fast local cache in front of a shared one. A hit in
// the shared cache is copied into the local cache with the same expiry.
type Tiered struct {
	Local  ResultCache
	Shared ResultCache
}

var _ ResultCache = (*Tiered)(nil)

func (t *Tiered) Get(ctx context.Context, key Key) ([]byte, time.Time, bool) {
	if v, exp, ok := t.Local.Get(ctx, key); ok {
		return v, exp, true
	}
	v, exp, ok := t.Shared.Get(ctx, key)
	if !ok {
		return nil, time.Time{}, false
	}
	t.Local.Set(ctx, key, v, exp)
	return v, exp, true
}

func (t *Tiered) Set(ctx context.Context, key Key, value []byte, expiresAt time.Time) {
	t.Local.Set(ctx, key, value, expiresAt)
	t.Shared.Set(ctx, key, value, expiresAt)
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, Key) ([]byte, time.Time, bool) { return nil, time.Time{}, false }
func (Noop) Set(context.Context, Key, []byte, time.Time)        {}
