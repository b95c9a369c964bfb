package app

import (
	"context"
	"log/slog"
)

// CacheAdmin performs administrative resets of the response cache.
type CacheAdmin struct {
	loader *Loader
}

// NewCacheAdmin returns a CacheAdmin for the loader's store.
func NewCacheAdmin(loader *Loader) *CacheAdmin {
	return &CacheAdmin{loader: loader}
}

// Clear drops every cached entry.
func (a *CacheAdmin) Clear(ctx context.Context) {
	a.loader.Store().Clear(ctx)
	slog.LogAttrs(ctx, slog.LevelInfo, "cache cleared")
}

// ClearByPrefix drops every entry whose key starts with prefix, including
// cached failures for those keys.
func (a *CacheAdmin) ClearByPrefix(ctx context.Context, prefix string) {
	a.loader.Store().ClearByPrefix(ctx, prefix)
	slog.LogAttrs(ctx, slog.LevelInfo, "cache cleared by prefix", slog.String("prefix", prefix))
}
