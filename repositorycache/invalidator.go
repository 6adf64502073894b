package repositorycache

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"slices"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/scope"
)

// Invalidator drops cached entries for the entities a scope flush wrote.
//
// Decorators invalidate when a write is registered, while the row changes
// only when the scope completes, so a read made from another scope in
// between can cache the old row again. The writer returned by Writer drops
// the entries of every flushed entity, including keys assigned by the
// store.
type Invalidator struct {
	cache  cache.CacheService
	keys   cache.KeySerializer
	logger *slog.Logger

	// entity type -> cache prefixes of the repositories storing it
	prefixes *xsync.MapOf[reflect.Type, []string]
}

// NewInvalidator returns an invalidator over svc. A nil serializer uses the
// default one, which decorators built with a nil serializer share.
func NewInvalidator(svc cache.CacheService, keySerializer cache.KeySerializer, logger *slog.Logger) *Invalidator {
	if keySerializer == nil {
		keySerializer = cache.NewDefaultKeySerializer()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Invalidator{
		cache:    svc,
		keys:     keySerializer,
		logger:   logger,
		prefixes: xsync.NewMapOf[reflect.Type, []string](),
	}
}

// Register maps the storage entity type to the prefix of a decorator
// caching it.
func (inv *Invalidator) Register(entityType reflect.Type, prefix string) {
	inv.prefixes.Compute(entityType, func(old []string, _ bool) ([]string, bool) {
		if slices.Contains(old, prefix) {
			return old, false
		}
		return append(slices.Clone(old), prefix), false
	})
}

// Writer wraps w so that successful flushes invalidate the written
// entities. Failed flushes change nothing and invalidate nothing.
func (inv *Invalidator) Writer(w scope.Writer) scope.Writer {
	return scope.WriterFunc(func(ctx context.Context, changes []scope.Change) error {
		if err := w.Apply(ctx, changes); err != nil {
			return err
		}
		inv.flushed(ctx, changes)
		return nil
	})
}

func (inv *Invalidator) flushed(ctx context.Context, changes []scope.Change) {
	keys := map[string][]string{}
	for _, change := range changes {
		if change.Entity == nil {
			continue
		}
		prefixes, ok := inv.prefixes.Load(reflect.TypeOf(change.Entity))
		if !ok {
			continue
		}
		for _, prefix := range prefixes {
			entries := keys[prefix]
			if !change.Entity.IsTransient() {
				space := keyspace{serializer: inv.keys, prefix: prefix}
				entries = append(entries, space.entries(change.Entity.IdentityKey())...)
			}
			keys[prefix] = entries
		}
	}

	for prefix, entries := range keys {
		space := keyspace{serializer: inv.keys, prefix: prefix}
		if err := drop(ctx, inv.cache, entries, space.collections()); err != nil {
			inv.logger.Warn("cache invalidation after flush failed", "prefix", prefix, "error", err)
			continue
		}
		inv.logger.Debug("cache invalidated after flush", "prefix", prefix, "entries", len(entries))
	}
}
