package repositorycache

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"reflect"
	"strings"

	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/repoerr"
	"github.com/goliatone/go-repository-core/repository"
)

// Interface assertion to ensure CachedRepository implements Repository
var _ repository.Repository[any, int64] = (*CachedRepository[any, int64])(nil)

// CachedRepository decorates a repository with read-through caching.
type CachedRepository[D any, K comparable] struct {
	base   repository.Repository[D, K]
	cache  cache.CacheService
	keys   keyspace
	prefix string
	logger *slog.Logger
	tags   *TagIndex
}

// Option configures a CachedRepository.
type Option func(*options)

type options struct {
	prefix string
	logger *slog.Logger
	tags   *TagIndex
}

// WithPrefix sets the namespace of the cache keys. Repositories sharing a
// cache service need distinct prefixes.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithLogger sets the logger used to report invalidation failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTagIndex shares idx with other decorators over the same cache service.
func WithTagIndex(idx *TagIndex) Option {
	return func(o *options) {
		if idx != nil {
			o.tags = idx
		}
	}
}

// New wraps base. The default prefix is the lower-cased name of D.
func New[D any, K comparable](base repository.Repository[D, K], cacheService cache.CacheService, keySerializer cache.KeySerializer, opts ...Option) *CachedRepository[D, K] {
	o := options{
		prefix: defaultPrefix(reflect.TypeFor[D]()),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tags == nil {
		o.tags = NewTagIndex()
	}
	if keySerializer == nil {
		keySerializer = cache.NewDefaultKeySerializer()
	}
	return &CachedRepository[D, K]{
		base:   base,
		cache:  cacheService,
		keys:   keyspace{serializer: keySerializer, prefix: o.prefix},
		prefix: o.prefix,
		logger: o.logger,
		tags:   o.tags,
	}
}

func defaultPrefix(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return "repository"
	}
	return strings.ToLower(t.Name())
}

// Read returns the cached value for key, loading it from the base
// repository on a miss. NotFound results are cached too when the cache
// service stores missing records.
func (c *CachedRepository[D, K]) Read(ctx context.Context, key K) (D, error) {
	ck := c.key(opRead, key)
	c.trackKey(ctx, ck)
	d, err := cache.GetOrFetch(ctx, c.cache, ck, func(ctx context.Context) (D, error) {
		return c.base.Read(ctx, key)
	})
	return d, c.missing(err, key)
}

// Exists is cached like Read.
func (c *CachedRepository[D, K]) Exists(ctx context.Context, key K) (bool, error) {
	ck := c.key(opExists, key)
	c.trackKey(ctx, ck)
	return cache.GetOrFetch(ctx, c.cache, ck, func(ctx context.Context) (bool, error) {
		return c.base.Exists(ctx, key)
	})
}

// List caches the materialised result of the base listing. The base
// sequence is drained on the first range; later ranges replay the cached
// slice until a write invalidates it.
func (c *CachedRepository[D, K]) List(ctx context.Context, filter query.Filter, orderBy string) iter.Seq2[D, error] {
	ck := c.key(opList, filter, orderBy)
	return func(yield func(D, error) bool) {
		c.trackKey(ctx, ck)
		rows, err := cache.GetOrFetch(ctx, c.cache, ck, func(ctx context.Context) ([]D, error) {
			return repository.Collect(c.base.List(ctx, filter, orderBy))
		})
		if err != nil {
			var zero D
			yield(zero, err)
			return
		}
		for _, d := range rows {
			if !yield(d, nil) {
				return
			}
		}
	}
}

// ListAll lists every entity ordered by key.
func (c *CachedRepository[D, K]) ListAll(ctx context.Context) iter.Seq2[D, error] {
	return c.List(ctx, nil, "")
}

// Count is cached per filter.
func (c *CachedRepository[D, K]) Count(ctx context.Context, filter query.Filter) (int, error) {
	ck := c.key(opCount, filter)
	c.trackKey(ctx, ck)
	return cache.GetOrFetch(ctx, c.cache, ck, func(ctx context.Context) (int, error) {
		return c.base.Count(ctx, filter)
	})
}

// Create passes through and drops cached listings, counts and any cached
// miss for the new key.
func (c *CachedRepository[D, K]) Create(ctx context.Context, d D) (K, error) {
	key, err := c.base.Create(ctx, d)
	if err == nil {
		c.invalidateKey(ctx, key)
	}
	return key, err
}

// Update passes through and drops the cached entries of key and every
// listing and count.
func (c *CachedRepository[D, K]) Update(ctx context.Context, key K, d D) (D, error) {
	updated, err := c.base.Update(ctx, key, d)
	if err == nil {
		c.invalidateKey(ctx, key)
	}
	return updated, err
}

// Delete passes through and invalidates like Update.
func (c *CachedRepository[D, K]) Delete(ctx context.Context, key K) error {
	err := c.base.Delete(ctx, key)
	if err == nil {
		c.invalidateKey(ctx, key)
	}
	return err
}

// Invalidate drops every entry cached under this repository's prefix,
// whichever decorator cached it. Call it after discarding a unit of work
// whose pending changes may have been read.
func (c *CachedRepository[D, K]) Invalidate(ctx context.Context) {
	prefix := c.keys.all()
	c.tags.forgetPrefix(prefix)
	if err := drop(ctx, c.cache, nil, []string{prefix}); err != nil {
		c.logger.Warn("cache invalidation failed", "prefix", c.prefix, "error", err)
		return
	}
	c.logger.Debug("cache invalidated", "prefix", c.prefix)
}

// InvalidateTags drops the entries read with any of tags attached by any
// decorator sharing the tag index, see WithCacheTags.
func (c *CachedRepository[D, K]) InvalidateTags(ctx context.Context, tags ...string) {
	if len(tags) == 0 {
		return
	}
	keys := c.tags.tagged(tags)
	c.tags.forget(keys...)
	if err := drop(ctx, c.cache, keys, nil); err != nil {
		c.logger.Warn("cache invalidation failed", "tags", tags, "error", err)
		return
	}
	c.logger.Debug("cache invalidated", "tags", tags, "keys", len(keys))
}

func (c *CachedRepository[D, K]) key(op string, args ...any) string {
	return c.keys.key(op, args...)
}

func (c *CachedRepository[D, K]) missing(err error, key K) error {
	if errors.Is(err, cache.ErrMissing) {
		return repoerr.WrapNotFound(err, c.prefix, key)
	}
	return err
}

func (c *CachedRepository[D, K]) trackKey(ctx context.Context, key string) {
	c.tags.add(key, cacheTagsFromContext(ctx))
}

// invalidateKey drops the read and exists entries of key and every listing
// and count in the shared cache service.
func (c *CachedRepository[D, K]) invalidateKey(ctx context.Context, key K) {
	entries, collections := c.keys.entries(key), c.keys.collections()
	c.tags.forget(entries...)
	for _, prefix := range collections {
		c.tags.forgetPrefix(prefix)
	}
	if err := drop(ctx, c.cache, entries, collections); err != nil {
		c.logger.Warn("cache invalidation failed", "prefix", c.prefix, "key", key, "error", err)
		return
	}
	c.logger.Debug("cache invalidated", "prefix", c.prefix, "key", key)
}
