package cache

import (
	"context"
	"fmt"

	"github.com/goliatone/go-repository-core/internal/cacheinfra"
)

// ErrMissing reports a key whose absence is cached.
var ErrMissing = cacheinfra.ErrMissing

// KeySerializer builds a cache key from a method name and its arguments.
// Equal arguments must always produce the same key.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// FetchFn loads a value from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the read-through cache used by repository decorators.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetch FetchFn[any]) (any, error)
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

type sturdyService struct {
	*cacheinfra.SturdycService
}

func (s sturdyService) GetOrFetch(ctx context.Context, key string, fetch FetchFn[any]) (any, error) {
	return s.SturdycService.GetOrFetch(ctx, key, cacheinfra.Fetch(fetch))
}

// GetOrFetch is the typed form of CacheService.GetOrFetch.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetch FetchFn[T]) (T, error) {
	var zero T
	result, err := service.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("cache: key %q holds %T, not %T", key, result, zero)
	}
	return typed, nil
}
