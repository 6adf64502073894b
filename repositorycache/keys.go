package repositorycache

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-repository-core/cache"
)

const (
	opRead   = "read"
	opExists = "exists"
	opList   = "list"
	opCount  = "count"
)

// keyspace names the cache entries of one repository prefix:
// <prefix>::<op>::<args>.
type keyspace struct {
	serializer cache.KeySerializer
	prefix     string
}

func (s keyspace) key(op string, args ...any) string {
	return s.serializer.SerializeKey(s.prefix+cache.KeySeparator+op, args...)
}

// entries returns the read and exists keys of one entity key.
func (s keyspace) entries(key any) []string {
	return []string{s.key(opRead, key), s.key(opExists, key)}
}

// collections returns the prefixes of every cached listing and count.
func (s keyspace) collections() []string {
	return []string{
		s.key(opList) + cache.KeySeparator,
		s.key(opCount) + cache.KeySeparator,
	}
}

func (s keyspace) all() string {
	return s.prefix + cache.KeySeparator
}

// drop deletes the given keys and prefixes from svc, carrying on past
// failures.
func drop(ctx context.Context, svc cache.CacheService, keys, prefixes []string) error {
	var errs []error
	for _, key := range keys {
		if err := svc.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	for _, prefix := range prefixes {
		if err := svc.DeleteByPrefix(ctx, prefix); err != nil {
			errs = append(errs, fmt.Errorf("delete prefix %s: %w", prefix, err))
		}
	}
	return errors.Join(errs...)
}
