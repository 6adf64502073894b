// Package cache provides the read-through cache service and the key
// serializer used by the repository decorators.
//
// # Service
//
// CacheService is a small interface over a key/value cache with
// single-flight fetches. NewCacheService builds the default implementation
// on top of sturdyc:
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	author, err := cache.GetOrFetch(ctx, svc, key, func(ctx context.Context) (Author, error) {
//		return repo.Read(ctx, 1)
//	})
//
// GetOrFetch is the typed entry point; it reports an error when a key holds a
// value of another type.
//
// With MissingRecordStorage enabled, NotFound errors returned by a fetch are
// cached as misses. The first call returns the original error, later calls
// return an error wrapping ErrMissing until the key is deleted or expires.
//
// # Keys
//
// The default KeySerializer renders the method name followed by one segment
// per argument, joined with KeySeparator:
//
//	author::read::1
//	author::list::[Condition{Field:"Name",Op:"=",Value:"A"}]::"ID"
//
// Strings are quoted so that 1 and "1" never share a key. Map entries are
// sorted, times are rendered in UTC and funcs by code pointer. Segments longer
// than the configured maximum are replaced by their xxhash digest; the method
// name is kept as is so decorators can invalidate by prefix.
package cache
