// Package repositorycache decorates a repository.Repository with
// read-through caching.
//
// Read, Exists, List and Count are served from a cache.CacheService. Writes
// go straight to the wrapped repository and, when they succeed, drop the
// cached entries they may have made stale:
//
//   - Create, Update and Delete drop the Read and Exists entries of the
//     affected key plus every cached listing and count.
//   - Invalidate drops everything the decorator cached.
//   - InvalidateTags drops the entries read under a context carrying one of
//     the tags, see WithCacheTags.
//
// # Usage
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	authors := repositorycache.New[Author, int64](core, svc, cache.NewDefaultKeySerializer())
//
//	a, err := authors.Read(ctx, 1)      // loads through core
//	a, err = authors.Read(ctx, 1)       // served from cache
//	_, err = authors.Update(ctx, 1, a)  // drops author::read::1 and listings
//
// # Keys
//
// Keys are namespaced by a prefix, the lower-cased name of the domain type
// unless WithPrefix says otherwise:
//
//	author::read::1
//	author::exists::1
//	author::list::[Condition{...}]::"Name"
//	author::count::[]
//
// Repositories sharing one cache service must use distinct prefixes.
//
// # Listings
//
// List drains the wrapped sequence into a slice the first time it is ranged
// and caches that slice. Cached listings replay without touching the
// wrapped repository, so they do not observe its scope afterwards.
//
// # Units of work
//
// When the wrapped repository is a repository.Core, reads observe its scope,
// pending writes included. Discarding the scope does not notify the cache;
// call Invalidate afterwards.
//
// # Missing records
//
// With MissingRecordStorage enabled on the cache service, NotFound results
// of Read are cached as well. A cached miss is reported as a NotFound error
// until a write to that key or an invalidation drops it.
package repositorycache
