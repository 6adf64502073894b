package repositorycache

import (
	"context"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

type cacheTagsContextKey struct{}

// WithCacheTags attaches tags to the reads made with ctx. Entries read under
// a tag can later be dropped together with InvalidateTags.
func WithCacheTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	combined := dedupeStrings(append(cacheTagsFromContext(ctx), tags...))
	if len(combined) == 0 {
		return ctx
	}
	return context.WithValue(ctx, cacheTagsContextKey{}, combined)
}

func cacheTagsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if tags, ok := ctx.Value(cacheTagsContextKey{}).([]string); ok {
		return append([]string(nil), tags...)
	}
	return nil
}

// TagIndex records the cache keys read under each tag. Decorators sharing a
// cache service should share one index so InvalidateTags reaches entries
// cached by any of them.
type TagIndex struct {
	keys *xsync.MapOf[string, []string]
}

// NewTagIndex returns an empty index.
func NewTagIndex() *TagIndex {
	return &TagIndex{keys: xsync.NewMapOf[string, []string]()}
}

// add merges tags into the entry of key. Untagged reads are not recorded.
func (t *TagIndex) add(key string, tags []string) {
	if len(tags) == 0 {
		return
	}
	t.keys.Compute(key, func(old []string, loaded bool) ([]string, bool) {
		if !loaded {
			return tags, false
		}
		return dedupeStrings(append(append([]string(nil), old...), tags...)), false
	})
}

// tagged returns the keys carrying any of tags.
func (t *TagIndex) tagged(tags []string) []string {
	want := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		want[tag] = struct{}{}
	}
	var out []string
	t.keys.Range(func(key string, keyTags []string) bool {
		for _, tag := range keyTags {
			if _, ok := want[tag]; ok {
				out = append(out, key)
				break
			}
		}
		return true
	})
	return out
}

func (t *TagIndex) forget(keys ...string) {
	for _, key := range keys {
		t.keys.Delete(key)
	}
}

func (t *TagIndex) forgetPrefix(prefix string) {
	t.keys.Range(func(key string, _ []string) bool {
		if strings.HasPrefix(key, prefix) {
			t.keys.Delete(key)
		}
		return true
	})
}

// dedupeStrings drops empty and repeated values, keeping first occurrences
// in order.
func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
