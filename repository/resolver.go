package repository

import (
	"context"
	"fmt"

	"github.com/goliatone/go-repository-core/entity"
	"github.com/goliatone/go-repository-core/repoerr"
	"github.com/goliatone/go-repository-core/scope"
)

// Multiplicity is the outcome class of a single-entity resolution.
type Multiplicity int

const (
	// Empty means no entity carries the key.
	Empty Multiplicity = iota
	// Single means exactly one entity carries the key.
	Single
	// Multiple means the key is shared by more than one entity.
	Multiple
)

func (m Multiplicity) String() string {
	switch m {
	case Empty:
		return "empty"
	case Single:
		return "single"
	case Multiple:
		return "multiple"
	default:
		return "unknown"
	}
}

// Resolution is the tagged result of resolving a key. Entity is set only for
// Single; Count holds the number of candidates.
type Resolution[E any] struct {
	Kind   Multiplicity
	Entity E
	Count  int
}

// Resolve fetches every candidate for key with include applied and merges
// them with the scope. Tracked instances replace fetched rows, pending
// deletions are dropped and a pending insertion with the key is counted.
// Resolve does not change the scope.
func (r *Core[D, K, E]) Resolve(ctx context.Context, key K, include IncludeHook) (Resolution[E], error) {
	if include == nil {
		include = noInclude
	}
	if err := ctx.Err(); err != nil {
		return Resolution[E]{}, err
	}

	var candidates []E
	for row, err := range r.source.Find(ctx, include(r.keyQuery(key))) {
		if err != nil {
			return Resolution[E]{}, fmt.Errorf("%s: resolve %v: %w", r.opts.entityName, key, err)
		}
		if tracked, state, ok := r.scope.Lookup(r.entityType, row.IdentityKey()); ok {
			if state == scope.Deleted {
				continue
			}
			row = tracked.(E)
		}
		candidates = append(candidates, row)
	}

	if pending, state, ok := r.scope.Lookup(r.entityType, key); ok && state == scope.Added {
		if !containsInstance(candidates, pending) {
			candidates = append(candidates, pending.(E))
		}
	}

	res := Resolution[E]{Count: len(candidates)}
	switch len(candidates) {
	case 0:
		res.Kind = Empty
	case 1:
		res.Kind = Single
		res.Entity = candidates[0]
	default:
		res.Kind = Multiple
	}
	r.opts.logger.Debug("resolved entity", "entity", r.opts.entityName, "key", key, "result", res.Kind.String())
	return res, nil
}

// resolveOne applies the zero/one/many policy with the single include hook.
func (r *Core[D, K, E]) resolveOne(ctx context.Context, key K) (E, error) {
	var zero E
	res, err := r.Resolve(ctx, key, r.opts.singleInclude)
	if err != nil {
		return zero, err
	}
	switch res.Kind {
	case Empty:
		return zero, repoerr.NotFound(r.opts.entityName, key)
	case Multiple:
		return zero, repoerr.DuplicateKey(r.opts.entityName, key)
	default:
		return res.Entity, nil
	}
}

func containsInstance[E any](list []E, target entity.Identifiable) bool {
	for _, item := range list {
		if any(item) == any(target) {
			return true
		}
	}
	return false
}
