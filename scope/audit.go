package scope

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-core/entity"
)

type actorContextKey struct{}

// WithActor attaches the name recorded in audit metadata to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor set with WithActor.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}

type audited interface {
	GetMetadata() *entity.Metadata
}

// Auditor stamps entity Metadata for pending writes.
type Auditor struct {
	now func() time.Time
}

// NewAuditor returns an auditor using now as its clock; nil uses time.Now.
func NewAuditor(now func() time.Time) *Auditor {
	if now == nil {
		now = time.Now
	}
	return &Auditor{now: now}
}

// Stamp fills created/updated fields on Added and Modified entities and
// returns a function restoring the previous values.
func (a *Auditor) Stamp(ctx context.Context, changes []Change) func() {
	now := a.now().UTC()
	actor := ActorFromContext(ctx)

	type saved struct {
		meta *entity.Metadata
		prev entity.Metadata
	}
	var previous []saved

	for _, change := range changes {
		target, ok := change.Entity.(audited)
		if !ok {
			continue
		}
		meta := target.GetMetadata()
		if meta == nil {
			continue
		}

		switch change.State {
		case Added:
			previous = append(previous, saved{meta: meta, prev: *meta})
			if meta.CreatedAt.IsZero() {
				meta.CreatedAt = now
			}
			if meta.CreatedBy == "" {
				meta.CreatedBy = actor
			}
			meta.UpdatedAt = now
			meta.UpdatedBy = actor
		case Modified:
			previous = append(previous, saved{meta: meta, prev: *meta})
			meta.UpdatedAt = now
			meta.UpdatedBy = actor
		}
	}

	return func() {
		for _, s := range previous {
			*s.meta = s.prev
		}
	}
}
