package repository

import (
	"context"
	"reflect"

	"github.com/goliatone/go-repository-core/entity"
	"github.com/goliatone/go-repository-core/internal/reflectx"
	"github.com/goliatone/go-repository-core/repoerr"
	"github.com/goliatone/go-repository-core/scope"
)

// reconcile merges payload into the tracked entity stored under key.
//
// A payload the scope already tracks is only marked modified. Otherwise the
// tracked entity is resolved with the single include hook, every check that
// can fail runs, and then the scalar copy and relation merges are applied
// in memory without further I/O.
func (r *Core[D, K, E]) reconcile(ctx context.Context, key K, payload E) (E, error) {
	var zero E

	if r.scope.IsTracked(payload) {
		if !entity.KeysEqual(payload.GetID(), key) {
			return zero, repoerr.InvalidArgument("%s: tracked entity has key %v, cannot update it as %v",
				r.opts.entityName, payload.GetID(), key)
		}
		if err := r.scope.MarkModified(payload); err != nil {
			return zero, r.scopeError(err, key)
		}
		r.opts.logger.Debug("tracked entity marked modified", "entity", r.opts.entityName, "key", key)
		return payload, nil
	}
	payload.SetID(key)

	tracked, err := r.resolveOne(ctx, key)
	if err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	plan := reflectx.PlanOf(r.entityType)
	if err := r.checkRelations(plan, tracked, payload); err != nil {
		return zero, err
	}

	if err := r.attachGraph(tracked); err != nil {
		return zero, err
	}
	if err := reflectx.CopyScalars(tracked, payload, plan.OwnedJoinFields()...); err != nil {
		return zero, err
	}
	if err := r.scope.MarkModified(tracked); err != nil {
		return zero, r.scopeError(err, key)
	}
	if err := r.mergeRelations(plan, tracked, payload); err != nil {
		return zero, err
	}

	r.opts.logger.Debug("entity reconciled", "entity", r.opts.entityName, "key", key)
	return tracked, nil
}

// checkRelations rejects payload relations that point at entities pending
// removal, so a failing update leaves the scope as it was.
func (r *Core[D, K, E]) checkRelations(plan *reflectx.Plan, tracked, payload E) error {
	pv, err := reflectx.StructValue(payload)
	if err != nil {
		return err
	}
	tv, err := reflectx.StructValue(tracked)
	if err != nil {
		return err
	}
	for _, rel := range plan.Relations {
		for _, slot := range []reflect.Value{pv.FieldByIndex(rel.Index), tv.FieldByIndex(rel.Index)} {
			for _, related := range relatedEntities(slot) {
				if related.IsTransient() {
					continue
				}
				_, state, ok := r.scope.Lookup(reflect.TypeOf(related), related.IdentityKey())
				if ok && state == scope.Deleted {
					return repoerr.InvalidArgument("%s: relation %s references %v which is pending removal",
						r.opts.entityName, rel.Name, related.IdentityKey())
				}
			}
		}
	}
	return nil
}

// attachGraph tracks root and its loaded first-level relations. Related
// instances whose identity is already tracked are swapped for the tracked
// instance.
func (r *Core[D, K, E]) attachGraph(root E) error {
	if err := r.scope.Attach(root); err != nil {
		return err
	}
	rv, err := reflectx.StructValue(root)
	if err != nil {
		return err
	}
	for _, rel := range reflectx.PlanOf(r.entityType).Relations {
		slot := rv.FieldByIndex(rel.Index)
		switch {
		case slot.Kind() == reflect.Ptr:
			if err := r.attachSlot(slot); err != nil {
				return err
			}
		case slot.Kind() == reflect.Slice:
			for i := 0; i < slot.Len(); i++ {
				if err := r.attachSlot(slot.Index(i)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *Core[D, K, E]) attachSlot(slot reflect.Value) error {
	related, ok := asIdentifiable(slot)
	if !ok || related.IsTransient() || r.scope.IsTracked(related) {
		return nil
	}
	if existing, _, ok := r.scope.Lookup(reflect.TypeOf(related), related.IdentityKey()); ok {
		slot.Set(reflect.ValueOf(existing))
		return nil
	}
	return r.scope.Attach(related)
}

// mergeRelations applies the payload's non-nil first-level relations to the
// tracked entity. Nil payload slots leave the tracked relation untouched.
func (r *Core[D, K, E]) mergeRelations(plan *reflectx.Plan, tracked, payload E) error {
	pv, err := reflectx.StructValue(payload)
	if err != nil {
		return err
	}
	tv, err := reflectx.StructValue(tracked)
	if err != nil {
		return err
	}

	for _, rel := range plan.Relations {
		ps := pv.FieldByIndex(rel.Index)
		ts := tv.FieldByIndex(rel.Index)
		if (ps.Kind() != reflect.Ptr && ps.Kind() != reflect.Slice) || ps.IsNil() {
			continue
		}

		switch rel.Cardinality {
		case reflectx.One:
			if err := r.mergeOne(tracked, rel, ts, ps); err != nil {
				return err
			}
		case reflectx.Many:
			if err := r.mergeMany(tracked, rel, ts, ps); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Core[D, K, E]) mergeOne(owner E, rel reflectx.Relation, trackedSlot, payloadSlot reflect.Value) error {
	incoming, ok := asIdentifiable(payloadSlot)
	if !ok {
		return nil
	}

	if current, ok := asIdentifiable(trackedSlot); ok {
		if incoming.IsTransient() || sameIdentity(current, incoming) {
			if err := r.overwrite(rel, current, incoming); err != nil {
				return err
			}
			return reflectx.SyncJoin(owner, rel, current)
		}
	}

	connected, err := r.connect(rel, incoming)
	if err != nil {
		return err
	}
	trackedSlot.Set(reflect.ValueOf(connected))
	return reflectx.SyncJoin(owner, rel, connected)
}

func (r *Core[D, K, E]) mergeMany(owner E, rel reflectx.Relation, trackedSlot, payloadSlot reflect.Value) error {
	byKey := make(map[any]entity.Identifiable, trackedSlot.Len())
	for _, current := range relatedEntities(trackedSlot) {
		if !current.IsTransient() {
			byKey[current.IdentityKey()] = current
		}
	}

	for _, incoming := range relatedEntities(payloadSlot) {
		if current, ok := byKey[incoming.IdentityKey()]; ok && !incoming.IsTransient() {
			if err := r.overwrite(rel, current, incoming); err != nil {
				return err
			}
			if err := reflectx.SyncJoin(owner, rel, current); err != nil {
				return err
			}
			continue
		}

		connected, err := r.connect(rel, incoming)
		if err != nil {
			return err
		}
		trackedSlot.Set(reflect.Append(trackedSlot, reflect.ValueOf(connected)))
		if err := reflectx.SyncJoin(owner, rel, connected); err != nil {
			return err
		}
		// later payload entries with this key merge into connected
		if !connected.IsTransient() {
			byKey[connected.IdentityKey()] = connected
		}
	}
	return nil
}

// overwrite copies the scalar fields of incoming onto the tracked related
// entity and marks it modified.
func (r *Core[D, K, E]) overwrite(rel reflectx.Relation, current, incoming entity.Identifiable) error {
	if err := reflectx.CopyScalars(current, incoming, relatedSkip(rel, current)...); err != nil {
		return err
	}
	if !r.scope.IsTracked(current) {
		if err := r.scope.Attach(current); err != nil {
			return err
		}
	}
	return r.scope.MarkModified(current)
}

// connect brings a related payload entity into the scope and returns the
// instance the owner should reference.
func (r *Core[D, K, E]) connect(rel reflectx.Relation, incoming entity.Identifiable) (entity.Identifiable, error) {
	if r.scope.IsTracked(incoming) {
		return incoming, r.scope.MarkModified(incoming)
	}
	if incoming.IsTransient() {
		return incoming, r.scope.Add(incoming)
	}
	if existing, _, ok := r.scope.Lookup(reflect.TypeOf(incoming), incoming.IdentityKey()); ok {
		return existing, r.overwrite(rel, existing, incoming)
	}
	if err := r.scope.Attach(incoming); err != nil {
		return nil, err
	}
	return incoming, r.scope.MarkModified(incoming)
}

func relatedSkip(rel reflectx.Relation, related entity.Identifiable) []string {
	skip := reflectx.PlanOf(reflect.TypeOf(related)).OwnedJoinFields()
	if rel.RelatedOwnsJoinColumns() {
		skip = append(append([]string(nil), skip...), rel.JoinFields...)
	}
	return skip
}

func sameIdentity(a, b entity.Identifiable) bool {
	if a.IsTransient() || b.IsTransient() {
		return false
	}
	return reflect.TypeOf(a) == reflect.TypeOf(b) && a.IdentityKey() == b.IdentityKey()
}

// relatedEntities returns the non-nil entities held by a relation slot.
func relatedEntities(slot reflect.Value) []entity.Identifiable {
	var out []entity.Identifiable
	switch slot.Kind() {
	case reflect.Ptr:
		if e, ok := asIdentifiable(slot); ok {
			out = append(out, e)
		}
	case reflect.Slice:
		for i := 0; i < slot.Len(); i++ {
			if e, ok := asIdentifiable(slot.Index(i)); ok {
				out = append(out, e)
			}
		}
	}
	return out
}

func asIdentifiable(v reflect.Value) (entity.Identifiable, bool) {
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return nil, false
	}
	e, ok := v.Interface().(entity.Identifiable)
	return e, ok
}
