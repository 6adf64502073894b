package reflectx

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/goliatone/go-repository-core/entity"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	identifiableType = reflect.TypeOf((*entity.Identifiable)(nil)).Elem()
	metadataType     = reflect.TypeOf(entity.Metadata{})
)

// RelationCardinality distinguishes single and collection navigation slots.
type RelationCardinality int

const (
	// One is a pointer to a related entity.
	One RelationCardinality = iota
	// Many is a slice of pointers to related entities.
	Many
)

// Relation describes a first-level navigation slot on an entity struct.
type Relation struct {
	Name        string
	Index       []int
	Type        reflect.Type
	Cardinality RelationCardinality
	// Kind is the bun relation type (belongs-to, has-one, has-many, m2m),
	// empty when the slot was detected from its type alone.
	Kind string
	// BaseFields are Go field names on the owner holding the join columns.
	BaseFields []string
	// JoinFields are Go field names on the related entity.
	JoinFields []string
}

// OwnsJoinColumns reports whether the owner side stores the foreign key.
func (r Relation) OwnsJoinColumns() bool {
	return r.Kind == "belongs-to"
}

// RelatedOwnsJoinColumns reports whether the related side stores the
// foreign key.
func (r Relation) RelatedOwnsJoinColumns() bool {
	return r.Kind == "has-one" || r.Kind == "has-many"
}

type scalarField struct {
	name  string
	index []int
}

// Plan is the cached field layout of an entity struct type.
type Plan struct {
	Type      reflect.Type
	Relations []Relation
	scalars   []scalarField
	pkFields  []string
}

var plans = xsync.NewMapOf[reflect.Type, *Plan]()

// PlanOf returns the field plan for a struct type or a pointer to one.
func PlanOf(t reflect.Type) *Plan {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	plan, _ := plans.LoadOrCompute(t, func() *Plan {
		return buildPlan(t)
	})
	return plan
}

// PrimaryKeyFields returns the Go names of fields tagged as primary key.
func (p *Plan) PrimaryKeyFields() []string {
	return p.pkFields
}

// Relation returns the relation named name.
func (p *Plan) Relation(name string) (Relation, bool) {
	for _, rel := range p.Relations {
		if rel.Name == name {
			return rel, true
		}
	}
	return Relation{}, false
}

// OwnedJoinFields returns the owner-side join columns of belongs-to
// relations. Reconciliation does not copy them from a payload.
func (p *Plan) OwnedJoinFields() []string {
	var out []string
	for _, rel := range p.Relations {
		if rel.OwnsJoinColumns() {
			out = append(out, rel.BaseFields...)
		}
	}
	return out
}

func buildPlan(t reflect.Type) *Plan {
	plan := &Plan{Type: t}
	if t.Kind() != reflect.Struct {
		return plan
	}
	collectFields(plan, t, nil)
	columns := columnIndex(t)
	for i := range plan.Relations {
		resolveJoin(&plan.Relations[i], columns)
	}
	return plan
}

func collectFields(plan *Plan, t reflect.Type, parent []int) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(append([]int(nil), parent...), i)

		if f.Type == metadataType {
			continue
		}
		if f.Anonymous {
			if f.Type.Kind() == reflect.Struct {
				collectFields(plan, f.Type, index)
			}
			continue
		}
		if !f.IsExported() {
			continue
		}

		tag := parseBunTag(f.Tag.Get("bun"))
		if rel, ok := relationOf(f, tag); ok {
			rel.Index = index
			plan.Relations = append(plan.Relations, rel)
			continue
		}
		if tag.options["pk"] {
			plan.pkFields = append(plan.pkFields, f.Name)
			continue
		}
		plan.scalars = append(plan.scalars, scalarField{name: f.Name, index: index})
	}
}

func relationOf(f reflect.StructField, tag bunTag) (Relation, bool) {
	rel := Relation{Name: f.Name, Type: f.Type}
	switch {
	case isEntityPtr(f.Type):
		rel.Cardinality = One
	case f.Type.Kind() == reflect.Slice && isEntityPtr(f.Type.Elem()):
		rel.Cardinality = Many
	default:
		if tag.rel == "" {
			return Relation{}, false
		}
		if f.Type.Kind() == reflect.Slice {
			rel.Cardinality = Many
		}
	}

	rel.Kind = tag.rel
	for _, pair := range tag.joins {
		base, join, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		rel.BaseFields = append(rel.BaseFields, strings.TrimSpace(base))
		rel.JoinFields = append(rel.JoinFields, strings.TrimSpace(join))
	}
	return rel, true
}

func isEntityPtr(t reflect.Type) bool {
	return t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct && t.Implements(identifiableType)
}

// resolveJoin turns join column names into Go field names. BaseFields are
// resolved against the owner; JoinFields against the related type.
func resolveJoin(rel *Relation, ownerColumns map[string]string) {
	if len(rel.BaseFields) == 0 {
		return
	}
	related := columnIndex(rel.Type)
	for i, col := range rel.BaseFields {
		if name, ok := ownerColumns[col]; ok {
			rel.BaseFields[i] = name
		}
	}
	for i, col := range rel.JoinFields {
		if name, ok := related[col]; ok {
			rel.JoinFields[i] = name
		}
	}
}

// columnIndex maps column names to Go field names for a struct type.
func columnIndex(t reflect.Type) map[string]string {
	out := make(map[string]string)
	if t == nil {
		return out
	}
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return out
	}
	var walk func(reflect.Type)
	walk = func(t reflect.Type) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Anonymous && f.Type.Kind() == reflect.Struct {
				walk(f.Type)
				continue
			}
			if !f.IsExported() {
				continue
			}
			out[ColumnName(f)] = f.Name
		}
	}
	walk(t)
	return out
}

// ColumnName returns the column bun would use for a struct field.
func ColumnName(f reflect.StructField) string {
	if tag := parseBunTag(f.Tag.Get("bun")); tag.name != "" {
		return tag.name
	}
	return underscore(f.Name)
}

// underscore mirrors bun's default column naming.
func underscore(s string) string {
	b := make([]byte, 0, len(s)+5)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 && i+1 < len(s) && (isLower(s[i-1]) || isLower(s[i+1])) {
				b = append(b, '_', c+'a'-'A')
			} else {
				b = append(b, c+'a'-'A')
			}
			continue
		}
		b = append(b, c)
	}
	return string(b)
}

func isLower(c byte) bool { return c >= 'a' && c <= 'z' }

type bunTag struct {
	name    string
	rel     string
	joins   []string
	options map[string]bool
}

func parseBunTag(raw string) bunTag {
	tag := bunTag{options: make(map[string]bool)}
	if raw == "" || raw == "-" {
		return tag
	}
	parts := strings.Split(raw, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		key, value, hasValue := strings.Cut(part, ":")
		switch {
		case hasValue && key == "rel":
			tag.rel = value
		case hasValue && key == "join":
			tag.joins = append(tag.joins, value)
		case hasValue:
			tag.options[key] = true
		case i == 0:
			tag.name = part
		default:
			tag.options[part] = true
		}
	}
	return tag
}

// StructValue dereferences v down to an addressable struct value.
func StructValue(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return reflect.Value{}, fmt.Errorf("reflectx: expected non-nil pointer to struct, got %T", v)
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("reflectx: expected pointer to struct, got %T", v)
	}
	return rv, nil
}

// FieldByName returns the (possibly promoted) field name of the struct v
// points to.
func FieldByName(v any, name string) (reflect.Value, error) {
	rv, err := StructValue(v)
	if err != nil {
		return reflect.Value{}, err
	}
	f, ok := rv.Type().FieldByName(name)
	if !ok {
		return reflect.Value{}, fmt.Errorf("reflectx: %s has no field %q", rv.Type(), name)
	}
	fv, err := rv.FieldByIndexErr(f.Index)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("reflectx: field %q: %w", name, err)
	}
	return fv, nil
}

// SetField assigns value to the named field, converting when needed.
func SetField(v any, name string, value any) error {
	fv, err := FieldByName(v, name)
	if err != nil {
		return err
	}
	if !fv.CanSet() {
		return fmt.Errorf("reflectx: field %q is not settable", name)
	}
	val := reflect.ValueOf(value)
	if !val.IsValid() {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	if !val.Type().AssignableTo(fv.Type()) {
		if !val.Type().ConvertibleTo(fv.Type()) {
			return fmt.Errorf("reflectx: cannot assign %s to field %q of type %s", val.Type(), name, fv.Type())
		}
		val = val.Convert(fv.Type())
	}
	fv.Set(val)
	return nil
}

// CopyScalars copies every scalar field from src onto dst. Primary keys,
// audit metadata, relation slots and the fields named in skip are left
// untouched. dst and src must point to the same struct type.
func CopyScalars(dst, src any, skip ...string) error {
	dv, err := StructValue(dst)
	if err != nil {
		return err
	}
	sv, err := StructValue(src)
	if err != nil {
		return err
	}
	if dv.Type() != sv.Type() {
		return fmt.Errorf("reflectx: cannot copy %s onto %s", sv.Type(), dv.Type())
	}

	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipped[name] = true
	}

	for _, f := range PlanOf(dv.Type()).scalars {
		if skipped[f.name] {
			continue
		}
		dv.FieldByIndex(f.index).Set(sv.FieldByIndex(f.index))
	}
	return nil
}

// SyncJoin copies key values across one loaded relation: from the related
// entity onto the owner for belongs-to, from the owner onto the related
// entity for has-one and has-many. Unset source values are not copied.
func SyncJoin(owner any, rel Relation, related any) error {
	if len(rel.BaseFields) == 0 || len(rel.BaseFields) != len(rel.JoinFields) {
		return nil
	}
	for i := range rel.BaseFields {
		var err error
		switch {
		case rel.OwnsJoinColumns():
			err = copyField(owner, rel.BaseFields[i], related, rel.JoinFields[i])
		case rel.RelatedOwnsJoinColumns():
			err = copyField(related, rel.JoinFields[i], owner, rel.BaseFields[i])
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SyncJoinColumns refreshes the owner-side join columns of every loaded
// belongs-to relation of owner. Stores call it before writing a row so keys
// assigned to related rows earlier in the same batch are picked up.
func SyncJoinColumns(owner any) error {
	rv, err := StructValue(owner)
	if err != nil {
		return err
	}
	for _, rel := range PlanOf(rv.Type()).Relations {
		if !rel.OwnsJoinColumns() || rel.Cardinality != One {
			continue
		}
		slot := rv.FieldByIndex(rel.Index)
		if slot.Kind() != reflect.Ptr || slot.IsNil() {
			continue
		}
		if err := SyncJoin(owner, rel, slot.Interface()); err != nil {
			return err
		}
	}
	return nil
}

func copyField(dst any, dstField string, src any, srcField string) error {
	sv, err := FieldByName(src, srcField)
	if err != nil {
		return err
	}
	if sv.IsZero() {
		return nil
	}
	return SetField(dst, dstField, sv.Interface())
}
