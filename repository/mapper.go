package repository

// Mapper translates between the domain model D and the storage entity E.
// Implementations must return new instances on every call.
type Mapper[D, E any] interface {
	ToEntity(d D) (E, error)
	ToDomain(e E) (D, error)
}

// MapperFuncs adapts a pair of functions to Mapper.
type MapperFuncs[D, E any] struct {
	ToEntityFunc func(D) (E, error)
	ToDomainFunc func(E) (D, error)
}

var _ Mapper[any, any] = MapperFuncs[any, any]{}

// ToEntity calls ToEntityFunc.
func (m MapperFuncs[D, E]) ToEntity(d D) (E, error) {
	return m.ToEntityFunc(d)
}

// ToDomain calls ToDomainFunc.
func (m MapperFuncs[D, E]) ToDomain(e E) (D, error) {
	return m.ToDomainFunc(e)
}

// IdentityMapper exposes the storage entity as the domain model. Callers get
// the tracked instance back from Read, so handing it to Update marks it
// modified without a fetch.
type IdentityMapper[E any] struct{}

var _ Mapper[any, any] = IdentityMapper[any]{}

// ToEntity returns e.
func (IdentityMapper[E]) ToEntity(e E) (E, error) { return e, nil }

// ToDomain returns e.
func (IdentityMapper[E]) ToDomain(e E) (E, error) { return e, nil }
