package entity

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// KeyGenerator produces keys for entities created without one.
// TryGenerate returns false when no key was produced; the caller then keeps
// the unset key.
type KeyGenerator[K comparable] interface {
	TryGenerate(ctx context.Context) (K, bool, error)
}

// KeyGeneratorFunc adapts a function to KeyGenerator.
type KeyGeneratorFunc[K comparable] func(ctx context.Context) (K, bool, error)

// TryGenerate calls f.
func (f KeyGeneratorFunc[K]) TryGenerate(ctx context.Context) (K, bool, error) {
	return f(ctx)
}

// NoopKeyGenerator reports success but leaves the key at its zero value.
// It is a placeholder; concrete repositories should supply a real policy.
type NoopKeyGenerator[K comparable] struct{}

// TryGenerate returns the zero key and true.
func (NoopKeyGenerator[K]) TryGenerate(context.Context) (K, bool, error) {
	var zero K
	return zero, true, nil
}

// Sequence hands out increasing int64 keys. When a seed function is set it
// is called once, on first use, and the sequence continues after its result.
type Sequence struct {
	next atomic.Int64
	once sync.Once
	seed func(ctx context.Context) (int64, error)
	err  error
}

// NewSequence returns a sequence whose first key is start.
func NewSequence(start int64) *Sequence {
	s := &Sequence{}
	s.next.Store(start - 1)
	return s
}

// NewSeededSequence returns a sequence that continues after the value
// reported by seed, typically the highest key already stored.
func NewSeededSequence(seed func(ctx context.Context) (int64, error)) *Sequence {
	return &Sequence{seed: seed}
}

// TryGenerate returns the next key in the sequence.
func (s *Sequence) TryGenerate(ctx context.Context) (int64, bool, error) {
	if s.seed != nil {
		s.once.Do(func() {
			current, err := s.seed(ctx)
			if err != nil {
				s.err = err
				return
			}
			s.next.Store(current)
		})
		if s.err != nil {
			return 0, false, s.err
		}
	}
	return s.next.Add(1), true, nil
}

// UUIDGenerator generates random (v4) or time ordered (v7) UUID keys.
type UUIDGenerator struct {
	TimeOrdered bool
}

// TryGenerate returns a new UUID.
func (g UUIDGenerator) TryGenerate(context.Context) (uuid.UUID, bool, error) {
	if g.TimeOrdered {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.Nil, false, err
		}
		return id, true, nil
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// UUIDStringGenerator generates UUID keys rendered as strings.
type UUIDStringGenerator struct {
	TimeOrdered bool
}

// TryGenerate returns a new UUID string.
func (g UUIDStringGenerator) TryGenerate(ctx context.Context) (string, bool, error) {
	id, ok, err := UUIDGenerator{TimeOrdered: g.TimeOrdered}.TryGenerate(ctx)
	if err != nil || !ok {
		return "", ok, err
	}
	return id.String(), true, nil
}
