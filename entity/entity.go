package entity

import "time"

// Metadata carries the audit fields attached to every storage entity.
// The scope auditor populates it when pending writes are flushed.
type Metadata struct {
	CreatedAt time.Time `json:"created_at" bun:"created_at,nullzero"`
	CreatedBy string    `json:"created_by" bun:"created_by"`
	UpdatedAt time.Time `json:"updated_at" bun:"updated_at,nullzero"`
	UpdatedBy string    `json:"updated_by" bun:"updated_by"`
}

// Identifiable is the untyped view of an entity used by the scope and by
// relation reconciliation, where the key type is not known statically.
type Identifiable interface {
	IdentityKey() any
	IsTransient() bool
}

// Entity is the storage-shaped contract keyed by K.
type Entity[K comparable] interface {
	Identifiable
	GetID() K
	SetID(id K)
	GetMetadata() *Metadata
}

// Model is the embeddable implementation of Entity.
//
//	type UserRecord struct {
//		bun.BaseModel `bun:"table:users"`
//		entity.Model[int64]
//		Name string
//	}
type Model[K comparable] struct {
	ID K `json:"id" bun:"id,pk,nullzero"`
	Metadata
}

// GetID returns the entity key.
func (m *Model[K]) GetID() K { return m.ID }

// SetID assigns the entity key.
func (m *Model[K]) SetID(id K) { m.ID = id }

// GetMetadata returns a pointer to the audit metadata.
func (m *Model[K]) GetMetadata() *Metadata { return &m.Metadata }

// IdentityKey returns the key as an untyped value.
func (m *Model[K]) IdentityKey() any { return m.ID }

// IsTransient reports whether the key is still unset.
func (m *Model[K]) IsTransient() bool { return IsUnset(m.ID) }

// IsUnset reports whether key holds the zero value of K.
func IsUnset[K comparable](key K) bool {
	var zero K
	return key == zero
}

// KeysEqual compares two keys.
func KeysEqual[K comparable](a, b K) bool {
	return a == b
}
