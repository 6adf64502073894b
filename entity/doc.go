// Package entity defines the identity contract shared by every storage
// entity: a comparable key whose zero value means "not yet assigned", and the
// audit Metadata carried alongside it.
//
// Storage entities usually embed Model:
//
//	type UserRecord struct {
//		bun.BaseModel `bun:"table:users"`
//		entity.Model[int64]
//		Name  string `bun:"name"`
//		Email string `bun:"email"`
//	}
//
// Key generation is a pluggable policy. NoopKeyGenerator is the default and
// deliberately assigns nothing; Sequence, UUIDGenerator and
// UUIDStringGenerator cover the common key types.
package entity
