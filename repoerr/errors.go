// Package repoerr defines the error kinds surfaced by the repository core and
// its stores. Errors are go-errors values so upper layers can map categories
// to transport codes; use the Is helpers to branch on kind.
package repoerr

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes distinguishing the repository error kinds.
const (
	TextCodeNotFound        = "NOT_FOUND"
	TextCodeDuplicateKey    = "DUPLICATE_KEY"
	TextCodeInvalidArgument = "INVALID_ARGUMENT"
)

// NotFound reports that no entity of the given kind has key.
func NotFound(entityName string, key any) error {
	return goerrors.New(fmt.Sprintf("%s with key %v not found", entityName, key), goerrors.CategoryNotFound).
		WithTextCode(TextCodeNotFound)
}

// DuplicateKey reports that more than one entity shares key, or that the
// same identity was registered twice.
func DuplicateKey(entityName string, key any) error {
	return goerrors.New(fmt.Sprintf("duplicate %s key %v", entityName, key), goerrors.CategoryConflict).
		WithTextCode(TextCodeDuplicateKey)
}

// InvalidArgument reports a missing or malformed required input.
func InvalidArgument(format string, args ...any) error {
	return goerrors.New(fmt.Sprintf(format, args...), goerrors.CategoryBadInput).
		WithTextCode(TextCodeInvalidArgument)
}

// WrapDuplicateKey wraps a backend constraint violation as DuplicateKey.
func WrapDuplicateKey(err error, entityName string) error {
	return goerrors.Wrap(err, goerrors.CategoryConflict, fmt.Sprintf("duplicate %s key", entityName)).
		WithTextCode(TextCodeDuplicateKey)
}

// WrapNotFound wraps a backend error as NotFound.
func WrapNotFound(err error, entityName string, key any) error {
	return goerrors.Wrap(err, goerrors.CategoryNotFound, fmt.Sprintf("%s with key %v not found", entityName, key)).
		WithTextCode(TextCodeNotFound)
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	return hasKind(err, goerrors.CategoryNotFound, TextCodeNotFound)
}

// IsDuplicateKey reports whether err is a DuplicateKey error.
func IsDuplicateKey(err error) bool {
	return hasKind(err, goerrors.CategoryConflict, TextCodeDuplicateKey)
}

// IsInvalidArgument reports whether err is an InvalidArgument error.
func IsInvalidArgument(err error) bool {
	return hasKind(err, goerrors.CategoryBadInput, TextCodeInvalidArgument)
}

func hasKind(err error, category goerrors.Category, textCode string) bool {
	var target *goerrors.Error
	if !errors.As(err, &target) {
		return false
	}
	return target.Category == category && target.TextCode == textCode
}
