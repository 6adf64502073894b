package bunstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/goliatone/go-repository-core/repoerr"
)

const pgUniqueViolation = "23505"

// translate maps driver errors onto repository error kinds.
func translate(err error, entityName string, key any) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return repoerr.WrapDuplicateKey(err, entityName)
	}
	return fmt.Errorf("bunstore: %s %v: %w", entityName, key, err)
}

// IsUniqueViolation reports whether err is a primary key or unique
// constraint violation from any of the supported drivers.
func IsUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}

	var modErr *sqlite.Error
	if errors.As(err, &modErr) {
		switch code := modErr.Code(); {
		case code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY, code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case code&0xff == sqlitelib.SQLITE_CONSTRAINT:
			// primary result code only, extended codes disabled
			return strings.Contains(modErr.Error(), "UNIQUE constraint failed")
		default:
			return false
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
