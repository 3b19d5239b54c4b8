package store

import (
	stderrors "errors"
	"strings"

	"github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/vitals/internal/errors"
)

var (
	ErrNotFound           = errors.ErrNotFound
	ErrDataSourceNotFound = errors.ErrDataSourceNotFound
	ErrSampleNotFound     = errors.ErrSampleNotFound
	ErrSettingsNotFound   = errors.ErrSettingsNotFound
	ErrSingletonViolation = errors.ErrSingletonViolation
)

// IsUniqueViolation reports whether err is a uniqueness conflict raised by
// DuckDB. Concurrent transactions inserting the same key surface either as a
// constraint error or as a transaction (write-write) conflict at commit.
// Foreign key and CHECK failures are constraint errors too but do not match.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var dbErr *duckdb.Error
	if stderrors.As(err, &dbErr) {
		switch dbErr.Type {
		case duckdb.ErrorTypeTransaction:
			return true
		case duckdb.ErrorTypeConstraint:
			return isDuplicateKeyMessage(dbErr.Msg)
		}
	}
	return isDuplicateKeyMessage(err.Error())
}

func isDuplicateKeyMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "violates unique constraint") ||
		strings.Contains(msg, "violates primary key constraint") ||
		strings.Contains(msg, "unique constraint violated") ||
		strings.Contains(msg, "conflict on")
}
