package database

import (
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-courses/core"
)

const pqUniqueViolation = pq.ErrorCode("23505")

// IsUniqueViolation reports whether err is a driver error raised by a unique index.
func IsUniqueViolation(err error) bool {
	switch e := errors.Cause(err).(type) {
	case *pq.Error:
		return e.Code == pqUniqueViolation
	case sqlite3.Error:
		return e.ExtendedCode == sqlite3.ErrConstraintUnique || e.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Wrap wraps err with msg. Unique violations are turned into core.ErrUniqueViolation,
// so that callers can check them with errors.Cause regardless of the driver.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return errors.Wrapf(core.ErrUniqueViolation, "%s: %v", msg, err)
	}
	return errors.Wrap(err, msg)
}

// LockClause returns the row lock suffix for a SELECT run through exec.
// sqlite3 has no row locks; its transactions are serialized by the connection settings instead.
func LockClause(exec core.DBExecutor) string {
	if exec.DriverName() == core.EnginePostgres {
		return " FOR UPDATE"
	}
	return ""
}
