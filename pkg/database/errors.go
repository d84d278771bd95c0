package database

import (
	"errors"

	"github.com/lib/pq"
)

// SQLSTATE codes the workflow distinguishes.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

func pqCode(err error) (string, string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint
	}
	return "", ""
}

// IsUniqueViolation reports whether err is a duplicate-key failure, optionally on a named constraint.
func IsUniqueViolation(err error, constraint ...string) bool {
	code, name := pqCode(err)
	return code == CodeUniqueViolation && matchesConstraint(name, constraint)
}

// IsForeignKeyViolation reports whether err is a reference failure, optionally on a named constraint.
func IsForeignKeyViolation(err error, constraint ...string) bool {
	code, name := pqCode(err)
	return code == CodeForeignKeyViolation && matchesConstraint(name, constraint)
}

// IsTransient reports serialization and deadlock failures that a user may retry.
func IsTransient(err error) bool {
	code, _ := pqCode(err)
	return code == CodeSerializationFailure || code == CodeDeadlockDetected
}

func matchesConstraint(actual string, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if w == actual {
			return true
		}
	}
	return false
}
