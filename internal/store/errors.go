package store

import (
	"errors"
	"strings"
)

// Row-level sentinel errors returned by the per-entity helpers below.
// Higher layers translate these into ghosterr.Kind values.
var (
	ErrNotFound     = errors.New("store: row not found")
	ErrDuplicateKey = errors.New("store: primary key already exists")
)

// isUniqueConstraintError reports whether err is a SQLite UNIQUE/PRIMARY KEY
// constraint violation, the way the teacher's storage layer distinguishes
// a lost race on a unique key from other failures.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
}
