package app

import "errors"

var (
	// ErrNotFound indicates the user has no entitlement record.
	ErrNotFound = errors.New("entitlement not found")
	// ErrDatabase indicates a database-related failure.
	ErrDatabase = errors.New("database error")
)
