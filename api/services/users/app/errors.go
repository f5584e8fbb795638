package app

import "errors"

var (
	// ErrInvalidInput indicates a malformed email or a too short password.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmailTaken indicates the email already belongs to an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDatabase indicates a database-related failure.
	ErrDatabase = errors.New("database error")
)
