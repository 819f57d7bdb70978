package service

import (
	"errors"
	"fmt"
)

// Errors returned by the user and menu services. Store failures are passed
// through unchanged and can be matched against the repository errors.
var (
	ErrInvalid         = errors.New("invalid username or password")
	ErrWeakPassword    = errors.New("password too weak")
	ErrExists          = errors.New("user already exists")
	ErrPending         = errors.New("registration already pending")
	ErrNotPending      = errors.New("user is not pending")
	ErrAdminDelete     = errors.New("admin cannot be deleted")
	ErrNotAllowed      = errors.New("user is not allowed")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNoPassword      = errors.New("no password set")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidMenu     = errors.New("invalid menu")
)

// Approval steps, in the order they are written.
const (
	StepPasswords = "passwords"
	StepUsers     = "users"
	StepPending   = "pending"
)

// StepError reports which write of a multi-document operation failed.
// Writes before Step have been committed; running the operation again
// completes the rest.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
