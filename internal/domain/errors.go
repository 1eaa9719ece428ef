package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrReferenceMissing   = errors.New("referenced row missing")
	ErrStateConflict      = errors.New("state conflict")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidObservation = errors.New("invalid observation")
	ErrReadOnly           = errors.New("statement is not read-only")
	ErrRateLimited        = errors.New("rate limited")
	ErrLockHeld           = errors.New("lock already held")
)
