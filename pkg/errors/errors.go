package harbor_errors

import (
	"errors"
)

// Common errors
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrRoomNotFound     = errors.New("room not found")
	ErrInvalidRoomSize  = errors.New("room requires at least two distinct participants")
	ErrConflict         = errors.New("conflict")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("durable store unavailable")
	ErrAlreadyExists    = errors.New("already exists")
)
