package registry

import (
	"errors"
)

// Registry error types
var (
	ErrDuplicateName = errors.New("connection name already registered")
	ErrNotFound      = errors.New("connection not found")
	ErrInvalidName   = errors.New("invalid connection name")
	ErrNilHandle     = errors.New("connection handle is nil")
)
