package backend

import "errors"

// Error definitions for the backend package.
var (
	ErrBackendNotFound          = errors.New("backend not found in registry")
	ErrBackendAlreadyRegistered = errors.New("backend is already registered in the registry")
	ErrBinaryNotFound           = errors.New("synthesis binary not found")
	ErrNotLoaded                = errors.New("backend is not loaded")
	ErrEmptyOutput              = errors.New("synthesis produced no audio")
)
