package config

import "errors"

// Error definitions for the config package.
var (
	ErrNoSource       = errors.New("no source configured for model")
	ErrUnknownBackend = errors.New("unknown backend")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrUnsupportedExt = errors.New("unsupported config file extension")
)
