package model

import "errors"

// Error definitions for the model package.
var (
	ErrLoadFailed     = errors.New("model failed to load")
	ErrGenerateFailed = errors.New("speech generation failed")
)
