// Package model owns the process-wide synthesis model handle: lazy loading,
// device selection and generation through a backend.
package model

import "time"

// ModelStatus is the current loading status of the model.
type ModelStatus string

const (
	// ModelStatusUnloaded indicates that the model is not loaded.
	ModelStatusUnloaded ModelStatus = "unloaded"

	// ModelStatusLoading indicates that the model is being loaded.
	ModelStatusLoading ModelStatus = "loading"

	// ModelStatusLoaded indicates that the model is loaded.
	ModelStatusLoaded ModelStatus = "loaded"

	// ModelStatusFailed indicates that the last load attempt failed.
	ModelStatusFailed ModelStatus = "failed"
)

// Status is a snapshot of the handle.
type Status struct {
	LoadedAt *time.Time  `json:"loaded_at,omitempty"`
	Status   ModelStatus `json:"status"`
	Device   string      `json:"device,omitempty"`
	Path     string      `json:"path,omitempty"`
	Error    string      `json:"error,omitempty"`
	Loaded   bool        `json:"loaded"`
}

type loadedState struct {
	loadedAt time.Time
	device   string
	path     string
}
