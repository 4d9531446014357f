package backend

import (
	"context"
	"io"
	"time"

	"github.com/ekisa-team/speakd/internal/audio"
)

// BackendProvider is a string identifier for a backend provider.
type BackendProvider string

const (
	// BackendProviderCommand runs a synthesis binary once per request.
	BackendProviderCommand BackendProvider = "command"

	// BackendProviderRemote talks JSON over HTTP to a synthesis worker.
	BackendProviderRemote BackendProvider = "remote"

	// BackendProviderRPC talks gRPC to a synthesis worker.
	BackendProviderRPC BackendProvider = "rpc"
)

// Backend defines the boundary around the external speech synthesis model.
type Backend interface {
	// Provider returns the backend identifier.
	Provider() BackendProvider

	// Load prepares the model on the given device. It is called once per
	// process before the first Infer.
	Load(ctx context.Context, req *LoadRequest) error

	// Infer synthesizes speech and returns the raw output tensor.
	Infer(ctx context.Context, req *Request) (*Response, error)

	// Close cleans up resources.
	Close() error
}

// LoadRequest describes where and how the model should be loaded.
type LoadRequest struct {
	// ModelPath is the local weights directory, empty when the worker
	// resolves weights on its own.
	ModelPath string

	// Device is the compute device (cuda, mps, cpu).
	Device string
}

// Request encapsulates all parameters for an inference call.
type Request struct {
	// ModelPath is the path to the model weights.
	ModelPath string

	// Device is the compute device chosen at load time.
	Device string

	// Input is the text to synthesize.
	Input io.Reader

	// Parameters contains backend-specific inference parameters.
	Parameters map[string]any
}

// Response contains the result of an inference operation.
type Response struct {
	// Tensor is the synthesized waveform, in whatever shape the model produced.
	Tensor *audio.Tensor

	// Metadata contains backend-specific information.
	Metadata *ResponseMetadata
}

// ResponseMetadata contains metadata about the response.
type ResponseMetadata struct {
	Provider        BackendProvider `json:"provider"`
	Model           string          `json:"model"`
	Device          string          `json:"device"`
	Timestamp       time.Time       `json:"timestamp"`
	Elapsed         time.Duration   `json:"elapsed"`
	OutputBytes     int64           `json:"output_bytes"`
	BackendSpecific map[string]any  `json:"backend_specific"`
}
