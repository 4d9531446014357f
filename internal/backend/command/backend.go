// Package command runs a synthesis binary once per request.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ekisa-team/speakd/internal/audio"
	"github.com/ekisa-team/speakd/internal/backend"
	"github.com/ekisa-team/speakd/internal/mapsafe"
)

// floatFlags are numeric parameters passed through as flags of the same name.
var floatFlags = []string{"exaggeration", "cfg_weight", "temperature", "speed"}

// Backend implements backend.Backend by spawning the synthesis binary. Text
// is written to stdin and the binary writes a WAV file to --output_file.
type Backend struct {
	executor *backend.Executor
	tempDir  string
}

// NewBackend creates a command backend for binPath. A zero timeout disables
// the per-request deadline.
func NewBackend(binPath string, timeout time.Duration) *Backend {
	return NewBackendWithExecutor(backend.NewExecutor(binPath, timeout))
}

// NewBackendWithExecutor creates a command backend around an existing executor.
func NewBackendWithExecutor(executor *backend.Executor) *Backend {
	return &Backend{
		executor: executor,
		tempDir:  os.TempDir(),
	}
}

// Provider returns the backend identifier.
func (b *Backend) Provider() backend.BackendProvider {
	return backend.BackendProviderCommand
}

// Load verifies the binary can be found. The process is started per request.
func (b *Backend) Load(_ context.Context, req *backend.LoadRequest) error {
	path, err := b.executor.Resolve()
	if err != nil {
		return err
	}
	slog.Info("Synthesis binary resolved", "path", path, "device", req.Device)
	return nil
}

// Infer synthesizes speech from text.
func (b *Backend) Infer(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	start := time.Now()

	// The binary only writes to a file, so it's read back afterwards.
	outputFile := filepath.Join(b.tempDir, "speakd_"+uuid.NewString()+".wav")
	defer os.Remove(outputFile)

	args := buildArgs(req, outputFile)

	stdout, stderr, err := b.executor.Execute(ctx, args, req.Input)
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w\nstderr: %s", err, stderr)
	}

	data, err := os.ReadFile(outputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	if len(data) == 0 {
		return nil, backend.ErrEmptyOutput
	}

	tensor, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	return &backend.Response{
		Tensor: tensor,
		Metadata: &backend.ResponseMetadata{
			Provider:    b.Provider(),
			Model:       req.ModelPath,
			Device:      req.Device,
			Timestamp:   time.Now(),
			Elapsed:     time.Since(start),
			OutputBytes: int64(len(data)),
			BackendSpecific: map[string]any{
				"stdout": string(stdout),
				"stderr": string(stderr),
				"args":   args,
			},
		},
	}, nil
}

func buildArgs(req *backend.Request, outputFile string) []string {
	args := []string{"--output_file", outputFile}

	if req.Device != "" {
		args = append(args, "--device", req.Device)
	}
	if req.ModelPath != "" {
		args = append(args, "--model", req.ModelPath)
	}

	p := req.Parameters
	if p == nil {
		return args
	}

	for _, name := range floatFlags {
		if _, ok := p[name]; !ok {
			continue
		}
		v := mapsafe.Get(p, name, 0.0)
		args = append(args, "--"+name, strconv.FormatFloat(v, 'f', -1, 64))
	}

	if seed := mapsafe.Get(p, "seed", -1); seed >= 0 {
		args = append(args, "--seed", strconv.Itoa(seed))
	}

	if voice := mapsafe.Get(p, "voice", ""); voice != "" {
		args = append(args, "--voice", voice)
	}

	return append(args, mapsafe.Get(p, "extra_args", []string(nil))...)
}

// Close is a no-op; nothing outlives a request.
func (b *Backend) Close() error {
	return nil
}

var _ backend.Backend = (*Backend)(nil)
