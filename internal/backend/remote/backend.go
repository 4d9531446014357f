// Package remote talks JSON over HTTP to a long-running synthesis worker.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ekisa-team/speakd/internal/audio"
	"github.com/ekisa-team/speakd/internal/backend"
)

// HeaderTensorShape carries the comma separated shape of a raw float32 body.
const HeaderTensorShape = "X-Tensor-Shape"

const (
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	contentTypeJSON     = "application/json"
	contentTypeOctet    = "application/octet-stream"
	workerName          = "synthesis-worker"
	defaultGeneratePath = "/generate"
	defaultHealthPath   = "/health"
)

// Config describes how to reach (and optionally start) the worker.
type Config struct {
	// BaseURL is the worker address, e.g. http://127.0.0.1:5124.
	BaseURL      string
	GeneratePath string
	HealthPath   string
	Timeout      time.Duration

	// Spawn, when set, starts the worker on Load. BaseURL then defaults to
	// http://127.0.0.1:<Spawn.Port>.
	Spawn *backend.ServerConfig
}

// GenerateRequest is the JSON body sent to the worker.
type GenerateRequest struct {
	Text       string         `json:"text"`
	Device     string         `json:"device,omitempty"`
	ModelPath  string         `json:"model_path,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ErrorResponse is the worker's JSON error body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Backend implements backend.Backend over HTTP.
type Backend struct {
	cfg           Config
	client        *http.Client
	serverManager *backend.ServerManager
	loaded        atomic.Bool
}

// NewBackend creates a remote backend. serverManager may be nil when
// cfg.Spawn is nil.
func NewBackend(cfg Config, serverManager *backend.ServerManager) *Backend {
	if cfg.GeneratePath == "" {
		cfg.GeneratePath = defaultGeneratePath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = defaultHealthPath
	}
	if cfg.Spawn != nil {
		if cfg.Spawn.Name == "" {
			cfg.Spawn.Name = workerName
		}
		if cfg.Spawn.HealthPath == "" {
			cfg.Spawn.HealthPath = cfg.HealthPath
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Spawn.Port)
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Backend{
		cfg:           cfg,
		client:        &http.Client{Timeout: cfg.Timeout},
		serverManager: serverManager,
	}
}

// Provider returns the backend identifier.
func (b *Backend) Provider() backend.BackendProvider {
	return backend.BackendProviderRemote
}

// Load starts the worker if configured, then checks that it is healthy.
func (b *Backend) Load(ctx context.Context, req *backend.LoadRequest) error {
	if b.cfg.Spawn != nil {
		spawn := *b.cfg.Spawn
		spawn.Args = append(append([]string{}, spawn.Args...), "--device", req.Device)
		if req.ModelPath != "" {
			spawn.Args = append(spawn.Args, "--model", req.ModelPath)
		}
		if err := b.serverManager.StartServer(ctx, spawn); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}

	if err := b.HealthCheck(ctx); err != nil {
		return err
	}

	b.loaded.Store(true)
	slog.Info("Synthesis worker ready", "url", b.cfg.BaseURL, "device", req.Device)
	return nil
}

// HealthCheck verifies that the worker answers its health endpoint.
func (b *Backend) HealthCheck(ctx context.Context) error {
	url := b.cfg.BaseURL + b.cfg.HealthPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for worker at %s: %w", b.cfg.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}
	return nil
}

// Infer posts the text to the worker and decodes the returned audio.
func (b *Backend) Infer(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	if !b.loaded.Load() {
		return nil, backend.ErrNotLoaded
	}

	text, err := io.ReadAll(req.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	body, err := json.Marshal(GenerateRequest{
		Text:       string(text),
		Device:     req.Device,
		ModelPath:  req.ModelPath,
		Parameters: req.Parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+b.cfg.GeneratePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, audio.ContentType+", "+contentTypeOctet)

	start := time.Now()

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to worker at %s: %w", b.cfg.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}
	if len(data) == 0 {
		return nil, backend.ErrEmptyOutput
	}

	tensor, err := decodeBody(resp.Header, data)
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
				"url":          b.cfg.BaseURL,
				"content_type": resp.Header.Get(headerContentType),
			},
		},
	}, nil
}

func decodeBody(h http.Header, data []byte) (*audio.Tensor, error) {
	mediaType, _, err := mime.ParseMediaType(h.Get(headerContentType))
	if err != nil {
		return nil, fmt.Errorf("unexpected content type %q: %w", h.Get(headerContentType), err)
	}

	switch mediaType {
	case audio.ContentType, "audio/x-wav", "audio/wave":
		return audio.DecodeWAV(data)
	case contentTypeOctet:
		shape, err := ParseShape(h.Get(HeaderTensorShape))
		if err != nil {
			return nil, err
		}
		return audio.DecodeRawFloat32(data, shape)
	default:
		return nil, fmt.Errorf("unexpected content type: %s", mediaType)
	}
}

// ParseShape parses a header value such as "1,1,24000". An empty value
// yields a nil shape (flat vector).
func ParseShape(v string) ([]int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}

	parts := strings.Split(v, ",")
	shape := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s %q", HeaderTensorShape, v)
		}
		shape = append(shape, n)
	}
	return shape, nil
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		msg := errResp.Error
		if msg == "" {
			msg = errResp.Detail
		}
		if msg != "" {
			return fmt.Errorf("worker error (%s): %s", resp.Status, msg)
		}
	}

	return fmt.Errorf("worker returned non-OK status: %s, body: %s", resp.Status, strings.TrimSpace(string(body)))
}

// Close stops a spawned worker.
func (b *Backend) Close() error {
	b.loaded.Store(false)
	if b.cfg.Spawn == nil || b.serverManager == nil {
		return nil
	}
	if err := b.serverManager.StopServer(b.cfg.Spawn.Name, b.cfg.Spawn.Port); err != nil {
		slog.Debug("Worker was not running", "error", err)
	}
	return nil
}

var _ backend.Backend = (*Backend)(nil)
