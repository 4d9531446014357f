package model

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ekisa-team/speakd/internal/audio"
	"github.com/ekisa-team/speakd/internal/backend"
	"github.com/ekisa-team/speakd/internal/config"
	"github.com/ekisa-team/speakd/internal/config/source"
	"github.com/ekisa-team/speakd/internal/device"
)

// DeviceResolver picks the device to load on.
type DeviceResolver interface {
	Resolve(ctx context.Context, preferred device.Device) device.Device
}

// Option configures a Handle.
type Option func(*Handle)

// WithDevice sets the preferred device. device.Auto detects.
func WithDevice(d device.Device) Option {
	return func(h *Handle) {
		h.preferred = d
	}
}

// WithDeviceResolver replaces the platform detector.
func WithDeviceResolver(r DeviceResolver) Option {
	return func(h *Handle) {
		h.resolver = r
	}
}

// WithSource downloads weights from src into modelsDir before loading.
func WithSource(src config.ModelSource, dl source.Downloader, modelsDir string) Option {
	return func(h *Handle) {
		h.source = src
		h.downloader = dl
		h.modelsDir = modelsDir
	}
}

// WithParameters sets the initial inference parameters.
func WithParameters(params map[string]any) Option {
	return func(h *Handle) {
		h.SetParameters(params)
	}
}

// Handle is the lazily loaded synthesis model. It is safe for concurrent use.
type Handle struct {
	backend    backend.Backend
	resolver   DeviceResolver
	preferred  device.Device
	source     config.ModelSource
	downloader source.Downloader
	modelsDir  string

	// mu serializes loading; state is the lock-free fast path once loaded.
	mu     sync.Mutex
	state  atomic.Pointer[loadedState]
	params atomic.Pointer[map[string]any]

	statusMu sync.RWMutex
	status   ModelStatus
	lastErr  error
}

// NewHandle creates an unloaded handle around b.
func NewHandle(b backend.Backend, opts ...Option) *Handle {
	h := &Handle{
		backend:   b,
		resolver:  device.NewDetector(),
		preferred: device.Auto,
		status:    ModelStatusUnloaded,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load initializes the model once and returns the active device. Concurrent
// callers wait for the first load. A failed load is not remembered, so the
// next call tries again.
func (h *Handle) Load(ctx context.Context) (string, error) {
	st, err := h.load(ctx)
	if err != nil {
		return "", err
	}
	return st.device, nil
}

func (h *Handle) load(ctx context.Context) (*loadedState, error) {
	if st := h.state.Load(); st != nil {
		return st, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if st := h.state.Load(); st != nil {
		return st, nil
	}

	h.setStatus(ModelStatusLoading, nil)
	start := time.Now()

	dev := string(h.resolver.Resolve(ctx, h.preferred))
	slog.Info("Loading model", "provider", h.backend.Provider(), "device", dev)

	var path string
	if h.source != nil {
		p, cached, err := h.downloader.Download(ctx, h.source, h.modelsDir)
		if err != nil {
			return nil, h.fail(err)
		}
		path = p
		slog.Info("Model weights ready", "path", path, "cached", cached)
	}

	if err := h.backend.Load(ctx, &backend.LoadRequest{ModelPath: path, Device: dev}); err != nil {
		return nil, h.fail(err)
	}

	st := &loadedState{loadedAt: time.Now(), device: dev, path: path}
	h.state.Store(st)
	h.setStatus(ModelStatusLoaded, nil)

	slog.Info("Model loaded successfully", "device", dev, "elapsed", time.Since(start).Round(time.Millisecond))
	return st, nil
}

func (h *Handle) fail(err error) error {
	h.setStatus(ModelStatusFailed, err)
	slog.Error("Error loading model", "error", err)
	return fmt.Errorf("%w: %w", ErrLoadFailed, err)
}

// Generate synthesizes text, loading the model first if needed.
func (h *Handle) Generate(ctx context.Context, text string) (*audio.Tensor, error) {
	st, err := h.load(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := h.backend.Infer(ctx, &backend.Request{
		ModelPath:  st.path,
		Device:     st.device,
		Input:      strings.NewReader(text),
		Parameters: h.Parameters(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerateFailed, err)
	}

	if md := resp.Metadata; md != nil {
		slog.Debug("Generated audio", "shape", resp.Tensor.Shape, "elapsed", md.Elapsed, "bytes", md.OutputBytes)
	}

	return resp.Tensor, nil
}

// Device returns the active device, or the one a load would pick.
func (h *Handle) Device(ctx context.Context) string {
	if st := h.state.Load(); st != nil {
		return st.device
	}
	return string(h.resolver.Resolve(ctx, h.preferred))
}

// Status returns a snapshot for health reporting.
func (h *Handle) Status() Status {
	h.statusMu.RLock()
	s := Status{Status: h.status}
	if h.lastErr != nil {
		s.Error = h.lastErr.Error()
	}
	h.statusMu.RUnlock()

	if st := h.state.Load(); st != nil {
		at := st.loadedAt
		s.Loaded = true
		s.LoadedAt = &at
		s.Device = st.device
		s.Path = st.path
	}
	return s
}

// SetParameters replaces the inference parameters used by later requests.
func (h *Handle) SetParameters(params map[string]any) {
	cloned := maps.Clone(params)
	h.params.Store(&cloned)
}

// Parameters returns the current inference parameters. Callers must not
// modify the map.
func (h *Handle) Parameters() map[string]any {
	if p := h.params.Load(); p != nil {
		return *p
	}
	return nil
}

// Close releases the backend. A later Load starts from scratch.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state.Store(nil)
	h.setStatus(ModelStatusUnloaded, nil)
	return h.backend.Close()
}

func (h *Handle) setStatus(s ModelStatus, err error) {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()

	h.status = s
	h.lastErr = err
}
