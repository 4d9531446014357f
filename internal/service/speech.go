package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ekisa-team/speakd/internal/audio"
	"github.com/ekisa-team/speakd/internal/audiocache"
	"github.com/ekisa-team/speakd/internal/cachekey"
	"github.com/ekisa-team/speakd/internal/model"
)

// Model is the synthesis model as seen by the service.
type Model interface {
	Load(ctx context.Context) (string, error)
	Generate(ctx context.Context, text string) (*audio.Tensor, error)
	Device(ctx context.Context) string
	Status() model.Status
}

// Result is the outcome of a Speak call.
type Result struct {
	Path  string
	Key   string
	Audio []byte
	Hit   bool
}

// Health is reported by the health endpoint.
type Health struct {
	Status        string     `json:"status"`
	ModelLoaded   bool       `json:"model_loaded"`
	Device        string     `json:"device"`
	CacheDir      string     `json:"cache_dir"`
	AudioCacheDir string     `json:"audio_cache_dir"`
	CacheEntries  int        `json:"cache_entries"`
	CacheBytes    int64      `json:"cache_bytes"`
	ModelStatus   string     `json:"model_status"`
	ModelError    string     `json:"model_error,omitempty"`
	LoadedAt      *time.Time `json:"loaded_at,omitempty"`
}

// SpeechOption configures Speech.
type SpeechOption func(*Speech)

// WithSampleRate sets the rate used for tensors that do not carry one.
func WithSampleRate(rate int) SpeechOption {
	return func(s *Speech) {
		s.sampleRate = rate
	}
}

// WithModelsDir sets the weight cache directory reported by Health.
func WithModelsDir(dir string) SpeechOption {
	return func(s *Speech) {
		s.modelsDir = dir
	}
}

// Speech turns text into cached WAV audio.
type Speech struct {
	model      Model
	keys       *cachekey.Resolver
	cache      *audiocache.Store
	modelsDir  string
	sampleRate int
	inflight   singleflight.Group
}

// NewSpeech creates a new Speech service.
func NewSpeech(m Model, keys *cachekey.Resolver, cache *audiocache.Store, opts ...SpeechOption) *Speech {
	s := &Speech{
		model:      m,
		keys:       keys,
		cache:      cache,
		sampleRate: audio.SampleRate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Speak returns the WAV audio for text, synthesizing and caching it on a
// miss. Concurrent misses for the same entry share one synthesis.
func (s *Speech) Speak(ctx context.Context, text string) (*Result, error) {
	if text == "" {
		return nil, ErrNoText
	}

	path := s.keys.Path(text)
	res := &Result{Path: path, Key: s.keys.Key(text)}

	if s.cache.Lookup(path) {
		slog.Info("Cache HIT", "text", text, "file", filepath.Base(path))
		res.Hit = true
	} else {
		slog.Info("Cache MISS, generating", "text", text)
		// The flight outlives any single caller; each caller stops waiting
		// when its own context ends.
		flight := s.inflight.DoChan(path, func() (any, error) {
			return nil, s.synthesize(context.WithoutCancel(ctx), text, path)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-flight:
			if r.Err != nil {
				return nil, r.Err
			}
			if r.Shared {
				slog.Debug("Shared in-flight synthesis", "file", filepath.Base(path))
			}
		}
	}

	data, err := s.cache.Read(path)
	if err != nil {
		return nil, err
	}
	res.Audio = data
	return res, nil
}

func (s *Speech) synthesize(ctx context.Context, text, path string) error {
	// A flight that finished just before this one started already wrote it.
	if s.cache.Lookup(path) {
		return nil
	}

	tensor, err := s.model.Generate(ctx, text)
	if err != nil {
		slog.Error("Error generating speech", "text", text, "error", err)
		return err
	}
	slog.Debug("Generated tensor", "shape", tensor.Shape, "dim", tensor.Dim())

	w, err := audio.Normalize(tensor)
	if err != nil {
		return fmt.Errorf("unexpected model output: %w", err)
	}

	rate := s.sampleRate
	if tensor.SampleRate > 0 {
		rate = tensor.SampleRate
	}

	if err := s.cache.Put(path, w, rate); err != nil {
		return err
	}

	if s.keys.Mode() == cachekey.ModeHashed {
		if err := s.cache.PutLabel(path, s.keys.Label(text)); err != nil {
			slog.Warn("Failed to write cache label", "file", filepath.Base(path), "error", err)
		}
	}

	slog.Info("Cached", "text", text, "file", filepath.Base(path), "channels", w.Channels, "samples", w.Samples)
	return nil
}

// Preload loads the model and returns the active device.
func (s *Speech) Preload(ctx context.Context) (string, error) {
	return s.model.Load(ctx)
}

// Health reports model and cache state without loading the model.
func (s *Speech) Health(ctx context.Context) Health {
	st := s.model.Status()
	h := Health{
		Status:        "ok",
		ModelLoaded:   st.Loaded,
		Device:        st.Device,
		CacheDir:      s.modelsDir,
		AudioCacheDir: s.cache.Dir(),
		ModelStatus:   string(st.Status),
		ModelError:    st.Error,
		LoadedAt:      st.LoadedAt,
	}
	if !st.Loaded {
		h.Device = s.model.Device(ctx)
	}

	if cs, err := s.cache.Stats(); err != nil {
		slog.Warn("Failed to read cache stats", "error", err)
	} else {
		h.CacheEntries = cs.Entries
		h.CacheBytes = cs.Bytes
	}

	return h
}
