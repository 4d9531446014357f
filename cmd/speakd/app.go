package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ekisa-team/speakd/internal/audiocache"
	"github.com/ekisa-team/speakd/internal/backend"
	"github.com/ekisa-team/speakd/internal/backend/command"
	"github.com/ekisa-team/speakd/internal/backend/remote"
	"github.com/ekisa-team/speakd/internal/backend/rpc"
	"github.com/ekisa-team/speakd/internal/cachekey"
	"github.com/ekisa-team/speakd/internal/config"
	"github.com/ekisa-team/speakd/internal/config/source"
	"github.com/ekisa-team/speakd/internal/device"
	"github.com/ekisa-team/speakd/internal/logger"
	"github.com/ekisa-team/speakd/internal/model"
	apihttp "github.com/ekisa-team/speakd/internal/server/http"
	"github.com/ekisa-team/speakd/internal/service"
)

const readHeaderTimeout = 10 * time.Second

// app holds everything main wires together.
type app struct {
	cfg      *config.Config
	backends *backend.Registry
	servers  *backend.ServerManager
	model    *model.Handle
	speech   *service.Speech
	handler  http.Handler

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

func newApp(cfg *config.Config) (*app, error) {
	if err := source.ConfigureModelsDirectory(cfg.Cache.ModelsDir()); err != nil {
		return nil, err
	}

	store, err := audiocache.New(cfg.Cache.AudioDir())
	if err != nil {
		return nil, err
	}
	if st, err := store.Stats(); err != nil {
		slog.Warn("Failed to read cache stats", "error", err)
	} else {
		slog.Info("Audio cache ready", "dir", store.Dir(), "contents", st.String())
	}

	mode, err := cachekey.ParseMode(cfg.Cache.KeyMode)
	if err != nil {
		return nil, err
	}
	keys := cachekey.New(store.Dir(),
		cachekey.WithMode(mode),
		cachekey.WithLengths(cfg.Cache.MaxKeyLength, cfg.Cache.MinKeyLength))

	servers := backend.NewServerManager()
	backends, err := newBackendRegistry(cfg, servers)
	if err != nil {
		return nil, err
	}

	provider := backend.BackendProvider(cfg.Model.Backend)
	b, ok := backends.Get(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrBackendNotFound, provider)
	}

	dev, err := device.Parse(cfg.Model.Device)
	if err != nil {
		return nil, err
	}

	opts := []model.Option{
		model.WithDevice(dev),
		model.WithParameters(cfg.Model.Parameters),
	}
	if src, err := cfg.Model.GetSource(); err == nil {
		dl, err := source.GetDownloader(src.Type())
		if err != nil {
			return nil, err
		}
		opts = append(opts, model.WithSource(src, dl, cfg.Cache.ModelsDir()))
	} else if !errors.Is(err, config.ErrNoSource) {
		return nil, err
	}

	handle := model.NewHandle(b, opts...)
	speech := service.NewSpeech(handle, keys, store,
		service.WithSampleRate(cfg.Model.SampleRate),
		service.WithModelsDir(cfg.Cache.ModelsDir()))

	a := &app{
		cfg:        cfg,
		backends:   backends,
		servers:    servers,
		model:      handle,
		speech:     speech,
		shutdownCh: make(chan struct{}),
	}
	a.handler = apihttp.NewRouter(speech, apihttp.RouterOptions{
		Version:  Version,
		Shutdown: a.requestShutdown,
	})

	return a, nil
}

// newBackendRegistry registers every provider; only the configured one is
// ever loaded.
func newBackendRegistry(cfg *config.Config, servers *backend.ServerManager) (*backend.Registry, error) {
	mc := cfg.Model
	timeout := mc.Timeout.Std()

	remoteCfg := remote.Config{
		BaseURL:      mc.Remote.URL,
		GeneratePath: mc.Remote.GeneratePath,
		HealthPath:   mc.Remote.HealthPath,
		Timeout:      timeout,
	}
	if sp := mc.Remote.Spawn; sp != nil {
		remoteCfg.BaseURL = ""
		remoteCfg.Spawn = &backend.ServerConfig{
			Name:         "synthesis-worker",
			BinPath:      sp.Binary,
			Args:         sp.Args,
			Port:         sp.Port,
			Env:          sp.Env,
			ReadyTimeout: sp.ReadyTimeout.Std(),
		}
	}

	registry := backend.NewRegistry()
	for _, b := range []backend.Backend{
		command.NewBackend(mc.Command.Binary, timeout),
		remote.NewBackend(remoteCfg, servers),
		rpc.NewBackend(rpc.Config{Target: mc.RPC.Target, Timeout: timeout}),
	} {
		if err := registry.Register(b); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (a *app) requestShutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

// preload loads the model before serving.
func (a *app) preload(ctx context.Context) error {
	dev, err := a.speech.Preload(ctx)
	if err != nil {
		return fmt.Errorf("preload failed: %w", err)
	}
	slog.Info("Model preloaded", "device", dev)
	return nil
}

// serve runs until ctx is done, /shutdown is called or the listener fails,
// then drains connections and releases the model.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("Server listening",
		"addr", ln.Addr().String(),
		"backend", a.cfg.Model.Backend,
		"cache_dir", a.cfg.Cache.ModelsDir(),
		"audio_cache_dir", a.cfg.Cache.AudioDir())

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("Signal received, shutting down")
	case <-a.shutdownCh:
		slog.Info("Shutting down on request")
	case serveErr = <-errCh:
		slog.Error("Server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Graceful shutdown incomplete", "error", err)
	}

	a.close()
	return serveErr
}

func (a *app) close() {
	if err := a.model.Close(); err != nil {
		slog.Warn("Failed to close model", "error", err)
	}
	a.servers.StopAll()
}

// applyReload applies the live-reloadable parts of a new config.
func (a *app) applyReload(cfg *config.Config, level *slog.LevelVar, keepLevel bool) {
	if !keepLevel {
		if l, err := logger.ParseLevel(cfg.Log.Level); err == nil {
			level.Set(l)
		}
	}
	a.model.SetParameters(cfg.Model.Parameters)
}
