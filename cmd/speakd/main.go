package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ekisa-team/speakd/internal/config"
	"github.com/ekisa-team/speakd/internal/env"
	"github.com/ekisa-team/speakd/internal/logger"
	"github.com/ekisa-team/speakd/internal/xfs"
)

// Version is set at build time with -ldflags.
var Version = ""

var (
	configFile string
	host       string
	port       int
	deviceName string
	backendArg string
	preload    bool
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "speakd",
		Short: "Local text-to-speech server with an on-disk audio cache",
		Long: `speakd serves a text-to-speech model on loopback HTTP.

Synthesized audio is cached on disk by text, so each phrase is generated once.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         run,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "config file (default: speakd.yaml in the user config directory)")
	f.StringVar(&host, "host", config.DefaultHost, "address to listen on")
	f.IntVarP(&port, "port", "p", config.DefaultPort, "port to listen on")
	f.StringVar(&deviceName, "device", "auto", "compute device: auto, cuda, mps or cpu")
	f.StringVar(&backendArg, "backend", "", "synthesis backend: command, remote or rpc")
	f.BoolVar(&preload, "preload", false, "load the model before accepting requests")
	f.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
}

func main() {
	if Version == "" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
			Version = info.Main.Version
		} else {
			Version = "unknown (built from source)"
		}
	}
	rootCmd.Version = Version

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	path := configFile
	if path == "" {
		path = config.FindConfigFile()
	}

	cfg, err := loadConfig(cmd.Flags(), path)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	l, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	level.Set(l)

	slog.SetDefault(logger.New(env.FromEnv(),
		logger.WithLevel(level),
		logger.WithLogToFile(cfg.Log.File != ""),
		logger.WithLogFile(xfs.ExpandTilde(cfg.Log.File)),
		logger.WithRotation(cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays),
	))

	slog.Info("Starting speakd", "version", Version, "config", path)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	slog.Info("Using device", "device", a.model.Device(context.Background()))

	if path != "" {
		keepLevel := cmd.Flags().Changed("log-level")
		w, err := config.NewWatcher(path, cfg, func(next *config.Config, err error) {
			if err != nil {
				return
			}
			a.applyReload(next, level, keepLevel)
		}, config.WithLoadFunc(func(p string) (*config.Config, error) {
			return loadConfig(cmd.Flags(), p)
		}))
		if err != nil {
			slog.Warn("Config hot reload disabled", "error", err)
		} else {
			defer w.Close()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Server.Preload {
		if err := a.preload(ctx); err != nil {
			a.close()
			return err
		}
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		a.close()
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr(), err)
	}

	return a.serve(ctx, ln)
}

// loadConfig reads file and environment, overlays flags and only then
// validates, so a flag can repair an incomplete file.
func loadConfig(flags *pflag.FlagSet, path string) (*config.Config, error) {
	cfg, err := config.Read(path)
	if err != nil {
		return nil, err
	}
	applyFlags(flags, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags overlays explicitly set flags, which win over environment and
// file values.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("host") {
		cfg.Server.Host = host
	}
	if flags.Changed("port") {
		cfg.Server.Port = port
	}
	if flags.Changed("device") {
		cfg.Model.Device = deviceName
	}
	if flags.Changed("backend") {
		cfg.Model.Backend = backendArg
	}
	if flags.Changed("preload") {
		cfg.Server.Preload = preload
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
}
