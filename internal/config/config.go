package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"time"
)

// SourceType represents the type of model source.
type SourceType string

const (
	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"
)

// Config holds the main configuration for the application.
type Config struct {
	Server ServerConfig `json:"server"`
	Cache  CacheConfig  `json:"cache"  envPrefix:"CACHE_"`
	Model  ModelConfig  `json:"model"`
	Log    LogConfig    `json:"log"    envPrefix:"LOG_"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string   `json:"host"             env:"HOST"`
	Port            int      `json:"port"             env:"PORT"`
	Preload         bool     `json:"preload"          env:"PRELOAD"`
	ShutdownTimeout Duration `json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CacheConfig holds the on-disk layout for weights and synthesized audio.
type CacheConfig struct {
	// Root holds models/ and audio_cache/.
	Root         string `json:"root"           env:"ROOT"`
	KeyMode      string `json:"key_mode"       env:"KEY_MODE"`
	MaxKeyLength int    `json:"max_key_length" env:"MAX_KEY_LENGTH"`
	MinKeyLength int    `json:"min_key_length" env:"MIN_KEY_LENGTH"`
}

// ModelsDir is where model weights are cached.
func (c CacheConfig) ModelsDir() string {
	return filepath.Join(c.Root, "models")
}

// AudioDir is where synthesized WAV files are cached.
func (c CacheConfig) AudioDir() string {
	return filepath.Join(c.Root, "audio_cache")
}

// ModelConfig holds the synthesis model and how to reach it.
type ModelConfig struct {
	Backend    string   `json:"backend"     env:"BACKEND"`
	Device     string   `json:"device"      env:"DEVICE"`
	SampleRate int      `json:"sample_rate" env:"SAMPLE_RATE"`
	Timeout    Duration `json:"timeout"     env:"MODEL_TIMEOUT"`

	// Parameters are passed to the worker on every request and can be
	// changed without a restart.
	Parameters map[string]any `json:"parameters,omitempty"`

	Command CommandConfig `json:"command" envPrefix:"COMMAND_"`
	Remote  RemoteConfig  `json:"remote"  envPrefix:"REMOTE_"`
	RPC     RPCConfig     `json:"rpc"     envPrefix:"RPC_"`
	Source  SourceConfig  `json:"source"`
}

// CommandConfig configures the per-request synthesis binary.
type CommandConfig struct {
	Binary string `json:"binary" env:"BINARY"`
}

// RemoteConfig configures the HTTP synthesis worker.
type RemoteConfig struct {
	URL          string       `json:"url"           env:"URL"`
	GeneratePath string       `json:"generate_path" env:"GENERATE_PATH"`
	HealthPath   string       `json:"health_path"   env:"HEALTH_PATH"`
	Spawn        *SpawnConfig `json:"spawn,omitempty"`
}

// SpawnConfig starts the HTTP worker as a child process.
type SpawnConfig struct {
	Binary       string            `json:"binary"`
	Args         []string          `json:"args,omitempty"`
	Port         int               `json:"port"`
	Env          map[string]string `json:"env,omitempty"`
	ReadyTimeout Duration          `json:"ready_timeout"`
}

// RPCConfig configures the gRPC synthesis worker.
type RPCConfig struct {
	Target string `json:"target" env:"TARGET"`
}

// SourceConfig wraps optional sources (only one should be set).
type SourceConfig struct {
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `json:"level"        env:"LEVEL"`
	File       string `json:"file"         env:"FILE"`
	MaxSizeMB  int    `json:"max_size_mb"  env:"MAX_SIZE_MB"`
	MaxBackups int    `json:"max_backups"  env:"MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"MAX_AGE_DAYS"`
}

// -------------------------
// Source definitions
// -------------------------

// ModelSource represents a source for model weights.
type ModelSource interface {
	Type() SourceType
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string   `json:"repo"`
	Revision      string   `json:"revision,omitempty"`
	RepoType      string   `json:"repo_type,omitempty"`
	Token         string   `json:"token,omitempty"`
	Include       []string `json:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty"`
	ForceDownload bool     `json:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (h HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// GetSource returns the active source, or ErrNoSource when weights are
// resolved by the worker itself.
func (m *ModelConfig) GetSource() (ModelSource, error) {
	if m.Source.HuggingFace != nil {
		return *m.Source.HuggingFace, nil
	}

	return nil, ErrNoSource
}

// SetHuggingFaceSource sets the Hugging Face source.
func (m *ModelConfig) SetHuggingFaceSource(source HuggingFaceSource) {
	m.Source.HuggingFace = &source
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Cache.Root == "" {
		errs = append(errs, errors.New("cache.root is empty"))
	}
	if c.Cache.MaxKeyLength < c.Cache.MinKeyLength {
		errs = append(errs, fmt.Errorf("cache.max_key_length %d is below min_key_length %d", c.Cache.MaxKeyLength, c.Cache.MinKeyLength))
	}
	if c.Model.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("model.sample_rate %d must be positive", c.Model.SampleRate))
	}

	switch c.Model.Backend {
	case "command":
		if c.Model.Command.Binary == "" {
			errs = append(errs, errors.New("model.command.binary is required for the command backend"))
		}
	case "remote":
		if c.Model.Remote.URL == "" && c.Model.Remote.Spawn == nil {
			errs = append(errs, errors.New("model.remote.url or model.remote.spawn is required for the remote backend"))
		}
	case "rpc":
		if c.Model.RPC.Target == "" {
			errs = append(errs, errors.New("model.rpc.target is required for the rpc backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownBackend, c.Model.Backend))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// RestartRequired lists the sections that changed between a and b and only
// take effect after a restart. Log level and model parameters are live.
func RestartRequired(a, b *Config) []string {
	var changed []string

	if !reflect.DeepEqual(a.Server, b.Server) {
		changed = append(changed, "server")
	}
	if !reflect.DeepEqual(a.Cache, b.Cache) {
		changed = append(changed, "cache")
	}

	am, bm := a.Model, b.Model
	am.Parameters, bm.Parameters = nil, nil
	if !reflect.DeepEqual(am, bm) {
		changed = append(changed, "model")
	}

	al, bl := a.Log, b.Log
	al.Level, bl.Level = "", ""
	if al != bl {
		changed = append(changed, "log")
	}

	return changed
}

// Duration is a time.Duration written as a string such as "30s" in config
// files and environment variables.
type Duration time.Duration

// Std returns the time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
