package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ekisa-team/speakd/internal/envvar"
)

const (
	// AppName names the per-user config directory and file.
	AppName = "speakd"

	// CacheDirName is shared with the desktop application.
	CacheDirName = "EnglishLearningApp"

	DefaultHost            = "127.0.0.1"
	DefaultPort            = 5123
	DefaultSampleRate      = 24000
	DefaultShutdownTimeout = 10 * time.Second
	DefaultModelTimeout    = 5 * time.Minute
	DefaultWorkerURL       = "http://127.0.0.1:5124"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
		Cache: CacheConfig{
			Root:         DefaultCacheRoot(),
			KeyMode:      "legacy",
			MaxKeyLength: 50,
			MinKeyLength: 2,
		},
		Model: ModelConfig{
			Backend:    "remote",
			Device:     "auto",
			SampleRate: DefaultSampleRate,
			Timeout:    Duration(DefaultModelTimeout),
			Remote: RemoteConfig{
				URL:          DefaultWorkerURL,
				GeneratePath: "/generate",
				HealthPath:   "/health",
			},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// DefaultCacheRoot returns %APPDATA%\EnglishLearningApp on Windows and
// ~/.cache/EnglishLearningApp elsewhere.
func DefaultCacheRoot() string {
	home, _ := os.UserHomeDir()
	return cacheRoot(runtime.GOOS, os.Getenv, home)
}

func cacheRoot(goos string, getenv func(string) string, home string) string {
	if home == "" {
		home = "."
	}

	if goos == "windows" {
		appData := getenv(envvar.WindowsAppData)
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, CacheDirName)
	}

	return filepath.Join(home, ".cache", CacheDirName)
}
