package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	gap "github.com/muesli/go-app-paths"
	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"

	"github.com/ekisa-team/speakd/internal/envvar"
	"github.com/ekisa-team/speakd/internal/xfs"
)

//go:embed schema.json
var schemaJSON string

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("schema.json", schemaJSON)
})

// configFileNames are tried in order in every config directory.
var configFileNames = []string{AppName + ".yaml", AppName + ".yml", AppName + ".toml"}

// Load is Read followed by Validate.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read builds the configuration from defaults, the file at path (if any) and
// SPEAKD_* environment variables, in increasing precedence. An empty path
// searches the default locations; a missing default file is not an error.
// The result is not validated so callers can overlay flags first.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = FindConfigFile()
	}

	if path != "" {
		if err := loadFile(xfs.ExpandTilde(path), cfg); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envvar.SpeakdPrefix}); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment: %w", err)
	}

	cfg.Cache.Root = xfs.ExpandTilde(cfg.Cache.Root)

	return cfg, nil
}

// FindConfigFile returns the first config file found in SPEAKD_CONFIG_HOME
// or the per-user config directories, or "".
func FindConfigFile() string {
	var dirs []string
	if c := os.Getenv(envvar.SpeakdConfigHome); c != "" {
		dirs = append(dirs, c)
	}

	scope := gap.NewScope(gap.User, AppName)
	if userDirs, err := scope.ConfigDirs(); err == nil {
		dirs = append(dirs, userDirs...)
	}

	for _, dir := range dirs {
		for _, name := range configFileNames {
			candidate := filepath.Join(dir, name)
			if xfs.IsFile(candidate) {
				return candidate
			}
		}
	}
	return ""
}

// loadFile decodes, validates and overlays the file onto cfg.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	raw, err := decode(path, data)
	if err != nil {
		return err
	}

	// Round-trip through JSON so YAML and TOML share one schema and one
	// set of struct tags.
	doc, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("config: failed to convert %s: %w", path, err)
	}

	if err := validateSchema(doc); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}

	if err := json.Unmarshal(doc, cfg); err != nil {
		return fmt.Errorf("config: failed to unmarshal into Config struct: %w", err)
	}
	return nil
}

func decode(path string, data []byte) (map[string]any, error) {
	raw := map[string]any{}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: invalid YAML in %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: invalid TOML in %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: invalid JSON in %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExt, ext)
	}

	// An empty YAML document decodes to a nil map.
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func validateSchema(doc []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("failed to decode config for validation: %w", err)
	}

	if err := schema.Validate(v); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, verr.Error())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
