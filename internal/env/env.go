// Package env resolves the runtime environment the process was started in.
package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/speakd/internal/envvar"
)

// Environment is the deployment flavour of the process.
type Environment string

const (
	// Development enables human-friendly console logging.
	Development Environment = "development"

	// Production switches logging to JSON.
	Production Environment = "production"
)

// FromEnv reads SPEAKD_ENV. Anything unrecognised means Development.
func FromEnv() Environment {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envvar.SpeakdEnv))) {
	case "prod", "production":
		return Production
	default:
		return Development
	}
}

// IsProduction reports whether e is Production.
func (e Environment) IsProduction() bool {
	return e == Production
}
