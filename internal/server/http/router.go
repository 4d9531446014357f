// Package http exposes the speech service over loopback HTTP.
package http

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/cors"

	"github.com/ekisa-team/speakd/internal/service"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// Version is reported in the OpenAPI document.
	Version string

	// Shutdown is called once a /shutdown request has been accepted. It
	// must not block.
	Shutdown func()
}

// NewRouter builds the HTTP handler with CORS open to any origin.
func NewRouter(speech *service.Speech, opts RouterOptions) http.Handler {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Shutdown == nil {
		opts.Shutdown = func() {}
	}

	mux := http.NewServeMux()

	cfg := huma.DefaultConfig("speakd", opts.Version)
	cfg.Info.Description = "Local text-to-speech with an on-disk audio cache."
	// No $schema links: bodies keep the exact shape the desktop client reads.
	cfg.CreateHooks = nil
	api := humago.New(mux, cfg)

	NewSpeechHandler(api, speech, opts.Shutdown)

	return cors.AllowAll().Handler(mux)
}
