package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/speakd/internal/audio"
	"github.com/ekisa-team/speakd/internal/service"
)

const (
	cacheHit  = "HIT"
	cacheMiss = "MISS"

	maxSpeakBody = 1 << 20
)

type (
	// SpeakRequestDTO is the JSON body of /speak.
	SpeakRequestDTO struct {
		Text string `json:"text"`
	}

	// PreloadResponseDTO is returned by /preload.
	PreloadResponseDTO struct {
		Status string `json:"status"`
		Device string `json:"device"`
	}

	// StatusResponseDTO is returned by /shutdown.
	StatusResponseDTO struct {
		Status string `json:"status"`
	}
)

type (
	// SpeakInput decodes the body itself so empty and malformed bodies get
	// the same 400 responses the desktop client already handles.
	SpeakInput struct {
		req     SpeakRequestDTO
		bodyErr error
	}

	// SpeakOutput is the WAV file.
	SpeakOutput struct {
		ContentType string `header:"Content-Type"`
		Cache       string `header:"X-Cache"`
		Body        []byte
	}

	// HealthOutput is the huma output for the Health operation.
	HealthOutput struct {
		Body service.Health
	}

	// PreloadOutput is the huma output for the Preload operation.
	PreloadOutput struct {
		Body PreloadResponseDTO
	}

	// ShutdownOutput is the huma output for the Shutdown operation.
	ShutdownOutput struct {
		Body StatusResponseDTO
	}
)

// Resolve reads the request body. Errors are kept for the handler so they
// surface as 400 rather than huma's 422.
func (in *SpeakInput) Resolve(ctx huma.Context) []error {
	body, err := io.ReadAll(io.LimitReader(ctx.BodyReader(), maxSpeakBody+1))
	switch {
	case err != nil:
		in.bodyErr = fmt.Errorf("failed to read body: %w", err)
	case len(body) > maxSpeakBody:
		in.bodyErr = errors.New("body too large")
	case len(bytes.TrimSpace(body)) > 0:
		if err := json.Unmarshal(body, &in.req); err != nil {
			in.bodyErr = err
		}
	}
	return nil
}

// SpeechHandler handles HTTP requests for speech synthesis.
type SpeechHandler struct {
	speech   *service.Speech
	shutdown func()
}

// NewSpeechHandler registers the speech routes on api.
func NewSpeechHandler(api huma.API, speech *service.Speech, shutdown func()) *SpeechHandler {
	h := &SpeechHandler{speech: speech, shutdown: shutdown}

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Report model and cache state",
		Tags:        []string{"speech"},
	}, h.handleHealth)

	huma.Register(api, huma.Operation{
		OperationID: "speak",
		Method:      http.MethodPost,
		Path:        "/speak",
		Summary:     "Synthesize text to WAV audio",
		Tags:        []string{"speech"},
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
		RequestBody: &huma.RequestBody{
			Required: false,
			Content: map[string]*huma.MediaType{
				"application/json": {Schema: &huma.Schema{
					Type: "object",
					Properties: map[string]*huma.Schema{
						"text": {Type: "string", Description: "Text to speak"},
					},
				}},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "WAV audio",
				Content: map[string]*huma.MediaType{
					audio.ContentType: {Schema: &huma.Schema{Type: "string", Format: "binary"}},
				},
			},
		},
		// SpeakInput.Resolve decodes the body; the schema above only
		// documents it.
		SkipValidateBody: true,
	}, h.handleSpeak)

	huma.Register(api, huma.Operation{
		OperationID: "preload",
		Method:      http.MethodPost,
		Path:        "/preload",
		Summary:     "Load the model now",
		Tags:        []string{"speech"},
		Errors:      []int{http.StatusInternalServerError},
	}, h.handlePreload)

	huma.Register(api, huma.Operation{
		OperationID: "shutdown",
		Method:      http.MethodPost,
		Path:        "/shutdown",
		Summary:     "Stop the server gracefully",
		Tags:        []string{"admin"},
	}, h.handleShutdown)

	return h
}

// handleHealth handles the health operation.
func (h *SpeechHandler) handleHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	return &HealthOutput{Body: h.speech.Health(ctx)}, nil
}

// handleSpeak handles the speak operation.
func (h *SpeechHandler) handleSpeak(ctx context.Context, input *SpeakInput) (*SpeakOutput, error) {
	if input.bodyErr != nil {
		return nil, huma.Error400BadRequest("invalid JSON body: " + input.bodyErr.Error())
	}

	res, err := h.speech.Speak(ctx, input.req.Text)
	if err != nil {
		if errors.Is(err, service.ErrNoText) {
			return nil, huma.Error400BadRequest("No text provided")
		}
		return nil, huma.Error500InternalServerError(err.Error())
	}

	out := &SpeakOutput{
		ContentType: audio.ContentType,
		Cache:       cacheMiss,
		Body:        res.Audio,
	}
	if res.Hit {
		out.Cache = cacheHit
	}
	return out, nil
}

// handlePreload handles the preload operation.
func (h *SpeechHandler) handlePreload(ctx context.Context, _ *struct{}) (*PreloadOutput, error) {
	dev, err := h.speech.Preload(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	return &PreloadOutput{Body: PreloadResponseDTO{Status: "ok", Device: dev}}, nil
}

// handleShutdown handles the shutdown operation.
func (h *SpeechHandler) handleShutdown(_ context.Context, _ *struct{}) (*ShutdownOutput, error) {
	slog.Info("Shutdown requested")
	h.shutdown()
	return &ShutdownOutput{Body: StatusResponseDTO{Status: "shutting down"}}, nil
}
