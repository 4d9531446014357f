package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/speakd/internal/audio"
	"github.com/ekisa-team/speakd/internal/audio/audiotest"
	"github.com/ekisa-team/speakd/internal/audiocache"
	"github.com/ekisa-team/speakd/internal/cachekey"
	"github.com/ekisa-team/speakd/internal/model"
	"github.com/ekisa-team/speakd/internal/service"
)

type fakeModel struct {
	mu        sync.Mutex
	loaded    bool
	loadErr   error
	lastErr   error
	genErr    error
	generated []string
}

func (m *fakeModel) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = m.loadErr
	if m.loadErr != nil {
		return "", m.loadErr
	}
	m.loaded = true
	return "cpu", nil
}

func (m *fakeModel) Generate(ctx context.Context, text string) (*audio.Tensor, error) {
	if _, err := m.Load(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.genErr != nil {
		return nil, m.genErr
	}
	m.generated = append(m.generated, text)
	return audiotest.Sine(240), nil
}

func (m *fakeModel) Device(context.Context) string { return "cpu" }

func (m *fakeModel) fail(loadErr, genErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr, m.genErr = loadErr, genErr
}

func (m *fakeModel) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.generated...)
}

func (m *fakeModel) Status() model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.loaded:
		return model.Status{Status: model.ModelStatusLoaded, Loaded: true, Device: "cpu"}
	case m.lastErr != nil:
		return model.Status{Status: model.ModelStatusFailed, Error: m.lastErr.Error()}
	default:
		return model.Status{Status: model.ModelStatusUnloaded}
	}
}

type testServer struct {
	*httptest.Server
	model    *fakeModel
	store    *audiocache.Store
	shutdown atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	root := t.TempDir()
	store, err := audiocache.New(filepath.Join(root, "audio_cache"))
	require.NoError(t, err)

	ts := &testServer{model: &fakeModel{}, store: store}
	speech := service.NewSpeech(ts.model, cachekey.New(store.Dir()), store,
		service.WithModelsDir(filepath.Join(root, "models")))

	ts.Server = httptest.NewServer(NewRouter(speech, RouterOptions{
		Version:  "test",
		Shutdown: func() { ts.shutdown.Add(1) },
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth_BeforeAndAfterPreload(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["model_loaded"])
	assert.Equal(t, "cpu", body["device"])
	assert.Equal(t, "models", filepath.Base(body["cache_dir"].(string)))
	assert.Equal(t, "unloaded", body["model_status"])

	preload := ts.post(t, "/preload", "")
	require.Equal(t, http.StatusOK, preload.StatusCode)
	assert.Equal(t, map[string]any{"status": "ok", "device": "cpu"}, decodeJSON(t, preload))

	resp2, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, true, decodeJSON(t, resp2)["model_loaded"])
}

func TestSpeak_MissThenHit(t *testing.T) {
	ts := newTestServer(t)

	miss := ts.post(t, "/speak", `{"text":"Hello world"}`)
	require.Equal(t, http.StatusOK, miss.StatusCode)
	assert.Equal(t, "audio/wav", miss.Header.Get("Content-Type"))
	assert.Equal(t, "MISS", miss.Header.Get("X-Cache"))
	assert.FileExists(t, filepath.Join(ts.store.Dir(), "hello_world.wav"))

	hit := ts.post(t, "/speak", `{"text":"hello world"}`)
	require.Equal(t, http.StatusOK, hit.StatusCode)
	assert.Equal(t, "HIT", hit.Header.Get("X-Cache"))
	assert.Equal(t, []string{"Hello world"}, ts.model.texts())
}

func TestSpeak_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "No text provided"},
		{"missing text", `{}`, "No text provided"},
		{"empty text", `{"text":""}`, "No text provided"},
		{"null body", `null`, "No text provided"},
		{"malformed", `{"text":`, "invalid JSON body: "},
		{"wrong type", `{"text":42}`, "invalid JSON body: "},
		{"too large", `{"text":"` + strings.Repeat("a", maxSpeakBody) + `"}`, "invalid JSON body: body too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			resp := ts.post(t, "/speak", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			body := decodeJSON(t, resp)
			assert.Len(t, body, 1, "only an error field")
			assert.True(t, strings.HasPrefix(body["error"].(string), tt.want), body["error"])
			assert.Empty(t, ts.model.texts())
		})
	}
}

func TestSpeak_IgnoresContentType(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/speak", "text/plain", strings.NewReader(`{"text":"plain"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, []string{"plain"}, ts.model.texts())
}

func TestSpeak_ModelFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.model.fail(nil, errors.New("CUDA out of memory"))

	resp := ts.post(t, "/speak", `{"text":"boom"}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "CUDA out of memory"}, decodeJSON(t, resp))
	assert.NoFileExists(t, filepath.Join(ts.store.Dir(), "boom.wav"))
}

func TestPreload_Failure(t *testing.T) {
	ts := newTestServer(t)
	ts.model.fail(errors.New("model failed to load: worker unreachable"), nil)

	resp := ts.post(t, "/preload", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "model failed to load: worker unreachable"}, decodeJSON(t, resp))

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	body := decodeJSON(t, health)
	assert.Equal(t, "failed", body["model_status"])
	assert.Equal(t, "model failed to load: worker unreachable", body["model_error"])
}

func TestShutdown(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/shutdown", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"status": "shutting down"}, decodeJSON(t, resp))
	assert.EqualValues(t, 1, ts.shutdown.Load())
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/speak", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "app://desktop")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	get, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	get.Header.Set("Origin", "http://localhost:3000")
	resp2, err := http.DefaultClient.Do(get)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "*", resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestNewError(t *testing.T) {
	err := newError(http.StatusUnprocessableEntity, "validation failed", errors.New("text: expected string"))
	assert.Equal(t, http.StatusUnprocessableEntity, err.GetStatus())
	assert.Equal(t, "validation failed: text: expected string", err.Error())
}
