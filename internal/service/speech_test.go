package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/speakd/internal/audio"
	"github.com/ekisa-team/speakd/internal/audio/audiotest"
	"github.com/ekisa-team/speakd/internal/audiocache"
	"github.com/ekisa-team/speakd/internal/cachekey"
	"github.com/ekisa-team/speakd/internal/model"
)

type MockModel struct {
	mock.Mock
}

func (m *MockModel) Load(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockModel) Generate(ctx context.Context, text string) (*audio.Tensor, error) {
	args := m.Called(ctx, text)
	t, _ := args.Get(0).(*audio.Tensor)
	return t, args.Error(1)
}

func (m *MockModel) Device(ctx context.Context) string {
	return m.Called(ctx).String(0)
}

func (m *MockModel) Status() model.Status {
	return m.Called().Get(0).(model.Status)
}

func newSpeech(t *testing.T, m Model, opts ...cachekey.Option) (*Speech, *audiocache.Store) {
	t.Helper()
	root := t.TempDir()
	store, err := audiocache.New(filepath.Join(root, "audio_cache"))
	require.NoError(t, err)
	keys := cachekey.New(store.Dir(), opts...)
	return NewSpeech(m, keys, store, WithModelsDir(filepath.Join(root, "models"))), store
}

func TestSpeak_EmptyText(t *testing.T) {
	m := new(MockModel)
	s, store := newSpeech(t, m)

	_, err := s.Speak(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoText)

	m.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	entries, _ := os.ReadDir(store.Dir())
	assert.Empty(t, entries)
}

func TestSpeak_MissThenHit(t *testing.T) {
	m := new(MockModel)
	m.On("Generate", mock.Anything, "Hello world").Return(audiotest.Sine(2400), nil).Once()
	s, store := newSpeech(t, m)

	first, err := s.Speak(context.Background(), "Hello world")
	require.NoError(t, err)
	assert.False(t, first.Hit)
	assert.Equal(t, filepath.Join(store.Dir(), "hello_world.wav"), first.Path)
	assert.Equal(t, "hello_world", first.Key)
	assert.FileExists(t, first.Path)

	decoded, err := audio.DecodeWAV(first.Audio)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2400}, decoded.Shape)
	assert.Equal(t, 24000, decoded.SampleRate)

	second, err := s.Speak(context.Background(), "  HELLO WORLD ")
	require.NoError(t, err)
	assert.True(t, second.Hit)
	assert.Equal(t, first.Audio, second.Audio, "hit returns the stored bytes verbatim")

	m.AssertExpectations(t)
}

func TestSpeak_HitNeverTouchesModel(t *testing.T) {
	m := new(MockModel)
	s, store := newSpeech(t, m)

	wav := audiotest.WAV(t, audiotest.Sine(100))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "good_morning.wav"), wav, 0o644))

	res, err := s.Speak(context.Background(), "Good morning!")
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.Equal(t, wav, res.Audio)
	m.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	m.AssertNotCalled(t, "Load", mock.Anything)
}

func TestSpeak_NormalizesHigherRankTensor(t *testing.T) {
	sine := audiotest.Sine(480)
	m := new(MockModel)
	m.On("Generate", mock.Anything, "rank three").
		Return(&audio.Tensor{Shape: []int{1, 1, 480}, Data: sine.Data}, nil).Once()
	s, _ := newSpeech(t, m)

	res, err := s.Speak(context.Background(), "rank three")
	require.NoError(t, err)

	decoded, err := audio.DecodeWAV(res.Audio)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 480}, decoded.Shape)
}

func TestSpeak_KeepsTensorSampleRate(t *testing.T) {
	sine := audiotest.Sine(160)
	sine.SampleRate = 16000
	m := new(MockModel)
	m.On("Generate", mock.Anything, "rate").Return(sine, nil).Once()
	s, _ := newSpeech(t, m)

	res, err := s.Speak(context.Background(), "rate")
	require.NoError(t, err)

	decoded, err := audio.DecodeWAV(res.Audio)
	require.NoError(t, err)
	assert.Equal(t, 16000, decoded.SampleRate)
}

func TestSpeak_FailuresLeaveNoEntry(t *testing.T) {
	tests := []struct {
		name   string
		tensor *audio.Tensor
		err    error
		want   string
	}{
		{"model error", nil, errors.New("CUDA out of memory"), "CUDA out of memory"},
		{"bad shape", &audio.Tensor{Shape: []int{2, 1, 3}, Data: make([]float32, 6)}, nil, "unexpected model output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockModel)
			m.On("Generate", mock.Anything, "broken").Return(tt.tensor, tt.err).Once()
			s, store := newSpeech(t, m)

			_, err := s.Speak(context.Background(), "broken")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			entries, err := os.ReadDir(store.Dir())
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestSpeak_RetriesAfterFailure(t *testing.T) {
	m := new(MockModel)
	m.On("Generate", mock.Anything, "again").Return(nil, errors.New("busy")).Once()
	m.On("Generate", mock.Anything, "again").Return(audiotest.Sine(10), nil).Once()
	s, _ := newSpeech(t, m)

	_, err := s.Speak(context.Background(), "again")
	require.Error(t, err)

	res, err := s.Speak(context.Background(), "again")
	require.NoError(t, err)
	assert.False(t, res.Hit)
	m.AssertExpectations(t)
}

func TestSpeak_ConcurrentMissesShareSynthesis(t *testing.T) {
	m := new(MockModel)
	m.On("Generate", mock.Anything, "same words").
		WaitUntil(time.After(100 * time.Millisecond)).
		Return(audiotest.Sine(480), nil).Once()
	s, store := newSpeech(t, m)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Speak(context.Background(), "same words")
			if assert.NoError(t, err) {
				results[i] = res.Audio
			}
		}()
	}
	wg.Wait()

	m.AssertNumberOfCalls(t, "Generate", 1)
	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSpeak_CancelledCallerDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	m := new(MockModel)
	m.On("Generate", mock.Anything, "shared").
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(audiotest.Sine(480), nil).Once()
	s, _ := newSpeech(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.Speak(ctx, "shared")
		first <- err
	}()

	<-started

	second := make(chan error, 1)
	go func() {
		_, err := s.Speak(context.Background(), "shared")
		second <- err
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	assert.NoError(t, <-second)
	m.AssertNumberOfCalls(t, "Generate", 1)
}

func TestSpeak_HashedModeWritesLabel(t *testing.T) {
	m := new(MockModel)
	m.On("Generate", mock.Anything, "  Hello World ").Return(audiotest.Sine(10), nil).Once()
	s, store := newSpeech(t, m, cachekey.WithMode(cachekey.ModeHashed))

	res, err := s.Speak(context.Background(), "  Hello World ")
	require.NoError(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", res.Key)

	label, err := os.ReadFile(audiocache.LabelPath(res.Path))
	require.NoError(t, err)
	assert.Equal(t, "hello_world\n", string(label))

	st, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Entries, "labels are not counted as entries")
}

func TestPreloadAndHealth(t *testing.T) {
	loadedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := new(MockModel)
	m.On("Status").Return(model.Status{Status: model.ModelStatusUnloaded}).Once()
	m.On("Device", mock.Anything).Return("cuda").Once()
	m.On("Load", mock.Anything).Return("cuda", nil).Once()
	m.On("Status").Return(model.Status{
		Status:   model.ModelStatusLoaded,
		Loaded:   true,
		Device:   "cuda",
		LoadedAt: &loadedAt,
	})
	s, store := newSpeech(t, m)

	h := s.Health(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.False(t, h.ModelLoaded)
	assert.Equal(t, "unloaded", h.ModelStatus)
	assert.Equal(t, "cuda", h.Device)
	assert.Nil(t, h.LoadedAt)
	assert.Equal(t, store.Dir(), h.AudioCacheDir)
	assert.Equal(t, "models", filepath.Base(h.CacheDir))

	dev, err := s.Preload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cuda", dev)

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "x.wav"), []byte("RIFF"), 0o644))
	h = s.Health(context.Background())
	assert.True(t, h.ModelLoaded)
	assert.Equal(t, "loaded", h.ModelStatus)
	assert.Equal(t, &loadedAt, h.LoadedAt)
	assert.Equal(t, 1, h.CacheEntries)
	assert.EqualValues(t, 4, h.CacheBytes)
	m.AssertExpectations(t)
}

func TestHealth_ReportsLoadFailure(t *testing.T) {
	m := new(MockModel)
	m.On("Status").Return(model.Status{Status: model.ModelStatusFailed, Error: "worker unreachable"})
	m.On("Device", mock.Anything).Return("cpu")
	s, _ := newSpeech(t, m)

	h := s.Health(context.Background())
	assert.False(t, h.ModelLoaded)
	assert.Equal(t, "failed", h.ModelStatus)
	assert.Equal(t, "worker unreachable", h.ModelError)
}

func TestPreload_Error(t *testing.T) {
	m := new(MockModel)
	m.On("Load", mock.Anything).Return("", errors.New("no weights")).Once()
	s, _ := newSpeech(t, m)

	_, err := s.Preload(context.Background())
	assert.EqualError(t, err, "no weights")
}
