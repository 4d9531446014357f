// Package audiotest builds WAV fixtures for tests.
package audiotest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ekisa-team/speakd/internal/audio"
)

// Sine returns a mono tensor of n samples of a 440 Hz tone at half scale.
func Sine(n int) *audio.Tensor {
	data := make([]float32, n)
	for i := range data {
		data[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return &audio.Tensor{Shape: []int{1, n}, Data: data}
}

// WAV encodes t at the default sample rate and returns the file bytes.
func WAV(tb testing.TB, t *audio.Tensor) []byte {
	tb.Helper()

	w, err := audio.Normalize(t)
	if err != nil {
		tb.Fatalf("normalize fixture: %v", err)
	}

	f, err := os.Create(filepath.Join(tb.TempDir(), "fixture.wav"))
	if err != nil {
		tb.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	if err := audio.EncodeWAV(f, w, audio.SampleRate); err != nil {
		tb.Fatalf("encode fixture: %v", err)
	}

	data, err := os.ReadFile(f.Name())
	if err != nil {
		tb.Fatalf("read fixture: %v", err)
	}
	return data
}
