package device

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	stdout string
	err    error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context, _ string, _ []string, _ io.Reader) ([]byte, []byte, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return []byte(f.stdout), nil, f.err
}

func newTestDetector(runner *fakeRunner, hasSMI bool, goos, goarch string) *Detector {
	return &Detector{
		runner: runner,
		lookPath: func(name string) (string, error) {
			if hasSMI {
				return "/usr/bin/" + name, nil
			}
			return "", errors.New("not found")
		},
		goos:   goos,
		goarch: goarch,
	}
}

func TestDetector_Priority(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
		hasSMI bool
		goos   string
		goarch string
		want   Device
	}{
		{"gpu listed", &fakeRunner{stdout: "GPU 0: NVIDIA RTX 4090 (UUID: x)\n"}, true, "linux", "amd64", CUDA},
		{"gpu beats apple silicon", &fakeRunner{stdout: "GPU 0: eGPU\n"}, true, "darwin", "arm64", CUDA},
		{"nvidia-smi without gpus", &fakeRunner{stdout: "No devices found.\n"}, true, "linux", "amd64", CPU},
		{"nvidia-smi failing", &fakeRunner{err: errors.New("driver mismatch")}, true, "windows", "amd64", CPU},
		{"apple silicon", &fakeRunner{}, false, "darwin", "arm64", MPS},
		{"intel mac", &fakeRunner{}, false, "darwin", "amd64", CPU},
		{"plain linux", &fakeRunner{}, false, "linux", "arm64", CPU},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(tt.runner, tt.hasSMI, tt.goos, tt.goarch)
			assert.Equal(t, tt.want, d.Detect(context.Background()))
		})
	}
}

func TestDetector_ProbesOnce(t *testing.T) {
	runner := &fakeRunner{stdout: "GPU 0: A100\n"}
	d := newTestDetector(runner, true, "linux", "amd64")

	for range 3 {
		assert.Equal(t, CUDA, d.Detect(context.Background()))
	}
	assert.Equal(t, 1, runner.calls)
}

func TestDetector_CancelledCallerDoesNotPinCPU(t *testing.T) {
	runner := &fakeRunner{stdout: "GPU 0: A100\n"}
	d := newTestDetector(runner, true, "linux", "amd64")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, CUDA, d.Detect(ctx))
	assert.Equal(t, CUDA, d.Detect(context.Background()))
	assert.Equal(t, 1, runner.calls)
}

func TestDetector_ResolvePreferred(t *testing.T) {
	runner := &fakeRunner{stdout: "GPU 0: A100\n"}
	d := newTestDetector(runner, true, "linux", "amd64")

	assert.Equal(t, CPU, d.Resolve(context.Background(), CPU))
	assert.Zero(t, runner.calls)
	assert.Equal(t, CUDA, d.Resolve(context.Background(), Auto))
}

func TestParse(t *testing.T) {
	for in, want := range map[string]Device{"": Auto, "AUTO": Auto, "cuda": CUDA, " mps ": MPS, "cpu": CPU} {
		got, err := Parse(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := Parse("tpu")
	assert.Error(t, err)
}
