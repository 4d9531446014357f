// Package device picks the compute device the synthesis model is loaded on.
package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ekisa-team/speakd/internal/backend"
)

// Device is a compute device name understood by synthesis workers.
type Device string

const (
	// Auto selects the best available device.
	Auto Device = "auto"

	// CUDA is an NVIDIA GPU.
	CUDA Device = "cuda"

	// MPS is the Apple Silicon Metal accelerator.
	MPS Device = "mps"

	// CPU is the fallback.
	CPU Device = "cpu"
)

const probeTimeout = 5 * time.Second

// Parse validates a configured device name.
func Parse(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return Auto, nil
	case Auto, CUDA, MPS, CPU:
		return d, nil
	default:
		return "", fmt.Errorf("device: unknown device %q", s)
	}
}

// Detector resolves Auto to a concrete device, probing at most once.
type Detector struct {
	runner   backend.CommandRunner
	lookPath func(string) (string, error)
	goos     string
	goarch   string

	once   sync.Once
	result Device
}

// NewDetector creates a Detector for the running platform.
func NewDetector() *Detector {
	return &Detector{
		runner:   backend.ExecCommandRunner{},
		lookPath: exec.LookPath,
		goos:     runtime.GOOS,
		goarch:   runtime.GOARCH,
	}
}

// Resolve returns preferred unless it is Auto, in which case it detects.
func (d *Detector) Resolve(ctx context.Context, preferred Device) Device {
	if preferred != "" && preferred != Auto {
		return preferred
	}
	return d.Detect(ctx)
}

// Detect returns the first available device in the order cuda, mps, cpu.
// The result is kept for the process lifetime, so the probe does not inherit
// the caller's cancellation.
func (d *Detector) Detect(ctx context.Context) Device {
	d.once.Do(func() {
		ctx := context.WithoutCancel(ctx)
		switch {
		case d.hasCUDA(ctx):
			d.result = CUDA
		case d.goos == "darwin" && d.goarch == "arm64":
			d.result = MPS
		default:
			d.result = CPU
		}
		slog.Info("Compute device detected", "device", d.result, "os", d.goos, "arch", d.goarch)
	})
	return d.result
}

func (d *Detector) hasCUDA(ctx context.Context) bool {
	smi, err := d.lookPath("nvidia-smi")
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	stdout, _, err := d.runner.Run(ctx, smi, []string{"-L"}, nil)
	if err != nil {
		slog.Debug("nvidia-smi probe failed", "error", err)
		return false
	}

	return bytes.Contains(stdout, []byte("GPU "))
}
