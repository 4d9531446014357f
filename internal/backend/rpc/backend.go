// Package rpc talks gRPC to a synthesis worker.
//
// The worker exposes the standard gRPC health service and a single unary
// method, /speakd.synth.v1.Synthesizer/Generate, taking a
// google.protobuf.Struct ({text, device, model_path, parameters}) and
// returning a google.protobuf.BytesValue holding a WAV file.
package rpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ekisa-team/speakd/internal/audio"
	"github.com/ekisa-team/speakd/internal/backend"
)

const (
	// ServiceName is the fully qualified synthesizer service.
	ServiceName = "speakd.synth.v1.Synthesizer"

	// GenerateMethod is the full method name of the unary generate call.
	GenerateMethod = "/" + ServiceName + "/Generate"
)

// Config describes the worker endpoint.
type Config struct {
	// Target is a gRPC target such as 127.0.0.1:50051 or unix:///tmp/synth.sock.
	Target  string
	Timeout time.Duration

	// DialOptions are appended after the insecure transport credentials.
	DialOptions []grpc.DialOption
}

// Backend implements backend.Backend over gRPC.
type Backend struct {
	cfg Config

	mu     sync.Mutex
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// NewBackend creates a gRPC backend. No connection is made until Load.
func NewBackend(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// Provider returns the backend identifier.
func (b *Backend) Provider() backend.BackendProvider {
	return backend.BackendProviderRPC
}

// Load connects to the worker and waits for it to report SERVING.
func (b *Backend) Load(ctx context.Context, req *backend.LoadRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		opts := append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		}, b.cfg.DialOptions...)

		conn, err := grpc.NewClient(b.cfg.Target, opts...)
		if err != nil {
			return fmt.Errorf("failed to create client for %s: %w", b.cfg.Target, err)
		}
		b.conn = conn
		b.health = healthpb.NewHealthClient(conn)
	}

	resp, err := b.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed for worker at %s: %w", b.cfg.Target, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("worker at %s is %s", b.cfg.Target, resp.GetStatus())
	}

	slog.Info("Synthesis worker ready", "target", b.cfg.Target, "device", req.Device)
	return nil
}

// Infer calls Generate and decodes the returned WAV.
func (b *Backend) Infer(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, backend.ErrNotLoaded
	}

	text, err := io.ReadAll(req.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	fields := map[string]any{
		"text":   string(text),
		"device": req.Device,
	}
	if req.ModelPath != "" {
		fields["model_path"] = req.ModelPath
	}
	if len(req.Parameters) > 0 {
		fields["parameters"] = req.Parameters
	}

	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()

	out := new(wrapperspb.BytesValue)
	if err := conn.Invoke(ctx, GenerateMethod, in, out); err != nil {
		return nil, fmt.Errorf("generate failed: %w", err)
	}

	data := out.GetValue()
	if len(data) == 0 {
		return nil, backend.ErrEmptyOutput
	}

	tensor, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	return &backend.Response{
		Tensor: tensor,
		Metadata: &backend.ResponseMetadata{
			Provider:    b.Provider(),
			Model:       req.ModelPath,
			Device:      req.Device,
			Timestamp:   time.Now(),
			Elapsed:     time.Since(start),
			OutputBytes: int64(len(data)),
			BackendSpecific: map[string]any{
				"target": b.cfg.Target,
			},
		},
	}, nil
}

// Close closes the connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn, b.health = nil, nil
	return err
}

var _ backend.Backend = (*Backend)(nil)
