package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// CommandRunner is the interface for running commands.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, err error)
}

// ExecCommandRunner uses os/exec.
type ExecCommandRunner struct{}

// Run runs a command.
func (ExecCommandRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Executor runs a binary with a per-call timeout.
type Executor struct {
	runner     CommandRunner
	lookPath   func(string) (string, error)
	binaryPath string
	timeout    time.Duration
}

// NewExecutor creates an executor backed by os/exec.
func NewExecutor(binaryPath string, timeout time.Duration) *Executor {
	return NewExecutorWithRunner(binaryPath, timeout, ExecCommandRunner{})
}

// NewExecutorWithRunner creates an executor with a custom runner.
func NewExecutorWithRunner(binaryPath string, timeout time.Duration, runner CommandRunner) *Executor {
	return &Executor{
		binaryPath: binaryPath,
		timeout:    timeout,
		runner:     runner,
		lookPath:   exec.LookPath,
	}
}

// Resolve checks that the binary exists, searching PATH for bare names.
func (e *Executor) Resolve() (string, error) {
	path, err := e.lookPath(e.binaryPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, e.binaryPath, err)
	}
	return path, nil
}

// BinaryPath returns the configured binary.
func (e *Executor) BinaryPath() string {
	return e.binaryPath
}

// Execute runs the command and returns output.
func (e *Executor) Execute(ctx context.Context, args []string, stdin io.Reader) (stdout, stderr []byte, err error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	return e.runner.Run(ctx, e.binaryPath, args, stdin)
}
