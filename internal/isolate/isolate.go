// Package isolate runs external calls so that a hung provider cannot hang
// the worker. In-process calls get a bounded wait; subprocess calls get a
// graceful-then-forced kill.
package isolate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// TimeoutError marks a call that exceeded its wait budget. Callers can
// distinguish it from a provider failure with errors.As.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("isolate: %s exceeded %s", e.Op, e.Timeout)
}

// Call runs fn in its own goroutine and waits up to timeout for it to
// finish. On timeout the goroutine is abandoned with its context
// canceled; a well-behaved fn notices and exits.
func Call[T any](ctx context.Context, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return zero, eris.Wrapf(ctx.Err(), "isolate: %s canceled", op)
	case <-timer.C:
		cancel()
		zap.L().Warn("isolate: call timed out", zap.String("op", op), zap.Duration("timeout", timeout))
		return zero, &TimeoutError{Op: op, Timeout: timeout}
	}
}

// ExecResult carries the output of a finished subprocess.
type ExecResult struct {
	Stdout string
	Stderr string
}

// Exec runs an external binary with a hard deadline. On timeout the
// process gets SIGTERM, then grace to clean up, then SIGKILL.
func Exec(ctx context.Context, op string, timeout, grace time.Duration, bin string, args ...string) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, eris.Wrapf(err, "isolate: start %s", op)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return nil, eris.Wrapf(err, "isolate: %s failed: %s", op, stderr.String())
		}
		return &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}, nil
	case <-ctx.Done():
		<-done
		return nil, eris.Wrapf(ctx.Err(), "isolate: %s canceled", op)
	case <-timer.C:
	}

	zap.L().Warn("isolate: subprocess timed out, sending SIGTERM",
		zap.String("op", op), zap.String("bin", bin), zap.Duration("timeout", timeout))
	_ = cmd.Process.Signal(syscall.SIGTERM)

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case <-done:
	case <-graceTimer.C:
		zap.L().Warn("isolate: subprocess ignored SIGTERM, killing",
			zap.String("op", op), zap.String("bin", bin))
		_ = cmd.Process.Kill()
		<-done
	}
	return nil, &TimeoutError{Op: op, Timeout: timeout}
}
