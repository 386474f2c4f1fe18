package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tabulon-ai/tabulon/internal/dataset"
)

// InlineSandbox executes programs in the caller's process. Fastest backend,
// weakest isolation: appropriate only when the caller's own process is the
// trust boundary.
type InlineSandbox struct {
	timeout  time.Duration
	maxSteps uint64
	log      *slog.Logger
}

// NewInlineSandbox creates an in-process sandbox. The timeout must be
// positive; an unbounded sandbox is rejected up front.
func NewInlineSandbox(timeout time.Duration, maxSteps uint64, log *slog.Logger) (*InlineSandbox, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("sandbox timeout must be positive, got %v", timeout)
	}
	return &InlineSandbox{timeout: timeout, maxSteps: maxSteps, log: log}, nil
}

// Execute runs the artifact against the snapshot inside the interpreter.
func (s *InlineSandbox) Execute(ctx context.Context, artifact CodeArtifact, snapshot dataset.Snapshot) (Result, error) {
	res, err := Evaluate(ctx, artifact.Code, snapshot, EngineOptions{
		Timeout:  s.timeout,
		MaxSteps: s.maxSteps,
	})
	if err != nil {
		return Result{}, err
	}

	if s.log != nil {
		s.log.Debug("inline execution finished",
			"attempt", artifact.Attempt,
			"ok", res.OK,
			"duration", res.Duration)
	}
	return res, nil
}

// Close is a no-op: the inline backend holds no external resources.
func (s *InlineSandbox) Close() error {
	return nil
}
