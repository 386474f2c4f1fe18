// Package pipeline implements the generation-execution pipeline: an ordered
// sequence of stages that turns one natural-language question about a dataset
// into generated code, gates it for safety, executes it under the retry
// controller, and shapes the terminal response. One RunContext per run, never
// shared.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tabulon-ai/tabulon/internal/dataset"
	apperr "github.com/tabulon-ai/tabulon/internal/errors"
	"github.com/tabulon-ai/tabulon/internal/exec"
	"github.com/tabulon-ai/tabulon/internal/metrics"
	"github.com/tabulon-ai/tabulon/internal/sandbox"
)

// Signal is a stage's routing decision.
type Signal int

const (
	// Next advances to the following stage.
	Next Signal = iota
	// SkipToExecute jumps past the generation stages to the execution phase.
	// The safety gate still runs: cached code is re-checked on every reuse.
	SkipToExecute
	// Done ends the run; the stage must have set the terminal response.
	Done
)

// Stage is one pipeline step. A returned error must be classified; the
// engine turns it into the terminal failure response. Infrastructure faults
// and cancellation abort the run instead.
type Stage struct {
	Name string
	Run  func(ctx context.Context, rc *RunContext) (Signal, error)
}

// Response is the terminal report of one run.
type Response struct {
	OK       bool
	Kind     sandbox.ResultKind
	Value    any
	Mismatch string

	ErrorKind    apperr.Kind
	ErrorMessage string

	CacheHit bool
	Attempts int
	Code     string
	Elapsed  time.Duration
}

// RunContext carries one run's state across stages.
type RunContext struct {
	Query     string
	Frame     *dataset.Frame
	SessionID string

	Snapshot    dataset.Snapshot
	Fingerprint string

	SystemPrompt string
	UserPrompt   string

	Artifact sandbox.CodeArtifact
	CacheHit bool

	Outcome exec.Outcome

	// Response is the terminal marker: exactly one stage sets it, exactly
	// once per run.
	Response *Response
}

func (rc *RunContext) deliver(out exec.Outcome) {
	rc.Response = &Response{
		OK:       true,
		Kind:     out.Result.Kind,
		Value:    out.Result.Value,
		Mismatch: out.Mismatch,
		CacheHit: rc.CacheHit,
		Attempts: out.AttemptsUsed(),
		Code:     rc.Artifact.Code,
	}
}

func (rc *RunContext) fail(kind apperr.Kind, message string) {
	rc.Response = &Response{
		ErrorKind:    kind,
		ErrorMessage: message,
		CacheHit:     rc.CacheHit,
		Attempts:     rc.Outcome.AttemptsUsed(),
		Code:         rc.Artifact.Code,
	}
}

// Engine runs the stage sequence.
type Engine struct {
	stages []Stage
	log    *slog.Logger
}

// NewEngine builds an engine over an explicit stage list.
func NewEngine(stages []Stage, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{stages: stages, log: log}
}

// Run drives the run context through the stages. Classified stage errors
// become the terminal failure response; the error return is reserved for
// infrastructure faults and caller cancellation. A run that ends without a
// terminal response is an engine bug, counted and patched over with a
// synthesized failure.
func (e *Engine) Run(ctx context.Context, rc *RunContext) (Response, error) {
	start := time.Now()

	i := 0
	for i < len(e.stages) && rc.Response == nil {
		stage := e.stages[i]
		stageStart := time.Now()
		sig, err := stage.Run(ctx, rc)
		elapsed := time.Since(stageStart)
		metrics.StageDuration.WithLabelValues(stage.Name).Observe(elapsed.Seconds())
		e.log.Debug("stage complete", "stage", stage.Name, "duration", elapsed, "terminal", rc.Response != nil, "session", rc.SessionID)

		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			var classified *apperr.Classified
			if !errors.As(err, &classified) {
				return Response{}, err
			}
			e.log.Warn("stage failed", "stage", stage.Name, "kind", classified.Kind, "error", err)
			rc.fail(classified.Kind, classified.Message)
			break
		}

		switch sig {
		case SkipToExecute:
			i = e.indexOf(stageSafetyGate)
		case Done:
			i = len(e.stages)
		default:
			i++
		}
	}

	if rc.Response == nil {
		metrics.TerminalAnomalies.Inc()
		e.log.Error("run ended without terminal response", "session", rc.SessionID)
		rc.fail(apperr.KindExecutionExhausted, "pipeline ended without a terminal response")
	}

	resp := *rc.Response
	resp.Elapsed = time.Since(start)
	metrics.RunsTotal.WithLabelValues(outcomeLabel(resp)).Inc()
	e.log.Info("run complete",
		"session", rc.SessionID, "ok", resp.OK, "kind", resp.Kind,
		"error_kind", resp.ErrorKind, "cache_hit", resp.CacheHit,
		"attempts", resp.Attempts, "duration", resp.Elapsed)
	return resp, nil
}

func (e *Engine) indexOf(name string) int {
	for i, s := range e.stages {
		if s.Name == name {
			return i
		}
	}
	return len(e.stages)
}

func outcomeLabel(resp Response) string {
	if resp.OK {
		if resp.CacheHit {
			return "success_cached"
		}
		return "success"
	}
	return string(resp.ErrorKind)
}
