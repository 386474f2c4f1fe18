// Package exec drives the execute-correct retry loop: it runs one code
// artifact in a sandbox, and on retryable failure asks a corrector for a
// revision until the attempt budget runs out.
package exec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tabulon-ai/tabulon/internal/dataset"
	apperr "github.com/tabulon-ai/tabulon/internal/errors"
	"github.com/tabulon-ai/tabulon/internal/result"
	"github.com/tabulon-ai/tabulon/internal/sandbox"
)

// State is the controller's position in the retry loop.
type State string

const (
	StateReady      State = "ready"
	StateExecuting  State = "executing"
	StateCorrecting State = "correcting"
	StateSucceeded  State = "succeeded"
	StateExhausted  State = "exhausted"
)

// kindShapeMismatch keys a mismatch outcome for the identical-failure check.
// Never surfaced to callers.
const kindShapeMismatch apperr.Kind = "ShapeMismatch"

// Corrector produces a revised artifact from a failed one. The failure
// description is the only context it receives about the failed run.
type Corrector interface {
	Correct(ctx context.Context, failed sandbox.CodeArtifact, failure string, snapshot dataset.Snapshot) (sandbox.CodeArtifact, error)
}

// Attempt is one execution round, recorded for the audit trail.
type Attempt struct {
	Artifact sandbox.CodeArtifact
	Result   sandbox.Result
	Mismatch string
	Cost     int
}

// Outcome is the controller's terminal report. When State is StateSucceeded
// the Result carries the delivered value; a non-empty Mismatch means the
// value's shape disagreed with its declared kind but correction could not
// improve on it, so it is delivered flagged rather than withheld.
type Outcome struct {
	State        State
	Result       sandbox.Result
	Attempts     []Attempt
	Mismatch     string
	ErrorKind    apperr.Kind
	ErrorMessage string
}

// AttemptsUsed is the total attempt units consumed, resource breaches counted
// double.
func (o Outcome) AttemptsUsed() int {
	total := 0
	for _, a := range o.Attempts {
		total += a.Cost
	}
	return total
}

type failureKey struct {
	kind        apperr.Kind
	fingerprint string
}

// Controller owns one execute-correct loop. A nil corrector disables error
// correction: the first failure is terminal.
type Controller struct {
	sandbox     sandbox.Sandbox
	corrector   Corrector
	maxAttempts int
	log         *slog.Logger
}

// NewController builds a controller. maxAttempts below 1 is clamped to 1.
func NewController(sb sandbox.Sandbox, corrector Corrector, maxAttempts int, log *slog.Logger) *Controller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{sandbox: sb, corrector: corrector, maxAttempts: maxAttempts, log: log}
}

// Run executes the artifact, correcting and re-executing on retryable
// failures until success, budget exhaustion, a fatal failure, or an identical
// repeat of the previous failure. The error return is reserved for sandbox
// infrastructure faults and caller cancellation; program-level failures are
// reported inside the Outcome.
func (c *Controller) Run(ctx context.Context, artifact sandbox.CodeArtifact, snapshot dataset.Snapshot) (Outcome, error) {
	out := Outcome{State: StateReady}
	budget := c.maxAttempts
	var prev *failureKey

	for {
		out.State = StateExecuting
		res, err := c.sandbox.Execute(ctx, artifact, snapshot)
		if err != nil {
			return out, err
		}

		att := Attempt{Artifact: artifact, Result: res, Cost: 1}
		if !res.OK {
			att.Cost = res.ErrorKind.AttemptCost()
		} else if v := result.Validate(res.Kind, res.Value); !v.Accepted {
			att.Mismatch = v.Detail
		}
		out.Attempts = append(out.Attempts, att)
		budget -= att.Cost

		if res.OK && att.Mismatch == "" {
			out.State = StateSucceeded
			out.Result = res
			return out, nil
		}

		key := failureKey{kind: res.ErrorKind, fingerprint: artifact.Fingerprint()}
		if res.OK {
			key.kind = kindShapeMismatch
		}
		identical := prev != nil && *prev == key
		if identical {
			c.log.Warn("identical failure repeated, stopping correction",
				"kind", key.kind, "fingerprint", key.fingerprint[:12])
		}

		retryable := res.OK || res.ErrorKind.Retryable()
		if c.corrector == nil || !retryable || budget <= 0 || identical {
			c.finish(&out, res, att.Mismatch)
			return out, nil
		}

		out.State = StateCorrecting
		c.log.Info("requesting correction",
			"attempt", artifact.Attempt, "kind", key.kind, "budget_left", budget)
		revised, err := c.corrector.Correct(ctx, artifact, describeFailure(res, att.Mismatch), snapshot)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.finishCorrectionFailure(&out, res, att.Mismatch, err)
			return out, nil
		}

		prev = &key
		artifact = revised
	}
}

// finish synthesizes the terminal outcome when no further correction will
// run. A success whose value merely mismatched its declared shape is still
// delivered, flagged; failures surface either their own fatal kind, the
// resource kind when the budget was burned by a breach, or the synthesized
// exhaustion kind.
func (c *Controller) finish(out *Outcome, res sandbox.Result, mismatch string) {
	if res.OK {
		out.State = StateSucceeded
		out.Result = res
		out.Mismatch = mismatch
		return
	}

	out.State = StateExhausted
	switch {
	case !res.ErrorKind.Retryable():
		out.ErrorKind = res.ErrorKind
		out.ErrorMessage = res.Message
	case res.ErrorKind == apperr.KindResourceExceeded:
		out.ErrorKind = apperr.KindResourceExceeded
		out.ErrorMessage = fmt.Sprintf("execution kept exceeding resource limits: %s", res.Message)
	default:
		out.ErrorKind = apperr.KindExecutionExhausted
		out.ErrorMessage = fmt.Sprintf("no working code after %d attempt units (last error: %s)",
			out.AttemptsUsed(), res.Message)
	}
}

func (c *Controller) finishCorrectionFailure(out *Outcome, res sandbox.Result, mismatch string, err error) {
	if res.OK {
		// Value exists; correction could not improve its shape.
		out.State = StateSucceeded
		out.Result = res
		out.Mismatch = mismatch
		return
	}

	out.State = StateExhausted
	out.ErrorKind = apperr.KindOf(err)
	out.ErrorMessage = err.Error()
}

func describeFailure(res sandbox.Result, mismatch string) string {
	if res.OK {
		return fmt.Sprintf("the code ran but its result shape is wrong: %s", mismatch)
	}
	desc := fmt.Sprintf("execution failed (%s): %s", res.ErrorKind, res.Message)
	if res.StackSummary != "" {
		desc += "\n" + res.StackSummary
	}
	return desc
}
