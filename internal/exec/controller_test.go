package exec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabulon-ai/tabulon/internal/dataset"
	apperr "github.com/tabulon-ai/tabulon/internal/errors"
	"github.com/tabulon-ai/tabulon/internal/sandbox"
)

type scriptedSandbox struct {
	results []sandbox.Result
	err     error
	calls   int
}

func (s *scriptedSandbox) Execute(_ context.Context, _ sandbox.CodeArtifact, _ dataset.Snapshot) (sandbox.Result, error) {
	if s.err != nil {
		return sandbox.Result{}, s.err
	}
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

func (s *scriptedSandbox) Close() error { return nil }

type scriptedCorrector struct {
	revisions []string
	err       error
	calls     int
}

func (c *scriptedCorrector) Correct(_ context.Context, failed sandbox.CodeArtifact, _ string, _ dataset.Snapshot) (sandbox.CodeArtifact, error) {
	c.calls++
	if c.err != nil {
		return sandbox.CodeArtifact{}, c.err
	}
	i := c.calls - 1
	if i >= len(c.revisions) {
		i = len(c.revisions) - 1
	}
	return failed.Revise(c.revisions[i]), nil
}

func testSnapshot() dataset.Snapshot {
	return dataset.Snapshot{Name: "sales"}
}

func TestRunSucceedsFirstTry(t *testing.T) {
	sb := &scriptedSandbox{results: []sandbox.Result{sandbox.Success(sandbox.KindScalar, int64(42))}}
	ctrl := NewController(sb, &scriptedCorrector{}, 3, nil)

	out, err := ctrl.Run(context.Background(), sandbox.NewArtifact("result = {}"), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, int64(42), out.Result.Value)
	assert.Empty(t, out.Mismatch)
	assert.Len(t, out.Attempts, 1)
	assert.Equal(t, 1, out.AttemptsUsed())
}

func TestRunCorrectsRuntimeFault(t *testing.T) {
	sb := &scriptedSandbox{results: []sandbox.Result{
		sandbox.Failure(apperr.KindRuntimeFault, "key not found: amout", ""),
		sandbox.Success(sandbox.KindScalar, int64(7)),
	}}
	corr := &scriptedCorrector{revisions: []string{"fixed = 1"}}
	ctrl := NewController(sb, corr, 3, nil)

	out, err := ctrl.Run(context.Background(), sandbox.NewArtifact("broken = 1"), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, 1, corr.calls)
	require.Len(t, out.Attempts, 2)
	assert.True(t, out.Attempts[1].Artifact.Revision)
	assert.Equal(t, 2, out.Attempts[1].Artifact.Attempt)
}

func TestRunExhaustsBudget(t *testing.T) {
	sb := &scriptedSandbox{results: []sandbox.Result{
		sandbox.Failure(apperr.KindRuntimeFault, "fault one", ""),
		sandbox.Failure(apperr.KindRuntimeFault, "fault two", ""),
	}}
	corr := &scriptedCorrector{revisions: []string{"second = 1"}}
	ctrl := NewController(sb, corr, 2, nil)

	out, err := ctrl.Run(context.Background(), sandbox.NewArtifact("first = 1"), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, apperr.KindExecutionExhausted, out.ErrorKind)
	assert.Contains(t, out.ErrorMessage, "fault two")
	assert.Equal(t, 1, corr.calls)
	assert.Equal(t, 2, out.AttemptsUsed())
}

func TestRunResourceBreachCostsDouble(t *testing.T) {
	sb := &scriptedSandbox{results: []sandbox.Result{
		sandbox.Failure(apperr.KindResourceExceeded, "execution deadline exceeded", ""),
	}}
	corr := &scriptedCorrector{revisions: []string{"second = 1"}}
	ctrl := NewController(sb, corr, 2, nil)

	out, err := ctrl.Run(context.Background(), sandbox.NewArtifact("slow = 1"), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, apperr.KindResourceExceeded, out.ErrorKind)
	// A single breach burned the whole two-unit budget; no correction ran.
	assert.Equal(t, 0, corr.calls)
	assert.Equal(t, 2, out.AttemptsUsed())
}

func TestRunResourceBreachRetriesWithinBudget(t *testing.T) {
	sb := &scriptedSandbox{results: []sandbox.Result{
		sandbox.Failure(apperr.KindResourceExceeded, "execution deadline exceeded", ""),
		sandbox.Success(sandbox.KindScalar, int64(9)),
	}}
	corr := &scriptedCorrector{revisions: []string{"faster = 1"}}
	ctrl := NewController(sb, corr, 3, nil)

	out, err := ctrl.Run(context.Background(), sandbox.NewArtifact("slow = 1"), testSnapshot())
	require.NoError(t, err)
	// A breach costs two units of a three-unit budget, leaving exactly one
	// for the corrected retry.
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, int64(9), out.Result.Value)
	assert.Equal(t, 1, corr.calls)
	assert.Equal(t, 3, out.AttemptsUsed())
}

func TestRunIdenticalFailureShortCircuits(t *testing.T) {
	sb := &scriptedSandbox{results: []sandbox.Result{
		sandbox.Failure(apperr.KindRuntimeFault, "same fault", ""),
	}}
	// Corrector keeps returning the same code, so attempt two repeats the
	// exact (kind, fingerprint) pair of attempt one.
	corr := &scriptedCorrector{revisions: []string{"same = 1"}}
	ctrl := NewController(sb, corr, 10, nil)

	out, err := ctrl.Run(context.Background(), sandbox.NewArtifact("same = 1"), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, apperr.KindExecutionExhausted, out.ErrorKind)
	assert.Equal(t, 1, corr.calls)
	assert.Len(t, out.Attempts, 2)
}

func TestRunNilCorrectorStopsAtFirstFailure(t *testing.T) {
	sb := &scriptedSandbox{results: []sandbox.Result{
		sandbox.Failure(apperr.KindRuntimeFault, "fault", ""),
	}}
	ctrl := NewController(sb, nil, 3, nil)

	out, err := ctrl.Run(context.Background(), sandbox.NewArtifact("x = 1"), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, out.State)
	assert.Len(t, out.Attempts, 1)
}

func TestRunMismatchTriggersCorrection(t *testing.T) {
	sb := &scriptedSandbox{results: []sandbox.Result{
		sandbox.Success(sandbox.KindScalar, "not a scalar"),
		sandbox.Success(sandbox.KindTextual, "not a scalar"),
	}}
	corr := &scriptedCorrector{revisions: []string{"fixed = 1"}}
	ctrl := NewController(sb, corr, 3, nil)

	out, err := ctrl.Run(context.Background(), sandbox.NewArtifact("x = 1"), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Empty(t, out.Mismatch)
	assert.Equal(t, 1, corr.calls)
	require.Len(t, out.Attempts, 2)
	assert.NotEmpty(t, out.Attempts[0].Mismatch)
}

func TestRunMismatchDeliveredWhenCorrectionOff(t *testing.T) {
	sb := &scriptedSandbox{results: []sandbox.Result{
		sandbox.Success(sandbox.KindScalar, "west"),
	}}
	ctrl := NewController(sb, nil, 3, nil)

	out, err := ctrl.Run(context.Background(), sandbox.NewArtifact("x = 1"), testSnapshot())
	require.NoError(t, err)
	// The value is still delivered, carrying the mismatch flag.
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, "west", out.Result.Value)
	assert.NotEmpty(t, out.Mismatch)
}

func TestRunMismatchWithUnchangedCodeStops(t *testing.T) {
	sb := &scriptedSandbox{results: []sandbox.Result{
		sandbox.Success(sandbox.KindScalar, "west"),
	}}
	corr := &scriptedCorrector{revisions: []string{"x = 1"}}
	ctrl := NewController(sb, corr, 10, nil)

	out, err := ctrl.Run(context.Background(), sandbox.NewArtifact("x = 1"), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.NotEmpty(t, out.Mismatch)
	assert.Equal(t, 1, corr.calls)
	assert.Len(t, out.Attempts, 2)
}

func TestRunCorrectionUnavailable(t *testing.T) {
	sb := &scriptedSandbox{results: []sandbox.Result{
		sandbox.Failure(apperr.KindRuntimeFault, "fault", ""),
	}}
	corr := &scriptedCorrector{err: apperr.New(apperr.KindCorrectionUnavailable, "no code block in response")}
	ctrl := NewController(sb, corr, 3, nil)

	out, err := ctrl.Run(context.Background(), sandbox.NewArtifact("x = 1"), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, apperr.KindCorrectionUnavailable, out.ErrorKind)
}

func TestRunUnsafeCorrectionIsFatal(t *testing.T) {
	sb := &scriptedSandbox{results: []sandbox.Result{
		sandbox.Failure(apperr.KindRuntimeFault, "fault", ""),
	}}
	corr := &scriptedCorrector{err: apperr.New(apperr.KindUnsafeCode, "corrected code rejected: privileged-name")}
	ctrl := NewController(sb, corr, 3, nil)

	out, err := ctrl.Run(context.Background(), sandbox.NewArtifact("x = 1"), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, apperr.KindUnsafeCode, out.ErrorKind)
}

func TestRunPropagatesInfrastructureError(t *testing.T) {
	infra := errors.New("docker daemon unreachable")
	sb := &scriptedSandbox{err: infra}
	ctrl := NewController(sb, nil, 3, nil)

	_, err := ctrl.Run(context.Background(), sandbox.NewArtifact("x = 1"), testSnapshot())
	assert.ErrorIs(t, err, infra)
}

func TestRunCancelledDuringCorrection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sb := &scriptedSandbox{results: []sandbox.Result{
		sandbox.Failure(apperr.KindRuntimeFault, "fault", ""),
	}}
	corr := &scriptedCorrector{err: context.Canceled}
	ctrl := NewController(sb, corr, 3, nil)

	cancel()
	_, err := ctrl.Run(ctx, sandbox.NewArtifact("x = 1"), testSnapshot())
	assert.ErrorIs(t, err, context.Canceled)
}
