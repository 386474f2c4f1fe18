// Package sandbox executes one generated code artifact against one dataset
// snapshot behind an isolation boundary. Three backends share the contract:
// inline (caller's process), container (Docker), and pod (Kubernetes).
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/tabulon-ai/tabulon/internal/dataset"
	apperr "github.com/tabulon-ai/tabulon/internal/errors"
)

// ResultKind is the declared shape of an execution result. The set is closed.
type ResultKind string

const (
	KindScalar  ResultKind = "scalar"
	KindTextual ResultKind = "textual"
	KindTable   ResultKind = "table"
	KindChart   ResultKind = "chart"
)

// ParseKind normalizes a declared kind string, accepting the legacy spellings
// models tend to emit (number, string, dataframe, plot).
func ParseKind(s string) (ResultKind, bool) {
	switch s {
	case "scalar", "number":
		return KindScalar, true
	case "textual", "string", "text":
		return KindTextual, true
	case "table", "dataframe":
		return KindTable, true
	case "chart", "plot":
		return KindChart, true
	}
	return "", false
}

// CodeArtifact is one generated program plus its provenance. Immutable once
// produced; error correction creates a new artifact rather than mutating the
// failed one, preserving the audit trail.
type CodeArtifact struct {
	Code      string
	Attempt   int
	Revision  bool
	CreatedAt time.Time
}

// NewArtifact builds a first-generation artifact.
func NewArtifact(code string) CodeArtifact {
	return CodeArtifact{Code: code, Attempt: 1, CreatedAt: time.Now()}
}

// Revise builds a revision artifact from a failed one.
func (a CodeArtifact) Revise(code string) CodeArtifact {
	return CodeArtifact{Code: code, Attempt: a.Attempt + 1, Revision: true, CreatedAt: time.Now()}
}

// Fingerprint is a deterministic digest of the artifact's code, used for the
// identical-failure heuristic and for audit records.
func (a CodeArtifact) Fingerprint() string {
	sum := sha256.Sum256([]byte(a.Code))
	return hex.EncodeToString(sum[:])
}

// Result is the outcome of executing one artifact: exactly one of the success
// or failure sides is populated.
type Result struct {
	OK    bool
	Kind  ResultKind
	Value any

	ErrorKind    apperr.Kind
	Message      string
	StackSummary string

	Duration time.Duration
}

// Success builds a success result.
func Success(kind ResultKind, value any) Result {
	return Result{OK: true, Kind: kind, Value: value}
}

// Failure builds a failure result.
func Failure(kind apperr.Kind, message, stack string) Result {
	return Result{ErrorKind: kind, Message: message, StackSummary: stack}
}

// Sandbox executes one code artifact against one dataset snapshot. Program
// failures (runtime faults, resource breaches) are reported inside the
// Result; the error return is reserved for infrastructure faults such as an
// unreachable Docker daemon, and for caller cancellation.
type Sandbox interface {
	Execute(ctx context.Context, artifact CodeArtifact, snapshot dataset.Snapshot) (Result, error)
	Close() error
}
