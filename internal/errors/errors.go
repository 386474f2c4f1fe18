package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The set is closed: every failure that
// crosses a component boundary carries exactly one of these.
type Kind string

const (
	// KindNone marks the absence of a failure.
	KindNone Kind = ""

	// KindUnsafeCode is a static safety rejection. Fatal, never retried.
	KindUnsafeCode Kind = "UnsafeCode"

	// KindRuntimeFault is a program error raised while executing generated
	// code. Retryable through error correction.
	KindRuntimeFault Kind = "RuntimeFault"

	// KindResourceExceeded is a timeout or memory/step-limit breach.
	// Retryable, but counts double against the attempt budget.
	KindResourceExceeded Kind = "ResourceExceeded"

	// KindCorrectionUnavailable means the model's correction response could
	// not be turned into code. Fatal, ends the retry loop.
	KindCorrectionUnavailable Kind = "CorrectionUnavailable"

	// KindModelFault is a language-model transport failure (unavailable or
	// malformed response) during initial generation. Fatal.
	KindModelFault Kind = "ModelFault"

	// KindExecutionExhausted is synthesized by the execution controller when
	// the attempt budget runs out. Terminal.
	KindExecutionExhausted Kind = "ExecutionExhausted"

	// KindInvalidInput rejects an unusable query or missing dataset before
	// any generation happens. Fatal.
	KindInvalidInput Kind = "InvalidInput"
)

// Retryable reports whether a failure of this kind may drive another
// error-correction round.
func (k Kind) Retryable() bool {
	switch k {
	case KindRuntimeFault, KindResourceExceeded:
		return true
	}
	return false
}

// AttemptCost is the number of attempt units a failure of this kind consumes.
// Resource breaches cost two so likely-unfixable failures terminate quickly.
func (k Kind) AttemptCost() int {
	if k == KindResourceExceeded {
		return 2
	}
	return 1
}

// Classified is a failure tagged with its Kind. It is the only error shape
// allowed to cross the pipeline engine boundary.
type Classified struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Classified) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Classified) Unwrap() error {
	return e.Err
}

// New builds a classified failure.
func New(kind Kind, format string, args ...any) *Classified {
	return &Classified{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Classified {
	return &Classified{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindRuntimeFault so nothing escapes the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	return KindRuntimeFault
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
