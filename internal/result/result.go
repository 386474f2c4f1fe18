// Package result validates that a sandbox execution produced a value whose
// shape matches its declared kind. Validation is pure: no I/O, no state, so
// the same declaration always yields the same outcome.
package result

import (
	"fmt"

	"github.com/tabulon-ai/tabulon/internal/sandbox"
)

// Outcome reports whether a declared kind and value agree.
type Outcome struct {
	Accepted bool
	Detail   string
}

func accepted() Outcome {
	return Outcome{Accepted: true}
}

func mismatch(format string, args ...any) Outcome {
	return Outcome{Accepted: false, Detail: fmt.Sprintf(format, args...)}
}

// Validate checks a (kind, value) pair. A mismatch is reported with enough
// detail for a correction prompt; the value itself is never mutated.
func Validate(kind sandbox.ResultKind, value any) Outcome {
	switch kind {
	case sandbox.KindScalar:
		return validateScalar(value)
	case sandbox.KindTextual:
		return validateTextual(value)
	case sandbox.KindTable:
		return validateTable(value)
	case sandbox.KindChart:
		return validateChart(value)
	default:
		return mismatch("unknown result kind %q", kind)
	}
}

func validateScalar(value any) Outcome {
	switch value.(type) {
	case int, int64, float64, bool:
		return accepted()
	case nil:
		return mismatch("scalar result has no value")
	default:
		return mismatch("scalar result must be a number or boolean, got %T", value)
	}
}

func validateTextual(value any) Outcome {
	s, ok := value.(string)
	if !ok {
		return mismatch("textual result must be a string, got %T", value)
	}
	if s == "" {
		return mismatch("textual result is empty")
	}
	return accepted()
}

// validateTable accepts the row-of-maps shape the execution engine emits:
// a list whose elements are column-name to cell-value maps, all rows sharing
// the same column set. An empty table is valid.
func validateTable(value any) Outcome {
	rows, ok := value.([]any)
	if !ok {
		return mismatch("table result must be a list of rows, got %T", value)
	}

	var columns map[string]bool
	for i, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			return mismatch("table row %d must be a map of columns, got %T", i, raw)
		}
		if columns == nil {
			columns = make(map[string]bool, len(row))
			for name := range row {
				columns[name] = true
			}
			continue
		}
		if len(row) != len(columns) {
			return mismatch("table row %d has %d columns, expected %d", i, len(row), len(columns))
		}
		for name := range row {
			if !columns[name] {
				return mismatch("table row %d has unexpected column %q", i, name)
			}
		}
	}
	return accepted()
}

// validateChart accepts a path or reference string to rendered chart output.
func validateChart(value any) Outcome {
	s, ok := value.(string)
	if !ok {
		return mismatch("chart result must be a path or reference string, got %T", value)
	}
	if s == "" {
		return mismatch("chart result is empty")
	}
	return accepted()
}
