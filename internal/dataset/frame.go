// Package dataset is the tabular-data collaborator: a typed container that
// exposes schema, row count, and a bounded serializable preview, and supplies
// the snapshot transferred into container and pod sandboxes.
package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ColumnType is the inferred type of a column.
type ColumnType string

const (
	TypeInteger ColumnType = "integer"
	TypeFloat   ColumnType = "float"
	TypeBoolean ColumnType = "boolean"
	TypeString  ColumnType = "string"
)

// Column describes one column of a frame.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Frame is an in-memory tabular dataset.
type Frame struct {
	Name        string
	Description string
	Columns     []Column
	Rows        [][]any
}

// Snapshot is the wire form of a frame, transferred into a sandbox.
type Snapshot struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Schema returns the column descriptors.
func (f *Frame) Schema() []Column {
	return f.Columns
}

// RowCount returns the number of rows.
func (f *Frame) RowCount() int {
	return len(f.Rows)
}

// Snapshot returns the serializable form of the frame.
func (f *Frame) Snapshot() Snapshot {
	return Snapshot{Name: f.Name, Columns: f.Columns, Rows: f.Rows}
}

// Signature is a deterministic digest of the frame's name and schema. Two
// frames with the same columns in the same order share a signature; any
// schema change produces a different one.
func (f *Frame) Signature() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n", f.Name)
	for _, c := range f.Columns {
		fmt.Fprintf(h, "%s:%s\n", c.Name, c.Type)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Preview renders up to n rows as a compact pipe-separated block suitable for
// embedding in a prompt. Values longer than 100 characters are truncated.
func (f *Frame) Preview(n int) string {
	if n <= 0 || n > len(f.Rows) {
		n = len(f.Rows)
	}

	var sb strings.Builder
	names := make([]string, len(f.Columns))
	types := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		names[i] = c.Name
		types[i] = string(c.Type)
	}
	sb.WriteString(strings.Join(names, " | ") + "\n")
	sb.WriteString(strings.Join(types, " | ") + "\n")

	for _, row := range f.Rows[:n] {
		values := make([]string, len(row))
		for i, v := range row {
			values[i] = formatValue(v)
		}
		sb.WriteString(strings.Join(values, " | ") + "\n")
	}
	if len(f.Rows) > n {
		sb.WriteString(fmt.Sprintf("... and %d more rows\n", len(f.Rows)-n))
	}
	return sb.String()
}

// SchemaDescription renders the schema as "name (type)" lines for prompts.
func (f *Frame) SchemaDescription() string {
	var sb strings.Builder
	for _, c := range f.Columns {
		fmt.Fprintf(&sb, "- %s (%s)\n", c.Name, c.Type)
	}
	return sb.String()
}

// formatValue formats a single cell. Floats are rounded to two decimals so
// long expansions do not leak into prompts.
func formatValue(v any) string {
	switch val := v.(type) {
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case nil:
		return ""
	default:
		s := fmt.Sprintf("%v", v)
		if len(s) > 100 {
			s = s[:97] + "..."
		}
		return s
	}
}
