package pipeline

import (
	"fmt"
	"strings"

	"github.com/tabulon-ai/tabulon/internal/dataset"
)

// previewRows bounds how much raw data leaks into a prompt.
const previewRows = 5

const generationSystem = `You write Starlark programs that answer questions about a tabular dataset. Reply with a single fenced code block containing the whole program and nothing else.

Rules:
- The dataset is available as the variable df, a dict with keys "name", "columns" (list of column names), "types" (column name to type), "rows" (list of dicts keyed by column name), and "num_rows".
- The program must assign its answer to a variable named result, a dict shaped {"type": <kind>, "value": <value>}.
- kind is one of: "scalar" (a single number or boolean), "textual" (a sentence), "table" (a list of row dicts sharing one column set), "chart" (a path to rendered output).
- Use only plain Starlark. No load() statements, no file or network access.`

// GenerationPrompts builds the system and user prompts for initial code
// generation: the schema, a bounded data preview, and the question.
func GenerationPrompts(query string, frame *dataset.Frame) (system, user string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dataset %q", frame.Name)
	if frame.Description != "" {
		fmt.Fprintf(&sb, " (%s)", frame.Description)
	}
	fmt.Fprintf(&sb, ", %d rows.\n\nColumns:\n%s", frame.RowCount(), frame.SchemaDescription())
	fmt.Fprintf(&sb, "\nFirst rows:\n%s", frame.Preview(previewRows))
	fmt.Fprintf(&sb, "\nQuestion: %s\n\nWrite the program.", query)
	return generationSystem, sb.String()
}
