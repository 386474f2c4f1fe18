package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/tabulon-ai/tabulon/internal/agent"
	"github.com/tabulon-ai/tabulon/internal/sandbox"
)

// renderResponse writes a successful answer to w. Failures come back as an
// error so callers control how they surface.
func renderResponse(w io.Writer, resp agent.Response) error {
	if !resp.OK {
		return fmt.Errorf("%s: %s", resp.ErrorKind, resp.ErrorMessage)
	}

	if resp.Mismatch != "" {
		fmt.Fprintf(w, "warning: result shape mismatch: %s\n", resp.Mismatch)
	}

	switch resp.Kind {
	case sandbox.KindTable:
		renderTable(w, resp.Value)
	case sandbox.KindChart:
		fmt.Fprintf(w, "chart written to %v\n", resp.Value)
	default:
		fmt.Fprintf(w, "%v\n", resp.Value)
	}
	return nil
}

func renderTable(w io.Writer, value any) {
	rows, ok := value.([]any)
	if !ok {
		fmt.Fprintf(w, "%v\n", value)
		return
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "(empty table)")
		return
	}

	first, ok := rows[0].(map[string]any)
	if !ok {
		fmt.Fprintf(w, "%v\n", value)
		return
	}
	columns := make([]string, 0, len(first))
	for name := range first {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(columns)
	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cells := make([]string, len(columns))
		for i, name := range columns {
			cells[i] = fmt.Sprintf("%v", row[name])
		}
		table.Append(cells)
	}
	table.Render()
}
