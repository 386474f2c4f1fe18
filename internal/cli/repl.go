package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tabulon-ai/tabulon/internal/dataset"
	"github.com/tabulon-ai/tabulon/internal/memory"
)

// replAgent is the slice of the agent the colon commands need.
type replAgent interface {
	LoadDataset(path string) error
	Frame() *dataset.Frame
	History(n int) ([]memory.Message, error)
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive question session",
	Long:  "Starts an interactive session. Type questions directly; commands start with a colon (:help for the list).",
	RunE:  runRepl,
}

func runRepl(cmd *cobra.Command, _ []string) error {
	a, err := buildAgent()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "tabulon interactive session. :help for commands, :quit to exit.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ":") {
			if quit := runReplCommand(a, out, line); quit {
				return nil
			}
			continue
		}

		resp, err := a.Ask(cmd.Context(), line)
		if err != nil {
			return err
		}
		if err := renderResponse(out, resp); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

// runReplCommand handles one colon command, reporting whether the session
// should end.
func runReplCommand(a replAgent, out io.Writer, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":exit", ":q":
		return true
	case ":load":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: :load <path>")
			return false
		}
		if err := a.LoadDataset(fields[1]); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return false
		}
		frame := a.Frame()
		fmt.Fprintf(out, "loaded %q: %d columns, %d rows\n", frame.Name, len(frame.Columns), frame.RowCount())
	case ":history":
		msgs, err := a.History(20)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return false
		}
		for _, m := range msgs {
			fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
		}
	case ":help":
		fmt.Fprintln(out, "commands:")
		fmt.Fprintln(out, "  :load <path>   load a CSV or JSON dataset")
		fmt.Fprintln(out, "  :history       show recent conversation turns")
		fmt.Fprintln(out, "  :quit          end the session")
	default:
		fmt.Fprintf(out, "unknown command %s (:help for the list)\n", fields[0])
	}
	return false
}
