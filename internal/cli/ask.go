package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question about the dataset",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := buildAgent()
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.Ask(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	return renderResponse(cmd.OutOrStdout(), resp)
}
