package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/sector-memory/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [description]",
		Short: "Assemble relevant memories for a task",
		Long:  "Query memories, then greedily pack them into a token budget behind the owner's summary.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().StringP("owner", "o", "", "Owner whose memories and summary to use")
	cmd.Flags().IntP("budget", "b", 1000, "Max tokens in output")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")
	budget, _ := cmd.Flags().GetInt("budget")

	a := openApp()
	defer a.Close()

	result, err := a.eng.Context(cmd.Context(), engine.ContextParams{
		Query:  strings.Join(args, " "),
		Owner:  owner,
		Budget: budget,
	})
	if err != nil {
		exitErr("context", err)
	}
	printJSON(result)
}
