package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func init() {
	summaryCmd := &cobra.Command{
		Use:   "summary <owner>",
		Short: "Show an owner's rolling summary",
		Args:  cobra.ExactArgs(1),
		Run:   runSummary,
	}

	ownersCmd := &cobra.Command{
		Use:   "owners",
		Short: "Owner management",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List owners active within a window",
		Run:   runOwnersList,
	}
	listCmd.Flags().Duration("since", 0, "Only owners active within this long (default all)")

	ownersCmd.AddCommand(listCmd)
	RootCmd.AddCommand(summaryCmd, ownersCmd)
}

func runSummary(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.Close()

	sum, err := a.eng.Summary(cmd.Context(), args[0])
	if err != nil {
		exitErr("summary", err)
	}
	printJSON(sum)
}

func runOwnersList(cmd *cobra.Command, args []string) {
	since, _ := cmd.Flags().GetDuration("since")

	a := openApp()
	defer a.Close()

	var from time.Time
	if since > 0 {
		from = time.Now().UTC().Add(-since)
	}
	owners, err := a.store.ListOwners(cmd.Context(), from)
	if err != nil {
		exitErr("list owners", err)
	}
	if owners == nil {
		owners = []string{}
	}
	printJSON(owners)
}
