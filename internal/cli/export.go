package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export memories with their vectors, waypoints and summaries. Filter by owner with -o.",
		Run:   runExport,
	}

	cmd.Flags().StringP("owner", "o", "", "Filter by owner")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")

	a := openApp()
	defer a.Close()

	exp, err := a.store.ExportAll(cmd.Context(), owner)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(exp)
}
