package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete memories",
		Long:  "Permanently delete memories with their vectors and waypoints.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRm,
	}

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.Close()

	for _, id := range args {
		if err := a.eng.Delete(cmd.Context(), id); err != nil {
			exitErr("rm "+id, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"deleted":%d}`+"\n", len(args))
}
