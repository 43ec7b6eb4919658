package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reinforce <id>",
		Short: "Strengthen a memory",
		Long:  "Bring the memory's salience current, add the boost and count it as an access.",
		Args:  cobra.ExactArgs(1),
		Run:   runReinforce,
	}

	cmd.Flags().Float64P("boost", "b", 0, "Salience boost (default from config, 0.1)")

	RootCmd.AddCommand(cmd)
}

func runReinforce(cmd *cobra.Command, args []string) {
	boost, _ := cmd.Flags().GetFloat64("boost")

	a := openApp()
	defer a.Close()

	mem, err := a.eng.Reinforce(cmd.Context(), args[0], boost)
	if err != nil {
		exitErr("reinforce", err)
	}
	printJSON(mem)
}
