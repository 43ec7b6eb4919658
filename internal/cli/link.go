package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	linkCmd := &cobra.Command{
		Use:   "link <src-id> <dst-id>",
		Short: "Set the waypoint of a memory",
		Long:  "Point src at dst, replacing any outgoing waypoint src already has.",
		Args:  cobra.ExactArgs(2),
		Run:   runLink,
	}
	linkCmd.Flags().Float64P("weight", "w", 1, "Edge weight in (0,1]")

	graphCmd := &cobra.Command{
		Use:   "graph <id>",
		Short: "Show the waypoint neighbourhood of a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runGraph,
	}
	graphCmd.Flags().Int("depth", 2, "Edges to follow in either direction")

	RootCmd.AddCommand(linkCmd, graphCmd)
}

func runLink(cmd *cobra.Command, args []string) {
	weight, _ := cmd.Flags().GetFloat64("weight")

	a := openApp()
	defer a.Close()

	wp, err := a.eng.Link(cmd.Context(), args[0], args[1], weight)
	if err != nil {
		exitErr("link", err)
	}
	printJSON(wp)
}

func runGraph(cmd *cobra.Command, args []string) {
	depth, _ := cmd.Flags().GetInt("depth")

	a := openApp()
	defer a.Close()

	sg, err := a.eng.Graph(cmd.Context(), args[0], depth)
	if err != nil {
		exitErr("graph", err)
	}
	printJSON(sg)
}
