package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/sector-memory/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Retrieve memories by meaning",
		Long: "Embed the query per sector, expand through waypoints when direct matches are weak, " +
			"and return the top-k memories by composite score. Returned memories are reinforced.",
		Args: cobra.MinimumNArgs(1),
		Run:  runQuery,
	}

	cmd.Flags().IntP("limit", "k", 5, "Max results (k)")
	cmd.Flags().StringP("owner", "o", "", "Only this owner's memories")
	cmd.Flags().StringSliceP("sectors", "s", nil, "Restrict to these sectors")
	cmd.Flags().Float64("min-score", 0, "Drop results scoring below this (0..1)")

	RootCmd.AddCommand(cmd)
}

func runQuery(cmd *cobra.Command, args []string) {
	k, _ := cmd.Flags().GetInt("limit")
	owner, _ := cmd.Flags().GetString("owner")
	sectors, _ := cmd.Flags().GetStringSlice("sectors")
	minScore, _ := cmd.Flags().GetFloat64("min-score")

	a := openApp()
	defer a.Close()

	results, err := a.eng.Query(cmd.Context(), engine.QueryParams{
		Text:     strings.Join(args, " "),
		K:        k,
		Owner:    owner,
		Sectors:  parseSectors(sectors),
		MinScore: minScore,
	})
	if err != nil {
		exitErr("query", err)
	}
	if results == nil {
		results = []engine.Result{}
	}
	printJSON(results)
}
