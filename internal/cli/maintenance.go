package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func init() {
	decayCmd := &cobra.Command{
		Use:   "decay",
		Short: "Run a decay sweep",
		Long:  "Persist decayed salience for every memory and move faded memories to cold storage.",
		Run:   runDecay,
	}
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove weak and dangling waypoints",
		Run:   runPrune,
	}
	reflectCmd := &cobra.Command{
		Use:   "reflect",
		Short: "Consolidate recent similar memories into reflections",
		Run:   runReflect,
	}
	summariesCmd := &cobra.Command{
		Use:   "summaries",
		Short: "Refresh the digest of every recently active owner",
		Run:   runSummaries,
	}

	for _, c := range []*cobra.Command{decayCmd, reflectCmd, summariesCmd} {
		c.Flags().String("at", "", "Run as of this RFC 3339 time (default now)")
	}
	RootCmd.AddCommand(decayCmd, pruneCmd, reflectCmd, summariesCmd)
}

func flagNow(cmd *cobra.Command) time.Time {
	at, _ := cmd.Flags().GetString("at")
	if at == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		exitErr("parse --at", err)
	}
	return t.UTC()
}

func runDecay(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.Close()

	rep, err := a.eng.RunDecaySweep(cmd.Context(), flagNow(cmd))
	if err != nil {
		exitErr("decay", err)
	}
	printJSON(rep)
}

func runPrune(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.Close()

	res, err := a.eng.PruneWaypoints(cmd.Context())
	if err != nil {
		exitErr("prune", err)
	}
	printJSON(res)
}

func runReflect(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.Close()

	rep, err := a.eng.RunReflection(cmd.Context(), flagNow(cmd))
	if err != nil {
		exitErr("reflect", err)
	}
	printJSON(rep)
}

func runSummaries(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.Close()

	n, err := a.eng.RefreshUserSummaries(cmd.Context(), flagNow(cmd))
	if err != nil {
		exitErr("summaries", err)
	}
	printJSON(map[string]int{"written": n})
}
