package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/sector-memory/internal/scheduler"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the maintenance scheduler",
		Long:  "Run decay, pruning, summaries and (when enabled) reflection on their configured cadences until interrupted.",
		Run:   runServe,
	}

	cmd.Flags().Bool("once", false, "Run every job once and exit")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	once, _ := cmd.Flags().GetBool("once")

	a := openApp()
	defer a.Close()

	sc := a.cfg.Schedule
	cadence := scheduler.Cadence{
		Decay:     sc.Decay.D(),
		Prune:     sc.Prune.D(),
		Summaries: sc.Summaries.D(),
	}
	if a.cfg.Reflection.Enabled {
		cadence.Reflection = sc.Reflection.D()
	}
	s := scheduler.New(a.log, scheduler.EngineJobs(a.eng, cadence)...)

	if once {
		if err := s.RunOnce(cmd.Context()); err != nil {
			exitErr("serve", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.log.Info("scheduler started", "db", a.cfg.DB)
	if err := s.Run(ctx); err != nil {
		exitErr("serve", err)
	}
	a.log.Info("scheduler stopped")
}
