// Package scheduler runs the maintenance jobs on fixed cadences.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/sector-memory/internal/engine"
)

// Job is one periodic task. Run receives the tick time.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context, now time.Time) error
}

// Cadence sets how often each engine job runs; zero disables it.
type Cadence struct {
	Decay      time.Duration
	Prune      time.Duration
	Reflection time.Duration
	Summaries  time.Duration
}

// DefaultCadence leaves reflection off.
func DefaultCadence() Cadence {
	return Cadence{
		Decay:     24 * time.Hour,
		Prune:     7 * 24 * time.Hour,
		Summaries: 30 * time.Minute,
	}
}

// EngineJobs binds the engine maintenance operations to c.
func EngineJobs(e *engine.Engine, c Cadence) []Job {
	jobs := []Job{
		{Name: "decay", Every: c.Decay, Run: func(ctx context.Context, now time.Time) error {
			_, err := e.RunDecaySweep(ctx, now)
			return err
		}},
		{Name: "prune", Every: c.Prune, Run: func(ctx context.Context, _ time.Time) error {
			_, err := e.PruneWaypoints(ctx)
			return err
		}},
		{Name: "reflection", Every: c.Reflection, Run: func(ctx context.Context, now time.Time) error {
			_, err := e.RunReflection(ctx, now)
			return err
		}},
		{Name: "summaries", Every: c.Summaries, Run: func(ctx context.Context, now time.Time) error {
			_, err := e.RefreshUserSummaries(ctx, now)
			return err
		}},
	}
	out := jobs[:0]
	for _, j := range jobs {
		if j.Every > 0 {
			out = append(out, j)
		}
	}
	return out
}

// Scheduler drives a fixed set of jobs, each on its own ticker.
type Scheduler struct {
	jobs []Job
	log  *slog.Logger
	now  func() time.Time
}

// New creates a scheduler for jobs. A nil log uses slog.Default.
func New(log *slog.Logger, jobs ...Job) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{jobs: jobs, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Run ticks every job until ctx is cancelled. A failing run is logged and
// the job keeps its schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return errors.New("scheduler: no jobs")
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			t := time.NewTicker(j.Every)
			defer t.Stop()
			s.log.Info("job scheduled", "job", j.Name, "every", j.Every)
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					s.runJob(gctx, j)
				}
			}
		})
	}
	return g.Wait()
}

// RunOnce runs every job once, in order, returning the first error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var first error
	for _, j := range s.jobs {
		if err := s.runJob(ctx, j); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Scheduler) runJob(ctx context.Context, j Job) error {
	start := time.Now()
	err := j.Run(ctx, s.now())
	if err != nil {
		s.log.Error("job failed", "job", j.Name, "error", err)
		return err
	}
	s.log.Debug("job done", "job", j.Name, "took", time.Since(start))
	return nil
}
