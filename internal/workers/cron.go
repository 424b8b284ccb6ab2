package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the maintenance jobs in-process when there is no Postgres
// for River to use.
type Scheduler struct {
	cron  *cron.Cron
	tasks *Tasks
	sched Schedule
	log   *slog.Logger
	ctx   context.Context
}

func NewScheduler(t *Tasks, s Schedule, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	sc := &Scheduler{
		cron:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		tasks: t,
		sched: s,
		log:   log,
		ctx:   context.Background(),
	}
	for _, j := range []struct {
		name  string
		every time.Duration
	}{
		{JobRollover, s.Rollover},
		{JobSweep, s.Sweep},
		{JobReconcile, s.Reconcile},
	} {
		if j.every <= 0 {
			return nil, fmt.Errorf("job %s: interval must be positive", j.name)
		}
		name := j.name
		if _, err := sc.cron.AddFunc("@every "+j.every.String(), func() { sc.run(name) }); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", name, err)
		}
	}
	return sc, nil
}

// Start runs every job once, then on its interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	for _, name := range []string{JobRollover, JobSweep, JobReconcile} {
		s.run(name)
	}
	s.cron.Start()
	s.log.Info("maintenance scheduler started", "rollover", s.sched.Rollover, "sweep", s.sched.Sweep,
		"reconcile", s.sched.Reconcile)
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
}

func (s *Scheduler) run(job string) {
	if s.ctx.Err() != nil {
		return
	}
	_ = s.tasks.Run(s.ctx, job)
}
