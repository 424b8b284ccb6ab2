package workers

import (
	"context"
	"time"

	"github.com/riverqueue/river"
)

type RolloverArgs struct{}

func (RolloverArgs) Kind() string { return JobRollover }

type SweepArgs struct{}

func (SweepArgs) Kind() string { return JobSweep }

type ReconcileArgs struct{}

func (ReconcileArgs) Kind() string { return JobReconcile }

type RolloverWorker struct {
	river.WorkerDefaults[RolloverArgs]
	tasks *Tasks
}

func (w *RolloverWorker) Work(ctx context.Context, _ *river.Job[RolloverArgs]) error {
	return w.tasks.Run(ctx, JobRollover)
}

type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	tasks *Tasks
}

func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	return w.tasks.Run(ctx, JobSweep)
}

type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]
	tasks *Tasks
}

func (w *ReconcileWorker) Work(ctx context.Context, _ *river.Job[ReconcileArgs]) error {
	return w.tasks.Run(ctx, JobReconcile)
}

// Schedule is how often each maintenance job runs.
type Schedule struct {
	Rollover  time.Duration
	Sweep     time.Duration
	Reconcile time.Duration
}

func DefaultSchedule() Schedule {
	return Schedule{Rollover: time.Hour, Sweep: 5 * time.Minute, Reconcile: time.Hour}
}

// Register adds the maintenance workers to workers.
func Register(workers *river.Workers, t *Tasks) {
	river.AddWorker(workers, &RolloverWorker{tasks: t})
	river.AddWorker(workers, &SweepWorker{tasks: t})
	river.AddWorker(workers, &ReconcileWorker{tasks: t})
}

// PeriodicJobs returns the River periodic jobs for s. Each also runs once at
// client start so a restart catches up on missed periods.
func PeriodicJobs(s Schedule) []*river.PeriodicJob {
	opts := &river.PeriodicJobOpts{RunOnStart: true}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(river.PeriodicInterval(s.Rollover), func() (river.JobArgs, *river.InsertOpts) {
			return RolloverArgs{}, nil
		}, opts),
		river.NewPeriodicJob(river.PeriodicInterval(s.Sweep), func() (river.JobArgs, *river.InsertOpts) {
			return SweepArgs{}, nil
		}, opts),
		river.NewPeriodicJob(river.PeriodicInterval(s.Reconcile), func() (river.JobArgs, *river.InsertOpts) {
			return ReconcileArgs{}, nil
		}, opts),
	}
}
