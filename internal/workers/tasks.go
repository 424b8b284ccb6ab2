package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bidpackuk/backend/internal/models"
)

// Job names, shared by the River workers, the cron scheduler and metrics.
const (
	JobRollover  = "subscription_rollover"
	JobSweep     = "ai_request_sweep"
	JobReconcile = "ledger_reconcile"
)

// ErrUnknownJob is returned by Tasks.Run for names it does not handle.
var ErrUnknownJob = errors.New("unknown job")

type Rollover interface {
	RolloverDue(ctx context.Context, now time.Time) (int, error)
}

type PendingRequests interface {
	ListPending(ctx context.Context, createdBefore time.Time) ([]*models.AIRequest, error)
	Finish(ctx context.Context, tx pgx.Tx, r *models.AIRequest) error
}

type Reconciler interface {
	Reconcile(ctx context.Context) ([]uuid.UUID, error)
}

type Observer interface {
	ObserveJob(job string, err error)
}

type TasksConfig struct {
	Subscriptions Rollover
	Requests      PendingRequests
	Ledger        Reconciler
	Observer      Observer
	Logger        *slog.Logger
	// StaleAfter is how long a request may stay pending before the sweeper
	// fails it.
	StaleAfter time.Duration
}

// Tasks holds the periodic maintenance work. The same methods back the River
// workers and the in-process cron scheduler.
type Tasks struct {
	subs       Rollover
	requests   PendingRequests
	ledger     Reconciler
	obs        Observer
	log        *slog.Logger
	staleAfter time.Duration
	now        func() time.Time
}

func NewTasks(cfg TasksConfig) *Tasks {
	t := &Tasks{
		subs:       cfg.Subscriptions,
		requests:   cfg.Requests,
		ledger:     cfg.Ledger,
		obs:        cfg.Observer,
		log:        cfg.Logger,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	if t.staleAfter <= 0 {
		t.staleAfter = 2*time.Minute + time.Minute
	}
	return t
}

// Run executes the named job and records its outcome.
func (t *Tasks) Run(ctx context.Context, job string) error {
	var err error
	switch job {
	case JobRollover:
		err = t.Rollover(ctx)
	case JobSweep:
		_, err = t.SweepPending(ctx)
	case JobReconcile:
		err = t.Reconcile(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	if t.obs != nil {
		t.obs.ObserveJob(job, err)
	}
	if err != nil {
		t.log.Error("job failed", "job", job, "error", err)
	}
	return err
}

func (t *Tasks) Rollover(ctx context.Context) error {
	n, err := t.subs.RolloverDue(ctx, t.now().UTC())
	if n > 0 {
		t.log.Info("subscription periods rolled over", "grants", n)
	}
	return err
}

// SweepPending fails requests that have been pending longer than staleAfter,
// which only happens when a server died mid-call. It returns how many were
// failed.
func (t *Tasks) SweepPending(ctx context.Context) (int, error) {
	now := t.now().UTC()
	stale, err := t.requests.ListPending(ctx, now.Add(-t.staleAfter))
	if err != nil {
		return 0, err
	}
	swept := 0
	var errs []error
	for _, r := range stale {
		r.Status = models.AIRequestFailed
		r.ACUsUsed = 0
		r.FailureReason = fmt.Sprintf("abandoned: no result after %s", t.staleAfter)
		r.CompletedAt = &now
		err := t.requests.Finish(ctx, nil, r)
		switch {
		case err == nil:
			swept++
			t.log.Warn("stale AI request failed", "request_id", r.ID, "org_id", r.OrgID, "created_at", r.CreatedAt)
		case errors.Is(err, models.ErrRequestFinalized):
			// Completed between the listing and the update.
		default:
			errs = append(errs, fmt.Errorf("request %s: %w", r.ID, err))
		}
	}
	return swept, errors.Join(errs...)
}

func (t *Tasks) Reconcile(ctx context.Context) error {
	corrupt, err := t.ledger.Reconcile(ctx)
	if err != nil {
		return err
	}
	if len(corrupt) > 0 {
		t.log.Error("ledger reconciliation found corrupt orgs", "alert", true, "org_ids", corrupt)
	}
	return nil
}
