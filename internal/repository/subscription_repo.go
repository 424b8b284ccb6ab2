package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidpackuk/backend/internal/models"
	"github.com/bidpackuk/backend/internal/subscription"
)

const subscriptionColumns = `id, org_id, plan_type, status, current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at`

type SubscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

var _ subscription.Store = (*SubscriptionRepo)(nil)

func (r *SubscriptionRepo) GetByOrg(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE org_id = $1`, orgID))
	return s, mapErr(err)
}

func (r *SubscriptionRepo) CreateTx(ctx context.Context, tx pgx.Tx, s *models.Subscription) error {
	var db execer = r.pool
	if tx != nil {
		db = tx
	}
	_, err := db.Exec(ctx, `
		INSERT INTO subscriptions (id, org_id, plan_type, status, current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.OrgID, string(s.PlanType), string(s.Status), s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CancelAtPeriodEnd, s.CreatedAt, s.UpdatedAt)
	return mapErr(err)
}

func (r *SubscriptionRepo) Update(ctx context.Context, orgID uuid.UUID, u subscription.Update, at time.Time) (*models.Subscription, error) {
	var status, plan *string
	if u.Status != nil {
		v := string(*u.Status)
		status = &v
	}
	if u.PlanType != nil {
		v := string(*u.PlanType)
		plan = &v
	}
	s, err := scanSubscription(r.pool.QueryRow(ctx, `
		UPDATE subscriptions
		SET status = COALESCE($2, status),
		    cancel_at_period_end = COALESCE($3, cancel_at_period_end),
		    plan_type = COALESCE($4, plan_type),
		    updated_at = $5
		WHERE org_id = $1
		RETURNING `+subscriptionColumns, orgID, status, u.CancelAtPeriodEnd, plan, at))
	return s, mapErr(err)
}

func (r *SubscriptionRepo) AdvancePeriodTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, prevEnd, start, end time.Time) error {
	var db execer = r.pool
	if tx != nil {
		db = tx
	}
	tag, err := db.Exec(ctx, `
		UPDATE subscriptions
		SET current_period_start = $3, current_period_end = $4, updated_at = now()
		WHERE id = $1 AND current_period_end = $2
	`, id, prevEnd, start, end)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: subscription %s period already advanced", models.ErrConflict, id)
	}
	return nil
}

func (r *SubscriptionRepo) ListDue(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	return r.query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN ('active', 'trialing') AND current_period_end <= $1
		ORDER BY current_period_end
	`, now)
}

func (r *SubscriptionRepo) List(ctx context.Context) ([]*models.Subscription, error) {
	return r.query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at`)
}

func (r *SubscriptionRepo) query(ctx context.Context, sql string, args ...any) ([]*models.Subscription, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]*models.Subscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	var plan, status string
	err := row.Scan(&s.ID, &s.OrgID, &plan, &status, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.PlanType = models.PlanType(plan)
	s.Status = models.SubscriptionStatus(status)
	return &s, nil
}
