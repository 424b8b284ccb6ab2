package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidpackuk/backend/internal/models"
)

const aiRequestColumns = `id, org_id, user_id, action_type, acus_used, tokens_used, status, bid_id, failure_reason, created_at, completed_at`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type AIRequestRepo struct {
	pool *pgxpool.Pool
}

func NewAIRequestRepo(pool *pgxpool.Pool) *AIRequestRepo {
	return &AIRequestRepo{pool: pool}
}

func (r *AIRequestRepo) Create(ctx context.Context, a *models.AIRequest) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ai_requests (id, org_id, user_id, action_type, acus_used, tokens_used, status, bid_id, failure_reason, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.OrgID, a.UserID, string(a.ActionType), a.ACUsUsed, a.TokensUsed, string(a.Status), a.BidID, a.FailureReason, a.CreatedAt, a.CompletedAt)
	return mapErr(err)
}

// Finish moves a pending request to its terminal state, inside tx when given.
func (r *AIRequestRepo) Finish(ctx context.Context, tx pgx.Tx, a *models.AIRequest) error {
	var db execer = r.pool
	if tx != nil {
		db = tx
	}
	tag, err := db.Exec(ctx, `
		UPDATE ai_requests
		SET status = $2, acus_used = $3, tokens_used = $4, failure_reason = $5, completed_at = $6
		WHERE id = $1 AND status = 'pending'
	`, a.ID, string(a.Status), a.ACUsUsed, a.TokensUsed, a.FailureReason, a.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	cur, err := r.Get(ctx, a.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", models.ErrRequestFinalized, a.ID, cur.Status)
}

func (r *AIRequestRepo) Get(ctx context.Context, id uuid.UUID) (*models.AIRequest, error) {
	a, err := scanAIRequest(r.pool.QueryRow(ctx, `SELECT `+aiRequestColumns+` FROM ai_requests WHERE id = $1`, id))
	return a, mapErr(err)
}

// List returns matching requests newest first.
func (r *AIRequestRepo) List(ctx context.Context, f models.AIRequestFilter) ([]*models.AIRequest, error) {
	var w where
	if f.OrgID != nil {
		w.add("org_id = $%d", *f.OrgID)
	}
	if f.ActionType != "" {
		w.add("action_type = $%d", string(f.ActionType))
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.StartDate != nil {
		w.add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		w.add("created_at <= $%d", *f.EndDate)
	}
	return r.query(ctx, `SELECT `+aiRequestColumns+` FROM ai_requests`+w.String()+` ORDER BY created_at DESC, id DESC`, w.args...)
}

func (r *AIRequestRepo) ListPending(ctx context.Context, createdBefore time.Time) ([]*models.AIRequest, error) {
	return r.query(ctx, `
		SELECT `+aiRequestColumns+` FROM ai_requests
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
	`, createdBefore)
}

func (r *AIRequestRepo) query(ctx context.Context, sql string, args ...any) ([]*models.AIRequest, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]*models.AIRequest, 0)
	for rows.Next() {
		a, err := scanAIRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func scanAIRequest(row pgx.Row) (*models.AIRequest, error) {
	var a models.AIRequest
	var action, status string
	err := row.Scan(&a.ID, &a.OrgID, &a.UserID, &action, &a.ACUsUsed, &a.TokensUsed, &status, &a.BidID, &a.FailureReason, &a.CreatedAt, &a.CompletedAt)
	if err != nil {
		return nil, err
	}
	a.ActionType = models.ActionType(action)
	a.Status = models.AIRequestStatus(status)
	return &a, nil
}
