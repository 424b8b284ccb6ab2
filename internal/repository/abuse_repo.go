package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidpackuk/backend/internal/abuse"
	"github.com/bidpackuk/backend/internal/models"
)

type AbuseRepo struct {
	pool *pgxpool.Pool
}

func NewAbuseRepo(pool *pgxpool.Pool) *AbuseRepo {
	return &AbuseRepo{pool: pool}
}

var _ abuse.Store = (*AbuseRepo)(nil)

// Add appends reason unless the org already carries it. detected_at keeps the
// time of the first flag.
func (r *AbuseRepo) Add(ctx context.Context, orgID uuid.UUID, reason string, at time.Time) (*models.AbuseFlag, error) {
	var f models.AbuseFlag
	err := r.pool.QueryRow(ctx, `
		INSERT INTO abuse_flags (org_id, reasons, detected_at)
		VALUES ($1, ARRAY[$2::text], $3)
		ON CONFLICT (org_id) DO UPDATE
		SET reasons = CASE
			WHEN $2::text = ANY(abuse_flags.reasons) THEN abuse_flags.reasons
			ELSE array_append(abuse_flags.reasons, $2::text)
		END
		RETURNING org_id, reasons, detected_at
	`, orgID, reason, at).Scan(&f.OrgID, &f.Reasons, &f.DetectedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &f, nil
}

func (r *AbuseRepo) Delete(ctx context.Context, orgID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM abuse_flags WHERE org_id = $1`, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *AbuseRepo) List(ctx context.Context) ([]*models.AbuseFlag, error) {
	rows, err := r.pool.Query(ctx, `SELECT org_id, reasons, detected_at FROM abuse_flags ORDER BY detected_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]*models.AbuseFlag, 0)
	for rows.Next() {
		var f models.AbuseFlag
		if err := rows.Scan(&f.OrgID, &f.Reasons, &f.DetectedAt); err != nil {
			return nil, err
		}
		list = append(list, &f)
	}
	return list, rows.Err()
}
