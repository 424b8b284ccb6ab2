package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidpackuk/backend/internal/models"
)

const orgColumns = `id, name, suspended, suspended_at, created_at, updated_at`

type OrgRepo struct {
	pool *pgxpool.Pool
}

func NewOrgRepo(pool *pgxpool.Pool) *OrgRepo {
	return &OrgRepo{pool: pool}
}

func (r *OrgRepo) Create(ctx context.Context, o *models.Organization) error {
	return mapErr(r.pool.QueryRow(ctx, `
		INSERT INTO organizations (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING created_at, updated_at
	`, o.ID, o.Name, o.CreatedAt).Scan(&o.CreatedAt, &o.UpdatedAt))
}

func (r *OrgRepo) Get(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	o, err := scanOrg(r.pool.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
	return o, mapErr(err)
}

func (r *OrgRepo) List(ctx context.Context) ([]*models.Organization, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]*models.Organization, 0)
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// SetSuspended keeps the original suspended_at when suspending twice.
func (r *OrgRepo) SetSuspended(ctx context.Context, id uuid.UUID, suspended bool, at time.Time) (*models.Organization, error) {
	o, err := scanOrg(r.pool.QueryRow(ctx, `
		UPDATE organizations
		SET suspended = $2,
		    suspended_at = CASE WHEN $2 THEN COALESCE(suspended_at, $3) ELSE NULL END,
		    updated_at = $3
		WHERE id = $1
		RETURNING `+orgColumns, id, suspended, at))
	return o, mapErr(err)
}

func scanOrg(row pgx.Row) (*models.Organization, error) {
	var o models.Organization
	if err := row.Scan(&o.ID, &o.Name, &o.Suspended, &o.SuspendedAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}
