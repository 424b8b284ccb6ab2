package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidpackuk/backend/internal/aisettings"
	"github.com/bidpackuk/backend/internal/models"
)

const settingsColumns = `ai_enabled, max_acus_per_request, max_acus_per_day, max_acus_per_month, updated_at, updated_by`

// SettingsRepo stores the singleton global_ai_settings row (id = 1) and its
// audit trail.
type SettingsRepo struct {
	pool *pgxpool.Pool
}

func NewSettingsRepo(pool *pgxpool.Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

var _ aisettings.Store = (*SettingsRepo)(nil)

func (r *SettingsRepo) Load(ctx context.Context) (models.GlobalAISettings, error) {
	s, err := scanSettings(r.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM global_ai_settings WHERE id = 1`))
	if err != nil {
		return models.GlobalAISettings{}, mapErr(err)
	}
	return s, nil
}

func (r *SettingsRepo) Update(ctx context.Context, mutate aisettings.Mutator) (models.GlobalAISettings, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.GlobalAISettings{}, err
	}
	defer tx.Rollback(ctx)

	cur, err := scanSettings(tx.QueryRow(ctx, `SELECT `+settingsColumns+` FROM global_ai_settings WHERE id = 1 FOR UPDATE`))
	if err != nil {
		return models.GlobalAISettings{}, mapErr(err)
	}
	change, err := mutate(cur)
	if err != nil {
		return models.GlobalAISettings{}, err
	}
	if change == nil {
		return cur, nil
	}

	next := change.After
	if _, err := tx.Exec(ctx, `
		UPDATE global_ai_settings
		SET ai_enabled = $1, max_acus_per_request = $2, max_acus_per_day = $3, max_acus_per_month = $4,
		    updated_at = $5, updated_by = $6
		WHERE id = 1
	`, next.AIEnabled, next.MaxACUsPerRequest, next.MaxACUsPerDay, next.MaxACUsPerMonth, next.UpdatedAt, next.UpdatedBy); err != nil {
		return models.GlobalAISettings{}, err
	}

	before, err := json.Marshal(change.Before)
	if err != nil {
		return models.GlobalAISettings{}, err
	}
	after, err := json.Marshal(change.After)
	if err != nil {
		return models.GlobalAISettings{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO ai_settings_audit (id, actor, before, after, changed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, change.ID, change.Actor, before, after, change.ChangedAt); err != nil {
		return models.GlobalAISettings{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.GlobalAISettings{}, err
	}
	return next, nil
}

func (r *SettingsRepo) History(ctx context.Context, limit int) ([]*models.SettingsChange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor, before, after, changed_at FROM ai_settings_audit
		ORDER BY changed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]*models.SettingsChange, 0)
	for rows.Next() {
		var c models.SettingsChange
		var before, after []byte
		if err := rows.Scan(&c.ID, &c.Actor, &before, &after, &c.ChangedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(before, &c.Before); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(after, &c.After); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}

func scanSettings(row pgx.Row) (models.GlobalAISettings, error) {
	var s models.GlobalAISettings
	err := row.Scan(&s.AIEnabled, &s.MaxACUsPerRequest, &s.MaxACUsPerDay, &s.MaxACUsPerMonth, &s.UpdatedAt, &s.UpdatedBy)
	return s, err
}
