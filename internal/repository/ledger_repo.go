package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidpackuk/backend/internal/ledger"
	"github.com/bidpackuk/backend/internal/models"
)

const ledgerColumns = `id, org_id, seq, transaction_type, amount, balance_after, description, reference_id, created_at`

const signedAmount = `CASE WHEN transaction_type IN ('debit', 'expiry') THEN -amount ELSE amount END`

// LedgerRepo is the Postgres ledger.Store. Each append locks the org's
// acu_accounts row, so writers for one org are serialized while other orgs
// proceed in parallel.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

var _ ledger.Store = (*LedgerRepo)(nil)

func (r *LedgerRepo) Append(ctx context.Context, e *models.LedgerEntry, hook ledger.AppendHook) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO acu_accounts (org_id) VALUES ($1)
		ON CONFLICT (org_id) DO NOTHING
	`, e.OrgID); err != nil {
		return mapErr(err)
	}

	var balance int
	var lastSeq int64
	var frozen *string
	if err := tx.QueryRow(ctx, `
		SELECT balance, last_seq, frozen_reason FROM acu_accounts WHERE org_id = $1 FOR UPDATE
	`, e.OrgID).Scan(&balance, &lastSeq, &frozen); err != nil {
		return mapErr(err)
	}
	if frozen != nil {
		return fmt.Errorf("%w: %s", models.ErrLedgerFrozen, *frozen)
	}

	last, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+ledgerColumns+` FROM acu_ledger WHERE org_id = $1 ORDER BY seq DESC LIMIT 1
	`, e.OrgID))
	if errors.Is(err, pgx.ErrNoRows) {
		last = nil
	} else if err != nil {
		return err
	}

	var sum int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(`+signedAmount+`), 0) FROM acu_ledger WHERE org_id = $1
	`, e.OrgID).Scan(&sum); err != nil {
		return err
	}

	// The cached account row must agree with the ledger tail.
	tailBalance, tailSeq := 0, int64(0)
	if last != nil {
		tailBalance, tailSeq = last.BalanceAfter, last.Seq
	}
	if balance != tailBalance || lastSeq != tailSeq {
		return &models.CorruptionError{Seq: tailSeq, Expected: tailBalance, Actual: balance}
	}

	if err := ledger.Apply(last, sum, e); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO acu_ledger (id, org_id, seq, transaction_type, amount, balance_after, description, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.OrgID, e.Seq, string(e.TransactionType), e.Amount, e.BalanceAfter, e.Description, e.ReferenceID, e.CreatedAt); err != nil {
		return mapErr(err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE acu_accounts SET balance = $1, last_seq = $2, updated_at = $3 WHERE org_id = $4
	`, e.BalanceAfter, e.Seq, e.CreatedAt, e.OrgID); err != nil {
		return err
	}

	if hook != nil {
		if err := hook(ctx, tx, e); err != nil {
			return err
		}
	}
	return mapErr(tx.Commit(ctx))
}

// List returns matching entries oldest first.
func (r *LedgerRepo) List(ctx context.Context, f models.LedgerFilter) ([]*models.LedgerEntry, error) {
	var w where
	if f.OrgID != nil {
		w.add("org_id = $%d", *f.OrgID)
	}
	if f.Type != "" {
		w.add("transaction_type = $%d", string(f.Type))
	}
	if f.StartDate != nil {
		w.add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		w.add("created_at <= $%d", *f.EndDate)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledgerColumns+` FROM acu_ledger`+w.String()+`
		ORDER BY created_at ASC, org_id ASC, seq ASC
	`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (r *LedgerRepo) Last(ctx context.Context, orgID uuid.UUID) (*models.LedgerEntry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `
		SELECT `+ledgerColumns+` FROM acu_ledger WHERE org_id = $1 ORDER BY seq DESC LIMIT 1
	`, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *LedgerRepo) Sum(ctx context.Context, f models.UsageFilter) (int, error) {
	var w where
	if f.OrgID != nil {
		w.add("org_id = $%d", *f.OrgID)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		w.add("transaction_type = ANY($%d)", types)
	}
	if !f.From.IsZero() {
		w.add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		w.add("created_at < $%d", f.To)
	}
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM acu_ledger`+w.String(), w.args...).Scan(&total)
	return total, err
}

func (r *LedgerRepo) OrgIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT org_id FROM acu_accounts ORDER BY org_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *LedgerRepo) Freeze(ctx context.Context, orgID uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO acu_accounts (org_id, frozen_reason) VALUES ($1, $2)
		ON CONFLICT (org_id) DO UPDATE SET frozen_reason = EXCLUDED.frozen_reason, updated_at = now()
	`, orgID, reason)
	return mapErr(err)
}

func (r *LedgerRepo) Unfreeze(ctx context.Context, orgID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE acu_accounts SET frozen_reason = NULL, updated_at = now() WHERE org_id = $1`, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var typ string
	if err := row.Scan(&e.ID, &e.OrgID, &e.Seq, &typ, &e.Amount, &e.BalanceAfter, &e.Description, &e.ReferenceID, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.TransactionType = models.TransactionType(typ)
	return &e, nil
}
