package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bidpackuk/backend/internal/models"
)

// AppendHook runs inside the append's critical section, after the entry has
// been validated and before it becomes visible. Returning an error discards
// the entry. tx is nil for stores without transactions.
type AppendHook func(ctx context.Context, tx pgx.Tx, entry *models.LedgerEntry) error

// Store persists ledger entries. Append must serialize writers per org and
// call Apply under that lock.
type Store interface {
	Append(ctx context.Context, entry *models.LedgerEntry, hook AppendHook) error
	// List returns matching entries ordered oldest first.
	List(ctx context.Context, f models.LedgerFilter) ([]*models.LedgerEntry, error)
	Last(ctx context.Context, orgID uuid.UUID) (*models.LedgerEntry, error)
	Sum(ctx context.Context, f models.UsageFilter) (int, error)
	OrgIDs(ctx context.Context) ([]uuid.UUID, error)
	Freeze(ctx context.Context, orgID uuid.UUID, reason string) error
	Unfreeze(ctx context.Context, orgID uuid.UUID) error
}

// Observer receives ledger events, typically for metrics.
type Observer interface {
	LedgerAppended(t models.TransactionType, amount int)
	LedgerCorrupted()
}

type AppendInput struct {
	Type        models.TransactionType
	Amount      int
	Description string
	ReferenceID *string
}

type Service interface {
	Append(ctx context.Context, orgID uuid.UUID, in AppendInput, hook AppendHook) (*models.LedgerEntry, error)
	// List returns an org's entries newest first.
	List(ctx context.Context, orgID uuid.UUID, f models.LedgerFilter) ([]*models.LedgerEntry, error)
	ListAll(ctx context.Context, f models.LedgerFilter) ([]*models.LedgerEntry, error)
	CurrentBalance(ctx context.Context, orgID uuid.UUID) (int, error)
	Usage(ctx context.Context, f models.UsageFilter) (int, error)
	Verify(ctx context.Context, orgID uuid.UUID) error
	Reconcile(ctx context.Context) ([]uuid.UUID, error)
	Unfreeze(ctx context.Context, orgID uuid.UUID) error
}

type service struct {
	store Store
	obs   Observer
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, obs Observer, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &service{store: store, obs: obs, log: log, now: time.Now}
}

var _ Service = (*service)(nil)

func (s *service) Append(ctx context.Context, orgID uuid.UUID, in AppendInput, hook AppendHook) (*models.LedgerEntry, error) {
	if in.Amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidTransactionType, in.Type)
	}
	entry := &models.LedgerEntry{
		ID:              uuid.New(),
		OrgID:           orgID,
		TransactionType: in.Type,
		Amount:          in.Amount,
		Description:     strings.TrimSpace(in.Description),
		ReferenceID:     in.ReferenceID,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.Append(ctx, entry, hook); err != nil {
		if errors.Is(err, models.ErrLedgerCorrupted) {
			s.freeze(context.WithoutCancel(ctx), orgID, err)
		}
		return nil, err
	}
	s.obs.LedgerAppended(entry.TransactionType, entry.Amount)
	return entry, nil
}

func (s *service) List(ctx context.Context, orgID uuid.UUID, f models.LedgerFilter) ([]*models.LedgerEntry, error) {
	f.OrgID = &orgID
	return s.ListAll(ctx, f)
}

func (s *service) ListAll(ctx context.Context, f models.LedgerFilter) ([]*models.LedgerEntry, error) {
	entries, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	return entries, nil
}

func (s *service) CurrentBalance(ctx context.Context, orgID uuid.UUID) (int, error) {
	last, err := s.store.Last(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	return last.BalanceAfter, nil
}

func (s *service) Usage(ctx context.Context, f models.UsageFilter) (int, error) {
	return s.store.Sum(ctx, f)
}

// Verify replays an org's full ledger. A corrupt ledger is frozen.
func (s *service) Verify(ctx context.Context, orgID uuid.UUID) error {
	entries, err := s.store.List(ctx, models.LedgerFilter{OrgID: &orgID})
	if err != nil {
		return err
	}
	if err := Verify(entries); err != nil {
		s.freeze(ctx, orgID, err)
		return err
	}
	return nil
}

// Reconcile verifies every org and returns the ones found corrupt.
func (s *service) Reconcile(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := s.store.OrgIDs(ctx)
	if err != nil {
		return nil, err
	}
	var corrupt []uuid.UUID
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return corrupt, err
		}
		err := s.Verify(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrLedgerCorrupted):
			corrupt = append(corrupt, id)
		default:
			return corrupt, fmt.Errorf("verify org %s: %w", id, err)
		}
	}
	return corrupt, nil
}

func (s *service) Unfreeze(ctx context.Context, orgID uuid.UUID) error {
	if err := s.store.Unfreeze(ctx, orgID); err != nil {
		return err
	}
	s.log.Warn("ledger unfrozen", "org_id", orgID)
	return nil
}

func (s *service) freeze(ctx context.Context, orgID uuid.UUID, cause error) {
	s.obs.LedgerCorrupted()
	s.log.Error("ledger consistency check failed, halting writes for org",
		"org_id", orgID, "error", cause, "alert", true)
	if err := s.store.Freeze(ctx, orgID, cause.Error()); err != nil {
		s.log.Error("freeze ledger", "org_id", orgID, "error", err)
	}
}

type nopObserver struct{}

func (nopObserver) LedgerAppended(models.TransactionType, int) {}
func (nopObserver) LedgerCorrupted()                           {}
