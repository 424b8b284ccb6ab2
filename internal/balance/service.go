package balance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/models"
)

type Ledger interface {
	CurrentBalance(ctx context.Context, orgID uuid.UUID) (int, error)
	Usage(ctx context.Context, f models.UsageFilter) (int, error)
}

type Allocations interface {
	Allocation(ctx context.Context, orgID uuid.UUID) (int, error)
}

type Orgs interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Organization, error)
}

// Accessor answers balance queries. It never writes.
type Accessor struct {
	ledger Ledger
	plans  Allocations
	orgs   Orgs
	now    func() time.Time
}

func NewAccessor(l Ledger, plans Allocations, orgs Orgs) *Accessor {
	return &Accessor{ledger: l, plans: plans, orgs: orgs, now: time.Now}
}

// GetBalance reports the org's balance, plan allocation and usage for the
// current UTC calendar month. Usage counts debits and expiries. Unknown orgs
// are models.ErrNotFound.
func (a *Accessor) GetBalance(ctx context.Context, orgID uuid.UUID) (*models.Balance, error) {
	if _, err := a.orgs.Get(ctx, orgID); err != nil {
		return nil, err
	}
	bal, err := a.ledger.CurrentBalance(ctx, orgID)
	if err != nil {
		return nil, err
	}
	alloc, err := a.plans.Allocation(ctx, orgID)
	if err != nil {
		return nil, err
	}
	usage, err := a.ledger.Usage(ctx, models.UsageFilter{
		OrgID: &orgID,
		Types: []models.TransactionType{models.TxDebit, models.TxExpiry},
		From:  models.MonthStart(a.now()),
	})
	if err != nil {
		return nil, err
	}
	return &models.Balance{
		Balance:           bal,
		MonthlyAllocation: alloc,
		UsageThisMonth:    usage,
		Remaining:         bal,
	}, nil
}
