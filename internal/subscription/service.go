package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bidpackuk/backend/internal/ledger"
	"github.com/bidpackuk/backend/internal/models"
)

// maxCatchUpPeriods bounds how many missed periods one rollover run grants.
const maxCatchUpPeriods = 12

type Store interface {
	GetByOrg(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error)
	CreateTx(ctx context.Context, tx pgx.Tx, s *models.Subscription) error
	Update(ctx context.Context, orgID uuid.UUID, u Update, at time.Time) (*models.Subscription, error)
	// AdvancePeriodTx moves the period forward only if it still ends at prevEnd,
	// returning models.ErrConflict otherwise.
	AdvancePeriodTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, prevEnd, start, end time.Time) error
	ListDue(ctx context.Context, now time.Time) ([]*models.Subscription, error)
	List(ctx context.Context) ([]*models.Subscription, error)
}

type Ledger interface {
	Append(ctx context.Context, orgID uuid.UUID, in ledger.AppendInput, hook ledger.AppendHook) (*models.LedgerEntry, error)
	List(ctx context.Context, orgID uuid.UUID, f models.LedgerFilter) ([]*models.LedgerEntry, error)
}

// Update is a partial change to a subscription.
type Update struct {
	Status            *models.SubscriptionStatus `json:"status,omitempty"`
	CancelAtPeriodEnd *bool                      `json:"cancel_at_period_end,omitempty"`
	PlanType          *models.PlanType           `json:"plan_type,omitempty"`
}

type Service struct {
	store  Store
	ledger Ledger
	log    *slog.Logger
	now    func() time.Time
}

func NewService(store Store, l Ledger, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, ledger: l, log: log, now: time.Now}
}

// Plans returns the plan table ordered by price.
func (s *Service) Plans() []models.Plan {
	out := make([]models.Plan, 0, len(models.Plans))
	for _, p := range models.Plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MonthlyPricePence < out[j].MonthlyPricePence })
	return out
}

func (s *Service) Get(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error) {
	return s.store.GetByOrg(ctx, orgID)
}

func (s *Service) List(ctx context.Context) ([]*models.Subscription, error) {
	return s.store.List(ctx)
}

// Subscribe starts a plan for an org and grants the first period's allocation
// in the same write.
func (s *Service) Subscribe(ctx context.Context, orgID uuid.UUID, planType models.PlanType) (*models.Subscription, *models.LedgerEntry, error) {
	plan, ok := models.Plans[planType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown plan %q", models.ErrInvalidInput, planType)
	}
	existing, err := s.store.GetByOrg(ctx, orgID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, fmt.Errorf("%w: org already has a subscription", models.ErrConflict)
	}

	now := s.now().UTC()
	sub := &models.Subscription{
		ID:                 uuid.New(),
		OrgID:              orgID,
		PlanType:           plan.Type,
		Status:             models.SubActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	entry, err := s.ledger.Append(ctx, orgID, ledger.AppendInput{
		Type:        models.TxGrant,
		Amount:      plan.MonthlyACUs,
		Description: fmt.Sprintf("Monthly allocation: %s plan", plan.Name),
		ReferenceID: periodRef(sub.ID, sub.CurrentPeriodStart),
	}, func(ctx context.Context, tx pgx.Tx, _ *models.LedgerEntry) error {
		return s.store.CreateTx(ctx, tx, sub)
	})
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("subscription created", "org_id", orgID, "plan", plan.Type, "granted", plan.MonthlyACUs)
	return sub, entry, nil
}

func (s *Service) Update(ctx context.Context, orgID uuid.UUID, u Update) (*models.Subscription, error) {
	if u.Status != nil && !u.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, *u.Status)
	}
	if u.PlanType != nil {
		if _, ok := models.Plans[*u.PlanType]; !ok {
			return nil, fmt.Errorf("%w: unknown plan %q", models.ErrInvalidInput, *u.PlanType)
		}
	}
	now := s.now().UTC()
	if u.Status != nil && u.Status.Entitled() {
		prev, err := s.store.GetByOrg(ctx, orgID)
		if err != nil {
			return nil, err
		}
		// Realign while still unentitled so the rollover job cannot grant
		// the periods in between.
		if !prev.Status.Entitled() {
			if err := s.realign(ctx, prev, now); err != nil {
				return nil, err
			}
		}
	}
	sub, err := s.store.Update(ctx, orgID, u, now)
	if err != nil {
		return nil, err
	}
	s.log.Info("subscription updated", "org_id", orgID, "status", sub.Status, "plan", sub.PlanType,
		"cancel_at_period_end", sub.CancelAtPeriodEnd)
	return sub, nil
}

// realign moves an ended period forward to the one containing now without
// granting anything. Periods spent past_due or canceled are not paid for.
func (s *Service) realign(ctx context.Context, sub *models.Subscription, now time.Time) error {
	if sub.CurrentPeriodEnd.After(now) {
		return nil
	}
	start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	for !end.After(now) {
		start, end = end, end.AddDate(0, 1, 0)
	}
	if err := s.store.AdvancePeriodTx(ctx, nil, sub.ID, sub.CurrentPeriodEnd, start, end); err != nil {
		return err
	}
	s.log.Info("subscription period realigned", "org_id", sub.OrgID, "period_start", start, "period_end", end)
	return nil
}

// Allocation is the monthly ACU allowance of an org's plan, or 0 when the org
// has no subscription in an entitled state.
func (s *Service) Allocation(ctx context.Context, orgID uuid.UUID) (int, error) {
	sub, err := s.store.GetByOrg(ctx, orgID)
	if errors.Is(err, models.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !sub.Status.Entitled() {
		return 0, nil
	}
	return models.Plans[sub.PlanType].MonthlyACUs, nil
}

// Rollover closes the current period of sub if it has ended. Entitled
// subscriptions get the next period's grant; subscriptions marked to cancel
// become canceled instead. It reports whether a grant was written.
func (s *Service) Rollover(ctx context.Context, sub *models.Subscription, now time.Time) (bool, error) {
	if sub.CurrentPeriodEnd.After(now) || !sub.Status.Entitled() {
		return false, nil
	}
	if sub.CancelAtPeriodEnd {
		canceled := models.SubCanceled
		if _, err := s.store.Update(ctx, sub.OrgID, Update{Status: &canceled}, now); err != nil {
			return false, err
		}
		sub.Status = models.SubCanceled
		s.log.Info("subscription canceled at period end", "org_id", sub.OrgID)
		return false, nil
	}

	plan, ok := models.Plans[sub.PlanType]
	if !ok {
		return false, fmt.Errorf("subscription %s: unknown plan %q", sub.ID, sub.PlanType)
	}
	prevEnd := sub.CurrentPeriodEnd
	start := prevEnd
	end := start.AddDate(0, 1, 0)
	_, err := s.ledger.Append(ctx, sub.OrgID, ledger.AppendInput{
		Type:        models.TxGrant,
		Amount:      plan.MonthlyACUs,
		Description: fmt.Sprintf("Monthly allocation: %s plan", plan.Name),
		ReferenceID: periodRef(sub.ID, start),
	}, func(ctx context.Context, tx pgx.Tx, _ *models.LedgerEntry) error {
		return s.store.AdvancePeriodTx(ctx, tx, sub.ID, prevEnd, start, end)
	})
	if errors.Is(err, models.ErrConflict) {
		// Another worker already rolled this period.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = end
	s.log.Info("period rolled over", "org_id", sub.OrgID, "period_start", start, "granted", plan.MonthlyACUs)
	return true, nil
}

// RolloverDue rolls every subscription whose period has ended and returns the
// number of grants written. Failures for one org do not stop the others.
func (s *Service) RolloverDue(ctx context.Context, now time.Time) (int, error) {
	subs, err := s.store.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}
	granted := 0
	var errs []error
	for _, sub := range subs {
		for i := 0; i < maxCatchUpPeriods && !sub.CurrentPeriodEnd.After(now); i++ {
			ok, err := s.Rollover(ctx, sub, now)
			if err != nil {
				s.log.Error("rollover failed", "org_id", sub.OrgID, "error", err)
				errs = append(errs, fmt.Errorf("org %s: %w", sub.OrgID, err))
				break
			}
			if !ok {
				break
			}
			granted++
		}
	}
	return granted, errors.Join(errs...)
}

// TopUp records a paid ACU package. A payment reference is only credited once.
func (s *Service) TopUp(ctx context.Context, orgID uuid.UUID, req models.TopUpRequest) (*models.LedgerEntry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pkg, ok := models.FindTopUpPackage(req.ACUs)
	if !ok {
		return nil, fmt.Errorf("%w: no %d ACU package", models.ErrInvalidInput, req.ACUs)
	}
	prior, err := s.ledger.List(ctx, orgID, models.LedgerFilter{Type: models.TxTopUp})
	if err != nil {
		return nil, err
	}
	for _, e := range prior {
		if e.ReferenceID != nil && *e.ReferenceID == req.PaymentReference {
			return nil, fmt.Errorf("%w: payment %s already credited", models.ErrConflict, req.PaymentReference)
		}
	}
	ref := req.PaymentReference
	entry, err := s.ledger.Append(ctx, orgID, ledger.AppendInput{
		Type:        models.TxTopUp,
		Amount:      pkg.ACUs,
		Description: fmt.Sprintf("Top-up: %d ACUs (£%d)", pkg.ACUs, pkg.PricePence/100),
		ReferenceID: &ref,
	}, nil)
	if err != nil {
		return nil, err
	}
	s.log.Info("top-up credited", "org_id", orgID, "acus", pkg.ACUs, "payment_reference", ref)
	return entry, nil
}

func periodRef(subID uuid.UUID, start time.Time) *string {
	ref := fmt.Sprintf("subscription:%s:%s", subID, start.UTC().Format(time.RFC3339))
	return &ref
}
