package orgs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/models"
)

type Store interface {
	Create(ctx context.Context, o *models.Organization) error
	Get(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	List(ctx context.Context) ([]*models.Organization, error)
}

type Subscriptions interface {
	Get(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error)
	List(ctx context.Context) ([]*models.Subscription, error)
	Subscribe(ctx context.Context, orgID uuid.UUID, plan models.PlanType) (*models.Subscription, *models.LedgerEntry, error)
}

type Ledger interface {
	CurrentBalance(ctx context.Context, orgID uuid.UUID) (int, error)
	Usage(ctx context.Context, f models.UsageFilter) (int, error)
}

type Flags interface {
	List(ctx context.Context) ([]*models.AbuseFlag, error)
}

type Requests interface {
	List(ctx context.Context, f models.AIRequestFilter) ([]*models.AIRequest, error)
}

// ListFilter narrows the admin org listing. Zero values match everything.
type ListFilter struct {
	Search             string
	SubscriptionStatus models.SubscriptionStatus
	Flagged            *bool
}

// Directory is the admin view over organizations and their ACU standing.
type Directory struct {
	store    Store
	subs     Subscriptions
	ledger   Ledger
	flags    Flags
	requests Requests
	log      *slog.Logger
	now      func() time.Time
}

func NewDirectory(store Store, subs Subscriptions, l Ledger, flags Flags, requests Requests, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{store: store, subs: subs, ledger: l, flags: flags, requests: requests, log: log, now: time.Now}
}

// Create registers an organization and, when plan is set, subscribes it.
func (d *Directory) Create(ctx context.Context, req models.NewOrgRequest) (*models.OrgSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := d.now().UTC()
	org := &models.Organization{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.Create(ctx, org); err != nil {
		return nil, err
	}
	d.log.Info("organization created", "org_id", org.ID, "name", org.Name)
	if req.PlanType != "" {
		if _, _, err := d.subs.Subscribe(ctx, org.ID, req.PlanType); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", org.ID, err)
		}
	}
	return d.Get(ctx, org.ID)
}

func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*models.OrgSummary, error) {
	org, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	flagged, err := d.flaggedSet(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := d.subs.Get(ctx, id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	return d.summarize(ctx, org, sub, flagged)
}

// List returns summaries in creation order.
func (d *Directory) List(ctx context.Context, f ListFilter) ([]*models.OrgSummary, error) {
	list, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}
	flagged, err := d.flaggedSet(ctx)
	if err != nil {
		return nil, err
	}
	subs, err := d.subscriptionsByOrg(ctx)
	if err != nil {
		return nil, err
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]*models.OrgSummary, 0, len(list))
	for _, org := range list {
		if search != "" && !strings.Contains(strings.ToLower(org.Name), search) {
			continue
		}
		sub := subs[org.ID]
		if f.SubscriptionStatus != "" && (sub == nil || sub.Status != f.SubscriptionStatus) {
			continue
		}
		if f.Flagged != nil && flagged[org.ID] != *f.Flagged {
			continue
		}
		s, err := d.summarize(ctx, org, sub, flagged)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Stats reports platform totals. Usage and request counts cover the current
// UTC month.
func (d *Directory) Stats(ctx context.Context) (*models.PlatformStats, error) {
	list, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}
	subs, err := d.subs.List(ctx)
	if err != nil {
		return nil, err
	}
	flags, err := d.flags.List(ctx)
	if err != nil {
		return nil, err
	}
	monthStart := models.MonthStart(d.now())
	usage, err := d.ledger.Usage(ctx, models.UsageFilter{
		Types: []models.TransactionType{models.TxDebit},
		From:  monthStart,
	})
	if err != nil {
		return nil, err
	}
	reqs, err := d.requests.List(ctx, models.AIRequestFilter{
		StartDate: &monthStart,
		Status:    models.AIRequestCompleted,
	})
	if err != nil {
		return nil, err
	}

	st := &models.PlatformStats{
		TotalOrgs:       len(list),
		TotalACUUsage:   usage,
		TotalAIRequests: len(reqs),
		FlaggedOrgs:     len(flags),
	}
	for _, s := range subs {
		if s.Status == models.SubActive {
			st.ActiveSubscriptions++
		}
	}
	for _, o := range list {
		if o.Suspended {
			st.SuspendedOrgs++
		}
	}
	return st, nil
}

func (d *Directory) summarize(ctx context.Context, org *models.Organization, sub *models.Subscription, flagged map[uuid.UUID]bool) (*models.OrgSummary, error) {
	bal, err := d.ledger.CurrentBalance(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	usage, err := d.ledger.Usage(ctx, models.UsageFilter{
		OrgID: &org.ID,
		Types: []models.TransactionType{models.TxDebit, models.TxExpiry},
		From:  models.MonthStart(d.now()),
	})
	if err != nil {
		return nil, err
	}
	s := &models.OrgSummary{
		Organization:   *org,
		Balance:        bal,
		UsageThisMonth: usage,
		Flagged:        flagged[org.ID],
	}
	if sub != nil {
		s.PlanType = sub.PlanType
		s.SubscriptionStatus = sub.Status
	}
	return s, nil
}

func (d *Directory) flaggedSet(ctx context.Context) (map[uuid.UUID]bool, error) {
	flags, err := d.flags.List(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[uuid.UUID]bool, len(flags))
	for _, f := range flags {
		set[f.OrgID] = true
	}
	return set, nil
}

func (d *Directory) subscriptionsByOrg(ctx context.Context) (map[uuid.UUID]*models.Subscription, error) {
	subs, err := d.subs.List(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[uuid.UUID]*models.Subscription, len(subs))
	for _, s := range subs {
		m[s.OrgID] = s
	}
	return m, nil
}
