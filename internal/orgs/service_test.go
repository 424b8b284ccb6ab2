package orgs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/abuse"
	"github.com/bidpackuk/backend/internal/ledger"
	"github.com/bidpackuk/backend/internal/memstore"
	"github.com/bidpackuk/backend/internal/models"
	"github.com/bidpackuk/backend/internal/subscription"
)

type fixture struct {
	dir      *Directory
	ledger   ledger.Service
	abuse    *abuse.Service
	requests *memstore.Requests
}

func newFixture() *fixture {
	orgStore := memstore.NewOrgs()
	l := ledger.NewService(memstore.NewLedger(), nil, nil)
	subs := subscription.NewService(memstore.NewSubscriptions(), l, nil)
	flags := memstore.NewAbuseFlags()
	reqs := memstore.NewRequests()
	return &fixture{
		dir:      NewDirectory(orgStore, subs, l, flags, reqs, nil),
		ledger:   l,
		abuse:    abuse.NewService(flags, orgStore, nil),
		requests: reqs,
	}
}

// ---------------------------------------------------------------------------
// 1. Create with and without a plan
// ---------------------------------------------------------------------------

func TestCreateSubscribesWhenPlanGiven(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	s, err := f.dir.Create(ctx, models.NewOrgRequest{Name: "  Acme Ltd ", PlanType: models.PlanProfessional})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.Name != "Acme Ltd" {
		t.Errorf("name not trimmed: %q", s.Name)
	}
	if s.Balance != 150 || s.SubscriptionStatus != models.SubActive || s.PlanType != models.PlanProfessional {
		t.Fatalf("unexpected summary: %+v", s)
	}

	bare, err := f.dir.Create(ctx, models.NewOrgRequest{Name: "Solo"})
	if err != nil {
		t.Fatalf("Create without plan: %v", err)
	}
	if bare.Balance != 0 || bare.SubscriptionStatus != "" {
		t.Fatalf("unexpected summary: %+v", bare)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture()
	_, err := f.dir.Create(context.Background(), models.NewOrgRequest{Name: ""})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestGetUnknownOrg(t *testing.T) {
	f := newFixture()
	if _, err := f.dir.Get(context.Background(), uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// 2. List filters
// ---------------------------------------------------------------------------

func TestListFilters(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	acme, _ := f.dir.Create(ctx, models.NewOrgRequest{Name: "Acme Construction", PlanType: models.PlanStarter})
	_, _ = f.dir.Create(ctx, models.NewOrgRequest{Name: "Builders Co", PlanType: models.PlanStarter})
	_, _ = f.dir.Create(ctx, models.NewOrgRequest{Name: "Quiet Ltd"})

	if _, err := f.abuse.Flag(ctx, acme.ID, "burst usage"); err != nil {
		t.Fatalf("Flag: %v", err)
	}

	all, _ := f.dir.List(ctx, ListFilter{})
	if len(all) != 3 {
		t.Fatalf("all: got %d, want 3", len(all))
	}
	search, _ := f.dir.List(ctx, ListFilter{Search: "construction"})
	if len(search) != 1 || search[0].ID != acme.ID {
		t.Fatalf("search: got %+v", search)
	}
	active, _ := f.dir.List(ctx, ListFilter{SubscriptionStatus: models.SubActive})
	if len(active) != 2 {
		t.Fatalf("active: got %d, want 2", len(active))
	}
	yes := true
	flagged, _ := f.dir.List(ctx, ListFilter{Flagged: &yes})
	if len(flagged) != 1 || !flagged[0].Flagged {
		t.Fatalf("flagged: got %+v", flagged)
	}
}

// ---------------------------------------------------------------------------
// 3. Platform stats
// ---------------------------------------------------------------------------

func TestStats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, _ := f.dir.Create(ctx, models.NewOrgRequest{Name: "A", PlanType: models.PlanStarter})
	b, _ := f.dir.Create(ctx, models.NewOrgRequest{Name: "B", PlanType: models.PlanProfessional})
	_, _ = f.dir.Create(ctx, models.NewOrgRequest{Name: "C"})

	if _, err := f.ledger.Append(ctx, a.ID, ledger.AppendInput{Type: models.TxDebit, Amount: 3}, nil); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := f.ledger.Append(ctx, b.ID, ledger.AppendInput{Type: models.TxDebit, Amount: 4}, nil); err != nil {
		t.Fatalf("debit: %v", err)
	}
	// Expiries are not usage for platform stats.
	if _, err := f.ledger.Append(ctx, b.ID, ledger.AppendInput{Type: models.TxExpiry, Amount: 10}, nil); err != nil {
		t.Fatalf("expiry: %v", err)
	}
	now := time.Now().UTC()
	for _, st := range []models.AIRequestStatus{models.AIRequestCompleted, models.AIRequestCompleted, models.AIRequestRejected} {
		_ = f.requests.Create(ctx, &models.AIRequest{ID: uuid.New(), OrgID: a.ID, Status: st, CreatedAt: now})
	}
	_, _ = f.abuse.Flag(ctx, b.ID, "shared credentials")
	_, _ = f.abuse.Suspend(ctx, b.ID, "ops")

	st, err := f.dir.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := models.PlatformStats{
		TotalOrgs:           3,
		ActiveSubscriptions: 2,
		TotalACUUsage:       7,
		TotalAIRequests:     2,
		FlaggedOrgs:         1,
		SuspendedOrgs:       1,
	}
	if *st != want {
		t.Fatalf("got %+v, want %+v", *st, want)
	}

	sb, _ := f.dir.Get(ctx, b.ID)
	if sb.UsageThisMonth != 14 || sb.Balance != 136 || !sb.Suspended {
		t.Fatalf("org summary: %+v", sb)
	}
}
