package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory fake Store. Entries are kept per org in append order.
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]*models.LedgerEntry
	frozen  map[uuid.UUID]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: make(map[uuid.UUID][]*models.LedgerEntry),
		frozen:  make(map[uuid.UUID]string),
	}
}

func (f *fakeStore) Append(ctx context.Context, e *models.LedgerEntry, hook AppendHook) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen[e.OrgID] != "" {
		return models.ErrLedgerFrozen
	}
	list := f.entries[e.OrgID]
	sum := 0
	for _, x := range list {
		sum += x.Signed()
	}
	var last *models.LedgerEntry
	if len(list) > 0 {
		last = list[len(list)-1]
	}
	if err := Apply(last, sum, e); err != nil {
		return err
	}
	if hook != nil {
		if err := hook(ctx, nil, e); err != nil {
			return err
		}
	}
	cp := *e
	f.entries[e.OrgID] = append(list, &cp)
	return nil
}

func (f *fakeStore) List(_ context.Context, flt models.LedgerFilter) ([]*models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.LedgerEntry
	for org, list := range f.entries {
		if flt.OrgID != nil && org != *flt.OrgID {
			continue
		}
		for _, e := range list {
			if flt.Match(e) {
				cp := *e
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) Last(_ context.Context, org uuid.UUID) (*models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.entries[org]
	if len(list) == 0 {
		return nil, nil
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

func (f *fakeStore) Sum(_ context.Context, flt models.UsageFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, list := range f.entries {
		for _, e := range list {
			if flt.Match(e) {
				total += e.Amount
			}
		}
	}
	return total, nil
}

func (f *fakeStore) OrgIDs(context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id := range f.entries {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) Freeze(_ context.Context, org uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frozen[org] = reason
	return nil
}

func (f *fakeStore) Unfreeze(_ context.Context, org uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.frozen, org)
	return nil
}

func (f *fakeStore) tamper(org uuid.UUID, idx, balanceAfter int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[org][idx].BalanceAfter = balanceAfter
}

type countingObserver struct {
	appended  int
	corrupted int
}

func (c *countingObserver) LedgerAppended(models.TransactionType, int) { c.appended++ }
func (c *countingObserver) LedgerCorrupted()                           { c.corrupted++ }

func newTestService() (*service, *fakeStore, *countingObserver) {
	store := newFakeStore()
	obs := &countingObserver{}
	svc := NewService(store, obs, nil).(*service)
	return svc, store, obs
}

// ---------------------------------------------------------------------------
// 1. Append validation
// ---------------------------------------------------------------------------

func TestAppendRejectsInvalidAmount(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	org := uuid.New()

	for _, amt := range []int{0, -5} {
		_, err := svc.Append(ctx, org, AppendInput{Type: models.TxGrant, Amount: amt}, nil)
		if !errors.Is(err, models.ErrInvalidAmount) {
			t.Fatalf("amount %d: got %v, want ErrInvalidAmount", amt, err)
		}
	}
	if _, err := svc.Append(ctx, org, AppendInput{Type: "refund", Amount: 1}, nil); !errors.Is(err, models.ErrInvalidTransactionType) {
		t.Fatalf("unknown type: got %v", err)
	}
}

// ---------------------------------------------------------------------------
// 2. Scenario: grant 50, debit 2, debit 3 (newest first listing)
// ---------------------------------------------------------------------------

func TestAppendAndListNewestFirst(t *testing.T) {
	svc, _, obs := newTestService()
	ctx := context.Background()
	org := uuid.New()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	mustAppend(t, svc, org, models.TxGrant, 50)
	mustAppend(t, svc, org, models.TxDebit, 2)
	mustAppend(t, svc, org, models.TxDebit, 3)

	list, err := svc.List(ctx, org, models.LedgerFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []int{45, 48, 50}
	if len(list) != len(want) {
		t.Fatalf("len: got %d, want %d", len(list), len(want))
	}
	for i, w := range want {
		if list[i].BalanceAfter != w {
			t.Errorf("entry %d balanceAfter: got %d, want %d", i, list[i].BalanceAfter, w)
		}
	}
	bal, _ := svc.CurrentBalance(ctx, org)
	if bal != 45 {
		t.Fatalf("CurrentBalance: got %d, want 45", bal)
	}
	if obs.appended != 3 {
		t.Fatalf("observer appended: got %d, want 3", obs.appended)
	}

	from := base.Add(2 * time.Minute)
	window, _ := svc.List(ctx, org, models.LedgerFilter{StartDate: &from})
	if len(window) != 2 {
		t.Fatalf("date filter: got %d, want 2", len(window))
	}
}

func TestCurrentBalanceEmptyLedger(t *testing.T) {
	svc, _, _ := newTestService()
	bal, err := svc.CurrentBalance(context.Background(), uuid.New())
	if err != nil || bal != 0 {
		t.Fatalf("got %d, %v; want 0, nil", bal, err)
	}
}

// ---------------------------------------------------------------------------
// 3. Corruption freezes the org
// ---------------------------------------------------------------------------

func TestCorruptionFreezesOrg(t *testing.T) {
	svc, store, obs := newTestService()
	ctx := context.Background()
	org := uuid.New()
	other := uuid.New()
	mustAppend(t, svc, org, models.TxGrant, 10)
	mustAppend(t, svc, other, models.TxGrant, 10)

	store.tamper(org, 0, 12)

	_, err := svc.Append(ctx, org, AppendInput{Type: models.TxDebit, Amount: 1}, nil)
	var ce *models.CorruptionError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want CorruptionError", err)
	}
	if obs.corrupted != 1 {
		t.Fatalf("corruption not observed")
	}
	_, err = svc.Append(ctx, org, AppendInput{Type: models.TxGrant, Amount: 1}, nil)
	if !errors.Is(err, models.ErrLedgerFrozen) {
		t.Fatalf("after freeze: got %v, want ErrLedgerFrozen", err)
	}
	// Other orgs keep working.
	mustAppend(t, svc, other, models.TxDebit, 1)
}

func TestReconcileReportsCorruptOrgs(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	good, bad := uuid.New(), uuid.New()
	mustAppend(t, svc, good, models.TxGrant, 5)
	mustAppend(t, svc, bad, models.TxGrant, 5)
	mustAppend(t, svc, bad, models.TxDebit, 1)

	store.tamper(bad, 1, 3)

	corrupt, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(corrupt) != 1 || corrupt[0] != bad {
		t.Fatalf("corrupt orgs: got %v, want [%s]", corrupt, bad)
	}
	if store.frozen[bad] == "" {
		t.Fatal("corrupt org not frozen")
	}
	if err := svc.Unfreeze(ctx, bad); err != nil {
		t.Fatalf("Unfreeze: %v", err)
	}
}

func TestVerifyDetectsSeqGap(t *testing.T) {
	entries := []*models.LedgerEntry{
		{Seq: 1, TransactionType: models.TxGrant, Amount: 5, BalanceAfter: 5},
		{Seq: 3, TransactionType: models.TxDebit, Amount: 1, BalanceAfter: 4},
	}
	if err := Verify(entries); !errors.Is(err, models.ErrLedgerCorrupted) {
		t.Fatalf("got %v, want ErrLedgerCorrupted", err)
	}
}

func mustAppend(t *testing.T, svc Service, org uuid.UUID, typ models.TransactionType, amt int) *models.LedgerEntry {
	t.Helper()
	e, err := svc.Append(context.Background(), org, AppendInput{Type: typ, Amount: amt}, nil)
	if err != nil {
		t.Fatalf("Append %s %d: %v", typ, amt, err)
	}
	return e
}
