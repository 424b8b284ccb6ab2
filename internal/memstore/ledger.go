package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/ledger"
	"github.com/bidpackuk/backend/internal/models"
)

type orgLedger struct {
	mu      sync.RWMutex
	entries []*models.LedgerEntry
	frozen  string
}

// Ledger is an in-memory ledger.Store. Writers are serialized per org; readers
// get copies taken under the org's read lock.
type Ledger struct {
	mu   sync.RWMutex
	orgs map[uuid.UUID]*orgLedger
}

func NewLedger() *Ledger {
	return &Ledger{orgs: make(map[uuid.UUID]*orgLedger)}
}

var _ ledger.Store = (*Ledger)(nil)

func (l *Ledger) org(id uuid.UUID, create bool) *orgLedger {
	l.mu.RLock()
	ol := l.orgs[id]
	l.mu.RUnlock()
	if ol != nil || !create {
		return ol
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ol = l.orgs[id]; ol == nil {
		ol = &orgLedger{}
		l.orgs[id] = ol
	}
	return ol
}

func (l *Ledger) Append(ctx context.Context, entry *models.LedgerEntry, hook ledger.AppendHook) error {
	ol := l.org(entry.OrgID, true)
	ol.mu.Lock()
	defer ol.mu.Unlock()

	if ol.frozen != "" {
		return fmt.Errorf("%w: %s", models.ErrLedgerFrozen, ol.frozen)
	}
	var last *models.LedgerEntry
	sum := 0
	for _, e := range ol.entries {
		sum += e.Signed()
		if sameCreditRef(e, entry) {
			return fmt.Errorf("%w: %s %s already recorded", models.ErrConflict, entry.TransactionType, *entry.ReferenceID)
		}
	}
	if n := len(ol.entries); n > 0 {
		last = ol.entries[n-1]
	}
	if err := ledger.Apply(last, sum, entry); err != nil {
		return err
	}
	if hook != nil {
		if err := hook(ctx, nil, entry); err != nil {
			return err
		}
	}
	cp := *entry
	ol.entries = append(ol.entries, &cp)
	return nil
}

func (l *Ledger) List(_ context.Context, f models.LedgerFilter) ([]*models.LedgerEntry, error) {
	var out []*models.LedgerEntry
	for _, ol := range l.targets(f.OrgID) {
		ol.mu.RLock()
		for _, e := range ol.entries {
			if f.Match(e) {
				cp := *e
				out = append(out, &cp)
			}
		}
		ol.mu.RUnlock()
	}
	if f.OrgID == nil {
		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			}
			if out[i].OrgID != out[j].OrgID {
				return out[i].OrgID.String() < out[j].OrgID.String()
			}
			return out[i].Seq < out[j].Seq
		})
	}
	return out, nil
}

func (l *Ledger) Last(_ context.Context, orgID uuid.UUID) (*models.LedgerEntry, error) {
	ol := l.org(orgID, false)
	if ol == nil {
		return nil, nil
	}
	ol.mu.RLock()
	defer ol.mu.RUnlock()
	if len(ol.entries) == 0 {
		return nil, nil
	}
	cp := *ol.entries[len(ol.entries)-1]
	return &cp, nil
}

func (l *Ledger) Sum(_ context.Context, f models.UsageFilter) (int, error) {
	total := 0
	for _, ol := range l.targets(f.OrgID) {
		ol.mu.RLock()
		for _, e := range ol.entries {
			if f.Match(e) {
				total += e.Amount
			}
		}
		ol.mu.RUnlock()
	}
	return total, nil
}

func (l *Ledger) OrgIDs(_ context.Context) ([]uuid.UUID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(l.orgs))
	for id := range l.orgs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (l *Ledger) Freeze(_ context.Context, orgID uuid.UUID, reason string) error {
	ol := l.org(orgID, true)
	ol.mu.Lock()
	defer ol.mu.Unlock()
	if reason == "" {
		reason = "frozen"
	}
	ol.frozen = reason
	return nil
}

func (l *Ledger) Unfreeze(_ context.Context, orgID uuid.UUID) error {
	ol := l.org(orgID, false)
	if ol == nil {
		return models.ErrNotFound
	}
	ol.mu.Lock()
	defer ol.mu.Unlock()
	ol.frozen = ""
	return nil
}

func (l *Ledger) targets(orgID *uuid.UUID) []*orgLedger {
	if orgID != nil {
		if ol := l.org(*orgID, false); ol != nil {
			return []*orgLedger{ol}
		}
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*orgLedger, 0, len(l.orgs))
	for _, ol := range l.orgs {
		out = append(out, ol)
	}
	return out
}

// sameCreditRef matches the acu_ledger_credit_ref_idx unique index: a grant
// or top-up reference is recorded at most once per org.
func sameCreditRef(a, b *models.LedgerEntry) bool {
	if a.TransactionType != b.TransactionType || a.ReferenceID == nil || b.ReferenceID == nil {
		return false
	}
	if a.TransactionType != models.TxGrant && a.TransactionType != models.TxTopUp {
		return false
	}
	return *a.ReferenceID == *b.ReferenceID
}
