package ledger

import (
	"fmt"

	"github.com/bidpackuk/backend/internal/models"
)

// Apply validates entry against the org's current state and fills in
// BalanceAfter and Seq. last is the newest stored entry (nil for an empty
// ledger) and sum is the signed total recomputed from every stored entry.
// Stores call Apply while holding the org's write lock.
func Apply(last *models.LedgerEntry, sum int, entry *models.LedgerEntry) error {
	if entry.Amount <= 0 {
		return models.ErrInvalidAmount
	}
	if !entry.TransactionType.Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidTransactionType, entry.TransactionType)
	}
	prev := 0
	var seq int64
	if last != nil {
		prev = last.BalanceAfter
		seq = last.Seq
	}
	if prev != sum {
		return &models.CorruptionError{Seq: seq, Expected: sum, Actual: prev}
	}
	next := prev + entry.Signed()
	if next < 0 {
		return &models.InsufficientBalanceError{Balance: prev, Required: entry.Amount}
	}
	entry.BalanceAfter = next
	entry.Seq = seq + 1
	return nil
}

// Verify replays entries (ascending by Seq) and returns a CorruptionError at
// the first entry whose recorded balance disagrees with the running total.
func Verify(entries []*models.LedgerEntry) error {
	running := 0
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			return &models.CorruptionError{Seq: e.Seq, Expected: running, Actual: e.BalanceAfter}
		}
		if e.Amount <= 0 || !e.TransactionType.Valid() {
			return &models.CorruptionError{Seq: e.Seq, Expected: running, Actual: e.BalanceAfter}
		}
		running += e.Signed()
		if running < 0 || e.BalanceAfter != running {
			return &models.CorruptionError{Seq: e.Seq, Expected: running, Actual: e.BalanceAfter}
		}
	}
	return nil
}
