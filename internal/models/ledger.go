package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType is the kind of an ACU ledger entry.
type TransactionType string

const (
	TxGrant  TransactionType = "grant"
	TxTopUp  TransactionType = "topup"
	TxDebit  TransactionType = "debit"
	TxCredit TransactionType = "credit"
	TxExpiry TransactionType = "expiry"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TxGrant, TxTopUp, TxDebit, TxCredit, TxExpiry:
		return true
	}
	return false
}

// Sign is -1 for entries that reduce the balance and +1 otherwise.
func (t TransactionType) Sign() int {
	if t == TxDebit || t == TxExpiry {
		return -1
	}
	return 1
}

// LedgerEntry is one immutable ACU movement. Seq orders entries within an org.
type LedgerEntry struct {
	ID              uuid.UUID       `json:"id"`
	OrgID           uuid.UUID       `json:"org_id"`
	Seq             int64           `json:"seq"`
	TransactionType TransactionType `json:"transaction_type"`
	Amount          int             `json:"amount"`
	BalanceAfter    int             `json:"balance_after"`
	Description     string          `json:"description"`
	ReferenceID     *string         `json:"reference_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Signed returns the amount with the direction of the entry applied.
func (e *LedgerEntry) Signed() int {
	return e.TransactionType.Sign() * e.Amount
}

// LedgerFilter narrows ledger listings. EndDate is inclusive.
type LedgerFilter struct {
	OrgID     *uuid.UUID
	StartDate *time.Time
	EndDate   *time.Time
	Type      TransactionType
}

// Match reports whether e passes the filter.
func (f LedgerFilter) Match(e *LedgerEntry) bool {
	if f.OrgID != nil && e.OrgID != *f.OrgID {
		return false
	}
	if f.Type != "" && e.TransactionType != f.Type {
		return false
	}
	if f.StartDate != nil && e.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.CreatedAt.After(*f.EndDate) {
		return false
	}
	return true
}

// UsageFilter selects entries to sum. From is inclusive, To exclusive; zero
// values are unbounded. A nil OrgID sums across all orgs.
type UsageFilter struct {
	OrgID *uuid.UUID
	Types []TransactionType
	From  time.Time
	To    time.Time
}

// Match reports whether e is counted by the filter.
func (f UsageFilter) Match(e *LedgerEntry) bool {
	if f.OrgID != nil && e.OrgID != *f.OrgID {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if e.TransactionType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// Balance is the read model returned by the balance accessor.
type Balance struct {
	Balance           int `json:"balance"`
	MonthlyAllocation int `json:"monthly_allocation"`
	UsageThisMonth    int `json:"usage_this_month"`
	Remaining         int `json:"remaining"`
}

// TopUpPackage is a purchasable ACU bundle. Prices are in pence.
type TopUpPackage struct {
	ACUs       int `json:"acus"`
	PricePence int `json:"price_pence"`
}

var TopUpPackages = []TopUpPackage{
	{ACUs: 20, PricePence: 2000},
	{ACUs: 50, PricePence: 4500},
	{ACUs: 100, PricePence: 8000},
}

// FindTopUpPackage returns the package granting acus, if one exists.
func FindTopUpPackage(acus int) (TopUpPackage, bool) {
	for _, p := range TopUpPackages {
		if p.ACUs == acus {
			return p, true
		}
	}
	return TopUpPackage{}, false
}

// MonthStart returns the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DayStart returns midnight UTC of t's day.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
