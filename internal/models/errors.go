package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount          = errors.New("amount must be a positive integer")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInsufficientBalance    = errors.New("insufficient ACU balance")
	ErrAIDisabledGlobally     = errors.New("AI disabled globally")
	ErrGlobalCapExceeded      = errors.New("global ACU cap exceeded")
	ErrOrgSuspended           = errors.New("organization suspended")
	ErrInvalidConfig          = errors.New("invalid configuration")
	ErrAIProviderFailure      = errors.New("AI provider failure")
	ErrNotFound               = errors.New("not found")
	ErrLedgerCorrupted        = errors.New("ledger corrupted")
	ErrLedgerFrozen           = errors.New("ledger frozen")
	ErrRequestFinalized       = errors.New("AI request already finalized")
	ErrConflict               = errors.New("conflict")
	ErrInvalidInput           = errors.New("invalid input")
)

// InsufficientBalanceError carries the numbers behind a rejected debit.
type InsufficientBalanceError struct {
	Balance  int
	Required int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient ACU balance: have %d, need %d", e.Balance, e.Required)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is how many ACUs are missing.
func (e *InsufficientBalanceError) Shortfall() int {
	return e.Required - e.Balance
}

// CorruptionError describes the first inconsistency found in an org ledger.
type CorruptionError struct {
	Seq      int64
	Expected int
	Actual   int
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("ledger corrupted at seq %d: expected balance %d, recorded %d", e.Seq, e.Expected, e.Actual)
}

func (e *CorruptionError) Unwrap() error { return ErrLedgerCorrupted }

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidTransactionType, "invalid_transaction_type"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrAIDisabledGlobally, "ai_disabled"},
	{ErrGlobalCapExceeded, "global_cap_exceeded"},
	{ErrOrgSuspended, "org_suspended"},
	{ErrInvalidConfig, "invalid_config"},
	{ErrAIProviderFailure, "ai_provider_failure"},
	{ErrNotFound, "not_found"},
	{ErrLedgerCorrupted, "ledger_corrupted"},
	{ErrLedgerFrozen, "ledger_frozen"},
	{ErrRequestFinalized, "request_finalized"},
	{ErrConflict, "conflict"},
	{ErrInvalidInput, "invalid_input"},
}

// Code returns the stable machine-readable code for err, or "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
