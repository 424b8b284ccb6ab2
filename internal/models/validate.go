package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate rejects non-positive numeric limits.
func (p SettingsPatch) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validate checks a complete settings record.
func (s GlobalAISettings) Validate() error {
	if err := validate.Var(s.MaxACUsPerRequest, "gt=0"); err != nil {
		return fmt.Errorf("%w: max_acus_per_request: %v", ErrInvalidConfig, err)
	}
	if err := validate.Var(s.MaxACUsPerDay, "gt=0"); err != nil {
		return fmt.Errorf("%w: max_acus_per_day: %v", ErrInvalidConfig, err)
	}
	if err := validate.Var(s.MaxACUsPerMonth, "gt=0"); err != nil {
		return fmt.Errorf("%w: max_acus_per_month: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Adjustment is an admin-initiated ledger correction.
type Adjustment struct {
	Type        TransactionType `json:"transaction_type" validate:"required,oneof=credit expiry"`
	Amount      int             `json:"amount" validate:"gt=0"`
	Description string          `json:"description" validate:"required,max=500"`
	ReferenceID *string         `json:"reference_id,omitempty" validate:"omitempty,max=200"`
}

func (a Adjustment) Validate() error {
	if err := validate.Struct(a); err != nil {
		if a.Amount <= 0 {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// TopUpRequest records a paid top-up reported by billing.
type TopUpRequest struct {
	ACUs             int    `json:"acus" validate:"oneof=20 50 100"`
	PaymentReference string `json:"payment_reference" validate:"required,max=200"`
}

func (t TopUpRequest) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// NewOrgRequest creates an org and, optionally, its first subscription.
type NewOrgRequest struct {
	Name     string   `json:"name" validate:"required,max=200"`
	PlanType PlanType `json:"plan_type" validate:"omitempty,oneof=starter professional"`
}

func (n NewOrgRequest) Validate() error {
	if err := validate.Struct(n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
