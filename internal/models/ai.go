package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionType names an AI operation a tenant can request.
type ActionType string

const (
	ActionGenerateParagraph    ActionType = "generate_paragraph"
	ActionRefineSection        ActionType = "refine_section"
	ActionComplianceGapExplain ActionType = "compliance_gap_explain"
	ActionSocialValueRefine    ActionType = "social_value_refine"
)

// FallbackACUCost is charged for action types missing from ACUCosts.
const FallbackACUCost = 1

// ACUCosts is the fixed price list per action.
var ACUCosts = map[ActionType]int{
	ActionGenerateParagraph:    1,
	ActionRefineSection:        2,
	ActionComplianceGapExplain: 3,
	ActionSocialValueRefine:    4,
}

// CostFor returns the ACU cost of action.
func CostFor(action ActionType) int {
	if c, ok := ACUCosts[action]; ok {
		return c
	}
	return FallbackACUCost
}

// TokensPerACU is the token estimate used when a provider does not report usage.
const TokensPerACU = 800

// AIRequestStatus is the lifecycle state of an AIRequest.
type AIRequestStatus string

const (
	AIRequestPending   AIRequestStatus = "pending"
	AIRequestCompleted AIRequestStatus = "completed"
	AIRequestFailed    AIRequestStatus = "failed"
	AIRequestRejected  AIRequestStatus = "rejected"
)

// Final reports whether s can no longer change.
func (s AIRequestStatus) Final() bool {
	return s != AIRequestPending
}

type AIRequest struct {
	ID            uuid.UUID       `json:"id"`
	OrgID         uuid.UUID       `json:"org_id"`
	UserID        string          `json:"user_id"`
	ActionType    ActionType      `json:"action_type"`
	ACUsUsed      int             `json:"acus_used"`
	TokensUsed    int             `json:"tokens_used"`
	Status        AIRequestStatus `json:"status"`
	BidID         *string         `json:"bid_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// AIRequestFilter narrows AI history listings. A nil OrgID lists all orgs.
type AIRequestFilter struct {
	OrgID      *uuid.UUID
	StartDate  *time.Time
	EndDate    *time.Time
	ActionType ActionType
	Status     AIRequestStatus
}

// Match reports whether r passes the filter.
func (f AIRequestFilter) Match(r *AIRequest) bool {
	if f.OrgID != nil && r.OrgID != *f.OrgID {
		return false
	}
	if f.ActionType != "" && r.ActionType != f.ActionType {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.StartDate != nil && r.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && r.CreatedAt.After(*f.EndDate) {
		return false
	}
	return true
}

// Quote is the pre-flight answer for an action. It reserves nothing.
type Quote struct {
	ActionType      ActionType `json:"action_type"`
	ACUsRequired    int        `json:"acus_required"`
	CurrentBalance  int        `json:"current_balance"`
	BalanceAfter    int        `json:"balance_after"`
	CanProceed      bool       `json:"can_proceed"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	RejectionCode   string     `json:"rejection_code,omitempty"`
	Shortfall       int        `json:"shortfall,omitempty"`

	err error
}

// Reject marks the quote as refused with the given cause.
func (q *Quote) Reject(cause error, reason string) *Quote {
	q.CanProceed = false
	q.RejectionReason = reason
	q.RejectionCode = Code(cause)
	q.err = cause
	return q
}

// Err returns the cause of a rejection, or nil when the quote can proceed.
func (q *Quote) Err() error {
	if q.CanProceed {
		return nil
	}
	return q.err
}

// GlobalAISettings is the single platform-wide AI policy record.
type GlobalAISettings struct {
	AIEnabled         bool      `json:"ai_enabled"`
	MaxACUsPerRequest int       `json:"max_acus_per_request"`
	MaxACUsPerDay     int       `json:"max_acus_per_day"`
	MaxACUsPerMonth   int       `json:"max_acus_per_month"`
	UpdatedAt         time.Time `json:"updated_at"`
	UpdatedBy         string    `json:"updated_by,omitempty"`
}

// DefaultAISettings returns the settings used before any admin change.
func DefaultAISettings() GlobalAISettings {
	return GlobalAISettings{
		AIEnabled:         true,
		MaxACUsPerRequest: 10,
		MaxACUsPerDay:     100,
		MaxACUsPerMonth:   2000,
	}
}

// SettingsPatch is a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	AIEnabled         *bool `json:"ai_enabled,omitempty"`
	MaxACUsPerRequest *int  `json:"max_acus_per_request,omitempty" validate:"omitempty,gt=0"`
	MaxACUsPerDay     *int  `json:"max_acus_per_day,omitempty" validate:"omitempty,gt=0"`
	MaxACUsPerMonth   *int  `json:"max_acus_per_month,omitempty" validate:"omitempty,gt=0"`
}

// Apply returns cur with the patch merged in.
func (p SettingsPatch) Apply(cur GlobalAISettings) GlobalAISettings {
	next := cur
	if p.AIEnabled != nil {
		next.AIEnabled = *p.AIEnabled
	}
	if p.MaxACUsPerRequest != nil {
		next.MaxACUsPerRequest = *p.MaxACUsPerRequest
	}
	if p.MaxACUsPerDay != nil {
		next.MaxACUsPerDay = *p.MaxACUsPerDay
	}
	if p.MaxACUsPerMonth != nil {
		next.MaxACUsPerMonth = *p.MaxACUsPerMonth
	}
	return next
}

// SamePolicy compares the policy fields of two settings, ignoring metadata.
func (s GlobalAISettings) SamePolicy(o GlobalAISettings) bool {
	return s.AIEnabled == o.AIEnabled &&
		s.MaxACUsPerRequest == o.MaxACUsPerRequest &&
		s.MaxACUsPerDay == o.MaxACUsPerDay &&
		s.MaxACUsPerMonth == o.MaxACUsPerMonth
}

// SettingsChange is one audit record for a settings update.
type SettingsChange struct {
	ID        uuid.UUID        `json:"id"`
	Actor     string           `json:"actor"`
	Before    GlobalAISettings `json:"before"`
	After     GlobalAISettings `json:"after"`
	ChangedAt time.Time        `json:"changed_at"`
}
