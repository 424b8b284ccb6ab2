package models

import (
	"time"

	"github.com/google/uuid"
)

type Organization struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Suspended   bool       `json:"suspended"`
	SuspendedAt *time.Time `json:"suspended_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AbuseFlag records why an admin considers an org suspicious.
type AbuseFlag struct {
	OrgID      uuid.UUID `json:"org_id"`
	Reasons    []string  `json:"reasons"`
	DetectedAt time.Time `json:"detected_at"`
}

type PlanType string

const (
	PlanStarter      PlanType = "starter"
	PlanProfessional PlanType = "professional"
)

type Plan struct {
	Type              PlanType `json:"plan_type"`
	Name              string   `json:"name"`
	MonthlyPricePence int      `json:"monthly_price_pence"`
	MonthlyACUs       int      `json:"monthly_acus"`
}

var Plans = map[PlanType]Plan{
	PlanStarter:      {Type: PlanStarter, Name: "Starter", MonthlyPricePence: 4900, MonthlyACUs: 50},
	PlanProfessional: {Type: PlanProfessional, Name: "Professional", MonthlyPricePence: 14900, MonthlyACUs: 150},
}

type SubscriptionStatus string

const (
	SubActive   SubscriptionStatus = "active"
	SubCanceled SubscriptionStatus = "canceled"
	SubPastDue  SubscriptionStatus = "past_due"
	SubTrialing SubscriptionStatus = "trialing"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubActive, SubCanceled, SubPastDue, SubTrialing:
		return true
	}
	return false
}

// Entitled reports whether a subscription in this state receives its allocation.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubActive || s == SubTrialing
}

type Subscription struct {
	ID                 uuid.UUID          `json:"id"`
	OrgID              uuid.UUID          `json:"org_id"`
	PlanType           PlanType           `json:"plan_type"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// OrgSummary is the admin list view of an org.
type OrgSummary struct {
	Organization
	PlanType           PlanType           `json:"plan_type,omitempty"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status,omitempty"`
	Balance            int                `json:"balance"`
	UsageThisMonth     int                `json:"usage_this_month"`
	Flagged            bool               `json:"flagged"`
}

// PlatformStats is the admin overview.
type PlatformStats struct {
	TotalOrgs           int `json:"total_orgs"`
	ActiveSubscriptions int `json:"active_subscriptions"`
	TotalACUUsage       int `json:"total_acu_usage"`
	TotalAIRequests     int `json:"total_ai_requests"`
	FlaggedOrgs         int `json:"flagged_orgs"`
	SuspendedOrgs       int `json:"suspended_orgs"`
}
