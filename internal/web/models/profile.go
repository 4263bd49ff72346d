package models

import "time"

// Profile holds the subscription state of a user
type Profile struct {
	UserID                  string     `json:"user_id"`
	TotalCredits            int        `json:"total_credits"`
	CampaignsUsedThisMonth  int        `json:"campaigns_used_this_month"`
	LeadsUsedThisMonth      int        `json:"leads_used_this_month"`
	CampaignLimit           int        `json:"campaign_limit"`
	LeadLimit               int        `json:"lead_limit"`
	CurrentPeriodEnd        time.Time  `json:"current_period_end"`
	CancellationScheduledAt *time.Time `json:"cancellation_scheduled_at,omitempty"`
	DowngradeScheduledAt    *time.Time `json:"downgrade_scheduled_at,omitempty"`
	ScheduledCreditAmount   *int       `json:"scheduled_credit_amount,omitempty"`
	UsageResetAt            *time.Time `json:"usage_reset_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

type TransactionType string

const (
	TransactionPurchase     TransactionType = "purchase"
	TransactionSubscription TransactionType = "subscription_change"
	TransactionRenewal      TransactionType = "renewal"
)

// CreditTransaction is a ledger entry
type CreditTransaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Amount      int             `json:"amount"`
	Type        TransactionType `json:"transaction_type"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}
