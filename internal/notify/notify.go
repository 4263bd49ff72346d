// Package notify emails campaign owners when a lead finishes a campaign.
package notify

import (
	"context"
	"time"
)

// Answer is one question and the visitor's answer, as shown in the email.
type Answer struct {
	Question string
	Value    string
}

// LeadNotice is everything the owner notification contains.
type LeadNotice struct {
	OwnerEmail   string
	CampaignName string
	LeadEmail    string
	LeadName     string
	LeadPhone    string
	CompletedAt  time.Time
	Answers      []Answer
	Outputs      map[string]string
	DashboardURL string
}

// Notifier delivers owner notifications.
type Notifier interface {
	NotifyLead(ctx context.Context, notice LeadNotice) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) NotifyLead(context.Context, LeadNotice) error { return nil }
