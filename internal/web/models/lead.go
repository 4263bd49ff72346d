package models

import (
	"encoding/json"
	"time"
)

// Lead is a captured respondent
type Lead struct {
	ID          string     `json:"id"`
	CampaignID  string     `json:"campaign_id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// LeadResponse is the single stored answer of a lead to a section
type LeadResponse struct {
	ID            string          `json:"id"`
	LeadID        string          `json:"lead_id"`
	SectionID     string          `json:"section_id"`
	ResponseType  SectionType     `json:"response_type"`
	ResponseValue json.RawMessage `json:"response_value"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LeadWithResponses bundles a lead with its answers
type LeadWithResponses struct {
	Lead
	Responses []LeadResponse `json:"responses"`
}

// LeadListFilter for filtering leads
type LeadListFilter struct {
	CampaignID string
	Completed  *bool
	Search     string
	Limit      int
	Offset     int
}
