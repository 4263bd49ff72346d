package models

import (
	"encoding/json"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignPublished CampaignStatus = "published"
)

// Campaign is a lead-capture flow owned by one user
type Campaign struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Status       CampaignStatus  `json:"status"`
	PublishedURL string          `json:"published_url,omitempty"`
	Theme        json.RawMessage `json:"theme,omitempty"`
	IsActive     bool            `json:"is_active"`
	PublishedAt  *time.Time      `json:"published_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsLive reports whether visitors can play the campaign
func (c *Campaign) IsLive() bool {
	return c.Status == CampaignPublished && c.IsActive
}

// CampaignWithStats includes campaign statistics
type CampaignWithStats struct {
	Campaign
	SectionCount int `json:"section_count"`
	LeadCount    int `json:"lead_count"`
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	UserID string
	Status CampaignStatus
	Search string
	Limit  int
	Offset int
}
