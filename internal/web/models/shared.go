package models

import "time"

// SharedResult is a public snapshot of AI outputs, never raw inputs
type SharedResult struct {
	ID         string            `json:"id"`
	CampaignID string            `json:"campaign_id"`
	Outputs    map[string]string `json:"outputs"`
	ExpiresAt  time.Time         `json:"expires_at"`
	CreatedAt  time.Time         `json:"created_at"`
}
