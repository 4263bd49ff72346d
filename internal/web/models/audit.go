package models

import "time"

// Audit actions
const (
	AuditLogin     = "login"
	AuditCreate    = "create"
	AuditUpdate    = "update"
	AuditDelete    = "delete"
	AuditPublish   = "publish"
	AuditUnpublish = "unpublish"
	AuditReorder   = "reorder"

	// AuditSubscriptionPrefix is followed by the billing action,
	// e.g. subscription_upgrade.
	AuditSubscriptionPrefix = "subscription_"
)

// Audited entity types
const (
	EntityUser     = "user"
	EntityProfile  = "profile"
	EntityCampaign = "campaign"
	EntitySection  = "section"
)

// AuditLogEntry is one dashboard action by an owner.
type AuditLogEntry struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	UserEmail  string    `json:"user_email"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Details    string    `json:"details"`
	IPAddress  string    `json:"ip_address"`
	CreatedAt  time.Time `json:"created_at"`
}

type AuditLogFilter struct {
	UserID     string
	Action     string
	EntityType string
	Limit      int
	Offset     int
}
