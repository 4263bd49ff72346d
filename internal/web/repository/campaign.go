package repository

import (
	"database/sql"
	"fmt"

	"github.com/foxzi/flint/internal/web/models"
	"github.com/google/uuid"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, user_id, name, description, status, published_url, theme, is_active, published_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }, c *models.Campaign, extra ...any) error {
	var publishedURL, theme sql.NullString
	dest := []any{&c.ID, &c.UserID, &c.Name, &c.Description, &c.Status, &publishedURL, &theme, &c.IsActive, &c.PublishedAt, &c.CreatedAt, &c.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	c.PublishedURL = publishedURL.String
	c.Theme = nullString(theme)
	return nil
}

// Create creates a new draft campaign
func (r *CampaignRepository) Create(c *models.Campaign) error {
	c.ID = uuid.New().String()
	c.Status = models.CampaignDraft
	c.IsActive = true
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO campaigns (id, user_id, name, description, status, theme, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.Description, c.Status, jsonText(c.Theme), c.IsActive, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", translate(err))
	}
	return nil
}

// GetByID returns a campaign by ID
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	c := &models.Campaign{}
	err := scanCampaign(r.db.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id), c)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetBySlug returns a campaign by its published URL slug
func (r *CampaignRepository) GetBySlug(slug string) (*models.Campaign, error) {
	c := &models.Campaign{}
	err := scanCampaign(r.db.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE published_url = ?`, slug), c)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns with optional filtering
func (r *CampaignRepository) List(filter models.CampaignListFilter) ([]models.CampaignWithStats, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.UserID != "" {
		where += " AND c.user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where += " AND c.status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		where += " AND (c.name LIKE ? OR c.description LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM campaigns c"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT c.id, c.user_id, c.name, c.description, c.status, c.published_url, c.theme, c.is_active, c.published_at, c.created_at, c.updated_at,
			COALESCE((SELECT COUNT(*) FROM sections WHERE campaign_id = c.id), 0) as section_count,
			COALESCE((SELECT COUNT(*) FROM leads WHERE campaign_id = c.id), 0) as lead_count
		FROM campaigns c` + where + " ORDER BY c.updated_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []models.CampaignWithStats{}
	for rows.Next() {
		var c models.CampaignWithStats
		if err := scanCampaign(rows, &c.Campaign, &c.SectionCount, &c.LeadCount); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	return campaigns, total, rows.Err()
}

// Update updates the editable fields of a campaign
func (r *CampaignRepository) Update(c *models.Campaign) error {
	c.UpdatedAt = now()
	return rowsAffected(r.db.Exec(`
		UPDATE campaigns SET name = ?, description = ?, theme = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Description, jsonText(c.Theme), c.IsActive, c.UpdatedAt, c.ID,
	))
}

// Publish marks a campaign published under slug
func (r *CampaignRepository) Publish(id, slug string) error {
	ts := now()
	return rowsAffected(r.db.Exec(`
		UPDATE campaigns SET status = ?, published_url = ?, published_at = ?, updated_at = ?
		WHERE id = ?`,
		models.CampaignPublished, slug, ts, ts, id,
	))
}

// Unpublish returns a campaign to draft and releases its slug
func (r *CampaignRepository) Unpublish(id string) error {
	return rowsAffected(r.db.Exec(`
		UPDATE campaigns SET status = ?, published_url = NULL, published_at = NULL, updated_at = ?
		WHERE id = ?`,
		models.CampaignDraft, now(), id,
	))
}

// Delete deletes a campaign; sections, options and leads cascade
func (r *CampaignRepository) Delete(id string) error {
	return rowsAffected(r.db.Exec("DELETE FROM campaigns WHERE id = ?", id))
}

// CountPublished counts the published campaigns of a user
func (r *CampaignRepository) CountPublished(userID string) (int, error) {
	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM campaigns WHERE user_id = ? AND status = ?",
		userID, models.CampaignPublished,
	).Scan(&n)
	return n, err
}

func jsonText(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
