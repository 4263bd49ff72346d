package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/foxzi/flint/internal/web/models"
	"github.com/google/uuid"
)

type LeadRepository struct {
	db *sql.DB
}

func NewLeadRepository(db *sql.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Create stores a newly captured lead
func (r *LeadRepository) Create(l *models.Lead) error {
	l.ID = uuid.New().String()
	l.CreatedAt = now()
	l.UpdatedAt = l.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO leads (id, campaign_id, email, name, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.CampaignID, l.Email, l.Name, l.Phone, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lead: %w", translate(err))
	}
	return nil
}

// Update stores newly captured contact fields
func (r *LeadRepository) Update(l *models.Lead) error {
	l.UpdatedAt = now()
	return rowsAffected(r.db.Exec(
		"UPDATE leads SET email = ?, name = ?, phone = ?, updated_at = ? WHERE id = ?",
		l.Email, l.Name, l.Phone, l.UpdatedAt, l.ID,
	))
}

// MarkComplete sets the completion timestamp once
func (r *LeadRepository) MarkComplete(id string) error {
	ts := now()
	_, err := r.db.Exec(
		"UPDATE leads SET completed_at = COALESCE(completed_at, ?), updated_at = ? WHERE id = ?",
		ts, ts, id,
	)
	return err
}

// GetByID returns a lead by ID
func (r *LeadRepository) GetByID(id string) (*models.Lead, error) {
	l := &models.Lead{}
	err := r.db.QueryRow(`
		SELECT id, campaign_id, email, name, phone, completed_at, created_at, updated_at
		FROM leads WHERE id = ?`, id,
	).Scan(&l.ID, &l.CampaignID, &l.Email, &l.Name, &l.Phone, &l.CompletedAt, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// List returns leads of a campaign
func (r *LeadRepository) List(filter models.LeadListFilter) ([]models.Lead, int, error) {
	where := " WHERE campaign_id = ?"
	args := []any{filter.CampaignID}

	if filter.Completed != nil {
		if *filter.Completed {
			where += " AND completed_at IS NOT NULL"
		} else {
			where += " AND completed_at IS NULL"
		}
	}
	if filter.Search != "" {
		where += " AND (email LIKE ? OR name LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM leads"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, campaign_id, email, name, phone, completed_at, created_at, updated_at FROM leads` +
		where + " ORDER BY created_at DESC"
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

	leads := []models.Lead{}
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.Email, &l.Name, &l.Phone, &l.CompletedAt, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, 0, err
		}
		leads = append(leads, l)
	}
	return leads, total, rows.Err()
}

// UpsertResponse stores the answer of a lead to a section. A second answer
// to the same section replaces the first.
func (r *LeadRepository) UpsertResponse(leadID, sectionID string, responseType models.SectionType, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	ts := now()
	_, err = r.db.Exec(`
		INSERT INTO lead_responses (id, lead_id, section_id, response_type, response_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lead_id, section_id) DO UPDATE SET
			response_type = excluded.response_type,
			response_value = excluded.response_value,
			updated_at = excluded.updated_at`,
		uuid.New().String(), leadID, sectionID, responseType, string(data), ts, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to store response: %w", translate(err))
	}
	return nil
}

// ListResponses returns every answer of a lead
func (r *LeadRepository) ListResponses(leadID string) ([]models.LeadResponse, error) {
	rows, err := r.db.Query(`
		SELECT lr.id, lr.lead_id, lr.section_id, lr.response_type, lr.response_value, lr.created_at, lr.updated_at
		FROM lead_responses lr
		JOIN sections s ON s.id = lr.section_id
		WHERE lr.lead_id = ?
		ORDER BY s.order_index`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	responses := []models.LeadResponse{}
	for rows.Next() {
		var lr models.LeadResponse
		var value sql.NullString
		if err := rows.Scan(&lr.ID, &lr.LeadID, &lr.SectionID, &lr.ResponseType, &value, &lr.CreatedAt, &lr.UpdatedAt); err != nil {
			return nil, err
		}
		lr.ResponseValue = nullString(value)
		responses = append(responses, lr)
	}
	return responses, rows.Err()
}
