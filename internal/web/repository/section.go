package repository

import (
	"database/sql"
	"fmt"

	"github.com/foxzi/flint/internal/flow"
	"github.com/foxzi/flint/internal/web/models"
	"github.com/google/uuid"
)

type SectionRepository struct {
	db *sql.DB
}

func NewSectionRepository(db *sql.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

const sectionColumns = `id, campaign_id, type, title, description, configuration, order_index, is_visible, required, created_at, updated_at`

func scanSection(row interface{ Scan(...any) error }, s *models.Section) error {
	var cfg sql.NullString
	err := row.Scan(&s.ID, &s.CampaignID, &s.Type, &s.Title, &s.Description, &cfg,
		&s.OrderIndex, &s.IsVisible, &s.Required, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return err
	}
	s.Configuration = nullString(cfg)
	if len(s.Configuration) == 0 {
		s.Configuration = []byte("{}")
	}
	return nil
}

// ListByCampaign returns the sections of a campaign in play order
func (r *SectionRepository) ListByCampaign(campaignID string) ([]models.Section, error) {
	rows, err := r.db.Query(`SELECT `+sectionColumns+` FROM sections WHERE campaign_id = ? ORDER BY order_index, created_at`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sections := []models.Section{}
	for rows.Next() {
		var s models.Section
		if err := scanSection(rows, &s); err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

// GetByID returns a section by ID
func (r *SectionRepository) GetByID(id string) (*models.Section, error) {
	s := &models.Section{}
	err := scanSection(r.db.QueryRow(`SELECT `+sectionColumns+` FROM sections WHERE id = ?`, id), s)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create appends a section to the end of its campaign. An ID set by the
// caller is kept.
func (r *SectionRepository) Create(s *models.Section) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if len(s.Configuration) == 0 {
		s.Configuration = []byte("{}")
	}
	s.CreatedAt = now()
	s.UpdatedAt = s.CreatedAt

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.QueryRow(
		"SELECT COALESCE(MAX(order_index), 0) + 1 FROM sections WHERE campaign_id = ?", s.CampaignID,
	).Scan(&s.OrderIndex); err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO sections (id, campaign_id, type, title, description, configuration, order_index, is_visible, required, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CampaignID, s.Type, s.Title, s.Description, string(s.Configuration),
		s.OrderIndex, s.IsVisible, s.Required, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create section: %w", translate(err))
	}
	return tx.Commit()
}

// AppendFromPalette creates a section of the given type with the palette
// defaults at the end of the campaign.
func (r *SectionRepository) AppendFromPalette(campaignID string, t models.SectionType, id string) (*models.Section, error) {
	def, ok := models.Definition(t)
	if !ok {
		return nil, fmt.Errorf("unknown section type %q", t)
	}
	s := &models.Section{
		ID:            id,
		CampaignID:    campaignID,
		Type:          t,
		Title:         def.Title,
		Configuration: []byte(def.Configuration),
		IsVisible:     true,
	}
	if err := r.Create(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Update updates the editable fields of a section
func (r *SectionRepository) Update(s *models.Section) error {
	if len(s.Configuration) == 0 {
		s.Configuration = []byte("{}")
	}
	s.UpdatedAt = now()
	return rowsAffected(r.db.Exec(`
		UPDATE sections SET title = ?, description = ?, configuration = ?, is_visible = ?, required = ?, updated_at = ?
		WHERE id = ?`,
		s.Title, s.Description, string(s.Configuration), s.IsVisible, s.Required, s.UpdatedAt, s.ID,
	))
}

// Delete removes a section and closes the gap it leaves in the ordering
func (r *SectionRepository) Delete(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var campaignID string
	if err := tx.QueryRow("SELECT campaign_id FROM sections WHERE id = ?", id).Scan(&campaignID); err != nil {
		return translate(err)
	}
	if _, err := tx.Exec("DELETE FROM sections WHERE id = ?", id); err != nil {
		return err
	}

	ids, err := orderedIDs(tx, "sections", "campaign_id", campaignID)
	if err != nil {
		return err
	}
	if err := writeOrder(tx, "sections", ids); err != nil {
		return err
	}
	return tx.Commit()
}

// Reorder moves activeID onto the position of overID and rewrites every
// order index of the campaign to 1..N.
func (r *SectionRepository) Reorder(campaignID, activeID, overID string) ([]models.Section, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids, err := orderedIDs(tx, "sections", "campaign_id", campaignID)
	if err != nil {
		return nil, err
	}
	moved, ok := flow.MoveOnto(ids, activeID, overID)
	if !ok {
		return nil, ErrNotFound
	}
	if err := writeOrder(tx, "sections", moved); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.ListByCampaign(campaignID)
}

type queryer interface {
	execer
	Query(query string, args ...any) (*sql.Rows, error)
}

func orderedIDs(q queryer, table, parentColumn, parentID string) ([]string, error) {
	rows, err := q.Query(fmt.Sprintf("SELECT id FROM %s WHERE %s = ? ORDER BY order_index, created_at", table, parentColumn), parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// writeOrder stores each id at its 1-based position and touches updated_at.
func writeOrder(ex execer, table string, ids []string) error {
	ts := now()
	for id, idx := range flow.Reindex(ids) {
		if _, err := ex.Exec(fmt.Sprintf("UPDATE %s SET order_index = ?, updated_at = ? WHERE id = ?", table), idx, ts, id); err != nil {
			return fmt.Errorf("failed to reorder %s: %w", table, err)
		}
	}
	return nil
}
