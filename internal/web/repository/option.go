package repository

import (
	"database/sql"
	"fmt"

	"github.com/foxzi/flint/internal/flow"
	"github.com/foxzi/flint/internal/web/models"
	"github.com/google/uuid"
)

type OptionRepository struct {
	db *sql.DB
}

func NewOptionRepository(db *sql.DB) *OptionRepository {
	return &OptionRepository{db: db}
}

// ListBySection returns the options of a section in display order
func (r *OptionRepository) ListBySection(sectionID string) ([]models.SectionOption, error) {
	rows, err := r.db.Query(`
		SELECT id, section_id, label, value, order_index, created_at, updated_at
		FROM section_options WHERE section_id = ? ORDER BY order_index, created_at`, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	options := []models.SectionOption{}
	for rows.Next() {
		var o models.SectionOption
		if err := rows.Scan(&o.ID, &o.SectionID, &o.Label, &o.Value, &o.OrderIndex, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

// ListByCampaign returns every option of a campaign grouped by section ID
func (r *OptionRepository) ListByCampaign(campaignID string) (map[string][]models.SectionOption, error) {
	rows, err := r.db.Query(`
		SELECT o.id, o.section_id, o.label, o.value, o.order_index, o.created_at, o.updated_at
		FROM section_options o
		JOIN sections s ON s.id = o.section_id
		WHERE s.campaign_id = ?
		ORDER BY o.section_id, o.order_index`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	options := map[string][]models.SectionOption{}
	for rows.Next() {
		var o models.SectionOption
		if err := rows.Scan(&o.ID, &o.SectionID, &o.Label, &o.Value, &o.OrderIndex, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		options[o.SectionID] = append(options[o.SectionID], o)
	}
	return options, rows.Err()
}

// GetByID returns an option by ID
func (r *OptionRepository) GetByID(id string) (*models.SectionOption, error) {
	o := &models.SectionOption{}
	err := r.db.QueryRow(`
		SELECT id, section_id, label, value, order_index, created_at, updated_at
		FROM section_options WHERE id = ?`, id,
	).Scan(&o.ID, &o.SectionID, &o.Label, &o.Value, &o.OrderIndex, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Create appends an option to its section
func (r *OptionRepository) Create(o *models.SectionOption) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	o.CreatedAt = now()
	o.UpdatedAt = o.CreatedAt

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.QueryRow(
		"SELECT COALESCE(MAX(order_index), 0) + 1 FROM section_options WHERE section_id = ?", o.SectionID,
	).Scan(&o.OrderIndex); err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO section_options (id, section_id, label, value, order_index, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.SectionID, o.Label, o.Value, o.OrderIndex, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create option: %w", translate(err))
	}
	return tx.Commit()
}

// Update updates label and value of an option
func (r *OptionRepository) Update(o *models.SectionOption) error {
	o.UpdatedAt = now()
	return rowsAffected(r.db.Exec(
		"UPDATE section_options SET label = ?, value = ?, updated_at = ? WHERE id = ?",
		o.Label, o.Value, o.UpdatedAt, o.ID,
	))
}

// Delete removes an option and compacts the remaining order indices
func (r *OptionRepository) Delete(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var sectionID string
	if err := tx.QueryRow("SELECT section_id FROM section_options WHERE id = ?", id).Scan(&sectionID); err != nil {
		return translate(err)
	}
	if _, err := tx.Exec("DELETE FROM section_options WHERE id = ?", id); err != nil {
		return err
	}

	ids, err := orderedIDs(tx, "section_options", "section_id", sectionID)
	if err != nil {
		return err
	}
	if err := writeOrder(tx, "section_options", ids); err != nil {
		return err
	}
	return tx.Commit()
}

// Reorder moves activeID onto the position of overID within a section
func (r *OptionRepository) Reorder(sectionID, activeID, overID string) ([]models.SectionOption, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids, err := orderedIDs(tx, "section_options", "section_id", sectionID)
	if err != nil {
		return nil, err
	}
	moved, ok := flow.MoveOnto(ids, activeID, overID)
	if !ok {
		return nil, ErrNotFound
	}
	if err := writeOrder(tx, "section_options", moved); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.ListBySection(sectionID)
}
