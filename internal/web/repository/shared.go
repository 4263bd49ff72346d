package repository

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foxzi/flint/internal/web/models"
)

const shortIDAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"

type SharedResultRepository struct {
	db *sql.DB
}

func NewSharedResultRepository(db *sql.DB) *SharedResultRepository {
	return &SharedResultRepository{db: db}
}

// Create stores a snapshot of AI outputs under a fresh short ID
func (r *SharedResultRepository) Create(s *models.SharedResult, ttl time.Duration) error {
	data, err := json.Marshal(s.Outputs)
	if err != nil {
		return fmt.Errorf("failed to encode outputs: %w", err)
	}
	s.CreatedAt = now()
	s.ExpiresAt = s.CreatedAt.Add(ttl)

	// Retry on the rare short ID collision
	for attempt := 0; attempt < 3; attempt++ {
		s.ID, err = shortID(8)
		if err != nil {
			return err
		}
		_, err = r.db.Exec(`
			INSERT INTO shared_results (id, campaign_id, outputs, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			s.ID, s.CampaignID, string(data), s.ExpiresAt, s.CreatedAt,
		)
		err = translate(err)
		if err == nil || !isDuplicate(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create shared result: %w", err)
	}
	return nil
}

// GetActive returns an unexpired shared result
func (r *SharedResultRepository) GetActive(id string) (*models.SharedResult, error) {
	s := &models.SharedResult{}
	var outputs string
	err := r.db.QueryRow(`
		SELECT id, campaign_id, outputs, expires_at, created_at
		FROM shared_results WHERE id = ? AND expires_at > ?`, id, now(),
	).Scan(&s.ID, &s.CampaignID, &outputs, &s.ExpiresAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(outputs), &s.Outputs); err != nil {
		return nil, fmt.Errorf("failed to decode outputs: %w", err)
	}
	return s, nil
}

// CountExpired counts shared results past their expiry
func (r *SharedResultRepository) CountExpired() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM shared_results WHERE expires_at <= ?", now()).Scan(&n)
	return n, err
}

// DeleteExpired removes shared results past their expiry
func (r *SharedResultRepository) DeleteExpired() (int64, error) {
	res, err := r.db.Exec("DELETE FROM shared_results WHERE expires_at <= ?", now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func shortID(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	for i := range b {
		b[i] = shortIDAlphabet[int(b[i])%len(shortIDAlphabet)]
	}
	return string(b), nil
}
