package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/flint/internal/web/models"
	"github.com/google/uuid"
)

type ProfileRepository struct {
	db *sql.DB
}

func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `user_id, total_credits, campaigns_used_this_month, leads_used_this_month, campaign_limit, lead_limit,
	current_period_end, cancellation_scheduled_at, downgrade_scheduled_at, scheduled_credit_amount, usage_reset_at, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }, p *models.Profile) error {
	return row.Scan(&p.UserID, &p.TotalCredits, &p.CampaignsUsedThisMonth, &p.LeadsUsedThisMonth,
		&p.CampaignLimit, &p.LeadLimit, &p.CurrentPeriodEnd, &p.CancellationScheduledAt,
		&p.DowngradeScheduledAt, &p.ScheduledCreditAmount, &p.UsageResetAt, &p.CreatedAt, &p.UpdatedAt)
}

// Get returns the profile of a user
func (r *ProfileRepository) Get(userID string) (*models.Profile, error) {
	p := &models.Profile{}
	err := scanProfile(r.db.QueryRow(`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID), p)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Ensure creates the profile of a user when missing
func (r *ProfileRepository) Ensure(p *models.Profile) error {
	ts := now()
	if p.CurrentPeriodEnd.IsZero() {
		p.CurrentPeriodEnd = ts.AddDate(0, 1, 0)
	}
	_, err := r.db.Exec(`
		INSERT INTO profiles (user_id, total_credits, campaign_limit, lead_limit, current_period_end, usage_reset_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		p.UserID, p.TotalCredits, p.CampaignLimit, p.LeadLimit, p.CurrentPeriodEnd, ts, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", translate(err))
	}
	return nil
}

// Save writes credit and schedule fields back
func (r *ProfileRepository) Save(p *models.Profile) error {
	p.UpdatedAt = now()
	return rowsAffected(r.db.Exec(`
		UPDATE profiles SET total_credits = ?, current_period_end = ?, cancellation_scheduled_at = ?,
			downgrade_scheduled_at = ?, scheduled_credit_amount = ?, updated_at = ?
		WHERE user_id = ?`,
		p.TotalCredits, p.CurrentPeriodEnd, p.CancellationScheduledAt, p.DowngradeScheduledAt,
		p.ScheduledCreditAmount, p.UpdatedAt, p.UserID,
	))
}

// IncrementCampaignUsage bumps the monthly campaign counter
func (r *ProfileRepository) IncrementCampaignUsage(userID string) error {
	_, err := r.db.Exec(
		"UPDATE profiles SET campaigns_used_this_month = campaigns_used_this_month + 1, updated_at = ? WHERE user_id = ?",
		now(), userID,
	)
	return err
}

// IncrementLeadUsage bumps the monthly lead counter of the campaign owner
func (r *ProfileRepository) IncrementLeadUsage(userID string) error {
	_, err := r.db.Exec(
		"UPDATE profiles SET leads_used_this_month = leads_used_this_month + 1, updated_at = ? WHERE user_id = ?",
		now(), userID,
	)
	return err
}

// ResetMonthlyUsage clears usage counters last reset before cutoff
func (r *ProfileRepository) ResetMonthlyUsage(cutoff time.Time) (int64, error) {
	ts := now()
	res, err := r.db.Exec(`
		UPDATE profiles SET campaigns_used_this_month = 0, leads_used_this_month = 0, usage_reset_at = ?, updated_at = ?
		WHERE usage_reset_at IS NULL OR usage_reset_at < ?`,
		ts, ts, cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DueSchedules returns profiles with a cancellation or downgrade due at or before t
func (r *ProfileRepository) DueSchedules(t time.Time) ([]models.Profile, error) {
	rows, err := r.db.Query(`SELECT `+profileColumns+` FROM profiles
		WHERE (cancellation_scheduled_at IS NOT NULL AND cancellation_scheduled_at <= ?)
		   OR (downgrade_scheduled_at IS NOT NULL AND downgrade_scheduled_at <= ?)`,
		t.UTC(), t.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []models.Profile{}
	for rows.Next() {
		var p models.Profile
		if err := scanProfile(rows, &p); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

type CreditRepository struct {
	db *sql.DB
}

func NewCreditRepository(db *sql.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Record appends a ledger entry
func (r *CreditRepository) Record(t *models.CreditTransaction) error {
	t.ID = uuid.New().String()
	t.CreatedAt = now()
	_, err := r.db.Exec(`
		INSERT INTO credit_transactions (id, user_id, amount, transaction_type, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Amount, t.Type, t.Description, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record credit transaction: %w", translate(err))
	}
	return nil
}

// List returns the ledger of a user, newest first
func (r *CreditRepository) List(userID string, limit int) ([]models.CreditTransaction, error) {
	query := `SELECT id, user_id, amount, transaction_type, description, created_at
		FROM credit_transactions WHERE user_id = ? ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []models.CreditTransaction{}
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
