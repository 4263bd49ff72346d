package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/flint/internal/web/models"
	"github.com/google/uuid"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a user account
func (r *UserRepository) Create(u *models.User) error {
	u.ID = uuid.New().String()
	u.CreatedAt = now()
	u.UpdatedAt = u.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO users (id, email, password_hash, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.Name, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", translate(err))
	}
	return nil
}

// GetByID returns a user by ID
func (r *UserRepository) GetByID(id string) (*models.User, error) {
	return r.getBy("id", id)
}

// GetByEmail returns a user by email
func (r *UserRepository) GetByEmail(email string) (*models.User, error) {
	return r.getBy("email", email)
}

func (r *UserRepository) getBy(column, value string) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRow(`
		SELECT id, email, password_hash, COALESCE(name, '') as name, created_at, updated_at
		FROM users WHERE `+column+` = ?`, value,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.CreatedAt, &u.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// List returns all users
func (r *UserRepository) List() ([]models.User, error) {
	rows, err := r.db.Query(`
		SELECT id, email, COALESCE(name, '') as name, created_at, updated_at
		FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetPassword replaces the password hash of a user
func (r *UserRepository) SetPassword(email, hash string) error {
	return rowsAffected(r.db.Exec(
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE email = ?",
		hash, now(), email,
	))
}

// DeleteByEmail removes a user and everything owned by it
func (r *UserRepository) DeleteByEmail(email string) error {
	return rowsAffected(r.db.Exec("DELETE FROM users WHERE email = ?", email))
}

// CreateSession stores a login session
func (r *UserRepository) CreateSession(userID string, ttl time.Duration) (string, time.Time, error) {
	id := uuid.New().String()
	expiresAt := now().Add(ttl)
	_, err := r.db.Exec(
		"INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)",
		id, userID, expiresAt, now(),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create session: %w", translate(err))
	}
	return id, expiresAt, nil
}

// SessionUser returns the user of an unexpired session
func (r *UserRepository) SessionUser(sessionID string) (*models.User, error) {
	var userID string
	err := r.db.QueryRow(
		"SELECT user_id FROM sessions WHERE id = ? AND expires_at > ?",
		sessionID, now(),
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetByID(userID)
}

// DeleteSession removes a login session
func (r *UserRepository) DeleteSession(sessionID string) error {
	_, err := r.db.Exec("DELETE FROM sessions WHERE id = ?", sessionID)
	return err
}

// CountExpiredSessions counts sessions past their expiry
func (r *UserRepository) CountExpiredSessions() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE expires_at <= ?", now()).Scan(&n)
	return n, err
}

// DeleteExpiredSessions removes sessions past their expiry
func (r *UserRepository) DeleteExpiredSessions() (int64, error) {
	res, err := r.db.Exec("DELETE FROM sessions WHERE expires_at <= ?", now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
