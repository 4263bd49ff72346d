package models

import "time"

// User is a dashboard account. Accounts provisioned through OIDC carry no
// password hash.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasPassword reports whether the user can sign in with a local password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}
