// Package auth authenticates dashboard users by password, session cookie,
// bearer token or OpenID Connect.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/foxzi/flint/internal/web/models"
)

const SessionCookie = "flint_session"

var (
	ErrUnauthenticated    = errors.New("authentication required")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

type UserStore interface {
	Create(u *models.User) error
	GetByID(id string) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	CreateSession(userID string, ttl time.Duration) (string, time.Time, error)
	SessionUser(sessionID string) (*models.User, error)
	DeleteSession(sessionID string) error
}

type ProfileStore interface {
	Ensure(p *models.Profile) error
}

// Plan is the subscription every new account starts with.
type Plan struct {
	Credits       int
	CampaignLimit int
	LeadLimit     int
}

// Login is the result of a successful sign-in.
type Login struct {
	User           *models.User `json:"user"`
	SessionID      string       `json:"-"`
	SessionExpires time.Time    `json:"-"`
	Token          string       `json:"token"`
	TokenExpires   time.Time    `json:"token_expires_at"`
}

type Authenticator struct {
	users      UserStore
	profiles   ProfileStore
	tokens     *Tokens
	sessionTTL time.Duration
	plan       Plan
	logger     *slog.Logger
}

func NewAuthenticator(users UserStore, profiles ProfileStore, tokens *Tokens, sessionTTL time.Duration, plan Plan, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		users:      users,
		profiles:   profiles,
		tokens:     tokens,
		sessionTTL: sessionTTL,
		plan:       plan,
		logger:     logger.With("component", "auth"),
	}
}

// Login checks a local password and opens a session.
func (a *Authenticator) Login(email, password string) (*Login, error) {
	user, err := a.users.GetByEmail(normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || !checkPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return a.open(user)
}

// LoginOIDC signs in the identity returned by the issuer, creating the
// account on first login.
func (a *Authenticator) LoginOIDC(info *UserInfo) (*Login, error) {
	user, err := a.users.GetByEmail(info.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		user, err = a.CreateUser(info.Email, info.Name, "")
		if err != nil {
			return nil, err
		}
		a.logger.Info("user provisioned from OIDC", "email", user.Email)
	}
	return a.open(user)
}

// CreateUser adds an account with the default plan. An empty password
// creates an account that can only sign in through OIDC.
func (a *Authenticator) CreateUser(email, name, password string) (*models.User, error) {
	user := &models.User{Email: normalizeEmail(email), Name: name}
	if password != "" {
		hash, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	if err := a.users.Create(user); err != nil {
		return nil, err
	}

	profile := &models.Profile{
		UserID:        user.ID,
		TotalCredits:  a.plan.Credits,
		CampaignLimit: a.plan.CampaignLimit,
		LeadLimit:     a.plan.LeadLimit,
	}
	if err := a.profiles.Ensure(profile); err != nil {
		return nil, err
	}
	return user, nil
}

func (a *Authenticator) open(user *models.User) (*Login, error) {
	sessionID, sessionExpires, err := a.users.CreateSession(user.ID, a.sessionTTL)
	if err != nil {
		return nil, err
	}
	token, tokenExpires, err := a.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &Login{
		User:           user,
		SessionID:      sessionID,
		SessionExpires: sessionExpires,
		Token:          token,
		TokenExpires:   tokenExpires,
	}, nil
}

// Logout ends a cookie session.
func (a *Authenticator) Logout(sessionID string) error {
	return a.users.DeleteSession(sessionID)
}

// Authenticate resolves the user of a request from a bearer token or the
// session cookie.
func (a *Authenticator) Authenticate(r *http.Request) (*models.User, error) {
	if raw, ok := bearer(r); ok {
		userID, err := a.tokens.Verify(raw)
		if err != nil {
			return nil, ErrUnauthenticated
		}
		return a.existing(a.users.GetByID(userID))
	}

	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, ErrUnauthenticated
	}
	return a.existing(a.users.SessionUser(cookie.Value))
}

func (a *Authenticator) existing(user *models.User, err error) (*models.User, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, ErrUnauthenticated
	}
	return user, nil
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
