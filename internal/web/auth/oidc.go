package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/foxzi/flint/internal/web/config"
)

const stateTTL = 10 * time.Minute

var (
	ErrInvalidState    = errors.New("invalid or expired login state")
	ErrGroupNotAllowed = errors.New("user not in allowed groups")
	ErrNoEmail         = errors.New("identity provider returned no email")
)

// OIDCProvider runs the authorization code flow against an OpenID Connect
// issuer.
type OIDCProvider struct {
	config   *config.OIDCConfig
	oauth2   oauth2.Config
	verifier *oidc.IDTokenVerifier

	mu     sync.Mutex
	states map[string]time.Time
	now    func() time.Time
}

// NewOIDCProvider discovers the issuer. It returns nil when OIDC is disabled.
func NewOIDCProvider(ctx context.Context, cfg *config.OIDCConfig) (*OIDCProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC issuer: %w", err)
	}

	return &OIDCProvider{
		config: cfg,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.Scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		states:   make(map[string]time.Time),
		now:      time.Now,
	}, nil
}

// AuthCodeURL returns the issuer login URL and the state bound to it.
func (p *OIDCProvider) AuthCodeURL() (string, string, error) {
	state, err := generateState()
	if err != nil {
		return "", "", err
	}

	p.mu.Lock()
	p.pruneStates()
	p.states[state] = p.now().Add(stateTTL)
	p.mu.Unlock()

	return p.oauth2.AuthCodeURL(state), state, nil
}

// consumeState reports whether state was issued and is unexpired. A state
// is accepted once.
func (p *OIDCProvider) consumeState(state string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	expires, ok := p.states[state]
	delete(p.states, state)
	return ok && p.now().Before(expires)
}

func (p *OIDCProvider) pruneStates() {
	now := p.now()
	for s, expires := range p.states {
		if !now.Before(expires) {
			delete(p.states, s)
		}
	}
}

// Exchange trades the authorization code for a verified identity.
func (p *OIDCProvider) Exchange(ctx context.Context, state, code string) (*UserInfo, error) {
	if !p.consumeState(state) {
		return nil, ErrInvalidState
	}

	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id_token: %w", err)
	}

	var claims struct {
		Email  string   `json:"email"`
		Name   string   `json:"name"`
		Groups []string `json:"groups"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	info := &UserInfo{
		Subject: idToken.Subject,
		Email:   strings.ToLower(strings.TrimSpace(claims.Email)),
		Name:    claims.Name,
		Groups:  claims.Groups,
	}
	if info.Email == "" {
		return nil, ErrNoEmail
	}
	if !groupAllowed(p.config.AllowedGroups, info.Groups) {
		return nil, ErrGroupNotAllowed
	}
	return info, nil
}

// UserInfo is the identity returned by the issuer.
type UserInfo struct {
	Subject string
	Email   string
	Name    string
	Groups  []string
}

func groupAllowed(allowed, groups []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, g := range groups {
		if slices.Contains(allowed, g) {
			return true
		}
	}
	return false
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
