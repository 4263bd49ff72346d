package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/foxzi/flint/internal/web/auth"
	"github.com/foxzi/flint/internal/web/middleware"
	"github.com/foxzi/flint/internal/web/models"
	"github.com/foxzi/flint/internal/web/validate"
)

const oidcStateCookie = "flint_oidc_state"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if !h.Config.Auth.LocalEnabled {
		sendError(w, http.StatusNotFound, "not_found", "password login is disabled")
		return
	}

	var req loginRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validate.New().Required("email", req.Email).Email("email", req.Email).Required("password", req.Password).Err(); err != nil {
		h.fail(w, r, err)
		return
	}

	login, err := h.Auth.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Info("login failed", "email", req.Email)
		}
		h.fail(w, r, err)
		return
	}

	h.setSessionCookie(w, login.SessionID, login.SessionExpires)
	h.audit(r.WithContext(middleware.WithUser(r.Context(), login.User)), models.AuditLogin, models.EntityUser, login.User.ID, nil)
	sendData(w, http.StatusOK, login)
}

// Logout handles GET /auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil && cookie.Value != "" {
		if err := h.Auth.Logout(cookie.Value); err != nil {
			h.logger.Warn("failed to delete session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
	sendJSON(w, http.StatusOK, Response{Success: true, Message: "signed out"})
}

// OIDCLogin handles GET /auth/oidc/login
func (h *Handlers) OIDCLogin(w http.ResponseWriter, r *http.Request) {
	if h.OIDC == nil {
		sendError(w, http.StatusNotFound, "not_found", "single sign-on is not configured")
		return
	}

	url, state, err := h.OIDC.AuthCodeURL()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oidcStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   h.Config.Server.TLS.Enabled,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// OIDCCallback handles GET /auth/callback
func (h *Handlers) OIDCCallback(w http.ResponseWriter, r *http.Request) {
	if h.OIDC == nil {
		sendError(w, http.StatusNotFound, "not_found", "single sign-on is not configured")
		return
	}

	stateCookie, err := r.Cookie(oidcStateCookie)
	http.SetCookie(w, &http.Cookie{Name: oidcStateCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})

	state := r.URL.Query().Get("state")
	if err != nil || state == "" || state != stateCookie.Value {
		h.fail(w, r, auth.ErrInvalidState)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		desc := r.URL.Query().Get("error_description")
		if desc == "" {
			desc = "authorization failed"
		}
		sendError(w, http.StatusForbidden, "login_rejected", desc)
		return
	}

	info, err := h.OIDC.Exchange(r.Context(), state, code)
	if err != nil {
		h.logger.Warn("OIDC exchange failed", "error", err)
		h.fail(w, r, err)
		return
	}
	login, err := h.Auth.LoginOIDC(info)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.setSessionCookie(w, login.SessionID, login.SessionExpires)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, id string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    id,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.Config.Server.TLS.Enabled,
		SameSite: http.SameSiteLaxMode,
	})
}
