package handlers

import (
	"net/http"

	"github.com/foxzi/flint/internal/web/billing"
	"github.com/foxzi/flint/internal/web/models"
)

type profileView struct {
	User               *models.User               `json:"user"`
	Profile            *models.Profile            `json:"profile"`
	PublishedCount     int                        `json:"published_count"`
	RecentTransactions []models.CreditTransaction `json:"recent_transactions"`
}

// Profile handles GET /api/profile
func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	u := user(r)
	profile, err := h.Profiles.Get(u.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if profile == nil {
		h.fail(w, r, billing.ErrProfileNotFound)
		return
	}
	published, err := h.Campaigns.CountPublished(u.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	view := profileView{User: u, Profile: profile, PublishedCount: published}
	if h.Credits != nil {
		view.RecentTransactions, err = h.Credits.List(u.ID, 20)
		if err != nil {
			h.fail(w, r, err)
			return
		}
	}
	sendData(w, http.StatusOK, view)
}

// SubscriptionChange handles POST /api/billing/subscription-change
func (h *Handlers) SubscriptionChange(w http.ResponseWriter, r *http.Request) {
	var req billing.ChangeRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.Billing.Change(r.Context(), user(r).ID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(r, models.AuditSubscriptionPrefix+string(result.Action), models.EntityProfile, user(r).ID, result)
	sendJSON(w, http.StatusOK, Response{Success: true, Message: result.Message, Data: result})
}

// AuditLog handles GET /api/audit
func (h *Handlers) AuditLog(w http.ResponseWriter, r *http.Request) {
	entries, total, err := h.Audit.List(models.AuditLogFilter{
		UserID:     user(r).ID,
		Action:     r.URL.Query().Get("action"),
		EntityType: r.URL.Query().Get("entity_type"),
		Limit:      queryInt(r, "limit", 50, 500),
		Offset:     queryInt(r, "offset", 0, 0),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, Page{Items: entries, Total: total})
}
