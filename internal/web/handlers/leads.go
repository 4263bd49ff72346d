package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/flint/internal/web/models"
	"github.com/foxzi/flint/internal/web/validate"
)

// LeadList handles GET /api/campaigns/{id}/leads
func (h *Handlers) LeadList(w http.ResponseWriter, r *http.Request) {
	c, err := h.ownedCampaign(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	filter := models.LeadListFilter{
		CampaignID: c.ID,
		Search:     r.URL.Query().Get("search"),
		Limit:      queryInt(r, "limit", 50, 500),
		Offset:     queryInt(r, "offset", 0, 0),
	}
	if v := r.URL.Query().Get("completed"); v != "" {
		completed, err := strconv.ParseBool(v)
		if err != nil {
			h.fail(w, r, validate.Errors{"completed": "must be true or false"})
			return
		}
		filter.Completed = &completed
	}

	leads, total, err := h.Leads.List(filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, Page{Items: leads, Total: total})
}

// LeadGet handles GET /api/campaigns/{id}/leads/{leadID}
func (h *Handlers) LeadGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.ownedCampaign(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	id := chi.URLParam(r, "leadID")
	if !validate.IsUUID(id) {
		h.fail(w, r, errNotFound)
		return
	}
	lead, err := h.Leads.GetByID(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if lead == nil || lead.CampaignID != c.ID {
		h.fail(w, r, errNotFound)
		return
	}

	responses, err := h.Leads.ListResponses(lead.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, models.LeadWithResponses{Lead: *lead, Responses: responses})
}
