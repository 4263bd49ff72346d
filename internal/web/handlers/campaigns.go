package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/flint/internal/events"
	"github.com/foxzi/flint/internal/web/models"
	"github.com/foxzi/flint/internal/web/validate"
)

type campaignRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Theme       json.RawMessage `json:"theme"`
	IsActive    *bool           `json:"is_active"`
}

type publishRequest struct {
	Slug string `json:"slug"`
}

// ownedCampaign loads the {id} campaign of the current user. Campaigns of
// other users are reported as missing.
func (h *Handlers) ownedCampaign(r *http.Request) (*models.Campaign, error) {
	id := chi.URLParam(r, "id")
	if !validate.IsUUID(id) {
		return nil, errNotFound
	}
	c, err := h.Campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c == nil || c.UserID != user(r).ID {
		return nil, errNotFound
	}
	return c, nil
}

// CampaignList handles GET /api/campaigns
func (h *Handlers) CampaignList(w http.ResponseWriter, r *http.Request) {
	filter := models.CampaignListFilter{
		UserID: user(r).ID,
		Status: models.CampaignStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit", 50, 200),
		Offset: queryInt(r, "offset", 0, 0),
	}
	campaigns, total, err := h.Campaigns.List(filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, Page{Items: campaigns, Total: total})
}

// CampaignCreate handles POST /api/campaigns
func (h *Handlers) CampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	c := &models.Campaign{UserID: user(r).ID}
	if err := applyCampaign(c, req); err != nil {
		h.fail(w, r, err)
		return
	}

	profile, err := h.Profiles.Get(c.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if profile != nil && profile.CampaignLimit > 0 && profile.CampaignsUsedThisMonth >= profile.CampaignLimit {
		h.fail(w, r, fmt.Errorf("%w: %d campaigns per month", errLimitReached, profile.CampaignLimit))
		return
	}

	if err := h.Campaigns.Create(c); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Profiles.IncrementCampaignUsage(c.UserID); err != nil {
		h.logger.Warn("failed to count campaign usage", "user_id", c.UserID, "error", err)
	}

	h.audit(r, models.AuditCreate, models.EntityCampaign, c.ID, map[string]string{"name": c.Name})
	sendData(w, http.StatusCreated, c)
}

// CampaignGet handles GET /api/campaigns/{id}
func (h *Handlers) CampaignGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.ownedCampaign(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, c)
}

// CampaignUpdate handles PUT /api/campaigns/{id}
func (h *Handlers) CampaignUpdate(w http.ResponseWriter, r *http.Request) {
	c, err := h.ownedCampaign(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req campaignRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := applyCampaign(c, req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Campaigns.Update(c); err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(r, models.AuditUpdate, models.EntityCampaign, c.ID, nil)
	sendData(w, http.StatusOK, c)
}

func applyCampaign(c *models.Campaign, req campaignRequest) error {
	if req.Name != nil {
		c.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		c.Description = strings.TrimSpace(*req.Description)
	}
	if len(req.Theme) > 0 {
		c.Theme = req.Theme
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}

	return validate.New().
		Required("name", c.Name).
		MaxLength("name", c.Name, 200).
		MaxLength("description", c.Description, 2000).
		Check(len(c.Theme) == 0 || isJSONObject(c.Theme), "theme", "must be a JSON object").
		Err()
}

// CampaignDelete handles DELETE /api/campaigns/{id}
func (h *Handlers) CampaignDelete(w http.ResponseWriter, r *http.Request) {
	c, err := h.ownedCampaign(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Campaigns.Delete(c.ID); err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(r, models.AuditDelete, models.EntityCampaign, c.ID, map[string]string{"name": c.Name})
	w.WriteHeader(http.StatusNoContent)
}

// CampaignPublish handles POST /api/campaigns/{id}/publish
func (h *Handlers) CampaignPublish(w http.ResponseWriter, r *http.Request) {
	c, err := h.ownedCampaign(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req publishRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = Slugify(c.Name)
	}
	if err := validate.New().Required("slug", slug).Slug("slug", slug).MaxLength("slug", slug, 100).Err(); err != nil {
		h.fail(w, r, err)
		return
	}

	if c.Status != models.CampaignPublished {
		if err := h.checkPublishCredits(c.UserID); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	if err := h.Campaigns.Publish(c.ID, slug); err != nil {
		h.fail(w, r, err)
		return
	}
	published, err := h.Campaigns.GetByID(c.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if h.Events != nil {
		h.Events.Emit(r.Context(), events.Event{
			Type:       events.CampaignPublished,
			CampaignID: c.ID,
			Data:       map[string]any{"slug": slug},
		})
	}
	h.audit(r, models.AuditPublish, models.EntityCampaign, c.ID, map[string]string{"slug": slug})
	sendData(w, http.StatusOK, published)
}

func (h *Handlers) checkPublishCredits(userID string) error {
	profile, err := h.Profiles.Get(userID)
	if err != nil {
		return err
	}
	credits := 0
	if profile != nil {
		credits = profile.TotalCredits
	}
	published, err := h.Campaigns.CountPublished(userID)
	if err != nil {
		return err
	}
	if published >= credits {
		return fmt.Errorf("%w: publishing needs a free credit (%d of %d in use)", errLimitReached, published, credits)
	}
	return nil
}

// CampaignUnpublish handles POST /api/campaigns/{id}/unpublish
func (h *Handlers) CampaignUnpublish(w http.ResponseWriter, r *http.Request) {
	c, err := h.ownedCampaign(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Campaigns.Unpublish(c.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err = h.Campaigns.GetByID(c.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(r, models.AuditUnpublish, models.EntityCampaign, c.ID, nil)
	sendData(w, http.StatusOK, c)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a campaign name into a URL slug.
func Slugify(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

func isJSONObject(raw json.RawMessage) bool {
	var m map[string]any
	return json.Unmarshal(raw, &m) == nil && m != nil
}
