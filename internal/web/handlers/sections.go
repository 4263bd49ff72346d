package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/flint/internal/web/models"
	"github.com/foxzi/flint/internal/web/validate"
)

type sectionCreateRequest struct {
	ID   string             `json:"id"`
	Type models.SectionType `json:"type"`
}

type sectionUpdateRequest struct {
	Title         *string         `json:"title"`
	Description   *string         `json:"description"`
	Configuration json.RawMessage `json:"configuration"`
	IsVisible     *bool           `json:"is_visible"`
	Required      *bool           `json:"required"`
}

type reorderRequest struct {
	ActiveID string `json:"active_id"`
	OverID   string `json:"over_id"`
}

func (req reorderRequest) validate() error {
	return validate.New().UUID("active_id", req.ActiveID).UUID("over_id", req.OverID).Err()
}

func (h *Handlers) ownedSection(r *http.Request) (*models.Campaign, *models.Section, error) {
	c, err := h.ownedCampaign(r)
	if err != nil {
		return nil, nil, err
	}
	id := chi.URLParam(r, "sectionID")
	if !validate.IsUUID(id) {
		return nil, nil, errNotFound
	}
	s, err := h.Sections.GetByID(id)
	if err != nil {
		return nil, nil, err
	}
	if s == nil || s.CampaignID != c.ID {
		return nil, nil, errNotFound
	}
	return c, s, nil
}

// SectionList handles GET /api/campaigns/{id}/sections
func (h *Handlers) SectionList(w http.ResponseWriter, r *http.Request) {
	c, err := h.ownedCampaign(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sections, err := h.Sections.ListByCampaign(c.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, sections)
}

// SectionCreate handles POST /api/campaigns/{id}/sections. The section is
// appended with the palette defaults of its type.
func (h *Handlers) SectionCreate(w http.ResponseWriter, r *http.Request) {
	c, err := h.ownedCampaign(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req sectionCreateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	_, known := models.Definition(req.Type)
	v := validate.New().Check(known, "type", "unknown section type")
	if req.ID != "" {
		v.UUID("id", req.ID)
	}
	if err := v.Err(); err != nil {
		h.fail(w, r, err)
		return
	}

	s, err := h.Sections.AppendFromPalette(c.ID, req.Type, req.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(r, models.AuditCreate, models.EntitySection, s.ID, map[string]string{"campaign_id": c.ID, "type": string(s.Type)})
	sendData(w, http.StatusCreated, s)
}

// SectionUpdate handles PUT /api/campaigns/{id}/sections/{sectionID}
func (h *Handlers) SectionUpdate(w http.ResponseWriter, r *http.Request) {
	_, s, err := h.ownedSection(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req sectionUpdateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Title != nil {
		s.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		s.Description = *req.Description
	}
	if len(req.Configuration) > 0 {
		s.Configuration = req.Configuration
	}
	if req.IsVisible != nil {
		s.IsVisible = *req.IsVisible
	}
	if req.Required != nil {
		s.Required = *req.Required
	}

	err = validate.New().
		MaxLength("title", s.Title, 500).
		Check(isJSONObject(s.Configuration), "configuration", "must be a JSON object").
		Err()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.Sections.Update(s); err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, s)
}

// SectionDelete handles DELETE /api/campaigns/{id}/sections/{sectionID}
func (h *Handlers) SectionDelete(w http.ResponseWriter, r *http.Request) {
	c, s, err := h.ownedSection(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Sections.Delete(s.ID); err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(r, models.AuditDelete, models.EntitySection, s.ID, map[string]string{"campaign_id": c.ID})
	w.WriteHeader(http.StatusNoContent)
}

// SectionReorder handles POST /api/campaigns/{id}/sections/reorder
func (h *Handlers) SectionReorder(w http.ResponseWriter, r *http.Request) {
	c, err := h.ownedCampaign(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req reorderRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		h.fail(w, r, err)
		return
	}

	sections, err := h.Sections.Reorder(c.ID, req.ActiveID, req.OverID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, models.AuditReorder, models.EntitySection, req.ActiveID, map[string]string{"campaign_id": c.ID, "over_id": req.OverID})
	sendData(w, http.StatusOK, sections)
}

type optionRequest struct {
	Label *string `json:"label"`
	Value *string `json:"value"`
}

func (req optionRequest) apply(o *models.SectionOption) error {
	if req.Label != nil {
		o.Label = strings.TrimSpace(*req.Label)
	}
	if req.Value != nil {
		o.Value = strings.TrimSpace(*req.Value)
	}
	if o.Value == "" {
		o.Value = o.Label
	}
	return validate.New().
		Required("label", o.Label).
		MaxLength("label", o.Label, 500).
		MaxLength("value", o.Value, 500).
		Err()
}

func (h *Handlers) choiceSection(r *http.Request) (*models.Section, error) {
	_, s, err := h.ownedSection(r)
	if err != nil {
		return nil, err
	}
	if s.Type != models.SectionMultipleChoice {
		return nil, validate.Errors{"section": "only multiple choice sections have options"}
	}
	return s, nil
}

func (h *Handlers) ownedOption(r *http.Request) (*models.SectionOption, error) {
	s, err := h.choiceSection(r)
	if err != nil {
		return nil, err
	}
	id := chi.URLParam(r, "optionID")
	if !validate.IsUUID(id) {
		return nil, errNotFound
	}
	o, err := h.Options.GetByID(id)
	if err != nil {
		return nil, err
	}
	if o == nil || o.SectionID != s.ID {
		return nil, errNotFound
	}
	return o, nil
}

// OptionList handles GET .../sections/{sectionID}/options
func (h *Handlers) OptionList(w http.ResponseWriter, r *http.Request) {
	s, err := h.choiceSection(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	options, err := h.Options.ListBySection(s.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, options)
}

// OptionCreate handles POST .../sections/{sectionID}/options
func (h *Handlers) OptionCreate(w http.ResponseWriter, r *http.Request) {
	s, err := h.choiceSection(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req optionRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	o := &models.SectionOption{SectionID: s.ID}
	if err := req.apply(o); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Options.Create(o); err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusCreated, o)
}

// OptionUpdate handles PUT .../options/{optionID}
func (h *Handlers) OptionUpdate(w http.ResponseWriter, r *http.Request) {
	o, err := h.ownedOption(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req optionRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := req.apply(o); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Options.Update(o); err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, o)
}

// OptionDelete handles DELETE .../options/{optionID}
func (h *Handlers) OptionDelete(w http.ResponseWriter, r *http.Request) {
	o, err := h.ownedOption(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Options.Delete(o.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OptionReorder handles POST .../sections/{sectionID}/options/reorder
func (h *Handlers) OptionReorder(w http.ResponseWriter, r *http.Request) {
	s, err := h.choiceSection(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req reorderRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		h.fail(w, r, err)
		return
	}

	options, err := h.Options.Reorder(s.ID, req.ActiveID, req.OverID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendData(w, http.StatusOK, options)
}
