// Package handlers serves the dashboard and visitor JSON API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/foxzi/flint/internal/ai"
	"github.com/foxzi/flint/internal/blob"
	"github.com/foxzi/flint/internal/events"
	"github.com/foxzi/flint/internal/flow"
	"github.com/foxzi/flint/internal/web/auth"
	"github.com/foxzi/flint/internal/web/billing"
	"github.com/foxzi/flint/internal/web/config"
	"github.com/foxzi/flint/internal/web/middleware"
	"github.com/foxzi/flint/internal/web/models"
	"github.com/foxzi/flint/internal/web/playback"
	"github.com/foxzi/flint/internal/web/repository"
	"github.com/foxzi/flint/internal/web/validate"
)

const maxBodyBytes = 1 << 20

// Deps wires the handlers to the rest of the service. OIDC, Files and
// Events may be nil.
type Deps struct {
	Config    *config.Config
	Users     *repository.UserRepository
	Campaigns *repository.CampaignRepository
	Sections  *repository.SectionRepository
	Options   *repository.OptionRepository
	Leads     *repository.LeadRepository
	Profiles  *repository.ProfileRepository
	Credits   *repository.CreditRepository
	Audit     *repository.AuditRepository
	Auth      *auth.Authenticator
	OIDC      *auth.OIDCProvider
	Billing   *billing.Service
	Playback  *playback.Service
	Transfers *flow.KVTransferIssuer
	Completer ai.Completer
	Files     *blob.Store
	Events    *events.Emitter
	Limiter   *middleware.RateLimiter
	Logger    *slog.Logger
}

type Handlers struct {
	Deps
	logger *slog.Logger
}

func New(deps Deps) *Handlers {
	return &Handlers{
		Deps:   deps,
		logger: deps.Logger.With("component", "http"),
	}
}

// Response is the envelope of every successful reply.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Success          bool              `json:"success"`
	Error            string            `json:"error"`
	Code             string            `json:"code,omitempty"`
	ValidationErrors map[string]string `json:"validation_errors,omitempty"`
}

// Page is a slice of a list endpoint.
type Page struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

// Health check
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendData(w http.ResponseWriter, status int, data any) {
	sendJSON(w, status, Response{Success: true, Data: data})
}

func sendError(w http.ResponseWriter, status int, code, message string) {
	sendJSON(w, status, ErrorResponse{Error: message, Code: code})
}

var (
	errNotFound     = errors.New("not found")
	errBadRequest   = errors.New("invalid request body")
	errLimitReached = errors.New("plan limit reached")
)

// fail translates err into a friendly message and status code. Unknown
// errors are logged and reported as 500.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validate.Errors
	if errors.As(err, &verrs) {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:            "please correct the highlighted fields",
			Code:             "validation_failed",
			ValidationErrors: verrs,
		})
		return
	}

	var inputErr *flow.InputError
	if errors.As(err, &inputErr) {
		resp := ErrorResponse{Error: inputErr.Message, Code: "invalid_input"}
		if inputErr.Field != "" {
			resp.ValidationErrors = map[string]string{inputErr.Field: inputErr.Message}
		}
		sendJSON(w, http.StatusBadRequest, resp)
		return
	}

	status, code, message := classify(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	sendError(w, status, code, message)
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated", "please sign in"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", err.Error()
	case errors.Is(err, auth.ErrInvalidState), errors.Is(err, auth.ErrGroupNotAllowed), errors.Is(err, auth.ErrNoEmail):
		return http.StatusForbidden, "login_rejected", err.Error()

	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request", err.Error()
	case errors.Is(err, errLimitReached):
		return http.StatusForbidden, "limit_reached", err.Error()

	case errors.Is(err, errNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, playback.ErrCampaignNotFound),
		errors.Is(err, playback.ErrSessionNotFound),
		errors.Is(err, billing.ErrProfileNotFound),
		errors.Is(err, flow.ErrTransferNotFound):
		return http.StatusNotFound, "not_found", notFoundMessage(err)

	case errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict, "duplicate", "this item already exists"
	case errors.Is(err, repository.ErrForeignKey):
		return http.StatusBadRequest, "missing_reference", "a referenced item does not exist"

	case errors.Is(err, flow.ErrRequired):
		return http.StatusBadRequest, "required", err.Error()
	case errors.Is(err, flow.ErrNotReached), errors.Is(err, flow.ErrCompleted):
		return http.StatusConflict, "invalid_step", err.Error()
	case errors.Is(err, flow.ErrBadConfig), errors.Is(err, flow.ErrUnknownType), errors.Is(err, flow.ErrUnsafeURL):
		return http.StatusUnprocessableEntity, "section_misconfigured", "this section is not configured correctly"

	case errors.Is(err, billing.ErrInvalidAction):
		return http.StatusBadRequest, "invalid_action", err.Error()
	case errors.Is(err, billing.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount", err.Error()
	case errors.Is(err, billing.ErrPublishedConflict):
		return http.StatusBadRequest, "published_conflict", err.Error()

	case errors.Is(err, playback.ErrEmptyCampaign), errors.Is(err, playback.ErrNothingToShare):
		return http.StatusConflict, "unavailable", err.Error()
	case errors.Is(err, playback.ErrNotUploadSection), errors.Is(err, blob.ErrEmptyUpload):
		return http.StatusBadRequest, "bad_upload", err.Error()
	case errors.Is(err, blob.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large", err.Error()
	}
	return http.StatusInternalServerError, "internal", "something went wrong, please try again"
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, playback.ErrCampaignNotFound):
		return "this campaign is not available"
	case errors.Is(err, playback.ErrSessionNotFound):
		return "this session has expired, please start again"
	case errors.Is(err, flow.ErrTransferNotFound):
		return err.Error()
	}
	return "not found"
}

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}

// user returns the authenticated user of the request.
func user(r *http.Request) *models.User {
	return middleware.UserFromContext(r.Context())
}

func queryInt(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// audit records a dashboard action. Failures are logged only.
func (h *Handlers) audit(r *http.Request, action, entityType, entityID string, details any) {
	if h.Audit == nil {
		return
	}
	u := user(r)
	entry := &models.AuditLogEntry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IPAddress:  middleware.ClientIP(r),
	}
	if u != nil {
		entry.UserID = u.ID
		entry.UserEmail = u.Email
	}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			entry.Details = string(data)
		}
	}
	if err := h.Audit.Add(entry); err != nil {
		h.logger.Warn("failed to write audit log", "action", action, "error", err)
	}
}
