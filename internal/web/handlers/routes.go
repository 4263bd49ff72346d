package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/flint/internal/blob"
	"github.com/foxzi/flint/internal/metrics"
	"github.com/foxzi/flint/internal/web/middleware"
)

// Routes builds the HTTP router.
func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(metrics.HTTPMiddleware)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Recovery(h.logger))

	r.Get("/health", h.Health)

	// Authentication
	r.Post("/auth/login", h.Login)
	r.Get("/auth/logout", h.Logout)
	r.Get("/auth/oidc/login", h.OIDCLogin)
	r.Get("/auth/callback", h.OIDCCallback)

	if h.Files != nil {
		r.Handle(blob.URLPrefix+"*", h.Files.Handler())
	}

	// Visitor API
	r.Route("/api/public", func(r chi.Router) {
		if h.Limiter != nil {
			limits := h.Config.Server.RateLimit
			r.Use(middleware.RateLimit(h.Limiter, limits.PerMinute, limits.PerHour))
		}

		r.Get("/campaigns/{slug}", h.PublicCampaign)
		r.Post("/campaigns/{slug}/sessions", h.SessionStart)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.SessionView)
			r.Post("/next", h.SessionNext)
			r.Post("/previous", h.SessionPrevious)
			r.Post("/navigate", h.SessionNavigate)
			r.Post("/restart", h.SessionRestart)
			r.Post("/uploads", h.SessionUpload)
			r.Post("/share", h.SessionShare)
		})

		r.Get("/shared/{shortID}", h.SharedResult)
		r.Get("/transfers/{token}", h.TransferRedeem)
	})

	if h.Completer != nil {
		r.With(h.limit()).Post("/api/ai/completions", h.AICompletion)
	}

	// Dashboard API
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.Auth, h.logger))

		r.Get("/api/profile", h.Profile)
		r.Post("/api/billing/subscription-change", h.SubscriptionChange)
		r.Get("/api/audit", h.AuditLog)

		r.Get("/api/campaigns", h.CampaignList)
		r.Post("/api/campaigns", h.CampaignCreate)
		r.Route("/api/campaigns/{id}", func(r chi.Router) {
			r.Get("/", h.CampaignGet)
			r.Put("/", h.CampaignUpdate)
			r.Delete("/", h.CampaignDelete)
			r.Post("/publish", h.CampaignPublish)
			r.Post("/unpublish", h.CampaignUnpublish)

			r.Get("/sections", h.SectionList)
			r.Post("/sections", h.SectionCreate)
			r.Post("/sections/reorder", h.SectionReorder)
			r.Route("/sections/{sectionID}", func(r chi.Router) {
				r.Put("/", h.SectionUpdate)
				r.Delete("/", h.SectionDelete)

				r.Get("/options", h.OptionList)
				r.Post("/options", h.OptionCreate)
				r.Post("/options/reorder", h.OptionReorder)
				r.Put("/options/{optionID}", h.OptionUpdate)
				r.Delete("/options/{optionID}", h.OptionDelete)
			})

			r.Get("/leads", h.LeadList)
			r.Get("/leads/{leadID}", h.LeadGet)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}

func (h *Handlers) limit() func(http.Handler) http.Handler {
	if h.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	limits := h.Config.Server.RateLimit
	return middleware.RateLimit(h.Limiter, limits.PerMinute, limits.PerHour)
}
