// Package playback runs visitor sessions of published campaigns.
package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/flint/internal/ai"
	"github.com/foxzi/flint/internal/blob"
	"github.com/foxzi/flint/internal/events"
	"github.com/foxzi/flint/internal/flow"
	"github.com/foxzi/flint/internal/kv"
	"github.com/foxzi/flint/internal/metrics"
	"github.com/foxzi/flint/internal/notify"
	"github.com/foxzi/flint/internal/vars"
	"github.com/foxzi/flint/internal/web/models"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrEmptyCampaign    = errors.New("campaign has no visible sections")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotUploadSection = errors.New("section does not accept uploads")
	ErrNothingToShare   = errors.New("no results to share yet")
)

type CampaignStore interface {
	GetByID(id string) (*models.Campaign, error)
	GetBySlug(slug string) (*models.Campaign, error)
}

type SectionStore interface {
	ListByCampaign(campaignID string) ([]models.Section, error)
}

type OptionStore interface {
	ListByCampaign(campaignID string) (map[string][]models.SectionOption, error)
}

type LeadStore interface {
	Create(l *models.Lead) error
	Update(l *models.Lead) error
	MarkComplete(id string) error
	UpsertResponse(leadID, sectionID string, t models.SectionType, value any) error
}

type UsageStore interface {
	IncrementLeadUsage(userID string) error
}

type SharedStore interface {
	Create(s *models.SharedResult, ttl time.Duration) error
	GetActive(id string) (*models.SharedResult, error)
}

type UserStore interface {
	GetByID(id string) (*models.User, error)
}

type Uploader interface {
	Upload(ctx context.Context, campaignID, sectionID string, uploads []blob.Upload) ([]vars.FileDescriptor, error)
}

// Deps are the collaborators of the playback service. Events, Notifier,
// Uploads and Files may be nil.
type Deps struct {
	Campaigns CampaignStore
	Sections  SectionStore
	Options   OptionStore
	Leads     LeadStore
	Usage     UsageStore
	Shared    SharedStore
	Users     UserStore

	Sessions  kv.Store
	Cache     flow.ResultsCache
	Transfers flow.TransferIssuer
	Completer ai.Completer
	Files     flow.FileResolver
	Uploads   Uploader
	Events    *events.Emitter
	Notifier  notify.Notifier
	Registry  *flow.Registry
	Logger    *slog.Logger
}

type Config struct {
	SessionTTL    time.Duration
	ShareTTL      time.Duration
	FailOpenDelay time.Duration
	// BaseURL is used for dashboard links in owner notifications.
	BaseURL string
}

// SessionView is what the visitor sees after every operation.
type SessionView struct {
	SessionID  string     `json:"session_id"`
	CampaignID string     `json:"campaign_id"`
	Index      int        `json:"index"`
	Total      int        `json:"total"`
	Completed  bool       `json:"completed"`
	View       *flow.View `json:"view,omitempty"`
	LogicError string     `json:"logic_error,omitempty"`
}

// PublicCampaign is the visitor-facing summary of a published campaign.
type PublicCampaign struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Theme        json.RawMessage `json:"theme,omitempty"`
	SectionCount int             `json:"section_count"`
}

type Service struct {
	deps     Deps
	cfg      Config
	sessions *sessionStore
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func New(deps Deps, cfg Config) *Service {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.ShareTTL == 0 {
		cfg.ShareTTL = 30 * 24 * time.Hour
	}
	if deps.Registry == nil {
		deps.Registry = flow.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	return &Service{
		deps:     deps,
		cfg:      cfg,
		sessions: &sessionStore{store: deps.Sessions, ttl: cfg.SessionTTL},
		logger:   deps.Logger.With("component", "playback"),
	}
}

// Wait blocks until background notifications have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// run is a loaded session with everything needed to move it.
type run struct {
	sess     *Session
	campaign *models.Campaign
	sections []models.Section
	options  map[string][]models.SectionOption
	ctrl     *flow.Controller
}

func (r *run) scope() flow.Scope {
	return flow.Scope{CampaignID: r.campaign.ID, SessionID: r.sess.ID}
}

func (s *Service) live(campaign *models.Campaign, err error) (*models.Campaign, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	if campaign == nil || !campaign.IsLive() {
		return nil, ErrCampaignNotFound
	}
	return campaign, nil
}

func (s *Service) visibleSections(campaignID string) ([]models.Section, map[string][]models.SectionOption, error) {
	all, err := s.deps.Sections.ListByCampaign(campaignID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load sections: %w", err)
	}
	sections := make([]models.Section, 0, len(all))
	for _, sec := range all {
		if sec.IsVisible {
			sections = append(sections, sec)
		}
	}

	options, err := s.deps.Options.ListByCampaign(campaignID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load options: %w", err)
	}
	return sections, options, nil
}

// Campaign returns the public summary of the campaign published at slug.
func (s *Service) Campaign(ctx context.Context, slug string) (*PublicCampaign, error) {
	campaign, err := s.live(s.deps.Campaigns.GetBySlug(slug))
	if err != nil {
		return nil, err
	}
	sections, _, err := s.visibleSections(campaign.ID)
	if err != nil {
		return nil, err
	}
	return &PublicCampaign{
		ID:           campaign.ID,
		Name:         campaign.Name,
		Description:  campaign.Description,
		Theme:        campaign.Theme,
		SectionCount: len(sections),
	}, nil
}

// Start opens a new session on the campaign published at slug.
func (s *Service) Start(ctx context.Context, slug string) (*SessionView, error) {
	campaign, err := s.live(s.deps.Campaigns.GetBySlug(slug))
	if err != nil {
		return nil, err
	}
	sections, options, err := s.visibleSections(campaign.ID)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, ErrEmptyCampaign
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:         uuid.New().String(),
		CampaignID: campaign.ID,
		CreatedAt:  now,
	}
	r := &run{sess: sess, campaign: campaign, sections: sections, options: options}
	r.ctrl = flow.NewController(sections, &sess.State)

	unlock := s.sessions.lock(sess.ID)
	defer unlock()

	if err := s.clearResults(ctx, r); err != nil {
		return nil, err
	}
	metrics.IncSessionsStarted()
	s.logger.Info("session started", "campaign_id", campaign.ID, "session_id", sess.ID)

	return s.settle(ctx, r)
}

func (s *Service) load(ctx context.Context, sessionID string) (*run, error) {
	sess, err := s.sessions.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	campaign, err := s.live(s.deps.Campaigns.GetByID(sess.CampaignID))
	if err != nil {
		return nil, err
	}
	sections, options, err := s.visibleSections(campaign.ID)
	if err != nil {
		return nil, err
	}

	r := &run{sess: sess, campaign: campaign, sections: sections, options: options}
	r.ctrl = flow.NewController(sections, &sess.State)
	return r, nil
}

// with loads a session under its lock, applies fn and saves the result.
func (s *Service) with(ctx context.Context, sessionID string, fn func(r *run) error) (*SessionView, error) {
	unlock := s.sessions.lock(sessionID)
	defer unlock()

	r, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		if err := fn(r); err != nil {
			return nil, err
		}
	}
	return s.settle(ctx, r)
}

// View renders the current section of a session.
func (s *Service) View(ctx context.Context, sessionID string) (*SessionView, error) {
	unlock := s.sessions.lock(sessionID)
	defer unlock()

	r, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, r)
}

// Next submits raw as the answer to the current section and advances.
func (s *Service) Next(ctx context.Context, sessionID string, raw json.RawMessage) (*SessionView, error) {
	return s.with(ctx, sessionID, func(r *run) error {
		cur, ok := r.ctrl.Current()
		if !ok {
			return flow.ErrCompleted
		}

		rc, err := s.renderContext(ctx, r, cur)
		if err != nil {
			return err
		}
		value, err := s.deps.Registry.Accept(cur, rc, raw)
		if err != nil {
			return err
		}
		if err := r.ctrl.Next(value); err != nil {
			return err
		}
		return s.persistAnswer(ctx, r, cur, value)
	})
}

// Previous steps back to the nearest section that is not a logic section.
func (s *Service) Previous(ctx context.Context, sessionID string) (*SessionView, error) {
	return s.with(ctx, sessionID, func(r *run) error {
		r.ctrl.PreviousSkippingLogic()
		return nil
	})
}

// Navigate jumps to an already reached section.
func (s *Service) Navigate(ctx context.Context, sessionID string, index int) (*SessionView, error) {
	return s.with(ctx, sessionID, func(r *run) error {
		return r.ctrl.NavigateTo(index)
	})
}

// Restart clears every answer, upload and AI output and starts a fresh run in the
// same session. The next capture creates a new lead.
func (s *Service) Restart(ctx context.Context, sessionID string) (*SessionView, error) {
	return s.with(ctx, sessionID, func(r *run) error {
		r.ctrl.Reset()
		r.sess.LeadID = ""
		r.sess.Finished = false
		r.sess.LogicErrors = nil
		r.sess.Uploads = nil
		return s.clearResults(ctx, r)
	})
}

// Upload stores files for the current upload section. The returned
// descriptors are submitted with Next.
func (s *Service) Upload(ctx context.Context, sessionID, sectionID string, uploads []blob.Upload) ([]vars.FileDescriptor, error) {
	if s.deps.Uploads == nil {
		return nil, ErrNotUploadSection
	}

	unlock := s.sessions.lock(sessionID)
	defer unlock()

	r, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cur, ok := r.ctrl.Current()
	if !ok || cur.ID != sectionID || cur.Type != models.SectionUpload {
		return nil, ErrNotUploadSection
	}

	files, err := s.deps.Uploads.Upload(ctx, r.campaign.ID, cur.ID, uploads)
	if err != nil {
		s.logger.Warn("upload failed", "session_id", sessionID, "section_id", sectionID, "error", err)
		return nil, err
	}

	if r.sess.Uploads == nil {
		r.sess.Uploads = make(map[string][]vars.FileDescriptor)
	}
	r.sess.Uploads[cur.ID] = append(r.sess.Uploads[cur.ID], files...)
	if err := s.sessions.put(ctx, r.sess); err != nil {
		return nil, err
	}
	return files, nil
}

// Share snapshots the AI outputs of a session. Visitor answers are never
// included.
func (s *Service) Share(ctx context.Context, sessionID string) (*models.SharedResult, error) {
	unlock := s.sessions.lock(sessionID)
	r, err := s.load(ctx, sessionID)
	unlock()
	if err != nil {
		return nil, err
	}

	outputs, err := s.results(ctx, r)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, ErrNothingToShare
	}

	shared := &models.SharedResult{CampaignID: r.campaign.ID, Outputs: outputs}
	if err := s.deps.Shared.Create(shared, s.cfg.ShareTTL); err != nil {
		return nil, err
	}
	return shared, nil
}

// Shared returns an unexpired shared result, or nil.
func (s *Service) Shared(ctx context.Context, id string) (*models.SharedResult, error) {
	return s.deps.Shared.GetActive(id)
}

func (s *Service) results(ctx context.Context, r *run) (map[string]string, error) {
	if s.deps.Cache == nil {
		return map[string]string{}, nil
	}
	return s.deps.Cache.Load(ctx, r.scope())
}

func (s *Service) clearResults(ctx context.Context, r *run) error {
	if s.deps.Cache == nil {
		return nil
	}
	return s.deps.Cache.Clear(ctx, r.scope())
}

func (s *Service) variables(ctx context.Context, r *run) (vars.Vars, error) {
	outputs, err := s.results(ctx, r)
	if err != nil {
		return nil, err
	}
	return flow.MergeVars(flow.BuildVars(r.sections, r.sess.State.Responses), outputs), nil
}

func (s *Service) renderContext(ctx context.Context, r *run, sec models.Section) (flow.RenderContext, error) {
	v, err := s.variables(ctx, r)
	if err != nil {
		return flow.RenderContext{}, err
	}
	return flow.RenderContext{
		Ctx:       ctx,
		Vars:      v,
		Options:   r.options[sec.ID],
		Index:     r.sess.State.Index,
		Total:     len(r.sections),
		Answer:    r.sess.State.Responses[sec.ID],
		Transfers: s.deps.Transfers,
		Uploaded:  r.sess.Uploads[sec.ID],
	}, nil
}

// settle runs any logic sections at the current position, handles
// completion, saves the session and renders the result.
func (s *Service) settle(ctx context.Context, r *run) (*SessionView, error) {
	if err := s.runLogic(ctx, r); err != nil {
		return nil, err
	}
	if r.sess.State.Completed && !r.sess.Finished {
		r.sess.Finished = true
		s.finish(ctx, r)
	}
	if err := s.sessions.put(ctx, r.sess); err != nil {
		return nil, err
	}
	return s.view(ctx, r)
}

func (s *Service) view(ctx context.Context, r *run) (*SessionView, error) {
	sv := &SessionView{
		SessionID:  r.sess.ID,
		CampaignID: r.campaign.ID,
		Index:      r.sess.State.Index,
		Total:      len(r.sections),
		Completed:  r.sess.State.Completed,
	}

	cur, ok := r.ctrl.Current()
	if !ok {
		return sv, nil
	}

	rc, err := s.renderContext(ctx, r, cur)
	if err != nil {
		return nil, err
	}
	view, err := s.deps.Registry.Render(cur, rc)
	if err != nil {
		return nil, err
	}
	sv.View = &view

	// the error of the logic section just passed stays visible on the next one
	if r.sess.State.Index > 0 {
		prev := r.sections[r.sess.State.Index-1]
		sv.LogicError = r.sess.LogicErrors[prev.ID]
	}
	return sv, nil
}
