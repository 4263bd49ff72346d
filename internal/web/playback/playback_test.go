package playback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/flint/internal/ai"
	"github.com/foxzi/flint/internal/blob"
	"github.com/foxzi/flint/internal/events"
	"github.com/foxzi/flint/internal/flow"
	"github.com/foxzi/flint/internal/kv"
	"github.com/foxzi/flint/internal/notify"
	"github.com/foxzi/flint/internal/web/db"
	"github.com/foxzi/flint/internal/web/models"
	"github.com/foxzi/flint/internal/web/repository"
)

const greetConfig = `{"prompt":"Greet @whats_your_name","output_variables":[{"name":"greeting"}]}`

type fakeCompleter struct {
	mu    sync.Mutex
	resp  *ai.CompletionResponse
	err   error
	calls int
	last  *ai.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req *ai.CompletionRequest) (*ai.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	return f.resp, f.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.LeadNotice
}

func (n *recordingNotifier) NotifyLead(_ context.Context, notice notify.LeadNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	svc       *Service
	owner     *models.User
	campaign  *models.Campaign
	completer *fakeCompleter
	notifier  *recordingNotifier
	published *recordingPublisher
	leads     *repository.LeadRepository
	profiles  *repository.ProfileRepository
}

func newFixture(t *testing.T, sections []models.Section, completer *fakeCompleter) *fixture {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "flint.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Close() })

	users := repository.NewUserRepository(database.DB)
	campaigns := repository.NewCampaignRepository(database.DB)
	sectionRepo := repository.NewSectionRepository(database.DB)
	profiles := repository.NewProfileRepository(database.DB)
	leads := repository.NewLeadRepository(database.DB)

	owner := &models.User{Email: "owner@example.com", Name: "Owner"}
	require.NoError(t, users.Create(owner))
	require.NoError(t, profiles.Ensure(&models.Profile{UserID: owner.ID, TotalCredits: 5, CampaignLimit: 5, LeadLimit: 100}))

	campaign := &models.Campaign{UserID: owner.ID, Name: "Greeter"}
	require.NoError(t, campaigns.Create(campaign))
	for i := range sections {
		sections[i].CampaignID = campaign.ID
		sections[i].IsVisible = true
		require.NoError(t, sectionRepo.Create(&sections[i]))
	}
	require.NoError(t, campaigns.Publish(campaign.ID, "greeter"))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := kv.NewMemoryStore()
	notifier := &recordingNotifier{}
	published := &recordingPublisher{}

	svc := New(Deps{
		Campaigns: campaigns,
		Sections:  sectionRepo,
		Options:   repository.NewOptionRepository(database.DB),
		Leads:     leads,
		Usage:     profiles,
		Shared:    repository.NewSharedResultRepository(database.DB),
		Users:     users,
		Sessions:  store,
		Cache:     flow.NewKVResultsCache(store, time.Hour),
		Transfers: flow.NewKVTransferIssuer(store, time.Minute),
		Completer: completer,
		Events:    events.NewEmitter(published, logger),
		Notifier:  notifier,
		Logger:    logger,
	}, Config{FailOpenDelay: time.Millisecond, BaseURL: "https://flint.example.com"})

	return &fixture{
		svc:       svc,
		owner:     owner,
		campaign:  campaign,
		completer: completer,
		notifier:  notifier,
		published: published,
		leads:     leads,
		profiles:  profiles,
	}
}

func greeterSections() []models.Section {
	return []models.Section{
		{Type: models.SectionTextQuestion, Title: "What's your name?", Configuration: json.RawMessage(`{}`)},
		{Type: models.SectionLogic, Configuration: json.RawMessage(greetConfig)},
		{Type: models.SectionOutput, Configuration: json.RawMessage(`{"content":"Result: @greeting"}`)},
	}
}

func leadSections() []models.Section {
	return []models.Section{
		{Type: models.SectionTextQuestion, Title: "What's your name?", Configuration: json.RawMessage(`{}`)},
		{Type: models.SectionCapture, Title: "Get your results", Configuration: json.RawMessage(`{"collect_name":true}`)},
		{Type: models.SectionLogic, Configuration: json.RawMessage(greetConfig)},
		{Type: models.SectionOutput, Configuration: json.RawMessage(`{"content":"Result: @greeting","share_enabled":true}`)},
	}
}

func greeting() *fakeCompleter {
	return &fakeCompleter{resp: &ai.CompletionResponse{Success: true, Outputs: map[string]string{"greeting": "Hello Ada!"}}}
}

func TestGreetingSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, greeterSections(), greeting())

	summary, err := f.svc.Campaign(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.SectionCount)

	sv, err := f.svc.Start(ctx, "greeter")
	require.NoError(t, err)
	require.NotNil(t, sv.View)
	assert.Equal(t, models.SectionTextQuestion, sv.View.Type)
	assert.Equal(t, 0, sv.Index)

	sv, err = f.svc.Next(ctx, sv.SessionID, json.RawMessage(`"Ada"`))
	require.NoError(t, err)
	require.NotNil(t, sv.View)
	assert.Equal(t, models.SectionOutput, sv.View.Type)
	assert.Equal(t, "Result: Hello Ada!", sv.View.Body["content"])
	assert.Empty(t, sv.LogicError)

	assert.Equal(t, 1, f.completer.calls)
	assert.Equal(t, "Ada", f.completer.last.Variables["whats_your_name"])

	// reloading does not run the logic section again
	again, err := f.svc.View(ctx, sv.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Result: Hello Ada!", again.View.Body["content"])
	assert.Equal(t, 1, f.completer.calls)
}

func TestLeadLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, leadSections(), greeting())

	sv, err := f.svc.Start(ctx, "greeter")
	require.NoError(t, err)
	id := sv.SessionID

	_, err = f.svc.Next(ctx, id, json.RawMessage(`"Ada"`))
	require.NoError(t, err)

	sv, err = f.svc.Next(ctx, id, json.RawMessage(`{"email":"Ada@Example.com","name":"Ada Lovelace"}`))
	require.NoError(t, err)
	assert.Equal(t, models.SectionOutput, sv.View.Type)

	leads, total, err := f.leads.List(models.LeadListFilter{CampaignID: f.campaign.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	lead := leads[0]
	assert.Equal(t, "ada@example.com", lead.Email)
	assert.Equal(t, "Ada Lovelace", lead.Name)
	assert.Nil(t, lead.CompletedAt)

	responses, err := f.leads.ListResponses(lead.ID)
	require.NoError(t, err)
	assert.Len(t, responses, 2, "earlier answer is backfilled")

	profile, err := f.profiles.Get(f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, profile.LeadsUsedThisMonth)

	sv, err = f.svc.Next(ctx, id, json.RawMessage(`null`))
	require.NoError(t, err)
	assert.True(t, sv.Completed)
	f.svc.Wait()

	got, err := f.leads.GetByID(lead.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.CompletedAt)

	require.Len(t, f.notifier.notices, 1)
	notice := f.notifier.notices[0]
	assert.Equal(t, "owner@example.com", notice.OwnerEmail)
	assert.Equal(t, "ada@example.com", notice.LeadEmail)
	assert.Equal(t, []notify.Answer{{Question: "What's your name?", Value: "Ada"}}, notice.Answers)
	assert.Equal(t, "Hello Ada!", notice.Outputs["greeting"])
	assert.Equal(t, "https://flint.example.com/campaigns/"+f.campaign.ID+"/leads", notice.DashboardURL)

	assert.Equal(t, []string{events.LeadCaptured, events.LeadCompleted}, f.published.types)

	// completion is recorded once
	_, err = f.svc.Next(ctx, id, json.RawMessage(`null`))
	assert.ErrorIs(t, err, flow.ErrCompleted)
	f.svc.Wait()
	assert.Len(t, f.notifier.notices, 1)
}

func TestCaptureUpdatesExistingLead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, leadSections(), greeting())

	sv, err := f.svc.Start(ctx, "greeter")
	require.NoError(t, err)
	id := sv.SessionID

	_, err = f.svc.Next(ctx, id, json.RawMessage(`"Ada"`))
	require.NoError(t, err)
	_, err = f.svc.Next(ctx, id, json.RawMessage(`{"email":"ada@example.com"}`))
	require.NoError(t, err)

	_, err = f.svc.Previous(ctx, id)
	require.NoError(t, err)
	_, err = f.svc.Next(ctx, id, json.RawMessage(`{"email":"ada@example.com","name":"Ada"}`))
	require.NoError(t, err)

	leads, total, err := f.leads.List(models.LeadListFilter{CampaignID: f.campaign.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "Ada", leads[0].Name)
}

func TestInvalidAnswersLeaveSessionInPlace(t *testing.T) {
	ctx := context.Background()
	sections := leadSections()
	sections[0].Required = true
	f := newFixture(t, sections, greeting())

	sv, err := f.svc.Start(ctx, "greeter")
	require.NoError(t, err)
	id := sv.SessionID

	_, err = f.svc.Next(ctx, id, json.RawMessage(`"  "`))
	assert.ErrorIs(t, err, flow.ErrRequired)

	_, err = f.svc.Next(ctx, id, json.RawMessage(`"Ada"`))
	require.NoError(t, err)

	_, err = f.svc.Next(ctx, id, json.RawMessage(`{"email":"not-an-email"}`))
	assert.ErrorIs(t, err, flow.ErrInvalidInput)

	sv, err = f.svc.View(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, sv.Index)
	assert.Equal(t, models.SectionCapture, sv.View.Type)
}

func TestLogicFailureFailsOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, greeterSections(), &fakeCompleter{err: errors.New("connection refused")})

	sv, err := f.svc.Start(ctx, "greeter")
	require.NoError(t, err)

	sv, err = f.svc.Next(ctx, sv.SessionID, json.RawMessage(`"Ada"`))
	require.NoError(t, err)
	assert.Equal(t, models.SectionOutput, sv.View.Type)
	assert.NotEmpty(t, sv.LogicError)

	again, err := f.svc.View(ctx, sv.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sv.LogicError, again.LogicError)
}

func TestPreviousSkipsLogic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, greeterSections(), greeting())

	sv, err := f.svc.Start(ctx, "greeter")
	require.NoError(t, err)
	_, err = f.svc.Next(ctx, sv.SessionID, json.RawMessage(`"Ada"`))
	require.NoError(t, err)

	sv, err = f.svc.Previous(ctx, sv.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, sv.Index)
	assert.Equal(t, models.SectionTextQuestion, sv.View.Type)
	assert.Equal(t, "Ada", sv.View.Body["value"])
}

func TestNavigate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, leadSections(), greeting())

	sv, err := f.svc.Start(ctx, "greeter")
	require.NoError(t, err)
	id := sv.SessionID

	_, err = f.svc.Navigate(ctx, id, 2)
	assert.ErrorIs(t, err, flow.ErrNotReached)

	_, err = f.svc.Next(ctx, id, json.RawMessage(`"Ada"`))
	require.NoError(t, err)
	sv, err = f.svc.Navigate(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, sv.Index)
}

func TestRestartClearsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, greeterSections(), greeting())

	sv, err := f.svc.Start(ctx, "greeter")
	require.NoError(t, err)
	id := sv.SessionID
	_, err = f.svc.Next(ctx, id, json.RawMessage(`"Ada"`))
	require.NoError(t, err)
	_, err = f.svc.Next(ctx, id, json.RawMessage(`null`))
	require.NoError(t, err)

	sv, err = f.svc.Restart(ctx, id)
	require.NoError(t, err)
	assert.False(t, sv.Completed)
	assert.Equal(t, 0, sv.Index)
	assert.Nil(t, sv.View.Body["value"])

	_, err = f.svc.Share(ctx, id)
	assert.ErrorIs(t, err, ErrNothingToShare)
}

func TestShareOnlyOutputs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, leadSections(), greeting())

	sv, err := f.svc.Start(ctx, "greeter")
	require.NoError(t, err)
	id := sv.SessionID

	_, err = f.svc.Share(ctx, id)
	assert.ErrorIs(t, err, ErrNothingToShare)

	_, err = f.svc.Next(ctx, id, json.RawMessage(`"Ada"`))
	require.NoError(t, err)
	_, err = f.svc.Next(ctx, id, json.RawMessage(`{"email":"ada@example.com"}`))
	require.NoError(t, err)

	shared, err := f.svc.Share(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"greeting": "Hello Ada!"}, shared.Outputs)

	got, err := f.svc.Shared(ctx, shared.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, f.campaign.ID, got.CampaignID)
	assert.Equal(t, shared.Outputs, got.Outputs)
}

func TestUnknownSessionAndCampaign(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, greeterSections(), greeting())

	_, err := f.svc.View(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.Start(ctx, "nope")
	assert.ErrorIs(t, err, ErrCampaignNotFound)

	_, err = f.svc.Upload(ctx, "missing", "s1", nil)
	assert.Error(t, err)
}

type flakyLeads struct {
	LeadStore
	mu       sync.Mutex
	failures int
}

func (l *flakyLeads) UpsertResponse(leadID, sectionID string, t models.SectionType, value any) error {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return errors.New("database is locked")
	}
	l.mu.Unlock()
	return l.LeadStore.UpsertResponse(leadID, sectionID, t, value)
}

func TestCaptureRetryAfterBackfillFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, leadSections(), greeting())
	f.svc.deps.Leads = &flakyLeads{LeadStore: f.leads, failures: 1}

	sv, err := f.svc.Start(ctx, "greeter")
	require.NoError(t, err)
	id := sv.SessionID

	_, err = f.svc.Next(ctx, id, json.RawMessage(`"Ada"`))
	require.NoError(t, err)

	capture := json.RawMessage(`{"email":"ada@example.com","name":"Ada"}`)
	_, err = f.svc.Next(ctx, id, capture)
	require.Error(t, err)

	sv, err = f.svc.View(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SectionCapture, sv.View.Type, "failed step does not advance")

	sv, err = f.svc.Next(ctx, id, capture)
	require.NoError(t, err)
	assert.Equal(t, models.SectionOutput, sv.View.Type)

	leads, total, err := f.leads.List(models.LeadListFilter{CampaignID: f.campaign.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total, "retry reuses the lead")

	responses, err := f.leads.ListResponses(leads[0].ID)
	require.NoError(t, err)
	assert.Len(t, responses, 2)

	profile, err := f.profiles.Get(f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, profile.LeadsUsedThisMonth)
	assert.Equal(t, []string{events.LeadCaptured}, f.published.types)
}

func uploadSections() []models.Section {
	return []models.Section{
		{Type: models.SectionUpload, Title: "Your file", Configuration: json.RawMessage(`{"max_files":1}`)},
		{Type: models.SectionLogic, Configuration: json.RawMessage(`{"prompt":"Read @your_file","output_variables":[{"name":"summary"}]}`)},
		{Type: models.SectionOutput, Configuration: json.RawMessage(`{"content":"@summary"}`)},
	}
}

func TestUploadAnswersMustBeIssued(t *testing.T) {
	ctx := context.Background()
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("INTERNAL-SECRET"))
	}))
	defer internal.Close()

	completer := &fakeCompleter{resp: &ai.CompletionResponse{Success: true, Outputs: map[string]string{"summary": "ok"}}}
	f := newFixture(t, uploadSections(), completer)
	files, err := blob.New(t.TempDir(), 1024)
	require.NoError(t, err)
	f.svc.deps.Files = files
	f.svc.deps.Uploads = files

	sv, err := f.svc.Start(ctx, "greeter")
	require.NoError(t, err)
	id := sv.SessionID
	sectionID := sv.View.SectionID

	forged := []string{
		`[{"name":"a.txt","url":"` + internal.URL + `/admin"}]`,
		`[{"name":"a.txt","url":"/files/` + f.campaign.ID + `/` + sectionID + `/guess-a.txt"}]`,
	}
	for _, raw := range forged {
		_, err = f.svc.Next(ctx, id, json.RawMessage(raw))
		assert.ErrorIs(t, err, flow.ErrInvalidInput, raw)
	}
	assert.Zero(t, completer.calls)

	stored, err := f.svc.Upload(ctx, id, sectionID, []blob.Upload{{Name: "a.txt", Reader: strings.NewReader("my notes")}})
	require.NoError(t, err)
	answer, err := json.Marshal(stored)
	require.NoError(t, err)

	sv, err = f.svc.Next(ctx, id, answer)
	require.NoError(t, err)
	assert.Equal(t, models.SectionOutput, sv.View.Type)

	completer.mu.Lock()
	defer completer.mu.Unlock()
	require.Equal(t, 1, completer.calls)
	require.Len(t, completer.last.Files, 1)
	assert.Equal(t, "my notes", string(completer.last.Files[0].Data))
}
