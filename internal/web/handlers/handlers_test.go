package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/flint/internal/ai"
	"github.com/foxzi/flint/internal/blob"
	"github.com/foxzi/flint/internal/flow"
	"github.com/foxzi/flint/internal/kv"
	"github.com/foxzi/flint/internal/web/auth"
	"github.com/foxzi/flint/internal/web/billing"
	"github.com/foxzi/flint/internal/web/config"
	"github.com/foxzi/flint/internal/web/db"
	"github.com/foxzi/flint/internal/web/middleware"
	"github.com/foxzi/flint/internal/web/playback"
	"github.com/foxzi/flint/internal/web/repository"
)

const testPassword = "correct horse battery"

type stubCompleter struct {
	resp *ai.CompletionResponse
	err  error

	mu   sync.Mutex
	last *ai.CompletionRequest
}

func (s *stubCompleter) Complete(ctx context.Context, req *ai.CompletionRequest) (*ai.CompletionResponse, error) {
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	return s.resp, s.err
}

func (s *stubCompleter) lastRequest() *ai.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type testServer struct {
	t         *testing.T
	handler   http.Handler
	auth      *auth.Authenticator
	completer *stubCompleter
}

type envelope struct {
	Success          bool              `json:"success"`
	Message          string            `json:"message"`
	Data             json.RawMessage   `json:"data"`
	Error            string            `json:"error"`
	Code             string            `json:"code"`
	ValidationErrors map[string]string `json:"validation_errors"`
}

func newTestServer(t *testing.T, plan auth.Plan) *testServer {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "flint.db"))
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{}
	cfg.Auth.LocalEnabled = true
	cfg.Storage.MaxUploadBytes = 1 << 20
	cfg.Server.RateLimit = config.RateLimitConfig{PerMinute: 1000, PerHour: 10000}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := repository.NewUserRepository(database.DB)
	campaigns := repository.NewCampaignRepository(database.DB)
	sections := repository.NewSectionRepository(database.DB)
	options := repository.NewOptionRepository(database.DB)
	leads := repository.NewLeadRepository(database.DB)
	profiles := repository.NewProfileRepository(database.DB)
	credits := repository.NewCreditRepository(database.DB)
	shared := repository.NewSharedResultRepository(database.DB)

	authenticator := auth.NewAuthenticator(users, profiles, auth.NewTokens(strings.Repeat("s", 32), time.Hour), time.Hour, plan, logger)

	files, err := blob.New(t.TempDir(), cfg.Storage.MaxUploadBytes)
	if err != nil {
		t.Fatalf("blob.New: %v", err)
	}
	store := kv.NewMemoryStore()
	transfers := flow.NewKVTransferIssuer(store, time.Minute)
	completer := &stubCompleter{resp: &ai.CompletionResponse{Success: true, Outputs: map[string]string{"answer": "42"}}}

	svc := playback.New(playback.Deps{
		Campaigns: campaigns,
		Sections:  sections,
		Options:   options,
		Leads:     leads,
		Usage:     profiles,
		Shared:    shared,
		Users:     users,
		Sessions:  store,
		Cache:     flow.NewKVResultsCache(store, time.Hour),
		Transfers: transfers,
		Completer: completer,
		Files:     files,
		Uploads:   files,
		Logger:    logger,
	}, playback.Config{FailOpenDelay: time.Millisecond})
	t.Cleanup(svc.Wait)

	h := New(Deps{
		Config:    cfg,
		Users:     users,
		Campaigns: campaigns,
		Sections:  sections,
		Options:   options,
		Leads:     leads,
		Profiles:  profiles,
		Credits:   credits,
		Audit:     repository.NewAuditRepository(database.DB),
		Auth:      authenticator,
		Billing:   billing.NewService(profiles, campaigns, credits, logger),
		Playback:  svc,
		Transfers: transfers,
		Completer: completer,
		Files:     files,
		Limiter:   middleware.NewRateLimiter(),
		Logger:    logger,
	})

	return &testServer{t: t, handler: h.Routes(), auth: authenticator, completer: completer}
}

// signIn creates an account and returns its bearer token.
func (s *testServer) signIn(email string) string {
	s.t.Helper()
	if _, err := s.auth.CreateUser(email, "Test", testPassword); err != nil {
		s.t.Fatalf("CreateUser: %v", err)
	}
	rec, env := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": testPassword})
	if rec.Code != http.StatusOK {
		s.t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	s.decode(env.Data, &login)
	return login.Token
}

func (s *testServer) do(method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func (s *testServer) decode(raw json.RawMessage, v any) {
	s.t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		s.t.Fatalf("decode %s: %v", raw, err)
	}
}

func (s *testServer) createCampaign(token, name string) string {
	s.t.Helper()
	rec, env := s.do(http.MethodPost, "/api/campaigns", token, map[string]string{"name": name})
	if rec.Code != http.StatusCreated {
		s.t.Fatalf("create campaign status = %d, body %s", rec.Code, rec.Body.String())
	}
	var c struct {
		ID string `json:"id"`
	}
	s.decode(env.Data, &c)
	return c.ID
}

func defaultPlan() auth.Plan {
	return auth.Plan{Credits: 1, CampaignLimit: 3, LeadLimit: 100}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, defaultPlan())
	rec, _ := s.do(http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, defaultPlan())
	token := s.signIn("owner@example.com")

	tests := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{"wrong password", map[string]string{"email": "owner@example.com", "password": "nope-nope"}, http.StatusUnauthorized, "invalid_credentials"},
		{"unknown user", map[string]string{"email": "ghost@example.com", "password": testPassword}, http.StatusUnauthorized, "invalid_credentials"},
		{"missing email", map[string]string{"password": testPassword}, http.StatusBadRequest, "validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := s.do(http.MethodPost, "/auth/login", "", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if env.Code != tt.code {
				t.Errorf("code = %q, want %q", env.Code, tt.code)
			}
		})
	}

	rec, env := s.do(http.MethodGet, "/api/profile", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d, body %s", rec.Code, rec.Body.String())
	}
	var view struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
		Profile struct {
			TotalCredits int `json:"total_credits"`
		} `json:"profile"`
	}
	s.decode(env.Data, &view)
	if view.User.Email != "owner@example.com" {
		t.Errorf("email = %q", view.User.Email)
	}
	if view.Profile.TotalCredits != 1 {
		t.Errorf("total_credits = %d, want 1", view.Profile.TotalCredits)
	}

	if rec, _ := s.do(http.MethodGet, "/api/profile", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous profile status = %d, want 401", rec.Code)
	}
}

func TestCampaignCRUD(t *testing.T) {
	s := newTestServer(t, defaultPlan())
	token := s.signIn("owner@example.com")
	id := s.createCampaign(token, "Quiz")

	rec, env := s.do(http.MethodPut, "/api/campaigns/"+id, token, map[string]any{"description": "About you", "theme": map[string]string{"color": "#fff"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	var c struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Status      string `json:"status"`
	}
	s.decode(env.Data, &c)
	if c.Name != "Quiz" || c.Description != "About you" || c.Status != "draft" {
		t.Errorf("campaign = %+v", c)
	}

	rec, env = s.do(http.MethodGet, "/api/campaigns", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var page struct {
		Total int `json:"total"`
	}
	s.decode(env.Data, &page)
	if page.Total != 1 {
		t.Errorf("total = %d, want 1", page.Total)
	}

	if rec, _ := s.do(http.MethodDelete, "/api/campaigns/"+id, token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec, _ := s.do(http.MethodGet, "/api/campaigns/"+id, token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestCampaignValidation(t *testing.T) {
	s := newTestServer(t, defaultPlan())
	token := s.signIn("owner@example.com")

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"missing name", map[string]any{"name": "  "}, "name"},
		{"theme not object", map[string]any{"name": "Quiz", "theme": []int{1}}, "theme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := s.do(http.MethodPost, "/api/campaigns", token, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if env.Success {
				t.Error("success = true")
			}
			if env.ValidationErrors[tt.field] == "" {
				t.Errorf("validation_errors = %v, want entry for %s", env.ValidationErrors, tt.field)
			}
		})
	}
}

func TestCampaignOwnership(t *testing.T) {
	s := newTestServer(t, defaultPlan())
	owner := s.signIn("owner@example.com")
	other := s.signIn("other@example.com")
	id := s.createCampaign(owner, "Private")

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/campaigns/" + id},
		{http.MethodDelete, "/api/campaigns/" + id},
		{http.MethodPost, "/api/campaigns/" + id + "/publish"},
		{http.MethodGet, "/api/campaigns/" + id + "/sections"},
		{http.MethodGet, "/api/campaigns/" + id + "/leads"},
		{http.MethodGet, "/api/campaigns/not-a-uuid"},
	}
	for _, p := range paths {
		rec, _ := s.do(p.method, p.path, other, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", p.method, p.path, rec.Code)
		}
	}
}

func TestCampaignMonthlyLimit(t *testing.T) {
	s := newTestServer(t, auth.Plan{Credits: 1, CampaignLimit: 1, LeadLimit: 10})
	token := s.signIn("owner@example.com")
	s.createCampaign(token, "First")

	rec, env := s.do(http.MethodPost, "/api/campaigns", token, map[string]string{"name": "Second"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if env.Code != "limit_reached" {
		t.Errorf("code = %q", env.Code)
	}
}

func TestPublishNeedsCredit(t *testing.T) {
	s := newTestServer(t, defaultPlan())
	token := s.signIn("owner@example.com")
	first := s.createCampaign(token, "My Quiz!")
	second := s.createCampaign(token, "Another")

	rec, env := s.do(http.MethodPost, "/api/campaigns/"+first+"/publish", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish status = %d, body %s", rec.Code, rec.Body.String())
	}
	var c struct {
		Status       string `json:"status"`
		PublishedURL string `json:"published_url"`
	}
	s.decode(env.Data, &c)
	if c.Status != "published" || c.PublishedURL != "my-quiz" {
		t.Errorf("campaign = %+v", c)
	}

	rec, env = s.do(http.MethodPost, "/api/campaigns/"+second+"/publish", token, map[string]string{"slug": "another"})
	if rec.Code != http.StatusForbidden || env.Code != "limit_reached" {
		t.Fatalf("second publish = %d %q, want 403 limit_reached", rec.Code, env.Code)
	}

	// already published campaigns keep their credit
	if rec, _ := s.do(http.MethodPost, "/api/campaigns/"+first+"/publish", token, map[string]string{"slug": "renamed"}); rec.Code != http.StatusOK {
		t.Errorf("republish status = %d, want 200", rec.Code)
	}

	rec, env = s.do(http.MethodPost, "/api/campaigns/"+second+"/publish", token, map[string]string{"slug": "Not A Slug"})
	if rec.Code != http.StatusBadRequest || env.ValidationErrors["slug"] == "" {
		t.Errorf("bad slug = %d %v", rec.Code, env.ValidationErrors)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Quiz!", "my-quiz"},
		{"  Lead   Magnet 2024 ", "lead-magnet-2024"},
		{"---", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSectionsAndOptions(t *testing.T) {
	s := newTestServer(t, defaultPlan())
	token := s.signIn("owner@example.com")
	id := s.createCampaign(token, "Quiz")
	base := "/api/campaigns/" + id + "/sections"

	rec, env := s.do(http.MethodPost, base, token, map[string]string{"type": "unknown"})
	if rec.Code != http.StatusBadRequest || env.ValidationErrors["type"] == "" {
		t.Fatalf("unknown type = %d %v", rec.Code, env.ValidationErrors)
	}

	var ids []string
	for _, typ := range []string{"multiple_choice", "output"} {
		rec, env := s.do(http.MethodPost, base, token, map[string]string{"type": typ})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %s status = %d, body %s", typ, rec.Code, rec.Body.String())
		}
		var sec struct {
			ID string `json:"id"`
		}
		s.decode(env.Data, &sec)
		ids = append(ids, sec.ID)
	}

	rec, env = s.do(http.MethodPost, base+"/reorder", token, map[string]string{"active_id": ids[1], "over_id": ids[0]})
	if rec.Code != http.StatusOK {
		t.Fatalf("reorder status = %d, body %s", rec.Code, rec.Body.String())
	}
	var ordered []struct {
		ID string `json:"id"`
	}
	s.decode(env.Data, &ordered)
	if len(ordered) != 2 || ordered[0].ID != ids[1] {
		t.Errorf("order = %+v, want %s first", ordered, ids[1])
	}

	rec, env = s.do(http.MethodPut, base+"/"+ids[1], token, map[string]any{"configuration": "nope"})
	if rec.Code != http.StatusBadRequest || env.ValidationErrors["configuration"] == "" {
		t.Errorf("bad configuration = %d %v", rec.Code, env.ValidationErrors)
	}

	// options belong to multiple choice sections only
	if rec, _ := s.do(http.MethodPost, base+"/"+ids[1]+"/options", token, map[string]string{"label": "A"}); rec.Code != http.StatusBadRequest {
		t.Errorf("option on output section status = %d, want 400", rec.Code)
	}
	rec, env = s.do(http.MethodPost, base+"/"+ids[0]+"/options", token, map[string]string{"label": "Red"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("option create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var opt struct {
		Label string `json:"label"`
		Value string `json:"value"`
	}
	s.decode(env.Data, &opt)
	if opt.Value != "Red" {
		t.Errorf("value = %q, want label as default", opt.Value)
	}

	if rec, _ := s.do(http.MethodDelete, base+"/"+ids[0], token, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
}

func TestSubscriptionChange(t *testing.T) {
	s := newTestServer(t, defaultPlan())

	if rec, _ := s.do(http.MethodPost, "/api/billing/subscription-change", "", map[string]string{"action": "cancel"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	token := s.signIn("owner@example.com")

	rec, env := s.do(http.MethodPost, "/api/billing/subscription-change", token, map[string]any{"action": "upgrade", "new_credit_amount": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("upgrade status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result billing.ChangeResult
	s.decode(env.Data, &result)
	if result.CurrentTotalCredits != 5 || !result.EffectiveImmediately {
		t.Errorf("result = %+v", result)
	}
	if env.Message == "" {
		t.Error("message is empty")
	}

	tests := []struct {
		name string
		body map[string]any
		code string
	}{
		{"unknown action", map[string]any{"action": "pause"}, "invalid_action"},
		{"upgrade not larger", map[string]any{"action": "upgrade", "new_credit_amount": 5}, "invalid_amount"},
		{"downgrade missing amount", map[string]any{"action": "downgrade"}, "invalid_amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := s.do(http.MethodPost, "/api/billing/subscription-change", token, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if env.Code != tt.code {
				t.Errorf("code = %q, want %q", env.Code, tt.code)
			}
		})
	}

	rec, env = s.do(http.MethodGet, "/api/audit?action=subscription_upgrade", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d", rec.Code)
	}
	var page struct {
		Total int `json:"total"`
	}
	s.decode(env.Data, &page)
	if page.Total != 1 {
		t.Errorf("audit total = %d, want 1", page.Total)
	}
}

func TestPublicPlayback(t *testing.T) {
	s := newTestServer(t, defaultPlan())
	token := s.signIn("owner@example.com")
	id := s.createCampaign(token, "Hello")
	base := "/api/campaigns/" + id + "/sections"

	s.do(http.MethodPost, base, token, map[string]string{"type": "text_question"})
	rec, env := s.do(http.MethodPost, base, token, map[string]string{"type": "output"})
	var out struct {
		ID string `json:"id"`
	}
	s.decode(env.Data, &out)
	rec, _ = s.do(http.MethodPut, base+"/"+out.ID, token, map[string]any{"configuration": map[string]any{"content": "Hi @new_question"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("configure output status = %d, body %s", rec.Code, rec.Body.String())
	}

	if rec, _ := s.do(http.MethodGet, "/api/public/campaigns/hello", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("draft campaign status = %d, want 404", rec.Code)
	}
	if rec, _ := s.do(http.MethodPost, "/api/campaigns/"+id+"/publish", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("publish status = %d", rec.Code)
	}

	rec, env = s.do(http.MethodGet, "/api/public/campaigns/hello", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public campaign status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec, env = s.do(http.MethodPost, "/api/public/campaigns/hello/sessions", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}
	var sv playback.SessionView
	s.decode(env.Data, &sv)
	if sv.Index != 0 || sv.Total != 2 {
		t.Fatalf("session = %+v", sv)
	}
	session := "/api/public/sessions/" + sv.SessionID

	rec, env = s.do(http.MethodPost, session+"/next", "", map[string]any{"value": "Ada"})
	if rec.Code != http.StatusOK {
		t.Fatalf("next status = %d, body %s", rec.Code, rec.Body.String())
	}
	s.decode(env.Data, &sv)
	if sv.View == nil || sv.View.Body["content"] != "Hi Ada" {
		t.Errorf("output view = %+v", sv.View)
	}

	rec, env = s.do(http.MethodPost, session+"/navigate", "", map[string]any{})
	if rec.Code != http.StatusBadRequest || env.ValidationErrors["index"] == "" {
		t.Errorf("navigate without index = %d %v", rec.Code, env.ValidationErrors)
	}

	rec, env = s.do(http.MethodPost, session+"/previous", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("previous status = %d", rec.Code)
	}
	s.decode(env.Data, &sv)
	if sv.Index != 0 {
		t.Errorf("index after previous = %d, want 0", sv.Index)
	}

	rec, env = s.do(http.MethodGet, "/api/public/sessions/00000000-0000-0000-0000-000000000000", "", nil)
	if rec.Code != http.StatusNotFound || env.Code != "not_found" {
		t.Errorf("unknown session = %d %q", rec.Code, env.Code)
	}
	if rec, _ := s.do(http.MethodGet, "/api/public/shared/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown share status = %d, want 404", rec.Code)
	}
	if rec, _ := s.do(http.MethodGet, "/api/public/transfers/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown transfer status = %d, want 404", rec.Code)
	}
}

func TestAICompletion(t *testing.T) {
	s := newTestServer(t, defaultPlan())

	rec, _ := s.do(http.MethodPost, "/api/ai/completions", "", map[string]any{
		"prompt":          "What is the answer?",
		"variables":       map[string]string{},
		"outputVariables": []map[string]string{{"name": "answer"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ai.CompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Outputs["answer"] != "42" {
		t.Errorf("response = %+v", resp)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/ai/completions", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestAICompletionMultipart(t *testing.T) {
	s := newTestServer(t, defaultPlan())

	body, contentType, err := ai.Encode(&ai.CompletionRequest{
		Prompt:            "Summarise @cv",
		Variables:         map[string]string{"cv": "cv.txt"},
		OutputVariables:   []ai.OutputVariable{{Name: "answer"}},
		HasFileVariables:  true,
		FileVariableNames: []string{"cv"},
		Files:             []ai.FilePart{{Variable: "cv", Filename: "cv.txt", ContentType: "text/plain", Data: []byte("ten years of Go")}},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/ai/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got := s.completer.lastRequest()
	if got == nil {
		t.Fatal("completer was not called")
	}
	if got.Prompt != "Summarise @cv" || !got.HasFileVariables || got.Variables["cv"] != "cv.txt" {
		t.Errorf("parsed fields = %+v", got)
	}
	if len(got.OutputVariables) != 1 || got.OutputVariables[0].Name != "answer" {
		t.Errorf("output variables = %+v", got.OutputVariables)
	}
	if len(got.Files) != 1 || got.Files[0].Variable != "cv" || string(got.Files[0].Data) != "ten years of Go" {
		t.Errorf("files = %+v", got.Files)
	}
}

func TestUploadAnswerMustComeFromStore(t *testing.T) {
	s := newTestServer(t, defaultPlan())
	token := s.signIn("owner@example.com")
	id := s.createCampaign(token, "Files")
	base := "/api/campaigns/" + id + "/sections"

	s.do(http.MethodPost, base, token, map[string]string{"type": "upload"})
	s.do(http.MethodPost, base, token, map[string]string{"type": "output"})
	if rec, _ := s.do(http.MethodPost, "/api/campaigns/"+id+"/publish", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("publish status = %d", rec.Code)
	}

	_, env := s.do(http.MethodPost, "/api/public/campaigns/files/sessions", "", nil)
	var sv playback.SessionView
	s.decode(env.Data, &sv)
	session := "/api/public/sessions/" + sv.SessionID

	rec, env := s.do(http.MethodPost, session+"/next", "", map[string]any{
		"value": []map[string]any{{"name": "creds", "url": "http://169.254.169.254/latest/meta-data/"}},
	})
	if rec.Code != http.StatusBadRequest || env.Code != "invalid_input" {
		t.Fatalf("forged upload = %d %q, want 400 invalid_input", rec.Code, env.Code)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("section_id", sv.View.SectionID)
	part, _ := mw.CreateFormFile("files", "notes.txt")
	part.Write([]byte("my notes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, session+"/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	upload := httptest.NewRecorder()
	s.handler.ServeHTTP(upload, req)
	if upload.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", upload.Code, upload.Body.String())
	}
	var uploaded envelope
	json.Unmarshal(upload.Body.Bytes(), &uploaded)
	var files []map[string]any
	s.decode(uploaded.Data, &files)

	rec, env = s.do(http.MethodPost, session+"/next", "", map[string]any{"value": files})
	if rec.Code != http.StatusOK {
		t.Fatalf("stored upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	s.decode(env.Data, &sv)
	if sv.Index != 1 {
		t.Errorf("index after upload = %d, want 1", sv.Index)
	}
}
