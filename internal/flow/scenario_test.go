package flow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/foxzi/flint/internal/ai"
	"github.com/foxzi/flint/internal/kv"
	"github.com/foxzi/flint/internal/web/models"
)

func TestGreetingCampaign(t *testing.T) {
	ctx := context.Background()
	sections := []models.Section{
		section("q", models.SectionTextQuestion, "What's your name?", `{}`),
		section("l", models.SectionLogic, "", greetConfig),
		section("o", models.SectionOutput, "", `{"content":"Result: @greeting"}`),
	}

	reg := NewRegistry()
	cache := NewKVResultsCache(kv.NewMemoryStore(), time.Hour)
	scope := Scope{CampaignID: "camp-1", SessionID: "visit-1"}
	completer := &fakeCompleter{resp: &ai.CompletionResponse{Success: true, Outputs: map[string]string{"greeting": "Hello Ada!"}}}
	ctrl := NewController(sections, &State{})

	value, err := reg.Accept(sections[0], RenderContext{}, json.RawMessage(`"Ada"`))
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if err := ctrl.Next(value); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	cur, _ := ctrl.Current()
	runner, err := NewLogicRunner(cur, LogicOptions{
		Completer:  completer,
		Cache:      cache,
		Scope:      scope,
		OnComplete: func(LogicOutcome) { ctrl.Next(nil) },
	})
	if err != nil {
		t.Fatalf("NewLogicRunner() error = %v", err)
	}
	runner.Run(ctx, BuildVars(sections, ctrl.State().Responses))

	if got := completer.last.Variables["whats_your_name"]; got != "Ada" {
		t.Fatalf("logic saw whats_your_name = %q", got)
	}

	cur, ok := ctrl.Current()
	if !ok || cur.ID != "o" {
		t.Fatalf("current section = %v, want output", cur.ID)
	}

	outputs, _ := cache.Load(ctx, scope)
	view, err := reg.Render(cur, RenderContext{Vars: MergeVars(BuildVars(sections, ctrl.State().Responses), outputs)})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if view.Body["content"] != "Result: Hello Ada!" {
		t.Errorf("output content = %q, want %q", view.Body["content"], "Result: Hello Ada!")
	}
}
