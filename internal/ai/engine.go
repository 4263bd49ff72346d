package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/foxzi/flint/internal/vars"
)

// Engine answers completion requests with a local provider.
type Engine struct {
	provider    Provider
	retryConfig RetryConfig
	logger      *slog.Logger
}

func NewEngine(provider Provider, retryConfig RetryConfig, logger *slog.Logger) *Engine {
	return &Engine{
		provider:    provider,
		retryConfig: retryConfig,
		logger:      logger.With("component", "ai", "provider", provider.Name()),
	}
}

// Complete interpolates the prompt, asks the provider for a JSON object with
// the declared output keys and returns those keys as strings. Keys the model
// left out are missing from Outputs; extra keys are dropped.
func (e *Engine) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if len(req.OutputVariables) == 0 {
		return nil, ErrNoOutputs
	}

	v := make(vars.Vars, len(req.Variables))
	for k, val := range req.Variables {
		v[k] = val
	}

	gen := GenerateRequest{
		System: systemInstruction(req.OutputVariables),
		Prompt: userPrompt(vars.Interpolate(req.Prompt, v), req),
		Files:  req.Files,
	}

	var reply string
	err := retry(ctx, e.retryConfig, e.logger, func() error {
		var err error
		reply, err = e.provider.Generate(ctx, gen)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s failed: %w", e.provider.Name(), err)
	}

	outputs, err := parseOutputs(reply, req.OutputVariables)
	if err != nil {
		e.logger.Warn("unusable model reply", "error", err, "reply_length", len(reply))
		return nil, err
	}

	e.logger.Debug("completion finished", "outputs", len(outputs), "files", len(req.Files))
	return &CompletionResponse{Success: true, Outputs: outputs}, nil
}

func systemInstruction(outputs []OutputVariable) string {
	var b strings.Builder
	b.WriteString("You compute personalised results for a visitor who answered a short questionnaire.\n")
	b.WriteString("Reply with a single JSON object and nothing else. Use exactly these keys, each with a string value:\n")
	for _, o := range outputs {
		b.WriteString("- ")
		b.WriteString(o.Name)
		if o.Description != "" {
			b.WriteString(": ")
			b.WriteString(o.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func userPrompt(prompt string, req *CompletionRequest) string {
	if req.KnowledgeBaseContext == "" && len(req.KnowledgeBaseFiles) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	if req.KnowledgeBaseContext != "" {
		b.WriteString("\n\nReference material:\n")
		b.WriteString(req.KnowledgeBaseContext)
	}
	if len(req.KnowledgeBaseFiles) > 0 {
		b.WriteString("\n\nReference documents:\n")
		for _, f := range req.KnowledgeBaseFiles {
			fmt.Fprintf(&b, "- %s (%s)\n", f.Name, f.URL)
		}
	}
	return b.String()
}

func parseOutputs(reply string, declared []OutputVariable) (map[string]string, error) {
	raw := ExtractJSON(reply)
	if raw == "" {
		return nil, ErrNoJSON
	}

	var values map[string]any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode model reply: %w", err)
	}

	outputs := make(map[string]string, len(declared))
	for _, o := range declared {
		if val, ok := values[o.Name]; ok && val != nil {
			outputs[o.Name] = vars.FormatValue(val)
		}
	}
	return outputs, nil
}
