// Package ai turns a logic section prompt into named output variables,
// either through a remote completion endpoint or a local LLM provider.
package ai

import "context"

// OutputVariable is a value the model is asked to produce.
type OutputVariable struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// KnowledgeBaseFile is reference material attached to a logic section.
type KnowledgeBaseFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// FilePart is an uploaded file sent along with a request. On the wire
// each part is named file_<Variable>.
type FilePart struct {
	Variable    string
	Filename    string
	ContentType string
	Data        []byte
}

// CompletionRequest is the body accepted by the completion endpoint.
// Prompt still carries its @tokens; Variables holds their text values.
type CompletionRequest struct {
	Prompt               string              `json:"prompt"`
	Variables            map[string]string   `json:"variables"`
	OutputVariables      []OutputVariable    `json:"outputVariables"`
	HasFileVariables     bool                `json:"hasFileVariables"`
	FileVariableNames    []string            `json:"fileVariableNames,omitempty"`
	KnowledgeBaseContext string              `json:"knowledgeBaseContext,omitempty"`
	KnowledgeBaseFiles   []KnowledgeBaseFile `json:"knowledgeBaseFiles,omitempty"`

	Files []FilePart `json:"-"`
}

// CompletionResponse is returned by the completion endpoint.
type CompletionResponse struct {
	Success bool              `json:"success"`
	Outputs map[string]string `json:"outputs,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Completer produces outputs for a completion request.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// GenerateRequest is what the engine hands to a provider.
type GenerateRequest struct {
	System string
	Prompt string
	Files  []FilePart
}

// Provider is an LLM backend returning raw text.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
