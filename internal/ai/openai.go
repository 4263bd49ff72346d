package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider talks to any OpenAI compatible chat completions API.
type OpenAIProvider struct {
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewOpenAIProvider(baseURL, apiKey, model string, httpClient *http.Client) *OpenAIProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIProvider{
		url:        buildChatURL(baseURL),
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
	}
}

func buildChatURL(baseURL string) string {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: userContent(req)},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return "", NewTransientError(fmt.Errorf("read response body: %w", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", classifyStatus(httpResp.StatusCode, respBody)
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", NewFatalError(fmt.Errorf("parse openai response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", NewFatalError(fmt.Errorf("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}

// userContent is the plain prompt, or a list of content parts when files
// are attached. Images go inline as data URLs, text files as text and
// everything else as file parts.
func userContent(req GenerateRequest) any {
	if len(req.Files) == 0 {
		return req.Prompt
	}

	parts := []map[string]any{{"type": "text", "text": req.Prompt}}
	for _, f := range req.Files {
		dataURL := "data:" + f.ContentType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
		switch {
		case strings.HasPrefix(f.ContentType, "image/"):
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]string{"url": dataURL},
			})
		case strings.HasPrefix(f.ContentType, "text/"):
			parts = append(parts, map[string]any{
				"type": "text",
				"text": fmt.Sprintf("File %s (@%s):\n%s", f.Filename, f.Variable, f.Data),
			})
		default:
			parts = append(parts, map[string]any{
				"type": "file",
				"file": map[string]string{"filename": f.Filename, "file_data": dataURL},
			})
		}
	}
	return parts
}
