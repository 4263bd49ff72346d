package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxResponseSize = 10 * 1024 * 1024

// Client calls a remote completion endpoint.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete posts req to the endpoint. A response with success=false is
// returned together with an error wrapping ErrCompletionFalse.
func (c *Client) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	body, contentType, err := Encode(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion request: %w", err)
	}

	var resp *CompletionResponse
	err = retry(ctx, c.retryConfig, c.logger, func() error {
		var err error
		resp, err = c.doRequest(ctx, body, contentType)
		return err
	})
	if err != nil {
		return resp, err
	}

	if !resp.Success {
		return resp, fmt.Errorf("%w: %s", ErrCompletionFalse, resp.Error)
	}
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte, contentType string) (*CompletionResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		classified := classifyStatus(httpResp.StatusCode, respBody)
		if resp, err := decodeResponse(respBody); err == nil && resp.Error != "" {
			return resp, classified
		}
		return nil, classified
	}

	resp, err := decodeResponse(respBody)
	if err != nil {
		return nil, NewFatalError(err)
	}
	return resp, nil
}
