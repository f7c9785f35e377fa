// Package openai talks to OpenAI-compatible chat completion endpoints.
// OpenRouter and Gemini's compatibility layer both speak this dialect.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/campusiq/opsgovernor/services/providers"
)

const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	GeminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai"

	maxResponseBytes = 1 << 20
)

// Adapter implements providers.Provider for OpenAI-compatible APIs
type Adapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewAdapter creates a new adapter. OpenRouter gets its attribution headers
// unless the config overrides them.
func NewAdapter(config providers.ProviderConfig) *Adapter {
	if config.Name == "" {
		config.Name = "openrouter"
	}
	if config.BaseURL == "" {
		config.BaseURL = OpenRouterBaseURL
		if config.Name == "gemini" {
			config.BaseURL = GeminiBaseURL
		}
	}
	if config.Timeout == 0 {
		config.Timeout = 20 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 2 * time.Second
	}

	headers := make(map[string]string, len(config.Headers)+2)
	if config.Name == "openrouter" {
		headers["HTTP-Referer"] = "https://campusiq.edu"
		headers["X-Title"] = "CampusIQ"
	}
	for k, v := range config.Headers {
		headers[k] = v
	}
	config.Headers = headers

	return &Adapter{
		config:     config,
		httpClient: &http.Client{},
		sleep:      sleepContext,
	}
}

// Builder adapts NewAdapter to providers.ProviderBuilder
func Builder(config providers.ProviderConfig) (providers.Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("provider %s: API key is required", config.Name)
	}
	return NewAdapter(config), nil
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return a.config.Name
}

// ChatCompletion performs a chat completion request. Rate limits, server
// errors and per-attempt timeouts are retried with exponential backoff.
func (a *Adapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	startTime := time.Now()

	body, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := a.sleep(ctx, a.config.RetryDelay*time.Duration(1<<(attempt-1))); err != nil {
				return nil, providers.NewProviderError(a.Name(), "CANCELED", "request canceled", 0, false, err)
			}
		}

		resp, err := a.attempt(ctx, body)
		if err == nil {
			resp.Attempts = attempt + 1
			resp.Latency = time.Since(startTime)
			return resp, nil
		}
		lastErr = err
		if !providers.IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (a *Adapter) attempt(ctx context.Context, body []byte) (*providers.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "failed to create request", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "READ_ERROR", "failed to read response", httpResp.StatusCode, true, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "failed to unmarshal response", httpResp.StatusCode, false, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "response has no choices", httpResp.StatusCode, false, nil)
	}

	// Some free models put their output in the reasoning field.
	msg := parsed.Choices[0].Message
	content := msg.Content
	if content == "" {
		content = msg.Reasoning
	}

	return &providers.ChatResponse{
		ID:       parsed.ID,
		Model:    parsed.Model,
		Content:  content,
		Provider: a.Name(),
		Usage: providers.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func (a *Adapter) buildRequest(req *providers.ChatRequest) *chatRequest {
	out := &chatRequest{
		Model:    req.Model,
		Messages: make([]message, len(req.Messages)),
	}
	if out.Model == "" {
		out.Model = a.config.Model
	}
	for i, msg := range req.Messages {
		out.Messages[i] = message{Role: msg.Role, Content: msg.Content}
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		out.Temperature = &req.Temperature
	}
	if req.JSONMode {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return out
}

func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", fmt.Sprintf("status %d", statusCode), statusCode, retryable, nil)
	}

	code := errResp.Error.Type
	if code == "" && errResp.Error.Code != nil {
		code = fmt.Sprint(errResp.Error.Code)
	}
	return providers.NewProviderError(
		a.Name(),
		code,
		errResp.Error.Message,
		statusCode,
		retryable,
		errors.New(errResp.Error.Message),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
}

type chatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}
