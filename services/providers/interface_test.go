package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// stubProvider is a test implementation of the Provider interface
type stubProvider struct {
	name    string
	content string
}

func (s *stubProvider) Name() string {
	return s.name
}

func (s *stubProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ChatResponse{Model: req.Model, Content: s.content, Provider: s.name, Attempts: 1}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.RegisterProvider(&stubProvider{name: "openrouter"}); err != nil {
		t.Fatalf("RegisterProvider() error = %v", err)
	}
	if err := r.RegisterProvider(&stubProvider{name: "openrouter"}); !errors.Is(err, ErrProviderAlreadyRegistered) {
		t.Errorf("duplicate RegisterProvider() error = %v, want %v", err, ErrProviderAlreadyRegistered)
	}
	if err := r.RegisterProvider(nil); err == nil {
		t.Error("RegisterProvider(nil) expected error")
	}
	if err := r.RegisterProvider(&stubProvider{}); err == nil {
		t.Error("RegisterProvider() with empty name expected error")
	}

	p, err := r.GetProvider("openrouter")
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if p.Name() != "openrouter" {
		t.Errorf("Name() = %s, want openrouter", p.Name())
	}

	if _, err := r.GetProvider("missing"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("GetProvider(missing) error = %v, want %v", err, ErrProviderNotFound)
	}
}

func TestRegistryBuilder_Build(t *testing.T) {
	build := func(cfg ProviderConfig) (Provider, error) {
		return &stubProvider{name: cfg.Name}, nil
	}

	registry, err := NewRegistryBuilder().
		WithProviderBuilder("openrouter", build).
		WithProviderBuilder("gemini", build).
		Build(map[string]ProviderConfig{
			"openrouter": {APIKey: "k1"},
			"gemini":     {APIKey: "k2"},
		})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	got := registry.ListProviders()
	if len(got) != 2 || got[0] != "gemini" || got[1] != "openrouter" {
		t.Errorf("ListProviders() = %v, want [gemini openrouter]", got)
	}

	_, err = NewRegistryBuilder().Build(map[string]ProviderConfig{"anthropic": {}})
	if !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("Build() without builder error = %v, want %v", err, ErrProviderNotFound)
	}

	failing := func(ProviderConfig) (Provider, error) { return nil, errors.New("no key") }
	_, err = NewRegistryBuilder().WithProviderBuilder("gemini", failing).Build(map[string]ProviderConfig{"gemini": {}})
	if err == nil {
		t.Error("Build() with failing builder expected error")
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("upstream reset")

	tests := []struct {
		name      string
		err       error
		retryable bool
		message   string
	}{
		{
			name:      "rate limited",
			err:       NewProviderError("openrouter", "rate_limit", "too many requests", 429, true, nil),
			retryable: true,
			message:   "too many requests",
		},
		{
			name:      "wrapped server error",
			err:       fmt.Errorf("attempt 3: %w", NewProviderError("gemini", "HTTP_ERROR", "request failed", 503, true, cause)),
			retryable: true,
			message:   "attempt 3: request failed: upstream reset",
		},
		{
			name:      "bad request",
			err:       NewProviderError("gemini", "invalid_request", "bad model", 400, false, nil),
			retryable: false,
			message:   "bad model",
		},
		{
			name:      "plain error",
			err:       cause,
			retryable: false,
			message:   "upstream reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if tt.err.Error() != tt.message {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.message)
			}
		})
	}

	wrapped := NewProviderError("gemini", "HTTP_ERROR", "request failed", 0, true, cause)
	if !errors.Is(wrapped, cause) {
		t.Error("ProviderError should unwrap to its cause")
	}
}

func TestDefaultProviderConfig(t *testing.T) {
	cfg := DefaultProviderConfig()

	if cfg.Name != "openrouter" {
		t.Errorf("Name = %s, want openrouter", cfg.Name)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.RetryDelay <= 0 || cfg.Timeout <= 0 {
		t.Errorf("RetryDelay = %v, Timeout = %v, want positive", cfg.RetryDelay, cfg.Timeout)
	}
	if cfg.Headers == nil {
		t.Error("Headers should be initialized")
	}
}
