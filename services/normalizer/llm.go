package normalizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/campusiq/opsgovernor/internal/prompt"
	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/services/providers"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

var (
	// ErrNoJSONObject is returned when the reply carries no {...} block
	ErrNoJSONObject = errors.New("reply contains no JSON object")

	// ErrInjectionSuspected is returned when the text is not sent to the model
	ErrInjectionSuspected = errors.New("text looks like a prompt injection attempt")
)

// LLMConfig tunes the generative extractor
type LLMConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// LLMExtractor asks a chat completion provider for a structured intent
type LLMExtractor struct {
	provider providers.Provider
	registry *schema.Registry
	config   LLMConfig
	logger   *zap.Logger

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// NewLLMExtractor creates a generative extractor
func NewLLMExtractor(provider providers.Provider, registry *schema.Registry, config LLMConfig, logger *zap.Logger) *LLMExtractor {
	if config.Timeout == 0 {
		config.Timeout = 20 * time.Second
	}
	return &LLMExtractor{
		provider: provider,
		registry: registry,
		config:   config,
		logger:   logger,
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Name returns the strategy name
func (e *LLMExtractor) Name() string {
	return "llm"
}

// Extract calls the provider in JSON mode and validates the reply against
// the intent schema of the module hint.
func (e *LLMExtractor) Extract(ctx context.Context, req ExtractRequest) (*models.RawIntent, error) {
	if prompt.IsInjectionAttempt(req.Text) {
		return nil, ErrInjectionSuspected
	}

	validator, err := e.schemaFor(req.Module)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	resp, err := e.provider.ChatCompletion(ctx, &providers.ChatRequest{
		Model: e.config.Model,
		Messages: []providers.Message{
			{Role: "system", Content: e.systemPrompt(req.Module)},
			{Role: "user", Content: req.Text},
		},
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
		JSONMode:    true,
		Metadata:    map[string]string{"module": req.Module},
	})
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", e.provider.Name(), err)
	}

	block, err := firstJSONObject(resp.Content)
	if err != nil {
		return nil, err
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(block))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if err := validator.Validate(doc); err != nil {
		return nil, fmt.Errorf("reply violates intent schema: %w", err)
	}

	var raw models.RawIntent
	dec = json.NewDecoder(bytes.NewReader(block))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}
	raw.Source = e.Name()

	e.logger.Debug("llm intent extracted",
		zap.String("provider", resp.Provider),
		zap.String("entity", raw.Entity),
		zap.String("operation", raw.Operation),
		zap.Float64("confidence", raw.Confidence),
		zap.Int("attempts", resp.Attempts),
		zap.Duration("latency", resp.Latency))
	return &raw, nil
}

func (e *LLMExtractor) schemaFor(hint string) (*jsonschema.Schema, error) {
	key := strings.ToLower(strings.TrimSpace(hint))

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.schemas[key]; ok {
		return s, nil
	}

	doc, err := e.registry.IntentSchema(key)
	if err != nil {
		return nil, fmt.Errorf("build intent schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://opsgovernor.local/schemas/intent-%s.json", key)
	if err := c.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("intent schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("intent schema compile failed: %w", err)
	}
	e.schemas[key] = compiled
	return compiled, nil
}

func (e *LLMExtractor) systemPrompt(hint string) string {
	var b strings.Builder
	b.WriteString("You convert campus administration commands into one JSON object.\n")
	b.WriteString("Keys: entity, operation (READ|CREATE|UPDATE|DELETE|ANALYZE), filters (list of {field, op, value}), values (object of field assignments), confidence (0 to 1), question (when unsure).\n")
	b.WriteString("Operators: eq ne lt lte gt gte in contains. Dates are YYYY-MM-DD. Numbers are JSON numbers.\n")
	b.WriteString("Never guess a number the user did not state. Lower the confidence and ask a question instead.\n")
	b.WriteString("Entities and their fields:\n")
	for _, v := range e.registry.Vocabulary(hint) {
		fmt.Fprintf(&b, "- %s: %s\n", v.Entity, strings.Join(v.Fields, ", "))
	}
	b.WriteString("Return only the JSON object.")
	return b.String()
}

// firstJSONObject returns the first balanced {...} block, ignoring braces
// inside string literals.
func firstJSONObject(s string) ([]byte, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, ErrNoJSONObject
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(s[start : i+1]), nil
			}
		}
	}
	return nil, ErrNoJSONObject
}
