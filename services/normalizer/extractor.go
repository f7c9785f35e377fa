package normalizer

import (
	"context"

	"github.com/campusiq/opsgovernor/models"
	"go.uber.org/zap"
)

// ExtractRequest is the input to language understanding
type ExtractRequest struct {
	Text   string
	Module string
}

// Extractor turns free text into an unvalidated intent. Implementations are
// untrusted: everything they return is re-validated against the registry.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, req ExtractRequest) (*models.RawIntent, error)
}

// Chain tries the primary extractor and falls back on any error
type Chain struct {
	primary  Extractor
	fallback Extractor
	logger   *zap.Logger
}

// NewChain creates a fallback chain. A nil primary uses the fallback only.
func NewChain(primary, fallback Extractor, logger *zap.Logger) *Chain {
	return &Chain{primary: primary, fallback: fallback, logger: logger}
}

// Name returns the chain's strategy names
func (c *Chain) Name() string {
	if c.primary == nil {
		return c.fallback.Name()
	}
	return c.primary.Name() + "+" + c.fallback.Name()
}

// Extract runs the primary strategy, then the fallback
func (c *Chain) Extract(ctx context.Context, req ExtractRequest) (*models.RawIntent, error) {
	if c.primary != nil {
		raw, err := c.primary.Extract(ctx, req)
		if err == nil {
			return raw, nil
		}
		c.logger.Warn("primary extractor failed, falling back",
			zap.String("extractor", c.primary.Name()),
			zap.String("fallback", c.fallback.Name()),
			zap.Error(err))
	}
	return c.fallback.Extract(ctx, req)
}
