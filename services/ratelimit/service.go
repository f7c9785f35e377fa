package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds the per-identity token bucket settings
type Config struct {
	RequestsPerSecond float64
	Burst             int
	IdleTTL           time.Duration
}

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed         bool
	RetryAfter      time.Duration
	ViolationReason string
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitService keeps one token bucket per caller
type RateLimitService struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*entry
}

// NewRateLimitService creates a new RateLimitService instance
func NewRateLimitService(config Config, logger *zap.Logger) *RateLimitService {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &RateLimitService{
		config:  config,
		logger:  logger,
		now:     time.Now,
		buckets: make(map[string]*entry),
	}
}

// Enabled reports whether any limit is configured
func (s *RateLimitService) Enabled() bool {
	return s.config.RequestsPerSecond > 0
}

// CheckLimit takes one token from the caller's bucket
func (s *RateLimitService) CheckLimit(ctx context.Context, key string) (*RateLimitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}

	now := s.now()
	s.mu.Lock()
	e, ok := s.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.Burst)}
		s.buckets[key] = e
	}
	e.lastSeen = now
	r := e.limiter.ReserveN(now, 1)
	s.mu.Unlock()

	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		s.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Duration("retry_after", delay))
		return &RateLimitResult{
			Allowed:         false,
			RetryAfter:      delay,
			ViolationReason: fmt.Sprintf("exceeded %.2f commands per second (burst %d)", s.config.RequestsPerSecond, s.config.Burst),
		}, nil
	}
	return &RateLimitResult{Allowed: true}, nil
}

// CleanupIdle drops buckets unused for longer than the idle TTL
func (s *RateLimitService) CleanupIdle() int {
	cutoff := s.now().Add(-s.config.IdleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops idle buckets until ctx is done
func (s *RateLimitService) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("idle_ttl", s.config.IdleTTL))

	for {
		select {
		case <-ticker.C:
			if n := s.CleanupIdle(); n > 0 {
				s.logger.Debug("dropped idle rate limit buckets", zap.Int("count", n))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}

// Size returns the number of tracked callers
func (s *RateLimitService) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
