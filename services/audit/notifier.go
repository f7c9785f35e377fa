// Package audit fans committed ledger entries out to asynchronous sinks. The
// ledger itself is written synchronously by services/ledger; nothing here can
// affect the outcome of a command.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/campusiq/opsgovernor/models"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned by Notify before Start or after Stop
	ErrNotStarted = errors.New("notifier not running")

	// ErrBufferFull is returned when an event is dropped
	ErrBufferFull = errors.New("notification buffer full")
)

// Sink receives ActionLogs after they are committed
type Sink interface {
	Name() string
	Publish(ctx context.Context, log *models.ActionLog) error
}

// Config holds configuration for the Notifier
type Config struct {
	BufferSize     int
	WorkerCount    int
	PublishTimeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:     1000,
		WorkerCount:    2,
		PublishTimeout: 5 * time.Second,
	}
}

// Notifier is a bounded worker pool delivering ActionLogs to every sink
type Notifier struct {
	sinks  []Sink
	logger *zap.Logger
	config Config
	events chan *models.ActionLog
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	delivered sync.Map // sink name -> *counter
	dropped   counter
}

type counter struct {
	mu sync.Mutex
	n  int64
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// NewNotifier creates a notifier for sinks
func NewNotifier(logger *zap.Logger, config Config, sinks ...Sink) *Notifier {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Notifier{
		sinks:  sinks,
		logger: logger,
		config: config,
		events: make(chan *models.ActionLog, config.BufferSize),
	}
}

// Start starts the background workers
func (n *Notifier) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return fmt.Errorf("notifier already started")
	}
	for i := 0; i < n.config.WorkerCount; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}
	n.started = true
	n.logger.Info("started notifier",
		zap.Int("worker_count", n.config.WorkerCount),
		zap.Int("buffer_size", n.config.BufferSize),
		zap.Int("sinks", len(n.sinks)))
	return nil
}

// Stop drains the buffer and waits for the workers, giving up at timeout
func (n *Notifier) Stop(timeout time.Duration) error {
	n.mu.Lock()
	if !n.started || n.stopped {
		n.mu.Unlock()
		return ErrNotStarted
	}
	n.stopped = true
	close(n.events)
	n.mu.Unlock()

	n.logger.Info("stopping notifier", zap.Int("pending_events", len(n.events)))

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		n.logger.Info("notifier stopped gracefully")
		return nil
	case <-timer.C:
		return fmt.Errorf("notifier stop timeout after %v", timeout)
	}
}

// Notify queues log without blocking; a full buffer drops the event
func (n *Notifier) Notify(log *models.ActionLog) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.started || n.stopped {
		return ErrNotStarted
	}
	select {
	case n.events <- log:
		return nil
	default:
		n.dropped.inc()
		n.logger.Warn("notification buffer full, dropping event",
			zap.String("action_log_id", log.ID.String()),
			zap.String("outcome", string(log.Outcome)))
		return ErrBufferFull
	}
}

func (n *Notifier) worker(id int) {
	defer n.wg.Done()

	for log := range n.events {
		for _, sink := range n.sinks {
			if err := n.publish(sink, log); err != nil {
				n.logger.Error("failed to publish action log",
					zap.Int("worker_id", id),
					zap.String("sink", sink.Name()),
					zap.String("action_log_id", log.ID.String()),
					zap.Error(err))
				continue
			}
			c, _ := n.delivered.LoadOrStore(sink.Name(), &counter{})
			c.(*counter).inc()
		}
	}
}

func (n *Notifier) publish(sink Sink, log *models.ActionLog) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.config.PublishTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", sink.Name(), r)
		}
	}()
	return sink.Publish(ctx, log)
}

// Stats represents notifier statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
	Dropped       int64
	Delivered     map[string]int64
}

// GetStats returns a snapshot of the notifier's counters
func (n *Notifier) GetStats() Stats {
	n.mu.Lock()
	running := n.started && !n.stopped
	n.mu.Unlock()

	delivered := make(map[string]int64)
	n.delivered.Range(func(k, v any) bool {
		delivered[k.(string)] = v.(*counter).get()
		return true
	})
	return Stats{
		BufferSize:    n.config.BufferSize,
		PendingEvents: len(n.events),
		WorkerCount:   n.config.WorkerCount,
		Started:       running,
		Dropped:       n.dropped.get(),
		Delivered:     delivered,
	}
}
