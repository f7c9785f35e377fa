package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campusiq/opsgovernor/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// MockSink is a mock implementation of Sink
type MockSink struct {
	mock.Mock
	mu        sync.Mutex
	published []*models.ActionLog
}

func (m *MockSink) Name() string {
	return "mock"
}

func (m *MockSink) Publish(ctx context.Context, log *models.ActionLog) error {
	args := m.Called(ctx, log)
	m.mu.Lock()
	m.published = append(m.published, log)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockSink) GetPublished() []*models.ActionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.ActionLog(nil), m.published...)
}

func committedLog() *models.ActionLog {
	plan := models.NewPlan("flag students", "", models.Identity{UserID: "u-1", Role: models.RoleFaculty})
	plan.Entity = "student"
	plan.Operation = models.OpUpdate
	log := models.NewActionLog(plan, models.OutcomeCommitted).
		WithRisk(&models.RiskAssessment{Tier: models.RiskLow, AffectedCount: 3})
	log.AffectedCount = 3
	return log
}

func TestNotifier_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	n := NewNotifier(zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})
	require.NoError(t, n.Start())

	stats := n.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, n.Start())
	require.NoError(t, n.Stop(time.Second))
	assert.ErrorIs(t, n.Stop(time.Second), ErrNotStarted)
	assert.False(t, n.GetStats().Started)
}

func TestNotifier_DeliversToEverySink(t *testing.T) {
	defer goleak.VerifyNone(t)

	first, second := new(MockSink), new(MockSink)
	first.On("Publish", mock.Anything, mock.Anything).Return(nil)
	second.On("Publish", mock.Anything, mock.Anything).Return(errors.New("sink down"))

	n := NewNotifier(zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1}, first, second)
	require.NoError(t, n.Start())

	logs := []*models.ActionLog{committedLog(), committedLog(), committedLog()}
	for _, l := range logs {
		require.NoError(t, n.Notify(l))
	}
	require.NoError(t, n.Stop(time.Second))

	assert.Len(t, first.GetPublished(), 3)
	assert.Len(t, second.GetPublished(), 3)
	assert.Equal(t, logs[0].ID, first.GetPublished()[0].ID)
	first.AssertNumberOfCalls(t, "Publish", 3)
}

func TestNotifier_NotRunning(t *testing.T) {
	n := NewNotifier(zap.NewNop(), DefaultConfig())
	assert.ErrorIs(t, n.Notify(committedLog()), ErrNotStarted)

	require.NoError(t, n.Start())
	require.NoError(t, n.Stop(time.Second))
	assert.ErrorIs(t, n.Notify(committedLog()), ErrNotStarted)
}

type blockingSink struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Publish(ctx context.Context, log *models.ActionLog) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}

func TestNotifier_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &blockingSink{release: make(chan struct{}), entered: make(chan struct{})}
	n := NewNotifier(zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1}, sink)
	require.NoError(t, n.Start())

	require.NoError(t, n.Notify(committedLog()))
	<-sink.entered
	require.NoError(t, n.Notify(committedLog()))
	assert.ErrorIs(t, n.Notify(committedLog()), ErrBufferFull)
	assert.Equal(t, int64(1), n.GetStats().Dropped)

	close(sink.release)
	require.NoError(t, n.Stop(time.Second))
}

type panickingSink struct{}

func (panickingSink) Name() string { return "panicking" }

func (panickingSink) Publish(ctx context.Context, log *models.ActionLog) error {
	panic("boom")
}

func TestNotifier_SinkPanicIsContained(t *testing.T) {
	defer goleak.VerifyNone(t)

	ok := new(MockSink)
	ok.On("Publish", mock.Anything, mock.Anything).Return(nil)

	n := NewNotifier(zap.NewNop(), Config{BufferSize: 4, WorkerCount: 1}, panickingSink{}, ok)
	require.NoError(t, n.Start())
	require.NoError(t, n.Notify(committedLog()))
	require.NoError(t, n.Stop(time.Second))

	assert.Len(t, ok.GetPublished(), 1)
	assert.Equal(t, int64(1), n.GetStats().Delivered["mock"])
	assert.Zero(t, n.GetStats().Delivered["panicking"])
}

type fakeRedis struct {
	channel string
	message interface{}
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel, f.message = channel, message
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisSink_Publish(t *testing.T) {
	client := &fakeRedis{}
	sink := NewRedisSink(client, "opsgovernor:actions")
	log := committedLog()
	original := uuid.New()
	log.WithRollbackOf(original)

	require.NoError(t, sink.Publish(context.Background(), log))
	assert.Equal(t, "opsgovernor:actions", client.channel)

	var got models.ActionLogSummary
	require.NoError(t, json.Unmarshal([]byte(client.message.(string)), &got))
	assert.Equal(t, log.ID, got.ID)
	assert.Equal(t, models.OutcomeCommitted, got.Outcome)
	assert.Equal(t, models.RiskLow, got.RiskLevel)
	assert.Equal(t, original, *got.RollsBack)
	assert.NotContains(t, client.message.(string), "before")
}

func TestRedisSink_PublishError(t *testing.T) {
	sink := NewRedisSink(&fakeRedis{err: errors.New("connection refused")}, "ops")
	err := sink.Publish(context.Background(), committedLog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to ops")
}

func TestLogSink_Publish(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Publish(context.Background(), committedLog()))

	entries := recorded.FilterMessage("action recorded").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "COMMITTED", fields["outcome"])
	assert.Equal(t, "LOW", fields["risk_level"])
	assert.Equal(t, int64(3), fields["affected_count"])
	assert.NotContains(t, fields, "rolls_back")
}
