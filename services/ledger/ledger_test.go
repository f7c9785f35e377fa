package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/repositories"
	"github.com/campusiq/opsgovernor/repositories/memory"
	"github.com/campusiq/opsgovernor/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockActionLogRepository is a mock implementation of repositories.ActionLogRepository
type MockActionLogRepository struct {
	mock.Mock
}

func (m *MockActionLogRepository) Insert(ctx context.Context, log *models.ActionLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockActionLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ActionLog, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ActionLog), args.Error(1)
}

func (m *MockActionLogRepository) FindRollbackOf(ctx context.Context, id uuid.UUID) (*models.ActionLog, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ActionLog), args.Error(1)
}

func (m *MockActionLogRepository) Query(ctx context.Context, filter models.ActionLogFilter) ([]*models.ActionLog, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*models.ActionLog), args.Get(1).(int64), args.Error(2)
}

func (m *MockActionLogRepository) Stats(ctx context.Context, filter models.ActionLogFilter) (*models.OpsStats, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OpsStats), args.Error(1)
}

var admin = models.Identity{UserID: "admin-1", Role: models.RoleAdmin}

func committed(op models.OpKind, entity string) *models.ActionLog {
	plan := models.NewPlan("", "academics", admin)
	plan.Operation = op
	plan.Entity = entity
	return models.NewActionLog(plan, models.OutcomeCommitted)
}

func newMemoryLedger(t *testing.T) (*Ledger, *memory.DB) {
	t.Helper()
	registry := schema.Default()
	db := memory.NewDB(registry, zap.NewNop())
	require.NoError(t, db.Seed(context.Background(), "department", models.Row{"name": "Computer Science", "code": "CSE"}))
	return NewLedger(memory.NewActionLogRepository(db), memory.NewRecordStore(db), registry, zap.NewNop()), db
}

func TestLedger_RecordFailureRaisesAlarm(t *testing.T) {
	repo := new(MockActionLogRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	l := NewLedger(repo, nil, schema.Default(), zap.NewNop())

	_, err := l.Record(context.Background(), committed(models.OpUpdate, "student"))
	require.Error(t, err)
	assert.True(t, services.IsLedgerWriteFailure(err))
	assert.Equal(t, int64(1), l.Failures())
	repo.AssertExpectations(t)
}

func TestLedger_DuplicateRollbackIsNotAnAlarm(t *testing.T) {
	repo := new(MockActionLogRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(repositories.ErrDuplicateRollback).Once()
	l := NewLedger(repo, nil, schema.Default(), zap.NewNop())

	_, err := l.Record(context.Background(), committed(models.OpUpdate, "student"))
	assert.True(t, services.IsRollbackFailure(err))
	assert.Zero(t, l.Failures())
}

func TestLedger_RecordStampsStage(t *testing.T) {
	l, _ := newMemoryLedger(t)
	log := committed(models.OpRead, "student")

	got, err := l.Record(context.Background(), log)
	require.NoError(t, err)
	assert.NotNil(t, got.Stages.Recorded)

	loaded, err := l.Get(context.Background(), log.ID)
	require.NoError(t, err)
	assert.Equal(t, log.ID, loaded.ID)

	_, err = l.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, services.ErrActionLogNotFound)
}

func TestLedger_QueryClampsLimit(t *testing.T) {
	repo := new(MockActionLogRepository)
	repo.On("Query", mock.Anything, mock.MatchedBy(func(f models.ActionLogFilter) bool {
		return f.Limit == MaxQueryLimit
	})).Return([]*models.ActionLog{committed(models.OpUpdate, "student")}, int64(1), nil)
	l := NewLedger(repo, nil, schema.Default(), zap.NewNop())

	page, err := l.Query(context.Background(), models.ActionLogFilter{Limit: 10000})
	require.NoError(t, err)
	assert.Equal(t, MaxQueryLimit, page.Limit)
	assert.Len(t, page.Items, 1)

	_, err = l.Query(context.Background(), models.ActionLogFilter{Limit: -1})
	assert.True(t, services.IsValidationError(err))
	repo.AssertExpectations(t)
}

func TestLedger_InverseUpdate(t *testing.T) {
	l, _ := newMemoryLedger(t)
	original := committed(models.OpUpdate, "student")
	original.Plan.Values = map[string]any{"at_risk": true}
	// snapshots decoded from JSON carry float64 numbers
	original.Before = []models.Row{
		{"id": float64(1), "roll_number": "CSE001", "cgpa": 6.9, "at_risk": false},
		{"id": float64(4), "roll_number": "CSE004", "cgpa": 6.1, "at_risk": nil},
	}

	inverse, err := l.Inverse(context.Background(), original, admin)
	require.NoError(t, err)
	assert.Equal(t, models.OpUpdate, inverse.Operation)
	assert.Equal(t, "student", inverse.Entity)
	assert.Equal(t, []models.Row{
		{"id": int64(1), "at_risk": false},
		{"id": int64(4), "at_risk": nil},
	}, inverse.Restore)
	require.Len(t, inverse.Filters, 1)
	assert.Equal(t, []any{int64(1), int64(4)}, inverse.Filters[0].Value)
}

func TestLedger_InverseDeleteAndCreate(t *testing.T) {
	l, db := newMemoryLedger(t)
	ctx := context.Background()

	deleted := committed(models.OpDelete, "course")
	deleted.Before = []models.Row{{"id": int64(9), "code": "CS101", "name": "Intro", "department_id": int64(1), "semester": int64(1)}}
	inverse, err := l.Inverse(ctx, deleted, admin)
	require.NoError(t, err)
	assert.Equal(t, models.OpCreate, inverse.Operation)
	assert.Equal(t, deleted.Before, inverse.Restore)
	assert.Empty(t, inverse.Filters)

	created := committed(models.OpCreate, "department")
	created.After = []models.Row{{"id": int64(1), "name": "Computer Science", "code": "CSE"}}
	inverse, err = l.Inverse(ctx, created, admin)
	require.NoError(t, err)
	assert.Equal(t, models.OpDelete, inverse.Operation)

	require.NoError(t, db.Seed(ctx, "student", models.Row{"roll_number": "CSE001", "department_id": int64(1), "semester": int64(1)}))
	_, err = l.Inverse(ctx, created, admin)
	assert.True(t, services.IsRollbackFailure(err))
}

func TestLedger_InverseEligibility(t *testing.T) {
	l, _ := newMemoryLedger(t)
	ctx := context.Background()

	denied := committed(models.OpUpdate, "student")
	denied.Outcome = models.OutcomeDenied

	read := committed(models.OpRead, "student")

	original := committed(models.OpUpdate, "student")
	original.Before = []models.Row{{"id": int64(1)}}
	rollback := models.NewActionLog(models.NewPlan("", "", admin), models.OutcomeRolledBack).WithRollbackOf(original.ID)
	_, err := l.Record(ctx, rollback)
	require.NoError(t, err)

	tests := map[string]*models.ActionLog{
		"not committed":          denied,
		"not a mutation":         read,
		"already rolled back":    original,
		"rollback of a rollback": rollback,
	}
	for name, log := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := l.Inverse(ctx, log, admin)
			require.Error(t, err)
			assert.True(t, services.IsRollbackFailure(err))
		})
	}
}
