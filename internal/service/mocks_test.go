package service_test

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"pdf-pipeline-server/internal/model"
)

type MockFileRepository struct {
	mock.Mock
}

func (m *MockFileRepository) Create(ctx context.Context, exec sqlx.ExtContext, file *model.File) error {
	args := m.Called(ctx, exec, file)
	return args.Error(0)
}

func (m *MockFileRepository) GetByUUID(ctx context.Context, exec sqlx.ExtContext, fileUUID string) (*model.File, error) {
	args := m.Called(ctx, exec, fileUUID)
	if f, ok := args.Get(0).(*model.File); ok {
		return f, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockFileRepository) UpdateValidationInfo(ctx context.Context, exec sqlx.ExtContext, file *model.File) error {
	args := m.Called(ctx, exec, file)
	return args.Error(0)
}

func (m *MockFileRepository) Transition(ctx context.Context, fileUUID string, to model.FileState, actorID string, actorKind model.ActorKind, metadata model.Metadata) error {
	args := m.Called(ctx, fileUUID, to, actorID, actorKind, metadata)
	return args.Error(0)
}

func (m *MockFileRepository) History(ctx context.Context, exec sqlx.ExtContext, fileUUID string) ([]model.FileStateLog, error) {
	args := m.Called(ctx, exec, fileUUID)
	if l, ok := args.Get(0).([]model.FileStateLog); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockFileRepository) StorageUsed(ctx context.Context, exec sqlx.ExtContext, ownerUUID string) (int64, error) {
	args := m.Called(ctx, exec, ownerUUID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFileRepository) ListByOwner(ctx context.Context, exec sqlx.ExtContext, ownerUUID string) ([]model.File, error) {
	args := m.Called(ctx, exec, ownerUUID)
	if f, ok := args.Get(0).([]model.File); ok {
		return f, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockFileRepository) ListExpired(ctx context.Context, exec sqlx.ExtContext, now time.Time, limit int) ([]model.File, error) {
	args := m.Called(ctx, exec, now, limit)
	if f, ok := args.Get(0).([]model.File); ok {
		return f, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockFileRepository) ListGuestAged(ctx context.Context, exec sqlx.ExtContext, cutoff time.Time, limit int) ([]model.File, error) {
	args := m.Called(ctx, exec, cutoff, limit)
	if f, ok := args.Get(0).([]model.File); ok {
		return f, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockFileRepository) HardDeleteByOwner(ctx context.Context, exec sqlx.ExtContext, ownerUUID string) (int64, error) {
	args := m.Called(ctx, exec, ownerUUID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFileRepository) BeginTX(ctx context.Context) (sqlx.ExtContext, func() error, func() error, error) {
	args := m.Called(ctx)
	rollback := func() error { return nil }
	commit := func() error { return nil }
	return nil, rollback, commit, args.Error(3)
}

type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) Create(ctx context.Context, exec sqlx.ExtContext, job *model.Job) error {
	args := m.Called(ctx, exec, job)
	return args.Error(0)
}

func (m *MockJobRepository) GetByUUID(ctx context.Context, exec sqlx.ExtContext, jobUUID string) (*model.Job, error) {
	args := m.Called(ctx, exec, jobUUID)
	if j, ok := args.Get(0).(*model.Job); ok {
		return j, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobRepository) TransitionStatus(ctx context.Context, exec sqlx.ExtContext, jobUUID string, from, to model.JobStatus) (bool, error) {
	args := m.Called(ctx, exec, jobUUID, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) MarkProcessing(ctx context.Context, exec sqlx.ExtContext, jobUUID string, startedAt time.Time) (bool, error) {
	args := m.Called(ctx, exec, jobUUID, startedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) MarkCompleted(ctx context.Context, exec sqlx.ExtContext, jobUUID string, result model.Metadata, completedAt time.Time) (bool, error) {
	args := m.Called(ctx, exec, jobUUID, result, completedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) MarkFailed(ctx context.Context, exec sqlx.ExtContext, jobUUID string, errorCode, errorMessage string, retryCount int, nextRetryAt *time.Time) error {
	args := m.Called(ctx, exec, jobUUID, errorCode, errorMessage, retryCount, nextRetryAt)
	return args.Error(0)
}

func (m *MockJobRepository) MarkDeadLetter(ctx context.Context, exec sqlx.ExtContext, jobUUID string) error {
	args := m.Called(ctx, exec, jobUUID)
	return args.Error(0)
}

func (m *MockJobRepository) UpdateProgress(ctx context.Context, exec sqlx.ExtContext, jobUUID string, percent int, message string) error {
	args := m.Called(ctx, exec, jobUUID, percent, message)
	return args.Error(0)
}

func (m *MockJobRepository) ResetProgress(ctx context.Context, exec sqlx.ExtContext, jobUUID string) error {
	args := m.Called(ctx, exec, jobUUID)
	return args.Error(0)
}

func (m *MockJobRepository) CountActiveByPrincipal(ctx context.Context, exec sqlx.ExtContext, principal string) (int, error) {
	args := m.Called(ctx, exec, principal)
	return args.Int(0), args.Error(1)
}

func (m *MockJobRepository) CountActiveByFile(ctx context.Context, exec sqlx.ExtContext, fileUUID string) (int, error) {
	args := m.Called(ctx, exec, fileUUID)
	return args.Int(0), args.Error(1)
}

func (m *MockJobRepository) ListDeadLetter(ctx context.Context, exec sqlx.ExtContext, limit int) ([]model.Job, error) {
	args := m.Called(ctx, exec, limit)
	if j, ok := args.Get(0).([]model.Job); ok {
		return j, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobRepository) ListByUser(ctx context.Context, exec sqlx.ExtContext, userUUID string, limit int) ([]model.Job, error) {
	args := m.Called(ctx, exec, userUUID, limit)
	if j, ok := args.Get(0).([]model.Job); ok {
		return j, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobRepository) CountByQueue(ctx context.Context, exec sqlx.ExtContext) (map[string]int, error) {
	args := m.Called(ctx, exec)
	if c, ok := args.Get(0).(map[string]int); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobRepository) RequeueDeadLetter(ctx context.Context, exec sqlx.ExtContext, jobUUID string) (bool, error) {
	args := m.Called(ctx, exec, jobUUID)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) PruneTerminal(ctx context.Context, exec sqlx.ExtContext, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, exec, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockJobRepository) DeleteByOwner(ctx context.Context, exec sqlx.ExtContext, userUUID string) (int64, error) {
	args := m.Called(ctx, exec, userUUID)
	return args.Get(0).(int64), args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) FindByUUID(ctx context.Context, exec sqlx.ExtContext, uuid string) (*model.User, error) {
	args := m.Called(ctx, exec, uuid)
	if u, ok := args.Get(0).(*model.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) Anonymize(ctx context.Context, exec sqlx.ExtContext, uuid string) error {
	args := m.Called(ctx, exec, uuid)
	return args.Error(0)
}

type MockQuotaRepository struct {
	mock.Mock
}

func (m *MockQuotaRepository) Reserve(ctx context.Context, principal string, bytes, usedBytes, limitBytes int64) (string, error) {
	args := m.Called(ctx, principal, bytes, usedBytes, limitBytes)
	return args.String(0), args.Error(1)
}

func (m *MockQuotaRepository) Commit(ctx context.Context, principal, reservationID string) error {
	args := m.Called(ctx, principal, reservationID)
	return args.Error(0)
}

func (m *MockQuotaRepository) Release(ctx context.Context, principal, reservationID string) error {
	args := m.Called(ctx, principal, reservationID)
	return args.Error(0)
}

func (m *MockQuotaRepository) ReservedTotal(ctx context.Context, principal string) (int64, error) {
	args := m.Called(ctx, principal)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuotaRepository) IncrDailyJobs(ctx context.Context, principal string, day time.Time) (int64, error) {
	args := m.Called(ctx, principal, day)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuotaRepository) GetDailyJobs(ctx context.Context, principal string, day time.Time) (int64, error) {
	args := m.Called(ctx, principal, day)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuotaRepository) ResetDailyCounters(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Enqueue(ctx context.Context, queue, jobUUID string, priority int, createdAt time.Time) error {
	args := m.Called(ctx, queue, jobUUID, priority, createdAt)
	return args.Error(0)
}

func (m *MockJobQueue) Dequeue(ctx context.Context, pollTimeout time.Duration) (string, error) {
	args := m.Called(ctx, pollTimeout)
	return args.String(0), args.Error(1)
}

func (m *MockJobQueue) Remove(ctx context.Context, queue, jobUUID string) (bool, error) {
	args := m.Called(ctx, queue, jobUUID)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobQueue) ScheduleRetry(ctx context.Context, queue, jobUUID string, priority int, readyAt time.Time) error {
	args := m.Called(ctx, queue, jobUUID, priority, readyAt)
	return args.Error(0)
}

func (m *MockJobQueue) CancelRetry(ctx context.Context, queue, jobUUID string, priority int) (bool, error) {
	args := m.Called(ctx, queue, jobUUID, priority)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *MockJobQueue) Stats(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if s, ok := args.Get(0).(map[string]int64); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) Log(ctx context.Context, action model.AuditAction, userUUID *string, resourceType, resourceID string, metadata model.Metadata, reqCtx *model.RequestContext) error {
	args := m.Called(ctx, action, userUUID, resourceType, resourceID, metadata, reqCtx)
	return args.Error(0)
}
