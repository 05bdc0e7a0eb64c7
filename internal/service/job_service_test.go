package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
	srv "pdf-pipeline-server/internal/service"
)

type jobFixture struct {
	db        *config.Database
	jobRepo   *MockJobRepository
	fileRepo  *MockFileRepository
	quotaRepo *MockQuotaRepository
	queue     *MockJobQueue
	audit     *MockAuditService
	service   *srv.JobService
}

func newJobFixture() *jobFixture {
	f := &jobFixture{
		db:        &config.Database{},
		jobRepo:   new(MockJobRepository),
		fileRepo:  new(MockFileRepository),
		quotaRepo: new(MockQuotaRepository),
		queue:     new(MockJobQueue),
		audit:     new(MockAuditService),
	}
	quota := srv.NewQuotaService(f.db, f.quotaRepo, f.jobRepo)
	tools := srv.NewToolRegistry(srv.BuiltinTools())
	f.service = srv.NewJobService(f.db, f.jobRepo, f.fileRepo, tools, quota, f.queue, f.audit)
	return f
}

func premiumContext() *model.UserContext {
	return &model.UserContext{
		UserUUID:          "user-123",
		Tier:              model.TierPremium,
		StorageLimitBytes: 10 << 30,
		DailyJobLimit:     200,
		MonthlyAIOpLimit:  100,
		MaxConcurrentJobs: 5,
		MaxFileSizeBytes:  200 << 20,
		Priority:          10,
		Queue:             model.QueueHighPriority,
		CanUpload:         true,
		CanProcess:        true,
		CanUsePremium:     true,
		CanUseAI:          true,
	}
}

func pdfFile() *model.File {
	owner := "user-123"
	return &model.File{
		UUID:             "file-1",
		OwnerUUID:        &owner,
		FilenameOriginal: "doc.pdf",
		SizeBytes:        1 << 20,
		MimeType:         "application/pdf",
		PageCount:        10,
		State:            model.StateMetadataRegistered,
	}
}

func TestJobService_Create(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		uc          *model.UserContext
		toolID      string
		params      model.Metadata
		setupMocks  func(f *jobFixture)
		expectError func(t *testing.T, err error)
	}{
		{
			name:   "неизвестный инструмент",
			uc:     premiumContext(),
			toolID: "pdf_teleport",
			expectError: func(t *testing.T, err error) {
				assert.Equal(t, apperr.CodeInvalidType, apperr.ErrorCode(err))
			},
		},
		{
			name: "premium-инструмент на free",
			uc: func() *model.UserContext {
				uc := premiumContext()
				uc.Tier = model.TierFree
				uc.CanUsePremium = false
				return uc
			}(),
			toolID: "pdf_watermark",
			params: model.Metadata{"text": "секретно"},
			expectError: func(t *testing.T, err error) {
				var se *apperr.SecurityError
				assert.ErrorAs(t, err, &se)
			},
		},
		{
			name: "AI без AI-лимита",
			uc: func() *model.UserContext {
				uc := premiumContext()
				uc.CanUseAI = false
				return uc
			}(),
			toolID: "ai_summarize",
			expectError: func(t *testing.T, err error) {
				var se *apperr.SecurityError
				assert.ErrorAs(t, err, &se)
			},
		},
		{
			name:   "параметры вне схемы",
			uc:     premiumContext(),
			toolID: "pdf_compress",
			params: model.Metadata{"quality": "ultra"},
			expectError: func(t *testing.T, err error) {
				var ve *apperr.ValidationError
				assert.ErrorAs(t, err, &ve)
			},
		},
		{
			name:   "файл уже обрабатывается",
			uc:     premiumContext(),
			toolID: "pdf_compress",
			setupMocks: func(f *jobFixture) {
				f.jobRepo.On("CountActiveByPrincipal", mock.Anything, mock.Anything, "user-123").Return(0, nil)
				f.quotaRepo.On("GetDailyJobs", mock.Anything, "user-123", mock.Anything).Return(int64(0), nil)
				f.jobRepo.On("CountActiveByFile", mock.Anything, mock.Anything, "file-1").Return(1, nil)
			},
			expectError: func(t *testing.T, err error) {
				var qe *apperr.QuotaError
				require.ErrorAs(t, err, &qe)
				assert.Equal(t, apperr.CodeJobConcurrency, qe.Code)
			},
		},
		{
			name:   "успех",
			uc:     premiumContext(),
			toolID: "pdf_compress",
			params: model.Metadata{"quality": "high"},
			setupMocks: func(f *jobFixture) {
				f.jobRepo.On("CountActiveByPrincipal", mock.Anything, mock.Anything, "user-123").Return(0, nil)
				f.quotaRepo.On("GetDailyJobs", mock.Anything, "user-123", mock.Anything).Return(int64(0), nil)
				f.jobRepo.On("CountActiveByFile", mock.Anything, mock.Anything, "file-1").Return(0, nil)
				f.jobRepo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
				f.quotaRepo.On("IncrDailyJobs", mock.Anything, "user-123", mock.Anything).Return(int64(1), nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newJobFixture()
			if tt.setupMocks != nil {
				tt.setupMocks(f)
			}

			job, err := f.service.Create(ctx, tt.uc, pdfFile(), tt.toolID, tt.params)

			if tt.expectError != nil {
				require.Error(t, err)
				tt.expectError(t, err)
				assert.Nil(t, job)
			} else {
				require.NoError(t, err)
				require.NotNil(t, job)
				assert.Equal(t, model.JobPending, job.Status)
				assert.Equal(t, model.QueueHighPriority, job.Queue)
				assert.Equal(t, 10, job.Priority)
				assert.Equal(t, 3, job.MaxRetries)
				require.NotNil(t, job.UserUUID)
				assert.Equal(t, "user-123", *job.UserUUID)
			}

			f.jobRepo.AssertExpectations(t)
		})
	}
}

func TestJobService_Dispatch(t *testing.T) {
	f := newJobFixture()
	ctx := context.Background()
	job := &model.Job{UUID: "job-1", FileUUID: "file-1", Status: model.JobPending, Queue: model.QueueDefault, Priority: 0}

	f.jobRepo.On("TransitionStatus", mock.Anything, mock.Anything, "job-1", model.JobPending, model.JobQueued).Return(true, nil)
	f.fileRepo.On("Transition", mock.Anything, "file-1", model.StateQueued, "job-1", model.ActorSystem, mock.Anything).Return(nil)
	f.queue.On("Enqueue", mock.Anything, model.QueueDefault, "job-1", 0, mock.Anything).Return(nil)

	require.NoError(t, f.service.Dispatch(ctx, job))
	assert.Equal(t, model.JobQueued, job.Status)
	f.queue.AssertExpectations(t)
}

func TestJobService_Dispatch_LostRace(t *testing.T) {
	f := newJobFixture()
	job := &model.Job{UUID: "job-1", FileUUID: "file-1", Status: model.JobPending}

	f.jobRepo.On("TransitionStatus", mock.Anything, mock.Anything, "job-1", model.JobPending, model.JobQueued).Return(false, nil)

	err := f.service.Dispatch(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "уже не PENDING")
	f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// гостевая задача: user_uuid остаётся пустым, а субъект учёта (IP)
// сохраняется в principal — лимит параллелизма гостя считается по нему
func TestJobService_Create_GuestPrincipal(t *testing.T) {
	f := newJobFixture()
	guest := &model.UserContext{
		GuestIP:           "203.0.113.7",
		Tier:              model.TierGuest,
		StorageLimitBytes: 50 << 20,
		DailyJobLimit:     5,
		MaxConcurrentJobs: 1,
		MaxFileSizeBytes:  10 << 20,
		Priority:          -10,
		Queue:             model.QueueDefault,
		CanUpload:         true,
		CanProcess:        true,
	}

	f.jobRepo.On("CountActiveByPrincipal", mock.Anything, mock.Anything, "203.0.113.7").Return(0, nil)
	f.quotaRepo.On("GetDailyJobs", mock.Anything, "203.0.113.7", mock.Anything).Return(int64(0), nil)
	f.jobRepo.On("CountActiveByFile", mock.Anything, mock.Anything, "file-1").Return(0, nil)
	f.jobRepo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.quotaRepo.On("IncrDailyJobs", mock.Anything, "203.0.113.7", mock.Anything).Return(int64(1), nil)

	file := pdfFile()
	file.OwnerUUID = nil
	job, err := f.service.Create(context.Background(), guest, file, "pdf_compress", model.Metadata{"quality": "high"})
	require.NoError(t, err)

	assert.Nil(t, job.UserUUID)
	assert.Equal(t, "203.0.113.7", job.Principal)
	assert.Equal(t, -10, job.Priority)
	f.jobRepo.AssertExpectations(t)
}

func TestJobService_Dispatch_EnqueueFails(t *testing.T) {
	f := newJobFixture()
	job := &model.Job{UUID: "job-1", FileUUID: "file-1", Status: model.JobPending, Queue: model.QueueDefault, Priority: 0}

	f.jobRepo.On("TransitionStatus", mock.Anything, mock.Anything, "job-1", model.JobPending, model.JobQueued).Return(true, nil)
	f.fileRepo.On("Transition", mock.Anything, "file-1", model.StateQueued, "job-1", model.ActorSystem, mock.Anything).Return(nil)
	f.queue.On("Enqueue", mock.Anything, model.QueueDefault, "job-1", 0, mock.Anything).
		Return(apperr.NewStorage(apperr.CodeTransient, "redis недоступен", nil))
	// откат: задача в CANCELED, файл из QUEUED возвращается в FAILED
	f.jobRepo.On("TransitionStatus", mock.Anything, mock.Anything, "job-1", model.JobQueued, model.JobCanceled).Return(true, nil)
	f.fileRepo.On("Transition", mock.Anything, "file-1", model.StateFailed, "job-1", model.ActorSystem, mock.Anything).Return(nil)

	err := f.service.Dispatch(context.Background(), job)
	require.Error(t, err)
	f.jobRepo.AssertExpectations(t)
	f.fileRepo.AssertExpectations(t)
}

func TestJobService_Cancel(t *testing.T) {
	tests := []struct {
		name       string
		job        *model.Job
		setupMocks func(f *jobFixture)
	}{
		{
			name: "терминальная задача — no-op",
			job:  &model.Job{UUID: "job-1", Status: model.JobCompleted},
		},
		{
			name: "QUEUED снимается из очереди",
			job:  &model.Job{UUID: "job-1", Status: model.JobQueued, Queue: model.QueueDefault},
			setupMocks: func(f *jobFixture) {
				f.queue.On("Remove", mock.Anything, model.QueueDefault, "job-1").Return(true, nil)
				f.jobRepo.On("TransitionStatus", mock.Anything, mock.Anything, "job-1", model.JobQueued, model.JobCanceled).Return(true, nil)
			},
		},
		{
			name: "PROCESSING помечается для кооперативной отмены",
			job:  &model.Job{UUID: "job-1", Status: model.JobProcessing},
			setupMocks: func(f *jobFixture) {
				f.jobRepo.On("TransitionStatus", mock.Anything, mock.Anything, "job-1", model.JobProcessing, model.JobCanceled).Return(true, nil)
			},
		},
		{
			name: "FAILED в ожидании ретрая уходит в DLQ",
			job:  &model.Job{UUID: "job-1", Status: model.JobFailed, Queue: model.QueueDefault},
			setupMocks: func(f *jobFixture) {
				f.jobRepo.On("TransitionStatus", mock.Anything, mock.Anything, "job-1", model.JobFailed, model.JobDeadLetter).Return(true, nil)
				f.queue.On("CancelRetry", mock.Anything, model.QueueDefault, "job-1", 0).Return(true, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newJobFixture()
			f.jobRepo.On("GetByUUID", mock.Anything, mock.Anything, "job-1").Return(tt.job, nil)
			if tt.setupMocks != nil {
				tt.setupMocks(f)
			}

			require.NoError(t, f.service.Cancel(context.Background(), "job-1"))
			f.jobRepo.AssertExpectations(t)
			f.queue.AssertExpectations(t)
		})
	}
}

func TestJobService_HandleFailure_SchedulesRetry(t *testing.T) {
	f := newJobFixture()
	job := &model.Job{UUID: "job-1", Queue: model.QueueDefault, Priority: 0, RetryCount: 1, MaxRetries: 3}

	f.jobRepo.On("MarkFailed", mock.Anything, mock.Anything, "job-1", "TRANSFORM_FAILED", "сбой", 2, mock.Anything).Return(nil)
	f.queue.On("ScheduleRetry", mock.Anything, model.QueueDefault, "job-1", 0, mock.Anything).Return(nil)

	require.NoError(t, f.service.HandleFailure(context.Background(), job, "TRANSFORM_FAILED", "сбой", false))

	// задержка второго ретрая — 120 секунд от времени сбоя
	call := f.queue.Calls[0]
	readyAt := call.Arguments.Get(4).(time.Time)
	assert.InDelta(t, 120, time.Until(readyAt).Seconds(), 5)
	f.jobRepo.AssertNotCalled(t, "MarkDeadLetter", mock.Anything, mock.Anything, mock.Anything)
}

func TestJobService_HandleFailure_ExhaustedRetries(t *testing.T) {
	f := newJobFixture()
	// третий сбой при max_retries=3: счётчик достигает потолка и задача
	// уходит в DLQ, retry_count не превышает max_retries
	job := &model.Job{UUID: "job-1", Queue: model.QueueDefault, RetryCount: 2, MaxRetries: 3}

	f.jobRepo.On("MarkFailed", mock.Anything, mock.Anything, "job-1", "TIMEOUT", "таймаут", 3, (*time.Time)(nil)).Return(nil)
	f.jobRepo.On("MarkDeadLetter", mock.Anything, mock.Anything, "job-1").Return(nil)

	require.NoError(t, f.service.HandleFailure(context.Background(), job, "TIMEOUT", "таймаут", false))
	f.jobRepo.AssertExpectations(t)
	f.queue.AssertNotCalled(t, "ScheduleRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJobService_HandleFailure_NonRecoverable(t *testing.T) {
	f := newJobFixture()
	job := &model.Job{UUID: "job-1", Queue: model.QueueDefault, RetryCount: 0, MaxRetries: 3}

	f.jobRepo.On("MarkFailed", mock.Anything, mock.Anything, "job-1", "INVALID_OUTPUT", "пусто", 1, (*time.Time)(nil)).Return(nil)
	f.jobRepo.On("MarkDeadLetter", mock.Anything, mock.Anything, "job-1").Return(nil)

	require.NoError(t, f.service.HandleFailure(context.Background(), job, "INVALID_OUTPUT", "пусто", true))
	f.jobRepo.AssertExpectations(t)
}

// пользовательский ретрай: FAILED-задача встаёт в очередь сразу,
// не дожидаясь next_retry_at
func TestJobService_Retry(t *testing.T) {
	f := newJobFixture()
	nextRetry := time.Now().Add(10 * time.Minute)
	job := &model.Job{UUID: "job-1", FileUUID: "file-1", Status: model.JobFailed,
		Queue: model.QueueDefault, Priority: 0, RetryCount: 1, MaxRetries: 3, NextRetryAt: &nextRetry}

	f.jobRepo.On("GetByUUID", mock.Anything, mock.Anything, "job-1").Return(job, nil)
	f.queue.On("CancelRetry", mock.Anything, model.QueueDefault, "job-1", 0).Return(true, nil)
	f.queue.On("Enqueue", mock.Anything, model.QueueDefault, "job-1", 0, mock.Anything).Return(nil)

	require.NoError(t, f.service.Retry(context.Background(), "job-1"))
	f.queue.AssertExpectations(t)
}

func TestJobService_Retry_NotFailed(t *testing.T) {
	tests := []struct {
		name   string
		status model.JobStatus
	}{
		{name: "PROCESSING нельзя повторить", status: model.JobProcessing},
		{name: "DEAD_LETTER возвращает только администратор", status: model.JobDeadLetter},
		{name: "COMPLETED терминальна", status: model.JobCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newJobFixture()
			f.jobRepo.On("GetByUUID", mock.Anything, mock.Anything, "job-1").
				Return(&model.Job{UUID: "job-1", Status: tt.status, Queue: model.QueueDefault}, nil)

			err := f.service.Retry(context.Background(), "job-1")
			require.Error(t, err)

			var ve *apperr.ValidationError
			assert.ErrorAs(t, err, &ve)
			f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestJobService_RequeueDeadLetter(t *testing.T) {
	f := newJobFixture()
	job := &model.Job{UUID: "job-1", FileUUID: "file-1", Status: model.JobDeadLetter, Queue: model.QueueDefault, Priority: 0}

	f.jobRepo.On("GetByUUID", mock.Anything, mock.Anything, "job-1").Return(job, nil)
	f.jobRepo.On("RequeueDeadLetter", mock.Anything, mock.Anything, "job-1").Return(true, nil)
	f.fileRepo.On("GetByUUID", mock.Anything, mock.Anything, "file-1").
		Return(&model.File{UUID: "file-1", State: model.StateFailed}, nil)
	f.fileRepo.On("Transition", mock.Anything, "file-1", model.StateQueued, "admin", model.ActorUser, mock.Anything).Return(nil)
	f.queue.On("Enqueue", mock.Anything, model.QueueDefault, "job-1", 0, mock.Anything).Return(nil)
	f.audit.On("Log", mock.Anything, model.AuditAdminAction, mock.Anything, "job", "job-1", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.service.RequeueDeadLetter(context.Background(), "admin", "job-1"))
	f.audit.AssertExpectations(t)
}

func TestJobService_RequeueDeadLetter_NotInDLQ(t *testing.T) {
	f := newJobFixture()
	job := &model.Job{UUID: "job-1", FileUUID: "file-1", Status: model.JobCompleted}

	f.jobRepo.On("GetByUUID", mock.Anything, mock.Anything, "job-1").Return(job, nil)
	f.jobRepo.On("RequeueDeadLetter", mock.Anything, mock.Anything, "job-1").Return(false, nil)

	err := f.service.RequeueDeadLetter(context.Background(), "admin", "job-1")
	require.Error(t, err)

	var ve *apperr.ValidationError
	assert.ErrorAs(t, err, &ve)
	f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJobService_ListDeadLetter_Cap(t *testing.T) {
	f := newJobFixture()

	f.jobRepo.On("ListDeadLetter", mock.Anything, mock.Anything, 100).Return([]model.Job{}, nil)

	_, err := f.service.ListDeadLetter(context.Background(), 500)
	require.NoError(t, err)
	f.jobRepo.AssertExpectations(t)
}
