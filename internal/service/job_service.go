package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/ports"
)

const (
	defaultMaxRetries = 3
	dlqListCap        = 100
)

// JobService — оркестратор задач (создание, постановка в очередь,
// ретраи с экспоненциальной задержкой, DLQ, отмена).
type JobService struct {
	db       *config.Database
	jobRepo  ports.JobRepository
	fileRepo ports.FileRepository
	tools    ports.ToolCatalog
	quota    *QuotaService
	queue    ports.JobQueue
	audit    ports.AuditService
}

func NewJobService(db *config.Database, jobRepo ports.JobRepository, fileRepo ports.FileRepository,
	tools ports.ToolCatalog, quota *QuotaService, queue ports.JobQueue, audit ports.AuditService) *JobService {
	return &JobService{
		db:       db,
		jobRepo:  jobRepo,
		fileRepo: fileRepo,
		tools:    tools,
		quota:    quota,
		queue:    queue,
		audit:    audit,
	}
}

// Create : валидация инструмента и параметров, проверки допуска,
// приоритет и очередь из контекста пользователя. Job рождается PENDING.
func (s *JobService) Create(ctx context.Context, uc *model.UserContext, file *model.File, toolID string, params model.Metadata) (*model.Job, error) {
	tool, ok := s.tools.Get(toolID)
	if !ok {
		return nil, apperr.NewValidation(apperr.CodeInvalidType, "неизвестный инструмент: "+toolID)
	}
	if tool.IsPremium && !uc.CanUsePremium {
		return nil, apperr.NewSecurity("инструмент " + toolID + " доступен только по подписке")
	}
	if tool.IsAI && !uc.CanUseAI {
		return nil, apperr.NewSecurity("AI-инструменты недоступны на тарифе " + string(uc.Tier))
	}

	if ok, reason := tool.CanProcess(file.MimeType, file.SizeBytes, file.PageCount); !ok {
		return nil, apperr.NewValidation(apperr.CodeInvalidType, reason)
	}
	if ok, errs := tool.ValidateParameters(params); !ok {
		return nil, apperr.NewValidation(apperr.CodeInvalidType,
			"параметры не прошли проверку: "+strings.Join(errs, "; "))
	}

	if ok, reason, err := s.quota.CanStartJob(ctx, uc); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NewQuota(reason, "запуск задачи отклонён")
	}

	// на один файл — не более одной живой задачи
	active, err := s.jobRepo.CountActiveByFile(ctx, s.db, file.UUID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, apperr.NewQuota(apperr.CodeJobConcurrency, "файл уже обрабатывается")
	}

	job := &model.Job{
		UUID:       uuid.New().String(),
		FileUUID:   file.UUID,
		Principal:  uc.Principal(),
		ToolID:     toolID,
		Params:     params,
		Status:     model.JobPending,
		Priority:   uc.Priority,
		Queue:      uc.Queue,
		MaxRetries: defaultMaxRetries,
	}
	if uc.UserUUID != "" {
		u := uc.UserUUID
		job.UserUUID = &u
	}

	if err := s.jobRepo.Create(ctx, s.db, job); err != nil {
		return nil, err
	}
	if err := s.quota.CountJobStart(ctx, uc.Principal()); err != nil {
		log.Printf("[JobService] суточный счётчик не обновлён для %s: %v", uc.Principal(), err)
	}
	return job, nil
}

// Dispatch : PENDING -> QUEUED + постановка в очередь воркеров.
// Файл переводится в QUEUED тем же шагом.
func (s *JobService) Dispatch(ctx context.Context, job *model.Job) error {
	moved, err := s.jobRepo.TransitionStatus(ctx, s.db, job.UUID, model.JobPending, model.JobQueued)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("[JobService] задача %s уже не PENDING", job.UUID)
	}

	if err := s.fileRepo.Transition(ctx, job.FileUUID, model.StateQueued, job.UUID, model.ActorSystem, nil); err != nil {
		return err
	}

	if err := s.queue.Enqueue(ctx, job.Queue, job.UUID, job.Priority, time.Now()); err != nil {
		// очередь недоступна — откатываем статус, чтобы задачу можно было пересоздать
		if _, rbErr := s.jobRepo.TransitionStatus(ctx, s.db, job.UUID, model.JobQueued, model.JobCanceled); rbErr != nil {
			log.Printf("[JobService] не удалось отменить задачу %s после сбоя очереди: %v", job.UUID, rbErr)
		}
		// файл уже переведён в QUEUED — возвращаем его в FAILED, иначе он
		// навсегда застрянет без живой задачи
		if trErr := s.fileRepo.Transition(ctx, job.FileUUID, model.StateFailed, job.UUID, model.ActorSystem,
			model.Metadata{"reason": "queue_unavailable"}); trErr != nil {
			log.Printf("[JobService] файл %s не вернулся из QUEUED после сбоя очереди: %v", job.FileUUID, trErr)
		}
		return err
	}
	job.Status = model.JobQueued
	return nil
}

func (s *JobService) Get(ctx context.Context, jobUUID string) (*model.Job, error) {
	return s.jobRepo.GetByUUID(ctx, s.db, jobUUID)
}

func (s *JobService) ListByUser(ctx context.Context, userUUID string, limit int) ([]model.Job, error) {
	return s.jobRepo.ListByUser(ctx, s.db, userUUID, limit)
}

// Cancel : идемпотентная отмена. Терминальная задача — no-op.
// QUEUED снимается из очереди до захвата воркером; PROCESSING получает
// сигнал и завершается между чекпоинтами (best-effort — завершившаяся
// после отмены задача остаётся COMPLETED).
func (s *JobService) Cancel(ctx context.Context, jobUUID string) error {
	job, err := s.jobRepo.GetByUUID(ctx, s.db, jobUUID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	switch job.Status {
	case model.JobPending:
		_, err = s.jobRepo.TransitionStatus(ctx, s.db, jobUUID, model.JobPending, model.JobCanceled)
		return err
	case model.JobQueued:
		if _, err := s.queue.Remove(ctx, job.Queue, jobUUID); err != nil {
			return err
		}
		_, err = s.jobRepo.TransitionStatus(ctx, s.db, jobUUID, model.JobQueued, model.JobCanceled)
		return err
	case model.JobProcessing:
		// воркер увидит статус на ближайшем чекпоинте
		_, err = s.jobRepo.TransitionStatus(ctx, s.db, jobUUID, model.JobProcessing, model.JobCanceled)
		return err
	case model.JobFailed:
		// задача ждёт ретрая в отложенном наборе
		moved, err := s.jobRepo.TransitionStatus(ctx, s.db, jobUUID, model.JobFailed, model.JobDeadLetter)
		if err != nil || !moved {
			return err
		}
		if _, rmErr := s.queue.CancelRetry(ctx, job.Queue, jobUUID, job.Priority); rmErr != nil {
			log.Printf("[JobService] отложенный ретрай %s не снят: %v", jobUUID, rmErr)
		}
		return nil
	}
	return nil
}

// Retry : явный пользовательский ретрай FAILED-задачи без ожидания
// next_retry_at: отложенная запись снимается, задача сразу встаёт в
// очередь. Статус остаётся FAILED — воркер переведёт её в QUEUED при
// захвате. Задачи из DEAD_LETTER возвращает только администратор.
func (s *JobService) Retry(ctx context.Context, jobUUID string) error {
	job, err := s.jobRepo.GetByUUID(ctx, s.db, jobUUID)
	if err != nil {
		return err
	}
	if job.Status != model.JobFailed {
		return apperr.NewValidation(apperr.CodeInvalidType,
			"повторить можно только задачу в FAILED, текущий статус: "+string(job.Status))
	}

	if _, err := s.queue.CancelRetry(ctx, job.Queue, job.UUID, job.Priority); err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, job.Queue, job.UUID, job.Priority, time.Now())
}

// HandleFailure : политика ретраев. Невосстановимая ошибка или
// исчерпанные попытки — DEAD_LETTER; иначе следующая попытка через
// min(60*2^n, 3600) секунд. retry_count никогда не превышает
// max_retries: достигнув потолка, задача уходит в DLQ.
func (s *JobService) HandleFailure(ctx context.Context, job *model.Job, errorCode, errorMessage string, nonRecoverable bool) error {
	retryCount := job.RetryCount + 1

	if nonRecoverable || retryCount >= job.MaxRetries {
		if err := s.jobRepo.MarkFailed(ctx, s.db, job.UUID, errorCode, errorMessage, retryCount, nil); err != nil {
			return err
		}
		return s.jobRepo.MarkDeadLetter(ctx, s.db, job.UUID)
	}

	nextRetry := time.Now().Add(model.RetryBackoff(job.RetryCount))
	if err := s.jobRepo.MarkFailed(ctx, s.db, job.UUID, errorCode, errorMessage, retryCount, &nextRetry); err != nil {
		return err
	}
	return s.queue.ScheduleRetry(ctx, job.Queue, job.UUID, job.Priority, nextRetry)
}

// PromoteDueRetries переносит созревшие ретраи обратно в очереди.
func (s *JobService) PromoteDueRetries(ctx context.Context, now time.Time) (int, error) {
	return s.queue.PromoteDue(ctx, now)
}

// ListDeadLetter : выдача ограничена сотней строк на вызов.
func (s *JobService) ListDeadLetter(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 || limit > dlqListCap {
		limit = dlqListCap
	}
	return s.jobRepo.ListDeadLetter(ctx, s.db, limit)
}

// RequeueDeadLetter : административный возврат из DLQ с обнулением
// счётчика ретраев. Файл возвращается на путь ретрая FAILED -> QUEUED.
func (s *JobService) RequeueDeadLetter(ctx context.Context, adminUUID, jobUUID string) error {
	job, err := s.jobRepo.GetByUUID(ctx, s.db, jobUUID)
	if err != nil {
		return err
	}
	moved, err := s.jobRepo.RequeueDeadLetter(ctx, s.db, jobUUID)
	if err != nil {
		return err
	}
	if !moved {
		return apperr.NewValidation(apperr.CodeInvalidType, "задача не находится в DEAD_LETTER")
	}

	file, err := s.fileRepo.GetByUUID(ctx, s.db, job.FileUUID)
	if err == nil && file.State == model.StateFailed {
		if trErr := s.fileRepo.Transition(ctx, file.UUID, model.StateQueued, adminUUID, model.ActorUser, nil); trErr != nil {
			log.Printf("[JobService] файл %s не вернулся в QUEUED: %v", file.UUID, trErr)
		}
	}

	if err := s.queue.Enqueue(ctx, job.Queue, jobUUID, job.Priority, time.Now()); err != nil {
		return err
	}

	admin := adminUUID
	return s.audit.Log(ctx, model.AuditAdminAction, &admin, "job", jobUUID,
		model.Metadata{"operation": "dlq_requeue"}, nil)
}

// Stats : глубина очередей (Redis) + живые задачи по очередям (БД).
func (s *JobService) Stats(ctx context.Context) (map[string]any, error) {
	queueDepth, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	dbCounts, err := s.jobRepo.CountByQueue(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"queue_depth": queueDepth,
		"active_jobs": dbCounts,
	}, nil
}
