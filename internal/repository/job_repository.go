package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
)

type JobRepository struct {
	*config.Database
}

func NewJobRepository(database *config.Database) *JobRepository {
	return &JobRepository{database}
}

const jobColumns = `
	uuid, file_uuid, user_uuid, principal, tool_id, params, status, priority, queue,
	retry_count, max_retries, next_retry_at, progress_percent, progress_message,
	result, error_message, error_code, created_at, started_at, completed_at
`

func (r *JobRepository) Create(ctx context.Context, exec sqlx.ExtContext, job *model.Job) error {
	query := `
		INSERT INTO jobs (uuid, file_uuid, user_uuid, principal, tool_id, params, status, priority, queue, retry_count, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := exec.ExecContext(ctx, query,
		job.UUID, job.FileUUID, job.UserUUID, job.Principal, job.ToolID, job.Params,
		job.Status, job.Priority, job.Queue, job.RetryCount, job.MaxRetries)
	return err
}

func (r *JobRepository) GetByUUID(ctx context.Context, exec sqlx.ExtContext, jobUUID string) (*model.Job, error) {
	var job model.Job
	err := sqlx.GetContext(ctx, exec, &job, `SELECT `+jobColumns+` FROM jobs WHERE uuid = $1`, jobUUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NewStorage(apperr.CodeNotFound, "задача не найдена: "+jobUUID, err)
		}
		return nil, err
	}
	return &job, nil
}

// TransitionStatus : CAS по полю status; false — from уже не совпал
// (переход проиграл гонку или статус терминальный).
func (r *JobRepository) TransitionStatus(ctx context.Context, exec sqlx.ExtContext, jobUUID string, from, to model.JobStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, apperr.NewInvalidTransition("job", string(from), string(to))
	}
	res, err := exec.ExecContext(ctx,
		`UPDATE jobs SET status = $3 WHERE uuid = $1 AND status = $2`,
		jobUUID, from, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *JobRepository) MarkProcessing(ctx context.Context, exec sqlx.ExtContext, jobUUID string, startedAt time.Time) (bool, error) {
	res, err := exec.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'PROCESSING', started_at = $2
		WHERE uuid = $1 AND status = 'QUEUED'
	`, jobUUID, startedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkCompleted : завершение перекрывает и CANCELED — задача,
// доработавшая после запроса отмены, фиксируется как COMPLETED,
// отмена отбрасывается.
func (r *JobRepository) MarkCompleted(ctx context.Context, exec sqlx.ExtContext, jobUUID string, result model.Metadata, completedAt time.Time) (bool, error) {
	res, err := exec.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'COMPLETED', result = $2, completed_at = $3, progress_percent = 100
		WHERE uuid = $1 AND status IN ('PROCESSING', 'CANCELED')
	`, jobUUID, result, completedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *JobRepository) MarkFailed(ctx context.Context, exec sqlx.ExtContext, jobUUID string, errorCode, errorMessage string, retryCount int, nextRetryAt *time.Time) error {
	_, err := exec.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'FAILED', error_code = $2, error_message = $3, retry_count = $4, next_retry_at = $5
		WHERE uuid = $1
	`, jobUUID, errorCode, errorMessage, retryCount, nextRetryAt)
	return err
}

func (r *JobRepository) MarkDeadLetter(ctx context.Context, exec sqlx.ExtContext, jobUUID string) error {
	_, err := exec.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'DEAD_LETTER', next_retry_at = NULL
		WHERE uuid = $1 AND status = 'FAILED'
	`, jobUUID)
	return err
}

// UpdateProgress : percent монотонно не убывает в рамках запуска
func (r *JobRepository) UpdateProgress(ctx context.Context, exec sqlx.ExtContext, jobUUID string, percent int, message string) error {
	_, err := exec.ExecContext(ctx, `
		UPDATE jobs
		SET progress_percent = GREATEST(progress_percent, $2), progress_message = $3
		WHERE uuid = $1 AND status = 'PROCESSING'
	`, jobUUID, percent, message)
	return err
}

// ResetProgress : ретрай начинает прогресс заново с нуля
func (r *JobRepository) ResetProgress(ctx context.Context, exec sqlx.ExtContext, jobUUID string) error {
	_, err := exec.ExecContext(ctx, `
		UPDATE jobs SET progress_percent = 0, progress_message = '' WHERE uuid = $1
	`, jobUUID)
	return err
}

// CountActiveByPrincipal : задачи принципала в {QUEUED, PROCESSING}.
// Считаем по текстовой колонке principal — у гостевых задач user_uuid
// пуст, а их субъект учёта (IP) не является UUID.
func (r *JobRepository) CountActiveByPrincipal(ctx context.Context, exec sqlx.ExtContext, principal string) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, exec, &count, `
		SELECT COUNT(*) FROM jobs
		WHERE principal = $1 AND status IN ('QUEUED', 'PROCESSING')
	`, principal)
	return count, err
}

// CountActiveByFile : для одного файла активна не более одной задачи
func (r *JobRepository) CountActiveByFile(ctx context.Context, exec sqlx.ExtContext, fileUUID string) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, exec, &count, `
		SELECT COUNT(*) FROM jobs
		WHERE file_uuid = $1 AND status IN ('QUEUED', 'PROCESSING')
	`, fileUUID)
	return count, err
}

func (r *JobRepository) ListDeadLetter(ctx context.Context, exec sqlx.ExtContext, limit int) ([]model.Job, error) {
	jobs := []model.Job{}
	err := sqlx.SelectContext(ctx, exec, &jobs, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'DEAD_LETTER'
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	return jobs, err
}

func (r *JobRepository) ListByUser(ctx context.Context, exec sqlx.ExtContext, userUUID string, limit int) ([]model.Job, error) {
	jobs := []model.Job{}
	err := sqlx.SelectContext(ctx, exec, &jobs, `
		SELECT `+jobColumns+` FROM jobs
		WHERE user_uuid = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userUUID, limit)
	return jobs, err
}

func (r *JobRepository) CountByQueue(ctx context.Context, exec sqlx.ExtContext) (map[string]int, error) {
	rows, err := exec.QueryxContext(ctx, `
		SELECT queue, COUNT(*) AS cnt FROM jobs
		WHERE status IN ('QUEUED', 'PROCESSING')
		GROUP BY queue
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var queue string
		var cnt int
		if err := rows.Scan(&queue, &cnt); err != nil {
			return nil, err
		}
		stats[queue] = cnt
	}
	return stats, rows.Err()
}

// RequeueDeadLetter : административный возврат задачи из DLQ.
// Единственное место, где статус меняется в обход графа переходов.
func (r *JobRepository) RequeueDeadLetter(ctx context.Context, exec sqlx.ExtContext, jobUUID string) (bool, error) {
	res, err := exec.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'QUEUED', retry_count = 0, next_retry_at = NULL,
		    error_code = '', error_message = '', progress_percent = 0, progress_message = ''
		WHERE uuid = $1 AND status = 'DEAD_LETTER'
	`, jobUUID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// PruneTerminal : удаляет COMPLETED/CANCELED старше заданного времени
func (r *JobRepository) PruneTerminal(ctx context.Context, exec sqlx.ExtContext, olderThan time.Time) (int64, error) {
	res, err := exec.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('COMPLETED', 'CANCELED') AND created_at <= $1
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteByOwner : GDPR-каскад задач пользователя
func (r *JobRepository) DeleteByOwner(ctx context.Context, exec sqlx.ExtContext, userUUID string) (int64, error) {
	res, err := exec.ExecContext(ctx, `DELETE FROM jobs WHERE user_uuid = $1`, userUUID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
