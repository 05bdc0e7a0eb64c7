package ports

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"pdf-pipeline-server/internal/model"
)

// FileRepository : SQL-слой реестра файлов и машины состояний.
type FileRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, file *model.File) error
	GetByUUID(ctx context.Context, exec sqlx.ExtContext, fileUUID string) (*model.File, error)
	// UpdateValidationInfo фиксирует результаты валидации (размер, mime, хэш, страницы)
	UpdateValidationInfo(ctx context.Context, exec sqlx.ExtContext, file *model.File) error
	// Transition — CAS по полю state + запись FileStateLog в одной транзакции.
	// Недопустимый переход возвращает apperr.InvalidTransitionError.
	Transition(ctx context.Context, fileUUID string, to model.FileState, actorID string, actorKind model.ActorKind, metadata model.Metadata) error
	History(ctx context.Context, exec sqlx.ExtContext, fileUUID string) ([]model.FileStateLog, error)
	// StorageUsed — сумма size_bytes файлов владельца вне {DELETED, EXPIRED}
	StorageUsed(ctx context.Context, exec sqlx.ExtContext, ownerUUID string) (int64, error)
	ListByOwner(ctx context.Context, exec sqlx.ExtContext, ownerUUID string) ([]model.File, error)
	ListExpired(ctx context.Context, exec sqlx.ExtContext, now time.Time, limit int) ([]model.File, error)
	ListGuestAged(ctx context.Context, exec sqlx.ExtContext, cutoff time.Time, limit int) ([]model.File, error)
	HardDeleteByOwner(ctx context.Context, exec sqlx.ExtContext, ownerUUID string) (int64, error)
	BeginTX(ctx context.Context) (sqlx.ExtContext, func() error, func() error, error)
}

// VersionRepository : версии файлов. Строка неизменяема после записи;
// Add также инкрементирует version родительского файла.
type VersionRepository interface {
	Add(ctx context.Context, exec sqlx.ExtContext, version *model.FileVersion) error
	ListByFile(ctx context.Context, exec sqlx.ExtContext, fileUUID string) ([]model.FileVersion, error)
	GetLatest(ctx context.Context, exec sqlx.ExtContext, fileUUID string) (*model.FileVersion, error)
}

// JobRepository : SQL-слой задач.
type JobRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, job *model.Job) error
	GetByUUID(ctx context.Context, exec sqlx.ExtContext, jobUUID string) (*model.Job, error)
	// TransitionStatus — CAS status from -> to; false при несовпадении from
	TransitionStatus(ctx context.Context, exec sqlx.ExtContext, jobUUID string, from, to model.JobStatus) (bool, error)
	MarkProcessing(ctx context.Context, exec sqlx.ExtContext, jobUUID string, startedAt time.Time) (bool, error)
	MarkCompleted(ctx context.Context, exec sqlx.ExtContext, jobUUID string, result model.Metadata, completedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, exec sqlx.ExtContext, jobUUID string, errorCode, errorMessage string, retryCount int, nextRetryAt *time.Time) error
	MarkDeadLetter(ctx context.Context, exec sqlx.ExtContext, jobUUID string) error
	// UpdateProgress — percent монотонно не убывает в рамках одного запуска
	UpdateProgress(ctx context.Context, exec sqlx.ExtContext, jobUUID string, percent int, message string) error
	ResetProgress(ctx context.Context, exec sqlx.ExtContext, jobUUID string) error
	// CountActiveByPrincipal — живые задачи по колонке principal:
	// работает и для гостей, у которых user_uuid пуст
	CountActiveByPrincipal(ctx context.Context, exec sqlx.ExtContext, principal string) (int, error)
	CountActiveByFile(ctx context.Context, exec sqlx.ExtContext, fileUUID string) (int, error)
	ListDeadLetter(ctx context.Context, exec sqlx.ExtContext, limit int) ([]model.Job, error)
	ListByUser(ctx context.Context, exec sqlx.ExtContext, userUUID string, limit int) ([]model.Job, error)
	CountByQueue(ctx context.Context, exec sqlx.ExtContext) (map[string]int, error)
	// RequeueDeadLetter — административный возврат из DLQ: сброс ретраев
	// и ошибки, статус QUEUED в обход штатного графа переходов
	RequeueDeadLetter(ctx context.Context, exec sqlx.ExtContext, jobUUID string) (bool, error)
	PruneTerminal(ctx context.Context, exec sqlx.ExtContext, olderThan time.Time) (int64, error)
	DeleteByOwner(ctx context.Context, exec sqlx.ExtContext, userUUID string) (int64, error)
}

// AuditRepository : журнал аудита. Только вставка и чтение —
// методов обновления у интерфейса нет намеренно.
type AuditRepository interface {
	Insert(ctx context.Context, exec sqlx.ExtContext, entry *model.AuditLog) error
	ListByUser(ctx context.Context, exec sqlx.ExtContext, userUUID string, limit int) ([]model.AuditLog, error)
}

// UserRepository : учётные записи.
type UserRepository interface {
	FindByUUID(ctx context.Context, exec sqlx.ExtContext, uuid string) (*model.User, error)
	// Anonymize — GDPR-удаление: имя заменяется на "DELETED USER", is_active=false
	Anonymize(ctx context.Context, exec sqlx.ExtContext, uuid string) error
}

// QuotaRepository : быстрый слой квот (Redis) — резервации с TTL
// и суточные счётчики.
type QuotaRepository interface {
	// Reserve — CAS против суммы активных резерваций; возвращает id резервации
	Reserve(ctx context.Context, principal string, bytes, usedBytes, limitBytes int64) (string, error)
	Commit(ctx context.Context, principal, reservationID string) error
	Release(ctx context.Context, principal, reservationID string) error
	ReservedTotal(ctx context.Context, principal string) (int64, error)
	// IncrDailyJobs инкрементирует суточный счётчик (сброс в полночь UTC)
	IncrDailyJobs(ctx context.Context, principal string, day time.Time) (int64, error)
	GetDailyJobs(ctx context.Context, principal string, day time.Time) (int64, error)
	ResetDailyCounters(ctx context.Context) (int64, error)
}
