package ports

import (
	"context"
	"io"
	"time"

	"pdf-pipeline-server/internal/model"
)

// ValidationPolicy — контракт политики валидации файла.
type ValidationPolicy struct {
	AllowedMimeTypes []string
	MaxSizeBytes     int64
	RequirePDF       bool
	VirusScan        bool
}

// ValidationResult — результат валидации потока.
type ValidationResult struct {
	MimeType    string
	SizeBytes   int64
	Sha256      string
	PageCount   int
	IsEncrypted bool
	ScanSkipped bool
	PDFMetadata map[string]string
}

// FileValidator : сниффинг magic bytes, хэширование потока,
// структурная проверка PDF, опциональный антивирус.
type FileValidator interface {
	Validate(ctx context.Context, reader io.ReadSeeker, policy ValidationPolicy) (*ValidationResult, error)
}

// VirusScanner : внешний сканер (clamd).
type VirusScanner interface {
	Scan(ctx context.Context, reader io.Reader) error
}

// ContextResolver : C4 — вычисляет эффективный набор возможностей
// принципала (аноним, free, premium, team, admin).
type ContextResolver interface {
	Resolve(ctx context.Context, userUUID string, guestIP string) (*model.UserContext, error)
}

// QuotaService : C5 — решения о допуске, резервации хранилища.
type QuotaService interface {
	CanUploadFile(ctx context.Context, uc *model.UserContext, sizeBytes int64) (bool, string)
	CanStartJob(ctx context.Context, uc *model.UserContext) (bool, string, error)
	Reserve(ctx context.Context, uc *model.UserContext, bytes int64) (string, error)
	Commit(ctx context.Context, principal, reservationID string) error
	Release(ctx context.Context, principal, reservationID string) error
}

// ToolCatalog : C6 — неизменяемый каталог инструментов.
type ToolCatalog interface {
	Get(toolID string) (*model.Tool, bool)
	List() []*model.Tool
}

// JobQueue : две логические очереди (high_priority, default),
// внутри очереди порядок — по приоритету, затем FIFO.
type JobQueue interface {
	Enqueue(ctx context.Context, queue, jobUUID string, priority int, createdAt time.Time) error
	// Dequeue блокируется до poll-таймаута; очередь high_priority
	// опрашивается раньше default. Пустой результат — ("", nil).
	Dequeue(ctx context.Context, pollTimeout time.Duration) (string, error)
	Remove(ctx context.Context, queue, jobUUID string) (bool, error)
	// ScheduleRetry кладёт job в отложенный набор до readyAt
	ScheduleRetry(ctx context.Context, queue, jobUUID string, priority int, readyAt time.Time) error
	// CancelRetry снимает job из отложенного набора (досрочный ретрай
	// или отмена); false — записи там уже нет
	CancelRetry(ctx context.Context, queue, jobUUID string, priority int) (bool, error)
	// PromoteDue переносит созревшие отложенные job обратно в очереди
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

// AuditService : C9 — единственный путь записи audit-строк.
type AuditService interface {
	Log(ctx context.Context, action model.AuditAction, userUUID *string, resourceType, resourceID string, metadata model.Metadata, reqCtx *model.RequestContext) error
}

// AccessService : C9 — проверка прав доступа к файлу.
type AccessService interface {
	CanAccessFile(ctx context.Context, uc *model.UserContext, file *model.File) error
}
