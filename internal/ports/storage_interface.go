package ports

import (
	"context"
	"io"
	"time"
)

// SignedOp — операция, на которую выписывается pre-signed URL.
type SignedOp string

const (
	SignedGet SignedOp = "GET"
	SignedPut SignedOp = "PUT"
)

// PresignedPost — данные для прямой загрузки браузером.
type PresignedPost struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

// Storage : единый интерфейс Storage Gateway поверх локального диска,
// S3 и R2. Backend фиксируется конфигурацией процесса, fallback между
// backend-ами в рантайме отсутствует.
type Storage interface {
	// Upload — атомарная загрузка: частично записанный объект не виден
	Upload(ctx context.Context, path string, reader io.Reader, contentType string, metadata map[string]string) error
	// UploadMultipart — chunked-загрузка больших файлов; при ошибке
	// staging прерывается на стороне backend
	UploadMultipart(ctx context.Context, path string, reader io.Reader, chunkSize int64) error
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	Size(ctx context.Context, path string) (int64, error)
	Delete(ctx context.Context, path string) error
	// DeletePrefix возвращает best-effort счётчик удалённых объектов
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Copy(ctx context.Context, src, dst string) error
	SignedURL(ctx context.Context, path string, op SignedOp, ttl time.Duration) (string, error)
	PresignedPost(ctx context.Context, path, contentType string, ttl time.Duration, maxSize int64) (*PresignedPost, error)
}
