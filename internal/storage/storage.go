// Пакет storage — Storage Gateway (C1): единый доступ к объектам
// поверх локального диска, AWS S3 и Cloudflare R2.
package storage

import (
	"context"
	"fmt"
	"time"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/ports"
)

const defaultChunkSize = 8 * 1024 * 1024 // минимум для части multipart в S3 — 5 MiB

// NewStorage выбирает backend по конфигурации. Выбор делается один раз
// на процесс, fallback между backend-ами в рантайме отсутствует.
func NewStorage(ctx context.Context, cfg *config.StorageConfig, signingSecret string) (ports.Storage, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStorage(cfg.LocalRoot, signingSecret)
	case "s3", "r2":
		return NewS3Storage(ctx, cfg)
	}
	return nil, fmt.Errorf("[Storage] неизвестный backend: %q", cfg.Backend)
}

// UploadPath — путь входного объекта: uploads/{principal}/{timestamp}_{name}.
func UploadPath(principal string, now time.Time, originalName string) string {
	return fmt.Sprintf("uploads/%s/%d_%s", principal, now.Unix(), originalName)
}

// OutputPath — путь выходного объекта: outputs/{file_id}/v{N}/{filename}.
func OutputPath(fileUUID string, version int, filename string) string {
	return fmt.Sprintf("outputs/%s/v%d/%s", fileUUID, version, filename)
}
