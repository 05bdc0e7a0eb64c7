package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/model"
)

type VersionRepository struct {
	*config.Database
}

func NewVersionRepository(database *config.Database) *VersionRepository {
	return &VersionRepository{database}
}

// Add : вставляет версию и инкрементирует version родительского файла.
// Инвариант: version файла равен числу сохранённых версий.
func (r *VersionRepository) Add(ctx context.Context, exec sqlx.ExtContext, version *model.FileVersion) error {
	query := `
		INSERT INTO file_versions (file_uuid, version_number, storage_path, size_bytes, sha256)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := exec.ExecContext(ctx, query,
		version.FileUUID, version.VersionNumber, version.StoragePath, version.SizeBytes, version.Sha256); err != nil {
		return err
	}

	_, err := exec.ExecContext(ctx,
		`UPDATE files SET version = $2 WHERE uuid = $1`,
		version.FileUUID, version.VersionNumber)
	return err
}

func (r *VersionRepository) ListByFile(ctx context.Context, exec sqlx.ExtContext, fileUUID string) ([]model.FileVersion, error) {
	query := `
		SELECT id, file_uuid, version_number, storage_path, size_bytes, sha256, created_at
		FROM file_versions
		WHERE file_uuid = $1
		ORDER BY version_number ASC
	`
	versions := []model.FileVersion{}
	if err := sqlx.SelectContext(ctx, exec, &versions, query, fileUUID); err != nil {
		return nil, err
	}
	return versions, nil
}

func (r *VersionRepository) GetLatest(ctx context.Context, exec sqlx.ExtContext, fileUUID string) (*model.FileVersion, error) {
	query := `
		SELECT id, file_uuid, version_number, storage_path, size_bytes, sha256, created_at
		FROM file_versions
		WHERE file_uuid = $1
		ORDER BY version_number DESC
		LIMIT 1
	`
	var version model.FileVersion
	if err := sqlx.GetContext(ctx, exec, &version, query, fileUUID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &version, nil
}
