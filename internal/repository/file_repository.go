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
	"pdf-pipeline-server/internal/util"
)

type FileRepository struct {
	*config.Database
}

func NewFileRepository(database *config.Database) *FileRepository {
	return &FileRepository{database}
}

// Create : сохраняем новую запись файла в состоянии CREATED
func (r *FileRepository) Create(ctx context.Context, exec sqlx.ExtContext, file *model.File) error {
	query := `
		INSERT INTO files (uuid, owner_uuid, filename_original, storage_path, size_bytes,
		                   mime_type, sha256, page_count, version, state, metadata, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := exec.ExecContext(
		ctx,
		query,
		file.UUID,
		file.OwnerUUID,
		file.FilenameOriginal,
		file.StoragePath,
		file.SizeBytes,
		file.MimeType,
		file.Sha256,
		file.PageCount,
		file.Version,
		file.State,
		file.Metadata,
		file.ExpiresAt,
	)
	return err
}

func (r *FileRepository) GetByUUID(ctx context.Context, exec sqlx.ExtContext, fileUUID string) (*model.File, error) {
	query := `
		SELECT uuid, owner_uuid, filename_original, storage_path, size_bytes,
		       mime_type, sha256, page_count, version, state, metadata, created_at, expires_at
		FROM files
		WHERE uuid = $1
	`
	var file model.File
	if err := sqlx.GetContext(ctx, exec, &file, query, fileUUID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NewStorage(apperr.CodeNotFound, "файл не найден: "+fileUUID, err)
		}
		return nil, err
	}
	return &file, nil
}

// UpdateValidationInfo : фиксируем результаты валидации
func (r *FileRepository) UpdateValidationInfo(ctx context.Context, exec sqlx.ExtContext, file *model.File) error {
	query := `
		UPDATE files
		SET size_bytes = $2, mime_type = $3, sha256 = $4, page_count = $5, storage_path = $6, metadata = $7
		WHERE uuid = $1
	`
	_, err := exec.ExecContext(ctx, query,
		file.UUID, file.SizeBytes, file.MimeType, file.Sha256, file.PageCount, file.StoragePath, file.Metadata)
	return err
}

// Transition : валидирует переход по графу, меняет state через CAS и
// пишет FileStateLog — всё в одной транзакции. Строка файла блокируется
// FOR UPDATE: конкурентные переходы сериализуются на уровне строки.
func (r *FileRepository) Transition(ctx context.Context, fileUUID string, to model.FileState, actorID string, actorKind model.ActorKind, metadata model.Metadata) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return util.LogError("[FileRepository] не удалось начать транзакцию", err)
	}
	defer tx.Rollback()

	var current model.FileState
	err = sqlx.GetContext(ctx, tx, &current, `SELECT state FROM files WHERE uuid = $1 FOR UPDATE`, fileUUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NewStorage(apperr.CodeNotFound, "файл не найден: "+fileUUID, err)
		}
		return util.LogError("[FileRepository] не удалось прочитать состояние", err)
	}

	if !current.CanTransition(to) {
		return apperr.NewInvalidTransition("file", string(current), string(to))
	}

	if _, err := tx.ExecContext(ctx, `UPDATE files SET state = $2 WHERE uuid = $1 AND state = $3`, fileUUID, to, current); err != nil {
		return util.LogError("[FileRepository] не удалось обновить состояние", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO file_state_log (file_uuid, from_state, to_state, actor_id, actor_kind, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, fileUUID, current, to, actorID, actorKind, metadata)
	if err != nil {
		return util.LogError("[FileRepository] не удалось записать переход", err)
	}

	if err := tx.Commit(); err != nil {
		return util.LogError("[FileRepository] не удалось закоммитить переход", err)
	}
	return nil
}

// History : упорядоченная история переходов файла
func (r *FileRepository) History(ctx context.Context, exec sqlx.ExtContext, fileUUID string) ([]model.FileStateLog, error) {
	query := `
		SELECT id, file_uuid, from_state, to_state, actor_id, actor_kind, metadata, created_at
		FROM file_state_log
		WHERE file_uuid = $1
		ORDER BY id ASC
	`
	entries := []model.FileStateLog{}
	if err := sqlx.SelectContext(ctx, exec, &entries, query, fileUUID); err != nil {
		return nil, err
	}
	return entries, nil
}

// StorageUsed : сумма размеров файлов владельца вне {DELETED, EXPIRED}
func (r *FileRepository) StorageUsed(ctx context.Context, exec sqlx.ExtContext, ownerUUID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(size_bytes), 0)
		FROM files
		WHERE owner_uuid = $1 AND state NOT IN ('DELETED', 'EXPIRED')
	`
	var used int64
	if err := sqlx.GetContext(ctx, exec, &used, query, ownerUUID); err != nil {
		return 0, err
	}
	return used, nil
}

func (r *FileRepository) ListByOwner(ctx context.Context, exec sqlx.ExtContext, ownerUUID string) ([]model.File, error) {
	query := `
		SELECT uuid, owner_uuid, filename_original, storage_path, size_bytes,
		       mime_type, sha256, page_count, version, state, metadata, created_at, expires_at
		FROM files
		WHERE owner_uuid = $1 AND state <> 'DELETED'
		ORDER BY created_at DESC
	`
	files := []model.File{}
	if err := sqlx.SelectContext(ctx, exec, &files, query, ownerUUID); err != nil {
		return nil, err
	}
	return files, nil
}

// ListExpired : файлы с истёкшим сроком в {AVAILABLE, STORED_FINAL}
func (r *FileRepository) ListExpired(ctx context.Context, exec sqlx.ExtContext, now time.Time, limit int) ([]model.File, error) {
	query := `
		SELECT uuid, owner_uuid, filename_original, storage_path, size_bytes,
		       mime_type, sha256, page_count, version, state, metadata, created_at, expires_at
		FROM files
		WHERE state IN ('AVAILABLE', 'STORED_FINAL') AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`
	files := []model.File{}
	if err := sqlx.SelectContext(ctx, exec, &files, query, now, limit); err != nil {
		return nil, err
	}
	return files, nil
}

// ListGuestAged : гостевые файлы старше cutoff для реапера
func (r *FileRepository) ListGuestAged(ctx context.Context, exec sqlx.ExtContext, cutoff time.Time, limit int) ([]model.File, error) {
	query := `
		SELECT uuid, owner_uuid, filename_original, storage_path, size_bytes,
		       mime_type, sha256, page_count, version, state, metadata, created_at, expires_at
		FROM files
		WHERE owner_uuid IS NULL AND state IN ('AVAILABLE', 'STORED_FINAL') AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	files := []model.File{}
	if err := sqlx.SelectContext(ctx, exec, &files, query, cutoff, limit); err != nil {
		return nil, err
	}
	return files, nil
}

// HardDeleteByOwner : GDPR-каскад — строки файлов, версий и переходов
func (r *FileRepository) HardDeleteByOwner(ctx context.Context, exec sqlx.ExtContext, ownerUUID string) (int64, error) {
	if _, err := exec.ExecContext(ctx, `
		DELETE FROM file_versions WHERE file_uuid IN (SELECT uuid FROM files WHERE owner_uuid = $1)
	`, ownerUUID); err != nil {
		return 0, err
	}
	if _, err := exec.ExecContext(ctx, `
		DELETE FROM file_state_log WHERE file_uuid IN (SELECT uuid FROM files WHERE owner_uuid = $1)
	`, ownerUUID); err != nil {
		return 0, err
	}
	res, err := exec.ExecContext(ctx, `DELETE FROM files WHERE owner_uuid = $1`, ownerUUID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *FileRepository) BeginTX(ctx context.Context) (sqlx.ExtContext, func() error, func() error, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	return tx, func() error { return tx.Rollback() }, func() error { return tx.Commit() }, nil
}
