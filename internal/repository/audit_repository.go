package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/model"
)

// AuditRepository — append-only журнал аудита.
// Методов обновления у репозитория нет намеренно; кроме того, таблица
// защищена триггером audit_log_immutable (см. schema.sql).
type AuditRepository struct {
	*config.Database
}

func NewAuditRepository(database *config.Database) *AuditRepository {
	return &AuditRepository{database}
}

func (r *AuditRepository) Insert(ctx context.Context, exec sqlx.ExtContext, entry *model.AuditLog) error {
	if !entry.Action.Valid() {
		return fmt.Errorf("[AuditRepository] неизвестное действие аудита: %s", entry.Action)
	}
	query := `
		INSERT INTO audit_log (action, user_uuid, resource_type, resource_id, ip_address, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := exec.ExecContext(ctx, query,
		entry.Action, entry.UserUUID, entry.ResourceType, entry.ResourceID,
		entry.IPAddress, entry.UserAgent, entry.Metadata)
	return err
}

func (r *AuditRepository) ListByUser(ctx context.Context, exec sqlx.ExtContext, userUUID string, limit int) ([]model.AuditLog, error) {
	query := `
		SELECT id, action, user_uuid, resource_type, resource_id, ip_address, user_agent, metadata, created_at
		FROM audit_log
		WHERE user_uuid = $1
		ORDER BY id DESC
		LIMIT $2
	`
	entries := []model.AuditLog{}
	if err := sqlx.SelectContext(ctx, exec, &entries, query, userUUID, limit); err != nil {
		return nil, err
	}
	return entries, nil
}
