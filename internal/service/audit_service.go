package service

import (
	"context"
	"log"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/ports"
)

// AuditLogService — единственный путь записи audit-строк.
// Ошибка записи логируется, но не валит бизнес-операцию: аудит не
// должен блокировать конвейер.
type AuditLogService struct {
	db        *config.Database
	auditRepo ports.AuditRepository
}

func NewAuditLogService(db *config.Database, auditRepo ports.AuditRepository) *AuditLogService {
	return &AuditLogService{db: db, auditRepo: auditRepo}
}

func (s *AuditLogService) Log(ctx context.Context, action model.AuditAction, userUUID *string, resourceType, resourceID string, metadata model.Metadata, reqCtx *model.RequestContext) error {
	entry := &model.AuditLog{
		Action:       action,
		UserUUID:     userUUID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
	}
	if reqCtx != nil {
		entry.IPAddress = reqCtx.IPAddress
		entry.UserAgent = reqCtx.UserAgent
	}

	if err := s.auditRepo.Insert(ctx, s.db, entry); err != nil {
		log.Printf("[AuditLogService] не удалось записать строку аудита %s: %v", action, err)
		return err
	}
	return nil
}
