package service

import (
	"context"

	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/ports"
)

// AccessControlService — проверка прав на файл. Отказ — SecurityError
// и строка SECURITY_ALERT в аудите, тихого fallback нет.
type AccessControlService struct {
	audit ports.AuditService
}

func NewAccessControlService(audit ports.AuditService) *AccessControlService {
	return &AccessControlService{audit: audit}
}

func (s *AccessControlService) CanAccessFile(ctx context.Context, uc *model.UserContext, file *model.File) error {
	if uc.IsAdmin {
		return nil
	}

	// гостям доступны только их собственные гостевые загрузки
	if uc.UserUUID == "" {
		if file.IsGuest() && file.Metadata != nil {
			if ip, ok := file.Metadata["guest_ip"].(string); ok && ip == uc.GuestIP {
				return nil
			}
		}
		return s.deny(ctx, uc, file, "анонимный доступ к чужому файлу")
	}

	if file.OwnerUUID != nil && *file.OwnerUUID == uc.UserUUID {
		return nil
	}
	return s.deny(ctx, uc, file, "файл принадлежит другому пользователю")
}

func (s *AccessControlService) deny(ctx context.Context, uc *model.UserContext, file *model.File, reason string) error {
	var userUUID *string
	if uc.UserUUID != "" {
		u := uc.UserUUID
		userUUID = &u
	}
	_ = s.audit.Log(ctx, model.AuditSecurityAlert, userUUID, "file", file.UUID,
		model.Metadata{"reason": reason, "principal": uc.Principal()}, nil)
	return apperr.NewSecurity(reason)
}
