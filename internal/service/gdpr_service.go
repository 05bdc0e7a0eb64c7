package service

import (
	"context"
	"log"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/ports"
	"pdf-pipeline-server/internal/util"
)

const exportAuditLimit = 1000

// ExportBundle — выгрузка данных пользователя по GDPR-запросу.
type ExportBundle struct {
	User     *model.User      `json:"user"`
	Files    []model.File     `json:"files"`
	Jobs     []model.Job      `json:"jobs"`
	AuditLog []model.AuditLog `json:"audit_log"`
}

// GDPRService — выгрузка и каскадное удаление пользовательских данных.
// Журнал аудита при удалении сохраняется.
type GDPRService struct {
	db        *config.Database
	userRepo  ports.UserRepository
	fileRepo  ports.FileRepository
	jobRepo   ports.JobRepository
	auditRepo ports.AuditRepository
	store     ports.Storage
	audit     ports.AuditService
}

func NewGDPRService(db *config.Database, userRepo ports.UserRepository, fileRepo ports.FileRepository,
	jobRepo ports.JobRepository, auditRepo ports.AuditRepository, store ports.Storage, audit ports.AuditService) *GDPRService {
	return &GDPRService{
		db:        db,
		userRepo:  userRepo,
		fileRepo:  fileRepo,
		jobRepo:   jobRepo,
		auditRepo: auditRepo,
		store:     store,
		audit:     audit,
	}
}

// ExportUserData : идентичность, файлы, задачи и последние 1000
// audit-строк. Сама выгрузка тоже попадает в аудит.
func (s *GDPRService) ExportUserData(ctx context.Context, userUUID string, reqCtx *model.RequestContext) (*ExportBundle, error) {
	user, err := s.userRepo.FindByUUID(ctx, s.db, userUUID)
	if err != nil {
		return nil, err
	}
	files, err := s.fileRepo.ListByOwner(ctx, s.db, userUUID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobRepo.ListByUser(ctx, s.db, userUUID, exportAuditLimit)
	if err != nil {
		return nil, err
	}
	auditRows, err := s.auditRepo.ListByUser(ctx, s.db, userUUID, exportAuditLimit)
	if err != nil {
		return nil, err
	}

	_ = s.audit.Log(ctx, model.AuditGDPRExport, &userUUID, "user", userUUID, nil, reqCtx)

	return &ExportBundle{User: user, Files: files, Jobs: jobs, AuditLog: auditRows}, nil
}

// DeleteUserData : удаление объектов хранилища, строк files и jobs,
// анонимизация учётной записи. Метаданные audit-строки фиксируют
// количество удалённого.
func (s *GDPRService) DeleteUserData(ctx context.Context, userUUID string, reqCtx *model.RequestContext) error {
	files, err := s.fileRepo.ListByOwner(ctx, s.db, userUUID)
	if err != nil {
		return err
	}
	for i := range files {
		if err := s.store.Delete(ctx, files[i].StoragePath); err != nil {
			log.Printf("[GDPRService] объект %s не удалён: %v", files[i].StoragePath, err)
		}
		if _, err := s.store.DeletePrefix(ctx, "outputs/"+files[i].UUID+"/"); err != nil {
			log.Printf("[GDPRService] выходы файла %s не удалены: %v", files[i].UUID, err)
		}
	}

	exec, rollback, commit, err := s.fileRepo.BeginTX(ctx)
	if err != nil {
		return util.LogError("[GDPRService] не удалось начать транзакцию", err)
	}
	defer rollback()

	jobsDeleted, err := s.jobRepo.DeleteByOwner(ctx, exec, userUUID)
	if err != nil {
		return util.LogError("[GDPRService] не удалось удалить задачи", err)
	}
	filesDeleted, err := s.fileRepo.HardDeleteByOwner(ctx, exec, userUUID)
	if err != nil {
		return util.LogError("[GDPRService] не удалось удалить файлы", err)
	}
	if err := s.userRepo.Anonymize(ctx, exec, userUUID); err != nil {
		return util.LogError("[GDPRService] не удалось анонимизировать пользователя", err)
	}
	if err := commit(); err != nil {
		return util.LogError("[GDPRService] не удалось закоммитить удаление", err)
	}

	return s.audit.Log(ctx, model.AuditGDPRDelete, &userUUID, "user", userUUID,
		model.Metadata{"files": filesDeleted, "jobs": jobsDeleted}, reqCtx)
}
