package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/google/uuid"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/ports"
	"pdf-pipeline-server/internal/storage"
)

// допустимые типы входных файлов конвейера
var defaultAllowedMimeTypes = []string{
	"application/pdf", "image/png", "image/jpeg",
	"application/zip", "application/rtf", "text/plain",
}

// порог, после которого загрузка идёт multipart-путём
const multipartThreshold = 64 << 20

// FileService — конвейер файла: резервация квоты, загрузка во временный
// путь, валидация, регистрация и переходы состояний, выдача подписанных
// ссылок, удаление.
type FileService struct {
	db          *config.Database
	fileRepo    ports.FileRepository
	versionRepo ports.VersionRepository
	store       ports.Storage
	validator   ports.FileValidator
	quota       *QuotaService
	access      ports.AccessService
	audit       ports.AuditService
	signedTTL   time.Duration
	chunkSize   int64
}

func NewFileService(db *config.Database, fileRepo ports.FileRepository, versionRepo ports.VersionRepository,
	store ports.Storage, validator ports.FileValidator, quota *QuotaService,
	access ports.AccessService, audit ports.AuditService, signedTTL time.Duration, chunkSize int64) *FileService {
	if signedTTL <= 0 {
		signedTTL = time.Hour
	}
	return &FileService{
		db:          db,
		fileRepo:    fileRepo,
		versionRepo: versionRepo,
		store:       store,
		validator:   validator,
		quota:       quota,
		access:      access,
		audit:       audit,
		signedTTL:   signedTTL,
		chunkSize:   chunkSize,
	}
}

// Upload : полный путь допуска файла —
// резервация квоты -> CREATED -> UPLOADING -> валидация -> VALIDATED ->
// запись в хранилище -> TEMP_STORED -> METADATA_REGISTERED -> commit.
// Любой сбой освобождает резервацию; частичные объекты не остаются видимыми.
func (s *FileService) Upload(ctx context.Context, uc *model.UserContext, filename string, reader io.ReadSeeker, reqCtx *model.RequestContext) (*model.File, error) {
	size, err := reader.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	reservationID, err := s.quota.Reserve(ctx, uc, size)
	if err != nil {
		return nil, err
	}

	file, err := s.runUpload(ctx, uc, filename, reader, size, reqCtx)
	if err != nil {
		if relErr := s.quota.Release(ctx, uc.Principal(), reservationID); relErr != nil {
			log.Printf("[FileService] резервация %s не освобождена: %v", reservationID, relErr)
		}
		return nil, err
	}

	if err := s.quota.Commit(ctx, uc.Principal(), reservationID); err != nil {
		log.Printf("[FileService] резервация %s не закоммичена: %v", reservationID, err)
	}
	return file, nil
}

func (s *FileService) runUpload(ctx context.Context, uc *model.UserContext, filename string, reader io.ReadSeeker, size int64, reqCtx *model.RequestContext) (*model.File, error) {
	now := time.Now()
	storagePath := storage.UploadPath(uc.Principal(), now, path.Base(filename))

	file := &model.File{
		UUID:             uuid.New().String(),
		FilenameOriginal: path.Base(filename),
		StoragePath:      storagePath,
		SizeBytes:        size,
		Version:          1,
		State:            model.StateCreated,
		Metadata:         model.Metadata{},
		ExpiresAt:        uc.ExpiresAt(now),
	}
	if uc.UserUUID != "" {
		u := uc.UserUUID
		file.OwnerUUID = &u
	} else {
		file.Metadata["guest_ip"] = uc.GuestIP
	}

	if err := s.fileRepo.Create(ctx, s.db, file); err != nil {
		return nil, err
	}

	actor := uc.Principal()
	fail := func(stage string, cause error) (*model.File, error) {
		if trErr := s.fileRepo.Transition(ctx, file.UUID, model.StateFailed, actor, model.ActorSystem,
			model.Metadata{"stage": stage, "error": cause.Error()}); trErr != nil {
			log.Printf("[FileService] файл %s не переведён в FAILED: %v", file.UUID, trErr)
		}
		return nil, cause
	}

	if err := s.fileRepo.Transition(ctx, file.UUID, model.StateUploading, actor, model.ActorUser, nil); err != nil {
		return nil, err
	}

	result, err := s.validator.Validate(ctx, reader, ports.ValidationPolicy{
		AllowedMimeTypes: defaultAllowedMimeTypes,
		MaxSizeBytes:     uc.MaxFileSizeBytes,
		VirusScan:        true,
	})
	if err != nil {
		return fail("validation", err)
	}
	if err := s.fileRepo.Transition(ctx, file.UUID, model.StateValidated, actor, model.ActorSystem,
		model.Metadata{"mime_type": result.MimeType, "sha256": result.Sha256}); err != nil {
		return nil, err
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return fail("upload", err)
	}
	if size > multipartThreshold {
		err = s.store.UploadMultipart(ctx, storagePath, reader, s.chunkSize)
	} else {
		err = s.store.Upload(ctx, storagePath, reader, result.MimeType, map[string]string{"sha256": result.Sha256})
	}
	if err != nil {
		return fail("storage", err)
	}
	if err := s.fileRepo.Transition(ctx, file.UUID, model.StateTempStored, actor, model.ActorSystem, nil); err != nil {
		return nil, err
	}

	file.MimeType = result.MimeType
	file.Sha256 = result.Sha256
	file.PageCount = result.PageCount
	file.SizeBytes = result.SizeBytes
	if result.IsEncrypted {
		file.Metadata["is_encrypted"] = true
	}
	if result.ScanSkipped {
		file.Metadata["scan_skipped"] = true
	}
	if err := s.fileRepo.UpdateValidationInfo(ctx, s.db, file); err != nil {
		return nil, err
	}
	if err := s.fileRepo.Transition(ctx, file.UUID, model.StateMetadataRegistered, actor, model.ActorSystem, nil); err != nil {
		return nil, err
	}
	file.State = model.StateMetadataRegistered

	var userUUID *string
	if uc.UserUUID != "" {
		u := uc.UserUUID
		userUUID = &u
	}
	_ = s.audit.Log(ctx, model.AuditFileUpload, userUUID, "file", file.UUID,
		model.Metadata{"size_bytes": file.SizeBytes, "mime_type": file.MimeType}, reqCtx)

	return file, nil
}

func (s *FileService) Get(ctx context.Context, uc *model.UserContext, fileUUID string) (*model.File, error) {
	file, err := s.fileRepo.GetByUUID(ctx, s.db, fileUUID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanAccessFile(ctx, uc, file); err != nil {
		return nil, err
	}
	return file, nil
}

func (s *FileService) History(ctx context.Context, uc *model.UserContext, fileUUID string) ([]model.FileStateLog, error) {
	if _, err := s.Get(ctx, uc, fileUUID); err != nil {
		return nil, err
	}
	return s.fileRepo.History(ctx, s.db, fileUUID)
}

func (s *FileService) ListVersions(ctx context.Context, uc *model.UserContext, fileUUID string) ([]model.FileVersion, error) {
	if _, err := s.Get(ctx, uc, fileUUID); err != nil {
		return nil, err
	}
	return s.versionRepo.ListByFile(ctx, s.db, fileUUID)
}

func (s *FileService) ListByOwner(ctx context.Context, ownerUUID string) ([]model.File, error) {
	return s.fileRepo.ListByOwner(ctx, s.db, ownerUUID)
}

// SignedDownloadURL : подписанная GET-ссылка на последнюю версию
// AVAILABLE-файла. Скачивание попадает в аудит.
func (s *FileService) SignedDownloadURL(ctx context.Context, uc *model.UserContext, fileUUID string, reqCtx *model.RequestContext) (string, error) {
	file, err := s.Get(ctx, uc, fileUUID)
	if err != nil {
		return "", err
	}
	if file.State != model.StateAvailable {
		return "", apperr.NewValidation(apperr.CodeInvalidType,
			fmt.Sprintf("файл в состоянии %s, скачивание доступно из AVAILABLE", file.State))
	}

	downloadPath := file.StoragePath
	if latest, err := s.versionRepo.GetLatest(ctx, s.db, fileUUID); err == nil && latest != nil {
		downloadPath = latest.StoragePath
	}

	url, err := s.store.SignedURL(ctx, downloadPath, ports.SignedGet, s.signedTTL)
	if err != nil {
		return "", err
	}

	var userUUID *string
	if uc.UserUUID != "" {
		u := uc.UserUUID
		userUUID = &u
	}
	_ = s.audit.Log(ctx, model.AuditFileDownload, userUUID, "file", fileUUID, nil, reqCtx)
	return url, nil
}

// Delete : объекты файла (включая все версии в outputs/) удаляются из
// хранилища, запись переходит в DELETED.
func (s *FileService) Delete(ctx context.Context, uc *model.UserContext, fileUUID string, reqCtx *model.RequestContext) error {
	file, err := s.Get(ctx, uc, fileUUID)
	if err != nil {
		return err
	}
	if file.State == model.StateDeleted {
		return nil
	}

	if err := s.store.Delete(ctx, file.StoragePath); err != nil {
		log.Printf("[FileService] объект %s не удалён: %v", file.StoragePath, err)
	}
	if _, err := s.store.DeletePrefix(ctx, "outputs/"+file.UUID+"/"); err != nil {
		log.Printf("[FileService] выходы файла %s не удалены: %v", file.UUID, err)
	}

	if err := s.fileRepo.Transition(ctx, fileUUID, model.StateDeleted, uc.Principal(), model.ActorUser, nil); err != nil {
		return err
	}

	var userUUID *string
	if uc.UserUUID != "" {
		u := uc.UserUUID
		userUUID = &u
	}
	return s.audit.Log(ctx, model.AuditFileDelete, userUUID, "file", fileUUID,
		model.Metadata{"size_bytes": file.SizeBytes}, reqCtx)
}
