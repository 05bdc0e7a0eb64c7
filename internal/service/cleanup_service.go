package service

import (
	"context"
	"log"
	"time"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/ports"
)

const cleanupBatchSize = 500

// CleanupService — плановые задачи жизненного цикла. Все операции
// идемпотентны: повторный запуск безопасен.
type CleanupService struct {
	db        *config.Database
	fileRepo  ports.FileRepository
	jobRepo   ports.JobRepository
	quotaRepo ports.QuotaRepository
	store     ports.Storage
}

func NewCleanupService(db *config.Database, fileRepo ports.FileRepository, jobRepo ports.JobRepository,
	quotaRepo ports.QuotaRepository, store ports.Storage) *CleanupService {
	return &CleanupService{db: db, fileRepo: fileRepo, jobRepo: jobRepo, quotaRepo: quotaRepo, store: store}
}

// ExpireAgedFiles : файлы с expires_at <= now переходят в EXPIRED.
// Объект в хранилище не трогаем — его заберёт удаление или реапер.
func (s *CleanupService) ExpireAgedFiles(ctx context.Context, now time.Time) (int, error) {
	files, err := s.fileRepo.ListExpired(ctx, s.db, now, cleanupBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range files {
		f := &files[i]
		if f.State == model.StateStoredFinal {
			// до AVAILABLE файл не дошёл, EXPIRED достижим только оттуда
			if err := s.fileRepo.Transition(ctx, f.UUID, model.StateAvailable, "cleanup", model.ActorSystem, nil); err != nil {
				log.Printf("[CleanupService] файл %s не переведён в AVAILABLE: %v", f.UUID, err)
				continue
			}
		}
		if err := s.fileRepo.Transition(ctx, f.UUID, model.StateExpired, "cleanup", model.ActorSystem,
			model.Metadata{"expired_at": now.Format(time.RFC3339)}); err != nil {
			log.Printf("[CleanupService] файл %s не переведён в EXPIRED: %v", f.UUID, err)
			continue
		}
		expired++
	}
	return expired, nil
}

// ReapGuestFiles : гостевые загрузки старше часа — объект удаляется из
// хранилища, запись переходит в DELETED.
func (s *CleanupService) ReapGuestFiles(ctx context.Context, now time.Time) (int, error) {
	files, err := s.fileRepo.ListGuestAged(ctx, s.db, now.Add(-time.Hour), cleanupBatchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for i := range files {
		f := &files[i]
		if err := s.store.Delete(ctx, f.StoragePath); err != nil {
			log.Printf("[CleanupService] объект %s не удалён: %v", f.StoragePath, err)
		}
		if _, err := s.store.DeletePrefix(ctx, "outputs/"+f.UUID+"/"); err != nil {
			log.Printf("[CleanupService] выходы файла %s не удалены: %v", f.UUID, err)
		}

		if f.State == model.StateStoredFinal {
			if err := s.fileRepo.Transition(ctx, f.UUID, model.StateAvailable, "guest-reaper", model.ActorSystem, nil); err != nil {
				log.Printf("[CleanupService] файл %s не переведён в AVAILABLE: %v", f.UUID, err)
				continue
			}
		}
		if err := s.fileRepo.Transition(ctx, f.UUID, model.StateDeleted, "guest-reaper", model.ActorSystem, nil); err != nil {
			log.Printf("[CleanupService] файл %s не переведён в DELETED: %v", f.UUID, err)
			continue
		}
		reaped++
	}
	return reaped, nil
}

// PruneJobs : удаление терминальных задач старше retention-порога.
func (s *CleanupService) PruneJobs(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return s.jobRepo.PruneTerminal(ctx, s.db, now.Add(-retention))
}

// RecomputeQuota : пересчёт занятого хранилища пользователя из БД.
func (s *CleanupService) RecomputeQuota(ctx context.Context, userUUID string) (int64, error) {
	return s.fileRepo.StorageUsed(ctx, s.db, userUUID)
}

// ResetDailyCounters : принудительный сброс суточных счётчиков в полночь.
func (s *CleanupService) ResetDailyCounters(ctx context.Context) (int64, error) {
	return s.quotaRepo.ResetDailyCounters(ctx)
}
