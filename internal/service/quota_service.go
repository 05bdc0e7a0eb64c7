package service

import (
	"context"
	"fmt"
	"time"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/ports"
)

// QuotaService — решения о допуске: хранилище, параллелизм, суточные
// лимиты. Сервис ничего не хранит сам, быстрый слой — QuotaRepository.
type QuotaService struct {
	db        *config.Database
	quotaRepo ports.QuotaRepository
	jobRepo   ports.JobRepository
}

func NewQuotaService(db *config.Database, quotaRepo ports.QuotaRepository, jobRepo ports.JobRepository) *QuotaService {
	return &QuotaService{db: db, quotaRepo: quotaRepo, jobRepo: jobRepo}
}

// CanUploadFile : проверка остатка хранилища и лимита размера файла.
func (s *QuotaService) CanUploadFile(ctx context.Context, uc *model.UserContext, sizeBytes int64) (bool, string) {
	if !uc.CanUpload {
		return false, apperr.CodeStorageFull
	}
	if uc.MaxFileSizeBytes != model.Unlimited && sizeBytes > uc.MaxFileSizeBytes {
		return false, apperr.CodeTooLarge
	}
	if uc.StorageLimitBytes != model.Unlimited && uc.StorageUsedBytes+sizeBytes > uc.StorageLimitBytes {
		return false, apperr.CodeStorageFull
	}
	return true, ""
}

// CanStartJob : параллелизм считается по живым задачам в БД,
// суточный лимит — по счётчику в Redis.
func (s *QuotaService) CanStartJob(ctx context.Context, uc *model.UserContext) (bool, string, error) {
	if !uc.CanProcess {
		return false, apperr.CodeJobConcurrency, nil
	}

	if uc.MaxConcurrentJobs != model.Unlimited {
		active, err := s.jobRepo.CountActiveByPrincipal(ctx, s.db, uc.Principal())
		if err != nil {
			return false, "", err
		}
		if int64(active) >= uc.MaxConcurrentJobs {
			return false, apperr.CodeJobConcurrency, nil
		}
	}

	if uc.DailyJobLimit != model.Unlimited {
		daily, err := s.quotaRepo.GetDailyJobs(ctx, uc.Principal(), time.Now())
		if err != nil {
			return false, "", err
		}
		if daily >= uc.DailyJobLimit {
			if uc.Tier == model.TierGuest {
				return false, apperr.CodeGuestLimit, nil
			}
			return false, apperr.CodeDailyLimit, nil
		}
	}

	return true, "", nil
}

// Reserve : TTL-резервация хранилища до фактической записи файла.
// Отказ — QuotaError, без побочных эффектов.
func (s *QuotaService) Reserve(ctx context.Context, uc *model.UserContext, bytes int64) (string, error) {
	if ok, reason := s.CanUploadFile(ctx, uc, bytes); !ok {
		return "", apperr.NewQuota(reason, fmt.Sprintf("загрузка %d байт отклонена", bytes))
	}
	return s.quotaRepo.Reserve(ctx, uc.Principal(), bytes, uc.StorageUsedBytes, uc.StorageLimitBytes)
}

func (s *QuotaService) Commit(ctx context.Context, principal, reservationID string) error {
	return s.quotaRepo.Commit(ctx, principal, reservationID)
}

func (s *QuotaService) Release(ctx context.Context, principal, reservationID string) error {
	return s.quotaRepo.Release(ctx, principal, reservationID)
}

// CountJobStart фиксирует запуск задачи в суточном счётчике принципала.
func (s *QuotaService) CountJobStart(ctx context.Context, principal string) error {
	_, err := s.quotaRepo.IncrDailyJobs(ctx, principal, time.Now())
	return err
}
