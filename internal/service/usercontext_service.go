package service

import (
	"context"
	"time"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/ports"
)

// tierSpec — статическая строка тарифной таблицы.
type tierSpec struct {
	StorageLimitBytes int64
	DailyJobLimit     int64
	MonthlyAIOpLimit  int64
	MaxConcurrentJobs int64
	MaxFileSizeBytes  int64
	Priority          int
	Queue             string
	FileTTL           time.Duration
}

// tierTable — квоты, приоритеты и сроки жизни файлов по тарифам.
// Значения в байтах; model.Unlimited (-1) — без лимита.
var tierTable = map[model.Tier]tierSpec{
	model.TierGuest: {
		StorageLimitBytes: 50 << 20,
		DailyJobLimit:     5,
		MonthlyAIOpLimit:  0,
		MaxConcurrentJobs: 1,
		MaxFileSizeBytes:  10 << 20,
		Priority:          -10,
		Queue:             model.QueueDefault,
		FileTTL:           time.Hour,
	},
	model.TierFree: {
		StorageLimitBytes: 100 << 20,
		DailyJobLimit:     20,
		MonthlyAIOpLimit:  3,
		MaxConcurrentJobs: 2,
		MaxFileSizeBytes:  25 << 20,
		Priority:          0,
		Queue:             model.QueueDefault,
		FileTTL:           30 * 24 * time.Hour,
	},
	model.TierPremium: {
		StorageLimitBytes: 10 << 30,
		DailyJobLimit:     200,
		MonthlyAIOpLimit:  100,
		MaxConcurrentJobs: 5,
		MaxFileSizeBytes:  200 << 20,
		Priority:          10,
		Queue:             model.QueueHighPriority,
		FileTTL:           365 * 24 * time.Hour,
	},
	model.TierTeam: {
		StorageLimitBytes: 100 << 30,
		DailyJobLimit:     1000,
		MonthlyAIOpLimit:  500,
		MaxConcurrentJobs: 10,
		MaxFileSizeBytes:  500 << 20,
		Priority:          20,
		Queue:             model.QueueHighPriority,
		FileTTL:           365 * 24 * time.Hour,
	},
	model.TierAdmin: {
		StorageLimitBytes: model.Unlimited,
		DailyJobLimit:     model.Unlimited,
		MonthlyAIOpLimit:  model.Unlimited,
		MaxConcurrentJobs: model.Unlimited,
		MaxFileSizeBytes:  model.Unlimited,
		Priority:          100,
		Queue:             model.QueueHighPriority,
		FileTTL:           0,
	},
}

// UserContextService — вычисляет эффективный набор возможностей
// принципала. Контекст производный и пересчитывается по требованию.
type UserContextService struct {
	db        *config.Database
	userRepo  ports.UserRepository
	fileRepo  ports.FileRepository
	quotaRepo ports.QuotaRepository
}

func NewUserContextService(db *config.Database, userRepo ports.UserRepository, fileRepo ports.FileRepository, quotaRepo ports.QuotaRepository) *UserContextService {
	return &UserContextService{db: db, userRepo: userRepo, fileRepo: fileRepo, quotaRepo: quotaRepo}
}

// Resolve : userUUID == "" означает анонимного вызывающего (guestIP
// обязателен). Для пользователей тариф выводится из роли и подписки.
func (s *UserContextService) Resolve(ctx context.Context, userUUID string, guestIP string) (*model.UserContext, error) {
	if userUUID == "" {
		return s.resolveGuest(ctx, guestIP)
	}

	user, err := s.userRepo.FindByUUID(ctx, s.db, userUUID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, apperr.NewSecurity("учётная запись деактивирована")
	}

	tier := resolveTier(user)
	spec := tierTable[tier]

	used, err := s.fileRepo.StorageUsed(ctx, s.db, userUUID)
	if err != nil {
		return nil, err
	}
	daily, err := s.quotaRepo.GetDailyJobs(ctx, userUUID, time.Now())
	if err != nil {
		return nil, err
	}

	suspended := user.IsSuspended
	premiumTier := tier == model.TierPremium || tier == model.TierTeam || tier == model.TierAdmin

	return &model.UserContext{
		UserUUID:           userUUID,
		Tier:               tier,
		SubscriptionStatus: user.SubscriptionStatus,
		StorageUsedBytes:   used,
		StorageLimitBytes:  spec.StorageLimitBytes,
		DailyJobCount:      int(daily),
		DailyJobLimit:      spec.DailyJobLimit,
		MonthlyAIOpLimit:   spec.MonthlyAIOpLimit,
		MaxConcurrentJobs:  spec.MaxConcurrentJobs,
		MaxFileSizeBytes:   spec.MaxFileSizeBytes,
		Priority:           spec.Priority,
		Queue:              spec.Queue,
		FileTTL:            spec.FileTTL,
		CanUpload:          !suspended && (spec.StorageLimitBytes == model.Unlimited || used < spec.StorageLimitBytes),
		CanProcess:         !suspended,
		CanUsePremium:      premiumTier && !suspended,
		CanUseAI:           spec.MonthlyAIOpLimit != 0 && !suspended,
		CanUseAutomation:   (tier == model.TierTeam || tier == model.TierAdmin) && !suspended,
		IsAdmin:            tier == model.TierAdmin,
	}, nil
}

func (s *UserContextService) resolveGuest(ctx context.Context, guestIP string) (*model.UserContext, error) {
	if guestIP == "" {
		return nil, apperr.NewSecurity("анонимный запрос без IP")
	}
	spec := tierTable[model.TierGuest]

	daily, err := s.quotaRepo.GetDailyJobs(ctx, guestIP, time.Now())
	if err != nil {
		return nil, err
	}

	return &model.UserContext{
		GuestIP:            guestIP,
		Tier:               model.TierGuest,
		SubscriptionStatus: model.SubscriptionNone,
		StorageLimitBytes:  spec.StorageLimitBytes,
		DailyJobCount:      int(daily),
		DailyJobLimit:      spec.DailyJobLimit,
		MonthlyAIOpLimit:   spec.MonthlyAIOpLimit,
		MaxConcurrentJobs:  spec.MaxConcurrentJobs,
		MaxFileSizeBytes:   spec.MaxFileSizeBytes,
		Priority:           spec.Priority,
		Queue:              spec.Queue,
		FileTTL:            spec.FileTTL,
		CanUpload:          true,
		CanProcess:         true,
	}, nil
}

// resolveTier : роль бьёт подписку; подписка TEAM бьёт прочие активные.
func resolveTier(user *model.User) model.Tier {
	if user.Role == model.RoleAdmin || user.Role == model.RoleSuperAdmin {
		return model.TierAdmin
	}
	subscribed := user.SubscriptionStatus == model.SubscriptionActive ||
		user.SubscriptionStatus == model.SubscriptionGrace
	if subscribed {
		if user.SubscriptionPlan == "TEAM" {
			return model.TierTeam
		}
		return model.TierPremium
	}
	return model.TierFree
}
