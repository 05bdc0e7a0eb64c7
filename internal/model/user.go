package model

import "time"

// Role — роль учётной записи.
type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// SubscriptionStatus — статус подписки пользователя.
type SubscriptionStatus string

const (
	SubscriptionNone   SubscriptionStatus = "NONE"
	SubscriptionActive SubscriptionStatus = "ACTIVE"
	SubscriptionGrace  SubscriptionStatus = "GRACE"
)

type User struct {
	UUID               string             `db:"uuid" json:"uuid"`
	Email              string             `db:"email" json:"email"`
	FirstName          string             `db:"first_name" json:"first_name"`
	LastName           string             `db:"last_name" json:"last_name"`
	Role               Role               `db:"role" json:"role"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	SubscriptionPlan   string             `db:"subscription_plan" json:"subscription_plan"`
	IsActive           bool               `db:"is_active" json:"is_active"`
	IsSuspended        bool               `db:"is_suspended" json:"is_suspended"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
}

// Tier — тариф, определяющий квоты, приоритет и возможности.
type Tier string

const (
	TierGuest   Tier = "GUEST"
	TierFree    Tier = "FREE"
	TierPremium Tier = "PREMIUM"
	TierTeam    Tier = "TEAM"
	TierAdmin   Tier = "ADMIN"
)

// Unlimited — маркер отсутствия лимита в числовых полях тарифа.
const Unlimited int64 = -1

// UserContext — производный (не хранимый) набор возможностей
// принципала. Пересчитывается по требованию.
type UserContext struct {
	UserUUID           string             `json:"user_uuid,omitempty"`
	GuestIP            string             `json:"guest_ip,omitempty"`
	Tier               Tier               `json:"tier"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	StorageUsedBytes   int64              `json:"storage_used_bytes"`
	StorageLimitBytes  int64              `json:"storage_limit_bytes"`
	DailyJobCount      int                `json:"daily_job_count"`
	DailyJobLimit      int64              `json:"daily_job_limit"`
	MonthlyAIOpCount   int                `json:"monthly_ai_op_count"`
	MonthlyAIOpLimit   int64              `json:"monthly_ai_op_limit"`
	MaxConcurrentJobs  int64              `json:"max_concurrent_jobs"`
	MaxFileSizeBytes   int64              `json:"max_file_size_bytes"`
	Priority           int                `json:"priority"`
	Queue              string             `json:"queue"`
	FileTTL            time.Duration      `json:"-"`
	CanUpload          bool               `json:"can_upload"`
	CanProcess         bool               `json:"can_process"`
	CanUsePremium      bool               `json:"can_use_premium"`
	CanUseAI           bool               `json:"can_use_ai"`
	CanUseAutomation   bool               `json:"can_use_automation"`
	IsAdmin            bool               `json:"is_admin"`
}

// Principal — идентификатор вызывающей стороны для учёта и audit.
// Для гостей возвращает IP, для пользователей — uuid.
func (c *UserContext) Principal() string {
	if c.UserUUID != "" {
		return c.UserUUID
	}
	return c.GuestIP
}

// ExpiresAt вычисляет срок жизни файла по тарифу; nil — без срока.
func (c *UserContext) ExpiresAt(now time.Time) *time.Time {
	if c.FileTTL <= 0 {
		return nil
	}
	t := now.Add(c.FileTTL)
	return &t
}
