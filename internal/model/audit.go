package model

import "time"

// AuditAction — закрытый набор действий, попадающих в журнал аудита.
type AuditAction string

const (
	AuditLogin              AuditAction = "LOGIN"
	AuditLogout             AuditAction = "LOGOUT"
	AuditFileUpload         AuditAction = "FILE_UPLOAD"
	AuditFileDownload       AuditAction = "FILE_DOWNLOAD"
	AuditFileDelete         AuditAction = "FILE_DELETE"
	AuditFileShare          AuditAction = "FILE_SHARE"
	AuditPayment            AuditAction = "PAYMENT"
	AuditSubscriptionChange AuditAction = "SUBSCRIPTION_CHANGE"
	AuditPasswordChange     AuditAction = "PASSWORD_CHANGE"
	AuditGDPRExport         AuditAction = "GDPR_EXPORT"
	AuditGDPRDelete         AuditAction = "GDPR_DELETE"
	AuditAdminAction        AuditAction = "ADMIN_ACTION"
	AuditSecurityAlert      AuditAction = "SECURITY_ALERT"
)

var auditActions = map[AuditAction]bool{
	AuditLogin: true, AuditLogout: true,
	AuditFileUpload: true, AuditFileDownload: true, AuditFileDelete: true, AuditFileShare: true,
	AuditPayment: true, AuditSubscriptionChange: true, AuditPasswordChange: true,
	AuditGDPRExport: true, AuditGDPRDelete: true,
	AuditAdminAction: true, AuditSecurityAlert: true,
}

func (a AuditAction) Valid() bool {
	return auditActions[a]
}

// AuditLog — append-only строка аудита. После вставки неизменяема,
// слой хранения отклоняет обновления.
type AuditLog struct {
	ID           int64       `db:"id" json:"id"`
	Action       AuditAction `db:"action" json:"action"`
	UserUUID     *string     `db:"user_uuid" json:"user_uuid,omitempty"`
	ResourceType string      `db:"resource_type" json:"resource_type"`
	ResourceID   string      `db:"resource_id" json:"resource_id"`
	IPAddress    string      `db:"ip_address" json:"ip_address"`
	UserAgent    string      `db:"user_agent" json:"user_agent"`
	Metadata     Metadata    `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}

// RequestContext — клиентский контекст запроса для audit-строк.
type RequestContext struct {
	IPAddress string
	UserAgent string
}
