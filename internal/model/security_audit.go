package model

import (
	"time"
)

// SecurityAuditEntry records the outcome of every inbound webhook call,
// whether or not the payload was ever parsed. Write-once, append-only.
type SecurityAuditEntry struct {
	ID int64 `json:"-" gorm:"primaryKey;autoIncrement"`
	// Provider is the {provider} path segment of the webhook URL.
	Provider string `json:"provider" gorm:"column:provider;index"`
	// CallerIP is the remote address the request arrived from.
	CallerIP  string `json:"caller_ip" gorm:"column:caller_ip"`
	UserAgent string `json:"user_agent" gorm:"column:user_agent"`
	// WebhookID is the provider-supplied webhook id header, if any.
	WebhookID      string `json:"webhook_id,omitempty" gorm:"column:webhook_id"`
	SecretValid    bool   `json:"secret_valid" gorm:"column:secret_valid"`
	SignatureValid bool   `json:"signature_valid" gorm:"column:signature_valid"`
	TimestampValid bool   `json:"timestamp_valid" gorm:"column:timestamp_valid"`
	IPAllowed      bool   `json:"ip_allowed" gorm:"column:ip_allowed"`
	// Allowed is the overall decision; true only when every check passed.
	Allowed bool `json:"allowed" gorm:"column:allowed;index"`
	// RejectionReason is empty on allow.
	RejectionReason string    `json:"rejection_reason,omitempty" gorm:"column:rejection_reason"`
	CreatedAt       time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (SecurityAuditEntry) TableName() string {
	return "security_audit_entries"
}
