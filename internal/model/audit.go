package model

import "time"

// AuditLog records a security-relevant action. Writes are best-effort: a
// failed insert must never fail the surrounding operation.
type AuditLog struct {
	ID         uint64
	UserID     *uint64
	Action     string
	Resource   string
	ResourceID string
	Details    string
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
}

// Audit actions recorded by the auth and workspace services.
const (
	AuditLoginSuccess         = "LOGIN_SUCCESS"
	AuditLoginFailed          = "LOGIN_FAILED"
	AuditPasswordChanged      = "PASSWORD_CHANGED"
	AuditSessionsRevoked      = "SESSIONS_REVOKED"
	AuditOwnershipTransferred = "OWNERSHIP_TRANSFERRED"
)
