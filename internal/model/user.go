package model

import "time"

// UserStatus is an explicit lifecycle state. Users are never hard-deleted;
// deactivation and deletion are status changes so every query filters on the
// same column instead of scattered null checks.
type UserStatus string

const (
	UserActive      UserStatus = "ACTIVE"
	UserDeactivated UserStatus = "DEACTIVATED"
	UserDeleted     UserStatus = "DELETED"
)

// User mirrors the 'users' table. PasswordHash is empty for accounts
// provisioned without a password (OAuth-backed, not supported here).
type User struct {
	ID                  uint64
	Email               string
	PasswordHash        string
	FullName            string
	EmailVerified       bool
	Status              UserStatus
	EmailVerifyToken    string
	EmailVerifyExpiry   *time.Time
	PasswordResetToken  string
	PasswordResetExpiry *time.Time
	LastLoginAt         *time.Time
	LastLoginIP         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
