package model

import "time"

// Role is a workspace role. Roles form a total order; Level exposes it for
// comparisons. OWNER is special: exactly one membership row per workspace may
// carry it, and it must belong to the workspace's OwnerID.
type Role string

const (
	RoleOwner     Role = "OWNER"
	RoleAdmin     Role = "ADMIN"
	RoleDeveloper Role = "DEVELOPER"
	RoleViewer    Role = "VIEWER"
)

// Level returns the rank of the role, higher meaning more privileged.
// Unknown roles rank below VIEWER.
func (r Role) Level() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleDeveloper:
		return 1
	case RoleViewer:
		return 0
	}
	return -1
}

// Valid reports whether r is one of the four defined roles.
func (r Role) Valid() bool { return r.Level() >= 0 }

// WorkspaceStatus is the workspace lifecycle state.
type WorkspaceStatus string

const (
	WorkspaceActive  WorkspaceStatus = "ACTIVE"
	WorkspaceDeleted WorkspaceStatus = "DELETED"
)

// Workspace is a tenant container. Slug is globally unique and URL-safe.
type Workspace struct {
	ID        uint64
	Name      string
	Slug      string
	OwnerID   uint64
	Plan      string
	Status    WorkspaceStatus
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkspaceMember is a (workspace, user) pair with a role. The pair is
// unique: a user holds at most one role per workspace.
type WorkspaceMember struct {
	ID          uint64
	WorkspaceID uint64
	UserID      uint64
	Role        Role
	JoinedAt    time.Time
}

// WorkspaceInvitation is a pending offer to join a workspace. It is terminal
// once accepted or declined, and implicitly invalid past ExpiresAt. Role is
// never OWNER; ownership only moves through an explicit transfer.
type WorkspaceInvitation struct {
	ID          uint64
	WorkspaceID uint64
	Email       string
	Role        Role
	Token       string
	InvitedBy   uint64
	ExpiresAt   time.Time
	AcceptedAt  *time.Time
	DeclinedAt  *time.Time
	CreatedAt   time.Time
}

// Pending reports whether the invitation can still be accepted at the given time.
func (i WorkspaceInvitation) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && i.DeclinedAt == nil && now.Before(i.ExpiresAt)
}
