// Package repository persists the auth and workspace domain over MySQL.
// Each repository is bound to a DBTX, which either a *sql.DB or a *sql.Tx
// satisfies, so the same query code runs standalone or inside a unit of
// work.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rateguard/rateguard/internal/model"
)

// DBTX is the subset of database/sql used by the repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UserStore persists user identity records.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	GetByVerifyToken(ctx context.Context, token string) (model.User, error)
	GetByResetToken(ctx context.Context, token string) (model.User, error)
	UpdateLastLogin(ctx context.Context, id uint64, at time.Time, ip string) error
	MarkEmailVerified(ctx context.Context, id uint64) error
	SetVerifyToken(ctx context.Context, id uint64, token string, expiry time.Time) error
	SetResetToken(ctx context.Context, id uint64, token string, expiry time.Time) error
	UpdatePassword(ctx context.Context, id uint64, hash string) error
}

// SessionStore persists refresh-token sessions (hashes only).
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByHash(ctx context.Context, hash string) (model.Session, error)
	Revoke(ctx context.Context, id uint64) (int64, error)
	RevokeByHashForUser(ctx context.Context, userID uint64, hash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) (int64, error)
}

// WorkspaceStore persists workspaces.
type WorkspaceStore interface {
	Create(ctx context.Context, w *model.Workspace) error
	GetByID(ctx context.Context, id uint64) (model.Workspace, error)
	GetBySlug(ctx context.Context, slug string) (model.Workspace, error)
	FirstOwnedByUser(ctx context.Context, userID uint64) (model.Workspace, error)
	ListForUser(ctx context.Context, userID uint64) ([]WorkspaceWithRole, error)
	Update(ctx context.Context, id uint64, name string) error
	SoftDelete(ctx context.Context, id uint64) error
	SetOwner(ctx context.Context, id, ownerID uint64) error
}

// MemberStore persists workspace memberships.
type MemberStore interface {
	Create(ctx context.Context, m *model.WorkspaceMember) error
	Get(ctx context.Context, workspaceID, userID uint64) (model.WorkspaceMember, error)
	GetByID(ctx context.Context, id uint64) (model.WorkspaceMember, error)
	List(ctx context.Context, workspaceID uint64) ([]MemberWithUser, error)
	ListForUser(ctx context.Context, userID uint64) ([]MembershipWithWorkspace, error)
	UpdateRole(ctx context.Context, id uint64, role model.Role) error
	UpdateRoleByUser(ctx context.Context, workspaceID, userID uint64, role model.Role) error
	Delete(ctx context.Context, id uint64) error
}

// InvitationStore persists workspace invitations.
type InvitationStore interface {
	Create(ctx context.Context, inv *model.WorkspaceInvitation) error
	GetByToken(ctx context.Context, tok string) (model.WorkspaceInvitation, error)
	GetPending(ctx context.Context, workspaceID, id uint64) (model.WorkspaceInvitation, error)
	PendingExists(ctx context.Context, workspaceID uint64, email string) (bool, error)
	MarkAccepted(ctx context.Context, id uint64) error
	MarkDeclined(ctx context.Context, id uint64) error
	Delete(ctx context.Context, id uint64) error
	ListPending(ctx context.Context, workspaceID uint64) ([]InvitationWithInviter, error)
}

// AuditStore records security-relevant events.
type AuditStore interface {
	Insert(ctx context.Context, rec *model.AuditLog) error
}

// Stores bundles every store over one DBTX. Services hold a Stores built on
// the pool; inside UnitOfWork.WithTx they receive a second Stores bound to
// the transaction.
type Stores struct {
	Users       UserStore
	Sessions    SessionStore
	Workspaces  WorkspaceStore
	Members     MemberStore
	Invitations InvitationStore
	Audit       AuditStore
}

// NewStores builds the MySQL-backed stores over db.
func NewStores(db DBTX) Stores {
	return Stores{
		Users:       NewUserRepo(db),
		Sessions:    NewSessionRepo(db),
		Workspaces:  NewWorkspaceRepo(db),
		Members:     NewMemberRepo(db),
		Invitations: NewInvitationRepo(db),
		Audit:       NewAuditRepo(db),
	}
}

// UnitOfWork runs a closure of store operations as one all-or-nothing
// transaction. The Stores passed to fn are transaction-bound; any error
// from fn rolls everything back.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(Stores) error) error
}

// SQLUnitOfWork is the MySQL implementation of UnitOfWork.
type SQLUnitOfWork struct{ db *sql.DB }

func NewUnitOfWork(db *sql.DB) *SQLUnitOfWork { return &SQLUnitOfWork{db: db} }

func (u *SQLUnitOfWork) WithTx(ctx context.Context, fn func(Stores) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(NewStores(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
