package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rateguard/rateguard/internal/model"
)

// MemberRepo persists workspace memberships. The unique (workspace, user)
// key guarantees a user holds at most one role per workspace.
type MemberRepo struct{ db DBTX }

func NewMemberRepo(db DBTX) *MemberRepo { return &MemberRepo{db: db} }

// MemberWithUser is a membership joined with the member's identity for
// listing.
type MemberWithUser struct {
	model.WorkspaceMember
	Email    string
	FullName string
}

// MembershipWithWorkspace is a membership joined with its workspace, used by
// the profile projection.
type MembershipWithWorkspace struct {
	WorkspaceID uint64
	Name        string
	Slug        string
	Plan        string
	Role        model.Role
}

// Create inserts a membership row and populates its generated ID.
func (r *MemberRepo) Create(ctx context.Context, m *model.WorkspaceMember) error {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO workspace_members (workspace_id, user_id, role) VALUES (?,?,?)",
		m.WorkspaceID, m.UserID, m.Role)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyMember
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = uint64(id)
	return nil
}

// Get fetches the membership for a (workspace, user) pair.
func (r *MemberRepo) Get(ctx context.Context, workspaceID, userID uint64) (model.WorkspaceMember, error) {
	return r.getWhere(ctx, "workspace_id=? AND user_id=?", workspaceID, userID)
}

// GetByID fetches a membership by its row id.
func (r *MemberRepo) GetByID(ctx context.Context, id uint64) (model.WorkspaceMember, error) {
	return r.getWhere(ctx, "id=?", id)
}

func (r *MemberRepo) getWhere(ctx context.Context, where string, args ...any) (model.WorkspaceMember, error) {
	var m model.WorkspaceMember
	err := r.db.QueryRowContext(ctx,
		"SELECT id, workspace_id, user_id, role, joined_at FROM workspace_members WHERE "+where+" LIMIT 1",
		args...).Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WorkspaceMember{}, ErrNotFound
		}
		return model.WorkspaceMember{}, err
	}
	return m, nil
}

// List returns the workspace's members with identity fields, most privileged
// first.
func (r *MemberRepo) List(ctx context.Context, workspaceID uint64) ([]MemberWithUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.id, m.workspace_id, m.user_id, m.role, m.joined_at, u.email, u.full_name
		 FROM workspace_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.workspace_id=?
		 ORDER BY FIELD(m.role,'OWNER','ADMIN','DEVELOPER','VIEWER'), m.joined_at ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MemberWithUser
	for rows.Next() {
		var m MemberWithUser
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.JoinedAt, &m.Email, &m.FullName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListForUser returns the user's memberships joined with their active
// workspaces.
func (r *MemberRepo) ListForUser(ctx context.Context, userID uint64) ([]MembershipWithWorkspace, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT w.id, w.name, w.slug, w.plan, m.role
		 FROM workspace_members m
		 JOIN workspaces w ON w.id = m.workspace_id
		 WHERE m.user_id=? AND w.status='ACTIVE'
		 ORDER BY m.joined_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MembershipWithWorkspace
	for rows.Next() {
		var m MembershipWithWorkspace
		if err := rows.Scan(&m.WorkspaceID, &m.Name, &m.Slug, &m.Plan, &m.Role); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateRole changes a membership's role by row id.
func (r *MemberRepo) UpdateRole(ctx context.Context, id uint64, role model.Role) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE workspace_members SET role=? WHERE id=?", role, id)
	return err
}

// UpdateRoleByUser changes a membership's role by (workspace, user); used by
// the ownership-transfer transaction to demote the previous owner.
func (r *MemberRepo) UpdateRoleByUser(ctx context.Context, workspaceID, userID uint64, role model.Role) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE workspace_members SET role=? WHERE workspace_id=? AND user_id=?", role, workspaceID, userID)
	return err
}

// Delete removes a membership row.
func (r *MemberRepo) Delete(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM workspace_members WHERE id=?", id)
	return err
}
