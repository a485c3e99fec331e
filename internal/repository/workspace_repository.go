package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rateguard/rateguard/internal/model"
)

// WorkspaceRepo persists workspaces. Reads filter on status so soft-deleted
// workspaces behave as absent everywhere.
type WorkspaceRepo struct{ db DBTX }

func NewWorkspaceRepo(db DBTX) *WorkspaceRepo { return &WorkspaceRepo{db: db} }

// WorkspaceWithRole is a workspace joined with the querying user's role.
type WorkspaceWithRole struct {
	model.Workspace
	Role model.Role
}

const workspaceColumns = "id, name, slug, owner_id, plan, status, deleted_at, created_at, updated_at"

// Create inserts a workspace and populates its generated ID.
func (r *WorkspaceRepo) Create(ctx context.Context, w *model.Workspace) error {
	if w.Plan == "" {
		w.Plan = "free"
	}
	if w.Status == "" {
		w.Status = model.WorkspaceActive
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO workspaces (name, slug, owner_id, plan, status) VALUES (?,?,?,?,?)",
		w.Name, w.Slug, w.OwnerID, w.Plan, w.Status)
	if err != nil {
		if isDuplicate(err) {
			return ErrSlugExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	w.ID = uint64(id)
	return nil
}

// GetByID fetches an active workspace by id.
func (r *WorkspaceRepo) GetByID(ctx context.Context, id uint64) (model.Workspace, error) {
	return r.getWhere(ctx, "id=?", id)
}

// GetBySlug fetches an active workspace by slug.
func (r *WorkspaceRepo) GetBySlug(ctx context.Context, slug string) (model.Workspace, error) {
	return r.getWhere(ctx, "slug=?", slug)
}

// FirstOwnedByUser returns the user's oldest owned workspace, the one
// surfaced as the default after login.
func (r *WorkspaceRepo) FirstOwnedByUser(ctx context.Context, userID uint64) (model.Workspace, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+workspaceColumns+" FROM workspaces WHERE owner_id=? AND status='ACTIVE' ORDER BY created_at ASC LIMIT 1",
		userID)
	return scanWorkspace(row)
}

func (r *WorkspaceRepo) getWhere(ctx context.Context, where string, arg any) (model.Workspace, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+workspaceColumns+" FROM workspaces WHERE "+where+" AND status='ACTIVE' LIMIT 1", arg)
	return scanWorkspace(row)
}

// ListForUser returns every active workspace the user belongs to, with the
// user's role attached. Ordered by most recently updated.
func (r *WorkspaceRepo) ListForUser(ctx context.Context, userID uint64) ([]WorkspaceWithRole, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT w.id, w.name, w.slug, w.owner_id, w.plan, w.status, w.deleted_at, w.created_at, w.updated_at, m.role
		 FROM workspaces w
		 JOIN workspace_members m ON m.workspace_id = w.id
		 WHERE m.user_id=? AND w.status='ACTIVE'
		 ORDER BY w.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkspaceWithRole
	for rows.Next() {
		var (
			item      WorkspaceWithRole
			deletedAt sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.OwnerID, &item.Plan,
			&item.Status, &deletedAt, &item.CreatedAt, &item.UpdatedAt, &item.Role); err != nil {
			return nil, err
		}
		if deletedAt.Valid {
			t := deletedAt.Time
			item.DeletedAt = &t
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Update renames a workspace.
func (r *WorkspaceRepo) Update(ctx context.Context, id uint64, name string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE workspaces SET name=? WHERE id=? AND status='ACTIVE'", name, id)
	return err
}

// SoftDelete marks a workspace deleted; the timestamp is kept for audit.
func (r *WorkspaceRepo) SoftDelete(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE workspaces SET status='DELETED', deleted_at=UTC_TIMESTAMP() WHERE id=? AND status='ACTIVE'", id)
	return err
}

// SetOwner repoints the workspace's owner; always called inside the
// ownership-transfer transaction.
func (r *WorkspaceRepo) SetOwner(ctx context.Context, id, ownerID uint64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE workspaces SET owner_id=? WHERE id=?", ownerID, id)
	return err
}

func scanWorkspace(row *sql.Row) (model.Workspace, error) {
	var (
		w         model.Workspace
		deletedAt sql.NullTime
	)
	err := row.Scan(&w.ID, &w.Name, &w.Slug, &w.OwnerID, &w.Plan, &w.Status,
		&deletedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Workspace{}, ErrNotFound
		}
		return model.Workspace{}, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		w.DeletedAt = &t
	}
	return w, nil
}
