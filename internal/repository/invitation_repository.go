package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rateguard/rateguard/internal/model"
)

// InvitationRepo persists workspace invitations.
type InvitationRepo struct{ db DBTX }

func NewInvitationRepo(db DBTX) *InvitationRepo { return &InvitationRepo{db: db} }

// InvitationWithInviter is an invitation joined with the inviter's identity.
type InvitationWithInviter struct {
	model.WorkspaceInvitation
	InviterName  string
	InviterEmail string
}

const invitationColumns = "id, workspace_id, email, role, token, invited_by, expires_at, accepted_at, declined_at, created_at"

// Create inserts an invitation and populates its generated ID.
func (r *InvitationRepo) Create(ctx context.Context, inv *model.WorkspaceInvitation) error {
	inv.Email = strings.ToLower(strings.TrimSpace(inv.Email))
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO workspace_invitations (workspace_id, email, role, token, invited_by, expires_at)
		 VALUES (?,?,?,?,?,?)`,
		inv.WorkspaceID, inv.Email, inv.Role, inv.Token, inv.InvitedBy, inv.ExpiresAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	inv.ID = uint64(id)
	return nil
}

// GetByToken fetches an invitation by its opaque token.
func (r *InvitationRepo) GetByToken(ctx context.Context, tok string) (model.WorkspaceInvitation, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+invitationColumns+" FROM workspace_invitations WHERE token=? LIMIT 1", tok)
	return scanInvitation(row)
}

// GetPending fetches an invitation by id within a workspace, only while it
// is still undecided.
func (r *InvitationRepo) GetPending(ctx context.Context, workspaceID, id uint64) (model.WorkspaceInvitation, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+invitationColumns+` FROM workspace_invitations
		 WHERE id=? AND workspace_id=? AND accepted_at IS NULL AND declined_at IS NULL LIMIT 1`,
		id, workspaceID)
	return scanInvitation(row)
}

// PendingExists reports whether an undecided, unexpired invitation already
// exists for the workspace and email.
func (r *InvitationRepo) PendingExists(ctx context.Context, workspaceID uint64, email string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workspace_invitations
		 WHERE workspace_id=? AND email=? AND accepted_at IS NULL AND declined_at IS NULL AND expires_at > UTC_TIMESTAMP()`,
		workspaceID, email).Scan(&n)
	return n > 0, err
}

// MarkAccepted records acceptance, making the invitation terminal.
func (r *InvitationRepo) MarkAccepted(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE workspace_invitations SET accepted_at=UTC_TIMESTAMP() WHERE id=? AND accepted_at IS NULL", id)
	return err
}

// MarkDeclined records decline, making the invitation terminal.
func (r *InvitationRepo) MarkDeclined(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE workspace_invitations SET declined_at=UTC_TIMESTAMP() WHERE id=? AND declined_at IS NULL", id)
	return err
}

// Delete removes an invitation (cancellation by an admin).
func (r *InvitationRepo) Delete(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM workspace_invitations WHERE id=?", id)
	return err
}

// ListPending returns undecided invitations for a workspace, newest first,
// with inviter identity attached.
func (r *InvitationRepo) ListPending(ctx context.Context, workspaceID uint64) ([]InvitationWithInviter, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT i.id, i.workspace_id, i.email, i.role, i.token, i.invited_by, i.expires_at,
		        i.accepted_at, i.declined_at, i.created_at, u.full_name, u.email
		 FROM workspace_invitations i
		 JOIN users u ON u.id = i.invited_by
		 WHERE i.workspace_id=? AND i.accepted_at IS NULL AND i.declined_at IS NULL
		 ORDER BY i.created_at DESC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InvitationWithInviter
	for rows.Next() {
		var (
			item                   InvitationWithInviter
			acceptedAt, declinedAt sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &item.Email, &item.Role, &item.Token,
			&item.InvitedBy, &item.ExpiresAt, &acceptedAt, &declinedAt, &item.CreatedAt,
			&item.InviterName, &item.InviterEmail); err != nil {
			return nil, err
		}
		if acceptedAt.Valid {
			t := acceptedAt.Time
			item.AcceptedAt = &t
		}
		if declinedAt.Valid {
			t := declinedAt.Time
			item.DeclinedAt = &t
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanInvitation(row *sql.Row) (model.WorkspaceInvitation, error) {
	var (
		inv                    model.WorkspaceInvitation
		acceptedAt, declinedAt sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.WorkspaceID, &inv.Email, &inv.Role, &inv.Token,
		&inv.InvitedBy, &inv.ExpiresAt, &acceptedAt, &declinedAt, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WorkspaceInvitation{}, ErrNotFound
		}
		return model.WorkspaceInvitation{}, err
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	if declinedAt.Valid {
		t := declinedAt.Time
		inv.DeclinedAt = &t
	}
	return inv, nil
}
