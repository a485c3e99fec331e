package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rateguard/rateguard/internal/model"
	"github.com/rateguard/rateguard/internal/repository"
	"github.com/rateguard/rateguard/internal/utils"
)

// invitationTTL bounds how long a workspace invitation stays acceptable.
const invitationTTL = 7 * 24 * time.Hour

var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// generateSlug derives a URL-safe slug from a display name and appends a
// short random suffix so equal names never collide.
func generateSlug(name string) string {
	base := slugStripRe.ReplaceAllString(strings.ToLower(name), "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "workspace"
	}
	return base + "-" + uuid.NewString()[:8]
}

// WorkspaceService implements workspace CRUD, membership, invitations and
// ownership transfer.
type WorkspaceService struct {
	stores   repository.Stores
	uow      repository.UnitOfWork
	notifier Notifier
	logger   *slog.Logger
}

func NewWorkspaceService(stores repository.Stores, uow repository.UnitOfWork, notifier Notifier, logger *slog.Logger) *WorkspaceService {
	return &WorkspaceService{stores: stores, uow: uow, notifier: notifier, logger: logger}
}

// Authorize checks that userID is a member of the workspace holding at
// least the required role, and returns the membership. Non-members get a
// forbidden error that does not reveal whether the workspace exists beyond
// its id being routable.
func (s *WorkspaceService) Authorize(ctx context.Context, workspaceID, userID uint64, required model.Role) (model.WorkspaceMember, error) {
	ws, err := s.stores.Workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.WorkspaceMember{}, NotFound("workspace not found")
		}
		return model.WorkspaceMember{}, err
	}
	m, err := s.stores.Members.Get(ctx, workspaceID, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return model.WorkspaceMember{}, err
		}
		// ownerId is authoritative even if the membership row is missing.
		if ws.OwnerID == userID {
			return model.WorkspaceMember{WorkspaceID: workspaceID, UserID: userID, Role: model.RoleOwner}, nil
		}
		return model.WorkspaceMember{}, Forbidden("you are not a member of this workspace")
	}
	if ws.OwnerID == userID {
		m.Role = model.RoleOwner
	}
	if m.Role.Level() < required.Level() {
		return model.WorkspaceMember{}, Forbidden(fmt.Sprintf("insufficient role: requires %s, you are %s", required, m.Role))
	}
	return m, nil
}

// Create makes a new workspace owned by userID, with its OWNER membership,
// in one transaction.
func (s *WorkspaceService) Create(ctx context.Context, userID uint64, name, plan string) (model.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Workspace{}, BadRequest("workspace name is required")
	}

	ws := &model.Workspace{Name: name, Slug: generateSlug(name), OwnerID: userID, Plan: plan}
	err := s.uow.WithTx(ctx, func(tx repository.Stores) error {
		if err := tx.Workspaces.Create(ctx, ws); err != nil {
			return err
		}
		return tx.Members.Create(ctx, &model.WorkspaceMember{
			WorkspaceID: ws.ID,
			UserID:      userID,
			Role:        model.RoleOwner,
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrSlugExists) {
			return model.Workspace{}, Conflict("workspace slug already taken")
		}
		return model.Workspace{}, err
	}
	return *ws, nil
}

// ListForUser returns every workspace the user belongs to, with their role.
func (s *WorkspaceService) ListForUser(ctx context.Context, userID uint64) ([]repository.WorkspaceWithRole, error) {
	return s.stores.Workspaces.ListForUser(ctx, userID)
}

// Get loads one workspace for a member, including the caller's role.
func (s *WorkspaceService) Get(ctx context.Context, workspaceID, userID uint64) (repository.WorkspaceWithRole, error) {
	m, err := s.Authorize(ctx, workspaceID, userID, model.RoleViewer)
	if err != nil {
		return repository.WorkspaceWithRole{}, err
	}
	ws, err := s.stores.Workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return repository.WorkspaceWithRole{}, err
	}
	return repository.WorkspaceWithRole{Workspace: ws, Role: m.Role}, nil
}

// GetBySlug resolves a workspace by slug for a member.
func (s *WorkspaceService) GetBySlug(ctx context.Context, slug string, userID uint64) (repository.WorkspaceWithRole, error) {
	ws, err := s.stores.Workspaces.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.WorkspaceWithRole{}, NotFound("workspace not found")
		}
		return repository.WorkspaceWithRole{}, err
	}
	m, err := s.Authorize(ctx, ws.ID, userID, model.RoleViewer)
	if err != nil {
		return repository.WorkspaceWithRole{}, err
	}
	return repository.WorkspaceWithRole{Workspace: ws, Role: m.Role}, nil
}

// Update renames a workspace. Requires ADMIN.
func (s *WorkspaceService) Update(ctx context.Context, workspaceID, userID uint64, name string) (model.Workspace, error) {
	if _, err := s.Authorize(ctx, workspaceID, userID, model.RoleAdmin); err != nil {
		return model.Workspace{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Workspace{}, BadRequest("workspace name is required")
	}
	if err := s.stores.Workspaces.Update(ctx, workspaceID, name); err != nil {
		return model.Workspace{}, err
	}
	return s.stores.Workspaces.GetByID(ctx, workspaceID)
}

// Delete soft-deletes a workspace. Only the owner may do this.
func (s *WorkspaceService) Delete(ctx context.Context, workspaceID, userID uint64) error {
	ws, err := s.stores.Workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound("workspace not found")
		}
		return err
	}
	if ws.OwnerID != userID {
		return Forbidden("only the owner can delete a workspace")
	}
	return s.stores.Workspaces.SoftDelete(ctx, workspaceID)
}

// ListMembers returns the workspace roster. Any member may read it.
func (s *WorkspaceService) ListMembers(ctx context.Context, workspaceID, userID uint64) ([]repository.MemberWithUser, error) {
	if _, err := s.Authorize(ctx, workspaceID, userID, model.RoleViewer); err != nil {
		return nil, err
	}
	return s.stores.Members.List(ctx, workspaceID)
}

// Invite creates a pending invitation and queues the invite email.
// Requires ADMIN. The OWNER role cannot be granted this way.
func (s *WorkspaceService) Invite(ctx context.Context, workspaceID, inviterID uint64, email string, role model.Role) (model.WorkspaceInvitation, error) {
	if _, err := s.Authorize(ctx, workspaceID, inviterID, model.RoleAdmin); err != nil {
		return model.WorkspaceInvitation{}, err
	}
	if role == model.RoleOwner {
		return model.WorkspaceInvitation{}, BadRequest("cannot invite as owner")
	}
	if !role.Valid() {
		return model.WorkspaceInvitation{}, BadRequest("invalid role")
	}
	email = strings.ToLower(strings.TrimSpace(email))

	if existing, err := s.stores.Users.GetByEmail(ctx, email); err == nil {
		if _, err := s.stores.Members.Get(ctx, workspaceID, existing.ID); err == nil {
			return model.WorkspaceInvitation{}, Conflict("user is already a member of this workspace")
		} else if !errors.Is(err, repository.ErrNotFound) {
			return model.WorkspaceInvitation{}, err
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return model.WorkspaceInvitation{}, err
	}

	pending, err := s.stores.Invitations.PendingExists(ctx, workspaceID, email)
	if err != nil {
		return model.WorkspaceInvitation{}, err
	}
	if pending {
		return model.WorkspaceInvitation{}, Conflict("an invitation is already pending for this email")
	}

	tok, err := utils.RandomHex(32)
	if err != nil {
		return model.WorkspaceInvitation{}, err
	}
	inv := &model.WorkspaceInvitation{
		WorkspaceID: workspaceID,
		Email:       email,
		Role:        role,
		Token:       tok,
		InvitedBy:   inviterID,
		ExpiresAt:   time.Now().UTC().Add(invitationTTL),
	}
	if err := s.stores.Invitations.Create(ctx, inv); err != nil {
		return model.WorkspaceInvitation{}, err
	}

	ws, wsErr := s.stores.Workspaces.GetByID(ctx, workspaceID)
	inviter, invErr := s.stores.Users.GetByID(ctx, inviterID)
	if wsErr == nil && invErr == nil {
		s.notifier.SendWorkspaceInvite(ctx, email, ws.Name, inviter.FullName, string(role), tok)
	}
	return *inv, nil
}

// AcceptInvitation joins the calling user to the invited workspace. The
// caller's email must match the invitation; acceptance and the membership
// row commit together.
func (s *WorkspaceService) AcceptInvitation(ctx context.Context, userID uint64, token string) (model.WorkspaceMember, error) {
	inv, err := s.claimInvitation(ctx, userID, token)
	if err != nil {
		return model.WorkspaceMember{}, err
	}

	if existing, err := s.stores.Members.Get(ctx, inv.WorkspaceID, userID); err == nil {
		// Already in the workspace; just settle the invitation.
		if err := s.stores.Invitations.MarkAccepted(ctx, inv.ID); err != nil {
			return model.WorkspaceMember{}, err
		}
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return model.WorkspaceMember{}, err
	}

	member := &model.WorkspaceMember{WorkspaceID: inv.WorkspaceID, UserID: userID, Role: inv.Role}
	err = s.uow.WithTx(ctx, func(tx repository.Stores) error {
		if err := tx.Members.Create(ctx, member); err != nil {
			return err
		}
		return tx.Invitations.MarkAccepted(ctx, inv.ID)
	})
	if err != nil {
		return model.WorkspaceMember{}, err
	}
	return *member, nil
}

// DeclineInvitation marks an invitation declined. Same email check as
// acceptance.
func (s *WorkspaceService) DeclineInvitation(ctx context.Context, userID uint64, token string) error {
	inv, err := s.claimInvitation(ctx, userID, token)
	if err != nil {
		return err
	}
	return s.stores.Invitations.MarkDeclined(ctx, inv.ID)
}

// claimInvitation resolves a token to a still-pending invitation addressed
// to the calling user.
func (s *WorkspaceService) claimInvitation(ctx context.Context, userID uint64, token string) (model.WorkspaceInvitation, error) {
	inv, err := s.stores.Invitations.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.WorkspaceInvitation{}, NotFound("invitation not found")
		}
		return model.WorkspaceInvitation{}, err
	}
	switch {
	case inv.AcceptedAt != nil:
		return model.WorkspaceInvitation{}, BadRequest("invitation already accepted")
	case inv.DeclinedAt != nil:
		return model.WorkspaceInvitation{}, BadRequest("invitation was declined")
	case time.Now().UTC().After(inv.ExpiresAt):
		return model.WorkspaceInvitation{}, BadRequest("invitation expired")
	}

	user, err := s.stores.Users.GetByID(ctx, userID)
	if err != nil {
		return model.WorkspaceInvitation{}, err
	}
	if !strings.EqualFold(user.Email, inv.Email) {
		return model.WorkspaceInvitation{}, Forbidden("this invitation was sent to a different email")
	}
	return inv, nil
}

// CancelInvitation withdraws a pending invitation. Requires ADMIN.
func (s *WorkspaceService) CancelInvitation(ctx context.Context, workspaceID, userID, invitationID uint64) error {
	if _, err := s.Authorize(ctx, workspaceID, userID, model.RoleAdmin); err != nil {
		return err
	}
	inv, err := s.stores.Invitations.GetPending(ctx, workspaceID, invitationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound("invitation not found")
		}
		return err
	}
	return s.stores.Invitations.Delete(ctx, inv.ID)
}

// ListInvitations returns pending invitations for a workspace. Requires
// ADMIN.
func (s *WorkspaceService) ListInvitations(ctx context.Context, workspaceID, userID uint64) ([]repository.InvitationWithInviter, error) {
	if _, err := s.Authorize(ctx, workspaceID, userID, model.RoleAdmin); err != nil {
		return nil, err
	}
	return s.stores.Invitations.ListPending(ctx, workspaceID)
}

// UpdateMemberRole changes a member's role. Requires ADMIN. The owner's
// membership is immutable and OWNER cannot be assigned here.
func (s *WorkspaceService) UpdateMemberRole(ctx context.Context, workspaceID, actorID, memberID uint64, role model.Role) (model.WorkspaceMember, error) {
	if _, err := s.Authorize(ctx, workspaceID, actorID, model.RoleAdmin); err != nil {
		return model.WorkspaceMember{}, err
	}
	if role == model.RoleOwner {
		return model.WorkspaceMember{}, BadRequest("cannot assign the owner role")
	}
	if !role.Valid() {
		return model.WorkspaceMember{}, BadRequest("invalid role")
	}

	target, ws, err := s.targetMember(ctx, workspaceID, memberID)
	if err != nil {
		return model.WorkspaceMember{}, err
	}
	if target.UserID == ws.OwnerID {
		return model.WorkspaceMember{}, BadRequest("cannot change the owner's role")
	}

	if err := s.stores.Members.UpdateRole(ctx, target.ID, role); err != nil {
		return model.WorkspaceMember{}, err
	}
	target.Role = role
	return target, nil
}

// RemoveMember removes a member from the workspace. Requires ADMIN; only
// the owner may remove another admin, and the owner cannot be removed.
func (s *WorkspaceService) RemoveMember(ctx context.Context, workspaceID, actorID, memberID uint64) error {
	actor, err := s.Authorize(ctx, workspaceID, actorID, model.RoleAdmin)
	if err != nil {
		return err
	}
	target, ws, err := s.targetMember(ctx, workspaceID, memberID)
	if err != nil {
		return err
	}
	if target.UserID == ws.OwnerID {
		return BadRequest("cannot remove the workspace owner")
	}
	if target.Role == model.RoleAdmin && actor.Role != model.RoleOwner {
		return Forbidden("only the owner can remove other admins")
	}
	return s.stores.Members.Delete(ctx, target.ID)
}

// Leave removes the calling user's own membership. The owner must transfer
// ownership first.
func (s *WorkspaceService) Leave(ctx context.Context, workspaceID, userID uint64) error {
	ws, err := s.stores.Workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound("workspace not found")
		}
		return err
	}
	m, err := s.stores.Members.Get(ctx, workspaceID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Forbidden("you are not a member of this workspace")
		}
		return err
	}
	if ws.OwnerID == userID {
		return BadRequest("the owner cannot leave the workspace; transfer ownership first")
	}
	return s.stores.Members.Delete(ctx, m.ID)
}

// TransferOwnership moves ownership to another member. The OwnerID swap,
// the new owner's OWNER role and the old owner's demotion to ADMIN commit
// as one transaction, keeping OWNER exclusive at every observable point.
func (s *WorkspaceService) TransferOwnership(ctx context.Context, workspaceID, ownerID, newOwnerID uint64) error {
	ws, err := s.stores.Workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound("workspace not found")
		}
		return err
	}
	if ws.OwnerID != ownerID {
		return Forbidden("only the owner can transfer ownership")
	}
	if newOwnerID == ownerID {
		return BadRequest("you already own this workspace")
	}
	if _, err := s.stores.Members.Get(ctx, workspaceID, newOwnerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return BadRequest("new owner must be a member of this workspace")
		}
		return err
	}

	err = s.uow.WithTx(ctx, func(tx repository.Stores) error {
		if err := tx.Workspaces.SetOwner(ctx, workspaceID, newOwnerID); err != nil {
			return err
		}
		if err := tx.Members.UpdateRoleByUser(ctx, workspaceID, newOwnerID, model.RoleOwner); err != nil {
			return err
		}
		return tx.Members.UpdateRoleByUser(ctx, workspaceID, ownerID, model.RoleAdmin)
	})
	if err != nil {
		return err
	}

	rec := &model.AuditLog{
		UserID:     &ownerID,
		Action:     model.AuditOwnershipTransferred,
		Resource:   "workspace",
		ResourceID: fmt.Sprintf("%d", workspaceID),
		Details:    fmt.Sprintf("new owner %d", newOwnerID),
	}
	if err := s.stores.Audit.Insert(ctx, rec); err != nil {
		s.logger.Warn("audit insert failed", "action", rec.Action, "error", err)
	}
	return nil
}

func (s *WorkspaceService) targetMember(ctx context.Context, workspaceID, memberID uint64) (model.WorkspaceMember, model.Workspace, error) {
	target, err := s.stores.Members.GetByID(ctx, memberID)
	if err != nil || target.WorkspaceID != workspaceID {
		if err == nil || errors.Is(err, repository.ErrNotFound) {
			return model.WorkspaceMember{}, model.Workspace{}, NotFound("member not found")
		}
		return model.WorkspaceMember{}, model.Workspace{}, err
	}
	ws, err := s.stores.Workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return model.WorkspaceMember{}, model.Workspace{}, err
	}
	return target, ws, nil
}
