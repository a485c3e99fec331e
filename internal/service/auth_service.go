package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/rateguard/rateguard/internal/model"
	"github.com/rateguard/rateguard/internal/repository"
	"github.com/rateguard/rateguard/internal/utils"
)

// verifyTokenTTL bounds how long email verification and password reset
// links stay usable.
const verifyTokenTTL = 24 * time.Hour

// invalidCredentialsMsg covers every login failure cause: unknown email,
// inactive account, passwordless account and wrong password all read the
// same to the caller.
const invalidCredentialsMsg = "invalid credentials"

// AuthResult is what a successful register or login hands back.
type AuthResult struct {
	User      model.User
	Tokens    TokenPair
	Workspace *model.Workspace
}

// Profile is the authenticated user's own view: the account plus every
// workspace membership.
type Profile struct {
	User        model.User
	Memberships []repository.MembershipWithWorkspace
}

// AuthService implements registration, login and the account lifecycle.
type AuthService struct {
	stores     repository.Stores
	uow        repository.UnitOfWork
	ledger     *SessionLedger
	notifier   Notifier
	logger     *slog.Logger
	bcryptCost int
}

func NewAuthService(stores repository.Stores, uow repository.UnitOfWork, ledger *SessionLedger, notifier Notifier, logger *slog.Logger, bcryptCost int) *AuthService {
	return &AuthService{
		stores:     stores,
		uow:        uow,
		ledger:     ledger,
		notifier:   notifier,
		logger:     logger,
		bcryptCost: bcryptCost,
	}
}

// Register creates the account, its default workspace and the owner
// membership in one transaction, then issues tokens and queues the
// verification email. Token issuance happens after the transaction commits
// so a rollback never leaves live tokens behind.
func (s *AuthService) Register(ctx context.Context, email, password, fullName, ip, ua string) (AuthResult, error) {
	hash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return AuthResult{}, err
	}
	verifyToken, err := utils.RandomHex(32)
	if err != nil {
		return AuthResult{}, err
	}
	verifyExpiry := time.Now().UTC().Add(verifyTokenTTL)

	user := &model.User{
		Email:             strings.ToLower(strings.TrimSpace(email)),
		PasswordHash:      hash,
		FullName:          strings.TrimSpace(fullName),
		Status:            model.UserActive,
		EmailVerifyToken:  verifyToken,
		EmailVerifyExpiry: &verifyExpiry,
	}
	ws := &model.Workspace{Name: user.FullName + "'s Workspace"}
	ws.Slug = generateSlug(ws.Name)

	err = s.uow.WithTx(ctx, func(tx repository.Stores) error {
		if err := tx.Users.Create(ctx, user); err != nil {
			return err
		}
		ws.OwnerID = user.ID
		if err := tx.Workspaces.Create(ctx, ws); err != nil {
			return err
		}
		return tx.Members.Create(ctx, &model.WorkspaceMember{
			WorkspaceID: ws.ID,
			UserID:      user.ID,
			Role:        model.RoleOwner,
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return AuthResult{}, Conflict("email already registered")
		}
		if errors.Is(err, repository.ErrSlugExists) {
			return AuthResult{}, Conflict("workspace slug already taken")
		}
		return AuthResult{}, err
	}

	tokens, err := s.ledger.Issue(ctx, user.ID, user.Email, false, "", ip, ua)
	if err != nil {
		return AuthResult{}, err
	}
	s.notifier.SendVerificationEmail(ctx, user.Email, user.FullName, verifyToken)

	return AuthResult{User: *user, Tokens: tokens, Workspace: ws}, nil
}

// Login authenticates by email and password. Every failure cause produces
// the same error so the endpoint cannot be used to probe which emails
// exist.
func (s *AuthService) Login(ctx context.Context, email, password string, rememberMe bool, ip, ua string) (AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.stores.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.audit(ctx, nil, model.AuditLoginFailed, email, ip, ua)
			return AuthResult{}, Unauthorized(invalidCredentialsMsg)
		}
		return AuthResult{}, err
	}
	if user.Status != model.UserActive || user.PasswordHash == "" || !utils.VerifyPassword(user.PasswordHash, password) {
		s.audit(ctx, &user.ID, model.AuditLoginFailed, email, ip, ua)
		return AuthResult{}, Unauthorized(invalidCredentialsMsg)
	}

	now := time.Now().UTC()
	if err := s.stores.Users.UpdateLastLogin(ctx, user.ID, now, ip); err != nil {
		s.logger.Warn("update last login failed", "user_id", user.ID, "error", err)
	}
	user.LastLoginAt = &now
	user.LastLoginIP = ip

	tokens, err := s.ledger.Issue(ctx, user.ID, user.Email, rememberMe, "", ip, ua)
	if err != nil {
		return AuthResult{}, err
	}
	s.audit(ctx, &user.ID, model.AuditLoginSuccess, "", ip, ua)

	res := AuthResult{User: user, Tokens: tokens}
	if ws, err := s.stores.Workspaces.FirstOwnedByUser(ctx, user.ID); err == nil {
		res.Workspace = &ws
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("load owned workspace failed", "user_id", user.ID, "error", err)
	}
	return res, nil
}

// Refresh rotates a refresh token for a new pair.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh, ip, ua string) (TokenPair, error) {
	return s.ledger.Redeem(ctx, rawRefresh, ip, ua)
}

// Logout revokes the presented refresh token's session.
func (s *AuthService) Logout(ctx context.Context, userID uint64, rawRefresh string) error {
	return s.ledger.Logout(ctx, userID, rawRefresh)
}

// LogoutAll revokes every session of the user and returns the count.
func (s *AuthService) LogoutAll(ctx context.Context, userID uint64) (int64, error) {
	return s.ledger.RevokeAll(ctx, userID)
}

// VerifyEmail consumes a verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	user, err := s.stores.Users.GetByVerifyToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return BadRequest("invalid verification token")
		}
		return err
	}
	if user.EmailVerifyExpiry == nil || time.Now().UTC().After(*user.EmailVerifyExpiry) {
		return BadRequest("verification token expired")
	}
	return s.stores.Users.MarkEmailVerified(ctx, user.ID)
}

// ResendVerification issues a fresh verification token for the
// authenticated user.
func (s *AuthService) ResendVerification(ctx context.Context, userID uint64) error {
	user, err := s.stores.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound("user not found")
		}
		return err
	}
	if user.EmailVerified {
		return BadRequest("email is already verified")
	}

	tok, err := utils.RandomHex(32)
	if err != nil {
		return err
	}
	if err := s.stores.Users.SetVerifyToken(ctx, user.ID, tok, time.Now().UTC().Add(verifyTokenTTL)); err != nil {
		return err
	}
	s.notifier.SendVerificationEmail(ctx, user.Email, user.FullName, tok)
	return nil
}

// ForgotPassword starts a reset flow. It always reports success; whether a
// reset email actually goes out is invisible to the caller.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.stores.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if user.Status != model.UserActive {
		return nil
	}

	tok, err := utils.RandomHex(32)
	if err != nil {
		return err
	}
	if err := s.stores.Users.SetResetToken(ctx, user.ID, tok, time.Now().UTC().Add(verifyTokenTTL)); err != nil {
		return err
	}
	s.notifier.SendPasswordResetEmail(ctx, user.Email, user.FullName, tok)
	return nil
}

// ResetPassword consumes a reset token. Setting the new password and
// revoking every session commit together: a stolen refresh token dies the
// moment the password changes.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	user, err := s.stores.Users.GetByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return BadRequest("invalid reset token")
		}
		return err
	}
	if user.PasswordResetExpiry == nil || time.Now().UTC().After(*user.PasswordResetExpiry) {
		return BadRequest("reset token expired")
	}

	hash, err := utils.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	err = s.uow.WithTx(ctx, func(tx repository.Stores) error {
		if err := tx.Users.UpdatePassword(ctx, user.ID, hash); err != nil {
			return err
		}
		_, err := tx.Sessions.RevokeAllForUser(ctx, user.ID)
		return err
	})
	if err != nil {
		return err
	}

	s.audit(ctx, &user.ID, model.AuditPasswordChanged, "reset", "", "")
	s.notifier.SendPasswordChangedEmail(ctx, user.Email, user.FullName)
	return nil
}

// ChangePassword replaces the password of an authenticated user after
// checking the current one, then revokes every session in the same
// transaction.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint64, currentPassword, newPassword string) error {
	user, err := s.stores.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound("user not found")
		}
		return err
	}
	if !utils.VerifyPassword(user.PasswordHash, currentPassword) {
		return BadRequest("current password is incorrect")
	}

	hash, err := utils.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	err = s.uow.WithTx(ctx, func(tx repository.Stores) error {
		if err := tx.Users.UpdatePassword(ctx, user.ID, hash); err != nil {
			return err
		}
		_, err := tx.Sessions.RevokeAllForUser(ctx, user.ID)
		return err
	})
	if err != nil {
		return err
	}

	s.audit(ctx, &user.ID, model.AuditPasswordChanged, "change", "", "")
	s.notifier.SendPasswordChangedEmail(ctx, user.Email, user.FullName)
	return nil
}

// GetProfile loads the account and its workspace memberships.
func (s *AuthService) GetProfile(ctx context.Context, userID uint64) (Profile, error) {
	user, err := s.stores.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Profile{}, NotFound("user not found")
		}
		return Profile{}, err
	}
	memberships, err := s.stores.Members.ListForUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: user, Memberships: memberships}, nil
}

func (s *AuthService) audit(ctx context.Context, userID *uint64, action, details, ip, ua string) {
	rec := &model.AuditLog{
		UserID:    userID,
		Action:    action,
		Resource:  "auth",
		Details:   details,
		IPAddress: ip,
		UserAgent: ua,
	}
	if err := s.stores.Audit.Insert(ctx, rec); err != nil {
		s.logger.Warn("audit insert failed", "action", action, "error", err)
	}
}
