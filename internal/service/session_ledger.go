package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rateguard/rateguard/internal/model"
	"github.com/rateguard/rateguard/internal/repository"
	"github.com/rateguard/rateguard/internal/token"
	"github.com/rateguard/rateguard/internal/utils"
)

// TokenPair is an issued access/refresh pair. ExpiresIn is the access-token
// lifetime in seconds.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// SessionLedger tracks every live refresh token as a hashed session row and
// enforces single use. Rotation revokes the redeemed row and creates the
// successor in the same token family; presenting a refresh token whose hash
// is unknown or already revoked is treated as theft and revokes every
// session the token's subject holds.
type SessionLedger struct {
	codec  *token.Codec
	stores repository.Stores
	uow    repository.UnitOfWork
	logger *slog.Logger
}

func NewSessionLedger(codec *token.Codec, stores repository.Stores, uow repository.UnitOfWork, logger *slog.Logger) *SessionLedger {
	return &SessionLedger{codec: codec, stores: stores, uow: uow, logger: logger}
}

// sessionInvalidMsg is shared by the unknown-hash and already-revoked
// branches so a caller cannot tell which one fired.
const sessionInvalidMsg = "session invalid - all sessions revoked for security"

// Issue mints a fresh token pair and persists a session row for the refresh
// half. family stays empty for a brand-new login; rotation passes the
// redeemed session's family through to keep the chain traceable.
func (l *SessionLedger) Issue(ctx context.Context, userID uint64, email string, rememberMe bool, family, ip, ua string) (TokenPair, error) {
	return l.issue(ctx, l.stores, userID, email, rememberMe, family, ip, ua)
}

func (l *SessionLedger) issue(ctx context.Context, stores repository.Stores, userID uint64, email string, rememberMe bool, family, ip, ua string) (TokenPair, error) {
	access, err := l.codec.IssueAccess(userID, email)
	if err != nil {
		return TokenPair{}, err
	}

	jti := uuid.NewString()
	refresh, expiresAt, err := l.codec.IssueRefresh(userID, email, jti, rememberMe)
	if err != nil {
		return TokenPair{}, err
	}

	if family == "" {
		family = uuid.NewString()
	}
	sess := &model.Session{
		UserID:      userID,
		TokenHash:   utils.HashToken(refresh),
		TokenFamily: family,
		IPAddress:   ip,
		UserAgent:   ua,
		ExpiresAt:   expiresAt,
	}
	if err := stores.Sessions.Create(ctx, sess); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    l.codec.ExpiresIn(),
	}, nil
}

// Redeem exchanges a refresh token for a new pair, rotating the session.
// Any verification failure is a plain unauthorized error; an unknown or
// already-revoked hash additionally revokes every session of the token's
// subject before failing.
func (l *SessionLedger) Redeem(ctx context.Context, raw, ip, ua string) (TokenPair, error) {
	claims, err := l.codec.VerifyRefresh(raw)
	if err != nil {
		return TokenPair{}, Unauthorized("invalid refresh token")
	}
	userID, err := claims.UserID()
	if err != nil {
		return TokenPair{}, Unauthorized("invalid refresh token")
	}

	sess, err := l.stores.Sessions.GetByHash(ctx, utils.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TokenPair{}, l.revokeFamily(ctx, userID, "hash unknown")
		}
		return TokenPair{}, err
	}
	if sess.UserID != userID {
		// Signed by us but the row belongs to someone else; treat as theft.
		return TokenPair{}, l.revokeFamily(ctx, userID, "subject mismatch")
	}
	if sess.RevokedAt != nil {
		return TokenPair{}, l.revokeFamily(ctx, userID, "token reuse")
	}
	if time.Now().UTC().After(sess.ExpiresAt) {
		return TokenPair{}, Unauthorized("session expired")
	}

	if ip != "" && sess.IPAddress != "" && sess.IPAddress != ip {
		l.logger.Warn("refresh from new address", "user_id", userID, "session_ip", sess.IPAddress, "request_ip", ip)
	}

	// The revoke is conditional on revoked_at still being NULL, so when two
	// redemptions race only one sees a row change. The loser must not mint a
	// pair: a zero count means somebody else already rotated this token,
	// which is indistinguishable from replay.
	var (
		pair TokenPair
		lost bool
	)
	err = l.uow.WithTx(ctx, func(tx repository.Stores) error {
		n, err := tx.Sessions.Revoke(ctx, sess.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			lost = true
			return nil
		}
		pair, err = l.issue(ctx, tx, userID, claims.Email, false, sess.TokenFamily, ip, ua)
		return err
	})
	if err != nil {
		return TokenPair{}, err
	}
	if lost {
		return TokenPair{}, l.revokeFamily(ctx, userID, "token reuse")
	}
	return pair, nil
}

func (l *SessionLedger) revokeFamily(ctx context.Context, userID uint64, reason string) error {
	n, err := l.stores.Sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		l.logger.Error("mass revoke failed", "user_id", userID, "reason", reason, "error", err)
	} else if n > 0 {
		l.logger.Warn("revoked all sessions", "user_id", userID, "reason", reason, "count", n)
		l.audit(ctx, userID, model.AuditSessionsRevoked, reason)
	}
	return Unauthorized(sessionInvalidMsg)
}

// Logout revokes the session behind one refresh token. The token must
// belong to userID; a token that does not verify or match revokes nothing
// and still reports success, so logout never leaks session state.
func (l *SessionLedger) Logout(ctx context.Context, userID uint64, raw string) error {
	claims, err := l.codec.VerifyRefresh(raw)
	if err != nil {
		return nil
	}
	if sub, err := claims.UserID(); err != nil || sub != userID {
		return nil
	}
	return l.stores.Sessions.RevokeByHashForUser(ctx, userID, utils.HashToken(raw))
}

// RevokeAll revokes every live session for the user and returns how many
// rows were touched.
func (l *SessionLedger) RevokeAll(ctx context.Context, userID uint64) (int64, error) {
	return l.stores.Sessions.RevokeAllForUser(ctx, userID)
}

func (l *SessionLedger) audit(ctx context.Context, userID uint64, action, details string) {
	rec := &model.AuditLog{UserID: &userID, Action: action, Resource: "session", Details: details}
	if err := l.stores.Audit.Insert(ctx, rec); err != nil {
		l.logger.Warn("audit insert failed", "action", action, "error", err)
	}
}
