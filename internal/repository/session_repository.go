package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rateguard/rateguard/internal/model"
)

// SessionRepo persists refresh-token sessions. Rows store only the SHA-256
// digest of the token; the conditional revoke on revoked_at IS NULL is what
// makes redemption single-use under concurrent requests.
type SessionRepo struct{ db DBTX }

func NewSessionRepo(db DBTX) *SessionRepo { return &SessionRepo{db: db} }

// Create inserts a session row and populates its generated ID.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, token_hash, token_family, ip_address, user_agent, expires_at)
		 VALUES (?,?,?,?,?,?)`,
		s.UserID, s.TokenHash, s.TokenFamily, nullStr(s.IPAddress), nullStr(s.UserAgent), s.ExpiresAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateSession
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// GetByHash fetches a session row regardless of its state; the ledger is
// responsible for deciding between active, revoked and expired.
func (r *SessionRepo) GetByHash(ctx context.Context, hash string) (model.Session, error) {
	var (
		s         model.Session
		ip, ua    sql.NullString
		revokedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, token_family, ip_address, user_agent, expires_at, revoked_at, created_at
		 FROM sessions WHERE token_hash=? LIMIT 1`, hash).
		Scan(&s.ID, &s.UserID, &s.TokenHash, &s.TokenFamily, &ip, &ua, &s.ExpiresAt, &revokedAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, err
	}
	s.IPAddress = ip.String
	s.UserAgent = ua.String
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	return s, nil
}

// Revoke marks a single session revoked and reports how many rows changed.
// Zero means the row was already revoked (or gone): under concurrent
// redemption of one token only the first caller sees 1, so the ledger uses
// the count to pick exactly one winner.
func (r *SessionRepo) Revoke(ctx context.Context, id uint64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET revoked_at=UTC_TIMESTAMP() WHERE id=? AND revoked_at IS NULL", id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RevokeByHashForUser revokes the session matching the hash, scoped to the
// user so one account cannot log out another's session.
func (r *SessionRepo) RevokeByHashForUser(ctx context.Context, userID uint64, hash string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET revoked_at=UTC_TIMESTAMP() WHERE user_id=? AND token_hash=? AND revoked_at IS NULL",
		userID, hash)
	return err
}

// RevokeAllForUser revokes every active session for the user and returns how
// many were revoked. Idempotent.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID uint64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET revoked_at=UTC_TIMESTAMP() WHERE user_id=? AND revoked_at IS NULL", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
