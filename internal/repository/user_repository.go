package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rateguard/rateguard/internal/model"
)

// UserRepo persists users. Emails are normalized to lower case on every
// write and lookup so uniqueness is case-insensitive.
type UserRepo struct{ db DBTX }

func NewUserRepo(db DBTX) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, password_hash, full_name, email_verified, status,
	email_verify_token, email_verify_expiry, password_reset_token, password_reset_expiry,
	last_login_at, last_login_ip, created_at, updated_at`

// Create inserts a user and populates its generated ID.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Status == "" {
		u.Status = model.UserActive
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, full_name, status, email_verify_token, email_verify_expiry, last_login_at, last_login_ip)
		 VALUES (?,?,?,?,?,?,?,?)`,
		u.Email, nullStr(u.PasswordHash), u.FullName, u.Status,
		nullStr(u.EmailVerifyToken), u.EmailVerifyExpiry, u.LastLoginAt, nullStr(u.LastLoginIP))
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.getWhere(ctx, "email=?", email)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.getWhere(ctx, "id=?", id)
}

// GetByVerifyToken fetches the user holding the given email-verification token.
func (r *UserRepo) GetByVerifyToken(ctx context.Context, token string) (model.User, error) {
	return r.getWhere(ctx, "email_verify_token=?", token)
}

// GetByResetToken fetches the user holding the given password-reset token.
func (r *UserRepo) GetByResetToken(ctx context.Context, token string) (model.User, error) {
	return r.getWhere(ctx, "password_reset_token=?", token)
}

func (r *UserRepo) getWhere(ctx context.Context, where string, arg any) (model.User, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE "+where+" LIMIT 1", arg)
	return scanUser(row)
}

// UpdateLastLogin records login metadata; failures here are non-critical.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, id uint64, at time.Time, ip string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET last_login_at=?, last_login_ip=? WHERE id=?", at, nullStr(ip), id)
	return err
}

// MarkEmailVerified flips the verified flag and clears the one-time token,
// so a stale token cannot be replayed.
func (r *UserRepo) MarkEmailVerified(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET email_verified=1, email_verify_token=NULL, email_verify_expiry=NULL WHERE id=?", id)
	return err
}

// SetVerifyToken stores a fresh email-verification token and expiry.
func (r *UserRepo) SetVerifyToken(ctx context.Context, id uint64, token string, expiry time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET email_verify_token=?, email_verify_expiry=? WHERE id=?", token, expiry, id)
	return err
}

// SetResetToken stores a fresh password-reset token and expiry.
func (r *UserRepo) SetResetToken(ctx context.Context, id uint64, token string, expiry time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET password_reset_token=?, password_reset_expiry=? WHERE id=?", token, expiry, id)
	return err
}

// UpdatePassword replaces the password hash and clears any pending reset
// token in the same statement.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, hash string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET password_hash=?, password_reset_token=NULL, password_reset_expiry=NULL WHERE id=?", hash, id)
	return err
}

func scanUser(row *sql.Row) (model.User, error) {
	var (
		u           model.User
		pwHash      sql.NullString
		verifyTok   sql.NullString
		verifyExp   sql.NullTime
		resetTok    sql.NullString
		resetExp    sql.NullTime
		lastLoginAt sql.NullTime
		lastLoginIP sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &pwHash, &u.FullName, &u.EmailVerified, &u.Status,
		&verifyTok, &verifyExp, &resetTok, &resetExp, &lastLoginAt, &lastLoginIP,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, err
	}
	u.PasswordHash = pwHash.String
	u.EmailVerifyToken = verifyTok.String
	u.PasswordResetToken = resetTok.String
	u.LastLoginIP = lastLoginIP.String
	if verifyExp.Valid {
		t := verifyExp.Time
		u.EmailVerifyExpiry = &t
	}
	if resetExp.Valid {
		t := resetExp.Time
		u.PasswordResetExpiry = &t
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		u.LastLoginAt = &t
	}
	return u, nil
}

// nullStr maps empty strings to SQL NULL for nullable columns.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
