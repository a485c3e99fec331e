package model

import "time"

// Session is one row per issued refresh token. Only the SHA-256 hash of the
// token is stored; the raw token exists solely in the client's hands.
// TokenFamily ties together every session produced by rotating an original
// login, so theft investigations can follow the whole chain.
type Session struct {
	ID          uint64
	UserID      uint64
	TokenHash   string
	TokenFamily string
	IPAddress   string
	UserAgent   string
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	CreatedAt   time.Time
}

// Active reports whether the session can still be redeemed at the given time.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
