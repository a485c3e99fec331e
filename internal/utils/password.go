package utils

import "golang.org/x/crypto/bcrypt"

// DefaultBcryptCost is the work factor used when no explicit cost is
// configured. Cost 12 keeps hashing deliberately slow against offline
// brute force.
const DefaultBcryptCost = 12

// HashPassword returns the bcrypt hash of plain using the given cost.
// Costs outside bcrypt's valid range fall back to DefaultBcryptCost.
func HashPassword(plain string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword compares a bcrypt hash against a plain password using the
// library's constant-time comparison. A mismatch is a false, not an error;
// callers decide how to respond and must never leak which check failed.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
