package repository

// Sentinel errors shared across repositories. Services translate these into
// user-facing typed failures; handlers never see them directly.

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ErrEmailExists is returned when a user insert hits the unique email key.
var ErrEmailExists = errors.New("email already exists")

// ErrSlugExists is returned when a workspace insert hits the unique slug key.
var ErrSlugExists = errors.New("slug already exists")

// ErrAlreadyMember is returned when a membership insert hits the unique
// (workspace, user) key.
var ErrAlreadyMember = errors.New("already a member")

// ErrDuplicateSession is returned when a session insert hits the unique
// token-hash key. Two sessions can never share a hash.
var ErrDuplicateSession = errors.New("session hash already exists")

// isDuplicate reports whether err is a MySQL duplicate-key violation (1062).
func isDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "1062")
}
