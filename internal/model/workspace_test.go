package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoleOrder(t *testing.T) {
	assert.Greater(t, RoleOwner.Level(), RoleAdmin.Level())
	assert.Greater(t, RoleAdmin.Level(), RoleDeveloper.Level())
	assert.Greater(t, RoleDeveloper.Level(), RoleViewer.Level())

	assert.True(t, RoleViewer.Valid())
	assert.False(t, Role("SUPERUSER").Valid())
	assert.Equal(t, -1, Role("").Level())
}

func TestSessionActive(t *testing.T) {
	now := time.Now().UTC()
	s := Session{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, s.Active(now))

	revoked := now
	s.RevokedAt = &revoked
	assert.False(t, s.Active(now))

	s.RevokedAt = nil
	assert.False(t, s.Active(now.Add(2*time.Hour)))
}

func TestInvitationPending(t *testing.T) {
	now := time.Now().UTC()
	inv := WorkspaceInvitation{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, inv.Pending(now))

	accepted := now
	inv.AcceptedAt = &accepted
	assert.False(t, inv.Pending(now))

	inv.AcceptedAt = nil
	assert.False(t, inv.Pending(now.Add(2*time.Hour)))
}
