package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rateguard/rateguard/internal/model"
	"github.com/rateguard/rateguard/internal/repository"
	"github.com/rateguard/rateguard/internal/token"
	"github.com/rateguard/rateguard/internal/utils"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCodec() *token.Codec {
	return token.NewCodec("access-secret", "refresh-secret", "15m", "7d", "30d")
}

func newTestLedger(t *testing.T) (*SessionLedger, *memDB, *token.Codec) {
	t.Helper()
	stores, db := newFakeStores()
	codec := testCodec()
	ledger := NewSessionLedger(codec, stores, &fakeUOW{stores}, testLogger())
	return ledger, db, codec
}

func TestIssueCreatesSession(t *testing.T) {
	ledger, db, codec := newTestLedger(t)

	pair, err := ledger.Issue(context.Background(), 1, "a@b.com", false, "", "1.2.3.4", "cli")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.Equal(t, 1, db.activeSessions(1))

	claims, err := codec.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)
}

func TestRedeemRotatesAndRevokesOld(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()

	pair, err := ledger.Issue(ctx, 1, "a@b.com", false, "", "", "")
	require.NoError(t, err)

	next, err := ledger.Redeem(ctx, pair.RefreshToken, "", "")
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	assert.Equal(t, 1, db.activeSessions(1))

	old, err := db.sessionsByHash(utils.HashToken(pair.RefreshToken))
	require.NoError(t, err)
	replacement, err := db.sessionsByHash(utils.HashToken(next.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, old.TokenFamily, replacement.TokenFamily)
}

func TestRedeemReuseRevokesEverything(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()

	pair, err := ledger.Issue(ctx, 1, "a@b.com", false, "", "", "")
	require.NoError(t, err)
	other, err := ledger.Issue(ctx, 1, "a@b.com", false, "", "", "")
	require.NoError(t, err)

	_, err = ledger.Redeem(ctx, pair.RefreshToken, "", "")
	require.NoError(t, err)

	// Presenting the already-rotated token is treated as theft.
	_, err = ledger.Redeem(ctx, pair.RefreshToken, "", "")
	require.Error(t, err)
	assert.Equal(t, "session invalid - all sessions revoked for security", err.Error())
	assert.Equal(t, KindUnauthorized, KindOf(err))

	assert.Equal(t, 0, db.activeSessions(1))

	// The untouched parallel session died too.
	_, err = ledger.Redeem(ctx, other.RefreshToken, "", "")
	require.Error(t, err)
}

// barrierSessions holds every GetByHash caller at a barrier so two
// redemptions both read the row while it is still active, the interleaving a
// double-submitted refresh produces.
type barrierSessions struct {
	repository.SessionStore
	barrier *sync.WaitGroup
}

func (b *barrierSessions) GetByHash(ctx context.Context, hash string) (model.Session, error) {
	s, err := b.SessionStore.GetByHash(ctx, hash)
	b.barrier.Done()
	b.barrier.Wait()
	return s, err
}

func TestRedeemConcurrentOnlyOneWins(t *testing.T) {
	stores, db := newFakeStores()
	ledger := NewSessionLedger(testCodec(), stores, &fakeUOW{stores}, testLogger())
	ctx := context.Background()

	pair, err := ledger.Issue(ctx, 1, "a@b.com", false, "", "", "")
	require.NoError(t, err)

	var barrier sync.WaitGroup
	barrier.Add(2)
	ledger.stores.Sessions = &barrierSessions{SessionStore: stores.Sessions, barrier: &barrier}

	type outcome struct {
		pair TokenPair
		err  error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			p, err := ledger.Redeem(ctx, pair.RefreshToken, "", "")
			results <- outcome{p, err}
		}()
	}

	var wins, losses int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			wins++
			continue
		}
		losses++
		assert.Equal(t, "session invalid - all sessions revoked for security", r.err.Error())
		assert.Equal(t, KindUnauthorized, KindOf(r.err))
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	// The loser mass-revokes, so at most the winner's fresh session survives.
	assert.LessOrEqual(t, db.activeSessions(1), 1)
}

func TestRedeemUnknownTokenRevokesEverything(t *testing.T) {
	ledger, db, codec := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Issue(ctx, 1, "a@b.com", false, "", "", "")
	require.NoError(t, err)

	// A validly signed refresh token with no session row behind it.
	stray, _, err := codec.IssueRefresh(1, "a@b.com", "stray-jti", false)
	require.NoError(t, err)

	_, err = ledger.Redeem(ctx, stray, "", "")
	require.Error(t, err)
	assert.Equal(t, "session invalid - all sessions revoked for security", err.Error())
	assert.Equal(t, 0, db.activeSessions(1))
}

func TestRedeemRejectsAccessToken(t *testing.T) {
	ledger, _, codec := newTestLedger(t)

	access, err := codec.IssueAccess(1, "a@b.com")
	require.NoError(t, err)

	_, err = ledger.Redeem(context.Background(), access, "", "")
	require.Error(t, err)
	assert.Equal(t, "invalid refresh token", err.Error())
}

func TestRedeemExpiredSession(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()

	pair, err := ledger.Issue(ctx, 1, "a@b.com", false, "", "", "")
	require.NoError(t, err)

	db.expireSession(utils.HashToken(pair.RefreshToken))

	_, err = ledger.Redeem(ctx, pair.RefreshToken, "", "")
	require.Error(t, err)
	assert.Equal(t, "session expired", err.Error())
	// Expiry is not theft: other sessions stay untouched.
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestLogoutRevokesOnlyThatSession(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := ledger.Issue(ctx, 1, "a@b.com", false, "", "", "")
	require.NoError(t, err)
	_, err = ledger.Issue(ctx, 1, "a@b.com", false, "", "", "")
	require.NoError(t, err)

	require.NoError(t, ledger.Logout(ctx, 1, first.RefreshToken))
	assert.Equal(t, 1, db.activeSessions(1))

	// A token for a different user revokes nothing and still succeeds.
	require.NoError(t, ledger.Logout(ctx, 2, first.RefreshToken))
	assert.Equal(t, 1, db.activeSessions(1))
}

func TestRevokeAllCountsSessions(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ledger.Issue(ctx, 7, "x@y.com", false, "", "", "")
		require.NoError(t, err)
	}
	n, err := ledger.RevokeAll(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 0, db.activeSessions(7))
}

func TestRememberMeExtendsExpiry(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()

	short, err := ledger.Issue(ctx, 1, "a@b.com", false, "", "", "")
	require.NoError(t, err)
	long, err := ledger.Issue(ctx, 1, "a@b.com", true, "", "", "")
	require.NoError(t, err)

	s1, err := db.sessionsByHash(utils.HashToken(short.RefreshToken))
	require.NoError(t, err)
	s2, err := db.sessionsByHash(utils.HashToken(long.RefreshToken))
	require.NoError(t, err)
	assert.True(t, s2.ExpiresAt.After(s1.ExpiresAt.Add(20*24*time.Hour)))
}

// sessionsByHash and expireSession are test-only peeks into the fake store.
func (d *memDB) sessionsByHash(hash string) (model.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, row := range d.sessions {
		if row.TokenHash == hash {
			return *row, nil
		}
	}
	return model.Session{}, repository.ErrNotFound
}

func (d *memDB) expireSession(hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, row := range d.sessions {
		if row.TokenHash == hash {
			row.ExpiresAt = time.Now().UTC().Add(-time.Minute)
		}
	}
}
