package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rateguard/rateguard/internal/token"
)

func doRequest(t *testing.T, codec *token.Codec, authHeader string) (*httptest.ResponseRecorder, uint64, bool) {
	t.Helper()
	e := echo.New()
	var gotID uint64
	var gotOK bool
	e.GET("/protected", func(c echo.Context) error {
		gotID, gotOK = UserID(c)
		return c.NoContent(http.StatusOK)
	}, JWTAuth(codec))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, gotID, gotOK
}

func TestJWTAuthAcceptsValidAccessToken(t *testing.T) {
	codec := token.NewCodec("a", "r", "15m", "7d", "30d")
	raw, err := codec.IssueAccess(42, "a@b.com")
	require.NoError(t, err)

	rec, id, ok := doRequest(t, codec, "Bearer "+raw)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), id)
}

func TestJWTAuthRejectsMissingHeader(t *testing.T) {
	codec := token.NewCodec("a", "r", "15m", "7d", "30d")
	rec, _, _ := doRequest(t, codec, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing bearer token")
}

func TestJWTAuthRejectsRefreshToken(t *testing.T) {
	codec := token.NewCodec("a", "r", "15m", "7d", "30d")
	raw, _, err := codec.IssueRefresh(42, "a@b.com", "jti", false)
	require.NoError(t, err)

	rec, _, _ := doRequest(t, codec, "Bearer "+raw)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid token")
}

func TestJWTAuthRejectsGarbage(t *testing.T) {
	codec := token.NewCodec("a", "r", "15m", "7d", "30d")
	rec, _, _ := doRequest(t, codec, "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
