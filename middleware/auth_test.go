package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"PolyChat/pkg/authctx"
	tokenstore "PolyChat/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func authedRouter() *gin.Engine {
	r := gin.New()
	r.GET("/me", AuthMiddleware(), func(c *gin.Context) {
		uid, _ := authctx.UserID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user": uid, "gin_user": c.GetString(ContextUserIDKey)})
	})
	return r
}

func get(r http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := authedRouter()
	tok, exp, err := IssueToken("user-1")
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	w := get(r, "Bearer "+tok)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user":"user-1","gin_user":"user-1"}`, w.Body.String())

	require.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	require.Equal(t, http.StatusUnauthorized, get(r, "Token "+tok).Code)
	require.Equal(t, http.StatusUnauthorized, get(r, "Bearer garbage").Code)
}

func TestAuthMiddlewareRejectsRevokedAndForeignTokens(t *testing.T) {
	r := authedRouter()
	tok, exp, err := IssueToken("user-1")
	require.NoError(t, err)
	claims, err := ParseToken(tok)
	require.NoError(t, err)

	tokenstore.RevokeToken(claims.ID, exp)
	w := get(r, "Bearer "+tok)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "revoked")

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("some-other-secret"))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, get(r, "Bearer "+foreign).Code)
}

func TestQueryTokenAuth(t *testing.T) {
	r := gin.New()
	r.GET("/ws", QueryTokenAuth(), func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextUserIDKey)) })
	tok, _, err := IssueToken("user-9")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-9", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
