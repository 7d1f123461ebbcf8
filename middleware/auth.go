package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"PolyChat/pkg/apperr"
	"PolyChat/pkg/authctx"
	"PolyChat/pkg/config"
	tokenstore "PolyChat/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ContextUserIDKey = "current_user_id"
	ContextJTIKey    = "current_jti"
	ContextExpKey    = "current_token_exp"
)

// Claims are the access token claims. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs an access token for userID valid for config.TokenTTLHours.
func IssueToken(userID string) (string, time.Time, error) {
	exp := time.Now().Add(time.Duration(config.TokenTTLHours) * time.Hour)
	claims := Claims{jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.JWTSecret))
	return signed, exp, err
}

var errRevoked = errors.New("token has been revoked")

// ParseToken validates signature, expiry and revocation.
func ParseToken(tokenStr string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		// only accept HMAC signing
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return []byte(config.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidSubject
	}
	if tokenstore.IsRevoked(claims.ID) {
		return nil, errRevoked
	}
	return &claims, nil
}

func abortAuth(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": reason, "code": apperr.AuthRequired})
}

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// SetSession stores the authenticated user on both the gin context and the
// request context, where the relay reads it.
func SetSession(c *gin.Context, claims *Claims) {
	c.Set(ContextUserIDKey, claims.Subject)
	c.Set(ContextJTIKey, claims.ID)
	if claims.ExpiresAt != nil {
		c.Set(ContextExpKey, claims.ExpiresAt.Time)
	}
	c.Request = c.Request.WithContext(authctx.WithUserID(c.Request.Context(), claims.Subject))
}

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			abortAuth(c, "missing authorization header")
			return
		}
		tokenStr, ok := bearerToken(c)
		if !ok {
			abortAuth(c, "invalid authorization header")
			return
		}
		claims, err := ParseToken(tokenStr)
		if errors.Is(err, errRevoked) {
			abortAuth(c, "Token has been revoked (logout)")
			return
		}
		if err != nil {
			abortAuth(c, "invalid token")
			return
		}
		SetSession(c, claims)
		c.Next()
	}
}

// QueryTokenAuth authenticates with ?token=, for WebSocket handshakes where
// browsers cannot set headers.
func QueryTokenAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := strings.TrimSpace(c.Query("token"))
		if tokenStr == "" {
			if t, ok := bearerToken(c); ok {
				tokenStr = t
			}
		}
		if tokenStr == "" {
			abortAuth(c, "missing token query")
			return
		}
		claims, err := ParseToken(tokenStr)
		if err != nil {
			abortAuth(c, "invalid token")
			return
		}
		SetSession(c, claims)
		c.Next()
	}
}
