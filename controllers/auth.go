package controllers

import (
	"net/http"
	"time"

	"PolyChat/middleware"
	"PolyChat/pkg/relay"
	tokenstore "PolyChat/pkg/token"

	"github.com/gin-gonic/gin"
)

// Register handler
func Register(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Email           string `json:"email"`
			Password        string `json:"password"`
			ConfirmPassword string `json:"confirm_password"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid request")
			return
		}
		user, err := rl.Register(c.Request.Context(), body.Email, body.Password, body.ConfirmPassword)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"msg": "User created", "user": user})
	}
}

// Login handler
func Login(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid request")
			return
		}
		user, err := rl.Authenticate(c.Request.Context(), body.Email, body.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		tokenStr, exp, err := middleware.IssueToken(user.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": tokenStr, "expires_at": exp, "user": user})
	}
}

// Logout revokes the presented token until it would have expired.
func Logout() gin.HandlerFunc {
	return func(c *gin.Context) {
		jti := c.GetString(middleware.ContextJTIKey)
		exp := c.GetTime(middleware.ContextExpKey)
		if exp.IsZero() {
			exp = time.Now().Add(24 * time.Hour)
		}
		tokenstore.RevokeToken(jti, exp)
		c.JSON(http.StatusOK, gin.H{"msg": "logged out"})
	}
}
