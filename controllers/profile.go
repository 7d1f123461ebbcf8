package controllers

import (
	"net/http"

	"PolyChat/pkg/relay"

	"github.com/gin-gonic/gin"
)

func Profile(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			user, err := rl.CurrentUser(c.Request.Context())
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, user)
			return
		}

		// PUT
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid request")
			return
		}
		user, err := rl.UpdateProfile(c.Request.Context(), body.Email, body.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"msg": "Profile updated successfully", "user": user})
	}
}
