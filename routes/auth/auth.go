package auth

import (
	"PolyChat/controllers"
	"PolyChat/middleware"
	"PolyChat/pkg/relay"

	"github.com/gin-gonic/gin"
)

// RegisterPublic registers public auth routes: /register, /login
func RegisterPublic(r *gin.Engine, rl *relay.Relay) {
	r.POST("/register", middleware.RateLimit(), controllers.Register(rl))
	r.POST("/login", middleware.RateLimit(), controllers.Login(rl))
}

// RegisterProtected registers protected auth routes (e.g. logout)
func RegisterProtected(g *gin.RouterGroup) {
	g.POST("/logout", controllers.Logout())
}
