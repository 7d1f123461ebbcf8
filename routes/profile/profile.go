package profile

import (
	"PolyChat/controllers"
	"PolyChat/pkg/relay"

	"github.com/gin-gonic/gin"
)

// Register registers protected profile routes on supplied router group
// expects the group to already have AuthMiddleware applied
func Register(g *gin.RouterGroup, rl *relay.Relay) {
	g.GET("/profile", controllers.Profile(rl))
	g.PUT("/profile", controllers.Profile(rl))
}
