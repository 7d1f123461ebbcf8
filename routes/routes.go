package routes

import (
	"net/http"

	"PolyChat/controllers"
	"PolyChat/middleware"
	"PolyChat/pkg/relay"
	svc "PolyChat/pkg/services"

	"github.com/gin-gonic/gin"

	authRoutes "PolyChat/routes/auth"
	convRoutes "PolyChat/routes/conversation"
	profileRoutes "PolyChat/routes/profile"
	uploadsRoutes "PolyChat/routes/uploads"
	websocketRoutes "PolyChat/routes/websocket"
)

// Deps are the services the handlers close over.
type Deps struct {
	Relay     *relay.Relay
	Adapter   *svc.Adapter
	Storage   *svc.AttachmentStorage
	UploadDir string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "PolyChat backend running"})
	})
	r.GET("/models", controllers.Models())

	uploadsRoutes.RegisterPublic(r, d.UploadDir)
	websocketRoutes.Register(r, d.Relay)
	authRoutes.RegisterPublic(r, d.Relay)

	protected := r.Group("/")
	protected.Use(middleware.AuthMiddleware())
	authRoutes.RegisterProtected(protected)
	profileRoutes.Register(protected, d.Relay)
	convRoutes.Register(protected, d.Relay, d.Adapter)
	uploadsRoutes.RegisterProtected(protected, d.Storage)
}
