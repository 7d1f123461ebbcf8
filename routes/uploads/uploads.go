package uploads

import (
	"PolyChat/controllers"
	svc "PolyChat/pkg/services"

	"github.com/gin-gonic/gin"
)

// RegisterPublic serves stored attachments.
func RegisterPublic(r *gin.Engine, dir string) {
	r.Static("/uploads/files", dir)
}

func RegisterProtected(g *gin.RouterGroup, storage *svc.AttachmentStorage) {
	g.GET("/uploads/token", controllers.UploadToken(storage))
	g.POST("/uploads", controllers.UploadAttachment(storage))
}
