package conversation

import (
	"PolyChat/controllers"
	"PolyChat/middleware"
	"PolyChat/pkg/relay"
	svc "PolyChat/pkg/services"

	"github.com/gin-gonic/gin"
)

// Register registers conversation routes (protected)
func Register(g *gin.RouterGroup, rl *relay.Relay, adapter *svc.Adapter) {
	g.POST("/conversations", controllers.CreateConversation(rl))
	g.GET("/conversations", controllers.ListConversations(rl))
	g.GET("/conversations/:conversation_id", controllers.GetConversation(rl))
	g.PATCH("/conversations/:conversation_id", controllers.UpdateConversation(rl))
	g.DELETE("/conversations/:conversation_id", controllers.DeleteConversation(rl))

	g.GET("/conversations/:conversation_id/messages", controllers.ListMessages(rl))
	// Basic rate limiting on the endpoints that write messages or call models
	g.POST("/conversations/:conversation_id/messages", middleware.RateLimit(), controllers.SendMessage(rl))
	g.POST("/conversations/:conversation_id/completions", middleware.RateLimit(), controllers.Completion(rl, adapter))
}
