package websocket

import (
	"PolyChat/controllers"
	"PolyChat/middleware"
	"PolyChat/pkg/relay"

	"github.com/gin-gonic/gin"
)

func Register(r *gin.Engine, rl *relay.Relay) {
	r.GET("/ws/conversations/:conversation_id", middleware.QueryTokenAuth(), controllers.ConversationWS(rl))
}
