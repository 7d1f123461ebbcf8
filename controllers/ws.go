package controllers

import (
	"context"
	"net/http"
	"time"

	"PolyChat/models"
	"PolyChat/pkg/logger"
	"PolyChat/pkg/relay"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS handled at HTTP level; allow WS here
		return true
	},
}

// wsEvent is the only frame the server sends.
type wsEvent struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message,omitempty"`
}

// ConversationWS pushes every message inserted into the conversation to the
// socket as {"type":"message","message":{...}}. The session comes from
// QueryTokenAuth. Incoming frames are read only to notice the close.
func ConversationWS(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.Named("ws")
		convID := c.Param("conversation_id")

		// check ownership before upgrading so failures are plain HTTP errors
		if _, err := rl.GetConversation(c.Request.Context(), convID); err != nil {
			respondError(c, err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("upgrade error", zap.Error(err))
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		out := make(chan models.Message, 16)
		unsub, err := rl.Subscribe(ctx, convID, func(m models.Message) {
			select {
			case out <- m:
			case <-ctx.Done():
			}
		})
		if err != nil {
			_ = conn.WriteJSON(gin.H{"type": "error", "error": err.Error()})
			return
		}
		defer unsub()

		conn.SetReadLimit(1 << 16)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(wsEvent{Type: "subscribed"}); err != nil {
			return
		}

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
				return
			case m := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(wsEvent{Type: "message", Message: &m}); err != nil {
					log.Debug("write failed", zap.String("conversation_id", convID), zap.Error(err))
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}
}
