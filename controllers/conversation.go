package controllers

import (
	"net/http"
	"strings"

	"PolyChat/middleware"
	"PolyChat/models"
	"PolyChat/pkg/apperr"
	"PolyChat/pkg/relay"

	"github.com/gin-gonic/gin"
)

// Models lists the selectable model catalog. Public.
func Models() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": models.Catalog(), "default": models.DefaultModel})
	}
}

func CreateConversation(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Title string `json:"title"`
			Model string `json:"model"`
		}
		// an empty body is allowed and yields defaults
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				badRequest(c, "invalid request")
				return
			}
		}
		conv, err := rl.CreateConversation(c.Request.Context(), body.Title, body.Model)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, conv)
	}
}

func ListConversations(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		convs, err := rl.ListConversations(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		if convs == nil {
			convs = []models.Conversation{}
		}
		c.JSON(http.StatusOK, gin.H{"conversations": convs})
	}
}

func GetConversation(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		conv, err := rl.GetConversation(c.Request.Context(), c.Param("conversation_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, conv)
	}
}

func UpdateConversation(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Title *string `json:"title"`
			Model *string `json:"model"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid request")
			return
		}
		conv, err := rl.UpdateConversation(c.Request.Context(), c.Param("conversation_id"), body.Title, body.Model)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, conv)
	}
}

func DeleteConversation(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := rl.DeleteConversation(c.Request.Context(), c.Param("conversation_id")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"msg": "conversation deleted"})
	}
}

func ListMessages(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		msgs, err := rl.ListMessages(c.Request.Context(), c.Param("conversation_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if msgs == nil {
			msgs = []models.Message{}
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	}
}

// SendMessage stores one message. Repeating the same user text within the
// duplicate window is rejected with 409; a rejected send does not count.
func SendMessage(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Content string      `json:"content"`
			Role    models.Role `json:"role"`
			FileURL *string     `json:"file_url"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid request")
			return
		}
		if body.Role == "" {
			body.Role = models.RoleUser
		}
		dupKey := ""
		if body.Role == models.RoleUser && strings.TrimSpace(body.Content) != "" {
			dupKey = c.GetString(middleware.ContextUserIDKey) + ":" + c.Param("conversation_id")
			if !middleware.DuplicateGuard(dupKey, body.Content) {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"msg": "duplicate message", "code": apperr.Validation})
				return
			}
		}
		msg, err := rl.SendMessage(c.Request.Context(), c.Param("conversation_id"), body.Content, body.Role, body.FileURL)
		if err != nil {
			if dupKey != "" {
				middleware.ForgetDuplicate(dupKey, body.Content)
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
	}
}
