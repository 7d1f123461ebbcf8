package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"PolyChat/middleware"
	"PolyChat/models"
	"PolyChat/pkg/apperr"
	"PolyChat/pkg/config"
	"PolyChat/pkg/logger"
	"PolyChat/pkg/relay"
	svc "PolyChat/pkg/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type completionRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

const persistTimeout = 10 * time.Second

// historyFor converts stored messages into provider history. The newest
// stored message is dropped when it is the prompt itself, which is the
// usual case: clients persist the user turn before asking for a completion.
func historyFor(msgs []models.Message, prompt string) []svc.ChatMessage {
	if n := len(msgs); n > 0 && msgs[n-1].Role == models.RoleUser && msgs[n-1].Content == prompt {
		msgs = msgs[:n-1]
	}
	out := make([]svc.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, svc.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Completion asks the conversation's model (or the requested one) for an
// answer and stores it as an assistant message. Provider failures are not
// HTTP failures: the body carries the fallback text plus the error.
//
// With stream=true the response is an SSE stream of "snapshot" events, each
// holding the full text so far, followed by one "message" event with the
// stored assistant message. Generation and persistence run on a context
// detached from the request, so a client that goes away does not lose the
// answer.
func Completion(rl *relay.Relay, adapter *svc.Adapter) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.Named("completion")

		var body completionRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid request")
			return
		}
		if strings.TrimSpace(body.Prompt) == "" {
			badRequest(c, "prompt is required")
			return
		}
		if body.Model != "" {
			if _, ok := models.LookupModel(body.Model); !ok {
				respondError(c, apperr.Validationf("unknown model %q", body.Model))
				return
			}
		}

		ctx := c.Request.Context()
		convID := c.Param("conversation_id")
		conv, err := rl.GetConversation(ctx, convID)
		if err != nil {
			respondError(c, err)
			return
		}
		msgs, err := rl.ListMessages(ctx, convID)
		if err != nil {
			respondError(c, err)
			return
		}
		model := conv.Model
		if body.Model != "" {
			model = body.Model
		}
		req := svc.Request{Model: model, Prompt: body.Prompt, History: historyFor(msgs, body.Prompt)}

		release, err := middleware.AcquireUserSlot(ctx, c.GetString(middleware.ContextUserIDKey))
		if err != nil {
			respondError(c, apperr.New(apperr.Timeout, "request cancelled while waiting for a free slot", err))
			return
		}
		defer release()

		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(config.CompletionTimeoutSeconds)*time.Second)
		defer cancel()

		// genCtx may already be past its deadline when the answer is stored
		persist := func(content string) *models.Message {
			storeCtx, cancelStore := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
			defer cancelStore()
			stored, err := rl.SendMessage(storeCtx, convID, content, models.RoleAssistant, nil)
			if err != nil {
				log.Error("failed to store assistant message", zap.String("conversation_id", convID), zap.Error(err))
				return nil
			}
			return stored
		}

		if !body.Stream {
			resp := adapter.Complete(genCtx, req)
			stored := persist(resp.Content)
			c.JSON(http.StatusOK, gin.H{"content": resp.Content, "error": resp.Error, "model": model, "message": stored})
			return
		}

		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no") // nginx buffering off

		var final svc.Snapshot
		clientGone := false
		for snap := range adapter.Stream(genCtx, req) {
			final = snap
			if clientGone {
				continue
			}
			if ctx.Err() != nil {
				// client went away mid-stream; keep draining so the answer is stored
				clientGone = true
				continue
			}
			c.SSEvent("snapshot", snap)
			c.Writer.Flush()
		}
		stored := persist(final.Content)
		if !clientGone && stored != nil {
			c.SSEvent("message", stored)
			c.Writer.Flush()
		}
	}
}
