// Package realtime fans out inserted messages to per-conversation
// subscribers. Delivery is best-effort: a subscriber whose buffer is full
// misses the event.
package realtime

import (
	"context"
	"sync"

	"PolyChat/models"
	"PolyChat/pkg/logger"

	"go.uber.org/zap"
)

const subscriberBuffer = 32

// Publisher accepts inserted messages for delivery.
type Publisher interface {
	Publish(ctx context.Context, msg models.Message)
}

type subscriber struct {
	ch chan models.Message
}

// Hub is the in-process broker. The zero value is not usable; call NewHub.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
	log  *zap.Logger
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		log:  logger.Named("realtime"),
	}
}

// Subscribe registers for inserts into conversationID. The returned cancel
// func unregisters and closes the channel; calling it twice is safe.
func (h *Hub) Subscribe(conversationID string) (<-chan models.Message, func()) {
	s := &subscriber{ch: make(chan models.Message, subscriberBuffer)}

	h.mu.Lock()
	set, ok := h.subs[conversationID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[conversationID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[conversationID]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.subs, conversationID)
				}
			}
			h.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Publish delivers msg to every current subscriber of its conversation.
// It never blocks.
func (h *Hub) Publish(_ context.Context, msg models.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[msg.ConversationID] {
		select {
		case s.ch <- msg:
		default:
			h.log.Warn("subscriber buffer full, dropping message",
				zap.String("conversation_id", msg.ConversationID),
				zap.String("message_id", msg.ID))
		}
	}
}

// Subscribers reports how many listeners a conversation has.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}
