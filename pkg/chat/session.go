// Package chat drives a signed-in chat session: it calls the service through
// pkg/client and keeps a pkg/state Store in step with the results.
package chat

import (
	"context"
	"strings"
	"sync"

	"PolyChat/models"
	"PolyChat/pkg/apperr"
	"PolyChat/pkg/client"
	"PolyChat/pkg/logger"
	svc "PolyChat/pkg/services"
	"PolyChat/pkg/state"

	"go.uber.org/zap"
)

type Session struct {
	api   *client.Client
	store *state.Store
	log   *zap.Logger

	// mu serializes selection changes and guards the live subscription.
	mu      sync.Mutex
	stopSub func()
}

func New(api *client.Client, store *state.Store) *Session {
	if store == nil {
		store = state.New()
	}
	return &Session{api: api, store: store, log: logger.Named("chat")}
}

func (s *Session) Store() *state.Store { return s.store }

func (s *Session) SignIn(ctx context.Context, email, password string) error {
	sess, err := s.api.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	s.store.SetUser(sess.User)
	return s.Refresh(ctx)
}

func (s *Session) SignUp(ctx context.Context, email, password, confirm string) error {
	sess, err := s.api.SignUp(ctx, email, password, confirm)
	if err != nil {
		return err
	}
	s.store.SetUser(sess.User)
	return s.Refresh(ctx)
}

// SignOut ends the subscription and clears local state whether or not the
// server acknowledged the logout.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.disposeLocked()
	s.mu.Unlock()

	err := s.api.SignOut(ctx)
	s.store.ClearUser()
	if err != nil {
		s.log.Warn("logout request failed", zap.Error(err))
	}
	return err
}

// Refresh reloads the conversation list. On failure the previous list stays.
func (s *Session) Refresh(ctx context.Context) error {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		return err
	}
	s.store.SetConversations(convs)
	return nil
}

// NewConversation creates a conversation with the selected model and opens it.
func (s *Session) NewConversation(ctx context.Context, title string) (*models.Conversation, error) {
	conv, err := s.api.CreateConversation(ctx, title, s.store.Snapshot().Model)
	if err != nil {
		return nil, err
	}
	s.store.UpsertConversation(*conv)
	if err := s.Select(ctx, conv.ID); err != nil {
		return conv, err
	}
	return conv, nil
}

// Select opens a conversation. The previous subscription is disposed before
// anything else happens, and the message list is emptied together with the
// selection change. The new subscription is opened before the fetch so no
// insert falls between the two; SetMessages merges deliveries by id.
func (s *Session) Select(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disposeLocked()
	s.store.SelectConversation(id)
	if id == "" {
		return nil
	}

	stop, done, err := s.api.Subscribe(context.WithoutCancel(ctx), id, func(m models.Message) {
		s.store.AppendMessage(m)
	})
	if err != nil {
		return err
	}
	s.stopSub = stop
	go func() {
		<-done
		s.log.Debug("subscription ended", zap.String("conversation_id", id))
	}()

	msgs, err := s.api.ListMessages(ctx, id)
	if err != nil {
		return err
	}
	s.store.SetMessages(id, msgs)
	return nil
}

func (s *Session) disposeLocked() {
	if s.stopSub != nil {
		s.stopSub()
		s.stopSub = nil
	}
}

// Close disposes the live subscription.
func (s *Session) Close() {
	s.mu.Lock()
	s.disposeLocked()
	s.mu.Unlock()
}

// SetModel changes the selected model and, when a conversation is open,
// stores it on the conversation too.
func (s *Session) SetModel(ctx context.Context, id string) error {
	if err := s.store.SetModel(id); err != nil {
		return err
	}
	convID := s.store.Snapshot().CurrentConversationID
	if convID == "" {
		return nil
	}
	conv, err := s.api.UpdateConversation(ctx, convID, nil, &id)
	if err != nil {
		return err
	}
	s.store.UpsertConversation(*conv)
	return nil
}

func (s *Session) Rename(ctx context.Context, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apperr.Validationf("title is required")
	}
	convID := s.store.Snapshot().CurrentConversationID
	if convID == "" {
		return apperr.Validationf("no conversation selected")
	}
	conv, err := s.api.UpdateConversation(ctx, convID, &title, nil)
	if err != nil {
		return err
	}
	s.store.UpsertConversation(*conv)
	return nil
}

func (s *Session) Delete(ctx context.Context, id string) error {
	if err := s.api.DeleteConversation(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	if s.store.Snapshot().CurrentConversationID == id {
		s.disposeLocked()
	}
	s.mu.Unlock()
	s.store.RemoveConversation(id)
	return nil
}

// Send stores text as a user message in the open conversation (creating one
// if none is open), streams the model's answer to onSnapshot and returns the
// final snapshot. A provider failure is not an error here: the final
// snapshot carries the fallback text and its Error field.
func (s *Session) Send(ctx context.Context, text string, fileURL *string, onSnapshot func(svc.Snapshot)) (svc.Snapshot, error) {
	if strings.TrimSpace(text) == "" {
		return svc.Snapshot{}, apperr.Validationf("message is empty")
	}
	st := s.store.Snapshot()
	if !st.Authenticated {
		return svc.Snapshot{}, apperr.New(apperr.AuthRequired, "sign in first", nil)
	}
	convID := st.CurrentConversationID
	if convID == "" {
		conv, err := s.NewConversation(ctx, models.DefaultConversationTitle)
		if err != nil {
			return svc.Snapshot{}, err
		}
		convID = conv.ID
	}

	m, err := s.api.SendMessage(ctx, convID, text, models.RoleUser, fileURL)
	if err != nil {
		return svc.Snapshot{}, err
	}
	s.store.AppendMessage(*m)

	stream, err := s.api.Stream(ctx, convID, text, s.store.Snapshot().Model)
	if err != nil {
		return svc.Snapshot{}, err
	}
	var last svc.Snapshot
	for snap := range stream.Snapshots() {
		last = snap
		if onSnapshot != nil {
			onSnapshot(snap)
		}
	}
	if err := stream.Err(); err != nil {
		return last, err
	}
	if stored := stream.Message(); stored != nil {
		s.store.AppendMessage(*stored)
	}
	if last.Error != "" {
		s.log.Warn("model answered with fallback", zap.String("conversation_id", convID), zap.String("error", last.Error))
	}
	return last, nil
}
