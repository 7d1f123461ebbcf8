// Package relay mediates persistence and realtime delivery of conversations
// and messages. Every operation is scoped to the user carried by the
// context; rows owned by someone else behave as if they did not exist.
package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"PolyChat/models"
	"PolyChat/pkg/apperr"
	"PolyChat/pkg/authctx"
	"PolyChat/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Subscriber is the realtime side the relay subscribes through.
type Subscriber interface {
	Subscribe(conversationID string) (<-chan models.Message, func())
}

// Unsubscribe stops delivery. It is safe to call more than once.
type Unsubscribe func()

type Relay struct {
	db  *gorm.DB
	rt  Subscriber
	log *zap.Logger
}

func New(db *gorm.DB, rt Subscriber) *Relay {
	return &Relay{db: db, rt: rt, log: logger.Named("relay")}
}

func currentUser(ctx context.Context) (string, error) {
	uid, ok := authctx.UserID(ctx)
	if !ok {
		return "", apperr.New(apperr.AuthRequired, "authentication required", nil)
	}
	return uid, nil
}

func validateModel(model string) error {
	if _, ok := models.LookupModel(model); !ok {
		return apperr.Validationf("unknown model %q", model)
	}
	return nil
}

func notFound(what string) error {
	return apperr.New(apperr.Store, what+" not found", apperr.ErrNotFound)
}

func (r *Relay) ownedConversation(ctx context.Context, uid, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, uid).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("conversation")
	}
	if err != nil {
		return nil, apperr.StoreErr("failed to load conversation", err)
	}
	return &conv, nil
}

// CreateConversation inserts a conversation owned by the session user. An
// empty title becomes the default title.
func (r *Relay) CreateConversation(ctx context.Context, title, model string) (*models.Conversation, error) {
	uid, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(model) == "" {
		model = models.DefaultModel
	}
	if err := validateModel(model); err != nil {
		return nil, err
	}
	conv := models.Conversation{UserID: uid, Title: strings.TrimSpace(title), Model: model}
	if err := r.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, apperr.StoreErr("failed to create conversation", err)
	}
	return &conv, nil
}

// ListConversations returns the session user's conversations, most recently
// updated first.
func (r *Relay) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	uid, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	var convs []models.Conversation
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", uid).
		Order("updated_at DESC").
		Find(&convs).Error; err != nil {
		return nil, apperr.StoreErr("failed to list conversations", err)
	}
	return convs, nil
}

func (r *Relay) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	uid, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return r.ownedConversation(ctx, uid, id)
}

// UpdateConversation renames a conversation and/or switches its model. Nil
// fields are left alone.
func (r *Relay) UpdateConversation(ctx context.Context, id string, title, model *string) (*models.Conversation, error) {
	uid, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if title != nil {
		t := strings.TrimSpace(*title)
		if t == "" {
			return nil, apperr.Validationf("title must not be empty")
		}
		updates["title"] = t
	}
	if model != nil {
		if err := validateModel(*model); err != nil {
			return nil, err
		}
		updates["model"] = *model
	}
	if len(updates) == 0 {
		return nil, apperr.Validationf("nothing to update")
	}
	res := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND user_id = ?", id, uid).
		Updates(updates)
	if res.Error != nil {
		return nil, apperr.StoreErr("failed to update conversation", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, notFound("conversation")
	}
	return r.ownedConversation(ctx, uid, id)
}

// DeleteConversation removes the conversation and all its messages in one
// transaction.
func (r *Relay) DeleteConversation(ctx context.Context, id string) error {
	uid, err := currentUser(ctx)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		err := tx.Where("id = ? AND user_id = ?", id, uid).First(&conv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("conversation")
		}
		if err != nil {
			return apperr.StoreErr("failed to load conversation", err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return apperr.StoreErr("failed to delete messages", err)
		}
		if err := tx.Delete(&conv).Error; err != nil {
			return apperr.StoreErr("failed to delete conversation", err)
		}
		return nil
	})
}

// ListMessages returns a conversation's messages in creation order.
func (r *Relay) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	uid, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := r.ownedConversation(ctx, uid, conversationID); err != nil {
		return nil, err
	}
	var msgs []models.Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, apperr.StoreErr("failed to list messages", err)
	}
	return msgs, nil
}

// SendMessage inserts a message and, concurrently, points the
// conversation's last_message at it. The first user message also replaces
// the default title. Neither half is rolled back when the other fails; if
// only the update failed, last_message is recomputed from the stored rows.
func (r *Relay) SendMessage(ctx context.Context, conversationID, content string, role models.Role, fileURL *string) (*models.Message, error) {
	uid, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validationf("message content must not be empty")
	}
	if !role.Valid() {
		return nil, apperr.Validationf("invalid role %q", role)
	}
	if fileURL != nil && strings.TrimSpace(*fileURL) == "" {
		fileURL = nil
	}

	conv, err := r.ownedConversation(ctx, uid, conversationID)
	if err != nil {
		return nil, err
	}
	if fileURL != nil {
		if d, _ := models.LookupModel(conv.Model); !d.SupportsFiles {
			return nil, apperr.Validationf("model %q does not accept file attachments", conv.Model)
		}
	}

	msg := models.Message{ConversationID: conversationID, Content: content, Role: role, FileURL: fileURL}
	updates := map[string]any{"last_message": content, "updated_at": time.Now().UTC()}
	if role == models.RoleUser && conv.Title == models.DefaultConversationTitle {
		if t := models.TitleFromMessage(content); t != "" {
			updates["title"] = t
		}
	}

	var insertErr, updateErr error
	var g errgroup.Group
	g.Go(func() error {
		if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
			insertErr = apperr.StoreErr("failed to save message", err)
		}
		return insertErr
	})
	g.Go(func() error {
		res := r.db.WithContext(ctx).Model(&models.Conversation{}).
			Where("id = ? AND user_id = ?", conversationID, uid).
			Updates(updates)
		switch {
		case res.Error != nil:
			updateErr = apperr.StoreErr("failed to update conversation", res.Error)
		case res.RowsAffected == 0:
			updateErr = notFound("conversation")
		}
		return updateErr
	})
	err = g.Wait()

	if insertErr == nil && updateErr != nil {
		r.log.Warn("last_message update failed, reconciling",
			zap.String("conversation_id", conversationID), zap.Error(updateErr))
		if rerr := r.reconcile(context.WithoutCancel(ctx), conversationID); rerr != nil {
			r.log.Error("reconcile failed", zap.String("conversation_id", conversationID), zap.Error(rerr))
		}
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Reconcile recomputes last_message from the newest stored message.
func (r *Relay) Reconcile(ctx context.Context, conversationID string) error {
	uid, err := currentUser(ctx)
	if err != nil {
		return err
	}
	if _, err := r.ownedConversation(ctx, uid, conversationID); err != nil {
		return err
	}
	return r.reconcile(ctx, conversationID)
}

func (r *Relay) reconcile(ctx context.Context, conversationID string) error {
	var last models.Message
	content := ""
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(1).
		Find(&last).Error
	if err != nil {
		return apperr.StoreErr("failed to load latest message", err)
	}
	if last.ID != "" {
		content = last.Content
	}
	if err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("last_message", content).Error; err != nil {
		return apperr.StoreErr("failed to update conversation", err)
	}
	return nil
}

// Subscribe calls onMessage for every message inserted into the
// conversation after this call returns, from any client. onMessage runs on
// a dedicated goroutine, one message at a time. Delivery stops when the
// returned func is called or ctx is done.
func (r *Relay) Subscribe(ctx context.Context, conversationID string, onMessage func(models.Message)) (Unsubscribe, error) {
	uid, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := r.ownedConversation(ctx, uid, conversationID); err != nil {
		return nil, err
	}
	ch, cancel := r.rt.Subscribe(conversationID)
	go func() {
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				onMessage(m)
			}
		}
	}()
	return Unsubscribe(cancel), nil
}
