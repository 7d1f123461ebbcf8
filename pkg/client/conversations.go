package client

import (
	"context"
	"net/http"
	"net/url"

	"PolyChat/models"
)

// Models returns the model catalog and the default model id.
func (c *Client) Models(ctx context.Context) ([]models.ModelDescriptor, string, error) {
	var out struct {
		Models  []models.ModelDescriptor `json:"models"`
		Default string                   `json:"default"`
	}
	if err := c.call(ctx, http.MethodGet, "/models", nil, &out); err != nil {
		return nil, "", err
	}
	return out.Models, out.Default, nil
}

func (c *Client) CreateConversation(ctx context.Context, title, model string) (*models.Conversation, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var conv models.Conversation
	body := map[string]string{"title": title, "model": model}
	if err := c.call(ctx, http.MethodPost, "/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns the caller's conversations, most recently
// updated first.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var out struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.call(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var conv models.Conversation
	if err := c.call(ctx, http.MethodGet, conversationPath(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// UpdateConversation changes the title and/or model; nil leaves a field as is.
func (c *Client) UpdateConversation(ctx context.Context, id string, title, model *string) (*models.Conversation, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	body := map[string]*string{"title": title, "model": model}
	var conv models.Conversation
	if err := c.call(ctx, http.MethodPatch, conversationPath(id), body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	return c.call(ctx, http.MethodDelete, conversationPath(id), nil, nil)
}

// ListMessages returns the conversation's messages, oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.call(ctx, http.MethodGet, conversationPath(conversationID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessage stores a message. fileURL may be nil.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, role models.Role, fileURL *string) (*models.Message, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	body := struct {
		Content string      `json:"content"`
		Role    models.Role `json:"role"`
		FileURL *string     `json:"file_url,omitempty"`
	}{content, role, fileURL}
	var msg models.Message
	if err := c.call(ctx, http.MethodPost, conversationPath(conversationID)+"/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Completion is the non-streaming completion result. Error is set when the
// provider failed and Content holds the fallback text.
type Completion struct {
	Content string          `json:"content"`
	Error   string          `json:"error"`
	Model   string          `json:"model"`
	Message *models.Message `json:"message"`
}

// Complete asks the conversation's model (or model, when non-empty) to
// answer prompt and waits for the whole reply.
func (c *Client) Complete(ctx context.Context, conversationID, prompt, model string) (*Completion, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	body := map[string]any{"prompt": prompt, "model": model, "stream": false}
	var out Completion
	if err := c.call(ctx, http.MethodPost, conversationPath(conversationID)+"/completions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func conversationPath(id string) string {
	return pathf("/conversations/%s", url.PathEscape(id))
}
