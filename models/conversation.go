package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultConversationTitle is used until the first user message names the chat.
const DefaultConversationTitle = "New Chat"

// titleWords is how many words of the first user message become the title.
const titleWords = 4

type Conversation struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	UserID      string    `gorm:"size:36;not null;index" json:"user_id"`
	Title       string    `gorm:"size:200;not null" json:"title"`
	Model       string    `gorm:"size:64;not null" json:"model"`
	LastMessage string    `gorm:"type:text" json:"last_message"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `gorm:"index" json:"updated_at"`
	Messages    []Message `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if strings.TrimSpace(c.Title) == "" {
		c.Title = DefaultConversationTitle
	}
	return nil
}

// TitleFromMessage derives a conversation title from the first words of a message.
func TitleFromMessage(content string) string {
	words := strings.Fields(content)
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	title := strings.Join(words, " ")
	if len(title) > 200 {
		title = title[:200]
	}
	return title
}
