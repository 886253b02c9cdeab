package services

import (
	"time"

	"messenger-console/models"
	"messenger-console/pkg/realtime"
)

// ImagePreview is the conversation preview for an image-only message.
const ImagePreview = "📷 Image"

func previewText(text, imageURL string) string {
	if text == "" && imageURL != "" {
		return ImagePreview
	}
	return text
}

// MessageEvent is the new_message payload.
type MessageEvent struct {
	models.Message
	PageID   string `json:"page_id"`
	UserName string `json:"user_name"`
}

// ConversationUpdate is the conversation_updated payload.
type ConversationUpdate struct {
	ID              uint       `json:"id"`
	PageID          string     `json:"page_id"`
	UserID          string     `json:"user_id"`
	UserName        string     `json:"user_name"`
	LastMessageText string     `json:"last_message_text"`
	LastMessageTime *time.Time `json:"last_message_time"`
	UnreadCount     int        `json:"unread_count"`
}

// ConversationCleared is the conversation_cleared payload.
type ConversationCleared struct {
	ID     uint   `json:"id"`
	PageID string `json:"page_id"`
}

// Publisher is the fanout side the services talk to.
type Publisher interface {
	Publish(ev realtime.Event) int
}

// NewConversationUpdate builds the conversation_updated payload.
func NewConversationUpdate(c *models.Conversation) ConversationUpdate {
	return ConversationUpdate{
		ID:              c.ID,
		PageID:          c.PageID,
		UserID:          c.UserID,
		UserName:        c.UserName,
		LastMessageText: c.LastMessageText,
		LastMessageTime: c.LastMessageTime,
		UnreadCount:     c.UnreadCount,
	}
}
