package models

import "time"

// PlaceholderCustomerName is stored until a profile lookup yields a real name.
const PlaceholderCustomerName = "Customer"

const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

type Page struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	AccessToken string    `gorm:"type:text;not null" json:"-"`
	AddedAt     time.Time `gorm:"autoCreateTime" json:"added_at"`
}

type Customer struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	Name       string    `gorm:"size:255;not null;default:Customer" json:"name"`
	ProfilePic string    `gorm:"type:text" json:"profile_pic"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c *Customer) HasPlaceholderName() bool {
	return c.Name == "" || c.Name == PlaceholderCustomerName
}

type Conversation struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID string `gorm:"size:64;not null;uniqueIndex:idx_conversation_user_page" json:"user_id"`
	PageID string `gorm:"size:64;not null;uniqueIndex:idx_conversation_user_page;index" json:"page_id"`
	// UserName is a denormalized copy of Customer.Name.
	UserName string `gorm:"size:255;not null;default:Customer" json:"user_name"`
	// NameLocked is set by a manual rename; identity sync leaves such rows alone.
	NameLocked      bool       `gorm:"not null;default:false" json:"name_locked"`
	LastMessageTime *time.Time `gorm:"index" json:"last_message_time"`
	LastMessageText string     `gorm:"type:text" json:"last_message_text"`
	UnreadCount     int        `gorm:"not null;default:0" json:"unread_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"not null;index" json:"conversation_id"`
	SenderID       string    `gorm:"size:64;not null" json:"sender_id"`
	RecipientID    string    `gorm:"size:64;not null" json:"recipient_id"`
	Text           string    `gorm:"type:text" json:"text"`
	ImageURL       *string   `gorm:"type:text" json:"image_url"`
	IsFromPage     bool      `gorm:"not null;default:false" json:"is_from_page"`
	IsRead         bool      `gorm:"not null;default:false" json:"is_read"`
	IsDeleted      bool      `gorm:"not null;default:false" json:"is_deleted"`
	AgentID        *uint     `json:"agent_id"`
	Timestamp      time.Time `gorm:"not null;index" json:"timestamp"`
}

// ArchivedMessage mirrors Message for rows moved out by the archive job.
type ArchivedMessage struct {
	ID             uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ConversationID uint      `gorm:"not null;index" json:"conversation_id"`
	SenderID       string    `gorm:"size:64;not null" json:"sender_id"`
	RecipientID    string    `gorm:"size:64;not null" json:"recipient_id"`
	Text           string    `gorm:"type:text" json:"text"`
	ImageURL       *string   `gorm:"type:text" json:"image_url"`
	IsFromPage     bool      `json:"is_from_page"`
	IsRead         bool      `json:"is_read"`
	IsDeleted      bool      `json:"is_deleted"`
	AgentID        *uint     `json:"agent_id"`
	Timestamp      time.Time `gorm:"not null" json:"timestamp"`
	ArchivedAt     time.Time `gorm:"not null" json:"archived_at"`
}

func (ArchivedMessage) TableName() string {
	return "messages_archive"
}

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:100;not null;uniqueIndex" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         string    `gorm:"size:20;not null;default:agent" json:"role"`
	FCMToken     string    `gorm:"type:text" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserPage is the assignment of an agent to a page.
type UserPage struct {
	UserID     uint      `gorm:"primaryKey" json:"user_id"`
	PageID     string    `gorm:"primaryKey;size:64" json:"page_id"`
	AssignedAt time.Time `gorm:"autoCreateTime" json:"assigned_at"`
}

type UserNote struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CustomerID   string    `gorm:"size:64;not null;uniqueIndex" json:"customer_id"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	LastEditedBy *uint     `json:"last_edited_by"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Media tracks who uploaded a stored file.
type Media struct {
	Filename  string    `gorm:"primaryKey;size:255" json:"name"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	CreatedAt time.Time `json:"createdAt"`
}

// All lists every table for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Page{},
		&Customer{},
		&Conversation{},
		&Message{},
		&ArchivedMessage{},
		&User{},
		&UserPage{},
		&UserNote{},
		&Media{},
	}
}
