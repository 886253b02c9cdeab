package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"messenger-console/models"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// ConversationRef is what the ingestion path needs back from EnsureConversation.
type ConversationRef struct {
	ID         uint
	UserName   string
	NameLocked bool
}

// NewMessage is the input to AppendMessage. Inbound messages carry the
// platform timestamp, outbound ones the local clock.
type NewMessage struct {
	ConversationID uint
	SenderID       string
	RecipientID    string
	Text           string
	ImageURL       string
	FromPage       bool
	AgentID        *uint
	Timestamp      time.Time
}

type ListOptions struct {
	Limit    int
	BeforeID uint
	AfterID  uint
}

type MessagePage struct {
	Messages []models.Message
	Total    int64
	HasMore  bool
	OldestID uint
	NewestID uint
}

// ConversationSummary is a conversation row joined with its page name.
type ConversationSummary struct {
	models.Conversation
	PageName   string `json:"page_name"`
	ProfilePic string `json:"profile_pic"`
}

// Ledger owns conversations and messages.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(gdb *gorm.DB) *Ledger {
	return &Ledger{db: gdb}
}

// lastMessageTimeExpr keeps last_message_time monotonic: a late event never
// moves it backwards, and a cleared (NULL) conversation takes any value.
const lastMessageTimeExpr = "CASE WHEN conversations.last_message_time IS NULL " +
	"OR conversations.last_message_time <= excluded.last_message_time " +
	"THEN excluded.last_message_time ELSE conversations.last_message_time END"

// EnsureConversation creates or touches the (customer, page) conversation in a
// single upsert statement.
func (l *Ledger) EnsureConversation(ctx context.Context, customerID, pageID string, observed time.Time) (*ConversationRef, error) {
	observed = observed.UTC()
	now := time.Now().UTC()
	conv := models.Conversation{
		UserID:          customerID,
		PageID:          pageID,
		UserName:        models.PlaceholderCustomerName,
		LastMessageTime: &observed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "page_id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "last_message_time"}, Value: gorm.Expr(lastMessageTimeExpr)},
			{Column: clause.Column{Name: "updated_at"}, Value: now},
		},
	}).Create(&conv).Error
	if err != nil && !isUniqueViolation(err) {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}

	// A unique violation means a concurrent writer won the insert; the row
	// exists either way, so read it back.
	var stored models.Conversation
	err = l.db.WithContext(ctx).
		Where("user_id = ? AND page_id = ?", customerID, pageID).
		First(&stored).Error
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", notFound(err))
	}
	return &ConversationRef{ID: stored.ID, UserName: stored.UserName, NameLocked: stored.NameLocked}, nil
}

func (l *Ledger) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := l.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// AppendMessage inserts one message row. Preview and unread are updated separately.
func (l *Ledger) AppendMessage(ctx context.Context, in NewMessage) (*models.Message, error) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := models.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		RecipientID:    in.RecipientID,
		Text:           in.Text,
		IsFromPage:     in.FromPage,
		AgentID:        in.AgentID,
		Timestamp:      ts.UTC(),
	}
	if in.ImageURL != "" {
		url := in.ImageURL
		msg.ImageURL = &url
	}
	if err := l.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

// UpdatePreviewAndUnread sets the preview text and bumps unread_count by one
// for inbound messages only.
func (l *Ledger) UpdatePreviewAndUnread(ctx context.Context, conversationID uint, preview string, inbound bool) error {
	updates := map[string]interface{}{
		"last_message_text": preview,
		"updated_at":        time.Now().UTC(),
	}
	if inbound {
		updates["unread_count"] = gorm.Expr("unread_count + 1")
	}
	return l.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(updates).Error
}

// TouchOutbound advances last_message_time for a page-originated message
// using the same monotonic rule as EnsureConversation.
func (l *Ledger) TouchOutbound(ctx context.Context, conversationID uint, ts time.Time) error {
	ts = ts.UTC()
	return l.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND (last_message_time IS NULL OR last_message_time <= ?)", conversationID, ts).
		Update("last_message_time", ts).Error
}

// MarkRead flags inbound unread messages as read and zeroes unread_count in
// one transaction.
func (l *Ledger) MarkRead(ctx context.Context, conversationID uint) (int64, error) {
	var marked int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND is_read = ? AND is_from_page = ?", conversationID, false, false).
			Update("is_read", true)
		if res.Error != nil {
			return res.Error
		}
		marked = res.RowsAffected
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Update("unread_count", 0).Error
	})
	return marked, err
}

func (l *Ledger) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := l.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

func (l *Ledger) SoftDelete(ctx context.Context, messageID uint) error {
	res := l.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", messageID).
		Update("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// HardDeleteOlderThan permanently removes messages older than days.
func (l *Ledger) HardDeleteOlderThan(ctx context.Context, conversationID uint, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res := l.db.WithContext(ctx).
		Where("conversation_id = ? AND timestamp < ?", conversationID, cutoff).
		Delete(&models.Message{})
	return res.RowsAffected, res.Error
}

// HardDeleteLatest permanently removes the newest message of a conversation.
func (l *Ledger) HardDeleteLatest(ctx context.Context, conversationID uint) (uint, error) {
	var latest models.Message
	err := l.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp DESC").Order("id DESC").
		First(&latest).Error
	if err != nil {
		return 0, notFound(err)
	}
	if err := l.db.WithContext(ctx).Delete(&models.Message{}, latest.ID).Error; err != nil {
		return 0, err
	}
	return latest.ID, nil
}

// ClearConversation removes every message and resets last_message_time to
// NULL; the conversation and its customer link survive.
func (l *Ledger) ClearConversation(ctx context.Context, conversationID uint) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Updates(map[string]interface{}{
				"last_message_time": nil,
				"last_message_text": "",
				"unread_count":      0,
				"updated_at":        time.Now().UTC(),
			}).Error
	})
}

// ListMessages returns up to MaxPageSize non-deleted messages in ascending id
// order. BeforeID pages backwards, AfterID forwards.
func (l *Ledger) ListMessages(ctx context.Context, conversationID uint, opts ListOptions) (*MessagePage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	base := l.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false)

	page := &MessagePage{}
	if err := base.Session(&gorm.Session{}).Count(&page.Total).Error; err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	q := base.Session(&gorm.Session{})
	forward := opts.AfterID > 0 && opts.BeforeID == 0
	switch {
	case opts.BeforeID > 0:
		q = q.Where("id < ?", opts.BeforeID).Order("id DESC")
	case forward:
		q = q.Where("id > ?", opts.AfterID).Order("id ASC")
	default:
		q = q.Order("id DESC")
	}

	var rows []models.Message
	if err := q.Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	if !forward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	page.Messages = rows
	if len(rows) > 0 {
		page.OldestID = rows[0].ID
		page.NewestID = rows[len(rows)-1].ID
	}
	return page, nil
}

type ConversationFilter struct {
	// PageIDs restricts the result; nil with All=true means every page.
	PageIDs []string
	All     bool
}

// ListConversations returns conversations newest first; cleared ones sort last.
func (l *Ledger) ListConversations(ctx context.Context, filter ConversationFilter) ([]ConversationSummary, error) {
	if !filter.All && len(filter.PageIDs) == 0 {
		return []ConversationSummary{}, nil
	}
	q := l.db.WithContext(ctx).
		Table("conversations").
		Select("conversations.*, pages.name AS page_name, customers.profile_pic AS profile_pic").
		Joins("LEFT JOIN pages ON pages.id = conversations.page_id").
		Joins("LEFT JOIN customers ON customers.id = conversations.user_id")
	if len(filter.PageIDs) > 0 {
		q = q.Where("conversations.page_id IN ?", filter.PageIDs)
	}

	var out []ConversationSummary
	err := q.Order("CASE WHEN conversations.last_message_time IS NULL THEN 1 ELSE 0 END").
		Order("conversations.last_message_time DESC").
		Order("conversations.id DESC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// ConversationsOfCustomer returns every conversation a customer has, oldest first.
func (l *Ledger) ConversationsOfCustomer(ctx context.Context, customerID string) ([]models.Conversation, error) {
	var out []models.Conversation
	err := l.db.WithContext(ctx).Where("user_id = ?", customerID).Order("id ASC").Find(&out).Error
	return out, err
}

// SyncUserName writes the resolved name into one conversation unless it was
// manually renamed. Reports whether a row changed.
func (l *Ledger) SyncUserName(ctx context.Context, conversationID uint, name string) (bool, error) {
	res := l.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND name_locked = ? AND user_name <> ?", conversationID, false, name).
		Update("user_name", name)
	return res.RowsAffected > 0, res.Error
}

// archiveBatchSize bounds both the rows held in memory and the bind
// parameters of the IN clause per archive transaction.
const archiveBatchSize = 500

// ArchiveOlderThan moves messages older than cutoff into messages_archive,
// oldest id first, one transaction per batch.
func (l *Ledger) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	var moved int64
	for {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		n, full, err := l.archiveBatch(ctx, cutoff)
		moved += n
		if err != nil {
			return moved, err
		}
		if !full {
			return moved, nil
		}
	}
}

// archiveBatch moves up to archiveBatchSize rows. full reports whether the
// batch was full, meaning more rows may remain.
func (l *Ledger) archiveBatch(ctx context.Context, cutoff time.Time) (moved int64, full bool, err error) {
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch []models.Message
		if err := tx.Where("timestamp < ?", cutoff).Order("id ASC").Limit(archiveBatchSize).Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		full = len(batch) == archiveBatchSize
		now := time.Now().UTC()
		archived := make([]models.ArchivedMessage, len(batch))
		ids := make([]uint, len(batch))
		for i, m := range batch {
			archived[i] = models.ArchivedMessage{
				ID:             m.ID,
				ConversationID: m.ConversationID,
				SenderID:       m.SenderID,
				RecipientID:    m.RecipientID,
				Text:           m.Text,
				ImageURL:       m.ImageURL,
				IsFromPage:     m.IsFromPage,
				IsRead:         m.IsRead,
				IsDeleted:      m.IsDeleted,
				AgentID:        m.AgentID,
				Timestamp:      m.Timestamp,
				ArchivedAt:     now,
			}
			ids[i] = m.ID
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&archived, 100).Error; err != nil {
			return fmt.Errorf("insert archive rows: %w", err)
		}
		res := tx.Where("id IN ?", ids).Delete(&models.Message{})
		if res.Error != nil {
			return res.Error
		}
		moved = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return moved, full, nil
}

// IsNotFound reports whether err came from a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
