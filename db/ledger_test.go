package db_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-console/db"
	"messenger-console/db/dbtest"
	"messenger-console/models"
)

func TestEnsureConversationIsUniquePerCustomerAndPage(t *testing.T) {
	gdb := dbtest.New(t)
	ledger := db.NewLedger(gdb)
	ctx := context.Background()
	ts := time.Unix(1700000000, 0)

	var wg sync.WaitGroup
	ids := make([]uint, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := ledger.EnsureConversation(ctx, "CUST1", "PAGE1", ts)
			if assert.NoError(t, err) {
				ids[i] = ref.ID
			}
		}(i)
	}
	wg.Wait()

	var count int64
	require.NoError(t, gdb.Model(&models.Conversation{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	other, err := ledger.EnsureConversation(ctx, "CUST1", "PAGE2", ts)
	require.NoError(t, err)
	assert.NotEqual(t, ids[0], other.ID)
}

func TestEnsureConversationNeverMovesClockBackwards(t *testing.T) {
	gdb := dbtest.New(t)
	ledger := db.NewLedger(gdb)
	ctx := context.Background()

	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(-time.Hour)

	ref, err := ledger.EnsureConversation(ctx, "CUST1", "PAGE1", t1)
	require.NoError(t, err)
	_, err = ledger.EnsureConversation(ctx, "CUST1", "PAGE1", t2)
	require.NoError(t, err)

	conv, err := ledger.GetConversation(ctx, ref.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageTime)
	assert.True(t, conv.LastMessageTime.Equal(t1), "got %v", conv.LastMessageTime)

	t3 := t1.Add(time.Minute)
	_, err = ledger.EnsureConversation(ctx, "CUST1", "PAGE1", t3)
	require.NoError(t, err)
	conv, err = ledger.GetConversation(ctx, ref.ID)
	require.NoError(t, err)
	assert.True(t, conv.LastMessageTime.Equal(t3))
}

func TestEnsureConversationAfterClearTakesAnyTimestamp(t *testing.T) {
	gdb := dbtest.New(t)
	ledger := db.NewLedger(gdb)
	ctx := context.Background()

	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ref, err := ledger.EnsureConversation(ctx, "CUST1", "PAGE1", t1)
	require.NoError(t, err)
	require.NoError(t, ledger.ClearConversation(ctx, ref.ID))

	conv, err := ledger.GetConversation(ctx, ref.ID)
	require.NoError(t, err)
	assert.Nil(t, conv.LastMessageTime)

	older := t1.Add(-24 * time.Hour)
	_, err = ledger.EnsureConversation(ctx, "CUST1", "PAGE1", older)
	require.NoError(t, err)
	conv, err = ledger.GetConversation(ctx, ref.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageTime)
	assert.True(t, conv.LastMessageTime.Equal(older))
}

func TestUnreadAccounting(t *testing.T) {
	gdb := dbtest.New(t)
	ledger := db.NewLedger(gdb)
	ctx := context.Background()

	ref, err := ledger.EnsureConversation(ctx, "CUST1", "PAGE1", time.Now())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := ledger.AppendMessage(ctx, db.NewMessage{
			ConversationID: ref.ID, SenderID: "CUST1", RecipientID: "PAGE1", Text: "hello",
		})
		require.NoError(t, err)
		require.NoError(t, ledger.UpdatePreviewAndUnread(ctx, ref.ID, "hello", true))
	}

	conv, err := ledger.GetConversation(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, conv.UnreadCount)
	assert.Equal(t, "hello", conv.LastMessageText)

	marked, err := ledger.MarkRead(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), marked)

	agent := uint(7)
	_, err = ledger.AppendMessage(ctx, db.NewMessage{
		ConversationID: ref.ID, SenderID: "PAGE1", RecipientID: "CUST1", Text: "hi back", FromPage: true, AgentID: &agent,
	})
	require.NoError(t, err)
	require.NoError(t, ledger.UpdatePreviewAndUnread(ctx, ref.ID, "hi back", false))

	conv, err = ledger.GetConversation(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Equal(t, "hi back", conv.LastMessageText)

	var unread int64
	require.NoError(t, gdb.Model(&models.Message{}).
		Where("conversation_id = ? AND is_from_page = ? AND is_read = ?", ref.ID, false, false).
		Count(&unread).Error)
	assert.Zero(t, unread)
}

func seedMessages(t *testing.T, ledger *db.Ledger, convID uint, n int) []uint {
	t.Helper()
	ids := make([]uint, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		m, err := ledger.AppendMessage(context.Background(), db.NewMessage{
			ConversationID: convID, SenderID: "CUST1", RecipientID: "PAGE1",
			Text: "m", Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids[i] = m.ID
	}
	return ids
}

func TestListMessagesPagination(t *testing.T) {
	gdb := dbtest.New(t)
	ledger := db.NewLedger(gdb)
	ctx := context.Background()

	ref, err := ledger.EnsureConversation(ctx, "CUST1", "PAGE1", time.Now())
	require.NoError(t, err)
	ids := seedMessages(t, ledger, ref.ID, 10)

	page, err := ledger.ListMessages(ctx, ref.ID, db.ListOptions{Limit: 4})
	require.NoError(t, err)
	require.Len(t, page.Messages, 4)
	assert.Equal(t, ids[6], page.OldestID)
	assert.Equal(t, ids[9], page.NewestID)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(10), page.Total)
	for i := 1; i < len(page.Messages); i++ {
		assert.Less(t, page.Messages[i-1].ID, page.Messages[i].ID)
	}

	older, err := ledger.ListMessages(ctx, ref.ID, db.ListOptions{Limit: 4, BeforeID: page.OldestID})
	require.NoError(t, err)
	require.Len(t, older.Messages, 4)
	assert.Equal(t, ids[2], older.OldestID)
	assert.Equal(t, ids[5], older.NewestID)

	newer, err := ledger.ListMessages(ctx, ref.ID, db.ListOptions{Limit: 4, AfterID: ids[7]})
	require.NoError(t, err)
	require.Len(t, newer.Messages, 2)
	assert.Equal(t, ids[8], newer.OldestID)
	assert.False(t, newer.HasMore)
}

func TestListMessagesCapsPageSizeAndSkipsDeleted(t *testing.T) {
	gdb := dbtest.New(t)
	ledger := db.NewLedger(gdb)
	ctx := context.Background()

	ref, err := ledger.EnsureConversation(ctx, "CUST1", "PAGE1", time.Now())
	require.NoError(t, err)
	ids := seedMessages(t, ledger, ref.ID, db.MaxPageSize+5)

	page, err := ledger.ListMessages(ctx, ref.ID, db.ListOptions{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, page.Messages, db.MaxPageSize)

	require.NoError(t, ledger.SoftDelete(ctx, ids[len(ids)-1]))
	page, err = ledger.ListMessages(ctx, ref.ID, db.ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, ids[len(ids)-2], page.Messages[0].ID)

	assert.ErrorIs(t, ledger.SoftDelete(ctx, 999999), db.ErrNotFound)
}

func TestHardDeletes(t *testing.T) {
	gdb := dbtest.New(t)
	ledger := db.NewLedger(gdb)
	ctx := context.Background()

	ref, err := ledger.EnsureConversation(ctx, "CUST1", "PAGE1", time.Now())
	require.NoError(t, err)

	old := time.Now().UTC().AddDate(0, 0, -10)
	_, err = ledger.AppendMessage(ctx, db.NewMessage{ConversationID: ref.ID, SenderID: "CUST1", RecipientID: "PAGE1", Text: "old", Timestamp: old})
	require.NoError(t, err)
	recent, err := ledger.AppendMessage(ctx, db.NewMessage{ConversationID: ref.ID, SenderID: "CUST1", RecipientID: "PAGE1", Text: "recent"})
	require.NoError(t, err)

	deleted, err := ledger.HardDeleteOlderThan(ctx, ref.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	latestID, err := ledger.HardDeleteLatest(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, recent.ID, latestID)

	_, err = ledger.HardDeleteLatest(ctx, ref.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestArchiveOlderThanMovesRows(t *testing.T) {
	gdb := dbtest.New(t)
	ledger := db.NewLedger(gdb)
	ctx := context.Background()

	ref, err := ledger.EnsureConversation(ctx, "CUST1", "PAGE1", time.Now())
	require.NoError(t, err)
	_, err = ledger.AppendMessage(ctx, db.NewMessage{ConversationID: ref.ID, SenderID: "CUST1", RecipientID: "PAGE1", Text: "old", Timestamp: time.Now().AddDate(0, 0, -30)})
	require.NoError(t, err)
	_, err = ledger.AppendMessage(ctx, db.NewMessage{ConversationID: ref.ID, SenderID: "CUST1", RecipientID: "PAGE1", Text: "new"})
	require.NoError(t, err)

	moved, err := ledger.ArchiveOlderThan(ctx, time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	var archived []models.ArchivedMessage
	require.NoError(t, gdb.Find(&archived).Error)
	require.Len(t, archived, 1)
	assert.Equal(t, "old", archived[0].Text)

	page, err := ledger.ListMessages(ctx, ref.ID, db.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "new", page.Messages[0].Text)
}

func TestArchiveOlderThanWorksThroughLargeBacklog(t *testing.T) {
	gdb := dbtest.New(t)
	ledger := db.NewLedger(gdb)
	ctx := context.Background()

	ref, err := ledger.EnsureConversation(ctx, "CUST1", "PAGE1", time.Now())
	require.NoError(t, err)

	old := time.Now().UTC().AddDate(0, 0, -30)
	backlog := make([]models.Message, 1234)
	for i := range backlog {
		backlog[i] = models.Message{
			ConversationID: ref.ID,
			SenderID:       "CUST1",
			RecipientID:    "PAGE1",
			Text:           "old " + strconv.Itoa(i),
			Timestamp:      old.Add(time.Duration(i) * time.Second),
		}
	}
	require.NoError(t, gdb.CreateInBatches(&backlog, 200).Error)
	_, err = ledger.AppendMessage(ctx, db.NewMessage{ConversationID: ref.ID, SenderID: "CUST1", RecipientID: "PAGE1", Text: "new"})
	require.NoError(t, err)

	moved, err := ledger.ArchiveOlderThan(ctx, time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(len(backlog)), moved)

	var archived, remaining int64
	require.NoError(t, gdb.Model(&models.ArchivedMessage{}).Count(&archived).Error)
	require.NoError(t, gdb.Model(&models.Message{}).Count(&remaining).Error)
	assert.Equal(t, int64(len(backlog)), archived)
	assert.Equal(t, int64(1), remaining)

	moved, err = ledger.ArchiveOlderThan(ctx, time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestListConversationsScopesByPage(t *testing.T) {
	gdb := dbtest.New(t)
	ledger := db.NewLedger(gdb)
	pages := db.NewPageRepository(gdb)
	ctx := context.Background()

	require.NoError(t, pages.Upsert(ctx, &models.Page{ID: "PAGE1", Name: "One", AccessToken: "t1"}))
	require.NoError(t, pages.Upsert(ctx, &models.Page{ID: "PAGE2", Name: "Two", AccessToken: "t2"}))

	_, err := ledger.EnsureConversation(ctx, "CUST1", "PAGE1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = ledger.EnsureConversation(ctx, "CUST2", "PAGE2", time.Now())
	require.NoError(t, err)

	all, err := ledger.ListConversations(ctx, db.ConversationFilter{All: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "CUST2", all[0].UserID)
	assert.Equal(t, "Two", all[0].PageName)

	scoped, err := ledger.ListConversations(ctx, db.ConversationFilter{PageIDs: []string{"PAGE1"}})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "PAGE1", scoped[0].PageID)

	none, err := ledger.ListConversations(ctx, db.ConversationFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}
