package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"messenger-console/db"
	"messenger-console/db/dbtest"
	"messenger-console/models"
	"messenger-console/pkg/meta"
	"messenger-console/pkg/push"
	"messenger-console/pkg/realtime"
)

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*meta.Profile
	calls    int
}

func (f *fakeProfiles) FetchProfile(ctx context.Context, creds meta.Credentials, userID string) (*meta.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	return nil, errors.New("profile unavailable")
}

func (f *fakeProfiles) set(userID, first, last string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[userID] = &meta.Profile{FirstName: first, LastName: last}
}

type recordingHub struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (h *recordingHub) Publish(ev realtime.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return 1
}

func (h *recordingHub) types() []realtime.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]realtime.EventType, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Type
	}
	return out
}

type fakeNotifier struct {
	tokens []string
	sent   []push.Notification
	stale  []string
}

func (n *fakeNotifier) Send(ctx context.Context, tokens []string, note push.Notification) (push.Result, error) {
	n.tokens = append(n.tokens, tokens...)
	n.sent = append(n.sent, note)
	return push.Result{Sent: len(tokens) - len(n.stale), StaleTokens: n.stale}, nil
}

type sendCall struct {
	kind    string
	payload string
	tag     string
}

// fakeSender answers each call with the next scripted error; nil means success.
type fakeSender struct {
	script []error
	calls  []sendCall
}

func (s *fakeSender) next(kind, payload string, opts meta.SendOptions) (*meta.SendResult, error) {
	s.calls = append(s.calls, sendCall{kind: kind, payload: payload, tag: opts.Tag})
	var err error
	if len(s.script) > 0 {
		err, s.script = s.script[0], s.script[1:]
	}
	if err != nil {
		return nil, err
	}
	return &meta.SendResult{MessageID: "mid"}, nil
}

func (s *fakeSender) SendText(ctx context.Context, creds meta.Credentials, recipientID, text string, opts meta.SendOptions) (*meta.SendResult, error) {
	return s.next("text", text, opts)
}

func (s *fakeSender) SendImage(ctx context.Context, creds meta.Credentials, recipientID, imageURL string, opts meta.SendOptions) (*meta.SendResult, error) {
	return s.next("image", imageURL, opts)
}

type fixture struct {
	gdb       *gorm.DB
	ledger    *db.Ledger
	customers *db.CustomerRepository
	users     *db.UserRepository
	pages     *PageCredentials
	profiles  *fakeProfiles
	identity  *IdentityResolver
	hub       *recordingHub
	notifier  *fakeNotifier
	pipeline  *Pipeline
}

func newFixture(t *testing.T, pageIDs ...string) *fixture {
	t.Helper()
	gdb := dbtest.New(t)
	ctx := context.Background()

	pageRepo := db.NewPageRepository(gdb)
	for _, id := range pageIDs {
		require.NoError(t, pageRepo.Upsert(ctx, &models.Page{ID: id, Name: "Page " + id, AccessToken: "token-" + id}))
	}

	f := &fixture{
		gdb:       gdb,
		ledger:    db.NewLedger(gdb),
		customers: db.NewCustomerRepository(gdb),
		users:     db.NewUserRepository(gdb),
		pages:     NewPageCredentials(pageRepo, nil),
		profiles:  &fakeProfiles{profiles: map[string]*meta.Profile{}},
		hub:       &recordingHub{},
		notifier:  &fakeNotifier{},
	}
	f.identity = NewIdentityResolver(f.customers, f.ledger, f.profiles, nil)
	f.pipeline = NewPipeline(f.pages, f.ledger, f.identity, f.hub, f.notifier, f.users)
	return f
}

func (f *fixture) messages(t *testing.T) []models.Message {
	t.Helper()
	var out []models.Message
	require.NoError(t, f.gdb.Order("id ASC").Find(&out).Error)
	return out
}

func (f *fixture) conversation(t *testing.T, customerID, pageID string) models.Conversation {
	t.Helper()
	var conv models.Conversation
	require.NoError(t, f.gdb.Where("user_id = ? AND page_id = ?", customerID, pageID).First(&conv).Error)
	return conv
}
