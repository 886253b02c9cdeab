package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"messenger-console/config"
	"messenger-console/db"
	"messenger-console/db/dbtest"
	"messenger-console/models"
	"messenger-console/pkg/auth"
	"messenger-console/pkg/media"
	"messenger-console/pkg/meta"
	"messenger-console/pkg/realtime"
	"messenger-console/services"
)

type scriptedSender struct {
	script []error
	calls  []meta.SendOptions
}

func (s *scriptedSender) next(opts meta.SendOptions) (*meta.SendResult, error) {
	s.calls = append(s.calls, opts)
	var err error
	if len(s.script) > 0 {
		err, s.script = s.script[0], s.script[1:]
	}
	if err != nil {
		return nil, err
	}
	return &meta.SendResult{MessageID: "mid"}, nil
}

func (s *scriptedSender) SendText(ctx context.Context, creds meta.Credentials, recipientID, text string, opts meta.SendOptions) (*meta.SendResult, error) {
	return s.next(opts)
}

func (s *scriptedSender) SendImage(ctx context.Context, creds meta.Credentials, recipientID, imageURL string, opts meta.SendOptions) (*meta.SendResult, error) {
	return s.next(opts)
}

type noProfiles struct{}

func (noProfiles) FetchProfile(ctx context.Context, creds meta.Credentials, userID string) (*meta.Profile, error) {
	return &meta.Profile{FirstName: "Jane"}, nil
}

type testServer struct {
	t       *testing.T
	gdb     *gorm.DB
	handler http.Handler
	base    *BaseHandler
	sender  *scriptedSender
	hub     *realtime.Hub
	ledger  *db.Ledger
	users   *db.UserRepository
	admin   *models.User
	agent   *models.User
	tokens  map[uint]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	gdb := dbtest.New(t)

	cfg := &config.Config{}
	cfg.Server.PublicURL = "https://console.example.com"
	cfg.Server.CORSOrigins = "https://console.example.com"
	cfg.Meta.VerifyToken = "verify-me"
	cfg.Meta.AppSecret = "app-secret"
	cfg.RateLimit = config.RateLimitConfig{MessageRPS: 1000, ViewRPS: 1000, Burst: 1000}

	store, err := media.Open(ctx, "mem://", "/uploads/")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pages := db.NewPageRepository(gdb)
	require.NoError(t, pages.Upsert(ctx, &models.Page{ID: "PAGE1", Name: "One", AccessToken: "t1"}))
	require.NoError(t, pages.Upsert(ctx, &models.Page{ID: "PAGE2", Name: "Two", AccessToken: "t2"}))

	users := db.NewUserRepository(gdb)
	admin, err := users.Create(ctx, "root", mustHash(t, "rootpass"), models.RoleAdmin)
	require.NoError(t, err)
	agent, err := users.Create(ctx, "amy", mustHash(t, "amypass"), models.RoleAgent)
	require.NoError(t, err)
	require.NoError(t, users.Assign(ctx, agent.ID, "PAGE1"))

	ledger := db.NewLedger(gdb)
	customers := db.NewCustomerRepository(gdb)
	creds := services.NewPageCredentials(pages, nil)
	identity := services.NewIdentityResolver(customers, ledger, noProfiles{}, nil)
	hub := realtime.NewHub()
	sender := &scriptedSender{}

	policy, err := auth.NewPolicy()
	require.NoError(t, err)
	issuer := auth.NewTokenIssuer("jwt-secret", time.Hour)

	base := NewBaseHandler(Deps{
		Config:      cfg,
		Auth:        auth.NewAuthenticator(issuer, policy, "auth_token", false),
		Users:       users,
		Pages:       pages,
		Customers:   customers,
		Ledger:      ledger,
		Notes:       db.NewNoteRepository(gdb),
		MediaIndex:  db.NewMediaRepository(gdb),
		Media:       store,
		Credentials: creds,
		Pipeline:    services.NewPipeline(creds, ledger, identity, hub, nil, nil),
		Outbound:    services.NewOutbound(ledger, creds, sender, cfg.Server.PublicURL, "/uploads/"),
		Hub:         hub,
	})
	base.dispatch = func(fn func()) { fn() }

	ts := &testServer{
		t: t, gdb: gdb, handler: NewRouter(base), base: base, sender: sender, hub: hub,
		ledger: ledger, users: users, admin: admin, agent: agent, tokens: map[uint]string{},
	}
	for _, u := range []*models.User{admin, agent} {
		token, err := issuer.GenerateToken(&auth.User{ID: u.ID, Username: u.Username, Role: u.Role})
		require.NoError(t, err)
		ts.tokens[u.ID] = token
	}
	return ts
}

func mustHash(t *testing.T, pw string) string {
	h, err := auth.HashPassword(pw)
	require.NoError(t, err)
	return h
}

func (ts *testServer) do(method, path string, as *models.User, body interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+ts.tokens[as.ID])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) conversation(customerID, pageID string) uint {
	ts.t.Helper()
	ref, err := ts.ledger.EnsureConversation(context.Background(), customerID, pageID, time.Now())
	require.NoError(ts.t, err)
	return ref.ID
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestWebhookVerification(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	rec = ts.do(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestWebhookReceive(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"object":"page","entry":[{"id":"PAGE1","messaging":[{"sender":{"id":"CUST1"},"recipient":{"id":"PAGE1"},"timestamp":1700000000,"message":{"mid":"m1","text":"hi"}}]}]}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "unsigned payload")

	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256="+meta.Sign(body, "app-secret"))
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EVENT_RECEIVED", rec.Body.String())

	var msgs []models.Message
	require.NoError(t, ts.gdb.Find(&msgs).Error)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestDrainWaitsForWebhookWork(t *testing.T) {
	ts := newTestServer(t)
	release := make(chan struct{})
	ts.base.dispatch = func(fn func()) {
		go func() {
			<-release
			fn()
		}()
	}
	body := []byte(`{"object":"page","entry":[{"id":"PAGE1","messaging":[{"sender":{"id":"CUST1"},"recipient":{"id":"PAGE1"},"timestamp":1700000000,"message":{"mid":"m1","text":"hi"}}]}]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256="+meta.Sign(body, "app-secret"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ts.base.Drain(short), context.DeadlineExceeded)

	close(release)
	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	require.NoError(t, ts.base.Drain(ctx))

	var count int64
	require.NoError(t, ts.gdb.Model(&models.Message{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/auth/login", nil, map[string]string{"username": "amy", "password": "amypass"})
	require.Equal(t, http.StatusOK, rec.Code)
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth_token" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	ts.handler.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"PAGE1"`)

	rec = ts.do(http.MethodPost, "/api/auth/login", nil, map[string]string{"username": "amy", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ts.do(http.MethodPost, "/api/auth/login", nil, map[string]string{"username": "amy"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccessControl(t *testing.T) {
	ts := newTestServer(t)
	own := ts.conversation("CUST1", "PAGE1")
	other := ts.conversation("CUST2", "PAGE2")

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/messages/pages", nil, nil).Code)

	rec := ts.do(http.MethodGet, "/api/messages/conversations?pageId=all", ts.agent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var convs []db.ConversationSummary
	decodeBody(t, rec, &convs)
	require.Len(t, convs, 1)
	assert.Equal(t, own, convs[0].ID)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/messages/"+itoa(own), ts.agent, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/messages/"+itoa(other), ts.agent, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/messages/conversations?pageId=PAGE2", ts.agent, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/admin/users", ts.agent, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/messages/all_conversations", ts.agent, nil).Code)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/messages/"+itoa(other), ts.admin, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/admin/users", ts.admin, nil).Code)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/admin/assignments/user/"+itoa(ts.agent.ID), ts.agent, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/admin/assignments/user/"+itoa(ts.admin.ID), ts.agent, nil).Code)
}

func TestReplyRetriesWithTag(t *testing.T) {
	ts := newTestServer(t)
	conv := ts.conversation("CUST1", "PAGE1")
	ts.sender.script = []error{&meta.SendError{Kind: meta.KindWindowClosed, Code: 10, Subcode: 2018278}, nil}

	rec := ts.do(http.MethodPost, "/api/messages/"+itoa(conv)+"/reply", ts.agent, map[string]string{"message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool           `json:"success"`
		Message models.Message `json:"message"`
		Tagged  bool           `json:"tagged"`
	}
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.True(t, resp.Tagged)
	assert.True(t, resp.Message.IsFromPage)
	require.NotNil(t, resp.Message.AgentID)
	assert.Equal(t, ts.agent.ID, *resp.Message.AgentID)
	require.Len(t, ts.sender.calls, 2)
	assert.Equal(t, meta.HumanAgentTag, ts.sender.calls[1].Tag)
}

func TestReplyFailureReportsKind(t *testing.T) {
	ts := newTestServer(t)
	conv := ts.conversation("CUST1", "PAGE1")
	ts.sender.script = []error{&meta.SendError{Kind: meta.KindApprovalMissing, Code: 200, Message: "Requires pages_messaging permission"}}

	rec := ts.do(http.MethodPost, "/api/messages/"+itoa(conv)+"/reply", ts.agent, map[string]string{"message": "hello"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp struct {
		Error   string                 `json:"error"`
		Details map[string]interface{} `json:"details"`
	}
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Error, "Human Agent")
	assert.Equal(t, "approval_missing", resp.Details["kind"])

	var n int64
	require.NoError(t, ts.gdb.Model(&models.Message{}).Count(&n).Error)
	assert.Zero(t, n)
}

func multipartImage(t *testing.T, contentType string, data []byte, caption string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="photo.png"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	if caption != "" {
		require.NoError(t, mw.WriteField("message", caption))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadServeAndDelete(t *testing.T) {
	ts := newTestServer(t)
	png := []byte("\x89PNG\r\n\x1a\nfake")

	body, ct := multipartImage(t, "image/png", png, "")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+ts.tokens[ts.agent.ID])
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var saved media.Saved
	decodeBody(t, rec, &saved)
	assert.True(t, strings.HasPrefix(saved.URL, "/uploads/"))
	assert.True(t, strings.HasSuffix(saved.Filename, ".png"))

	served := ts.do(http.MethodGet, saved.URL, nil, nil)
	require.Equal(t, http.StatusOK, served.Code)
	assert.Equal(t, png, served.Body.Bytes())
	assert.Equal(t, "image/png", served.Header().Get("Content-Type"))

	list := ts.do(http.MethodGet, "/api/media", ts.agent, nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), saved.Filename)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodDelete, "/api/media/"+saved.Filename, ts.agent, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, saved.URL, nil, nil).Code)

	body, ct = multipartImage(t, "text/plain", []byte("nope"), "")
	req = httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+ts.tokens[ts.agent.ID])
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadAndSend(t *testing.T) {
	ts := newTestServer(t)
	conv := ts.conversation("CUST1", "PAGE1")

	body, ct := multipartImage(t, "image/jpeg", []byte("jpeg-bytes"), "caption")
	req := httptest.NewRequest(http.MethodPost, "/api/messages/"+itoa(conv)+"/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+ts.tokens[ts.agent.ID])
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var msgs []models.Message
	require.NoError(t, ts.gdb.Order("id ASC").Find(&msgs).Error)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].ImageURL)
	assert.True(t, strings.HasPrefix(*msgs[0].ImageURL, "/uploads/"))
	assert.Equal(t, "caption", msgs[1].Text)
}

func TestUploadAndSendReportsDeliveredImageWhenCaptionFails(t *testing.T) {
	ts := newTestServer(t)
	conv := ts.conversation("CUST1", "PAGE1")
	ts.sender.script = []error{nil, &meta.SendError{Kind: meta.KindOther, Code: 1, Message: "temporary failure"}}

	body, ct := multipartImage(t, "image/jpeg", []byte("jpeg-bytes"), "caption")
	req := httptest.NewRequest(http.MethodPost, "/api/messages/"+itoa(conv)+"/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+ts.tokens[ts.agent.ID])
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())

	var resp struct {
		Details struct {
			Kind     string           `json:"kind"`
			Messages []models.Message `json:"messages"`
		} `json:"details"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, meta.KindOther.String(), resp.Details.Kind)
	require.Len(t, resp.Details.Messages, 1)
	require.NotNil(t, resp.Details.Messages[0].ImageURL)

	var msgs []models.Message
	require.NoError(t, ts.gdb.Find(&msgs).Error)
	require.Len(t, msgs, 1)
	assert.Equal(t, msgs[0].ID, resp.Details.Messages[0].ID)
}

func TestRenameLocksName(t *testing.T) {
	ts := newTestServer(t)
	conv := ts.conversation("CUST1", "PAGE1")

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/api/messages/"+itoa(conv)+"/name", ts.agent, map[string]string{"name": "  "}).Code)
	rec := ts.do(http.MethodPut, "/api/messages/"+itoa(conv)+"/name", ts.agent, map[string]string{"name": " VIP "})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := ts.ledger.GetConversation(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, "VIP", stored.UserName)
	assert.True(t, stored.NameLocked)
}

func TestClearConversationBroadcasts(t *testing.T) {
	ts := newTestServer(t)
	conv := ts.conversation("CUST1", "PAGE1")
	_, err := ts.ledger.AppendMessage(context.Background(), db.NewMessage{ConversationID: conv, SenderID: "CUST1", RecipientID: "PAGE1", Text: "x"})
	require.NoError(t, err)

	session := realtime.NewSession(realtime.ComputeScope(ts.agent.ID, models.RoleAgent, []string{"PAGE1"}), 4)
	ts.hub.Register(session)
	defer ts.hub.Unregister(session)

	rec := ts.do(http.MethodDelete, "/api/messages/"+itoa(conv)+"/conversation", ts.agent, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ev realtime.Event
	require.NoError(t, json.Unmarshal(<-session.Messages(), &ev))
	assert.Equal(t, realtime.EventConversationCleared, ev.Type)

	page := ts.do(http.MethodGet, "/api/messages/"+itoa(conv), ts.agent, nil)
	assert.Contains(t, page.Body.String(), `"total":0`)
}

func TestCleanupAndDeletes(t *testing.T) {
	ts := newTestServer(t)
	conv := ts.conversation("CUST1", "PAGE1")
	ctx := context.Background()
	old, err := ts.ledger.AppendMessage(ctx, db.NewMessage{ConversationID: conv, SenderID: "CUST1", RecipientID: "PAGE1", Text: "old", Timestamp: time.Now().AddDate(0, 0, -20)})
	require.NoError(t, err)
	recent, err := ts.ledger.AppendMessage(ctx, db.NewMessage{ConversationID: conv, SenderID: "CUST1", RecipientID: "PAGE1", Text: "new"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodDelete, "/api/messages/"+itoa(conv)+"/cleanup?period=2y", ts.agent, nil).Code)

	rec := ts.do(http.MethodDelete, "/api/messages/"+itoa(conv)+"/cleanup?period=15d", ts.agent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":1`)
	_, err = ts.ledger.GetMessage(ctx, old.ID)
	assert.True(t, db.IsNotFound(err))

	rec = ts.do(http.MethodDelete, "/api/messages/message/"+itoa(recent.ID), ts.agent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hidden, err := ts.ledger.GetMessage(ctx, recent.ID)
	require.NoError(t, err)
	assert.True(t, hidden.IsDeleted)

	rec = ts.do(http.MethodDelete, "/api/messages/"+itoa(conv)+"/latest", ts.agent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/messages/"+itoa(conv)+"/latest", ts.agent, nil).Code)
}

func TestAdminUsersAndAssignments(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/admin/users", ts.admin, map[string]string{"username": "bob", "password": "secret1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID   uint   `json:"id"`
		Role string `json:"role"`
	}
	decodeBody(t, rec, &created)
	assert.Equal(t, models.RoleAgent, created.Role)

	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/api/admin/users", ts.admin, map[string]string{"username": "bob", "password": "secret1"}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/admin/users", ts.admin, map[string]string{"username": "x", "password": "secret1", "role": "owner"}).Code)

	rec = ts.do(http.MethodPost, "/api/admin/assign/bulk", ts.admin, map[string]interface{}{"userId": created.ID, "pageIds": []string{"PAGE1", "PAGE2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	pages, err := ts.users.PagesAssignedTo(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"PAGE1", "PAGE2"}, pages)

	rec = ts.do(http.MethodPost, "/api/admin/unassign", ts.admin, map[string]interface{}{"userId": created.ID, "pageId": "PAGE1"})
	require.Equal(t, http.StatusOK, rec.Code)
	pages, err = ts.users.PagesAssignedTo(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"PAGE2"}, pages)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodDelete, "/api/admin/users/"+itoa(ts.admin.ID), ts.admin, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodDelete, "/api/admin/users/"+itoa(created.ID), ts.admin, nil).Code)
}

func TestNotes(t *testing.T) {
	ts := newTestServer(t)
	ts.conversation("CUST1", "PAGE1")
	ts.conversation("CUST2", "PAGE2")

	rec := ts.do(http.MethodPost, "/api/notes/CUST1", ts.agent, map[string]string{"content": "prefers mornings"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"last_editor_name":"amy"`)

	rec = ts.do(http.MethodGet, "/api/notes/CUST1", ts.agent, nil)
	assert.Contains(t, rec.Body.String(), "prefers mornings")

	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/notes/CUST2", ts.agent, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodDelete, "/api/notes/CUST1", ts.agent, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/notes/CUST1", ts.agent, nil).Code)
}

func TestPreflight(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/messages/send", "/api/messages/7/reply", "/api/auth/login", "/api/admin/users/3"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "https://console.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"), path)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost, path)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/messages/send", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardNeverAllowsCredentials(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	serve := func(origins string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Origin", "https://anywhere.example.org")
		rec := httptest.NewRecorder()
		corsMiddleware(origins)(ok).ServeHTTP(rec, req)
		return rec
	}

	rec := serve("*")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = serve("")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func itoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
