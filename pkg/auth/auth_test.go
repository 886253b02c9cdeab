package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	token, err := issuer.GenerateToken(&User{ID: 7, Username: "amy", Role: "agent"})
	require.NoError(t, err)

	user, err := issuer.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), user.ID)
	assert.Equal(t, "amy", user.Username)
	assert.False(t, user.IsAdmin())

	_, err = NewTokenIssuer("other", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpiry(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute)
	start := time.Now()
	issuer.now = func() time.Time { return start }
	token, err := issuer.GenerateToken(&User{ID: 1, Role: "admin"})
	require.NoError(t, err)

	issuer.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, err = issuer.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
}

func TestPolicy(t *testing.T) {
	p, err := NewPolicy()
	require.NoError(t, err)

	tests := []struct {
		role, path, method string
		want               bool
	}{
		{"agent", "/api/messages/12/reply", http.MethodPost, true},
		{"agent", "/api/messages/conversations", http.MethodGet, true},
		{"agent", "/api/admin/users", http.MethodGet, false},
		{"agent", "/api/admin/assignments/user/3", http.MethodGet, true},
		{"agent", "/api/admin/assignments/user/3", http.MethodDelete, false},
		{"admin", "/api/admin/users", http.MethodPost, true},
		{"admin", "/api/messages/12/reply", http.MethodPost, true},
		{"admin", "/ws", http.MethodGet, true},
		{"guest", "/api/messages/12", http.MethodGet, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Allow(tt.role, tt.path, tt.method), "%s %s %s", tt.role, tt.method, tt.path)
	}
}

func TestMiddleware(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	policy, err := NewPolicy()
	require.NoError(t, err)
	a := NewAuthenticator(issuer, policy, "auth_token", false)

	var seen *User
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	agentToken, _ := issuer.GenerateToken(&User{ID: 2, Username: "amy", Role: "agent"})
	req = httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: agentToken})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/messages/pages", nil)
	req.Header.Set("Authorization", "Bearer "+agentToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, uint(2), seen.ID)
}

func TestSessionCookie(t *testing.T) {
	a := NewAuthenticator(NewTokenIssuer("s", time.Hour), nil, "auth_token", true)
	rec := httptest.NewRecorder()
	a.SetSessionCookie(rec, "tok")
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, 3600, cookies[0].MaxAge)
}
