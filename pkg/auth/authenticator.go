package auth

import (
	"context"
	"net/http"
	"strings"

	"messenger-console/logger"
	apperrors "messenger-console/pkg/errors"
)

type sessionKey struct{}

// UserFromContext returns the user the session middleware attached, or nil.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(sessionKey{}).(*User)
	return user
}

func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, sessionKey{}, user)
}

// Authenticator resolves the session from the auth cookie (or a bearer
// header for API clients) and enforces the route policy.
type Authenticator struct {
	issuer     *TokenIssuer
	policy     *Policy
	cookieName string
	secure     bool
}

func NewAuthenticator(issuer *TokenIssuer, policy *Policy, cookieName string, secure bool) *Authenticator {
	return &Authenticator{
		issuer:     issuer,
		policy:     policy,
		cookieName: cookieName,
		secure:     secure,
	}
}

func (a *Authenticator) Issuer() *TokenIssuer {
	return a.issuer
}

func (a *Authenticator) tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// Authenticate returns the user for the request's token, or nil.
func (a *Authenticator) Authenticate(r *http.Request) *User {
	token := a.tokenFromRequest(r)
	if token == "" {
		return nil
	}
	user, err := a.issuer.ValidateToken(token)
	if err != nil {
		return nil
	}
	return user
}

// Middleware rejects unauthenticated requests with 401 and requests the
// caller's role may not make with 403.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := a.Authenticate(r)
		if user == nil {
			apperrors.HandleError(w, apperrors.New(apperrors.ErrUnauthorized, "Authentication required"))
			return
		}
		if a.policy != nil && !a.policy.Allow(user.Role, r.URL.Path, r.Method) {
			logger.LogWarn("Policy denied %s (%s) -> %s %s", user.Username, user.Role, r.Method, r.URL.Path)
			apperrors.HandleError(w, apperrors.Forbidden())
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// SetSessionCookie writes the auth cookie for a freshly issued token.
func (a *Authenticator) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.issuer.TTL().Seconds()),
	})
}

func (a *Authenticator) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
