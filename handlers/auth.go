package handlers

import (
	"net/http"

	"messenger-console/db"
	"messenger-console/logger"
	"messenger-console/pkg/auth"
	apperrors "messenger-console/pkg/errors"
	"messenger-console/pkg/views"
)

type AuthHandler struct {
	*BaseHandler
}

type fcmTokenRequest struct {
	// FCMToken may be null to clear the device registration.
	FCMToken *string `json:"fcmToken"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := h.decode(r, &req); err != nil {
		apperrors.HandleError(w, apperrors.Validation("Username and password required"))
		return
	}

	stored, err := h.Users.GetByUsername(r.Context(), req.Username)
	if err != nil && !db.IsNotFound(err) {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "Login failed", err))
		return
	}
	if stored == nil || !auth.CheckPassword(stored.PasswordHash, req.Password) {
		logger.LogWarn("❌ Login failed for %s", req.Username)
		apperrors.HandleError(w, apperrors.New(apperrors.ErrUnauthorized, "Invalid credentials"))
		return
	}

	user := &auth.User{ID: stored.ID, Username: stored.Username, Role: stored.Role}
	token, err := h.Auth.Issuer().GenerateToken(user)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "Login failed", err))
		return
	}
	h.Auth.SetSessionCookie(w, token)
	logger.LogInfo("✅ %s logged in", user.Username)

	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    views.UserView{ID: user.ID, Username: user.Username, Role: user.Role},
		"token":   token,
	})
}

// Logout clears the cookie and, when the caller is still authenticated, the
// device token so a signed-out phone stops receiving pushes.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if user := h.Auth.Authenticate(r); user != nil {
		if err := h.Users.UpdateFCMToken(r.Context(), user.ID, ""); err != nil {
			logger.LogWarn("Failed to clear FCM token on logout for %d: %v", user.ID, err)
		}
	}
	h.Auth.ClearSessionCookie(w)
	apperrors.WriteJSON(w, http.StatusOK, views.SuccessView{Success: true})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	pages, err := h.Users.PagesAssignedTo(r.Context(), user.ID)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load assignments", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"user":          views.UserView{ID: user.ID, Username: user.Username, Role: user.Role, PageIDs: pages},
	})
}

func (h *AuthHandler) UpdateFCMToken(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req fcmTokenRequest
	if err := h.decode(r, &req); err != nil {
		apperrors.HandleError(w, err)
		return
	}
	token := ""
	if req.FCMToken != nil {
		token = *req.FCMToken
	}
	if err := h.Users.UpdateFCMToken(r.Context(), user.ID, token); err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "Failed to update FCM Token", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "FCM Token updated"})
}
