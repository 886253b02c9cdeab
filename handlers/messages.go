package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"messenger-console/db"
	"messenger-console/logger"
	"messenger-console/models"
	"messenger-console/pkg/auth"
	apperrors "messenger-console/pkg/errors"
	"messenger-console/pkg/media"
	"messenger-console/pkg/realtime"
	"messenger-console/pkg/views"
	"messenger-console/services"
)

// cleanupPeriods maps the ?period values to days.
var cleanupPeriods = map[string]int{
	"7d":  7,
	"15d": 15,
	"1m":  30,
	"3m":  90,
}

type MessageHandler struct {
	*BaseHandler
}

type replyRequest struct {
	ConversationID uint   `json:"conversationId"`
	Message        string `json:"message" validate:"max=2000"`
	ImageURL       string `json:"imageUrl" validate:"omitempty,max=2048"`
}

type renameRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

func (h *MessageHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	ids, all, err := h.accessiblePages(r.Context(), user)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load pages", err))
		return
	}
	var pages []models.Page
	if all {
		pages, err = h.Pages.List(r.Context())
	} else {
		pages, err = h.Pages.ListByIDs(r.Context(), ids)
	}
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load pages", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, views.ToPageViews(pages))
}

// ListConversations serves ?pageId=<id> or ?pageId=all (the caller's pages).
func (h *MessageHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	pageID := r.URL.Query().Get("pageId")

	var filter db.ConversationFilter
	if pageID == "" || pageID == "all" {
		ids, all, err := h.accessiblePages(r.Context(), user)
		if err != nil {
			apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load assignments", err))
			return
		}
		filter = db.ConversationFilter{PageIDs: ids, All: all}
	} else {
		if !h.requirePage(w, r, user, pageID) {
			return
		}
		filter = db.ConversationFilter{PageIDs: []string{pageID}}
	}
	h.writeConversations(w, r, filter)
}

// ListAllConversations is the admin view across every page.
func (h *MessageHandler) ListAllConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if !user.IsAdmin() {
		apperrors.HandleError(w, apperrors.Forbidden())
		return
	}
	h.writeConversations(w, r, db.ConversationFilter{All: true})
}

func (h *MessageHandler) writeConversations(w http.ResponseWriter, r *http.Request, filter db.ConversationFilter) {
	convs, err := h.Ledger.ListConversations(r.Context(), filter)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load conversations", err))
		return
	}
	h.fillProfilePictures(r.Context(), convs)
	apperrors.WriteJSON(w, http.StatusOK, convs)
}

// fillProfilePictures takes missing pictures from the profile cache.
func (h *MessageHandler) fillProfilePictures(ctx context.Context, convs []db.ConversationSummary) {
	if h.Profiles == nil || !h.Profiles.Enabled() {
		return
	}
	var missing []string
	for _, c := range convs {
		if c.ProfilePic == "" {
			missing = append(missing, c.UserID)
		}
	}
	if len(missing) == 0 {
		return
	}
	pics, err := h.Profiles.BulkGetPictures(ctx, missing)
	if err != nil {
		logger.LogWarn("Profile picture lookup failed: %v", err)
		return
	}
	for i := range convs {
		if convs[i].ProfilePic == "" {
			convs[i].ProfilePic = pics[convs[i].UserID]
		}
	}
}

func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	conv, ok := h.loadConversation(w, r, user)
	if !ok {
		return
	}
	page, err := h.Ledger.ListMessages(r.Context(), conv.ID, views.ParseListOptions(r.URL.Query()))
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load messages", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, views.ToMessagePageView(page))
}

func (h *MessageHandler) Reply(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	conv, ok := h.loadConversation(w, r, user)
	if !ok {
		return
	}
	var req replyRequest
	if err := h.decode(r, &req); err != nil {
		apperrors.HandleError(w, err)
		return
	}
	h.send(w, r, user, conv.ID, req.Message, req.ImageURL)
}

// Send is the body-addressed form of Reply: {conversationId, message, imageUrl}.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req replyRequest
	if err := h.decode(r, &req); err != nil {
		apperrors.HandleError(w, err)
		return
	}
	if req.ConversationID == 0 {
		apperrors.HandleError(w, apperrors.Validation("conversationId is required"))
		return
	}
	conv, err := h.Ledger.GetConversation(r.Context(), req.ConversationID)
	if err != nil {
		if db.IsNotFound(err) {
			apperrors.HandleError(w, apperrors.NotFound("conversation"))
			return
		}
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load conversation", err))
		return
	}
	if !h.requirePage(w, r, user, conv.PageID) {
		return
	}
	h.send(w, r, user, conv.ID, req.Message, req.ImageURL)
}

func (h *MessageHandler) send(w http.ResponseWriter, r *http.Request, user *auth.User, conversationID uint, text, imageURL string) {
	res, err := h.Outbound.Send(r.Context(), services.SendRequest{
		ConversationID: conversationID,
		Text:           text,
		ImageURL:       imageURL,
		AgentID:        user.ID,
	})
	if err != nil {
		if res != nil && len(res.Messages) > 0 {
			err = withRecorded(err, res.Messages)
		}
		apperrors.HandleError(w, err)
		return
	}
	last := res.Messages[len(res.Messages)-1]
	logger.LogInfo("📤 %s replied in conversation %d", user.Username, conversationID)
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  last,
		"messages": res.Messages,
		"tagged":   res.Tagged,
	})
}

// withRecorded attaches the rows already delivered (the image of an image
// and caption pair) to a send failure so the client can show them.
func withRecorded(err error, msgs []models.Message) error {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(apperrors.ErrInternal, "failed to record message", err)
	}
	out := *appErr
	out.Details = map[string]interface{}{"messages": msgs}
	for k, v := range appErr.Details {
		out.Details[k] = v
	}
	return &out
}

// Rename sets the customer's name everywhere and stops profile sync from
// overwriting it.
func (h *MessageHandler) Rename(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	conv, ok := h.loadConversation(w, r, user)
	if !ok {
		return
	}
	var req renameRequest
	if err := h.decode(r, &req); err != nil {
		apperrors.HandleError(w, apperrors.Validation("Name is required"))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		apperrors.HandleError(w, apperrors.Validation("Name is required"))
		return
	}

	if err := h.Customers.Rename(r.Context(), conv.UserID, name); err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to rename customer", err))
		return
	}
	if h.Profiles != nil {
		if err := h.Profiles.Invalidate(r.Context(), conv.UserID); err != nil {
			logger.LogWarn("Failed to invalidate profile cache for %s: %v", conv.UserID, err)
		}
	}

	related, err := h.Ledger.ConversationsOfCustomer(r.Context(), conv.UserID)
	if err != nil {
		logger.LogWarn("Failed to load conversations of %s: %v", conv.UserID, err)
	}
	for _, c := range related {
		h.publishConversation(r.Context(), c.ID)
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "name": name})
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	conv, ok := h.loadConversation(w, r, user)
	if !ok {
		return
	}
	marked, err := h.Ledger.MarkRead(r.Context(), conv.ID)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to mark conversation read", err))
		return
	}
	h.publishConversation(r.Context(), conv.ID)
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "marked": marked})
}

// ClearConversation deletes every message but keeps the conversation and
// the customer's identity.
func (h *MessageHandler) ClearConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	conv, ok := h.loadConversation(w, r, user)
	if !ok {
		return
	}
	if err := h.Ledger.ClearConversation(r.Context(), conv.ID); err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to clear conversation", err))
		return
	}
	if h.Hub != nil {
		h.Hub.Publish(realtime.Event{
			Type:   realtime.EventConversationCleared,
			PageID: conv.PageID,
			Data:   services.ConversationCleared{ID: conv.ID, PageID: conv.PageID},
		})
	}
	logger.LogInfo("🧹 %s cleared conversation %d", user.Username, conv.ID)
	apperrors.WriteJSON(w, http.StatusOK, views.SuccessView{Success: true})
}

func (h *MessageHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	conv, ok := h.loadConversation(w, r, user)
	if !ok {
		return
	}
	days, valid := cleanupPeriods[r.URL.Query().Get("period")]
	if !valid {
		apperrors.HandleError(w, apperrors.Validation("period must be one of 7d, 15d, 1m, 3m"))
		return
	}
	deleted, err := h.Ledger.HardDeleteOlderThan(r.Context(), conv.ID, days)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to delete messages", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "deleted": deleted})
}

func (h *MessageHandler) DeleteLatest(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	conv, ok := h.loadConversation(w, r, user)
	if !ok {
		return
	}
	id, err := h.Ledger.HardDeleteLatest(r.Context(), conv.ID)
	if err != nil {
		if db.IsNotFound(err) {
			apperrors.HandleError(w, apperrors.NotFound("message"))
			return
		}
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to delete message", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "deletedId": id})
}

// DeleteMessage hides one message from the console; the row is kept.
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		apperrors.HandleError(w, err)
		return
	}
	msg, err := h.Ledger.GetMessage(r.Context(), id)
	if err != nil {
		if db.IsNotFound(err) {
			apperrors.HandleError(w, apperrors.NotFound("message"))
			return
		}
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load message", err))
		return
	}
	conv, err := h.Ledger.GetConversation(r.Context(), msg.ConversationID)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load conversation", err))
		return
	}
	if !h.requirePage(w, r, user, conv.PageID) {
		return
	}
	if err := h.Ledger.SoftDelete(r.Context(), id); err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to delete message", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, views.SuccessView{Success: true})
}

// UploadAndSend stores the multipart "image" field and sends it, with the
// optional "message" field as caption.
func (h *MessageHandler) UploadAndSend(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	conv, ok := h.loadConversation(w, r, user)
	if !ok {
		return
	}
	saved, err := h.storeUpload(w, r, user)
	if err != nil {
		apperrors.HandleError(w, err)
		return
	}
	h.send(w, r, user, conv.ID, r.FormValue("message"), saved.URL)
}

// storeUpload reads the "image" form file into the media store and records
// who uploaded it.
func (h *BaseHandler) storeUpload(w http.ResponseWriter, r *http.Request, user *auth.User) (*media.Saved, error) {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(media.MaxUploadSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, apperrors.Validation("file exceeds 5MB limit")
		}
		return nil, apperrors.Validation("invalid multipart form")
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, apperrors.Validation("No file uploaded")
	}
	defer file.Close()

	saved, err := h.Media.Save(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	switch {
	case errors.Is(err, media.ErrNotImage):
		return nil, apperrors.Validation("Only images are allowed")
	case errors.Is(err, media.ErrTooLarge):
		return nil, apperrors.Validation("file exceeds 5MB limit")
	case err != nil:
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to store upload", err)
	}
	if err := h.MediaIndex.Track(r.Context(), saved.Filename, user.ID); err != nil {
		logger.LogWarn("Failed to record owner of %s: %v", saved.Filename, err)
	}
	logger.LogInfo("🖼️ %s uploaded %s", user.Username, saved.Filename)
	return saved, nil
}
