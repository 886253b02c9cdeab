package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"messenger-console/cache"
	"messenger-console/config"
	"messenger-console/db"
	"messenger-console/logger"
	"messenger-console/models"
	"messenger-console/pkg/auth"
	apperrors "messenger-console/pkg/errors"
	"messenger-console/pkg/media"
	"messenger-console/pkg/meta"
	"messenger-console/pkg/realtime"
	"messenger-console/services"
)

// Deps is everything the HTTP layer talks to.
type Deps struct {
	Config      *config.Config
	Auth        *auth.Authenticator
	Users       *db.UserRepository
	Pages       *db.PageRepository
	Customers   *db.CustomerRepository
	Ledger      *db.Ledger
	Notes       *db.NoteRepository
	MediaIndex  *db.MediaRepository
	Media       *media.Store
	Credentials *services.PageCredentials
	Profiles    *cache.ProfileCache
	Pipeline    *services.Pipeline
	Outbound    *services.Outbound
	Hub         *realtime.Hub
	Graph       *meta.Client
	// Ping checks the database for /health; nil skips the check.
	Ping func(ctx context.Context) error
}

type BaseHandler struct {
	Deps
	validate *validator.Validate
	// dispatch runs webhook processing after the ack has been written.
	dispatch func(func())
	inflight sync.WaitGroup
}

func NewBaseHandler(deps Deps) *BaseHandler {
	return &BaseHandler{
		Deps:     deps,
		validate: validator.New(),
		dispatch: func(fn func()) { go fn() },
	}
}

// background hands fn to dispatch and tracks it until it returns.
func (h *BaseHandler) background(fn func()) {
	h.inflight.Add(1)
	h.dispatch(func() {
		defer h.inflight.Done()
		fn()
	})
}

// Drain blocks until every dispatched webhook batch has finished or ctx ends.
// Call it after the HTTP server stops accepting requests and before the
// database is closed.
func (h *BaseHandler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *BaseHandler) requireUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		apperrors.HandleError(w, apperrors.New(apperrors.ErrUnauthorized, "Authentication required"))
		return nil, false
	}
	return user, true
}

// decode reads a JSON body into v and runs struct validation.
func (h *BaseHandler) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Validation("invalid request body")
	}
	if err := h.validate.Struct(v); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, validationMessage(err), err)
	}
	return nil
}

func validationMessage(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		fe := errs[0]
		return fe.Field() + " is invalid (" + fe.Tag() + ")"
	}
	return "invalid request"
}

func pathUint(r *http.Request, name string) (uint, error) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil || v == 0 {
		return 0, apperrors.Validation("invalid " + name)
	}
	return uint(v), nil
}

// canAccessPage is true for admins and for agents assigned to pageID.
func (h *BaseHandler) canAccessPage(ctx context.Context, user *auth.User, pageID string) (bool, error) {
	if user.IsAdmin() {
		return true, nil
	}
	return h.Users.IsAssigned(ctx, user.ID, pageID)
}

func (h *BaseHandler) requirePage(w http.ResponseWriter, r *http.Request, user *auth.User, pageID string) bool {
	ok, err := h.canAccessPage(r.Context(), user, pageID)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "access check failed", err))
		return false
	}
	if !ok {
		logger.LogWarn("User %s denied access to page %s", user.Username, pageID)
		apperrors.HandleError(w, apperrors.Forbidden())
		return false
	}
	return true
}

// loadConversation resolves the {id} route variable and checks page access.
func (h *BaseHandler) loadConversation(w http.ResponseWriter, r *http.Request, user *auth.User) (*models.Conversation, bool) {
	id, err := pathUint(r, "id")
	if err != nil {
		apperrors.HandleError(w, err)
		return nil, false
	}
	conv, err := h.Ledger.GetConversation(r.Context(), id)
	if err != nil {
		if db.IsNotFound(err) {
			apperrors.HandleError(w, apperrors.NotFound("conversation"))
		} else {
			apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load conversation", err))
		}
		return nil, false
	}
	if !h.requirePage(w, r, user, conv.PageID) {
		return nil, false
	}
	return conv, true
}

// accessiblePages returns nil with all=true for admins.
func (h *BaseHandler) accessiblePages(ctx context.Context, user *auth.User) (pageIDs []string, all bool, err error) {
	if user.IsAdmin() {
		return nil, true, nil
	}
	pageIDs, err = h.Users.PagesAssignedTo(ctx, user.ID)
	return pageIDs, false, err
}

func (h *BaseHandler) publishConversation(ctx context.Context, conversationID uint) {
	if h.Hub == nil {
		return
	}
	conv, err := h.Ledger.GetConversation(ctx, conversationID)
	if err != nil {
		logger.LogWarn("Could not reload conversation %d for broadcast: %v", conversationID, err)
		return
	}
	h.Hub.Publish(realtime.Event{
		Type:   realtime.EventConversationUpdated,
		PageID: conv.PageID,
		Data:   services.NewConversationUpdate(conv),
	})
}
