package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"messenger-console/db"
	"messenger-console/pkg/auth"
	apperrors "messenger-console/pkg/errors"
	"messenger-console/pkg/views"
)

type NoteHandler struct {
	*BaseHandler
}

type noteRequest struct {
	Content string `json:"content" validate:"max=10000"`
}

// canAccessCustomer is true when the customer has a conversation on a page
// the user may see.
func (h *NoteHandler) canAccessCustomer(ctx context.Context, user *auth.User, customerID string) (bool, error) {
	if user.IsAdmin() {
		return true, nil
	}
	convs, err := h.Ledger.ConversationsOfCustomer(ctx, customerID)
	if err != nil {
		return false, err
	}
	for _, c := range convs {
		ok, err := h.Users.IsAssigned(ctx, user.ID, c.PageID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (h *NoteHandler) customer(w http.ResponseWriter, r *http.Request) (*auth.User, string, bool) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return nil, "", false
	}
	customerID := mux.Vars(r)["customerId"]
	allowed, err := h.canAccessCustomer(r.Context(), user, customerID)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "access check failed", err))
		return nil, "", false
	}
	if !allowed {
		apperrors.HandleError(w, apperrors.Forbidden())
		return nil, "", false
	}
	return user, customerID, true
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	_, customerID, ok := h.customer(w, r)
	if !ok {
		return
	}
	note, err := h.Notes.FindByCustomer(r.Context(), customerID)
	if err != nil {
		if db.IsNotFound(err) {
			apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{"content": ""})
			return
		}
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load note", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, note)
}

func (h *NoteHandler) Save(w http.ResponseWriter, r *http.Request) {
	user, customerID, ok := h.customer(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := h.decode(r, &req); err != nil {
		apperrors.HandleError(w, err)
		return
	}
	note, err := h.Notes.Upsert(r.Context(), customerID, req.Content, user.ID)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to save note", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, note)
}

func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	_, customerID, ok := h.customer(w, r)
	if !ok {
		return
	}
	if err := h.Notes.Delete(r.Context(), customerID); err != nil {
		if db.IsNotFound(err) {
			apperrors.HandleError(w, apperrors.NotFound("note"))
			return
		}
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to delete note", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, views.SuccessView{Success: true})
}
