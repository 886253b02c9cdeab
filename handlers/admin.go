package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"messenger-console/db"
	"messenger-console/logger"
	"messenger-console/models"
	"messenger-console/pkg/auth"
	apperrors "messenger-console/pkg/errors"
	"messenger-console/pkg/views"
	"messenger-console/services"
)

type AdminHandler struct {
	*BaseHandler
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=100"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"omitempty,oneof=admin agent"`
}

type addPageRequest struct {
	ID          string `json:"id" validate:"required,max=64"`
	Name        string `json:"name" validate:"required,max=255"`
	AccessToken string `json:"access_token" validate:"required"`
}

type assignRequest struct {
	UserID uint   `json:"userId" validate:"required"`
	PageID string `json:"pageId" validate:"required"`
}

type bulkAssignRequest struct {
	UserID  uint     `json:"userId" validate:"required"`
	PageIDs []string `json:"pageIds" validate:"dive,required"`
}

type syncPagesRequest struct {
	UserToken string `json:"userToken"`
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context())
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to list users", err))
		return
	}
	out := make([]views.UserView, 0, len(users))
	for i := range users {
		pages, err := h.Users.PagesAssignedTo(r.Context(), users[i].ID)
		if err != nil {
			apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to list assignments", err))
			return
		}
		out = append(out, views.ToUserView(&users[i], pages))
	}
	apperrors.WriteJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := h.decode(r, &req); err != nil {
		apperrors.HandleError(w, err)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleAgent
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to hash password", err))
		return
	}
	user, err := h.Users.Create(r.Context(), req.Username, hash, req.Role)
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			apperrors.HandleError(w, apperrors.New(apperrors.ErrConflict, "Username already exists"))
			return
		}
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to create user", err))
		return
	}
	logger.LogInfo("👤 Created %s user %s", user.Role, user.Username)
	apperrors.WriteJSON(w, http.StatusCreated, views.ToUserView(user, nil))
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		apperrors.HandleError(w, err)
		return
	}
	if id == user.ID {
		apperrors.HandleError(w, apperrors.Validation("You cannot delete your own account"))
		return
	}
	if err := h.Users.Delete(r.Context(), id); err != nil {
		if db.IsNotFound(err) {
			apperrors.HandleError(w, apperrors.NotFound("user"))
			return
		}
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to delete user", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, views.SuccessView{Success: true})
}

func (h *AdminHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.Pages.List(r.Context())
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to list pages", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, views.ToAdminPageViews(pages))
}

func (h *AdminHandler) AddPage(w http.ResponseWriter, r *http.Request) {
	var req addPageRequest
	if err := h.decode(r, &req); err != nil {
		apperrors.HandleError(w, err)
		return
	}
	page := &models.Page{ID: req.ID, Name: req.Name, AccessToken: req.AccessToken}
	if err := h.Pages.Upsert(r.Context(), page); err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to save page", err))
		return
	}
	h.Credentials.Invalidate(req.ID)
	logger.LogInfo("📄 Registered page %s (%s)", req.Name, req.ID)
	apperrors.WriteJSON(w, http.StatusCreated, views.PageView{ID: page.ID, Name: page.Name})
}

func (h *AdminHandler) DeletePage(w http.ResponseWriter, r *http.Request) {
	pageID := mux.Vars(r)["id"]
	if err := h.Pages.Delete(r.Context(), pageID); err != nil {
		if db.IsNotFound(err) {
			apperrors.HandleError(w, apperrors.NotFound("page"))
			return
		}
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to delete page", err))
		return
	}
	h.Credentials.Invalidate(pageID)
	apperrors.WriteJSON(w, http.StatusOK, views.SuccessView{Success: true})
}

// SyncPages imports every page a Facebook user token manages. The token comes
// from the body or, failing that, the server configuration.
func (h *AdminHandler) SyncPages(w http.ResponseWriter, r *http.Request) {
	var req syncPagesRequest
	if r.ContentLength > 0 {
		if err := h.decode(r, &req); err != nil {
			apperrors.HandleError(w, err)
			return
		}
	}
	if h.Graph == nil {
		apperrors.HandleError(w, apperrors.New(apperrors.ErrInternal, "Graph client is not configured"))
		return
	}
	token := req.UserToken
	if token == "" {
		token = h.Config.Meta.UserToken
	}
	if token == "" {
		apperrors.HandleError(w, apperrors.Validation("userToken is required"))
		return
	}
	n, err := services.SyncPages(r.Context(), h.Graph, h.Pages, h.Credentials, token)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrSendFailed, "Failed to fetch pages from Meta", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "synced": n})
}

func (h *AdminHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := h.decode(r, &req); err != nil {
		apperrors.HandleError(w, err)
		return
	}
	if err := h.Users.Assign(r.Context(), req.UserID, req.PageID); err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to assign page", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, views.SuccessView{Success: true})
}

// BulkAssign replaces the user's assignments with exactly pageIds.
func (h *AdminHandler) BulkAssign(w http.ResponseWriter, r *http.Request) {
	var req bulkAssignRequest
	if err := h.decode(r, &req); err != nil {
		apperrors.HandleError(w, err)
		return
	}
	if err := h.Users.ReplaceAssignments(r.Context(), req.UserID, req.PageIDs); err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to assign pages", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, views.SuccessView{Success: true})
}

func (h *AdminHandler) Unassign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := h.decode(r, &req); err != nil {
		apperrors.HandleError(w, err)
		return
	}
	if err := h.Users.Unassign(r.Context(), req.UserID, req.PageID); err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to unassign page", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, views.SuccessView{Success: true})
}

func (h *AdminHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.Users.ListAssignments(r.Context())
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to list assignments", err))
		return
	}
	if assignments == nil {
		assignments = []db.Assignment{}
	}
	apperrors.WriteJSON(w, http.StatusOK, assignments)
}

// UserAssignments is open to agents for their own id.
func (h *AdminHandler) UserAssignments(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathUint(r, "userId")
	if err != nil {
		apperrors.HandleError(w, err)
		return
	}
	if !user.IsAdmin() && id != user.ID {
		apperrors.HandleError(w, apperrors.New(apperrors.ErrForbidden, "You can only view your own assignments"))
		return
	}
	pageIDs, err := h.Users.PagesAssignedTo(r.Context(), id)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load assignments", err))
		return
	}
	pages, err := h.Pages.ListByIDs(r.Context(), pageIDs)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load pages", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, views.ToPageViews(pages))
}
