package views

import (
	"messenger-console/db"
	"messenger-console/models"
)

func ToMessagePageView(page *db.MessagePage) MessagePageView {
	v := MessagePageView{
		Messages: page.Messages,
		Pagination: Pagination{
			Total:   page.Total,
			HasMore: page.HasMore,
		},
	}
	if v.Messages == nil {
		v.Messages = []models.Message{}
	}
	if len(page.Messages) > 0 {
		oldest, newest := page.OldestID, page.NewestID
		v.Pagination.OldestID = &oldest
		v.Pagination.NewestID = &newest
	}
	return v
}

func ToPageViews(pages []models.Page) []PageView {
	out := make([]PageView, len(pages))
	for i, p := range pages {
		out[i] = PageView{ID: p.ID, Name: p.Name}
	}
	return out
}

func ToAdminPageViews(pages []models.Page) []AdminPageView {
	out := make([]AdminPageView, len(pages))
	for i, p := range pages {
		out[i] = AdminPageView{ID: p.ID, Name: p.Name, AddedAt: p.AddedAt}
	}
	return out
}

func ToUserView(user *models.User, pageIDs []string) UserView {
	return UserView{
		ID:       user.ID,
		Username: user.Username,
		Role:     user.Role,
		PageIDs:  pageIDs,
	}
}
