package views

import (
	"time"

	"messenger-console/models"
)

type Pagination struct {
	Total    int64 `json:"total"`
	HasMore  bool  `json:"hasMore"`
	OldestID *uint `json:"oldestId"`
	NewestID *uint `json:"newestId"`
}

type MessagePageView struct {
	Messages   []models.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

type PageView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type UserView struct {
	ID       uint     `json:"id"`
	Username string   `json:"username"`
	Role     string   `json:"role"`
	PageIDs  []string `json:"pageIds,omitempty"`
}

type AdminPageView struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"added_at"`
}

type SuccessView struct {
	Success bool `json:"success"`
}
