package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"messenger-console/models"
)

var ErrDuplicate = errors.New("duplicate record")

// UserRepository holds users and their page assignments.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(gdb *gorm.DB) *UserRepository {
	return &UserRepository{db: gdb}
}

func (r *UserRepository) Create(ctx context.Context, username, passwordHash, role string) (*models.User, error) {
	user := models.User{Username: username, PasswordHash: passwordHash, Role: role}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).Order("id ASC").Find(&users).Error
	return users, err
}

func (r *UserRepository) CountByRole(ctx context.Context, role string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", role).Count(&n).Error
	return n, err
}

// Delete removes the user together with their assignments.
func (r *UserRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.UserPage{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.User{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *UserRepository) UpdateFCMToken(ctx context.Context, id uint, token string) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("fcm_token", token).Error
}

// ClearFCMTokens blanks the given push tokens wherever they are stored.
func (r *UserRepository) ClearFCMTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.User{}).Where("fcm_token IN ?", tokens).Update("fcm_token", "").Error
}

// PagesAssignedTo returns the page ids a user may see.
func (r *UserRepository) PagesAssignedTo(ctx context.Context, userID uint) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.UserPage{}).
		Where("user_id = ?", userID).
		Order("page_id ASC").
		Pluck("page_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	return ids, nil
}

func (r *UserRepository) IsAssigned(ctx context.Context, userID uint, pageID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.UserPage{}).
		Where("user_id = ? AND page_id = ?", userID, pageID).
		Count(&n).Error
	return n > 0, err
}

func (r *UserRepository) Assign(ctx context.Context, userID uint, pageID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UserPage{UserID: userID, PageID: pageID}).Error
}

// ReplaceAssignments sets the user's assignments to exactly pageIDs.
func (r *UserRepository) ReplaceAssignments(ctx context.Context, userID uint, pageIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.UserPage{}).Error; err != nil {
			return err
		}
		if len(pageIDs) == 0 {
			return nil
		}
		rows := make([]models.UserPage, 0, len(pageIDs))
		seen := make(map[string]bool, len(pageIDs))
		for _, id := range pageIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			rows = append(rows, models.UserPage{UserID: userID, PageID: id})
		}
		return tx.Create(&rows).Error
	})
}

func (r *UserRepository) Unassign(ctx context.Context, userID uint, pageID string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND page_id = ?", userID, pageID).
		Delete(&models.UserPage{}).Error
}

// Assignment is one user/page pair with display names.
type Assignment struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	PageID   string `json:"page_id"`
	PageName string `json:"page_name"`
}

func (r *UserRepository) ListAssignments(ctx context.Context) ([]Assignment, error) {
	var out []Assignment
	err := r.db.WithContext(ctx).
		Table("user_pages").
		Select("user_pages.user_id, users.username, user_pages.page_id, pages.name AS page_name").
		Joins("JOIN users ON users.id = user_pages.user_id").
		Joins("LEFT JOIN pages ON pages.id = user_pages.page_id").
		Order("users.username ASC, pages.name ASC").
		Scan(&out).Error
	return out, err
}

// FCMTokensForPage returns push tokens of agents assigned to the page.
func (r *UserRepository) FCMTokensForPage(ctx context.Context, pageID string) ([]string, error) {
	var tokens []string
	err := r.db.WithContext(ctx).
		Table("users").
		Joins("JOIN user_pages ON user_pages.user_id = users.id").
		Where("user_pages.page_id = ? AND users.fcm_token <> ''", pageID).
		Pluck("users.fcm_token", &tokens).Error
	return tokens, err
}
