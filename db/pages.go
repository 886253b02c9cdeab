package db

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"messenger-console/models"
)

type PageRepository struct {
	db *gorm.DB
}

func NewPageRepository(gdb *gorm.DB) *PageRepository {
	return &PageRepository{db: gdb}
}

func (r *PageRepository) Get(ctx context.Context, pageID string) (*models.Page, error) {
	var page models.Page
	if err := r.db.WithContext(ctx).First(&page, "id = ?", pageID).Error; err != nil {
		return nil, notFound(err)
	}
	return &page, nil
}

// Upsert inserts the page or refreshes its name and token.
func (r *PageRepository) Upsert(ctx context.Context, page *models.Page) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "access_token"}),
	}).Create(page).Error
}

func (r *PageRepository) List(ctx context.Context) ([]models.Page, error) {
	var pages []models.Page
	err := r.db.WithContext(ctx).Order("name ASC").Find(&pages).Error
	return pages, err
}

func (r *PageRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Page, error) {
	if len(ids) == 0 {
		return []models.Page{}, nil
	}
	var pages []models.Page
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("name ASC").Find(&pages).Error
	return pages, err
}

// Delete removes the page and its assignments.
func (r *PageRepository) Delete(ctx context.Context, pageID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("page_id = ?", pageID).Delete(&models.UserPage{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", pageID).Delete(&models.Page{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
