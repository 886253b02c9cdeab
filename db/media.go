package db

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"messenger-console/models"
)

// MediaRepository records upload ownership for the media library.
type MediaRepository struct {
	db *gorm.DB
}

func NewMediaRepository(gdb *gorm.DB) *MediaRepository {
	return &MediaRepository{db: gdb}
}

func (r *MediaRepository) Track(ctx context.Context, filename string, userID uint) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "filename"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id"}),
		}).
		Create(&models.Media{Filename: filename, UserID: userID}).Error
}

// List returns uploads newest first; ownerID 0 means every owner.
func (r *MediaRepository) List(ctx context.Context, ownerID uint) ([]models.Media, error) {
	q := r.db.WithContext(ctx).Model(&models.Media{})
	if ownerID != 0 {
		q = q.Where("user_id = ?", ownerID)
	}
	var out []models.Media
	err := q.Order("created_at DESC").Find(&out).Error
	return out, err
}

func (r *MediaRepository) Get(ctx context.Context, filename string) (*models.Media, error) {
	var m models.Media
	if err := r.db.WithContext(ctx).First(&m, "filename = ?", filename).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *MediaRepository) Delete(ctx context.Context, filename string) error {
	return r.db.WithContext(ctx).Delete(&models.Media{}, "filename = ?", filename).Error
}
