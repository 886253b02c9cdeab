package db

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"messenger-console/models"
)

type NoteView struct {
	models.UserNote
	LastEditorName string `json:"last_editor_name"`
}

type NoteRepository struct {
	db *gorm.DB
}

func NewNoteRepository(gdb *gorm.DB) *NoteRepository {
	return &NoteRepository{db: gdb}
}

func (r *NoteRepository) FindByCustomer(ctx context.Context, customerID string) (*NoteView, error) {
	var note NoteView
	res := r.db.WithContext(ctx).
		Table("user_notes").
		Select("user_notes.*, users.username AS last_editor_name").
		Joins("LEFT JOIN users ON users.id = user_notes.last_edited_by").
		Where("user_notes.customer_id = ?", customerID).
		Limit(1).
		Scan(&note)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &note, nil
}

func (r *NoteRepository) Upsert(ctx context.Context, customerID, content string, editorID uint) (*NoteView, error) {
	note := models.UserNote{
		CustomerID:   customerID,
		Content:      content,
		LastEditedBy: &editorID,
		UpdatedAt:    time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "last_edited_by", "updated_at"}),
	}).Create(&note).Error
	if err != nil {
		return nil, err
	}
	return r.FindByCustomer(ctx, customerID)
}

func (r *NoteRepository) Delete(ctx context.Context, customerID string) error {
	res := r.db.WithContext(ctx).Where("customer_id = ?", customerID).Delete(&models.UserNote{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
