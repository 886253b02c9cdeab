package db

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"messenger-console/models"
)

type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(gdb *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: gdb}
}

// Ensure creates the customer with the placeholder name if it is missing and
// returns the stored record either way.
func (r *CustomerRepository) Ensure(ctx context.Context, customerID string) (*models.Customer, error) {
	customer := models.Customer{
		ID:        customerID,
		Name:      models.PlaceholderCustomerName,
		UpdatedAt: time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&customer).Error
	if err != nil && !isUniqueViolation(err) {
		return nil, err
	}
	return r.Get(ctx, customerID)
}

func (r *CustomerRepository) Get(ctx context.Context, customerID string) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).First(&customer, "id = ?", customerID).Error; err != nil {
		return nil, notFound(err)
	}
	return &customer, nil
}

// UpdateProfile stores a resolved name and picture. An empty name is ignored so
// a known name never regresses.
func (r *CustomerRepository) UpdateProfile(ctx context.Context, customerID, name, pictureURL string) error {
	if name == "" {
		return nil
	}
	updates := map[string]interface{}{
		"name":       name,
		"updated_at": time.Now().UTC(),
	}
	if pictureURL != "" {
		updates["profile_pic"] = pictureURL
	}
	return r.db.WithContext(ctx).Model(&models.Customer{}).
		Where("id = ?", customerID).
		Updates(updates).Error
}

func (r *CustomerRepository) ListPlaceholders(ctx context.Context, limit int) ([]models.Customer, error) {
	var customers []models.Customer
	err := r.db.WithContext(ctx).
		Where("name = ? OR name = ''", models.PlaceholderCustomerName).
		Order("updated_at DESC").
		Limit(limit).
		Find(&customers).Error
	return customers, err
}

// Rename sets the customer's name and every conversation of that customer,
// locking the conversation names against automatic sync.
func (r *CustomerRepository) Rename(ctx context.Context, customerID, name string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer := models.Customer{ID: customerID, Name: name, UpdatedAt: now}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}).Create(&customer).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("user_id = ?", customerID).
			Updates(map[string]interface{}{
				"user_name":   name,
				"name_locked": true,
				"updated_at":  now,
			}).Error
	})
}
