package db

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"messenger-console/logger"
	"messenger-console/models"
)

// Migrate creates or updates every table.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// SeedAdmin creates the default admin account when no admin exists yet.
func SeedAdmin(ctx context.Context, users *UserRepository, username, password string) (bool, error) {
	count, err := users.CountByRole(ctx, models.RoleAdmin)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	if _, err := users.Create(ctx, username, string(hash), models.RoleAdmin); err != nil {
		return false, err
	}
	logger.LogInfo("👤 Default admin user %q created", username)
	return true, nil
}
