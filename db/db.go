package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"messenger-console/config"
	"messenger-console/logger"
)

var ErrNotFound = errors.New("record not found")

const connectAttempts = 3

// Connect opens Postgres through lib/pq, trying DATABASE_URL first and
// DATABASE_IPV4 as a fallback, and hands the pool to gorm.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var lastErr error
	for _, connStr := range []string{cfg.URL, cfg.IPv4URL} {
		if connStr == "" {
			continue
		}
		sqlDB, err := connectWithRetry(connStr, cfg)
		if err != nil {
			lastErr = err
			logger.LogWarn("Database connection failed, trying next URL: %v", err)
			continue
		}
		gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("open gorm: %w", err)
		}
		return gdb, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no database URL configured")
	}
	return nil, lastErr
}

func connectWithRetry(connStr string, cfg config.DatabaseConfig) (*sql.DB, error) {
	var err error
	for i := 0; i < connectAttempts; i++ {
		logger.LogInfo("🔄 Database connection attempt %d/%d...", i+1, connectAttempts)
		var sqlDB *sql.DB
		if sqlDB, err = open(connStr, cfg); err == nil {
			logger.LogInfo("✅ Successfully connected to database")
			return sqlDB, nil
		}
		logger.LogWarn("Connection attempt %d failed: %v", i+1, err)
		if i < connectAttempts-1 {
			time.Sleep(2 * time.Second)
		}
	}
	return nil, err
}

func open(connStr string, cfg config.DatabaseConfig) (*sql.DB, error) {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetMaxIdleConns(cfg.MaxConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return sqlDB, nil
}

// isUniqueViolation recognises duplicate-key failures from Postgres (23505)
// and from the SQLite driver used in tests.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
