package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"projectbrain/backend/internal/domain"
	"projectbrain/backend/pkg/logger"
)

// Repository handles all relational store operations. The relational
// store is authoritative; the graph and caches are derived from it.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured database. driver is "sqlite" or
// "postgres".
func Open(driver, dsn string) (*Repository, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	return NewRepository(db), nil
}

// NewRepository wraps an existing gorm handle
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:     db,
		logger: logger.Named("store"),
	}
}

// AutoMigrate creates or updates every table owned by the store
func (r *Repository) AutoMigrate(ctx context.Context) error {
	err := r.db.WithContext(ctx).AutoMigrate(
		&domain.Project{},
		&domain.Message{},
		&domain.Recipient{},
		&domain.MessageEmbedding{},
		&domain.Contact{},
		&domain.Fact{},
		&domain.Decision{},
		&domain.Risk{},
		&domain.ActionItem{},
		&domain.Question{},
	)
	if err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}
	r.logger.Info("Relational schema migrated")
	return nil
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the gorm handle for migrations and tests.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
