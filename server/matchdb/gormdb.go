package matchdb

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormDB is the postgres-backed Store.
type gormDB struct {
	db *gorm.DB
}

// NewPostgres opens (and migrates) the match outcome table.
func NewPostgres(dsn string) (Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&MatchRecord{}); err != nil {
		return nil, fmt.Errorf("migrate match records: %w", err)
	}
	return &gormDB{db: db}, nil
}

func (g *gormDB) SaveResult(ctx context.Context, rec *MatchRecord) error {
	err := g.db.WithContext(ctx).Create(rec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("session %s: %w", rec.SessionID, ErrDuplicateResult)
	}
	if err != nil {
		return fmt.Errorf("store result for session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (g *gormDB) FetchResult(ctx context.Context, sessionID string) (*MatchRecord, error) {
	var rec MatchRecord
	err := g.db.WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrResultNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch result for session %s: %w", sessionID, err)
	}
	return &rec, nil
}

func (g *gormDB) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
