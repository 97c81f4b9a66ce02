package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/kgrag/internal/model"
)

// HistoryStore 持久化查询历史。
type HistoryStore struct {
	db     *gorm.DB
	retain int
}

// OpenHistoryStore 打开 SQLite 数据库并迁移表结构。retain 为 0 时不清理旧记录。
func OpenHistoryStore(dsn string, retain int) (*HistoryStore, error) {
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create history dir: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if dsn == ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&model.QueryRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return NewHistoryStore(db, retain), nil
}

// NewHistoryStore 基于已打开的连接创建 HistoryStore。
func NewHistoryStore(db *gorm.DB, retain int) *HistoryStore {
	return &HistoryStore{db: db, retain: retain}
}

// Create 写入一条记录，并按保留上限清理最旧的记录。
func (s *HistoryStore) Create(ctx context.Context, rec *model.QueryRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return err
	}
	if s.retain <= 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("id <= ?", int64(rec.ID)-int64(s.retain)).
		Delete(&model.QueryRecord{}).Error
}

// Recent 按时间倒序返回最近 n 条记录。
func (s *HistoryStore) Recent(ctx context.Context, n int) ([]model.QueryRecord, error) {
	if n <= 0 {
		n = 20
	}
	var records []model.QueryRecord
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(n).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Count 返回记录总数。
func (s *HistoryStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.QueryRecord{}).Count(&count).Error
	return count, err
}

// Close 关闭数据库连接。
func (s *HistoryStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
