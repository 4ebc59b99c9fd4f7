package storage

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeenArticle 指纹登记表，fingerprint 作主键，并发插入天然幂等
type SeenArticle struct {
	Fingerprint string    `gorm:"primaryKey;size:40" json:"fingerprint"`
	Source      string    `gorm:"size:64;index" json:"source"`
	SeenAt      time.Time `gorm:"index" json:"seenAt"`
}

// PostgresStore 多实例部署时使用的持久实现
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SeenArticle{}, &ReportRecord{}); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) IsNew(ctx context.Context, fingerprint string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&SeenArticle{}).
		Where("fingerprint = ?", fingerprint).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (s *PostgresStore) MarkSeen(ctx context.Context, fingerprint, source string, seenAt time.Time) error {
	rec := &SeenArticle{Fingerprint: fingerprint, Source: source, SeenAt: seenAt.UTC()}
	// 指纹已存在时直接忽略，保证幂等
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
}

func (s *PostgresStore) FilterNew(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	out := make(map[string]bool, len(fingerprints))
	if len(fingerprints) == 0 {
		return out, nil
	}
	for _, fp := range fingerprints {
		out[fp] = true
	}

	var seen []string
	err := s.db.WithContext(ctx).Model(&SeenArticle{}).
		Where("fingerprint IN ?", fingerprints).
		Pluck("fingerprint", &seen).Error
	if err != nil {
		return nil, err
	}
	for _, fp := range seen {
		out[fp] = false
	}
	return out, nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, rec *ReportRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *PostgresStore) RecentReports(ctx context.Context, source string, limit int) ([]ReportRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var list []ReportRecord
	db := s.db.WithContext(ctx).Model(&ReportRecord{})
	if source != "" {
		db = db.Where("source = ?", source)
	}
	if err := db.Order("finished_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
