// Package store is the durable short URL store on PostgreSQL via GORM.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MagnunAVF/smllr/internal"
	applog "github.com/MagnunAVF/smllr/internal/logger"
)

type PostgresStore struct {
	db  *gorm.DB
	ids *internal.IDGenerator
	now func() time.Time
}

// Open connects to dsn with the slog-backed GORM logger and translated
// dialect errors (unique violations become gorm.ErrDuplicatedKey).
func Open(dsn, logLevel string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         applog.NewGormLogger(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables this service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&internal.ShortURL{}, &internal.Fingerprint{}, &internal.Click{})
}

func NewPostgresStore(db *gorm.DB, ids *internal.IDGenerator) *PostgresStore {
	return &PostgresStore{db: db, ids: ids, now: time.Now}
}

func (s *PostgresStore) FindByCode(ctx context.Context, code string) (*internal.ShortURL, error) {
	var u internal.ShortURL
	err := s.db.WithContext(ctx).Where("code = ?", code).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find short url %q: %w", code, err)
	}
	return &u, nil
}

// IncrementClickCount bumps the counter in a single UPDATE so concurrent
// workers never lose an increment.
func (s *PostgresStore) IncrementClickCount(ctx context.Context, code string) error {
	res := s.db.WithContext(ctx).
		Model(&internal.ShortURL{}).
		Where("code = ?", code).
		UpdateColumn("clicks", gorm.Expr("clicks + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("increment clicks %q: %w", code, res.Error)
	}
	if res.RowsAffected == 0 {
		return internal.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindFingerprintByID(ctx context.Context, id uint64) (*internal.Fingerprint, error) {
	var fp internal.Fingerprint
	err := s.db.WithContext(ctx).Take(&fp, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find fingerprint %d: %w", id, err)
	}
	return &fp, nil
}

// CreateFingerprint stores fp under a fresh Snowflake id and returns it.
func (s *PostgresStore) CreateFingerprint(ctx context.Context, fp *internal.Fingerprint) (uint64, error) {
	fp.ID = s.ids.NextID()
	if err := s.db.WithContext(ctx).Create(fp).Error; err != nil {
		return 0, fmt.Errorf("create fingerprint: %w", err)
	}
	return fp.ID, nil
}

func (s *PostgresStore) CreateClickRecord(ctx context.Context, code string, fingerprintID uint64) error {
	click := internal.Click{
		ShortCode:     code,
		FingerprintID: &fingerprintID,
		ClickedAt:     s.now(),
	}
	if err := s.db.WithContext(ctx).Omit("ShortURL", "Fingerprint").Create(&click).Error; err != nil {
		return fmt.Errorf("create click %q: %w", code, err)
	}
	return nil
}

// RecordClick increments the counter and appends the click atomically.
func (s *PostgresStore) RecordClick(ctx context.Context, code string, fingerprintID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txs := &PostgresStore{db: tx, ids: s.ids, now: s.now}
		if err := txs.IncrementClickCount(ctx, code); err != nil {
			return err
		}
		return txs.CreateClickRecord(ctx, code, fingerprintID)
	})
}

// CreateShortURL inserts u, mapping a unique violation to ErrCodeTaken.
func (s *PostgresStore) CreateShortURL(ctx context.Context, u *internal.ShortURL) error {
	if u.ID == 0 {
		u.ID = int64(s.ids.NextID())
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	err := s.db.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return internal.ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("create short url %q: %w", u.Code, err)
	}
	return nil
}

func (s *PostgresStore) CountAnonymousByIP(ctx context.Context, ip string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&internal.ShortURL{}).
		Where("owner_id IS NULL AND creator_ip = ?", ip).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count anonymous short urls: %w", err)
	}
	return n, nil
}

// LatestClicks returns up to limit clicks for code, newest first, with their
// fingerprints loaded.
func (s *PostgresStore) LatestClicks(ctx context.Context, code string, limit int) ([]internal.Click, error) {
	var clicks []internal.Click
	err := s.db.WithContext(ctx).
		Preload("Fingerprint").
		Where("short_code = ?", code).
		Order("clicked_at DESC").
		Limit(limit).
		Find(&clicks).Error
	if err != nil {
		return nil, fmt.Errorf("latest clicks %q: %w", code, err)
	}
	return clicks, nil
}
