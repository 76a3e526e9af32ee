package ingest

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cuihairu/abmetrics/internal/analytics/warehouse"
)

// Manifest remembers which file contents were loaded into which snapshot.
type Manifest interface {
	Loaded(ctx context.Context, dest warehouse.Destination, snapshot time.Time, digest string) (bool, error)
	Mark(ctx context.Context, f LoadedFile) error
}

// LoadedFile is one manifest entry. A file is identified by the sha256 of
// its content, so a renamed copy is still a duplicate.
type LoadedFile struct {
	ID           uint      `gorm:"primaryKey"`
	Dest         string    `gorm:"column:dest;size:255;uniqueIndex:idx_loaded_file"`
	SnapshotDate time.Time `gorm:"column:snapshot_date;uniqueIndex:idx_loaded_file"`
	Digest       string    `gorm:"column:digest;size:64;uniqueIndex:idx_loaded_file"`
	Key          string    `gorm:"column:object_key;size:1024"`
	Rows         int       `gorm:"column:rows"`
	CreatedAt    time.Time
}

func (LoadedFile) TableName() string { return "abmetrics_loaded_files" }

// GormManifest stores the manifest in a SQL database.
type GormManifest struct {
	db *gorm.DB
}

func NewGormManifest(db *gorm.DB) *GormManifest { return &GormManifest{db: db} }

// AutoMigrate creates the manifest table.
func (m *GormManifest) AutoMigrate() error { return m.db.AutoMigrate(&LoadedFile{}) }

func (m *GormManifest) Loaded(ctx context.Context, dest warehouse.Destination, snapshot time.Time, digest string) (bool, error) {
	var rec LoadedFile
	err := m.db.WithContext(ctx).
		Where("dest = ? AND snapshot_date = ? AND digest = ?", dest.String(), snapshot, digest).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *GormManifest) Mark(ctx context.Context, f LoadedFile) error {
	return m.db.WithContext(ctx).Create(&f).Error
}
