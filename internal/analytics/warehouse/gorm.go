package warehouse

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

// insertBatch bounds the rows per INSERT statement inside a chunk.
const insertBatch = 500

// tableName maps a destination to a gorm table. Postgres keeps the dataset
// as a schema; sqlite has no schemas so the dataset becomes a prefix.
func tableName(db *gorm.DB, dest Destination) string {
	if dest.Dataset == "" {
		return dest.Table
	}
	if db.Dialector.Name() == "postgres" {
		return dest.Dataset + "." + dest.Table
	}
	return dest.Dataset + "_" + dest.Table
}

// GormSource reads the latest snapshot through gorm and deduplicates in
// process.
type GormSource struct {
	db   *gorm.DB
	dest Destination
	log  *slog.Logger
}

func NewGormSource(db *gorm.DB, dest Destination, log *slog.Logger) *GormSource {
	if log == nil {
		log = slog.Default()
	}
	return &GormSource{db: db, dest: dest, log: log}
}

func (s *GormSource) Load(ctx context.Context) (*orders.Table, error) {
	if err := s.dest.Validate(); err != nil {
		return nil, err
	}
	name := tableName(s.db, s.dest)
	latest := s.db.Table(name).Select("MAX(insert_date)")
	var recs []SaleRecord
	err := s.db.WithContext(ctx).Table(name).
		Where("insert_date = (?)", latest).
		Where("is_target IN ?", []string{orders.CohortTarget, orders.CohortControl}).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	s.log.Info("orders loaded", "source", "gorm", "table", name, "rows", len(recs))
	return BuildTable(recs), nil
}

// GormWriter appends records through gorm, migrating the table first.
type GormWriter struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewGormWriter(db *gorm.DB, log *slog.Logger) *GormWriter {
	if log == nil {
		log = slog.Default()
	}
	return &GormWriter{db: db, log: log}
}

func (w *GormWriter) Write(ctx context.Context, dest Destination, recs []SaleRecord, opts WriteOptions) (int, error) {
	if err := dest.Validate(); err != nil {
		return 0, err
	}
	db := w.db.WithContext(ctx)
	if dest.Dataset != "" && db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + dest.Dataset).Error; err != nil {
			return 0, fmt.Errorf("create schema %s: %w", dest.Dataset, err)
		}
	}
	name := tableName(w.db, dest)
	if err := db.Table(name).AutoMigrate(&SaleRecord{}); err != nil {
		return 0, fmt.Errorf("migrate %s: %w", name, err)
	}
	chunks := Chunk(recs, opts.size(len(recs)))
	written := 0
	for i, chunk := range chunks {
		if err := db.Table(name).CreateInBatches(&chunk, insertBatch).Error; err != nil {
			return written, fmt.Errorf("insert chunk %s into %s: %w", chunkLabel(i, len(chunks)), name, err)
		}
		written += len(chunk)
		w.log.Info("chunk loaded", "table", name, "chunk", chunkLabel(i, len(chunks)), "rows", len(chunk))
	}
	return written, nil
}
