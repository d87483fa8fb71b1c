package main

import (
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ExportRecord represents the schema of the export_records table
type ExportRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	JobID       string    `gorm:"size:64;not null;index" json:"job_id"`
	Title       string    `gorm:"size:1024" json:"title"`
	Status      string    `gorm:"size:32;not null" json:"status"`
	FileName    string    `gorm:"size:1024" json:"file_name,omitempty"`
	Pages       int       `json:"pages"`
	Photos      int       `json:"photos"`
	Degraded    int       `json:"degraded"` // Photos replaced by a placeholder
	DurationMs  int64     `json:"duration_ms"`
	FailedStage string    `gorm:"size:32" json:"failed_stage,omitempty"`
	Error       string    `gorm:"size:4096" json:"error,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// InitializeDB initializes the SQLite database and migrates the schema.
// An empty path uses db/export_history.db.
func InitializeDB(path string) *gorm.DB {
	if path == "" {
		path = filepath.Join("db", "export_history.db")
	}

	// Ensure db directory exists
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			log.Fatalf("Failed to create db directory: %v", err)
		}
	}

	db, err := openDB(path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}

func openDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Migrate the schema (create the table if it doesn't exist)
	if err := db.AutoMigrate(&ExportRecord{}); err != nil {
		return nil, err
	}
	return db, nil
}

// InsertExportRecord inserts a new export record into the database
func InsertExportRecord(db *gorm.DB, record ExportRecord) error {
	return db.Create(&record).Error
}

// GetPaginatedExportRecords returns one page of export records, newest first,
// and the total number of records.
func GetPaginatedExportRecords(db *gorm.DB, page, pageSize int) ([]ExportRecord, int64, error) {
	var total int64
	if err := db.Model(&ExportRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []ExportRecord
	result := db.Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records)
	return records, total, result.Error
}

// PruneExportRecords keeps the newest keep records and deletes the rest.
func PruneExportRecords(db *gorm.DB, keep int) (int64, error) {
	var total int64
	if err := db.Model(&ExportRecord{}).Count(&total).Error; err != nil {
		return 0, err
	}
	if total <= int64(keep) {
		return 0, nil
	}

	var ids []uint
	err := db.Model(&ExportRecord{}).
		Order("created_at ASC, id ASC").
		Limit(int(total)-keep).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	result := db.Where("id IN ?", ids).Delete(&ExportRecord{})
	return result.RowsAffected, result.Error
}
