// Package storage is the sqlite persistence layer: asset rows, cached
// analysis records, library membership and the retrieval index.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/himanishpuri/VideoDNA/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "videodna.sqlite3"
const errDBClientNil = "db client is nil"

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// Asset is one deduplicated video. Exactly one row per fingerprint.
type Asset struct {
	Fingerprint  string `gorm:"primaryKey;type:varchar(64)"`
	StoragePath  string `json:"storage_path"`
	OriginalName string `json:"original_name"`
	SourceURL    string `json:"source_url"`
	DurationSec  float64
	SizeBytes    int64
	RefCount     int `gorm:"not null;default:0"`
	CreatedAt    time.Time
}

// AnalysisRecord caches one analysis method run. At most one live (non-stale)
// row per (fingerprint, method, method_version); superseded rows are kept but
// never served.
type AnalysisRecord struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	Fingerprint   string `gorm:"type:varchar(64);index:idx_record_key,priority:1"`
	Method        string `gorm:"index:idx_record_key,priority:2"`
	MethodVersion int    `gorm:"index:idx_record_key,priority:3"`
	Payload       []byte
	Stale         bool `gorm:"index:idx_record_stale"`
	CreatedAt     time.Time
}

// Library holds per-library index state, in particular the embedding-model
// identity every entry in the library shares.
type Library struct {
	Name       string `gorm:"primaryKey"`
	EmbedModel string
	CreatedAt  time.Time
}

// LibraryMember links an asset into a library.
type LibraryMember struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Library     string `gorm:"uniqueIndex:idx_member,priority:1"`
	Fingerprint string `gorm:"type:varchar(64);uniqueIndex:idx_member,priority:2"`
	CreatedAt   time.Time
}

// IndexEntry is one embedded segment of a library member. Times are stored in
// milliseconds so the span can participate in a unique key.
type IndexEntry struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Library     string `gorm:"index:idx_entry_lib;uniqueIndex:idx_entry_span,priority:1"`
	Fingerprint string `gorm:"type:varchar(64);uniqueIndex:idx_entry_span,priority:2"`
	StartMs     int64  `gorm:"uniqueIndex:idx_entry_span,priority:3"`
	EndMs       int64  `gorm:"uniqueIndex:idx_entry_span,priority:4"`
	Score       int
	Reason      string
	Text        string
	Embedding   string // JSON-encoded vector
	CreatedAt   time.Time
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("VIDEODNA_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !os.IsExist(err) {
		if filepath.Dir(dbPath) != "." {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Asset{}, &AnalysisRecord{}, &Library{}, &LibraryMember{}, &IndexEntry{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// --- assets ---

func toDomainAsset(row *Asset) *models.Asset {
	return &models.Asset{
		Fingerprint:  row.Fingerprint,
		StoragePath:  row.StoragePath,
		OriginalName: row.OriginalName,
		SourceURL:    row.SourceURL,
		DurationSec:  row.DurationSec,
		SizeBytes:    row.SizeBytes,
		RefCount:     row.RefCount,
		FirstSeenAt:  row.CreatedAt,
	}
}

// CreateAsset inserts a new asset row. The fingerprint must not exist yet.
func (c *DBClient) CreateAsset(a *models.Asset) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	row := Asset{
		Fingerprint:  a.Fingerprint,
		StoragePath:  a.StoragePath,
		OriginalName: a.OriginalName,
		SourceURL:    a.SourceURL,
		DurationSec:  a.DurationSec,
		SizeBytes:    a.SizeBytes,
		RefCount:     a.RefCount,
	}
	if err := c.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("creating asset: %w", err)
	}
	a.FirstSeenAt = row.CreatedAt
	return nil
}

// GetAsset returns the asset for a fingerprint, or nil when unknown.
func (c *DBClient) GetAsset(fingerprint string) (*models.Asset, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var row Asset
	err := c.DB.Where("fingerprint = ?", fingerprint).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying asset: %w", err)
	}
	return toDomainAsset(&row), nil
}

func (c *DBClient) ListAssets() ([]models.Asset, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []Asset
	if err := c.DB.Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	out := make([]models.Asset, 0, len(rows))
	for i := range rows {
		out = append(out, *toDomainAsset(&rows[i]))
	}
	return out, nil
}

// AdjustRefCount atomically adds delta to an asset's reference count and
// returns the new value. The count never drops below zero.
func (c *DBClient) AdjustRefCount(fingerprint string, delta int) (int, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	var newCount int
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		var row Asset
		if err := tx.Where("fingerprint = ?", fingerprint).First(&row).Error; err != nil {
			return err
		}
		newCount = row.RefCount + delta
		if newCount < 0 {
			newCount = 0
		}
		return tx.Model(&row).Update("ref_count", newCount).Error
	})
	if err != nil {
		return 0, fmt.Errorf("adjusting ref count: %w", err)
	}
	return newCount, nil
}

// DeleteAsset removes an asset row plus its cached analysis and any index
// entries. Callers enforce the refcount-zero policy before reclaiming.
func (c *DBClient) DeleteAsset(fingerprint string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("fingerprint = ?", fingerprint).Delete(&AnalysisRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("fingerprint = ?", fingerprint).Delete(&IndexEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("fingerprint = ?", fingerprint).Delete(&LibraryMember{}).Error; err != nil {
			return err
		}
		return tx.Where("fingerprint = ?", fingerprint).Delete(&Asset{}).Error
	})
}

// --- analysis records ---

// GetLiveRecord returns the non-stale record for the exact key, or nil.
func (c *DBClient) GetLiveRecord(fingerprint, method string, version int) (*models.AnalysisRecord, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var row AnalysisRecord
	err := c.DB.
		Where("fingerprint = ? AND method = ? AND method_version = ? AND stale = ?",
			fingerprint, method, version, false).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying analysis record: %w", err)
	}
	return &models.AnalysisRecord{
		Fingerprint:   row.Fingerprint,
		Method:        row.Method,
		MethodVersion: row.MethodVersion,
		Payload:       row.Payload,
		ComputedAt:    row.CreatedAt,
	}, nil
}

// PutRecord persists a freshly computed record. Any previous row for the same
// key is marked stale first, preserving history while keeping one live row.
func (c *DBClient) PutRecord(rec *models.AnalysisRecord) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&AnalysisRecord{}).
			Where("fingerprint = ? AND method = ? AND method_version = ?",
				rec.Fingerprint, rec.Method, rec.MethodVersion).
			Update("stale", true).Error; err != nil {
			return err
		}
		row := AnalysisRecord{
			Fingerprint:   rec.Fingerprint,
			Method:        rec.Method,
			MethodVersion: rec.MethodVersion,
			Payload:       rec.Payload,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		rec.ComputedAt = row.CreatedAt
		return nil
	})
}

// InvalidateRecords marks every version of (fingerprint, method) stale.
// History is retained; future lookups recompute.
func (c *DBClient) InvalidateRecords(fingerprint, method string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	err := c.DB.Model(&AnalysisRecord{}).
		Where("fingerprint = ? AND method = ?", fingerprint, method).
		Update("stale", true).Error
	if err != nil {
		return fmt.Errorf("invalidating records: %w", err)
	}
	return nil
}

// --- libraries ---

// GetLibrary returns the library meta row, or nil when unknown.
func (c *DBClient) GetLibrary(name string) (*Library, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var row Library
	err := c.DB.Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying library: %w", err)
	}
	return &row, nil
}

// EnsureLibrary creates the library row if missing and returns it.
func (c *DBClient) EnsureLibrary(name, embedModel string) (*Library, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	lib, err := c.GetLibrary(name)
	if err != nil {
		return nil, err
	}
	if lib != nil {
		return lib, nil
	}
	row := Library{Name: name, EmbedModel: embedModel}
	if err := c.DB.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("creating library: %w", err)
	}
	return &row, nil
}

// ResetLibraryModel wipes a library's entries and records a new embedding
// model identity. Needed after an embedding-model change.
func (c *DBClient) ResetLibraryModel(name, embedModel string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("library = ?", name).Delete(&IndexEntry{}).Error; err != nil {
			return err
		}
		return tx.Model(&Library{}).Where("name = ?", name).
			Update("embed_model", embedModel).Error
	})
}

func (c *DBClient) ListLibraries() ([]Library, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []Library
	if err := c.DB.Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing libraries: %w", err)
	}
	return rows, nil
}

// AddMember links an asset into a library. Returns false when the link
// already existed.
func (c *DBClient) AddMember(library, fingerprint string) (bool, error) {
	if c == nil || c.DB == nil {
		return false, errors.New(errDBClientNil)
	}
	var count int64
	if err := c.DB.Model(&LibraryMember{}).
		Where("library = ? AND fingerprint = ?", library, fingerprint).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("querying membership: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	row := LibraryMember{Library: library, Fingerprint: fingerprint}
	if err := c.DB.Create(&row).Error; err != nil {
		return false, fmt.Errorf("creating membership: %w", err)
	}
	return true, nil
}

// RemoveMember unlinks an asset from a library. Returns false when no link
// existed.
func (c *DBClient) RemoveMember(library, fingerprint string) (bool, error) {
	if c == nil || c.DB == nil {
		return false, errors.New(errDBClientNil)
	}
	res := c.DB.Where("library = ? AND fingerprint = ?", library, fingerprint).
		Delete(&LibraryMember{})
	if res.Error != nil {
		return false, fmt.Errorf("removing membership: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (c *DBClient) ListMembers(library string) ([]string, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []LibraryMember
	if err := c.DB.Where("library = ?", library).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Fingerprint)
	}
	return out, nil
}

// --- index entries ---

// ReplaceIndexEntries atomically swaps one asset's entries in one library
// for the given set. Spans absent from the new set are removed, so an index
// never accumulates entries from superseded decisions.
func (c *DBClient) ReplaceIndexEntries(library, fingerprint string, entries []IndexEntry) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("library = ? AND fingerprint = ?", library, fingerprint).
			Delete(&IndexEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.CreateInBatches(entries, 200).Error
	})
}

// DeleteIndexEntries removes every entry of one asset in one library.
func (c *DBClient) DeleteIndexEntries(library, fingerprint string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	err := c.DB.Where("library = ? AND fingerprint = ?", library, fingerprint).
		Delete(&IndexEntry{}).Error
	if err != nil {
		return fmt.Errorf("deleting index entries: %w", err)
	}
	return nil
}

func (c *DBClient) ListIndexEntries(library string) ([]IndexEntry, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []IndexEntry
	if err := c.DB.Where("library = ?", library).
		Order("fingerprint, start_ms").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing index entries: %w", err)
	}
	return rows, nil
}
