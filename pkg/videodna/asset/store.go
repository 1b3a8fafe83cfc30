// Package asset owns the physical video pool and the Asset rows: exactly one
// copy per fingerprint, reference-counted library links, explicit reclaim.
package asset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/himanishpuri/VideoDNA/pkg/logger"
	"github.com/himanishpuri/VideoDNA/pkg/models"
	"github.com/himanishpuri/VideoDNA/pkg/utils"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/hash"
)

// DB is the slice of the storage client the asset store needs.
type DB interface {
	CreateAsset(*models.Asset) error
	GetAsset(fingerprint string) (*models.Asset, error)
	ListAssets() ([]models.Asset, error)
	AdjustRefCount(fingerprint string, delta int) (int, error)
	DeleteAsset(fingerprint string) error
	AddMember(library, fingerprint string) (bool, error)
	RemoveMember(library, fingerprint string) (bool, error)
}

// DurationProber reports a video's duration in seconds. Probing happens once
// at ingestion; the result lives on the Asset row.
type DurationProber func(ctx context.Context, path string) (float64, error)

// Store persists each video exactly once per fingerprint.
type Store struct {
	db    DB
	pool  string
	probe DurationProber
	log   *logger.Logger
}

// NewStore opens (and creates if needed) the pool directory and reconciles
// orphan files left behind by interrupted ingestions.
func NewStore(db DB, poolDir string, probe DurationProber) (*Store, error) {
	if err := utils.MakeDir(poolDir); err != nil {
		return nil, &models.StorageError{Op: "open pool", Err: err}
	}
	s := &Store{db: db, pool: poolDir, probe: probe, log: logger.GetLogger()}
	if err := s.ReconcileOrphans(); err != nil {
		return nil, err
	}
	return s, nil
}

// poolPath is the canonical location for a fingerprint. The original
// extension is kept so downstream tools can sniff the container.
func (s *Store) poolPath(fingerprint, ext string) string {
	return filepath.Join(s.pool, fingerprint+ext)
}

// Ingest fingerprints the file at path and guarantees exactly one physical
// copy per fingerprint. Re-submitting identical bytes under any filename
// returns the existing Asset unchanged. The second return reports whether a
// new asset was created.
func (s *Store) Ingest(ctx context.Context, path, originalName, sourceURL string) (*models.Asset, bool, error) {
	fingerprint, err := hash.HashFile(path)
	if err != nil {
		return nil, false, &models.StorageError{Op: "fingerprint", Err: err}
	}

	existing, err := s.db.GetAsset(fingerprint)
	if err != nil {
		return nil, false, &models.StorageError{Op: "ingest", Fingerprint: fingerprint, Err: err}
	}
	if existing != nil {
		s.log.Infof("Asset %s already pooled, reusing %s", shortFP(fingerprint), existing.StoragePath)
		return existing, false, nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	dst := s.poolPath(fingerprint, ext)

	// Write-then-publish: the content lands in the pool before the row is
	// created. CopyFile itself goes through a temp file and rename.
	if err := utils.CopyFile(path, dst); err != nil {
		return nil, false, &models.StorageError{Op: "pool write", Fingerprint: fingerprint, Err: err}
	}

	duration := 0.0
	if s.probe != nil {
		duration, err = s.probe(ctx, dst)
		if err != nil {
			os.Remove(dst)
			return nil, false, &models.StorageError{Op: "probe", Fingerprint: fingerprint, Err: err}
		}
	}

	size, err := utils.FileSize(dst)
	if err != nil {
		os.Remove(dst)
		return nil, false, &models.StorageError{Op: "pool stat", Fingerprint: fingerprint, Err: err}
	}

	if originalName == "" {
		originalName = filepath.Base(path)
	}
	a := &models.Asset{
		Fingerprint:  fingerprint,
		StoragePath:  dst,
		OriginalName: originalName,
		SourceURL:    sourceURL,
		DurationSec:  duration,
		SizeBytes:    size,
	}
	if err := s.db.CreateAsset(a); err != nil {
		// A concurrent ingest of the same bytes may have committed its row
		// between our existence check and the insert. That row owns the pool
		// copy at the canonical path, so it must stay in place.
		if winner, lookupErr := s.db.GetAsset(fingerprint); lookupErr == nil && winner != nil {
			if winner.StoragePath != dst {
				os.Remove(dst)
			}
			s.log.Infof("Asset %s pooled concurrently, reusing %s", shortFP(fingerprint), winner.StoragePath)
			return winner, false, nil
		}
		// Failed commit must not leave an orphan copy behind.
		os.Remove(dst)
		return nil, false, &models.StorageError{Op: "ingest", Fingerprint: fingerprint, Err: err}
	}

	s.log.Infof("Pooled new asset %s (%s, %.1fs)", shortFP(fingerprint), originalName, duration)
	return a, true, nil
}

// Resolve returns the Asset for a fingerprint.
func (s *Store) Resolve(fingerprint string) (*models.Asset, error) {
	a, err := s.db.GetAsset(fingerprint)
	if err != nil {
		return nil, &models.StorageError{Op: "resolve", Fingerprint: fingerprint, Err: err}
	}
	if a == nil {
		return nil, &models.NotFoundError{Kind: "asset", Ref: fingerprint}
	}
	return a, nil
}

// List returns every pooled asset.
func (s *Store) List() ([]models.Asset, error) {
	assets, err := s.db.ListAssets()
	if err != nil {
		return nil, &models.StorageError{Op: "list", Err: err}
	}
	return assets, nil
}

// Link records a library membership and bumps the reference count. Linking
// the same pair twice is a no-op.
func (s *Store) Link(fingerprint, library string) error {
	if _, err := s.Resolve(fingerprint); err != nil {
		return err
	}
	added, err := s.db.AddMember(library, fingerprint)
	if err != nil {
		return &models.StorageError{Op: "link", Fingerprint: fingerprint, Err: err}
	}
	if !added {
		return nil
	}
	if _, err := s.db.AdjustRefCount(fingerprint, 1); err != nil {
		return &models.StorageError{Op: "link", Fingerprint: fingerprint, Err: err}
	}
	return nil
}

// Unlink drops a library membership and the matching reference. The physical
// copy stays in place even at refcount zero; reclamation is explicit.
func (s *Store) Unlink(fingerprint, library string) error {
	removed, err := s.db.RemoveMember(library, fingerprint)
	if err != nil {
		return &models.StorageError{Op: "unlink", Fingerprint: fingerprint, Err: err}
	}
	if !removed {
		return nil
	}
	if _, err := s.db.AdjustRefCount(fingerprint, -1); err != nil {
		return &models.StorageError{Op: "unlink", Fingerprint: fingerprint, Err: err}
	}
	return nil
}

// Reclaim physically deletes an asset. Refused while any library still
// references it.
func (s *Store) Reclaim(fingerprint string) error {
	a, err := s.Resolve(fingerprint)
	if err != nil {
		return err
	}
	if a.RefCount > 0 {
		return &models.StorageError{
			Op:          "reclaim",
			Fingerprint: fingerprint,
			Err:         fmt.Errorf("still referenced by %d libraries", a.RefCount),
		}
	}
	if err := os.Remove(a.StoragePath); err != nil && !os.IsNotExist(err) {
		return &models.StorageError{Op: "reclaim", Fingerprint: fingerprint, Err: err}
	}
	if err := s.db.DeleteAsset(fingerprint); err != nil {
		return &models.StorageError{Op: "reclaim", Fingerprint: fingerprint, Err: err}
	}
	s.log.Infof("Reclaimed asset %s", shortFP(fingerprint))
	return nil
}

// ReconcileOrphans removes pool files with no Asset row and stale temp files.
// Runs at open; the write-then-publish ordering means a crash can only leave
// content without a row, never a row without content.
func (s *Store) ReconcileOrphans() error {
	entries, err := os.ReadDir(s.pool)
	if err != nil {
		return &models.StorageError{Op: "reconcile", Err: err}
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		full := filepath.Join(s.pool, name)

		if strings.HasSuffix(name, ".tmp") {
			s.log.Warnf("Removing stale temp file %s", name)
			os.Remove(full)
			continue
		}

		fingerprint := strings.TrimSuffix(name, filepath.Ext(name))
		a, err := s.db.GetAsset(fingerprint)
		if err != nil {
			return &models.StorageError{Op: "reconcile", Fingerprint: fingerprint, Err: err}
		}
		if a == nil {
			s.log.Warnf("Removing orphan pool file %s", name)
			os.Remove(full)
		}
	}
	return nil
}

func shortFP(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
