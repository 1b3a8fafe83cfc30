// Package analysis is the per-asset, per-method result cache. Identical
// content is analyzed at most once per method version, however many callers
// ask concurrently.
package analysis

import (
	"context"
	"fmt"

	"github.com/himanishpuri/VideoDNA/pkg/logger"
	"github.com/himanishpuri/VideoDNA/pkg/models"
	"golang.org/x/sync/singleflight"
)

// DB is the slice of the storage client the cache needs.
type DB interface {
	GetLiveRecord(fingerprint, method string, version int) (*models.AnalysisRecord, error)
	PutRecord(*models.AnalysisRecord) error
	InvalidateRecords(fingerprint, method string) error
}

// ComputeFunc invokes the external collaborator (ASR, VLM) and returns its
// ordered timestamped output.
type ComputeFunc func(ctx context.Context) ([]models.TimedUnit, error)

// Cache persists analysis results keyed by (fingerprint, method, version)
// and serializes computation per key.
type Cache struct {
	db     DB
	flight singleflight.Group
	log    *logger.Logger
}

func NewCache(db DB) *Cache {
	return &Cache{db: db, log: logger.GetLogger()}
}

func flightKey(fingerprint, method string, version int) string {
	return fmt.Sprintf("%s|%s|v%d", fingerprint, method, version)
}

// GetOrCompute returns the cached record for the key or runs compute exactly
// once to produce it. Concurrent callers for the same key await the single
// in-flight computation; distinct keys proceed independently. On compute
// failure nothing is persisted and every waiter sees the same AnalysisError,
// so the next call simply retries.
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint, method string, version int, compute ComputeFunc) (*models.AnalysisRecord, error) {
	v, err, shared := c.flight.Do(flightKey(fingerprint, method, version), func() (any, error) {
		rec, err := c.db.GetLiveRecord(fingerprint, method, version)
		if err != nil {
			return nil, &models.StorageError{Op: "cache lookup", Fingerprint: fingerprint, Err: err}
		}
		if rec != nil {
			c.log.Debugf("Cache hit: %s %s v%d", method, fingerprint, version)
			return rec, nil
		}

		c.log.Infof("Cache miss, computing %s v%d for %s", method, version, fingerprint)
		units, err := compute(ctx)
		if err != nil {
			return nil, &models.AnalysisError{Fingerprint: fingerprint, Method: method, Err: err}
		}
		payload, err := models.EncodeUnits(units)
		if err != nil {
			return nil, &models.AnalysisError{Fingerprint: fingerprint, Method: method, Err: err}
		}

		rec = &models.AnalysisRecord{
			Fingerprint:   fingerprint,
			Method:        method,
			MethodVersion: version,
			Payload:       payload,
		}
		if err := c.db.PutRecord(rec); err != nil {
			return nil, &models.StorageError{Op: "cache write", Fingerprint: fingerprint, Err: err}
		}
		c.log.Infof("Cached %s v%d for %s (%d units)", method, version, fingerprint, len(units))
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debugf("Shared in-flight %s result for %s", method, fingerprint)
	}
	return v.(*models.AnalysisRecord), nil
}

// Invalidate marks every version of (fingerprint, method) stale for future
// lookups. History rows are retained, never deleted.
func (c *Cache) Invalidate(fingerprint, method string) error {
	if err := c.db.InvalidateRecords(fingerprint, method); err != nil {
		return &models.StorageError{Op: "invalidate", Fingerprint: fingerprint, Err: err}
	}
	c.log.Infof("Invalidated %s cache for %s", method, fingerprint)
	return nil
}
