package analysis

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/himanishpuri/VideoDNA/pkg/models"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/storage"
)

func setupTestCache(t *testing.T) *Cache {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test_cache.sqlite3")
	client, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		t.Fatalf("Failed to create DB client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return NewCache(client)
}

func unitsFixture() []models.TimedUnit {
	return []models.TimedUnit{
		{Text: "hello world", Start: 0, End: 2.5, Kind: models.UnitSpeech},
		{Text: "a whiteboard appears", Start: 2.5, End: 4, Kind: models.UnitVisual},
	}
}

func TestGetOrComputeCaches(t *testing.T) {
	cache := setupTestCache(t)
	ctx := context.Background()

	calls := 0
	compute := func(ctx context.Context) ([]models.TimedUnit, error) {
		calls++
		return unitsFixture(), nil
	}

	rec, err := cache.GetOrCompute(ctx, "fp1", models.MethodASR, 1, compute)
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	units, err := rec.Units()
	if err != nil {
		t.Fatalf("Units decode failed: %v", err)
	}
	if len(units) != 2 || units[0].Text != "hello world" {
		t.Errorf("Unexpected units: %+v", units)
	}

	// Second call is a pure cache hit.
	if _, err := cache.GetOrCompute(ctx, "fp1", models.MethodASR, 1, compute); err != nil {
		t.Fatalf("Cached GetOrCompute failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 compute call, got %d", calls)
	}

	// A version bump recomputes.
	if _, err := cache.GetOrCompute(ctx, "fp1", models.MethodASR, 2, compute); err != nil {
		t.Fatalf("GetOrCompute v2 failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected version bump to recompute, got %d calls", calls)
	}
}

// TestSingleFlight verifies N concurrent callers on one key trigger exactly
// one computation and all observe the same record.
func TestSingleFlight(t *testing.T) {
	cache := setupTestCache(t)
	ctx := context.Background()

	const n = 16
	var computes int32
	started := make(chan struct{})

	compute := func(ctx context.Context) ([]models.TimedUnit, error) {
		atomic.AddInt32(&computes, 1)
		// Hold the flight open until every goroutine has launched.
		<-started
		return unitsFixture(), nil
	}

	var wg sync.WaitGroup
	records := make([]*models.AnalysisRecord, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = cache.GetOrCompute(ctx, "fpX", models.MethodVLM, 1, compute)
		}(i)
	}
	close(started)
	wg.Wait()

	if got := atomic.LoadInt32(&computes); got != 1 {
		t.Errorf("Expected exactly 1 compute invocation, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Caller %d failed: %v", i, errs[i])
		}
		if string(records[i].Payload) != string(records[0].Payload) {
			t.Errorf("Caller %d observed a different record", i)
		}
	}
}

// TestDistinctKeysIndependent verifies different keys do not serialize on
// each other.
func TestDistinctKeysIndependent(t *testing.T) {
	cache := setupTestCache(t)
	ctx := context.Background()

	release := make(chan struct{})
	slow := func(ctx context.Context) ([]models.TimedUnit, error) {
		<-release
		return unitsFixture(), nil
	}
	fast := func(ctx context.Context) ([]models.TimedUnit, error) {
		return unitsFixture(), nil
	}

	done := make(chan struct{})
	go func() {
		cache.GetOrCompute(ctx, "slow-fp", models.MethodASR, 1, slow)
		close(done)
	}()

	// While slow-fp is in flight, another fingerprint completes freely.
	if _, err := cache.GetOrCompute(ctx, "fast-fp", models.MethodASR, 1, fast); err != nil {
		t.Fatalf("Independent key blocked or failed: %v", err)
	}

	close(release)
	<-done
}

func TestComputeFailureNotCached(t *testing.T) {
	cache := setupTestCache(t)
	ctx := context.Background()

	calls := 0
	failing := func(ctx context.Context) ([]models.TimedUnit, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("asr backend unavailable")
		}
		return unitsFixture(), nil
	}

	_, err := cache.GetOrCompute(ctx, "fpF", models.MethodASR, 1, failing)
	var ae *models.AnalysisError
	if !errors.As(err, &ae) {
		t.Fatalf("Expected AnalysisError, got %v", err)
	}
	if ae.Method != models.MethodASR || ae.Fingerprint != "fpF" {
		t.Errorf("Error must name method and fingerprint: %+v", ae)
	}

	// No negative caching: the next call retries and succeeds.
	rec, err := cache.GetOrCompute(ctx, "fpF", models.MethodASR, 1, failing)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if rec == nil || calls != 2 {
		t.Errorf("Expected retry to recompute (calls=%d)", calls)
	}
}

func TestInvalidateForcesRecompute(t *testing.T) {
	cache := setupTestCache(t)
	ctx := context.Background()

	calls := 0
	compute := func(ctx context.Context) ([]models.TimedUnit, error) {
		calls++
		return unitsFixture(), nil
	}

	if _, err := cache.GetOrCompute(ctx, "fpI", models.MethodVLM, 1, compute); err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if err := cache.Invalidate("fpI", models.MethodVLM); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := cache.GetOrCompute(ctx, "fpI", models.MethodVLM, 1, compute); err != nil {
		t.Fatalf("GetOrCompute after invalidate failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected recompute after invalidation, got %d calls", calls)
	}
}
