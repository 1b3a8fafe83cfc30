package videodna

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/himanishpuri/VideoDNA/pkg/models"
)

type fakeTranscriber struct {
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) ([]models.TimedUnit, error) {
	f.calls++
	return []models.TimedUnit{
		{Text: "today we cook rice", Start: 5, End: 15, Kind: models.UnitSpeech},
		{Text: "now we explain the technique", Start: 20, End: 30, Kind: models.UnitSpeech},
	}, nil
}

type fakeVision struct {
	calls int
}

func (f *fakeVision) Describe(ctx context.Context, videoPath string, times []float64) ([]models.TimedUnit, error) {
	f.calls++
	return []models.TimedUnit{
		{Text: "a pot on the stove", Start: 6, End: 8, Kind: models.UnitVisual},
	}, nil
}

type fakeScorer struct {
	calls int
}

func (f *fakeScorer) Score(ctx context.Context, units []models.TimedUnit, instruction string) ([]models.Candidate, error) {
	f.calls++
	return []models.Candidate{
		{Start: 5, End: 15, Score: 8, Reason: "cooking demo"},
		{Start: 20, End: 30, Score: 6, Reason: "explanation"},
		{Start: 40, End: 45, Score: 2, Reason: "filler"},
	}, nil
}

type fakeEmbedder struct{}

func (f *fakeEmbedder) ModelID() string { return "fake-embed-1" }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		vec := make([]float64, 2)
		lower := strings.ToLower(t)
		if strings.Contains(lower, "cook") {
			vec[0] = 1
		}
		if strings.Contains(lower, "explain") {
			vec[1] = 1
		}
		if vec[0] == 0 && vec[1] == 0 {
			vec[0], vec[1] = 0.1, 0.1
		}
		out[i] = vec
	}
	return out, nil
}

type fakeSlicer struct {
	dir     string
	cuts    [][2]float64
	concats int
}

func (f *fakeSlicer) Cut(ctx context.Context, assetPath string, startSec, endSec float64) (string, error) {
	f.cuts = append(f.cuts, [2]float64{startSec, endSec})
	clip := filepath.Join(f.dir, fmt.Sprintf("clip_%d.mp4", len(f.cuts)))
	if err := os.WriteFile(clip, []byte("clip"), 0644); err != nil {
		return "", err
	}
	return clip, nil
}

func (f *fakeSlicer) Concat(ctx context.Context, clipPaths []string, outputPath string) error {
	f.concats++
	return os.WriteFile(outputPath, []byte(fmt.Sprintf("%d clips", len(clipPaths))), 0644)
}

type fixtures struct {
	transcriber *fakeTranscriber
	vision      *fakeVision
	scorer      *fakeScorer
	slicer      *fakeSlicer
}

func setupTestService(t *testing.T) (Service, *fixtures) {
	t.Helper()

	root := t.TempDir()
	fx := &fixtures{
		transcriber: &fakeTranscriber{},
		vision:      &fakeVision{},
		scorer:      &fakeScorer{},
		slicer:      &fakeSlicer{dir: root},
	}

	svc, err := NewService(
		WithDBPath(filepath.Join(root, "test.sqlite3")),
		WithPoolDir(filepath.Join(root, "pool")),
		WithTempDir(root),
		WithTranscriber(fx.transcriber),
		WithVisionAnalyzer(fx.vision),
		WithScorer(fx.scorer),
		WithEmbedder(&fakeEmbedder{}),
		WithSlicer(fx.slicer),
		WithDurationProber(func(ctx context.Context, path string) (float64, error) {
			return 60, nil
		}),
		WithAudioExtractor(func(ctx context.Context, videoPath, audioPath string) error {
			return os.WriteFile(audioPath, []byte("RIFF"), 0644)
		}),
	)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	t.Cleanup(func() {
		svc.Close()
	})
	return svc, fx
}

func writeTestVideo(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test video: %v", err)
	}
	return path
}

func TestServicePipeline(t *testing.T) {
	svc, fx := setupTestService(t)
	ctx := context.Background()

	t.Log("Step 1: Ingesting the same content under two names...")
	a, created, err := svc.IngestVideo(ctx, writeTestVideo(t, "lecture.mp4", "fake video bytes"), "")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if !created {
		t.Fatal("First ingest must create the asset")
	}
	b, created, err := svc.IngestVideo(ctx, writeTestVideo(t, "copy_of_lecture.mp4", "fake video bytes"), "")
	if err != nil {
		t.Fatalf("Re-ingest failed: %v", err)
	}
	if created || b.Fingerprint != a.Fingerprint {
		t.Fatalf("Identical bytes must resolve to one asset: created=%v", created)
	}
	assets, err := svc.ListAssets()
	if err != nil || len(assets) != 1 {
		t.Fatalf("Expected 1 pooled asset, got %d (err %v)", len(assets), err)
	}

	t.Log("Step 2: Analyzing (twice, second run must hit the cache)...")
	records, err := svc.AnalyzeVideo(ctx, a.Fingerprint)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected ASR and VLM records, got %d", len(records))
	}
	if _, err := svc.AnalyzeVideo(ctx, a.Fingerprint); err != nil {
		t.Fatalf("Second analyze failed: %v", err)
	}
	if fx.transcriber.calls != 1 || fx.vision.calls != 1 {
		t.Errorf("Expected 1 call per collaborator, got asr=%d vlm=%d", fx.transcriber.calls, fx.vision.calls)
	}

	t.Log("Step 3: Deciding segments...")
	segments, err := svc.Decide(ctx, a.Fingerprint, "find the cooking part", nil)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("Expected 2 segments above threshold, got %d: %+v", len(segments), segments)
	}
	if !strings.Contains(segments[0].Text, "cook") {
		t.Errorf("First segment should carry the covered speech, got %q", segments[0].Text)
	}

	t.Log("Step 4: Adding to a library...")
	if _, err := svc.AddToLibrary(ctx, "demo", a.Fingerprint, "find the cooking part", nil); err != nil {
		t.Fatalf("AddToLibrary failed: %v", err)
	}
	linked, err := svc.GetAsset(a.Fingerprint)
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if linked.RefCount != 1 {
		t.Errorf("Expected refcount 1 after linking, got %d", linked.RefCount)
	}
	libs, err := svc.ListLibraries()
	if err != nil || len(libs) != 1 || libs[0].Name != "demo" {
		t.Fatalf("Expected library demo, got %+v (err %v)", libs, err)
	}

	t.Log("Step 5: Searching the library...")
	results, err := svc.Search(ctx, "demo", "cooking", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Expected search results")
	}
	if results[0].Fingerprint != a.Fingerprint || !strings.Contains(results[0].Segment.Text, "cook") {
		t.Errorf("Unexpected top result: %+v", results[0])
	}

	t.Log("Step 6: Exporting clips...")
	outPath := filepath.Join(t.TempDir(), "export.mp4")
	if err := svc.ExportClips(ctx, a.Fingerprint, segments, outPath); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(fx.slicer.cuts) != len(segments) || fx.slicer.concats != 1 {
		t.Errorf("Expected %d cuts and 1 concat, got %d/%d", len(segments), len(fx.slicer.cuts), fx.slicer.concats)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Errorf("Export output missing: %v", err)
	}

	t.Log("Step 7: Removing from the library and reclaiming...")
	if err := svc.RemoveFromLibrary("demo", a.Fingerprint); err != nil {
		t.Fatalf("RemoveFromLibrary failed: %v", err)
	}
	unlinked, _ := svc.GetAsset(a.Fingerprint)
	if unlinked.RefCount != 0 {
		t.Fatalf("Expected refcount 0 after unlink, got %d", unlinked.RefCount)
	}
	if err := svc.ReclaimAsset(a.Fingerprint); err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}
	var nf *NotFoundError
	if _, err := svc.GetAsset(a.Fingerprint); !errors.As(err, &nf) {
		t.Errorf("Expected NotFoundError after reclaim, got %v", err)
	}
}

func TestInvalidateAnalysisForcesRecompute(t *testing.T) {
	svc, fx := setupTestService(t)
	ctx := context.Background()

	a, _, err := svc.IngestVideo(ctx, writeTestVideo(t, "talk.mp4", "other bytes"), "")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if _, err := svc.AnalyzeVideo(ctx, a.Fingerprint); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if err := svc.InvalidateAnalysis(a.Fingerprint, models.MethodASR); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := svc.AnalyzeVideo(ctx, a.Fingerprint); err != nil {
		t.Fatalf("Analyze after invalidate failed: %v", err)
	}

	if fx.transcriber.calls != 2 {
		t.Errorf("Invalidated method must recompute, got %d transcriber calls", fx.transcriber.calls)
	}
	if fx.vision.calls != 1 {
		t.Errorf("Untouched method must stay cached, got %d vision calls", fx.vision.calls)
	}
}

func TestIngestMissingFile(t *testing.T) {
	svc, _ := setupTestService(t)

	_, _, err := svc.IngestVideo(context.Background(), "/nonexistent/video.mp4", "")
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("Expected StorageError, got %v", err)
	}
}

func TestRemoveFromUnknownLibraryIsHarmless(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	a, _, err := svc.IngestVideo(ctx, writeTestVideo(t, "clip.mp4", "clip bytes"), "")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if err := svc.RemoveFromLibrary("ghost", a.Fingerprint); err != nil {
		t.Fatalf("Removing a non-member must be a no-op, got %v", err)
	}
}

// TestIngestKeepsProvidedDisplayName verifies an explicitly passed display
// name survives onto the asset even when the content is staged under a
// throwaway path, as the upload handler does.
func TestIngestKeepsProvidedDisplayName(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	staged := writeTestVideo(t, "upload_7f3a_staging.mp4", "uploaded bytes")
	a, _, err := svc.IngestVideo(ctx, staged, "How To Cook Rice.mp4")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if a.OriginalName != "How To Cook Rice.mp4" {
		t.Errorf("Expected the provided display name, got %q", a.OriginalName)
	}

	b, _, err := svc.IngestVideo(ctx, writeTestVideo(t, "plain.mp4", "plain bytes"), "")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if b.OriginalName != "plain.mp4" {
		t.Errorf("Expected the file base name fallback, got %q", b.OriginalName)
	}
}
