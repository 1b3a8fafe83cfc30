package library

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/himanishpuri/VideoDNA/pkg/models"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/storage"
)

// fakeEmbedder maps known keywords onto fixed orthogonal directions so
// similarity ranking is predictable.
type fakeEmbedder struct {
	model string
	calls int
}

func (f *fakeEmbedder) ModelID() string {
	if f.model == "" {
		return "fake-embed-1"
	}
	return f.model
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	f.calls++
	out := make([][]float64, len(texts))
	for i, t := range texts {
		vec := make([]float64, 3)
		lower := strings.ToLower(t)
		if strings.Contains(lower, "cook") {
			vec[0] = 1
		}
		if strings.Contains(lower, "solder") {
			vec[1] = 1
		}
		if strings.Contains(lower, "explain") {
			vec[2] = 1
		}
		if vec[0] == 0 && vec[1] == 0 && vec[2] == 0 {
			vec[0], vec[1], vec[2] = 0.1, 0.1, 0.1
		}
		out[i] = vec
	}
	return out, nil
}

type failingEmbedder struct{ fakeEmbedder }

func (f *failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, errors.New("embedding service down")
}

func setupTestIndex(t *testing.T, embed Embedder) (*Index, *storage.DBClient) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test_index.sqlite3")
	client, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		t.Fatalf("Failed to create DB client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return NewIndex(client, embed), client
}

func segs(texts ...string) []models.Segment {
	out := make([]models.Segment, len(texts))
	for i, txt := range texts {
		out[i] = models.Segment{
			Start: float64(i * 10),
			End:   float64(i*10 + 5),
			Score: 7,
			Text:  txt,
		}
	}
	return out
}

func TestRegisterAndSearch(t *testing.T) {
	idx, _ := setupTestIndex(t, &fakeEmbedder{})
	ctx := context.Background()

	if err := idx.Register(ctx, "demo", "fpA", segs("how to cook rice", "explaining the recipe")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	results, err := idx.Search(ctx, "demo", "cooking tips", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if !strings.Contains(results[0].Segment.Text, "cook") {
		t.Errorf("Expected the cooking segment first, got %q", results[0].Segment.Text)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("Results must be ordered by descending similarity")
	}
}

// TestQueryIsolation verifies a search against one library never returns
// segments of assets only registered elsewhere.
func TestQueryIsolation(t *testing.T) {
	idx, _ := setupTestIndex(t, &fakeEmbedder{})
	ctx := context.Background()

	if err := idx.Register(ctx, "kitchen", "fpCook", segs("cook the onions")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := idx.Register(ctx, "workshop", "fpSolder", segs("solder the joint")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	results, err := idx.Search(ctx, "kitchen", "solder", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if r.Fingerprint == "fpSolder" {
			t.Error("Search leaked a segment from another library")
		}
	}
}

// TestUnregisterRoundTrip verifies removing an asset removes exactly its
// entries and no others.
func TestUnregisterRoundTrip(t *testing.T) {
	idx, client := setupTestIndex(t, &fakeEmbedder{})
	ctx := context.Background()

	if err := idx.Register(ctx, "demo", "fpA", segs("cook pasta")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := idx.Register(ctx, "demo", "fpB", segs("solder wires", "explain the circuit")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := idx.Unregister("demo", "fpA"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}

	entries, err := client.ListIndexEntries("demo")
	if err != nil {
		t.Fatalf("ListIndexEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected fpB's 2 entries to survive, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Fingerprint != "fpB" {
			t.Errorf("Unexpected surviving entry for %s", e.Fingerprint)
		}
	}
}

func TestRegisterIdempotentUpsert(t *testing.T) {
	idx, client := setupTestIndex(t, &fakeEmbedder{})
	ctx := context.Background()

	s := segs("explain the theorem")
	if err := idx.Register(ctx, "demo", "fpA", s); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := idx.Register(ctx, "demo", "fpA", s); err != nil {
		t.Fatalf("Re-register failed: %v", err)
	}

	entries, _ := client.ListIndexEntries("demo")
	if len(entries) != 1 {
		t.Errorf("Re-registration must upsert, got %d entries", len(entries))
	}
}

// TestRegisterReplacesPreviousSpans verifies a fresh decision with different
// spans fully supersedes the asset's earlier entries, so the index holds
// exactly the current segment set.
func TestRegisterReplacesPreviousSpans(t *testing.T) {
	idx, client := setupTestIndex(t, &fakeEmbedder{})
	ctx := context.Background()

	first := []models.Segment{
		{Start: 0, End: 5, Score: 7, Text: "cook the rice"},
		{Start: 10, End: 15, Score: 6, Text: "explain the heat"},
	}
	if err := idx.Register(ctx, "demo", "fpA", first); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	second := []models.Segment{
		{Start: 20, End: 30, Score: 8, Text: "cook the noodles"},
	}
	if err := idx.Register(ctx, "demo", "fpA", second); err != nil {
		t.Fatalf("Re-register failed: %v", err)
	}

	entries, err := client.ListIndexEntries("demo")
	if err != nil {
		t.Fatalf("ListIndexEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Superseded spans must be dropped, got %d entries", len(entries))
	}
	if entries[0].StartMs != 20000 || entries[0].EndMs != 30000 {
		t.Errorf("Expected only the new span, got [%d,%d]", entries[0].StartMs, entries[0].EndMs)
	}
}

// shiftingEmbedder swaps its model identity as a side effect of embedding,
// standing in for a model change that lands while a search is embedding its
// query.
type shiftingEmbedder struct {
	fakeEmbedder
	next string
}

func (s *shiftingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out, err := s.fakeEmbedder.Embed(ctx, texts)
	if s.next != "" {
		s.model = s.next
		s.next = ""
	}
	return out, err
}

// TestSearchRechecksModelAfterEmbedding verifies a model change landing while
// the query is being embedded blocks the search instead of comparing the
// query vector against entries from a different vector space.
func TestSearchRechecksModelAfterEmbedding(t *testing.T) {
	emb := &shiftingEmbedder{fakeEmbedder: fakeEmbedder{model: "embed-v1"}}
	idx, _ := setupTestIndex(t, emb)
	ctx := context.Background()

	if err := idx.Register(ctx, "demo", "fpA", segs("cook soup")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	emb.next = "embed-v2"
	_, err := idx.Search(ctx, "demo", "cook", 5)
	var ie *models.IndexError
	if !errors.As(err, &ie) {
		t.Fatalf("Expected IndexError when the model shifts mid-search, got %v", err)
	}
}

func TestEmbedderFailureBlocksRegistration(t *testing.T) {
	idx, client := setupTestIndex(t, &failingEmbedder{})
	ctx := context.Background()

	err := idx.Register(ctx, "demo", "fpA", segs("anything"))
	var ie *models.IndexError
	if !errors.As(err, &ie) {
		t.Fatalf("Expected IndexError, got %v", err)
	}
	if ie.Library != "demo" || ie.Fingerprint != "fpA" {
		t.Errorf("Error must name library and asset: %+v", ie)
	}

	entries, _ := client.ListIndexEntries("demo")
	if len(entries) != 0 {
		t.Error("No entries may be persisted on embedding failure")
	}
}

// TestModelChangeInvalidatesIndex verifies a changed embedding-model identity
// blocks registration and search until the library is reset.
func TestModelChangeInvalidatesIndex(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_model.sqlite3")
	client, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		t.Fatalf("Failed to create DB client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	v1 := NewIndex(client, &fakeEmbedder{model: "embed-v1"})
	ctx := context.Background()
	if err := v1.Register(ctx, "demo", "fpA", segs("cook soup")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	v2 := NewIndex(client, &fakeEmbedder{model: "embed-v2"})

	var ie *models.IndexError
	if err := v2.Register(ctx, "demo", "fpB", segs("solder pins")); !errors.As(err, &ie) {
		t.Fatalf("Expected IndexError on model mismatch, got %v", err)
	}
	if _, err := v2.Search(ctx, "demo", "cook", 5); !errors.As(err, &ie) {
		t.Fatalf("Expected IndexError on search with mismatched model, got %v", err)
	}

	// Existing entries are untouched until an explicit reset.
	entries, _ := client.ListIndexEntries("demo")
	if len(entries) != 1 {
		t.Fatalf("Mismatch must not destroy entries, got %d", len(entries))
	}

	if err := v2.Reset("demo"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := v2.Register(ctx, "demo", "fpB", segs("solder pins")); err != nil {
		t.Fatalf("Register after reset failed: %v", err)
	}
	if _, err := v2.Search(ctx, "demo", "solder", 5); err != nil {
		t.Fatalf("Search after reset failed: %v", err)
	}
}

func TestSearchUnknownLibrary(t *testing.T) {
	idx, _ := setupTestIndex(t, &fakeEmbedder{})

	_, err := idx.Search(context.Background(), "ghost", "anything", 5)
	var nf *models.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Expected NotFoundError, got %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float64{1, 0}, []float64{1, 0}); got != 1 {
		t.Errorf("Identical vectors should score 1, got %f", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("Orthogonal vectors should score 0, got %f", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{1}); got != 0 {
		t.Errorf("Mismatched lengths should score 0, got %f", got)
	}
}
