// Package library maintains per-library retrieval indexes over final
// segments and answers natural-language queries against them.
package library

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/himanishpuri/VideoDNA/pkg/logger"
	"github.com/himanishpuri/VideoDNA/pkg/models"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/storage"
)

// DB is the slice of the storage client the index needs.
type DB interface {
	EnsureLibrary(name, embedModel string) (*storage.Library, error)
	GetLibrary(name string) (*storage.Library, error)
	ResetLibraryModel(name, embedModel string) error
	ListLibraries() ([]storage.Library, error)
	ReplaceIndexEntries(library, fingerprint string, entries []storage.IndexEntry) error
	DeleteIndexEntries(library, fingerprint string) error
	ListIndexEntries(library string) ([]storage.IndexEntry, error)
}

// Embedder is the text-embedding collaborator. All vectors in one library
// share one embedding-model identity.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	ModelID() string
}

// Index is the library index plus query router. Mutations on a library are
// exclusive relative to searches of that library, so a search never sees a
// half-registered asset.
type Index struct {
	db    DB
	embed Embedder
	log   *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewIndex(db DB, embed Embedder) *Index {
	return &Index{
		db:    db,
		embed: embed,
		log:   logger.GetLogger(),
		locks: make(map[string]*sync.RWMutex),
	}
}

func (x *Index) lockFor(library string) *sync.RWMutex {
	x.mu.Lock()
	defer x.mu.Unlock()
	l, ok := x.locks[library]
	if !ok {
		l = &sync.RWMutex{}
		x.locks[library] = l
	}
	return l
}

// checkModel verifies the library's recorded embedding-model identity against
// the live embedder. A mismatch invalidates the whole index.
func (x *Index) checkModel(lib *storage.Library) error {
	if lib.EmbedModel != x.embed.ModelID() {
		return fmt.Errorf("embedding model changed (%s -> %s), re-registration required",
			lib.EmbedModel, x.embed.ModelID())
	}
	return nil
}

// Register embeds the given final segments and swaps them in as the asset's
// entry set for the library. Re-registering a fingerprint replaces all of
// its previous entries, so spans dropped by a fresh decision do not linger.
// Registration is blocked with an IndexError while the library's
// embedding-model identity disagrees with the live embedder.
func (x *Index) Register(ctx context.Context, library, fingerprint string, segments []models.Segment) error {
	if len(segments) == 0 {
		return nil
	}

	l := x.lockFor(library)
	l.Lock()
	defer l.Unlock()

	lib, err := x.db.EnsureLibrary(library, x.embed.ModelID())
	if err != nil {
		return &models.IndexError{Library: library, Fingerprint: fingerprint, Err: err}
	}
	if err := x.checkModel(lib); err != nil {
		return &models.IndexError{Library: library, Fingerprint: fingerprint, Err: err}
	}

	texts := make([]string, len(segments))
	for i, s := range segments {
		text := s.Text
		if text == "" {
			text = s.Reason
		}
		texts[i] = text
	}

	vectors, err := x.embed.Embed(ctx, texts)
	if err != nil {
		return &models.IndexError{Library: library, Fingerprint: fingerprint, Err: err}
	}
	if len(vectors) != len(segments) {
		return &models.IndexError{
			Library:     library,
			Fingerprint: fingerprint,
			Err:         fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(segments)),
		}
	}

	entries := make([]storage.IndexEntry, 0, len(segments))
	for i, s := range segments {
		blob, err := json.Marshal(vectors[i])
		if err != nil {
			return &models.IndexError{Library: library, Fingerprint: fingerprint, Err: err}
		}
		entries = append(entries, storage.IndexEntry{
			Library:     library,
			Fingerprint: fingerprint,
			StartMs:     toMs(s.Start),
			EndMs:       toMs(s.End),
			Score:       s.Score,
			Reason:      s.Reason,
			Text:        texts[i],
			Embedding:   string(blob),
		})
	}
	if err := x.db.ReplaceIndexEntries(library, fingerprint, entries); err != nil {
		return &models.IndexError{Library: library, Fingerprint: fingerprint, Err: err}
	}

	x.log.Infof("Registered %d segments of %s into library %s", len(entries), fingerprint, library)
	return nil
}

// Unregister removes exactly the given asset's entries from the library.
func (x *Index) Unregister(library, fingerprint string) error {
	l := x.lockFor(library)
	l.Lock()
	defer l.Unlock()

	if err := x.db.DeleteIndexEntries(library, fingerprint); err != nil {
		return &models.IndexError{Library: library, Fingerprint: fingerprint, Err: err}
	}
	x.log.Infof("Unregistered %s from library %s", fingerprint, library)
	return nil
}

// Reset wipes the library's entries and re-records the live embedding-model
// identity. Members must be re-registered afterwards.
func (x *Index) Reset(library string) error {
	l := x.lockFor(library)
	l.Lock()
	defer l.Unlock()

	if err := x.db.ResetLibraryModel(library, x.embed.ModelID()); err != nil {
		return &models.IndexError{Library: library, Err: err}
	}
	return nil
}

// Search embeds the query and returns the topK most similar segments of the
// library, ties broken by earliest start. Results never leak across
// libraries. The model check and the entry scan happen together under the
// read lock, so a concurrent Reset cannot swap the embedding model between
// the check and the scan.
func (x *Index) Search(ctx context.Context, library, query string, topK int) ([]models.SearchResult, error) {
	vectors, err := x.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, &models.IndexError{Library: library, Err: err}
	}
	queryVec := vectors[0]

	l := x.lockFor(library)
	l.RLock()
	lib, err := x.db.GetLibrary(library)
	if err != nil {
		l.RUnlock()
		return nil, &models.IndexError{Library: library, Err: err}
	}
	if lib == nil {
		l.RUnlock()
		return nil, &models.NotFoundError{Kind: "library", Ref: library}
	}
	if err := x.checkModel(lib); err != nil {
		l.RUnlock()
		return nil, &models.IndexError{Library: library, Err: err}
	}
	entries, err := x.db.ListIndexEntries(library)
	l.RUnlock()
	if err != nil {
		return nil, &models.IndexError{Library: library, Err: err}
	}

	results := make([]models.SearchResult, 0, len(entries))
	for _, e := range entries {
		var vec []float64
		if err := json.Unmarshal([]byte(e.Embedding), &vec); err != nil {
			x.log.Warnf("Skipping entry with unreadable embedding (library %s, asset %s)", library, e.Fingerprint)
			continue
		}
		results = append(results, models.SearchResult{
			Fingerprint: e.Fingerprint,
			Segment: models.Segment{
				Start:  fromMs(e.StartMs),
				End:    fromMs(e.EndMs),
				Score:  e.Score,
				Reason: e.Reason,
				Text:   e.Text,
			},
			Similarity: CosineSimilarity(queryVec, vec),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Segment.Start < results[j].Segment.Start
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// CosineSimilarity computes similarity between two vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func toMs(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}

func fromMs(ms int64) float64 {
	return float64(ms) / 1000
}
