// Package videodna is the top-level facade over the video knowledge
// pipeline: content-addressed asset pooling, cached ASR/VLM analysis,
// LLM-driven segment decisions, clip export, and embedding-backed library
// search.
package videodna

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/himanishpuri/VideoDNA/pkg/logger"
	"github.com/himanishpuri/VideoDNA/pkg/models"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/ai"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/analysis"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/asset"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/decision"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/library"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/media"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/storage"
)

// DecideOptions tunes the decision pipeline. A nil value means the defaults
// for the asset's duration.
type DecideOptions = decision.Options

// videoService is the default implementation of the Service interface.
type videoService struct {
	db         *storage.DBClient
	store      *asset.Store
	cache      *analysis.Cache
	engine     *decision.Engine
	index      *library.Index
	transcribe Transcriber
	vision     VisionAnalyzer
	slicer     Slicer
	log        Logger
	config     *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	// Set default logger if none provided
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	// Create or use provided storage
	db := cfg.DB
	if db == nil {
		var err error
		db, err = storage.NewDBClientWithPath(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	// One OpenAI client backs every collaborator that was not injected.
	if cfg.Transcriber == nil || cfg.Vision == nil || cfg.Scorer == nil || cfg.Embedder == nil {
		aiClient, err := ai.NewClient(cfg.AI)
		if err != nil {
			return nil, fmt.Errorf("failed to create AI client: %w", err)
		}
		if cfg.Transcriber == nil {
			cfg.Transcriber = aiClient
		}
		if cfg.Vision == nil {
			cfg.Vision = aiClient
		}
		if cfg.Scorer == nil {
			cfg.Scorer = aiClient
		}
		if cfg.Embedder == nil {
			cfg.Embedder = aiClient
		}
	}
	if cfg.Slicer == nil {
		cutter, err := media.NewCutter(cfg.ClipCacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create clip cache: %w", err)
		}
		cfg.Slicer = cutter
	}

	if cfg.Prober == nil {
		cfg.Prober = media.ProbeDuration
	}
	if cfg.Extractor == nil {
		cfg.Extractor = media.ExtractAudio
	}
	store, err := asset.NewStore(db, cfg.PoolDir, cfg.Prober)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset pool: %w", err)
	}

	return &videoService{
		db:         db,
		store:      store,
		cache:      analysis.NewCache(db),
		engine:     decision.NewEngine(cfg.Scorer),
		index:      library.NewIndex(db, cfg.Embedder),
		transcribe: cfg.Transcriber,
		vision:     cfg.Vision,
		slicer:     cfg.Slicer,
		log:        cfg.Logger,
		config:     cfg,
	}, nil
}

// IngestVideo pools a local video file. Identical bytes under any filename
// resolve to the same asset; the bool reports whether a new one was created.
// originalName is kept as the asset's display name; when empty, the file's
// base name is used. Callers ingesting from a temp path pass the name the
// content arrived under.
func (s *videoService) IngestVideo(ctx context.Context, path, originalName string) (*models.Asset, bool, error) {
	s.log.Infof("Ingesting video: %s", path)
	if originalName == "" {
		originalName = filepath.Base(path)
	}
	return s.store.Ingest(ctx, path, originalName, "")
}

// IngestFromURL downloads a remote video and pools it. The download is
// temporary; only the pooled copy survives.
func (s *videoService) IngestFromURL(ctx context.Context, url string) (*models.Asset, bool, error) {
	s.log.Infof("Downloading video: %s", url)

	dl, err := media.DownloadVideo(ctx, url, s.config.TempDir)
	if err != nil {
		return nil, false, fmt.Errorf("download failed: %w", err)
	}
	defer os.Remove(dl.Path)

	return s.store.Ingest(ctx, dl.Path, dl.Title, dl.URL)
}

// AnalyzeVideo runs both analysis methods for the asset, reusing cached
// results. The map is keyed by method name.
func (s *videoService) AnalyzeVideo(ctx context.Context, fingerprint string) (map[string]*models.AnalysisRecord, error) {
	a, err := s.store.Resolve(fingerprint)
	if err != nil {
		return nil, err
	}

	records := make(map[string]*models.AnalysisRecord, 2)

	// 1. Speech recognition over the extracted audio track
	asrRec, err := s.cache.GetOrCompute(ctx, fingerprint, models.MethodASR, models.ASRVersion, func(ctx context.Context) ([]models.TimedUnit, error) {
		audioPath := filepath.Join(s.config.TempDir, fingerprint+".wav")
		if err := s.config.Extractor(ctx, a.StoragePath, audioPath); err != nil {
			return nil, err
		}
		defer os.Remove(audioPath)
		return s.transcribe.Transcribe(ctx, audioPath)
	})
	if err != nil {
		return nil, err
	}
	records[models.MethodASR] = asrRec

	// 2. Frame descriptions at fixed sampling intervals
	vlmRec, err := s.cache.GetOrCompute(ctx, fingerprint, models.MethodVLM, models.VLMVersion, func(ctx context.Context) ([]models.TimedUnit, error) {
		times := media.KeyframeTimes(a.DurationSec, s.config.KeyframeIntervalSec)
		return s.vision.Describe(ctx, a.StoragePath, times)
	})
	if err != nil {
		return nil, err
	}
	records[models.MethodVLM] = vlmRec

	return records, nil
}

// InvalidateAnalysis marks cached results of one method stale so the next
// analysis recomputes them.
func (s *videoService) InvalidateAnalysis(fingerprint, method string) error {
	return s.cache.Invalidate(fingerprint, method)
}

// Decide analyzes the asset and turns the timeline into final segments
// steered by the instruction.
func (s *videoService) Decide(ctx context.Context, fingerprint, instruction string, opts *DecideOptions) ([]models.Segment, error) {
	a, err := s.store.Resolve(fingerprint)
	if err != nil {
		return nil, err
	}

	records, err := s.AnalyzeVideo(ctx, fingerprint)
	if err != nil {
		return nil, err
	}

	o := decision.DefaultOptions(a.DurationSec)
	if opts != nil {
		o = *opts
		if o.DurationSec == 0 {
			o.DurationSec = a.DurationSec
		}
	}

	segments, err := s.engine.Decide(ctx, fingerprint, records, instruction, o)
	if err != nil {
		return nil, err
	}
	s.log.Infof("Decision for %s produced %d segments", fingerprint, len(segments))
	return segments, nil
}

// ExportClips cuts each segment out of the asset and concatenates them, in
// order, into outputPath.
func (s *videoService) ExportClips(ctx context.Context, fingerprint string, segments []models.Segment, outputPath string) error {
	if len(segments) == 0 {
		return fmt.Errorf("no segments to export")
	}

	a, err := s.store.Resolve(fingerprint)
	if err != nil {
		return err
	}

	clips := make([]string, 0, len(segments))
	for _, seg := range segments {
		clip, err := s.slicer.Cut(ctx, a.StoragePath, seg.Start, seg.End)
		if err != nil {
			return fmt.Errorf("cutting [%.1f,%.1f]: %w", seg.Start, seg.End, err)
		}
		clips = append(clips, clip)
	}

	if err := s.slicer.Concat(ctx, clips, outputPath); err != nil {
		return fmt.Errorf("concatenating %d clips: %w", len(clips), err)
	}
	s.log.Infof("Exported %d segments of %s to %s", len(segments), fingerprint, outputPath)
	return nil
}

// AddToLibrary decides segments for the asset and registers them in the
// library's retrieval index, linking the asset's reference count.
func (s *videoService) AddToLibrary(ctx context.Context, library, fingerprint, instruction string, opts *DecideOptions) ([]models.Segment, error) {
	segments, err := s.Decide(ctx, fingerprint, instruction, opts)
	if err != nil {
		return nil, err
	}

	if err := s.store.Link(fingerprint, library); err != nil {
		return nil, err
	}
	if err := s.index.Register(ctx, library, fingerprint, segments); err != nil {
		s.store.Unlink(fingerprint, library) // Rollback
		return nil, err
	}

	return segments, nil
}

// RemoveFromLibrary drops the asset's index entries and its membership. The
// pooled copy stays until an explicit reclaim.
func (s *videoService) RemoveFromLibrary(library, fingerprint string) error {
	if err := s.index.Unregister(library, fingerprint); err != nil {
		return err
	}
	return s.store.Unlink(fingerprint, library)
}

// ResetLibrary wipes a library's index and re-records the live embedding
// model. Members must be re-registered.
func (s *videoService) ResetLibrary(library string) error {
	return s.index.Reset(library)
}

// Search answers a natural-language query against one library.
func (s *videoService) Search(ctx context.Context, library, query string, topK int) ([]models.SearchResult, error) {
	return s.index.Search(ctx, library, query, topK)
}

// GetAsset resolves a pooled asset by fingerprint.
func (s *videoService) GetAsset(fingerprint string) (*models.Asset, error) {
	return s.store.Resolve(fingerprint)
}

// ListAssets returns every pooled asset.
func (s *videoService) ListAssets() ([]models.Asset, error) {
	return s.store.List()
}

// ListLibraries returns every known library.
func (s *videoService) ListLibraries() ([]storage.Library, error) {
	return s.db.ListLibraries()
}

// ReclaimAsset physically deletes an unreferenced asset.
func (s *videoService) ReclaimAsset(fingerprint string) error {
	return s.store.Reclaim(fingerprint)
}

// Close releases all resources held by the service.
func (s *videoService) Close() error {
	return s.db.Close()
}
