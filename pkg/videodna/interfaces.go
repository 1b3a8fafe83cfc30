package videodna

import (
	"context"

	"github.com/himanishpuri/VideoDNA/pkg/models"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/storage"
)

type Service interface {
	IngestVideo(ctx context.Context, path, originalName string) (*models.Asset, bool, error)
	IngestFromURL(ctx context.Context, url string) (*models.Asset, bool, error)
	AnalyzeVideo(ctx context.Context, fingerprint string) (map[string]*models.AnalysisRecord, error)
	InvalidateAnalysis(fingerprint, method string) error
	Decide(ctx context.Context, fingerprint, instruction string, opts *DecideOptions) ([]models.Segment, error)
	ExportClips(ctx context.Context, fingerprint string, segments []models.Segment, outputPath string) error
	AddToLibrary(ctx context.Context, library, fingerprint, instruction string, opts *DecideOptions) ([]models.Segment, error)
	RemoveFromLibrary(library, fingerprint string) error
	ResetLibrary(library string) error
	Search(ctx context.Context, library, query string, topK int) ([]models.SearchResult, error)
	GetAsset(fingerprint string) (*models.Asset, error)
	ListAssets() ([]models.Asset, error)
	ListLibraries() ([]storage.Library, error)
	ReclaimAsset(fingerprint string) error
	Close() error
}

// Transcriber turns an audio file into timed speech units.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]models.TimedUnit, error)
}

// VisionAnalyzer describes sampled frames of a video as timed visual units.
type VisionAnalyzer interface {
	Describe(ctx context.Context, videoPath string, times []float64) ([]models.TimedUnit, error)
}

// SegmentScorer nominates scored candidate spans from the timeline.
type SegmentScorer interface {
	Score(ctx context.Context, units []models.TimedUnit, instruction string) ([]models.Candidate, error)
}

// Embedder maps texts into one vector space, identified by ModelID.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	ModelID() string
}

// AudioExtractor pulls the audio track of a video into a standalone file
// ahead of transcription.
type AudioExtractor func(ctx context.Context, videoPath, audioPath string) error

// Slicer is the physical cut/concat engine behind clip export.
type Slicer interface {
	Cut(ctx context.Context, assetPath string, startSec, endSec float64) (string, error)
	Concat(ctx context.Context, clipPaths []string, outputPath string) error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
