package main

import (
	"fmt"
	"regexp"

	"github.com/himanishpuri/VideoDNA/pkg/models"
)

// Upload limits
const (
	// MaxUploadBytes caps multipart video uploads (1 GiB)
	MaxUploadBytes = 1 << 30

	// MaxSearchResults caps the top-k a client may request
	MaxSearchResults = 100
)

var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// isValidFingerprint checks the SHA-256 hex form of an asset fingerprint
func isValidFingerprint(fp string) bool {
	return fingerprintPattern.MatchString(fp)
}

// AssetDTO represents a pooled asset in API responses
type AssetDTO struct {
	Fingerprint  string  `json:"fingerprint"`
	OriginalName string  `json:"original_name"`
	SourceURL    string  `json:"source_url,omitempty"`
	DurationSec  float64 `json:"duration_sec"`
	SizeBytes    int64   `json:"size_bytes"`
	RefCount     int     `json:"ref_count"`
}

func assetDTO(a *models.Asset) AssetDTO {
	return AssetDTO{
		Fingerprint:  a.Fingerprint,
		OriginalName: a.OriginalName,
		SourceURL:    a.SourceURL,
		DurationSec:  a.DurationSec,
		SizeBytes:    a.SizeBytes,
		RefCount:     a.RefCount,
	}
}

// ListAssetsResponse is the response for GET /api/assets
type ListAssetsResponse struct {
	Assets []AssetDTO `json:"assets"`
	Count  int        `json:"count"`
}

// IngestResponse reports the result of pooling a video
type IngestResponse struct {
	Message string   `json:"message"`
	Created bool     `json:"created"`
	Asset   AssetDTO `json:"asset"`
}

// IngestURLRequest is the request body for POST /api/assets/url
type IngestURLRequest struct {
	URL string `json:"url"`
}

// Validate checks if the request is valid
func (r *IngestURLRequest) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// AnalyzeResponse summarizes cached analysis results per method
type AnalyzeResponse struct {
	Fingerprint string         `json:"fingerprint"`
	UnitCounts  map[string]int `json:"unit_counts"`
}

// SegmentDTO represents a decided segment in API responses
type SegmentDTO struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Score  int     `json:"score"`
	Reason string  `json:"reason,omitempty"`
	Text   string  `json:"text,omitempty"`
}

func segmentDTOs(segments []models.Segment) []SegmentDTO {
	out := make([]SegmentDTO, len(segments))
	for i, s := range segments {
		out[i] = SegmentDTO{
			Start:  s.Start,
			End:    s.End,
			Score:  s.Score,
			Reason: s.Reason,
			Text:   s.Text,
		}
	}
	return out
}

// DecideRequest is the request body for POST /api/assets/{fp}/decide
type DecideRequest struct {
	Instruction string  `json:"instruction"`
	MinScore    *int    `json:"min_score,omitempty"`
	MergeGapSec float64 `json:"merge_gap_sec,omitempty"`
	BudgetSec   float64 `json:"budget_sec,omitempty"`
}

// Validate checks if the request is valid
func (r *DecideRequest) Validate() error {
	if r.Instruction == "" {
		return fmt.Errorf("instruction is required")
	}
	if r.MinScore != nil && (*r.MinScore < models.MinSegmentScore || *r.MinScore > models.MaxSegmentScore) {
		return fmt.Errorf("min_score must be between %d and %d", models.MinSegmentScore, models.MaxSegmentScore)
	}
	if r.MergeGapSec < 0 || r.BudgetSec < 0 {
		return fmt.Errorf("merge_gap_sec and budget_sec must not be negative")
	}
	return nil
}

// DecideResponse is the response for a decision run
type DecideResponse struct {
	Fingerprint string       `json:"fingerprint"`
	Segments    []SegmentDTO `json:"segments"`
	Count       int          `json:"count"`
}

// ExportRequest is the request body for POST /api/assets/{fp}/export
type ExportRequest struct {
	Segments []SegmentDTO `json:"segments"`
	Output   string       `json:"output"`
}

// Validate checks if the request is valid
func (r *ExportRequest) Validate() error {
	if len(r.Segments) == 0 {
		return fmt.Errorf("segments are required")
	}
	if r.Output == "" {
		return fmt.Errorf("output is required")
	}
	for _, s := range r.Segments {
		if s.Start < 0 || s.Start >= s.End {
			return fmt.Errorf("invalid segment span [%.2f,%.2f]", s.Start, s.End)
		}
	}
	return nil
}

// ExportResponse reports the exported file
type ExportResponse struct {
	Message string `json:"message"`
	Output  string `json:"output"`
	Count   int    `json:"count"`
}

// AddToLibraryRequest is the request body for POST /api/libraries/{name}/assets
type AddToLibraryRequest struct {
	Fingerprint string  `json:"fingerprint"`
	Instruction string  `json:"instruction"`
	BudgetSec   float64 `json:"budget_sec,omitempty"`
}

// Validate checks if the request is valid
func (r *AddToLibraryRequest) Validate() error {
	if !isValidFingerprint(r.Fingerprint) {
		return fmt.Errorf("fingerprint must be 64 lowercase hex characters")
	}
	if r.Instruction == "" {
		return fmt.Errorf("instruction is required")
	}
	return nil
}

// LibraryDTO represents a library in API responses
type LibraryDTO struct {
	Name       string `json:"name"`
	EmbedModel string `json:"embed_model"`
}

// ListLibrariesResponse is the response for GET /api/libraries
type ListLibrariesResponse struct {
	Libraries []LibraryDTO `json:"libraries"`
	Count     int          `json:"count"`
}

// SearchResultDTO represents one search hit
type SearchResultDTO struct {
	Fingerprint string     `json:"fingerprint"`
	Segment     SegmentDTO `json:"segment"`
	Similarity  float64    `json:"similarity"`
}

// SearchResponse is the response for GET /api/libraries/{name}/search
type SearchResponse struct {
	Results []SearchResultDTO `json:"results"`
	Count   int               `json:"count"`
}

// MetricsResponse provides server health and pool metrics
type MetricsResponse struct {
	Status       string `json:"status"`
	DatabasePath string `json:"database_path"`
	AssetCount   int    `json:"asset_count"`
	LibraryCount int    `json:"library_count"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
