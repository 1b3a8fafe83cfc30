package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/himanishpuri/VideoDNA/pkg/logger"
	"github.com/himanishpuri/VideoDNA/pkg/models"
	"github.com/himanishpuri/VideoDNA/pkg/utils"
	"github.com/himanishpuri/VideoDNA/pkg/videodna"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service videodna.Service
	config  *ServerConfig
	log     videodna.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	ExportDir      string
	AllowedOrigins []string
}

// NewServer creates a new server instance
func NewServer(service videodna.Service, config *ServerConfig) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     logger.GetLogger(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps taxonomy errors onto HTTP status codes
func statusFor(err error) int {
	var nf *videodna.NotFoundError
	if errors.As(err, &nf) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "VideoDNA API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":        "GET /health",
			"metrics":       "GET /api/health/metrics",
			"assets":        "GET /api/assets",
			"ingestFile":    "POST /api/assets",
			"ingestURL":     "POST /api/assets/url",
			"getAsset":      "GET /api/assets/{fingerprint}",
			"reclaimAsset":  "DELETE /api/assets/{fingerprint}",
			"analyze":       "POST /api/assets/{fingerprint}/analyze",
			"decide":        "POST /api/assets/{fingerprint}/decide",
			"export":        "POST /api/assets/{fingerprint}/export",
			"libraries":     "GET /api/libraries",
			"addToLibrary":  "POST /api/libraries/{name}/assets",
			"removeFromLib": "DELETE /api/libraries/{name}/assets/{fingerprint}",
			"resetLibrary":  "POST /api/libraries/{name}/reset",
			"search":        "GET /api/libraries/{name}/search?q=...&k=...",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	assets, err := s.service.ListAssets()
	if err != nil {
		s.log.Errorf("Failed to get asset count: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}
	libs, err := s.service.ListLibraries()
	if err != nil {
		s.log.Errorf("Failed to get library count: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:       "healthy",
		DatabasePath: s.config.DBPath,
		AssetCount:   len(assets),
		LibraryCount: len(libs),
	})
}

// handleListAssets handles GET /api/assets
func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.service.ListAssets()
	if err != nil {
		s.log.Errorf("Failed to list assets: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve assets")
		return
	}

	dtos := make([]AssetDTO, len(assets))
	for i := range assets {
		dtos[i] = assetDTO(&assets[i])
	}
	s.respondJSON(w, http.StatusOK, ListAssetsResponse{Assets: dtos, Count: len(dtos)})
}

// handleIngestFile handles POST /api/assets (multipart file upload)
func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		s.log.Errorf("Failed to get video file: %v", err)
		s.respondError(w, http.StatusBadRequest, "video file is required")
		return
	}
	defer file.Close()

	// Save to temporary file
	tempFile := filepath.Join(os.TempDir(), fmt.Sprintf("upload_%s_%s", utils.GenerateUUID(), filepath.Base(header.Filename)))
	out, err := os.Create(tempFile)
	if err != nil {
		s.log.Errorf("Failed to create temp file: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to process upload")
		return
	}
	defer out.Close()
	defer os.Remove(tempFile)

	if _, err := io.Copy(out, file); err != nil {
		s.log.Errorf("Failed to save file: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to save uploaded file")
		return
	}
	out.Close()

	s.log.Infof("Ingesting uploaded video: %s", header.Filename)
	a, created, err := s.service.IngestVideo(ctx, tempFile, filepath.Base(header.Filename))
	if err != nil {
		s.log.Errorf("Failed to ingest video: %v", err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to ingest video: %v", err))
		return
	}

	message := "Video already pooled"
	status := http.StatusOK
	if created {
		message = "Video ingested successfully"
		status = http.StatusCreated
	}
	s.respondJSON(w, status, IngestResponse{Message: message, Created: created, Asset: assetDTO(a)})
}

// handleIngestURL handles POST /api/assets/url
func (s *Server) handleIngestURL(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Minute)
	defer cancel()

	var req IngestURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Errorf("Failed to decode request: %v", err)
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.log.Infof("Ingesting video from URL: %s", req.URL)
	a, created, err := s.service.IngestFromURL(ctx, req.URL)
	if err != nil {
		s.log.Errorf("Failed to ingest from URL: %v", err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to ingest from URL: %v", err))
		return
	}

	message := "Video already pooled"
	status := http.StatusOK
	if created {
		message = "Video ingested successfully"
		status = http.StatusCreated
	}
	s.respondJSON(w, status, IngestResponse{Message: message, Created: created, Asset: assetDTO(a)})
}

// handleGetAsset handles GET /api/assets/{fingerprint}
func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request, fingerprint string) {
	a, err := s.service.GetAsset(fingerprint)
	if err != nil {
		s.respondError(w, statusFor(err), fmt.Sprintf("Asset %s not found", fingerprint))
		return
	}
	s.respondJSON(w, http.StatusOK, assetDTO(a))
}

// handleReclaimAsset handles DELETE /api/assets/{fingerprint}
func (s *Server) handleReclaimAsset(w http.ResponseWriter, r *http.Request, fingerprint string) {
	if err := s.service.ReclaimAsset(fingerprint); err != nil {
		s.log.Errorf("Failed to reclaim asset %s: %v", fingerprint, err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to reclaim asset: %v", err))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message":     "Asset reclaimed",
		"fingerprint": fingerprint,
	})
}

// handleAnalyze handles POST /api/assets/{fingerprint}/analyze
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, fingerprint string) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	s.log.Infof("Analyzing asset %s", fingerprint)
	records, err := s.service.AnalyzeVideo(ctx, fingerprint)
	if err != nil {
		s.log.Errorf("Failed to analyze %s: %v", fingerprint, err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to analyze: %v", err))
		return
	}

	counts := make(map[string]int, len(records))
	for method, rec := range records {
		units, err := rec.Units()
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "Failed to decode analysis payload")
			return
		}
		counts[method] = len(units)
	}
	s.respondJSON(w, http.StatusOK, AnalyzeResponse{Fingerprint: fingerprint, UnitCounts: counts})
}

// handleDecide handles POST /api/assets/{fingerprint}/decide
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request, fingerprint string) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := decideOptionsFrom(&req)
	segments, err := s.service.Decide(ctx, fingerprint, req.Instruction, opts)
	if err != nil {
		s.log.Errorf("Decision failed for %s: %v", fingerprint, err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Decision failed: %v", err))
		return
	}

	s.respondJSON(w, http.StatusOK, DecideResponse{
		Fingerprint: fingerprint,
		Segments:    segmentDTOs(segments),
		Count:       len(segments),
	})
}

// decideOptionsFrom maps request tuning fields onto engine options, leaving
// defaults in place for everything unset.
func decideOptionsFrom(req *DecideRequest) *videodna.DecideOptions {
	if req.MinScore == nil && req.MergeGapSec == 0 && req.BudgetSec == 0 {
		return nil
	}
	opts := videodna.DecideOptions{
		MinScore:    5,
		MergeGapSec: 0.5,
		BudgetSec:   req.BudgetSec,
	}
	if req.MinScore != nil {
		opts.MinScore = *req.MinScore
	}
	if req.MergeGapSec > 0 {
		opts.MergeGapSec = req.MergeGapSec
	}
	return &opts
}

// handleExport handles POST /api/assets/{fingerprint}/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, fingerprint string) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	segments := make([]models.Segment, len(req.Segments))
	for i, dto := range req.Segments {
		segments[i] = models.Segment{Start: dto.Start, End: dto.End, Score: dto.Score, Reason: dto.Reason}
	}

	// Exports land inside the configured export dir only
	outputPath := filepath.Join(s.config.ExportDir, filepath.Base(req.Output))
	if err := s.service.ExportClips(ctx, fingerprint, segments, outputPath); err != nil {
		s.log.Errorf("Export failed for %s: %v", fingerprint, err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Export failed: %v", err))
		return
	}

	s.respondJSON(w, http.StatusOK, ExportResponse{
		Message: "Export complete",
		Output:  outputPath,
		Count:   len(segments),
	})
}

// handleListLibraries handles GET /api/libraries
func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := s.service.ListLibraries()
	if err != nil {
		s.log.Errorf("Failed to list libraries: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve libraries")
		return
	}

	dtos := make([]LibraryDTO, len(libs))
	for i, l := range libs {
		dtos[i] = LibraryDTO{Name: l.Name, EmbedModel: l.EmbedModel}
	}
	s.respondJSON(w, http.StatusOK, ListLibrariesResponse{Libraries: dtos, Count: len(dtos)})
}

// handleAddToLibrary handles POST /api/libraries/{name}/assets
func (s *Server) handleAddToLibrary(w http.ResponseWriter, r *http.Request, library string) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req AddToLibraryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opts *videodna.DecideOptions
	if req.BudgetSec > 0 {
		opts = &videodna.DecideOptions{MinScore: 5, MergeGapSec: 0.5, BudgetSec: req.BudgetSec}
	}

	s.log.Infof("Adding %s to library %s", req.Fingerprint, library)
	segments, err := s.service.AddToLibrary(ctx, library, req.Fingerprint, req.Instruction, opts)
	if err != nil {
		s.log.Errorf("Failed to add to library: %v", err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to add to library: %v", err))
		return
	}

	s.respondJSON(w, http.StatusCreated, DecideResponse{
		Fingerprint: req.Fingerprint,
		Segments:    segmentDTOs(segments),
		Count:       len(segments),
	})
}

// handleRemoveFromLibrary handles DELETE /api/libraries/{name}/assets/{fingerprint}
func (s *Server) handleRemoveFromLibrary(w http.ResponseWriter, r *http.Request, library, fingerprint string) {
	if err := s.service.RemoveFromLibrary(library, fingerprint); err != nil {
		s.log.Errorf("Failed to remove from library: %v", err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to remove from library: %v", err))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message":     "Asset removed from library",
		"library":     library,
		"fingerprint": fingerprint,
	})
}

// handleResetLibrary handles POST /api/libraries/{name}/reset
func (s *Server) handleResetLibrary(w http.ResponseWriter, r *http.Request, library string) {
	if err := s.service.ResetLibrary(library); err != nil {
		s.log.Errorf("Failed to reset library: %v", err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to reset library: %v", err))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message": "Library reset; members must be re-registered",
		"library": library,
	})
}

// handleSearch handles GET /api/libraries/{name}/search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, library string) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	topK := 10
	if kStr := r.URL.Query().Get("k"); kStr != "" {
		k, err := strconv.Atoi(kStr)
		if err != nil || k < 1 || k > MaxSearchResults {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("k must be between 1 and %d", MaxSearchResults))
			return
		}
		topK = k
	}

	results, err := s.service.Search(ctx, library, query, topK)
	if err != nil {
		s.log.Errorf("Search failed in %s: %v", library, err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Search failed: %v", err))
		return
	}

	dtos := make([]SearchResultDTO, len(results))
	for i, res := range results {
		dtos[i] = SearchResultDTO{
			Fingerprint: res.Fingerprint,
			Segment: SegmentDTO{
				Start:  res.Segment.Start,
				End:    res.Segment.End,
				Score:  res.Segment.Score,
				Reason: res.Segment.Reason,
				Text:   res.Segment.Text,
			},
			Similarity: res.Similarity,
		}
	}
	s.respondJSON(w, http.StatusOK, SearchResponse{Results: dtos, Count: len(dtos)})
}

// handleAssets routes requests to /api/assets
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListAssets(w, r)
	case http.MethodPost:
		s.handleIngestFile(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleAsset routes requests to /api/assets/{fingerprint}[/op]
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/assets/")
	if rest == "url" {
		if r.Method != http.MethodPost {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.handleIngestURL(w, r)
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	fingerprint := parts[0]
	if !isValidFingerprint(fingerprint) {
		s.respondError(w, http.StatusBadRequest, "fingerprint must be 64 lowercase hex characters")
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetAsset(w, r, fingerprint)
		case http.MethodDelete:
			s.handleReclaimAsset(w, r, fingerprint)
		default:
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	switch parts[1] {
	case "analyze":
		s.handleAnalyze(w, r, fingerprint)
	case "decide":
		s.handleDecide(w, r, fingerprint)
	case "export":
		s.handleExport(w, r, fingerprint)
	default:
		s.respondError(w, http.StatusNotFound, "Unknown asset operation")
	}
}

// handleLibraries routes requests to /api/libraries and /api/libraries/...
func (s *Server) handleLibraries(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/libraries")
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		if r.Method != http.MethodGet {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.handleListLibraries(w, r)
		return
	}

	parts := strings.Split(rest, "/")
	library := parts[0]
	if library == "" {
		s.respondError(w, http.StatusBadRequest, "Library name required")
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "search" && r.Method == http.MethodGet:
		s.handleSearch(w, r, library)
	case len(parts) == 2 && parts[1] == "reset" && r.Method == http.MethodPost:
		s.handleResetLibrary(w, r, library)
	case len(parts) == 2 && parts[1] == "assets" && r.Method == http.MethodPost:
		s.handleAddToLibrary(w, r, library)
	case len(parts) == 3 && parts[1] == "assets" && r.Method == http.MethodDelete:
		if !isValidFingerprint(parts[2]) {
			s.respondError(w, http.StatusBadRequest, "fingerprint must be 64 lowercase hex characters")
			return
		}
		s.handleRemoveFromLibrary(w, r, library, parts[2])
	default:
		s.respondError(w, http.StatusNotFound, "Unknown library operation")
	}
}
