package models

import (
	"encoding/json"
	"time"
)

// Analysis method identifiers. The version constants are bumped whenever the
// corresponding pipeline changes in a way that invalidates cached output.
const (
	MethodASR = "asr"
	MethodVLM = "vlm"

	ASRVersion = 1
	VLMVersion = 1
)

// Unit kinds produced by the analysis collaborators and the merger.
const (
	UnitSpeech       = "speech"
	UnitVisual       = "visual"
	UnitSilentAction = "silent_action"
)

// Asset is one deduplicated video in the pool. There is exactly one Asset row
// and one physical copy per fingerprint, however many times the content is
// submitted or how many libraries reference it.
type Asset struct {
	Fingerprint  string    // SHA-256 of the raw bytes, hex encoded
	StoragePath  string    // canonical location inside the pool
	OriginalName string    // display name from the first ingestion
	SourceURL    string    // where the video was downloaded from, if any
	DurationSec  float64   // probed media duration
	SizeBytes    int64     // file size of the pooled copy
	RefCount     int       // number of library memberships
	FirstSeenAt  time.Time // first ingestion time
}

// TimedUnit is one timestamped token of raw analysis output: an ASR sentence,
// a keyframe description, or a merged silent-action span.
type TimedUnit struct {
	Text   string  `json:"text"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Kind   string  `json:"kind"`
	Visual string  `json:"visual,omitempty"` // visual context attached to speech
}

// AnalysisRecord is the cached, immutable result of one analysis method run
// against one asset. Payload holds the ordered TimedUnit list, JSON encoded.
type AnalysisRecord struct {
	Fingerprint   string
	Method        string
	MethodVersion int
	Payload       []byte
	ComputedAt    time.Time
}

// Units decodes the payload back into its ordered unit list.
func (r *AnalysisRecord) Units() ([]TimedUnit, error) {
	var units []TimedUnit
	if err := json.Unmarshal(r.Payload, &units); err != nil {
		return nil, err
	}
	return units, nil
}

// EncodeUnits builds an AnalysisRecord payload from a unit list.
func EncodeUnits(units []TimedUnit) ([]byte, error) {
	return json.Marshal(units)
}

// Candidate is a scored span proposed by the LLM scorer, before boundary
// validation. Scores outside the segment bounds are clamped when plausible,
// otherwise the candidate is dropped.
type Candidate struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Segment score bounds.
const (
	MinSegmentScore = 0
	MaxSegmentScore = 10
)

// Segment is a validated, scored time range within an asset. In a final
// decision list segments are non-overlapping and ordered by Start.
type Segment struct {
	Start   float64  `json:"start"`
	End     float64  `json:"end"`
	Score   int      `json:"score"`
	Reason  string   `json:"reason"`
	Text    string   `json:"text"`              // retrieval text: spanning speech, fallback visual
	Sources []string `json:"sources,omitempty"` // contributing signal kinds
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// SearchResult is one ranked hit from a library query.
type SearchResult struct {
	Fingerprint string  `json:"fingerprint"`
	Segment     Segment `json:"segment"`
	Similarity  float64 `json:"similarity"`
}
