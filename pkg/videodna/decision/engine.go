// Package decision converts raw analysis output plus a user directive into a
// ranked, non-overlapping, duration-bounded segment list (the edit list).
package decision

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/himanishpuri/VideoDNA/pkg/logger"
	"github.com/himanishpuri/VideoDNA/pkg/models"
)

// Scorer is the LLM collaborator: one call per decision, treated as a pure
// function of (context units, instruction).
type Scorer interface {
	Score(ctx context.Context, units []models.TimedUnit, instruction string) ([]models.Candidate, error)
}

// Options tune one decision run.
type Options struct {
	MinScore    int     // candidates below this are dropped
	MergeGapSec float64 // segments closer than this merge
	BudgetSec   float64 // total output duration cap, 0 = unlimited
	DurationSec float64 // asset duration, upper clamp for times
}

// DefaultOptions returns the engine defaults: keep candidates scoring at
// least 5, merge gaps under half a second, no budget.
func DefaultOptions(durationSec float64) Options {
	return Options{
		MinScore:    5,
		MergeGapSec: 0.5,
		DurationSec: durationSec,
	}
}

// Score clamp bounds: values this far outside the scale are treated as
// garbage rather than clamped.
const (
	minPlausibleScore = -2
	maxPlausibleScore = 15
)

// Engine scores, filters, merges and budgets candidate segments.
type Engine struct {
	scorer Scorer
	log    *logger.Logger
}

func NewEngine(scorer Scorer) *Engine {
	return &Engine{scorer: scorer, log: logger.GetLogger()}
}

// Decide runs the full pipeline for one asset. On scorer failure it returns
// a DecisionError and no partial result.
func (e *Engine) Decide(ctx context.Context, fingerprint string, records map[string]*models.AnalysisRecord, instruction string, opts Options) ([]models.Segment, error) {
	units, err := contextUnitsFromRecords(records)
	if err != nil {
		return nil, &models.DecisionError{Fingerprint: fingerprint, Err: err}
	}
	if len(units) == 0 {
		e.log.Warnf("No analysis units for %s, nothing to decide", fingerprint)
		return nil, nil
	}

	candidates, err := e.scorer.Score(ctx, units, instruction)
	if err != nil {
		return nil, &models.DecisionError{Fingerprint: fingerprint, Err: err}
	}
	e.log.Infof("Scorer returned %d candidates for %s", len(candidates), fingerprint)

	segments := e.normalize(candidates, units, opts)
	segments = filterByScore(segments, opts.MinScore)
	segments = mergeAdjacent(segments, opts.MergeGapSec)
	segments = applyBudget(segments, opts.BudgetSec)

	sort.SliceStable(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })
	e.log.Infof("Decision for %s: %d segments", fingerprint, len(segments))
	return segments, nil
}

// contextUnitsFromRecords decodes the ASR and VLM payloads and fuses them.
// Unknown methods are passed through as extra visual signals.
func contextUnitsFromRecords(records map[string]*models.AnalysisRecord) ([]models.TimedUnit, error) {
	var transcript, visuals []models.TimedUnit
	for method, rec := range records {
		if rec == nil {
			continue
		}
		units, err := rec.Units()
		if err != nil {
			return nil, err
		}
		if method == models.MethodASR {
			transcript = append(transcript, units...)
		} else {
			visuals = append(visuals, units...)
		}
	}
	if len(transcript) == 0 && len(visuals) == 0 {
		return nil, nil
	}
	return BuildContextUnits(transcript, visuals), nil
}

// normalize coerces loosely-typed candidates into bounded segments at the
// boundary: plausible out-of-range scores are clamped, garbage is dropped
// with a logged reason, times are clamped to [0, duration].
func (e *Engine) normalize(candidates []models.Candidate, units []models.TimedUnit, opts Options) []models.Segment {
	out := make([]models.Segment, 0, len(candidates))
	for _, c := range candidates {
		if math.IsNaN(c.Start) || math.IsNaN(c.End) || math.IsNaN(c.Score) {
			e.log.Warnf("Dropping candidate with non-numeric fields: %+v", c)
			continue
		}
		if c.Score < minPlausibleScore || c.Score > maxPlausibleScore {
			e.log.Warnf("Dropping candidate with implausible score %.1f (%.1f-%.1f)", c.Score, c.Start, c.End)
			continue
		}

		score := int(math.Round(c.Score))
		if score < models.MinSegmentScore {
			score = models.MinSegmentScore
		}
		if score > models.MaxSegmentScore {
			score = models.MaxSegmentScore
		}

		start, end := c.Start, c.End
		if start < 0 {
			start = 0
		}
		if opts.DurationSec > 0 && end > opts.DurationSec {
			end = opts.DurationSec
		}
		if start >= end {
			e.log.Warnf("Dropping candidate with empty span %.1f-%.1f", c.Start, c.End)
			continue
		}

		text, sources := spanContext(units, start, end)
		out = append(out, models.Segment{
			Start:   start,
			End:     end,
			Score:   score,
			Reason:  c.Reason,
			Text:    text,
			Sources: sources,
		})
	}
	return out
}

// spanContext derives the retrieval text for a span: the speech it covers,
// falling back to visual descriptions for silent footage.
func spanContext(units []models.TimedUnit, start, end float64) (string, []string) {
	var speech, visual []string
	kinds := map[string]bool{}
	for _, u := range units {
		if u.End <= start || u.Start >= end {
			continue
		}
		kinds[u.Kind] = true
		switch u.Kind {
		case models.UnitSpeech:
			speech = append(speech, u.Text)
			if u.Visual != "" {
				visual = append(visual, u.Visual)
			}
		default:
			if u.Visual != "" {
				visual = append(visual, u.Visual)
			} else if u.Text != "" && u.Kind == models.UnitVisual {
				visual = append(visual, u.Text)
			}
		}
	}

	text := strings.Join(speech, " ")
	if strings.TrimSpace(text) == "" {
		text = strings.Join(visual, " ")
	}

	sources := make([]string, 0, len(kinds))
	for k := range kinds {
		sources = append(sources, k)
	}
	sort.Strings(sources)
	return strings.TrimSpace(text), sources
}

func filterByScore(segments []models.Segment, minScore int) []models.Segment {
	out := segments[:0]
	for _, s := range segments {
		if s.Score >= minScore {
			out = append(out, s)
		}
	}
	return out
}

// mergeAdjacent collapses overlapping or near-adjacent segments (gap at most
// tolerance) into one: union of the time range, maximum score, the
// higher-scored reason. Input order does not matter; ties go to the earlier
// start.
func mergeAdjacent(segments []models.Segment, tolerance float64) []models.Segment {
	if len(segments) < 2 {
		return segments
	}
	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].Start != segments[j].Start {
			return segments[i].Start < segments[j].Start
		}
		return segments[i].End < segments[j].End
	})

	out := []models.Segment{segments[0]}
	for _, s := range segments[1:] {
		cur := &out[len(out)-1]
		if s.Start > cur.End+tolerance {
			out = append(out, s)
			continue
		}

		// Overlap or near-adjacency: merge into cur.
		if s.End > cur.End {
			cur.End = s.End
		}
		if s.Score > cur.Score {
			cur.Score = s.Score
			cur.Reason = s.Reason
		}
		if s.Text != "" && !strings.Contains(cur.Text, s.Text) {
			cur.Text = strings.TrimSpace(cur.Text + " " + s.Text)
		}
		cur.Sources = unionSorted(cur.Sources, s.Sources)
	}
	return out
}

// applyBudget greedily keeps the highest-scored segments within the duration
// budget. The top candidate is always included; when it alone is longer than
// the budget its end is trimmed to fit.
func applyBudget(segments []models.Segment, budgetSec float64) []models.Segment {
	if budgetSec <= 0 || len(segments) == 0 {
		return segments
	}

	byScore := append([]models.Segment(nil), segments...)
	sort.SliceStable(byScore, func(i, j int) bool {
		if byScore[i].Score != byScore[j].Score {
			return byScore[i].Score > byScore[j].Score
		}
		return byScore[i].Start < byScore[j].Start
	})

	var out []models.Segment
	total := 0.0
	for _, s := range byScore {
		d := s.Duration()
		if len(out) == 0 && d > budgetSec {
			s.End = s.Start + budgetSec
			out = append(out, s)
			total = budgetSec
			continue
		}
		if total+d > budgetSec {
			continue
		}
		out = append(out, s)
		total += d
	}
	return out
}

func unionSorted(a, b []string) []string {
	seen := map[string]bool{}
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		seen[s] = true
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Validate checks the final-list invariants: every segment inside
// [0, duration], start-ordered, non-overlapping.
func Validate(segments []models.Segment, durationSec float64) error {
	for i, s := range segments {
		if s.Start < 0 || s.Start >= s.End {
			return errors.New("segment with empty or negative span")
		}
		if durationSec > 0 && s.End > durationSec {
			return errors.New("segment past asset duration")
		}
		if i > 0 && s.Start < segments[i-1].End {
			return errors.New("segments overlap or are unordered")
		}
	}
	return nil
}
