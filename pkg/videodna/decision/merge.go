package decision

import (
	"sort"
	"strings"

	"github.com/himanishpuri/VideoDNA/pkg/models"
)

// silentGapSec is the minimum speech gap that gets its own context unit when
// the frame shows activity.
const silentGapSec = 3.0

// BuildContextUnits fuses the ASR transcript with visual descriptions into
// one ordered unit list for scoring. Speech units carry the visual context
// that overlaps them; speech gaps longer than silentGapSec with visual
// activity become silent_action units.
func BuildContextUnits(transcript, visuals []models.TimedUnit) []models.TimedUnit {
	speech := append([]models.TimedUnit(nil), transcript...)
	frames := append([]models.TimedUnit(nil), visuals...)
	sort.SliceStable(speech, func(i, j int) bool { return speech[i].Start < speech[j].Start })
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Start < frames[j].Start })

	var merged []models.TimedUnit
	lastSpeechEnd := 0.0

	for _, s := range speech {
		// Gap filling: visual-only spans between sentences.
		if s.Start-lastSpeechEnd > silentGapSec {
			if ctx := visualsWithin(frames, lastSpeechEnd, s.Start); ctx != "" {
				merged = append(merged, models.TimedUnit{
					Text:   "[silent action]",
					Start:  lastSpeechEnd,
					End:    s.Start,
					Kind:   models.UnitSilentAction,
					Visual: ctx,
				})
			}
		}

		merged = append(merged, models.TimedUnit{
			Text:   s.Text,
			Start:  s.Start,
			End:    s.End,
			Kind:   models.UnitSpeech,
			Visual: visualsWithin(frames, s.Start, s.End),
		})
		lastSpeechEnd = s.End
	}

	// A fully silent video still yields scoreable units.
	if len(speech) == 0 {
		for _, f := range frames {
			merged = append(merged, models.TimedUnit{
				Text:  f.Text,
				Start: f.Start,
				End:   f.End,
				Kind:  models.UnitVisual,
			})
		}
	}

	return merged
}

// visualsWithin joins the descriptions of frames whose start falls inside
// [from, to).
func visualsWithin(frames []models.TimedUnit, from, to float64) string {
	var parts []string
	for _, f := range frames {
		if f.Start >= from && f.Start < to && strings.TrimSpace(f.Text) != "" {
			parts = append(parts, strings.TrimSpace(f.Text))
		}
	}
	return strings.Join(parts, " ")
}
