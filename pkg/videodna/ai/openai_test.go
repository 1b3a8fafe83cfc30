package ai

import (
	"strings"
	"testing"
)

func TestParseCandidates(t *testing.T) {
	raw := "```json\n" +
		`{"candidates":[{"start":1.5,"end":9,"score":8,"reason":"key insight"},{"start":12,"end":20,"score":5,"reason":"context"}]}` +
		"\n```"

	cands, err := parseCandidates(raw)
	if err != nil {
		t.Fatalf("parseCandidates failed: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(cands))
	}
	if cands[0].Start != 1.5 || cands[0].End != 9 || cands[0].Score != 8 {
		t.Errorf("Unexpected first candidate: %+v", cands[0])
	}
	if cands[1].Reason != "context" {
		t.Errorf("Unexpected reason: %q", cands[1].Reason)
	}
}

func TestParseCandidatesRejectsGarbage(t *testing.T) {
	if _, err := parseCandidates("I could not find any good segments."); err == nil {
		t.Fatal("Expected an error for non-JSON output")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{APIKey: "test"}
	cfg.applyDefaults()
	if cfg.ASRModel != DefaultASRModel || cfg.EmbedModel != DefaultEmbedModel {
		t.Errorf("Defaults not applied: %+v", cfg)
	}
}

func TestFallbackDetection(t *testing.T) {
	if !shouldFallbackJSONMode(errTest("response_format not supported")) {
		t.Error("response_format errors should trigger the JSON-mode fallback")
	}
	if shouldFallbackJSONMode(errTest("rate limit exceeded")) {
		t.Error("Unrelated errors must not trigger the fallback")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 500)
	if got := truncate(long, 200); len(got) != 203 {
		t.Errorf("Expected 203 chars, got %d", len(got))
	}
}
