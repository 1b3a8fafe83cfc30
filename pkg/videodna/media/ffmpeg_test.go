package media

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestKeyframeTimes(t *testing.T) {
	times := KeyframeTimes(10, 2)
	if len(times) != 5 {
		t.Fatalf("Expected 5 timestamps for 10s at 2s interval, got %d", len(times))
	}
	if times[0] != 0 || times[4] != 8 {
		t.Errorf("Unexpected sampling points: %v", times)
	}

	// A non-positive interval falls back to the default rather than looping
	// forever.
	if got := KeyframeTimes(4, 0); len(got) != 2 {
		t.Errorf("Expected default interval sampling, got %v", got)
	}

	if got := KeyframeTimes(0, 2); len(got) != 0 {
		t.Errorf("Zero duration must yield no samples, got %v", got)
	}
}

func TestClipPathIsSpanKeyed(t *testing.T) {
	c := &Cutter{CacheDir: t.TempDir()}

	p1 := c.clipPath("/pool/abc123.mp4", 1.5, 9.25)
	if filepath.Base(p1) != "abc123_1500_9250.mp4" {
		t.Errorf("Unexpected clip name: %s", filepath.Base(p1))
	}
	if !strings.HasPrefix(p1, c.CacheDir) {
		t.Errorf("Clip must live in the cache dir: %s", p1)
	}

	// Same asset, different span: different cache entry.
	p2 := c.clipPath("/pool/abc123.mp4", 1.5, 9.26)
	if p1 == p2 {
		t.Error("Distinct spans must map to distinct cache paths")
	}

	// Same span, same asset under another directory: same name.
	p3 := c.clipPath("/elsewhere/abc123.mp4", 1.5, 9.25)
	if filepath.Base(p1) != filepath.Base(p3) {
		t.Error("Clip names must depend on the asset name and span only")
	}
}
