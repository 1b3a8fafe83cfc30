package hash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

// TestHashFileDeterministic verifies identical bytes hash identically
// regardless of the filename.
func TestHashFileDeterministic(t *testing.T) {
	content := []byte("fake video payload 0123456789")

	a := writeTestFile(t, "clip_a.mp4", content)
	b := writeTestFile(t, "completely_different_name.mov", content)

	hashA, err := HashFile(a)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	hashB, err := HashFile(b)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}

	if hashA != hashB {
		t.Errorf("Expected identical fingerprints, got %s and %s", hashA, hashB)
	}

	if len(hashA) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(hashA))
	}
	if strings.ToLower(hashA) != hashA {
		t.Error("Expected lowercase hex digest")
	}
}

// TestHashFileDistinct verifies different content yields different hashes.
func TestHashFileDistinct(t *testing.T) {
	a := writeTestFile(t, "a.mp4", []byte("content one"))
	b := writeTestFile(t, "b.mp4", []byte("content two"))

	hashA, _ := HashFile(a)
	hashB, _ := HashFile(b)

	if hashA == hashB {
		t.Error("Different content must not collide")
	}
}

func TestHashReader(t *testing.T) {
	content := []byte("reader content")
	path := writeTestFile(t, "r.mp4", content)

	fromFile, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	fromReader, err := HashReader(strings.NewReader(string(content)))
	if err != nil {
		t.Fatalf("HashReader failed: %v", err)
	}

	if fromFile != fromReader {
		t.Errorf("HashFile and HashReader disagree: %s vs %s", fromFile, fromReader)
	}
}

func TestHashFileMissing(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "nope.mp4")); err == nil {
		t.Error("Expected error for missing file")
	}
}
