package models

import "fmt"

// The error taxonomy. Every failure names the offending fingerprint or
// library and the failing stage so a caller can re-run only that stage.

// StorageError is a persistence failure. Fatal to the current operation,
// retryable once the environment is fixed.
type StorageError struct {
	Op          string // failing stage, e.g. "ingest", "link"
	Fingerprint string
	Err         error
}

func (e *StorageError) Error() string {
	if e.Fingerprint == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s (asset %s): %v", e.Op, e.Fingerprint, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// AnalysisError is a failed ASR/VLM collaborator call. No cache entry is
// persisted; the next call retries.
type AnalysisError struct {
	Fingerprint string
	Method      string
	Err         error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis %s failed (asset %s): %v", e.Method, e.Fingerprint, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// DecisionError is a failed or unusable LLM scoring call. Partial results
// are never returned alongside it.
type DecisionError struct {
	Fingerprint string
	Err         error
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("decision failed (asset %s): %v", e.Fingerprint, e.Err)
}

func (e *DecisionError) Unwrap() error { return e.Err }

// IndexError is a failed embedding call or a version-inconsistent library
// index. It blocks new registrations; existing entries are untouched.
type IndexError struct {
	Library     string
	Fingerprint string
	Err         error
}

func (e *IndexError) Error() string {
	if e.Fingerprint == "" {
		return fmt.Sprintf("index failed (library %s): %v", e.Library, e.Err)
	}
	return fmt.Sprintf("index failed (library %s, asset %s): %v", e.Library, e.Fingerprint, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown fingerprint, library or record reference.
type NotFoundError struct {
	Kind string // "asset", "library", "record"
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Ref)
}
