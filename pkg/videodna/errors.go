package videodna

import "github.com/himanishpuri/VideoDNA/pkg/models"

// Error taxonomy re-exports. Callers can errors.As against these without
// importing pkg/models.
type (
	StorageError  = models.StorageError
	AnalysisError = models.AnalysisError
	DecisionError = models.DecisionError
	IndexError    = models.IndexError
	NotFoundError = models.NotFoundError
)
