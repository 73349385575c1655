package analysis

import "errors"

var (
	// ErrNotReady means results were requested before the analysis
	// reached a terminal status.
	ErrNotReady = errors.New("analysis is not finished yet")

	// ErrAnalysisFailed means the analysis reached the failed status;
	// results will never be available.
	ErrAnalysisFailed = errors.New("analysis failed")
)
