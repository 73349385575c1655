// Package engine wraps the LLM providers behind the AnalysisEngine
// interface. The rest of the system treats the engine as a black box:
// report text + query in, four persona sections out.
package engine

import "errors"

var (
	ErrEngineUnavailable = errors.New("analysis engine unavailable")
	ErrInferenceTimeout  = errors.New("analysis engine timeout")
	ErrRateLimited       = errors.New("analysis engine rate limited")
	ErrInvalidResponse   = errors.New("analysis engine returned invalid response")
)

// IsTransient reports whether an engine error is worth retrying.
// Invalid responses are not: the same request will fail the same way.
func IsTransient(err error) bool {
	return errors.Is(err, ErrEngineUnavailable) ||
		errors.Is(err, ErrInferenceTimeout) ||
		errors.Is(err, ErrRateLimited)
}
