package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func AnalysisStatusKey(analysisID uuid.UUID) string {
	return fmt.Sprintf("analysis:status:%s", analysisID)
}

func FingerprintKey(fingerprint string) string {
	return fmt.Sprintf("report:fp:%s", fingerprint)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
