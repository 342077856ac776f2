package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func JobReportKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s:report", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// AuditReportKey holds the most recent scheduled consistency audit.
const AuditReportKey = "audit:latest"
