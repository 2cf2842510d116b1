package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func ApprovalStatusKey(approvalID uuid.UUID) string {
	return fmt.Sprintf("approval:%s", approvalID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func UploadListKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("uploads:%s", tenantID)
}
