package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAPIKey       = errors.New("invalid API key")
	ErrModelNotFound       = errors.New("model not found")
	ErrModelNotAllowed     = errors.New("model not allowed for this key")
	ErrQuotaExceeded       = errors.New("insufficient pollen balance")
	ErrPaidBalanceRequired = errors.New("this model requires a paid balance; tier balance cannot be used")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrUpstreamTimeout     = errors.New("upstream request timed out")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrCircuitOpen         = errors.New("provider temporarily unavailable")
)

// UpstreamError carries a non-2xx provider reply remapped into the
// gateway's taxonomy. Message is the best-effort extraction from the
// provider's own error body.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status=%d message=%s", e.Status, e.Message)
}
