package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hivegate/hivegate/internal/domain"
)

const maxErrorBodyBytes = 2048

// extractUpstreamError turns a non-2xx provider body into an
// UpstreamError with the most specific human message it can find.
// Providers disagree on envelopes: some nest under "error", some put
// "message" at the top level, some return plain text.
func extractUpstreamError(status int, body []byte) *domain.UpstreamError {
	if msg := extractMessage(body); msg != "" {
		return &domain.UpstreamError{Status: status, Message: msg}
	}

	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBodyBytes {
		text = text[:maxErrorBodyBytes]
	}
	if text == "" {
		text = http.StatusText(status)
	}
	return &domain.UpstreamError{Status: status, Message: text}
}

func extractMessage(body []byte) string {
	var envelope struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}

	if len(envelope.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var plain string
		if err := json.Unmarshal(envelope.Error, &plain); err == nil && plain != "" {
			return plain
		}
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	return envelope.Detail
}

// ErrorForStatus builds the error returned for a failed provider call.
func errorForResponse(provider string, status int, body []byte) error {
	uerr := extractUpstreamError(status, body)
	return fmt.Errorf("%s: %w", provider, uerr)
}
