package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hivegate/hivegate/internal/auth"
	"github.com/hivegate/hivegate/internal/domain"
)

// errorEnvelope is the single error shape every endpoint returns.
type errorEnvelope struct {
	Status  int        `json:"status"`
	Success bool       `json:"success"`
	Error   errorOuter `json:"error"`
}

type errorOuter struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{
		Status:  status,
		Success: false,
		Error:   errorOuter{Code: code, Message: message},
	})
}

// writeDomainError maps the gateway's error taxonomy onto HTTP. Upstream
// errors keep their extracted provider message; everything else uses the
// sentinel's text.
func writeDomainError(w http.ResponseWriter, err error) {
	var uerr *domain.UpstreamError

	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrModelNotFound):
		writeError(w, http.StatusBadRequest, "model_not_found", domain.ErrModelNotFound.Error())
	case errors.Is(err, domain.ErrInvalidAPIKey):
		writeError(w, http.StatusUnauthorized, "invalid_api_key", domain.ErrInvalidAPIKey.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
	case errors.Is(err, domain.ErrQuotaExceeded):
		writeError(w, http.StatusPaymentRequired, "insufficient_balance", domain.ErrQuotaExceeded.Error())
	case errors.Is(err, domain.ErrPaidBalanceRequired):
		writeError(w, http.StatusPaymentRequired, "paid_balance_required", domain.ErrPaidBalanceRequired.Error())
	case errors.Is(err, domain.ErrModelNotAllowed):
		writeError(w, http.StatusForbidden, "model_not_allowed", domain.ErrModelNotAllowed.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "endpoint disabled")
	case errors.Is(err, domain.ErrRateLimitExceeded):
		writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", domain.ErrRateLimitExceeded.Error())
	case errors.Is(err, domain.ErrUpstreamTimeout):
		writeError(w, http.StatusGatewayTimeout, "upstream_timeout", domain.ErrUpstreamTimeout.Error())
	case errors.Is(err, domain.ErrCircuitOpen):
		writeError(w, http.StatusBadGateway, "provider_unavailable", domain.ErrCircuitOpen.Error())
	case errors.As(err, &uerr):
		writeError(w, upstreamStatus(uerr.Status), "upstream_error", uerr.Message)
	case errors.Is(err, domain.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account_not_found", domain.ErrAccountNotFound.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// upstreamStatus surfaces a provider client error under its own status
// so a caller can tell a provider 429 from a gateway fault. Provider
// server errors and anything outside the taxonomy collapse to 502.
func upstreamStatus(status int) int {
	switch status {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusPaymentRequired,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusTooManyRequests:
		return status
	default:
		return http.StatusBadGateway
	}
}
