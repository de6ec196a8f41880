// Package api is the HTTP surface: the OpenAI-compatible completion
// endpoints, the admin surface and health probes.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hivegate/hivegate/internal/auth"
	"github.com/hivegate/hivegate/internal/domain"
	"github.com/hivegate/hivegate/internal/gateway"
	"github.com/hivegate/hivegate/internal/telemetry"
)

type Handler struct {
	gateway *gateway.Gateway
	auth    *auth.Authenticator
	mux     *http.ServeMux
}

func NewHandler(gw *gateway.Gateway, authenticator *auth.Authenticator) *Handler {
	h := &Handler{
		gateway: gw,
		auth:    authenticator,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat/completions", h.chatCompletions)
	h.mux.HandleFunc("GET /v1/models", h.listModels)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (*domain.Account, bool) {
	account, err := h.auth.Authenticate(r.Context(), auth.ExtractBearerToken(r))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return account, true
}

func (h *Handler) chatCompletions(w http.ResponseWriter, r *http.Request) {
	account, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "messages is required")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model is required")
		return
	}

	if req.Stream {
		h.streamCompletion(w, r, account, req)
		return
	}

	resp, err := h.gateway.Complete(r.Context(), account, req)
	if err != nil {
		slog.Warn("completion failed",
			"account_id", account.ID,
			"model", req.Model,
			"trace_id", telemetry.GetTraceID(r.Context()),
			"error", err,
		)
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) streamCompletion(w http.ResponseWriter, r *http.Request, account *domain.Account, req domain.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	chunks, errs, err := h.gateway.CompleteStream(r.Context(), account, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range chunks {
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	if err := <-errs; err != nil {
		// Headers are committed; the best remaining signal is an error
		// event on the stream itself.
		slog.Warn("stream failed",
			"account_id", account.ID,
			"model", req.Model,
			"trace_id", telemetry.GetTraceID(r.Context()),
			"error", err,
		)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	account, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.gateway.Models(account))
}
