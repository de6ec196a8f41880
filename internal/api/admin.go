package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hivegate/hivegate/internal/auth"
	"github.com/hivegate/hivegate/internal/events"
	"github.com/hivegate/hivegate/internal/ledger"
	"github.com/hivegate/hivegate/internal/metrics"
	"github.com/hivegate/hivegate/internal/repository"
)

// AdminHandler exposes the operational surface. The refill trigger and
// the account endpoints are guarded by separate shared secrets, so the
// scheduler's credential cannot mutate accounts.
type AdminHandler struct {
	refiller    *ledger.Refiller
	accounts    repository.AccountStore
	tiers       *ledger.TierSet
	refillAuth  *auth.SecretVerifier
	adminAuth   *auth.SecretVerifier
	events      events.Publisher
	environment string
	mux         *http.ServeMux
}

type AdminConfig struct {
	Refiller    *ledger.Refiller
	Accounts    repository.AccountStore
	Tiers       *ledger.TierSet
	RefillAuth  *auth.SecretVerifier
	AdminAuth   *auth.SecretVerifier
	Events      events.Publisher
	Environment string
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	h := &AdminHandler{
		refiller:    cfg.Refiller,
		accounts:    cfg.Accounts,
		tiers:       cfg.Tiers,
		refillAuth:  cfg.RefillAuth,
		adminAuth:   cfg.AdminAuth,
		events:      cfg.Events,
		environment: cfg.Environment,
		mux:         http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /admin/trigger-refill", h.triggerRefill)
	h.mux.HandleFunc("GET /admin/accounts/{id}", h.getAccount)
	h.mux.HandleFunc("POST /admin/accounts/{id}/tier", h.setTier)

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) verify(w http.ResponseWriter, r *http.Request, v *auth.SecretVerifier) bool {
	if err := v.Verify(auth.ExtractBearerToken(r)); err != nil {
		writeDomainError(w, err)
		return false
	}
	return true
}

func (h *AdminHandler) triggerRefill(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r, h.refillAuth) {
		return
	}

	result, err := h.refiller.Run(r.Context())
	if err != nil {
		slog.Error("tier refill failed", "error", err)
		metrics.RecordRefillRun("error")
		writeError(w, http.StatusInternalServerError, "refill_failed", "tier refill failed")
		return
	}

	if result.Skipped {
		metrics.RecordRefillRun("skipped")
	} else {
		metrics.RecordRefillRun("ok")
		metrics.RecordRefillAccounts("daily", result.DailyCount)
		metrics.RecordRefillAccounts("weekly", result.WeeklyCount)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Success bool `json:"success"`
		*ledger.Result
	}{Success: true, Result: result})
}

// accountView is the admin read shape; it never exposes the key hash.
type accountView struct {
	ID            string    `json:"id"`
	Tier          string    `json:"tier"`
	TierBalance   float64   `json:"tierBalance"`
	PackBalance   float64   `json:"packBalance"`
	CryptoBalance float64   `json:"cryptoBalance"`
	TotalBalance  float64   `json:"totalBalance"`
	LastTierGrant time.Time `json:"lastTierGrant"`
	AllowedModels []string  `json:"allowedModels,omitempty"`
	Enabled       bool      `json:"enabled"`
}

func (h *AdminHandler) getAccount(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r, h.adminAuth) {
		return
	}

	account, err := h.accounts.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accountView{
		ID:            account.ID,
		Tier:          account.Tier,
		TierBalance:   account.TierBalance,
		PackBalance:   account.PackBalance,
		CryptoBalance: account.CryptoBalance,
		TotalBalance:  account.TotalBalance(),
		LastTierGrant: account.LastTierGrant,
		AllowedModels: account.AllowedModels,
		Enabled:       account.Enabled,
	})
}

func (h *AdminHandler) setTier(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r, h.adminAuth) {
		return
	}

	var req struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if !h.tiers.Valid(req.Tier) {
		writeError(w, http.StatusBadRequest, "invalid_tier", "unknown tier "+req.Tier)
		return
	}

	id := r.PathValue("id")
	account, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// A tier change grants the new tier's pollen immediately rather than
	// waiting for the next refill cycle.
	def := h.tiers.Get(req.Tier)
	now := time.Now().UTC()
	if err := h.accounts.SetTier(r.Context(), id, def.Name, def.Pollen, now); err != nil {
		writeDomainError(w, err)
		return
	}

	previous := account.TierBalance
	events.PublishAsync(h.events, events.Event{
		Type:            events.TypeTierChange,
		Environment:     h.environment,
		AccountID:       id,
		Tier:            def.Name,
		PollenAmount:    def.Pollen,
		PreviousBalance: &previous,
		Timestamp:       now.Format(time.RFC3339),
	})

	slog.Info("account tier changed",
		"account_id", id,
		"from", account.Tier,
		"to", def.Name,
		"granted", def.Pollen,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"id":          id,
		"tier":        def.Name,
		"tierBalance": def.Pollen,
	})
}
