package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/hivegate/hivegate/internal/domain"
	"github.com/hivegate/hivegate/internal/repository"
)

func TestAuthenticateResolvesAccount(t *testing.T) {
	store := repository.NewInMemoryAccountStore()
	store.Seed(&domain.Account{ID: "acct-1", Tier: "spore", Enabled: true}, "sk-valid")

	a := NewAuthenticator(store)
	account, err := a.Authenticate(context.Background(), "sk-valid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.ID != "acct-1" {
		t.Errorf("expected acct-1, got %q", account.ID)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	store := repository.NewInMemoryAccountStore()
	store.Seed(&domain.Account{ID: "acct-off", Enabled: false}, "sk-disabled")

	a := NewAuthenticator(store)

	tests := []struct {
		name string
		key  string
	}{
		{"empty key", ""},
		{"unknown key", "sk-nope"},
		{"disabled account", "sk-disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Authenticate(context.Background(), tt.key); !errors.Is(err, domain.ErrInvalidAPIKey) {
				t.Errorf("expected ErrInvalidAPIKey, got %v", err)
			}
		})
	}
}

func TestAuthorizeAllowlist(t *testing.T) {
	open := &domain.Account{ID: "open"}
	if err := Authorize(open, "anything"); err != nil {
		t.Errorf("empty allowlist should admit every model: %v", err)
	}

	restricted := &domain.Account{ID: "restricted", AllowedModels: []string{"openai-fast"}}
	if err := Authorize(restricted, "openai-fast"); err != nil {
		t.Errorf("allowed model rejected: %v", err)
	}
	if err := Authorize(restricted, "claude"); !errors.Is(err, domain.ErrModelNotAllowed) {
		t.Errorf("expected ErrModelNotAllowed, got %v", err)
	}
}

func TestSecretVerifier(t *testing.T) {
	hash, err := HashSecret("refill-secret")
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}

	v := NewSecretVerifier(hash)
	if !v.Enabled() {
		t.Fatal("verifier with a hash should be enabled")
	}
	if err := v.Verify("refill-secret"); err != nil {
		t.Errorf("correct secret rejected: %v", err)
	}
	if err := v.Verify("wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	disabled := NewSecretVerifier("")
	if disabled.Enabled() {
		t.Error("verifier without a hash should be disabled")
	}
	if err := disabled.Verify("anything"); !errors.Is(err, ErrForbidden) {
		t.Errorf("disabled verifier should return ErrForbidden, got %v", err)
	}
}

func TestExtractBearerToken(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer sk-123")
	if got := ExtractBearerToken(r); got != "sk-123" {
		t.Errorf("expected sk-123, got %q", got)
	}

	r.Header.Set("Authorization", "Basic abc")
	if got := ExtractBearerToken(r); got != "" {
		t.Errorf("expected empty token for non-bearer auth, got %q", got)
	}
}
