// Package auth resolves API keys to accounts and guards the admin
// surface with bcrypt-hashed shared secrets.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hivegate/hivegate/internal/domain"
	"github.com/hivegate/hivegate/internal/repository"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Authenticator maps bearer API keys to accounts.
type Authenticator struct {
	accounts repository.AccountStore
}

func NewAuthenticator(accounts repository.AccountStore) *Authenticator {
	return &Authenticator{accounts: accounts}
}

// Authenticate resolves the API key to an enabled account. Lookup
// misses and disabled accounts both surface as ErrInvalidAPIKey so the
// response does not reveal whether a key exists.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (*domain.Account, error) {
	if apiKey == "" {
		return nil, domain.ErrInvalidAPIKey
	}

	account, err := a.accounts.GetByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrInvalidAPIKey
		}
		return nil, err
	}
	if !account.Enabled {
		return nil, domain.ErrInvalidAPIKey
	}
	return account, nil
}

// Authorize checks the account's model allowlist. An empty allowlist
// grants access to the whole catalog.
func Authorize(account *domain.Account, canonical string) error {
	if len(account.AllowedModels) == 0 {
		return nil
	}
	for _, allowed := range account.AllowedModels {
		if allowed == canonical {
			return nil
		}
	}
	return domain.ErrModelNotAllowed
}

// SecretVerifier compares presented admin secrets against a bcrypt hash
// loaded at startup. An empty hash disables the surface it guards.
type SecretVerifier struct {
	hash string
}

func NewSecretVerifier(bcryptHash string) *SecretVerifier {
	return &SecretVerifier{hash: bcryptHash}
}

func (v *SecretVerifier) Enabled() bool {
	return v.hash != ""
}

func (v *SecretVerifier) Verify(secret string) error {
	if v.hash == "" {
		return ErrForbidden
	}
	if err := bcrypt.CompareHashAndPassword([]byte(v.hash), []byte(secret)); err != nil {
		return ErrUnauthorized
	}
	return nil
}

// HashSecret produces the bcrypt hash stored in configuration.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ExtractBearerToken pulls the credential from the Authorization header.
func ExtractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
