package gateway

import (
	"github.com/hivegate/hivegate/internal/domain"
	"github.com/hivegate/hivegate/internal/registry"
)

// Models lists the catalog as the account sees it: restricted to its
// allowlist, and hiding paid-only entries when the account has no paid
// balance to spend on them.
func (g *Gateway) Models(account *domain.Account) domain.ModelsResponse {
	return domain.ModelsResponse{
		Object: "list",
		Data: g.registry.List(registry.ListFilter{
			AllowedModels: account.AllowedModels,
			HidePaidOnly:  account.PaidBalance() <= 0,
		}),
	}
}
