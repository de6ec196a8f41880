// Package quota gates request admission against an account's pollen
// balance. The guard only decides; debiting the spent amount happens in
// the billing collaborator after a successful generation.
package quota

import (
	"github.com/hivegate/hivegate/internal/domain"
)

type Guard struct{}

func NewGuard() *Guard {
	return &Guard{}
}

// Admit authorizes a request for the resolved model. Paid-only models
// require a positive paid balance; tier pollen never counts toward them.
// Everything else admits on any positive balance component.
func (g *Guard) Admit(account *domain.Account, def *domain.ServiceDefinition) error {
	if def.PaidOnly {
		if account.PaidBalance() <= 0 {
			return domain.ErrPaidBalanceRequired
		}
		return nil
	}

	if account.TotalBalance() <= 0 {
		return domain.ErrQuotaExceeded
	}
	return nil
}
