package taxrule

import (
	"context"

	"github.com/commercebridge/taxcore/internal/types"
)

// Repository is the store of configured tax rules for a tenant. One List or
// ListAll call returns a consistent snapshot; the calculation engine relies
// on this to stay pure.
type Repository interface {
	Create(ctx context.Context, rule *TaxRule) error
	Get(ctx context.Context, id string) (*TaxRule, error)
	GetByCode(ctx context.Context, code string) (*TaxRule, error)
	List(ctx context.Context, filter *types.TaxRuleFilter) ([]*TaxRule, error)
	ListAll(ctx context.Context, filter *types.TaxRuleFilter) ([]*TaxRule, error)
	Count(ctx context.Context, filter *types.TaxRuleFilter) (int, error)
	Update(ctx context.Context, rule *TaxRule) error
	Delete(ctx context.Context, rule *TaxRule) error
}
