package taxrule

import (
	"time"

	ierr "github.com/commercebridge/taxcore/internal/errors"
	"github.com/shopspring/decimal"
)

// TaxContext is the input to an applicability query or a calculation. It
// carries the sale being taxed, not the rules: base amount, quantity, where
// the sale happens and who buys what.
type TaxContext struct {
	BaseAmount decimal.Decimal `json:"base_amount"`
	Quantity   decimal.Decimal `json:"quantity"`

	Country    string `json:"country,omitempty"`
	State      string `json:"state,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`

	CustomerType string `json:"customer_type,omitempty"`
	ProductType  string `json:"product_type,omitempty"`

	// AsOf defaults to now when unset
	AsOf *time.Time `json:"as_of,omitempty"`
}

// EffectiveAsOf returns the context timestamp, defaulting to the current time
func (c TaxContext) EffectiveAsOf() time.Time {
	if c.AsOf != nil {
		return *c.AsOf
	}
	return time.Now().UTC()
}

// Validate rejects malformed contexts: negative base amounts and quantities
// below one are input defects, not empty results.
func (c TaxContext) Validate() error {
	if c.BaseAmount.IsNegative() {
		return ierr.NewError("base_amount cannot be negative").
			WithHint("Base amount must be zero or positive").
			WithReportableDetails(map[string]any{
				"base_amount": c.BaseAmount.String(),
			}).
			Mark(ierr.ErrValidation)
	}

	if c.Quantity.LessThan(decimal.NewFromInt(1)) {
		return ierr.NewError("quantity must be at least 1").
			WithHint("Quantity must be one or more").
			WithReportableDetails(map[string]any{
				"quantity": c.Quantity.String(),
			}).
			Mark(ierr.ErrValidation)
	}

	return nil
}

// TaxLineResult is one rule's contribution to a calculation
type TaxLineResult struct {
	TaxRuleID string `json:"tax_rule_id"`
	RuleName  string `json:"rule_name"`
	RuleCode  string `json:"rule_code,omitempty"`

	// Amount is the final line amount after clamping and rounding
	Amount decimal.Decimal `json:"amount"`

	// AppliedRate is the rate or fixed amount actually used; for tiered and
	// progressive methods it is the effective blended rate
	AppliedRate decimal.Decimal `json:"applied_rate"`

	// IsCompounded reports whether the line was computed on base plus
	// previously applied tax
	IsCompounded bool `json:"is_compounded"`

	// IsInclusive reports whether the tax was extracted from an
	// inclusive display price rather than added on top
	IsInclusive bool `json:"is_inclusive"`
}

// TaxCalculationResult is the ordered per-rule breakdown plus the total.
// Lines follow rule priority order and the total always equals the sum of
// the line amounts.
type TaxCalculationResult struct {
	Lines []*TaxLineResult `json:"lines"`
	Total decimal.Decimal  `json:"total"`
}
