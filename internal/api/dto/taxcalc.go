package dto

import (
	"time"

	"github.com/commercebridge/taxcore/internal/domain/taxrule"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// CalculateTaxRequest carries a tax context supplied by the checkout caller
type CalculateTaxRequest struct {
	// base_amount is the pre-tax amount being taxed (required, >= 0)
	BaseAmount decimal.Decimal `json:"base_amount"`

	// quantity defaults to 1 when omitted
	Quantity *decimal.Decimal `json:"quantity,omitempty"`

	Country    string `json:"country,omitempty"`
	State      string `json:"state,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`

	CustomerType string `json:"customer_type,omitempty"`
	ProductType  string `json:"product_type,omitempty"`

	// as_of is the point in time rules are evaluated at; defaults to now
	AsOf *time.Time `json:"as_of,omitempty"`
}

// ToTaxContext converts the request to a domain TaxContext
func (r CalculateTaxRequest) ToTaxContext() taxrule.TaxContext {
	quantity := lo.FromPtr(r.Quantity)
	if r.Quantity == nil {
		quantity = decimal.NewFromInt(1)
	}

	return taxrule.TaxContext{
		BaseAmount:   r.BaseAmount,
		Quantity:     quantity,
		Country:      r.Country,
		State:        r.State,
		City:         r.City,
		PostalCode:   r.PostalCode,
		CustomerType: r.CustomerType,
		ProductType:  r.ProductType,
		AsOf:         r.AsOf,
	}
}

// CalculateTaxResponse is the per-rule breakdown plus total for a context
type CalculateTaxResponse struct {
	Lines []*taxrule.TaxLineResult `json:"lines"`
	Total decimal.Decimal          `json:"total"`
}

// NewCalculateTaxResponse builds a response from a domain calculation result
func NewCalculateTaxResponse(result *taxrule.TaxCalculationResult) *CalculateTaxResponse {
	return &CalculateTaxResponse{
		Lines: result.Lines,
		Total: result.Total,
	}
}

// PreviewApplicableRulesResponse lists the rules that would apply to a
// context without computing any amounts
type PreviewApplicableRulesResponse struct {
	Items []*TaxRuleResponse `json:"items"`
}
