package dto

import (
	"context"
	"time"

	"github.com/commercebridge/taxcore/internal/domain/taxrule"
	ierr "github.com/commercebridge/taxcore/internal/errors"
	"github.com/commercebridge/taxcore/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// TaxRuleResponse represents the response for tax rule operations
type TaxRuleResponse struct {
	*taxrule.TaxRule `json:",inline"`
}

// ListTaxRulesResponse represents the response for listing tax rules
type ListTaxRulesResponse struct {
	Items      []*TaxRuleResponse        `json:"items"`
	Pagination *types.PaginationResponse `json:"pagination,omitempty"`
}

// TaxRuleTierRequest is one bracket in a create or update request
type TaxRuleTierRequest struct {
	// lower is the inclusive lower bound of the bracket
	Lower decimal.Decimal `json:"lower"`

	// upper is the exclusive upper bound; omit for an unbounded final bracket
	Upper *decimal.Decimal `json:"upper,omitempty"`

	// rate is the percentage applied within this bracket
	Rate decimal.Decimal `json:"rate"`
}

// CreateTaxRuleRequest represents the request to create a tax rule
type CreateTaxRuleRequest struct {
	// name is the human-readable name for the tax rule (required)
	Name string `json:"name" validate:"required"`

	// code is the unique short identifier; auto-generated when omitted
	Code string `json:"code,omitempty"`

	// display_name is shown on customer-facing breakdowns; defaults to name
	DisplayName string `json:"display_name,omitempty"`

	// description is an optional text description for the tax rule
	Description string `json:"description,omitempty"`

	// kind classifies the levy (sales_tax, vat, excise, ...)
	Kind types.TaxRuleKind `json:"kind" validate:"required"`

	// tier_class is the rate class (standard, reduced, zero_rated, ...)
	TierClass types.TaxTierClass `json:"tier_class,omitempty"`

	// method determines how the tax amount is computed
	Method types.TaxMethod `json:"method" validate:"required"`

	// rate is the percentage (0-100) when method is "percentage"
	Rate *decimal.Decimal `json:"rate,omitempty"`

	// fixed_amount is the per-unit levy when method is "fixed_amount"
	FixedAmount *decimal.Decimal `json:"fixed_amount,omitempty"`

	// tiers are the ordered brackets for tiered and progressive methods
	Tiers []TaxRuleTierRequest `json:"tiers,omitempty"`

	// minimum_amount / maximum_amount clamp the computed line amount
	MinimumAmount *decimal.Decimal `json:"minimum_amount,omitempty"`
	MaximumAmount *decimal.Decimal `json:"maximum_amount,omitempty"`

	// rounding_mode defaults to "nearest"; precision defaults to 2
	RoundingMode types.RoundingMode `json:"rounding_mode,omitempty"`
	Precision    *int32             `json:"precision,omitempty"`

	// is_inclusive marks tax already embedded in displayed prices
	IsInclusive bool `json:"is_inclusive,omitempty"`

	// is_compound computes this rule on base plus previously applied tax
	IsCompound bool `json:"is_compound,omitempty"`

	// is_default marks the tenant's default rule for this kind
	IsDefault bool `json:"is_default,omitempty"`

	// scope fields; unset fields leave the rule unrestricted
	Country              string   `json:"country,omitempty"`
	State                string   `json:"state,omitempty"`
	City                 string   `json:"city,omitempty"`
	PostalCodes          []string `json:"postal_codes,omitempty"`
	ProductTypes         []string `json:"product_types,omitempty"`
	ExcludedProductTypes []string `json:"excluded_product_types,omitempty"`
	CustomerTypes        []string `json:"customer_types,omitempty"`

	MinOrderAmount *decimal.Decimal `json:"min_order_amount,omitempty"`
	MaxOrderAmount *decimal.Decimal `json:"max_order_amount,omitempty"`
	MinQuantity    *decimal.Decimal `json:"min_quantity,omitempty"`
	MaxQuantity    *decimal.Decimal `json:"max_quantity,omitempty"`

	// effective_from / effective_until bound the validity window
	EffectiveFrom  *time.Time `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`

	// priority orders rule evaluation, ascending first
	Priority int `json:"priority,omitempty"`

	// metadata contains additional key-value pairs
	Metadata types.Metadata `json:"metadata,omitempty"`
}

// UpdateTaxRuleRequest represents the request to update an existing tax rule.
// All fields are optional - only provided fields will be updated.
type UpdateTaxRuleRequest struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`

	Rate        *decimal.Decimal     `json:"rate,omitempty"`
	FixedAmount *decimal.Decimal     `json:"fixed_amount,omitempty"`
	Tiers       []TaxRuleTierRequest `json:"tiers,omitempty"`

	MinimumAmount *decimal.Decimal `json:"minimum_amount,omitempty"`
	MaximumAmount *decimal.Decimal `json:"maximum_amount,omitempty"`

	RoundingMode types.RoundingMode `json:"rounding_mode,omitempty"`
	Precision    *int32             `json:"precision,omitempty"`

	IsInclusive *bool `json:"is_inclusive,omitempty"`
	IsCompound  *bool `json:"is_compound,omitempty"`
	IsDefault   *bool `json:"is_default,omitempty"`
	IsActive    *bool `json:"is_active,omitempty"`

	EffectiveFrom  *time.Time `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`

	Priority *int `json:"priority,omitempty"`

	Metadata types.Metadata `json:"metadata,omitempty"`
}

// Validate validates the CreateTaxRuleRequest
func (r CreateTaxRuleRequest) Validate() error {
	if r.Name == "" {
		return ierr.NewError("name is required").
			WithHint("Tax rule name is required").
			Mark(ierr.ErrValidation)
	}

	if err := r.Kind.Validate(); err != nil {
		return err
	}

	if err := r.Method.Validate(); err != nil {
		return err
	}

	if r.TierClass != "" {
		if err := r.TierClass.Validate(); err != nil {
			return err
		}
	}

	if r.RoundingMode != "" {
		if err := r.RoundingMode.Validate(); err != nil {
			return err
		}
	}

	if r.Precision != nil && *r.Precision < 0 {
		return ierr.NewError("precision cannot be negative").
			WithHint("Precision must be zero or more decimal places").
			Mark(ierr.ErrValidation)
	}

	switch r.Method {
	case types.TaxMethodPercentage:
		if r.Rate == nil {
			return ierr.NewError("rate is required").
				WithHint("Percentage tax rules require a rate").
				Mark(ierr.ErrValidation)
		}
		if r.Rate.IsNegative() || r.Rate.GreaterThan(decimal.NewFromInt(100)) {
			return ierr.NewError("rate must be in range 0-100").
				WithHint("Tax rule percentage must be in range 0-100").
				Mark(ierr.ErrValidation)
		}
	case types.TaxMethodFixedAmount:
		if r.FixedAmount == nil {
			return ierr.NewError("fixed_amount is required").
				WithHint("Fixed amount tax rules require a fixed amount").
				Mark(ierr.ErrValidation)
		}
		if r.FixedAmount.IsNegative() {
			return ierr.NewError("fixed_amount cannot be negative").
				WithHint("Tax rule fixed amount cannot be less than 0").
				Mark(ierr.ErrValidation)
		}
	}

	if r.MinimumAmount != nil && r.MaximumAmount != nil &&
		r.MinimumAmount.GreaterThan(*r.MaximumAmount) {
		return ierr.NewError("minimum_amount cannot exceed maximum_amount").
			WithHint("Minimum amount cannot be greater than maximum amount").
			Mark(ierr.ErrValidation)
	}

	if r.MinOrderAmount != nil && r.MaxOrderAmount != nil &&
		r.MinOrderAmount.GreaterThan(*r.MaxOrderAmount) {
		return ierr.NewError("min_order_amount cannot exceed max_order_amount").
			WithHint("Minimum order amount cannot be greater than maximum order amount").
			Mark(ierr.ErrValidation)
	}

	if r.MinQuantity != nil && r.MaxQuantity != nil &&
		r.MinQuantity.GreaterThan(*r.MaxQuantity) {
		return ierr.NewError("min_quantity cannot exceed max_quantity").
			WithHint("Minimum quantity cannot be greater than maximum quantity").
			Mark(ierr.ErrValidation)
	}

	if r.EffectiveFrom != nil && r.EffectiveUntil != nil &&
		r.EffectiveFrom.After(lo.FromPtr(r.EffectiveUntil)) {
		return ierr.NewError("effective_from cannot be after effective_until").
			WithHint("Effective from date cannot be after effective until date").
			Mark(ierr.ErrValidation)
	}

	return nil
}

// ToTaxRule converts a CreateTaxRuleRequest to a domain TaxRule
func (r CreateTaxRuleRequest) ToTaxRule(ctx context.Context) *taxrule.TaxRule {
	code := r.Code
	if code == "" {
		code = types.GenerateShortIDWithPrefix(types.SHORT_ID_PREFIX_TAX_RULE)
	}

	displayName := r.DisplayName
	if displayName == "" {
		displayName = r.Name
	}

	tierClass := r.TierClass
	if tierClass == "" {
		tierClass = types.TaxTierClassStandard
	}

	roundingMode := r.RoundingMode
	if roundingMode == "" {
		roundingMode = types.RoundingModeNearest
	}

	precision := types.DefaultTaxPrecision
	if r.Precision != nil {
		precision = *r.Precision
	}

	rule := &taxrule.TaxRule{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TAX_RULE),
		Name:        r.Name,
		Code:        code,
		DisplayName: displayName,
		Description: r.Description,

		Kind:      r.Kind,
		TierClass: tierClass,

		Method:      r.Method,
		Rate:        r.Rate,
		FixedAmount: r.FixedAmount,
		Tiers:       ToTaxRuleTiers(r.Tiers),

		MinimumAmount: r.MinimumAmount,
		MaximumAmount: r.MaximumAmount,

		RoundingMode: roundingMode,
		Precision:    precision,

		IsInclusive: r.IsInclusive,
		IsCompound:  r.IsCompound,
		IsDefault:   r.IsDefault,
		IsActive:    true,

		Country:              r.Country,
		State:                r.State,
		City:                 r.City,
		PostalCodes:          r.PostalCodes,
		ProductTypes:         r.ProductTypes,
		ExcludedProductTypes: r.ExcludedProductTypes,
		CustomerTypes:        r.CustomerTypes,

		MinOrderAmount: r.MinOrderAmount,
		MaxOrderAmount: r.MaxOrderAmount,
		MinQuantity:    r.MinQuantity,
		MaxQuantity:    r.MaxQuantity,

		EffectiveFrom:  r.EffectiveFrom,
		EffectiveUntil: r.EffectiveUntil,

		Priority: r.Priority,
		Metadata: r.Metadata,

		BaseModel: types.GetDefaultBaseModel(ctx),
	}

	return rule
}

// ToTaxRuleTiers converts request tiers to domain tiers
func ToTaxRuleTiers(tiers []TaxRuleTierRequest) []taxrule.TaxRuleTier {
	if len(tiers) == 0 {
		return nil
	}
	return lo.Map(tiers, func(t TaxRuleTierRequest, _ int) taxrule.TaxRuleTier {
		return taxrule.TaxRuleTier{
			Lower: t.Lower,
			Upper: t.Upper,
			Rate:  t.Rate,
		}
	})
}
