package taxrule

import (
	"time"

	ierr "github.com/commercebridge/taxcore/internal/errors"
	"github.com/commercebridge/taxcore/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// TaxRule is one configured tax definition for a tenant: what kind of levy it
// is, how its amount is computed, and the scope within which it applies.
type TaxRule struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Code        string `db:"code" json:"code"`
	DisplayName string `db:"display_name" json:"display_name"`
	Description string `db:"description" json:"description"`

	Kind      types.TaxRuleKind  `db:"kind" json:"kind"`
	TierClass types.TaxTierClass `db:"tier_class" json:"tier_class"`

	// Calculation definition
	Method      types.TaxMethod  `db:"method" json:"method"`
	Rate        *decimal.Decimal `db:"rate" json:"rate,omitempty"`
	FixedAmount *decimal.Decimal `db:"fixed_amount" json:"fixed_amount,omitempty"`
	Tiers       []TaxRuleTier    `db:"tiers" json:"tiers,omitempty"`

	// Post-calculation clamp, applied before rounding
	MinimumAmount *decimal.Decimal `db:"minimum_amount" json:"minimum_amount,omitempty"`
	MaximumAmount *decimal.Decimal `db:"maximum_amount" json:"maximum_amount,omitempty"`

	RoundingMode types.RoundingMode `db:"rounding_mode" json:"rounding_mode"`
	Precision    int32              `db:"precision" json:"precision"`

	// Pricing semantics
	IsInclusive bool `db:"is_inclusive" json:"is_inclusive"`
	IsCompound  bool `db:"is_compound" json:"is_compound"`
	IsDefault   bool `db:"is_default" json:"is_default"`
	IsActive    bool `db:"is_active" json:"is_active"`

	// Scope; empty fields match any context
	Country              string   `db:"country" json:"country,omitempty"`
	State                string   `db:"state" json:"state,omitempty"`
	City                 string   `db:"city" json:"city,omitempty"`
	PostalCodes          []string `db:"postal_codes" json:"postal_codes,omitempty"`
	ProductTypes         []string `db:"product_types" json:"product_types,omitempty"`
	ExcludedProductTypes []string `db:"excluded_product_types" json:"excluded_product_types,omitempty"`
	CustomerTypes        []string `db:"customer_types" json:"customer_types,omitempty"`

	MinOrderAmount *decimal.Decimal `db:"min_order_amount" json:"min_order_amount,omitempty"`
	MaxOrderAmount *decimal.Decimal `db:"max_order_amount" json:"max_order_amount,omitempty"`
	MinQuantity    *decimal.Decimal `db:"min_quantity" json:"min_quantity,omitempty"`
	MaxQuantity    *decimal.Decimal `db:"max_quantity" json:"max_quantity,omitempty"`

	// Temporal validity, open-ended when absent
	EffectiveFrom  *time.Time `db:"effective_from" json:"effective_from,omitempty"`
	EffectiveUntil *time.Time `db:"effective_until" json:"effective_until,omitempty"`

	// Ascending priority is evaluated first; ties break on rule id
	Priority int `db:"priority" json:"priority"`

	Metadata types.Metadata `db:"metadata" json:"metadata,omitempty"`

	types.BaseModel
}

// TaxRuleTier is one [lower, upper) bracket with its rate. A nil Upper means
// the bracket is unbounded and must be the last one.
type TaxRuleTier struct {
	Lower decimal.Decimal  `db:"lower" json:"lower"`
	Upper *decimal.Decimal `db:"upper" json:"upper,omitempty"`
	Rate  decimal.Decimal  `db:"rate" json:"rate"`
}

// Contains reports whether amount falls within the tier's [lower, upper) range
func (t TaxRuleTier) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.Lower) {
		return false
	}
	if t.Upper == nil {
		return true
	}
	return amount.LessThan(*t.Upper)
}

// Clone returns a deep copy of the rule. Stores hand out clones so callers
// can never mutate committed state or a cached snapshot through a shared
// pointer.
func (r *TaxRule) Clone() *TaxRule {
	if r == nil {
		return nil
	}

	clone := *r

	clone.Rate = cloneDecimal(r.Rate)
	clone.FixedAmount = cloneDecimal(r.FixedAmount)
	clone.MinimumAmount = cloneDecimal(r.MinimumAmount)
	clone.MaximumAmount = cloneDecimal(r.MaximumAmount)
	clone.MinOrderAmount = cloneDecimal(r.MinOrderAmount)
	clone.MaxOrderAmount = cloneDecimal(r.MaxOrderAmount)
	clone.MinQuantity = cloneDecimal(r.MinQuantity)
	clone.MaxQuantity = cloneDecimal(r.MaxQuantity)

	clone.EffectiveFrom = cloneTime(r.EffectiveFrom)
	clone.EffectiveUntil = cloneTime(r.EffectiveUntil)

	if r.Tiers != nil {
		clone.Tiers = make([]TaxRuleTier, len(r.Tiers))
		for i, tier := range r.Tiers {
			clone.Tiers[i] = TaxRuleTier{
				Lower: tier.Lower,
				Upper: cloneDecimal(tier.Upper),
				Rate:  tier.Rate,
			}
		}
	}

	clone.PostalCodes = append([]string(nil), r.PostalCodes...)
	clone.ProductTypes = append([]string(nil), r.ProductTypes...)
	clone.ExcludedProductTypes = append([]string(nil), r.ExcludedProductTypes...)
	clone.CustomerTypes = append([]string(nil), r.CustomerTypes...)

	if r.Metadata != nil {
		clone.Metadata = make(types.Metadata, len(r.Metadata))
		for k, v := range r.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// IsEffectiveAt reports whether the rule's validity window covers the given time
func (r *TaxRule) IsEffectiveAt(at time.Time) bool {
	if r.EffectiveFrom != nil && r.EffectiveFrom.After(at) {
		return false
	}
	if r.EffectiveUntil != nil && !r.EffectiveUntil.After(at) {
		return false
	}
	return true
}

// AppliesTo reports whether every populated scope field of the rule matches
// the context and the context's amount, quantity and timestamp fall within the
// rule's bounds. Unset scope fields always match. Product type exclusion wins
// even when the inclusion set is unrestricted.
func (r *TaxRule) AppliesTo(tc TaxContext) bool {
	if !r.IsActive || r.Status != types.StatusPublished {
		return false
	}

	if !r.IsEffectiveAt(tc.EffectiveAsOf()) {
		return false
	}

	// Geography
	if r.Country != "" && r.Country != tc.Country {
		return false
	}
	if r.State != "" && r.State != tc.State {
		return false
	}
	if r.City != "" && r.City != tc.City {
		return false
	}
	if len(r.PostalCodes) > 0 && !lo.Contains(r.PostalCodes, tc.PostalCode) {
		return false
	}

	if len(r.CustomerTypes) > 0 && !lo.Contains(r.CustomerTypes, tc.CustomerType) {
		return false
	}

	// Exclusion always wins even when the inclusion set is empty
	if lo.Contains(r.ExcludedProductTypes, tc.ProductType) {
		return false
	}
	if len(r.ProductTypes) > 0 && !lo.Contains(r.ProductTypes, tc.ProductType) {
		return false
	}

	if r.MinOrderAmount != nil && tc.BaseAmount.LessThan(*r.MinOrderAmount) {
		return false
	}
	if r.MaxOrderAmount != nil && tc.BaseAmount.GreaterThan(*r.MaxOrderAmount) {
		return false
	}

	if r.MinQuantity != nil && tc.Quantity.LessThan(*r.MinQuantity) {
		return false
	}
	if r.MaxQuantity != nil && tc.Quantity.GreaterThan(*r.MaxQuantity) {
		return false
	}

	return true
}

// GetPrecision returns the rule precision, falling back to the default
func (r *TaxRule) GetPrecision() int32 {
	if r.Precision <= 0 {
		return types.DefaultTaxPrecision
	}
	return r.Precision
}

// Clamp bounds amount to [minimum_amount, maximum_amount] where set.
// Clamping happens before rounding.
func (r *TaxRule) Clamp(amount decimal.Decimal) decimal.Decimal {
	if r.MinimumAmount != nil && amount.LessThan(*r.MinimumAmount) {
		amount = *r.MinimumAmount
	}
	if r.MaximumAmount != nil && amount.GreaterThan(*r.MaximumAmount) {
		amount = *r.MaximumAmount
	}
	return amount
}

// Round applies the rule's own rounding policy to a clamped line amount.
// Nearest rounds half away from zero; floor and ceiling truncate toward the
// respective direction; none keeps the full computed precision.
func (r *TaxRule) Round(amount decimal.Decimal) decimal.Decimal {
	precision := r.GetPrecision()
	switch r.RoundingMode {
	case types.RoundingModeFloor:
		return amount.RoundFloor(precision)
	case types.RoundingModeCeiling:
		return amount.RoundCeil(precision)
	case types.RoundingModeNone:
		return amount
	default:
		return amount.Round(precision)
	}
}

// Validate checks the rule's calculation configuration. Both the create and
// update paths run it on the full merged rule before persisting, so no write
// can commit a rule the engine would refuse to evaluate.
func (r *TaxRule) Validate() error {
	if err := r.Method.Validate(); err != nil {
		return err
	}

	if r.Precision < 0 {
		return ierr.NewError("precision cannot be negative").
			WithHint("Precision must be zero or more decimal places").
			Mark(ierr.ErrValidation)
	}

	if r.RoundingMode != "" {
		if err := r.RoundingMode.Validate(); err != nil {
			return err
		}
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

	if r.EffectiveFrom != nil && r.EffectiveUntil != nil &&
		r.EffectiveFrom.After(*r.EffectiveUntil) {
		return ierr.NewError("effective_from cannot be after effective_until").
			WithHint("Effective from date cannot be after effective until date").
			Mark(ierr.ErrValidation)
	}

	return r.ValidateTiers()
}

// ValidateTiers checks the bracket configuration at write time: brackets must
// be sorted, contiguous and non-overlapping, with only the last one unbounded.
func (r *TaxRule) ValidateTiers() error {
	if !r.Method.UsesTiers() {
		return nil
	}

	if len(r.Tiers) == 0 {
		return ierr.NewError("tiers are required").
			WithHintf("Tax method %s requires at least one tier", r.Method).
			Mark(ierr.ErrValidation)
	}

	for i, tier := range r.Tiers {
		if tier.Lower.IsNegative() {
			return ierr.NewError("tier lower bound cannot be negative").
				WithHint("Tier bounds must be zero or positive").
				Mark(ierr.ErrValidation)
		}
		if tier.Rate.IsNegative() {
			return ierr.NewError("tier rate cannot be negative").
				WithHint("Tier rates must be zero or positive").
				Mark(ierr.ErrValidation)
		}

		if tier.Upper == nil {
			if i != len(r.Tiers)-1 {
				return ierr.NewError("only the last tier may be unbounded").
					WithHint("An unbounded tier must be the final tier").
					Mark(ierr.ErrValidation)
			}
			continue
		}

		if !tier.Upper.GreaterThan(tier.Lower) {
			return ierr.NewError("tier upper bound must exceed its lower bound").
				WithReportableDetails(map[string]any{
					"tier_index": i,
					"lower":      tier.Lower.String(),
					"upper":      tier.Upper.String(),
				}).
				WithHint("Each tier must cover a non-empty amount range").
				Mark(ierr.ErrValidation)
		}

		if i < len(r.Tiers)-1 && !r.Tiers[i+1].Lower.Equal(*tier.Upper) {
			return ierr.NewError("tiers must be contiguous").
				WithReportableDetails(map[string]any{
					"tier_index": i,
					"upper":      tier.Upper.String(),
					"next_lower": r.Tiers[i+1].Lower.String(),
				}).
				WithHint("Each tier's upper bound must equal the next tier's lower bound").
				Mark(ierr.ErrValidation)
		}
	}

	return nil
}
