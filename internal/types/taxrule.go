package types

import (
	"slices"

	ierr "github.com/commercebridge/taxcore/internal/errors"
)

// TaxMethod determines how a tax rule computes its amount
type TaxMethod string

const (
	// TaxMethodPercentage applies a flat percentage to the amount base
	TaxMethodPercentage TaxMethod = "percentage"
	// TaxMethodFixedAmount applies a fixed per-unit levy scaled by quantity
	TaxMethodFixedAmount TaxMethod = "fixed_amount"
	// TaxMethodTiered applies the single bracket containing the amount base
	// to the entire amount base
	TaxMethodTiered TaxMethod = "tiered"
	// TaxMethodProgressive accumulates each bracket's rate over the portion
	// of the amount base that falls within it
	TaxMethodProgressive TaxMethod = "progressive"
)

func (m TaxMethod) String() string {
	return string(m)
}

func (m TaxMethod) Validate() error {
	allowedValues := []string{
		TaxMethodPercentage.String(),
		TaxMethodFixedAmount.String(),
		TaxMethodTiered.String(),
		TaxMethodProgressive.String(),
	}
	if !slices.Contains(allowedValues, string(m)) {
		return ierr.NewError("invalid tax method").
			WithHint("Tax method must be one of percentage, fixed_amount, tiered or progressive").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// UsesTiers returns true for methods driven by bracket configuration
func (m TaxMethod) UsesTiers() bool {
	return m == TaxMethodTiered || m == TaxMethodProgressive
}

// TaxRuleKind classifies what kind of levy a rule represents
type TaxRuleKind string

const (
	TaxRuleKindSalesTax      TaxRuleKind = "sales_tax"
	TaxRuleKindVAT           TaxRuleKind = "vat"
	TaxRuleKindExcise        TaxRuleKind = "excise"
	TaxRuleKindCustoms       TaxRuleKind = "customs"
	TaxRuleKindService       TaxRuleKind = "service"
	TaxRuleKindLuxury        TaxRuleKind = "luxury"
	TaxRuleKindEnvironmental TaxRuleKind = "environmental"
)

func (k TaxRuleKind) String() string {
	return string(k)
}

func (k TaxRuleKind) Validate() error {
	allowedValues := []string{
		TaxRuleKindSalesTax.String(),
		TaxRuleKindVAT.String(),
		TaxRuleKindExcise.String(),
		TaxRuleKindCustoms.String(),
		TaxRuleKindService.String(),
		TaxRuleKindLuxury.String(),
		TaxRuleKindEnvironmental.String(),
	}
	if !slices.Contains(allowedValues, string(k)) {
		return ierr.NewError("invalid tax rule kind").
			WithHint("Tax rule kind is not one of the supported tax kinds").
			WithReportableDetails(map[string]any{
				"kind": k.String(),
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// TaxTierClass is the rate class a rule belongs to (standard, reduced, ...)
type TaxTierClass string

const (
	TaxTierClassStandard      TaxTierClass = "standard"
	TaxTierClassReduced       TaxTierClass = "reduced"
	TaxTierClassZeroRated     TaxTierClass = "zero_rated"
	TaxTierClassExempt        TaxTierClass = "exempt"
	TaxTierClassReverseCharge TaxTierClass = "reverse_charge"
)

func (c TaxTierClass) String() string {
	return string(c)
}

func (c TaxTierClass) Validate() error {
	allowedValues := []string{
		TaxTierClassStandard.String(),
		TaxTierClassReduced.String(),
		TaxTierClassZeroRated.String(),
		TaxTierClassExempt.String(),
		TaxTierClassReverseCharge.String(),
	}
	if !slices.Contains(allowedValues, string(c)) {
		return ierr.NewError("invalid tax tier class").
			WithHint("Tax tier class must be one of standard, reduced, zero_rated, exempt or reverse_charge").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// RoundingMode controls how a computed line amount is rounded
type RoundingMode string

const (
	// RoundingModeNearest rounds half away from zero at the rule precision
	RoundingModeNearest RoundingMode = "nearest"
	// RoundingModeFloor truncates toward zero at the rule precision
	RoundingModeFloor RoundingMode = "floor"
	// RoundingModeCeiling rounds up at the rule precision
	RoundingModeCeiling RoundingMode = "ceiling"
	// RoundingModeNone leaves the full computed precision
	RoundingModeNone RoundingMode = "none"
)

func (r RoundingMode) String() string {
	return string(r)
}

func (r RoundingMode) Validate() error {
	allowedValues := []string{
		RoundingModeNearest.String(),
		RoundingModeFloor.String(),
		RoundingModeCeiling.String(),
		RoundingModeNone.String(),
	}
	if !slices.Contains(allowedValues, string(r)) {
		return ierr.NewError("invalid rounding mode").
			WithHint("Rounding mode must be one of nearest, floor, ceiling or none").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// DefaultTaxPrecision is the number of decimal places used when a rule
// does not configure its own precision
const DefaultTaxPrecision int32 = 2

// TaxRuleFilter represents filters for tax rule queries
type TaxRuleFilter struct {
	*QueryFilter
	TaxRuleIDs   []string     `json:"tax_rule_ids,omitempty" form:"tax_rule_ids" validate:"omitempty"`
	TaxRuleCodes []string     `json:"tax_rule_codes,omitempty" form:"tax_rule_codes" validate:"omitempty"`
	Kind         TaxRuleKind  `json:"kind,omitempty" form:"kind" validate:"omitempty"`
	TierClass    TaxTierClass `json:"tier_class,omitempty" form:"tier_class" validate:"omitempty"`
	Country      string       `json:"country,omitempty" form:"country" validate:"omitempty"`
	OnlyActive   bool         `json:"only_active,omitempty" form:"only_active" validate:"omitempty"`
	OnlyDefault  bool         `json:"only_default,omitempty" form:"only_default" validate:"omitempty"`
}

// NewTaxRuleFilter creates a new TaxRuleFilter with default values
func NewTaxRuleFilter() *TaxRuleFilter {
	return &TaxRuleFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

// NewNoLimitTaxRuleFilter creates a new TaxRuleFilter with no pagination limits
func NewNoLimitTaxRuleFilter() *TaxRuleFilter {
	return &TaxRuleFilter{
		QueryFilter: NewNoLimitQueryFilter(),
	}
}

// Validate validates the TaxRuleFilter
func (f TaxRuleFilter) Validate() error {
	if f.QueryFilter != nil {
		if err := f.QueryFilter.Validate(); err != nil {
			return err
		}
	}

	for _, id := range f.TaxRuleIDs {
		if id == "" {
			return ierr.NewError("tax_rule_ids cannot contain empty strings").
				WithHint("Tax rule IDs must be non-empty strings").
				Mark(ierr.ErrValidation)
		}
	}

	if f.Kind != "" {
		if err := f.Kind.Validate(); err != nil {
			return err
		}
	}

	if f.TierClass != "" {
		if err := f.TierClass.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// GetLimit returns the limit for the TaxRuleFilter
func (f TaxRuleFilter) GetLimit() int {
	if f.QueryFilter == nil {
		return *DefaultQueryFilter.Limit
	}
	return f.QueryFilter.GetLimit()
}

// GetOffset returns the offset for the TaxRuleFilter
func (f TaxRuleFilter) GetOffset() int {
	if f.QueryFilter == nil {
		return *DefaultQueryFilter.Offset
	}
	return f.QueryFilter.GetOffset()
}

// IsUnlimited returns true when no pagination limit applies
func (f TaxRuleFilter) IsUnlimited() bool {
	if f.QueryFilter == nil {
		return false
	}
	return f.QueryFilter.IsUnlimited()
}
