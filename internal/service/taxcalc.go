package service

import (
	"context"
	"sort"

	"github.com/commercebridge/taxcore/internal/domain/taxrule"
	ierr "github.com/commercebridge/taxcore/internal/errors"
	"github.com/commercebridge/taxcore/internal/types"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// TaxCalculationService turns a tax context into a per-rule breakdown plus
// total. It queries the rule registry once and computes each applicable
// rule's amount in priority order, respecting compounding. The computation
// is pure; persisting collected totals belongs to the caller.
type TaxCalculationService interface {
	Calculate(ctx context.Context, tc taxrule.TaxContext) (*taxrule.TaxCalculationResult, error)
}

type taxCalculationService struct {
	ServiceParams
	registry TaxRuleService
}

// NewTaxCalculationService creates a new instance of TaxCalculationService
func NewTaxCalculationService(params ServiceParams) TaxCalculationService {
	return &taxCalculationService{
		ServiceParams: params,
		registry:      NewTaxRuleService(params),
	}
}

// Calculate computes the tax owed for a context. A context matching no rule
// yields an empty line list and a zero total, not an error.
func (s *taxCalculationService) Calculate(ctx context.Context, tc taxrule.TaxContext) (*taxrule.TaxCalculationResult, error) {
	rules, err := s.registry.ApplicableRules(ctx, tc)
	if err != nil {
		return nil, err
	}

	result := &taxrule.TaxCalculationResult{
		Lines: make([]*taxrule.TaxLineResult, 0, len(rules)),
		Total: decimal.Zero,
	}

	// Every computed line feeds the compounding base so later compound
	// rules tax on top of previously applied tax
	compoundingBase := tc.BaseAmount

	for _, rule := range rules {
		amountBase := tc.BaseAmount
		if rule.IsCompound {
			amountBase = compoundingBase
		}

		raw, appliedRate, err := s.computeRawAmount(rule, amountBase, tc.Quantity)
		if err != nil {
			s.Logger.Errorw("tax rule calculation failed",
				"error", err,
				"tax_rule_id", rule.ID,
				"method", rule.Method,
				"amount_base", amountBase,
			)
			return nil, err
		}

		// Clamp to [minimum, maximum] first, then round per the rule's own
		// policy; rounding mid-calculation would compound rounding error
		amount := rule.Round(rule.Clamp(raw))

		result.Lines = append(result.Lines, &taxrule.TaxLineResult{
			TaxRuleID:    rule.ID,
			RuleName:     rule.Name,
			RuleCode:     rule.Code,
			Amount:       amount,
			AppliedRate:  appliedRate,
			IsCompounded: rule.IsCompound,
			IsInclusive:  rule.IsInclusive,
		})
		result.Total = result.Total.Add(amount)
		compoundingBase = compoundingBase.Add(amount)
	}

	return result, nil
}

// computeRawAmount computes a rule's unclamped, unrounded amount together
// with the rate actually used for reporting.
func (s *taxCalculationService) computeRawAmount(rule *taxrule.TaxRule, amountBase, quantity decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	switch rule.Method {
	case types.TaxMethodPercentage:
		return s.computePercentage(rule, amountBase)
	case types.TaxMethodFixedAmount:
		return s.computeFixedAmount(rule, quantity)
	case types.TaxMethodTiered:
		return s.computeTiered(rule, amountBase)
	case types.TaxMethodProgressive:
		return s.computeProgressive(rule, amountBase)
	default:
		return decimal.Zero, decimal.Zero, ierr.NewError("unsupported tax method").
			WithHintf("Tax rule %s has unsupported method %s", rule.Code, rule.Method).
			Mark(ierr.ErrInvalidOperation)
	}
}

// computePercentage applies a flat rate. For inclusive rules the tax is
// already embedded in the displayed price, so it is extracted as
// base * rate / (100 + rate) instead of added on top.
func (s *taxCalculationService) computePercentage(rule *taxrule.TaxRule, amountBase decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if rule.Rate == nil {
		return decimal.Zero, decimal.Zero, ierr.NewError("rate is not configured").
			WithHintf("Percentage tax rule %s has no rate", rule.Code).
			Mark(ierr.ErrInvalidOperation)
	}

	rate := *rule.Rate
	if rule.IsInclusive {
		return amountBase.Mul(rate).Div(hundred.Add(rate)), rate, nil
	}
	return amountBase.Mul(rate).Div(hundred), rate, nil
}

// computeFixedAmount scales the per-unit levy by quantity, not price
func (s *taxCalculationService) computeFixedAmount(rule *taxrule.TaxRule, quantity decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if rule.FixedAmount == nil {
		return decimal.Zero, decimal.Zero, ierr.NewError("fixed_amount is not configured").
			WithHintf("Fixed amount tax rule %s has no fixed amount", rule.Code).
			Mark(ierr.ErrInvalidOperation)
	}

	fixed := *rule.FixedAmount
	return fixed.Mul(quantity), fixed, nil
}

// computeTiered applies the single bracket containing the amount base to the
// entire amount base. A bracket gap is a configuration defect and must
// surface, never silently produce zero tax.
func (s *taxCalculationService) computeTiered(rule *taxrule.TaxRule, amountBase decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	for _, tier := range sortedTiers(rule) {
		if tier.Contains(amountBase) {
			return amountBase.Mul(tier.Rate).Div(hundred), tier.Rate, nil
		}
	}

	return decimal.Zero, decimal.Zero, ierr.NewError("no tier covers the amount").
		WithHintf("Tax rule %s has no tier covering amount %s", rule.Code, amountBase.String()).
		WithReportableDetails(map[string]any{
			"tax_rule_id": rule.ID,
			"amount":      amountBase.String(),
		}).
		Mark(ierr.ErrNoApplicableTier)
}

// computeProgressive accumulates each bracket's rate over the portion of the
// amount base inside that bracket, the way income tax brackets work. Lower
// brackets contribute their own rate even when the amount exceeds them. The
// reported rate is the effective blended rate.
func (s *taxCalculationService) computeProgressive(rule *taxrule.TaxRule, amountBase decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	raw := decimal.Zero

	for _, tier := range sortedTiers(rule) {
		if !amountBase.GreaterThan(tier.Lower) {
			break
		}

		upper := amountBase
		if tier.Upper != nil && tier.Upper.LessThan(amountBase) {
			upper = *tier.Upper
		}

		taxableInTier := upper.Sub(tier.Lower)
		if taxableInTier.IsNegative() {
			continue
		}

		raw = raw.Add(taxableInTier.Mul(tier.Rate).Div(hundred))
	}

	blendedRate := decimal.Zero
	if amountBase.IsPositive() {
		blendedRate = raw.Div(amountBase).Mul(hundred)
	}

	return raw, blendedRate, nil
}

// sortedTiers returns the rule's tiers in ascending lower-bound order
// without mutating the rule, which may be shared via the snapshot cache.
func sortedTiers(rule *taxrule.TaxRule) []taxrule.TaxRuleTier {
	tiers := make([]taxrule.TaxRuleTier, len(rule.Tiers))
	copy(tiers, rule.Tiers)
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].Lower.LessThan(tiers[j].Lower)
	})
	return tiers
}
