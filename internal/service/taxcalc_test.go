package service

import (
	"testing"
	"time"

	"github.com/commercebridge/taxcore/internal/api/dto"
	"github.com/commercebridge/taxcore/internal/domain/taxrule"
	ierr "github.com/commercebridge/taxcore/internal/errors"
	"github.com/commercebridge/taxcore/internal/testutil"
	"github.com/commercebridge/taxcore/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type TaxCalculationServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  TaxCalculationService
	registry TaxRuleService
}

func TestTaxCalculationService(t *testing.T) {
	suite.Run(t, new(TaxCalculationServiceSuite))
}

func (s *TaxCalculationServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := ServiceParams{
		Logger:      s.GetLogger(),
		Config:      s.GetConfig(),
		DB:          s.GetDB(),
		Cache:       s.GetCache(),
		TaxRuleRepo: s.GetStores().TaxRuleRepo,
	}
	s.service = NewTaxCalculationService(params)
	s.registry = NewTaxRuleService(params)
}

func (s *TaxCalculationServiceSuite) createRule(req dto.CreateTaxRuleRequest) *dto.TaxRuleResponse {
	resp, err := s.registry.CreateTaxRule(s.GetContext(), req)
	s.Require().NoError(err)
	return resp
}

func (s *TaxCalculationServiceSuite) context(base string) taxrule.TaxContext {
	return taxrule.TaxContext{
		BaseAmount: decimal.RequireFromString(base),
		Quantity:   decimal.NewFromInt(1),
	}
}

func (s *TaxCalculationServiceSuite) assertAmount(expected string, got decimal.Decimal) {
	s.True(got.Equal(decimal.RequireFromString(expected)),
		"expected %s, got %s", expected, got.String())
}

func (s *TaxCalculationServiceSuite) TestPercentage() {
	s.createRule(dto.CreateTaxRuleRequest{
		Name:   "Sales Tax",
		Kind:   types.TaxRuleKindSalesTax,
		Method: types.TaxMethodPercentage,
		Rate:   lo.ToPtr(decimal.NewFromInt(10)),
	})

	result, err := s.service.Calculate(s.GetContext(), s.context("100"))
	s.NoError(err)
	s.Len(result.Lines, 1)
	s.assertAmount("10", result.Lines[0].Amount)
	s.assertAmount("10", result.Lines[0].AppliedRate)
	s.assertAmount("10", result.Total)
	s.False(result.Lines[0].IsCompounded)
}

func (s *TaxCalculationServiceSuite) TestInclusivePercentageExtractsTax() {
	s.createRule(dto.CreateTaxRuleRequest{
		Name:        "Embedded VAT",
		Kind:        types.TaxRuleKindVAT,
		Method:      types.TaxMethodPercentage,
		Rate:        lo.ToPtr(decimal.NewFromInt(10)),
		IsInclusive: true,
	})

	// 110 displayed = 100 net + 10 tax; extraction is base * r / (100 + r)
	result, err := s.service.Calculate(s.GetContext(), s.context("110"))
	s.NoError(err)
	s.Len(result.Lines, 1)
	s.assertAmount("10", result.Lines[0].Amount)
	s.True(result.Lines[0].IsInclusive)
}

func (s *TaxCalculationServiceSuite) TestFixedAmountScalesByQuantity() {
	s.createRule(dto.CreateTaxRuleRequest{
		Name:        "Bottle Deposit",
		Kind:        types.TaxRuleKindEnvironmental,
		Method:      types.TaxMethodFixedAmount,
		FixedAmount: lo.ToPtr(decimal.RequireFromString("2.50")),
	})

	tc := s.context("100")
	tc.Quantity = decimal.NewFromInt(4)

	result, err := s.service.Calculate(s.GetContext(), tc)
	s.NoError(err)
	s.Len(result.Lines, 1)
	s.assertAmount("10", result.Lines[0].Amount)
	s.assertAmount("2.50", result.Lines[0].AppliedRate)
}

func (s *TaxCalculationServiceSuite) TestTieredAppliesSingleBracketToWholeBase() {
	s.createRule(dto.CreateTaxRuleRequest{
		Name:   "Luxury Tier",
		Kind:   types.TaxRuleKindLuxury,
		Method: types.TaxMethodTiered,
		Tiers: []dto.TaxRuleTierRequest{
			{Lower: decimal.Zero, Upper: lo.ToPtr(decimal.NewFromInt(1000)), Rate: decimal.NewFromInt(5)},
			{Lower: decimal.NewFromInt(1000), Rate: decimal.NewFromInt(10)},
		},
	})

	// 1500 falls in the second bracket; its 10% applies to the entire base
	result, err := s.service.Calculate(s.GetContext(), s.context("1500"))
	s.NoError(err)
	s.Len(result.Lines, 1)
	s.assertAmount("150", result.Lines[0].Amount)
	s.assertAmount("10", result.Lines[0].AppliedRate)

	// 500 stays in the first bracket
	result, err = s.service.Calculate(s.GetContext(), s.context("500"))
	s.NoError(err)
	s.assertAmount("25", result.Total)
}

func (s *TaxCalculationServiceSuite) TestProgressiveAccumulatesBrackets() {
	s.createRule(dto.CreateTaxRuleRequest{
		Name:   "Progressive Levy",
		Kind:   types.TaxRuleKindLuxury,
		Method: types.TaxMethodProgressive,
		Tiers: []dto.TaxRuleTierRequest{
			{Lower: decimal.Zero, Upper: lo.ToPtr(decimal.NewFromInt(1000)), Rate: decimal.NewFromInt(5)},
			{Lower: decimal.NewFromInt(1000), Rate: decimal.NewFromInt(10)},
		},
	})

	// 1000 @ 5% + 500 @ 10% = 100, against 150 for the tiered method on the
	// same brackets
	result, err := s.service.Calculate(s.GetContext(), s.context("1500"))
	s.NoError(err)
	s.Len(result.Lines, 1)
	s.assertAmount("100", result.Lines[0].Amount)

	// Effective blended rate: 100 / 1500 * 100
	expectedRate := decimal.NewFromInt(100).
		Div(decimal.NewFromInt(1500)).
		Mul(decimal.NewFromInt(100))
	s.True(result.Lines[0].AppliedRate.Equal(expectedRate))
}

func (s *TaxCalculationServiceSuite) TestTieredGapSurfacesAsError() {
	// Bypass write-time tier validation; a gap can only come from a
	// misconfigured store
	rate := decimal.NewFromInt(5)
	gapRule := &taxrule.TaxRule{
		ID:     types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TAX_RULE),
		Name:   "Gapped",
		Code:   "GAPPED",
		Kind:   types.TaxRuleKindLuxury,
		Method: types.TaxMethodTiered,
		Tiers: []taxrule.TaxRuleTier{
			{Lower: decimal.Zero, Upper: lo.ToPtr(decimal.NewFromInt(100)), Rate: rate},
			{Lower: decimal.NewFromInt(200), Rate: decimal.NewFromInt(10)},
		},
		RoundingMode: types.RoundingModeNearest,
		Precision:    2,
		IsActive:     true,
		BaseModel:    types.GetDefaultBaseModel(s.GetContext()),
	}
	s.Require().NoError(s.GetStores().TaxRuleRepo.Create(s.GetContext(), gapRule))

	result, err := s.service.Calculate(s.GetContext(), s.context("150"))
	s.Error(err)
	s.Nil(result)
	s.True(ierr.IsNoApplicableTier(err))
}

func (s *TaxCalculationServiceSuite) TestRejectedTierUpdateDoesNotBreakCalculation() {
	tiered := s.createRule(dto.CreateTaxRuleRequest{
		Name:   "Bracketed",
		Kind:   types.TaxRuleKindLuxury,
		Method: types.TaxMethodTiered,
		Tiers: []dto.TaxRuleTierRequest{
			{Lower: decimal.Zero, Upper: lo.ToPtr(decimal.NewFromInt(100)), Rate: decimal.NewFromInt(5)},
			{Lower: decimal.NewFromInt(100), Rate: decimal.NewFromInt(10)},
		},
	})

	// An update introducing a bracket gap is rejected and must not leave
	// partial state behind
	_, err := s.registry.UpdateTaxRule(s.GetContext(), tiered.ID, dto.UpdateTaxRuleRequest{
		Tiers: []dto.TaxRuleTierRequest{
			{Lower: decimal.Zero, Upper: lo.ToPtr(decimal.NewFromInt(100)), Rate: decimal.NewFromInt(5)},
			{Lower: decimal.NewFromInt(200), Rate: decimal.NewFromInt(10)},
		},
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))

	// 150 sits in the committed second bracket; the calculation still works
	result, err := s.service.Calculate(s.GetContext(), s.context("150"))
	s.NoError(err)
	s.Len(result.Lines, 1)
	s.assertAmount("15", result.Total)
}

func (s *TaxCalculationServiceSuite) TestCompounding() {
	base := dto.CreateTaxRuleRequest{
		Name:     "Base Tax",
		Kind:     types.TaxRuleKindSalesTax,
		Method:   types.TaxMethodPercentage,
		Rate:     lo.ToPtr(decimal.NewFromInt(10)),
		Priority: 1,
	}
	s.createRule(base)

	compound := dto.CreateTaxRuleRequest{
		Name:       "Compound Surtax",
		Kind:       types.TaxRuleKindService,
		Method:     types.TaxMethodPercentage,
		Rate:       lo.ToPtr(decimal.NewFromInt(5)),
		IsCompound: true,
		Priority:   2,
	}
	s.createRule(compound)

	result, err := s.service.Calculate(s.GetContext(), s.context("100"))
	s.NoError(err)
	s.Len(result.Lines, 2)

	// 10% of 100 = 10, then 5% of (100 + 10) = 5.50
	s.assertAmount("10", result.Lines[0].Amount)
	s.assertAmount("5.50", result.Lines[1].Amount)
	s.True(result.Lines[1].IsCompounded)
	s.assertAmount("15.50", result.Total)
}

func (s *TaxCalculationServiceSuite) TestNonCompoundRulesIgnoreEarlierTax() {
	first := dto.CreateTaxRuleRequest{
		Name:     "First",
		Kind:     types.TaxRuleKindSalesTax,
		Method:   types.TaxMethodPercentage,
		Rate:     lo.ToPtr(decimal.NewFromInt(10)),
		Priority: 1,
	}
	s.createRule(first)

	second := dto.CreateTaxRuleRequest{
		Name:     "Second",
		Kind:     types.TaxRuleKindService,
		Method:   types.TaxMethodPercentage,
		Rate:     lo.ToPtr(decimal.NewFromInt(5)),
		Priority: 2,
	}
	s.createRule(second)

	result, err := s.service.Calculate(s.GetContext(), s.context("100"))
	s.NoError(err)
	s.Len(result.Lines, 2)
	// Both rules tax the original base
	s.assertAmount("10", result.Lines[0].Amount)
	s.assertAmount("5", result.Lines[1].Amount)
	s.assertAmount("15", result.Total)
}

func (s *TaxCalculationServiceSuite) TestClampBeforeRounding() {
	s.createRule(dto.CreateTaxRuleRequest{
		Name:          "Clamped",
		Kind:          types.TaxRuleKindSalesTax,
		Method:        types.TaxMethodPercentage,
		Rate:          lo.ToPtr(decimal.NewFromInt(2)),
		MinimumAmount: lo.ToPtr(decimal.NewFromInt(5)),
	})

	// Raw 2% of 100 = 2, lifted to the 5 minimum
	result, err := s.service.Calculate(s.GetContext(), s.context("100"))
	s.NoError(err)
	s.assertAmount("5", result.Total)
}

func (s *TaxCalculationServiceSuite) TestMaximumCap() {
	s.createRule(dto.CreateTaxRuleRequest{
		Name:          "Capped",
		Kind:          types.TaxRuleKindSalesTax,
		Method:        types.TaxMethodPercentage,
		Rate:          lo.ToPtr(decimal.NewFromInt(10)),
		MaximumAmount: lo.ToPtr(decimal.NewFromInt(50)),
	})

	result, err := s.service.Calculate(s.GetContext(), s.context("1000"))
	s.NoError(err)
	s.assertAmount("50", result.Total)
}

func (s *TaxCalculationServiceSuite) TestPerRuleRoundingPolicy() {
	testCases := []struct {
		name     string
		mode     types.RoundingMode
		expected string
	}{
		{"nearest half away from zero", types.RoundingModeNearest, "0.13"},
		{"floor", types.RoundingModeFloor, "0.12"},
		{"ceiling", types.RoundingModeCeiling, "0.13"},
		{"none keeps raw precision", types.RoundingModeNone, "0.125"},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.SetupTest()
			s.createRule(dto.CreateTaxRuleRequest{
				Name:         "Rounded",
				Kind:         types.TaxRuleKindSalesTax,
				Method:       types.TaxMethodPercentage,
				Rate:         lo.ToPtr(decimal.RequireFromString("2.5")),
				RoundingMode: tc.mode,
			})

			// 2.5% of 5 = 0.125
			result, err := s.service.Calculate(s.GetContext(), s.context("5"))
			s.NoError(err)
			s.assertAmount(tc.expected, result.Total)
		})
	}
}

func (s *TaxCalculationServiceSuite) TestNoApplicableRulesYieldsZero() {
	us := dto.CreateTaxRuleRequest{
		Name:    "US Only",
		Kind:    types.TaxRuleKindSalesTax,
		Method:  types.TaxMethodPercentage,
		Rate:    lo.ToPtr(decimal.NewFromInt(5)),
		Country: "US",
	}
	s.createRule(us)

	tc := s.context("100")
	tc.Country = "DE"

	result, err := s.service.Calculate(s.GetContext(), tc)
	s.NoError(err)
	s.Empty(result.Lines)
	s.True(result.Total.IsZero())
}

func (s *TaxCalculationServiceSuite) TestExcludedProductType() {
	rule := dto.CreateTaxRuleRequest{
		Name:                 "No Digital",
		Kind:                 types.TaxRuleKindSalesTax,
		Method:               types.TaxMethodPercentage,
		Rate:                 lo.ToPtr(decimal.NewFromInt(5)),
		ExcludedProductTypes: []string{"digital"},
	}
	s.createRule(rule)

	tc := s.context("100")
	tc.ProductType = "digital"
	result, err := s.service.Calculate(s.GetContext(), tc)
	s.NoError(err)
	s.Empty(result.Lines)

	tc.ProductType = "physical"
	result, err = s.service.Calculate(s.GetContext(), tc)
	s.NoError(err)
	s.Len(result.Lines, 1)
}

func (s *TaxCalculationServiceSuite) TestExpiredRuleDoesNotApply() {
	expired := dto.CreateTaxRuleRequest{
		Name:           "Expired",
		Kind:           types.TaxRuleKindSalesTax,
		Method:         types.TaxMethodPercentage,
		Rate:           lo.ToPtr(decimal.NewFromInt(5)),
		EffectiveFrom:  lo.ToPtr(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
		EffectiveUntil: lo.ToPtr(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	s.createRule(expired)

	result, err := s.service.Calculate(s.GetContext(), s.context("100"))
	s.NoError(err)
	s.Empty(result.Lines)

	// The same rule applies when evaluated inside its window
	tc := s.context("100")
	tc.AsOf = lo.ToPtr(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC))
	result, err = s.service.Calculate(s.GetContext(), tc)
	s.NoError(err)
	s.Len(result.Lines, 1)
}

func (s *TaxCalculationServiceSuite) TestInvalidContext() {
	s.Run("negative base amount", func() {
		result, err := s.service.Calculate(s.GetContext(), s.context("-1"))
		s.Error(err)
		s.Nil(result)
		s.True(ierr.IsValidation(err))
	})

	s.Run("zero quantity", func() {
		tc := s.context("100")
		tc.Quantity = decimal.Zero
		result, err := s.service.Calculate(s.GetContext(), tc)
		s.Error(err)
		s.Nil(result)
		s.True(ierr.IsValidation(err))
	})
}

func (s *TaxCalculationServiceSuite) TestDeterminism() {
	s.createRule(dto.CreateTaxRuleRequest{
		Name:     "A",
		Kind:     types.TaxRuleKindSalesTax,
		Method:   types.TaxMethodPercentage,
		Rate:     lo.ToPtr(decimal.RequireFromString("8.875")),
		Priority: 1,
	})
	s.createRule(dto.CreateTaxRuleRequest{
		Name:       "B",
		Kind:       types.TaxRuleKindService,
		Method:     types.TaxMethodPercentage,
		Rate:       lo.ToPtr(decimal.RequireFromString("3.5")),
		IsCompound: true,
		Priority:   2,
	})

	first, err := s.service.Calculate(s.GetContext(), s.context("199.99"))
	s.NoError(err)

	second, err := s.service.Calculate(s.GetContext(), s.context("199.99"))
	s.NoError(err)

	s.Require().Equal(len(first.Lines), len(second.Lines))
	for i := range first.Lines {
		s.Equal(first.Lines[i].TaxRuleID, second.Lines[i].TaxRuleID)
		s.True(first.Lines[i].Amount.Equal(second.Lines[i].Amount))
	}
	s.True(first.Total.Equal(second.Total))
}

func (s *TaxCalculationServiceSuite) TestTotalEqualsSumOfLines() {
	s.createRule(dto.CreateTaxRuleRequest{
		Name:   "A",
		Kind:   types.TaxRuleKindSalesTax,
		Method: types.TaxMethodPercentage,
		Rate:   lo.ToPtr(decimal.RequireFromString("7.25")),
	})
	s.createRule(dto.CreateTaxRuleRequest{
		Name:        "B",
		Kind:        types.TaxRuleKindEnvironmental,
		Method:      types.TaxMethodFixedAmount,
		FixedAmount: lo.ToPtr(decimal.RequireFromString("0.35")),
	})

	result, err := s.service.Calculate(s.GetContext(), s.context("42.42"))
	s.NoError(err)
	s.Len(result.Lines, 2)

	sum := decimal.Zero
	for _, line := range result.Lines {
		sum = sum.Add(line.Amount)
	}
	s.True(result.Total.Equal(sum))
}
