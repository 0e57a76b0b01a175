package service

import (
	"context"
	"sort"
	"time"

	"github.com/commercebridge/taxcore/internal/api/dto"
	"github.com/commercebridge/taxcore/internal/cache"
	"github.com/commercebridge/taxcore/internal/domain/taxrule"
	ierr "github.com/commercebridge/taxcore/internal/errors"
	"github.com/commercebridge/taxcore/internal/types"
)

// TaxRuleService owns the set of configured tax rules for a tenant. It is
// the write path that upholds the at-most-one-active-default-per-kind
// invariant, and the registry that answers applicability queries.
type TaxRuleService interface {
	// Core CRUD operations
	CreateTaxRule(ctx context.Context, req dto.CreateTaxRuleRequest) (*dto.TaxRuleResponse, error)
	GetTaxRule(ctx context.Context, id string) (*dto.TaxRuleResponse, error)
	GetTaxRuleByCode(ctx context.Context, code string) (*dto.TaxRuleResponse, error)
	ListTaxRules(ctx context.Context, filter *types.TaxRuleFilter) (*dto.ListTaxRulesResponse, error)
	UpdateTaxRule(ctx context.Context, id string, req dto.UpdateTaxRuleRequest) (*dto.TaxRuleResponse, error)
	DeleteTaxRule(ctx context.Context, id string) error

	// Registry query: which rules apply to the given context, ordered by
	// ascending (priority, id)
	ApplicableRules(ctx context.Context, tc taxrule.TaxContext) ([]*taxrule.TaxRule, error)
}

type taxRuleService struct {
	ServiceParams
}

// NewTaxRuleService creates a new instance of TaxRuleService
func NewTaxRuleService(params ServiceParams) TaxRuleService {
	return &taxRuleService{
		ServiceParams: params,
	}
}

// CreateTaxRule creates a new tax rule
func (s *taxRuleService) CreateTaxRule(ctx context.Context, req dto.CreateTaxRuleRequest) (*dto.TaxRuleResponse, error) {
	if err := req.Validate(); err != nil {
		s.Logger.Warnw("tax rule creation validation failed",
			"error", err,
			"name", req.Name,
			"code", req.Code,
		)
		return nil, err
	}

	rule := req.ToTaxRule(ctx)

	// Calculation config and tier contiguity are validated at write time so
	// defects surface here instead of during a checkout calculation
	if err := rule.Validate(); err != nil {
		s.Logger.Warnw("tax rule validation failed",
			"error", err,
			"name", req.Name,
		)
		return nil, err
	}

	err := s.DB.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.checkDefaultRuleConflict(txCtx, rule, ""); err != nil {
			return err
		}
		return s.TaxRuleRepo.Create(txCtx, rule)
	})
	if err != nil {
		s.Logger.Errorw("failed to create tax rule",
			"error", err,
			"tax_rule_id", rule.ID,
			"name", rule.Name,
			"code", rule.Code,
		)
		return nil, err
	}

	s.invalidateRuleCache(ctx)

	return &dto.TaxRuleResponse{TaxRule: rule}, nil
}

// GetTaxRule retrieves a tax rule by ID
func (s *taxRuleService) GetTaxRule(ctx context.Context, id string) (*dto.TaxRuleResponse, error) {
	if id == "" {
		return nil, ierr.NewError("tax_rule_id is required").
			WithHint("Tax rule ID is required").
			Mark(ierr.ErrValidation)
	}

	rule, err := s.TaxRuleRepo.Get(ctx, id)
	if err != nil {
		s.Logger.Warnw("failed to get tax rule",
			"error", err,
			"tax_rule_id", id,
		)
		return nil, err
	}

	return &dto.TaxRuleResponse{TaxRule: rule}, nil
}

// GetTaxRuleByCode retrieves a tax rule by its code
func (s *taxRuleService) GetTaxRuleByCode(ctx context.Context, code string) (*dto.TaxRuleResponse, error) {
	if code == "" {
		return nil, ierr.NewError("tax_rule_code is required").
			WithHint("Tax rule code is required").
			Mark(ierr.ErrValidation)
	}

	rule, err := s.TaxRuleRepo.GetByCode(ctx, code)
	if err != nil {
		s.Logger.Warnw("failed to get tax rule by code",
			"error", err,
			"code", code,
		)
		return nil, err
	}

	return &dto.TaxRuleResponse{TaxRule: rule}, nil
}

// ListTaxRules lists tax rules based on the provided filter
func (s *taxRuleService) ListTaxRules(ctx context.Context, filter *types.TaxRuleFilter) (*dto.ListTaxRulesResponse, error) {
	if filter == nil {
		filter = types.NewTaxRuleFilter()
	}

	if err := filter.Validate(); err != nil {
		return nil, err
	}

	rules, err := s.TaxRuleRepo.List(ctx, filter)
	if err != nil {
		s.Logger.Errorw("failed to list tax rules",
			"error", err,
			"filter", filter,
		)
		return nil, err
	}

	count, err := s.TaxRuleRepo.Count(ctx, filter)
	if err != nil {
		s.Logger.Errorw("failed to count tax rules",
			"error", err,
			"filter", filter,
		)
		return nil, err
	}

	items := make([]*dto.TaxRuleResponse, len(rules))
	for i, r := range rules {
		items[i] = &dto.TaxRuleResponse{TaxRule: r}
	}

	pagination := types.NewPaginationResponse(
		count,
		filter.GetLimit(),
		filter.GetOffset(),
	)

	return &dto.ListTaxRulesResponse{
		Items:      items,
		Pagination: &pagination,
	}, nil
}

// UpdateTaxRule updates an existing tax rule in place
func (s *taxRuleService) UpdateTaxRule(ctx context.Context, id string, req dto.UpdateTaxRuleRequest) (*dto.TaxRuleResponse, error) {
	if id == "" {
		return nil, ierr.NewError("tax_rule_id is required").
			WithHint("Tax rule ID is required").
			Mark(ierr.ErrValidation)
	}

	rule, err := s.TaxRuleRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Apply updates only for provided fields
	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.DisplayName != "" {
		rule.DisplayName = req.DisplayName
	}
	if req.Description != "" {
		rule.Description = req.Description
	}
	if req.Rate != nil {
		rule.Rate = req.Rate
	}
	if req.FixedAmount != nil {
		rule.FixedAmount = req.FixedAmount
	}
	if len(req.Tiers) > 0 {
		rule.Tiers = dto.ToTaxRuleTiers(req.Tiers)
	}
	if req.MinimumAmount != nil {
		rule.MinimumAmount = req.MinimumAmount
	}
	if req.MaximumAmount != nil {
		rule.MaximumAmount = req.MaximumAmount
	}
	if req.RoundingMode != "" {
		if err := req.RoundingMode.Validate(); err != nil {
			return nil, err
		}
		rule.RoundingMode = req.RoundingMode
	}
	if req.Precision != nil {
		rule.Precision = *req.Precision
	}
	if req.IsInclusive != nil {
		rule.IsInclusive = *req.IsInclusive
	}
	if req.IsCompound != nil {
		rule.IsCompound = *req.IsCompound
	}
	if req.IsDefault != nil {
		rule.IsDefault = *req.IsDefault
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.EffectiveFrom != nil {
		rule.EffectiveFrom = req.EffectiveFrom
	}
	if req.EffectiveUntil != nil {
		rule.EffectiveUntil = req.EffectiveUntil
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if len(req.Metadata) > 0 {
		rule.Metadata = req.Metadata
	}

	// The merged rule passes the same write-time validation as a create; a
	// rejected update must leave the committed rule untouched, which holds
	// because repositories hand out copies, never live store pointers
	if err := rule.Validate(); err != nil {
		s.Logger.Warnw("tax rule validation failed on update",
			"error", err,
			"tax_rule_id", id,
		)
		return nil, err
	}

	rule.UpdatedAt = time.Now().UTC()
	rule.UpdatedBy = types.GetUserID(ctx)

	err = s.DB.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.checkDefaultRuleConflict(txCtx, rule, rule.ID); err != nil {
			return err
		}
		return s.TaxRuleRepo.Update(txCtx, rule)
	})
	if err != nil {
		s.Logger.Errorw("failed to update tax rule",
			"error", err,
			"tax_rule_id", id,
		)
		return nil, err
	}

	s.invalidateRuleCache(ctx)

	s.Logger.Infow("tax rule updated successfully",
		"tax_rule_id", id,
		"name", rule.Name,
		"code", rule.Code,
	)

	return &dto.TaxRuleResponse{TaxRule: rule}, nil
}

// DeleteTaxRule archives a tax rule. Rules referenced by historical
// calculations are never physically removed.
func (s *taxRuleService) DeleteTaxRule(ctx context.Context, id string) error {
	if id == "" {
		return ierr.NewError("tax_rule_id is required").
			WithHint("Tax rule ID is required").
			Mark(ierr.ErrValidation)
	}

	rule, err := s.TaxRuleRepo.Get(ctx, id)
	if err != nil {
		s.Logger.Warnw("failed to get tax rule for deletion",
			"error", err,
			"tax_rule_id", id,
		)
		return err
	}

	if err := s.TaxRuleRepo.Delete(ctx, rule); err != nil {
		s.Logger.Errorw("failed to delete tax rule",
			"error", err,
			"tax_rule_id", id,
		)
		return err
	}

	s.invalidateRuleCache(ctx)

	s.Logger.Infow("tax rule deleted successfully",
		"tax_rule_id", id,
		"name", rule.Name,
		"code", rule.Code,
	)

	return nil
}

// ApplicableRules returns the rules that apply to the given context, in
// ascending (priority, id) order. An empty result is not an error.
func (s *taxRuleService) ApplicableRules(ctx context.Context, tc taxrule.TaxContext) ([]*taxrule.TaxRule, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}

	rules, err := s.ruleSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	applicable := make([]*taxrule.TaxRule, 0, len(rules))
	for _, rule := range rules {
		if rule.AppliesTo(tc) {
			applicable = append(applicable, rule)
		}
	}

	// Ties on priority break on rule id so evaluation order is deterministic
	sort.Slice(applicable, func(i, j int) bool {
		if applicable[i].Priority != applicable[j].Priority {
			return applicable[i].Priority < applicable[j].Priority
		}
		return applicable[i].ID < applicable[j].ID
	})

	return applicable, nil
}

// ruleSnapshot returns the tenant's full published rule set, memoized until
// the next rule write. One calculation always sees one snapshot.
func (s *taxRuleService) ruleSnapshot(ctx context.Context) ([]*taxrule.TaxRule, error) {
	cacheKey := cache.Key(cache.PrefixTaxRule, types.GetTenantID(ctx))

	if s.Cache != nil {
		if cached, ok := s.Cache.Get(ctx, cacheKey); ok {
			if rules, ok := cached.([]*taxrule.TaxRule); ok {
				return rules, nil
			}
		}
	}

	rules, err := s.TaxRuleRepo.ListAll(ctx, types.NewNoLimitTaxRuleFilter())
	if err != nil {
		s.Logger.Errorw("failed to load tax rule snapshot",
			"error", err,
			"tenant_id", types.GetTenantID(ctx),
		)
		return nil, err
	}

	if s.Cache != nil {
		s.Cache.Set(ctx, cacheKey, rules, cache.DefaultExpiration)
	}

	return rules, nil
}

// checkDefaultRuleConflict rejects activating a second default rule of the
// same kind for the tenant. Enforced on write so the read path stays pure.
func (s *taxRuleService) checkDefaultRuleConflict(ctx context.Context, rule *taxrule.TaxRule, excludeID string) error {
	if !rule.IsDefault || !rule.IsActive {
		return nil
	}

	filter := types.NewNoLimitTaxRuleFilter()
	filter.Kind = rule.Kind
	filter.OnlyDefault = true
	filter.OnlyActive = true

	existing, err := s.TaxRuleRepo.ListAll(ctx, filter)
	if err != nil {
		return err
	}

	for _, other := range existing {
		if other.ID == excludeID {
			continue
		}
		return ierr.NewError("an active default tax rule of this kind already exists").
			WithHintf("Tax rule %s is already the default %s rule", other.Code, rule.Kind).
			WithReportableDetails(map[string]any{
				"kind":             rule.Kind.String(),
				"existing_rule_id": other.ID,
			}).
			Mark(ierr.ErrConflictingDefault)
	}

	return nil
}

func (s *taxRuleService) invalidateRuleCache(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	s.Cache.DeleteByPrefix(ctx, cache.Key(cache.PrefixTaxRule, types.GetTenantID(ctx)))
}
