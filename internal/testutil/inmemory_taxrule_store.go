package testutil

import (
	"context"

	"github.com/commercebridge/taxcore/internal/domain/taxrule"
	ierr "github.com/commercebridge/taxcore/internal/errors"
	"github.com/commercebridge/taxcore/internal/types"
	"github.com/samber/lo"
)

// InMemoryTaxRuleStore implements taxrule.Repository
type InMemoryTaxRuleStore struct {
	*InMemoryStore[*taxrule.TaxRule]
}

func NewInMemoryTaxRuleStore() *InMemoryTaxRuleStore {
	return &InMemoryTaxRuleStore{
		InMemoryStore: NewInMemoryStore[*taxrule.TaxRule](),
	}
}

// taxRuleFilterFn implements filtering logic for tax rules
func taxRuleFilterFn(ctx context.Context, r *taxrule.TaxRule, filter interface{}) bool {
	if r == nil {
		return false
	}

	f, ok := filter.(*types.TaxRuleFilter)
	if !ok {
		return true // No filter applied
	}

	// Check tenant ID
	if tenantID := types.GetTenantID(ctx); tenantID != "" {
		if r.TenantID != tenantID {
			return false
		}
	}

	// Respect the lifecycle status requested by the filter
	if f.QueryFilter != nil && r.Status != f.GetStatus() {
		return false
	}

	if len(f.TaxRuleIDs) > 0 && !lo.Contains(f.TaxRuleIDs, r.ID) {
		return false
	}

	if len(f.TaxRuleCodes) > 0 && !lo.Contains(f.TaxRuleCodes, r.Code) {
		return false
	}

	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}

	if f.TierClass != "" && r.TierClass != f.TierClass {
		return false
	}

	if f.Country != "" && r.Country != f.Country {
		return false
	}

	if f.OnlyActive && !r.IsActive {
		return false
	}

	if f.OnlyDefault && !r.IsDefault {
		return false
	}

	return true
}

// taxRuleSortFn implements sorting logic for tax rules
func taxRuleSortFn(i, j *taxrule.TaxRule) bool {
	if i == nil || j == nil {
		return false
	}
	return i.CreatedAt.After(j.CreatedAt)
}

func (s *InMemoryTaxRuleStore) Create(ctx context.Context, r *taxrule.TaxRule) error {
	if r == nil {
		return ierr.NewError("tax rule cannot be nil").
			WithHint("Tax rule data is required").
			Mark(ierr.ErrValidation)
	}

	// Store a clone so the caller's pointer never aliases committed state
	err := s.InMemoryStore.Create(ctx, r.ID, r.Clone())
	if err != nil {
		return ierr.WithError(err).
			WithHint("A tax rule with this identifier already exists").
			WithReportableDetails(map[string]any{
				"tax_rule_id": r.ID,
			}).
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}

func (s *InMemoryTaxRuleStore) Get(ctx context.Context, id string) (*taxrule.TaxRule, error) {
	r, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Tax rule with ID %s was not found", id).
			WithReportableDetails(map[string]any{
				"tax_rule_id": id,
			}).
			Mark(ierr.ErrNotFound)
	}
	// Hand out a clone; mutations on the result must not reach the store
	// until Update commits them
	return r.Clone(), nil
}

func (s *InMemoryTaxRuleStore) GetByCode(ctx context.Context, code string) (*taxrule.TaxRule, error) {
	filter := &types.TaxRuleFilter{
		QueryFilter:  types.NewNoLimitQueryFilter(),
		TaxRuleCodes: []string{code},
	}

	rules, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	if len(rules) == 0 {
		return nil, ierr.NewError("tax rule not found").
			WithHintf("Tax rule with code %s was not found", code).
			WithReportableDetails(map[string]any{
				"code": code,
			}).
			Mark(ierr.ErrNotFound)
	}

	return rules[0], nil
}

func (s *InMemoryTaxRuleStore) List(ctx context.Context, filter *types.TaxRuleFilter) ([]*taxrule.TaxRule, error) {
	rules, err := s.InMemoryStore.List(ctx, filter, taxRuleFilterFn, taxRuleSortFn)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list tax rules").
			Mark(ierr.ErrDatabase)
	}

	cloned := make([]*taxrule.TaxRule, len(rules))
	for i, r := range rules {
		cloned[i] = r.Clone()
	}
	return cloned, nil
}

func (s *InMemoryTaxRuleStore) ListAll(ctx context.Context, filter *types.TaxRuleFilter) ([]*taxrule.TaxRule, error) {
	unlimitedFilter := &types.TaxRuleFilter{
		QueryFilter:  types.NewNoLimitQueryFilter(),
		TaxRuleIDs:   filter.TaxRuleIDs,
		TaxRuleCodes: filter.TaxRuleCodes,
		Kind:         filter.Kind,
		TierClass:    filter.TierClass,
		Country:      filter.Country,
		OnlyActive:   filter.OnlyActive,
		OnlyDefault:  filter.OnlyDefault,
	}

	return s.List(ctx, unlimitedFilter)
}

func (s *InMemoryTaxRuleStore) Count(ctx context.Context, filter *types.TaxRuleFilter) (int, error) {
	count, err := s.InMemoryStore.Count(ctx, filter, taxRuleFilterFn)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count tax rules").
			Mark(ierr.ErrDatabase)
	}
	return count, nil
}

func (s *InMemoryTaxRuleStore) Update(ctx context.Context, r *taxrule.TaxRule) error {
	if r == nil {
		return ierr.NewError("tax rule cannot be nil").
			WithHint("Tax rule data is required").
			Mark(ierr.ErrValidation)
	}

	err := s.InMemoryStore.Update(ctx, r.ID, r.Clone())
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Tax rule with ID %s was not found", r.ID).
			WithReportableDetails(map[string]any{
				"tax_rule_id": r.ID,
			}).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

// Delete archives the rule instead of removing it; historical calculations
// keep referencing it
func (s *InMemoryTaxRuleStore) Delete(ctx context.Context, r *taxrule.TaxRule) error {
	if r == nil {
		return ierr.NewError("tax rule cannot be nil").
			WithHint("Tax rule data is required").
			Mark(ierr.ErrValidation)
	}

	r.Status = types.StatusArchived
	r.IsActive = false

	return s.Update(ctx, r)
}

// Clear clears the tax rule store
func (s *InMemoryTaxRuleStore) Clear() {
	s.InMemoryStore.Clear()
}
