package types

import "github.com/samber/lo"

// QueryFilter represents a generic query filter with optional fields
type QueryFilter struct {
	Limit  *int    `json:"limit,omitempty" form:"limit"`
	Offset *int    `json:"offset,omitempty" form:"offset"`
	Status *Status `json:"status,omitempty" form:"status"`
	Sort   *string `json:"sort,omitempty" form:"sort"`
	Order  *string `json:"order,omitempty" form:"order"`
}

// DefaultQueryFilter defines default values for query filters
var DefaultQueryFilter = QueryFilter{
	Limit:  lo.ToPtr(50),
	Offset: lo.ToPtr(0),
	Status: lo.ToPtr(StatusPublished),
	Sort:   lo.ToPtr("created_at"),
	Order:  lo.ToPtr("desc"),
}

// NoLimitQueryFilter returns a filter with no pagination limits
var NoLimitQueryFilter = QueryFilter{
	Status: lo.ToPtr(StatusPublished),
	Sort:   lo.ToPtr("created_at"),
	Order:  lo.ToPtr("desc"),
}

// NewDefaultQueryFilter creates a new QueryFilter with default values
func NewDefaultQueryFilter() *QueryFilter {
	f := DefaultQueryFilter
	return &f
}

// NewNoLimitQueryFilter creates a new QueryFilter with no pagination limits
func NewNoLimitQueryFilter() *QueryFilter {
	f := NoLimitQueryFilter
	return &f
}

// GetLimit returns the limit value or default if not set
func (f QueryFilter) GetLimit() int {
	if f.Limit == nil {
		return *DefaultQueryFilter.Limit
	}
	return *f.Limit
}

// GetOffset returns the offset value or default if not set
func (f QueryFilter) GetOffset() int {
	if f.Offset == nil {
		return *DefaultQueryFilter.Offset
	}
	return *f.Offset
}

// GetStatus returns the status value or default if not set
func (f QueryFilter) GetStatus() Status {
	if f.Status == nil {
		return *DefaultQueryFilter.Status
	}
	return *f.Status
}

// GetSort returns the sort value or default if not set
func (f QueryFilter) GetSort() string {
	if f.Sort == nil {
		return *DefaultQueryFilter.Sort
	}
	return *f.Sort
}

// GetOrder returns the order value or default if not set
func (f QueryFilter) GetOrder() string {
	if f.Order == nil {
		return *DefaultQueryFilter.Order
	}
	return *f.Order
}

// IsUnlimited returns true when no pagination limit applies
func (f QueryFilter) IsUnlimited() bool {
	return f.Limit == nil
}

// Validate validates the query filter
func (f QueryFilter) Validate() error {
	return nil
}
