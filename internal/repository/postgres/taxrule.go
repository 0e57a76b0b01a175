package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/commercebridge/taxcore/internal/domain/taxrule"
	ierr "github.com/commercebridge/taxcore/internal/errors"
	"github.com/commercebridge/taxcore/internal/logger"
	"github.com/commercebridge/taxcore/internal/postgres"
	"github.com/commercebridge/taxcore/internal/types"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type taxRuleRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

// NewTaxRuleRepository creates a sqlx-backed taxrule.Repository
func NewTaxRuleRepository(client postgres.IClient, logger *logger.Logger) taxrule.Repository {
	return &taxRuleRepository{
		client: client,
		logger: logger,
	}
}

// taxRuleRow mirrors the tax_rules table. Tiers and metadata are stored as
// JSONB, scope sets as text arrays.
type taxRuleRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Code        string `db:"code"`
	DisplayName string `db:"display_name"`
	Description string `db:"description"`

	Kind      string `db:"kind"`
	TierClass string `db:"tier_class"`

	Method      string              `db:"method"`
	Rate        decimal.NullDecimal `db:"rate"`
	FixedAmount decimal.NullDecimal `db:"fixed_amount"`
	Tiers       []byte              `db:"tiers"`

	MinimumAmount decimal.NullDecimal `db:"minimum_amount"`
	MaximumAmount decimal.NullDecimal `db:"maximum_amount"`

	RoundingMode string `db:"rounding_mode"`
	Precision    int32  `db:"precision"`

	IsInclusive bool `db:"is_inclusive"`
	IsCompound  bool `db:"is_compound"`
	IsDefault   bool `db:"is_default"`
	IsActive    bool `db:"is_active"`

	Country              string         `db:"country"`
	State                string         `db:"state"`
	City                 string         `db:"city"`
	PostalCodes          pq.StringArray `db:"postal_codes"`
	ProductTypes         pq.StringArray `db:"product_types"`
	ExcludedProductTypes pq.StringArray `db:"excluded_product_types"`
	CustomerTypes        pq.StringArray `db:"customer_types"`

	MinOrderAmount decimal.NullDecimal `db:"min_order_amount"`
	MaxOrderAmount decimal.NullDecimal `db:"max_order_amount"`
	MinQuantity    decimal.NullDecimal `db:"min_quantity"`
	MaxQuantity    decimal.NullDecimal `db:"max_quantity"`

	EffectiveFrom  sql.NullTime `db:"effective_from"`
	EffectiveUntil sql.NullTime `db:"effective_until"`

	Priority int    `db:"priority"`
	Metadata []byte `db:"metadata"`

	TenantID  string    `db:"tenant_id"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	CreatedBy string    `db:"created_by"`
	UpdatedBy string    `db:"updated_by"`
}

const taxRuleColumns = `
	id, name, code, display_name, description,
	kind, tier_class, method, rate, fixed_amount, tiers,
	minimum_amount, maximum_amount, rounding_mode, precision,
	is_inclusive, is_compound, is_default, is_active,
	country, state, city, postal_codes, product_types, excluded_product_types, customer_types,
	min_order_amount, max_order_amount, min_quantity, max_quantity,
	effective_from, effective_until, priority, metadata,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

func (r *taxRuleRepository) Create(ctx context.Context, rule *taxrule.TaxRule) error {
	row, err := toRow(rule)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO tax_rules (%s) VALUES (
		:id, :name, :code, :display_name, :description,
		:kind, :tier_class, :method, :rate, :fixed_amount, :tiers,
		:minimum_amount, :maximum_amount, :rounding_mode, :precision,
		:is_inclusive, :is_compound, :is_default, :is_active,
		:country, :state, :city, :postal_codes, :product_types, :excluded_product_types, :customer_types,
		:min_order_amount, :max_order_amount, :min_quantity, :max_quantity,
		:effective_from, :effective_until, :priority, :metadata,
		:tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by
	)`, taxRuleColumns)

	if _, err := sqlx.NamedExecContext(ctx, r.client.Querier(ctx), query, row); err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("A tax rule with this identifier already exists").
				WithReportableDetails(map[string]any{
					"tax_rule_id": rule.ID,
					"code":        rule.Code,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create tax rule").
			Mark(ierr.ErrDatabase)
	}

	return nil
}

func (r *taxRuleRepository) Get(ctx context.Context, id string) (*taxrule.TaxRule, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM tax_rules WHERE id = $1 AND tenant_id = $2 AND status != $3`,
		taxRuleColumns,
	)

	var row taxRuleRow
	err := sqlx.GetContext(ctx, r.client.Querier(ctx), &row, query,
		id, types.GetTenantID(ctx), string(types.StatusDeleted))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.WithError(err).
				WithHintf("Tax rule with ID %s was not found", id).
				WithReportableDetails(map[string]any{
					"tax_rule_id": id,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get tax rule").
			Mark(ierr.ErrDatabase)
	}

	return fromRow(&row)
}

func (r *taxRuleRepository) GetByCode(ctx context.Context, code string) (*taxrule.TaxRule, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM tax_rules WHERE code = $1 AND tenant_id = $2 AND status = $3`,
		taxRuleColumns,
	)

	var row taxRuleRow
	err := sqlx.GetContext(ctx, r.client.Querier(ctx), &row, query,
		code, types.GetTenantID(ctx), string(types.StatusPublished))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.WithError(err).
				WithHintf("Tax rule with code %s was not found", code).
				WithReportableDetails(map[string]any{
					"code": code,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get tax rule by code").
			Mark(ierr.ErrDatabase)
	}

	return fromRow(&row)
}

func (r *taxRuleRepository) List(ctx context.Context, filter *types.TaxRuleFilter) ([]*taxrule.TaxRule, error) {
	where, args := r.buildWhere(ctx, filter)

	query := fmt.Sprintf(`SELECT %s FROM tax_rules WHERE %s ORDER BY priority ASC, id ASC`,
		taxRuleColumns, where)

	if filter != nil && !filter.IsUnlimited() {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.GetLimit(), filter.GetOffset())
	}

	var rows []taxRuleRow
	if err := sqlx.SelectContext(ctx, r.client.Querier(ctx), &rows, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list tax rules").
			Mark(ierr.ErrDatabase)
	}

	rules := make([]*taxrule.TaxRule, 0, len(rows))
	for i := range rows {
		rule, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func (r *taxRuleRepository) ListAll(ctx context.Context, filter *types.TaxRuleFilter) ([]*taxrule.TaxRule, error) {
	unlimited := *filter
	unlimited.QueryFilter = types.NewNoLimitQueryFilter()
	return r.List(ctx, &unlimited)
}

func (r *taxRuleRepository) Count(ctx context.Context, filter *types.TaxRuleFilter) (int, error) {
	where, args := r.buildWhere(ctx, filter)

	var count int
	query := `SELECT COUNT(*) FROM tax_rules WHERE ` + where
	if err := sqlx.GetContext(ctx, r.client.Querier(ctx), &count, query, args...); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count tax rules").
			Mark(ierr.ErrDatabase)
	}

	return count, nil
}

func (r *taxRuleRepository) Update(ctx context.Context, rule *taxrule.TaxRule) error {
	row, err := toRow(rule)
	if err != nil {
		return err
	}

	query := `UPDATE tax_rules SET
		name = :name, display_name = :display_name, description = :description,
		rate = :rate, fixed_amount = :fixed_amount, tiers = :tiers,
		minimum_amount = :minimum_amount, maximum_amount = :maximum_amount,
		rounding_mode = :rounding_mode, precision = :precision,
		is_inclusive = :is_inclusive, is_compound = :is_compound,
		is_default = :is_default, is_active = :is_active,
		effective_from = :effective_from, effective_until = :effective_until,
		priority = :priority, metadata = :metadata,
		status = :status, updated_at = :updated_at, updated_by = :updated_by
	WHERE id = :id AND tenant_id = :tenant_id`

	res, err := sqlx.NamedExecContext(ctx, r.client.Querier(ctx), query, row)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update tax rule").
			Mark(ierr.ErrDatabase)
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ierr.NewError("tax rule not found").
			WithHintf("Tax rule with ID %s was not found", rule.ID).
			WithReportableDetails(map[string]any{
				"tax_rule_id": rule.ID,
			}).
			Mark(ierr.ErrNotFound)
	}

	return nil
}

// Delete archives the rule; rules referenced by historical calculations are
// never physically removed
func (r *taxRuleRepository) Delete(ctx context.Context, rule *taxrule.TaxRule) error {
	rule.Status = types.StatusArchived
	rule.IsActive = false
	rule.UpdatedAt = time.Now().UTC()
	rule.UpdatedBy = types.GetUserID(ctx)
	return r.Update(ctx, rule)
}

func (r *taxRuleRepository) buildWhere(ctx context.Context, filter *types.TaxRuleFilter) (string, []interface{}) {
	conditions := []string{"tenant_id = ?", "status = ?"}
	args := []interface{}{types.GetTenantID(ctx)}

	status := types.StatusPublished
	if filter != nil && filter.QueryFilter != nil {
		status = filter.GetStatus()
	}
	args = append(args, string(status))

	if filter != nil {
		if len(filter.TaxRuleIDs) > 0 {
			conditions = append(conditions, "id = ANY(?)")
			args = append(args, pq.StringArray(filter.TaxRuleIDs))
		}
		if len(filter.TaxRuleCodes) > 0 {
			conditions = append(conditions, "code = ANY(?)")
			args = append(args, pq.StringArray(filter.TaxRuleCodes))
		}
		if filter.Kind != "" {
			conditions = append(conditions, "kind = ?")
			args = append(args, string(filter.Kind))
		}
		if filter.TierClass != "" {
			conditions = append(conditions, "tier_class = ?")
			args = append(args, string(filter.TierClass))
		}
		if filter.Country != "" {
			conditions = append(conditions, "country = ?")
			args = append(args, filter.Country)
		}
		if filter.OnlyActive {
			conditions = append(conditions, "is_active = TRUE")
		}
		if filter.OnlyDefault {
			conditions = append(conditions, "is_default = TRUE")
		}
	}

	where := strings.Join(conditions, " AND ")
	return sqlx.Rebind(sqlx.DOLLAR, where), args
}

func toRow(rule *taxrule.TaxRule) (*taxRuleRow, error) {
	tiers, err := json.Marshal(rule.Tiers)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode tax rule tiers").
			Mark(ierr.ErrSystem)
	}

	metadata, err := json.Marshal(rule.Metadata)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode tax rule metadata").
			Mark(ierr.ErrSystem)
	}

	return &taxRuleRow{
		ID:          rule.ID,
		Name:        rule.Name,
		Code:        rule.Code,
		DisplayName: rule.DisplayName,
		Description: rule.Description,

		Kind:      string(rule.Kind),
		TierClass: string(rule.TierClass),

		Method:      string(rule.Method),
		Rate:        toNullDecimal(rule.Rate),
		FixedAmount: toNullDecimal(rule.FixedAmount),
		Tiers:       tiers,

		MinimumAmount: toNullDecimal(rule.MinimumAmount),
		MaximumAmount: toNullDecimal(rule.MaximumAmount),

		RoundingMode: string(rule.RoundingMode),
		Precision:    rule.Precision,

		IsInclusive: rule.IsInclusive,
		IsCompound:  rule.IsCompound,
		IsDefault:   rule.IsDefault,
		IsActive:    rule.IsActive,

		Country:              rule.Country,
		State:                rule.State,
		City:                 rule.City,
		PostalCodes:          rule.PostalCodes,
		ProductTypes:         rule.ProductTypes,
		ExcludedProductTypes: rule.ExcludedProductTypes,
		CustomerTypes:        rule.CustomerTypes,

		MinOrderAmount: toNullDecimal(rule.MinOrderAmount),
		MaxOrderAmount: toNullDecimal(rule.MaxOrderAmount),
		MinQuantity:    toNullDecimal(rule.MinQuantity),
		MaxQuantity:    toNullDecimal(rule.MaxQuantity),

		EffectiveFrom:  toNullTime(rule.EffectiveFrom),
		EffectiveUntil: toNullTime(rule.EffectiveUntil),

		Priority: rule.Priority,
		Metadata: metadata,

		TenantID:  rule.TenantID,
		Status:    string(rule.Status),
		CreatedAt: rule.CreatedAt,
		UpdatedAt: rule.UpdatedAt,
		CreatedBy: rule.CreatedBy,
		UpdatedBy: rule.UpdatedBy,
	}, nil
}

func fromRow(row *taxRuleRow) (*taxrule.TaxRule, error) {
	var tiers []taxrule.TaxRuleTier
	if len(row.Tiers) > 0 {
		if err := json.Unmarshal(row.Tiers, &tiers); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to decode tax rule tiers").
				Mark(ierr.ErrSystem)
		}
	}

	var metadata types.Metadata
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to decode tax rule metadata").
				Mark(ierr.ErrSystem)
		}
	}

	return &taxrule.TaxRule{
		ID:          row.ID,
		Name:        row.Name,
		Code:        row.Code,
		DisplayName: row.DisplayName,
		Description: row.Description,

		Kind:      types.TaxRuleKind(row.Kind),
		TierClass: types.TaxTierClass(row.TierClass),

		Method:      types.TaxMethod(row.Method),
		Rate:        fromNullDecimal(row.Rate),
		FixedAmount: fromNullDecimal(row.FixedAmount),
		Tiers:       tiers,

		MinimumAmount: fromNullDecimal(row.MinimumAmount),
		MaximumAmount: fromNullDecimal(row.MaximumAmount),

		RoundingMode: types.RoundingMode(row.RoundingMode),
		Precision:    row.Precision,

		IsInclusive: row.IsInclusive,
		IsCompound:  row.IsCompound,
		IsDefault:   row.IsDefault,
		IsActive:    row.IsActive,

		Country:              row.Country,
		State:                row.State,
		City:                 row.City,
		PostalCodes:          row.PostalCodes,
		ProductTypes:         row.ProductTypes,
		ExcludedProductTypes: row.ExcludedProductTypes,
		CustomerTypes:        row.CustomerTypes,

		MinOrderAmount: fromNullDecimal(row.MinOrderAmount),
		MaxOrderAmount: fromNullDecimal(row.MaxOrderAmount),
		MinQuantity:    fromNullDecimal(row.MinQuantity),
		MaxQuantity:    fromNullDecimal(row.MaxQuantity),

		EffectiveFrom:  fromNullTime(row.EffectiveFrom),
		EffectiveUntil: fromNullTime(row.EffectiveUntil),

		Priority: row.Priority,
		Metadata: metadata,

		BaseModel: types.BaseModel{
			TenantID:  row.TenantID,
			Status:    types.Status(row.Status),
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
			CreatedBy: row.CreatedBy,
			UpdatedBy: row.UpdatedBy,
		},
	}, nil
}

func toNullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
