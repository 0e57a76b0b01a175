package v1

import (
	"net/http"
	"strconv"

	"github.com/commercebridge/taxcore/internal/api/dto"
	"github.com/commercebridge/taxcore/internal/domain/taxrule"
	ierr "github.com/commercebridge/taxcore/internal/errors"
	"github.com/commercebridge/taxcore/internal/logger"
	"github.com/commercebridge/taxcore/internal/service"
	"github.com/commercebridge/taxcore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type TaxRuleHandler struct {
	service service.TaxRuleService
	logger  *logger.Logger
}

func NewTaxRuleHandler(service service.TaxRuleService, logger *logger.Logger) *TaxRuleHandler {
	return &TaxRuleHandler{
		service: service,
		logger:  logger,
	}
}

// @Summary Create a new tax rule
// @Description Creates a new tax rule
// @Tags TaxRules
// @Accept json
// @Produce json
// @Param tax_rule body dto.CreateTaxRuleRequest true "Tax rule request"
// @Success 201 {object} dto.TaxRuleResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /taxes/rules [post]
func (h *TaxRuleHandler) CreateTaxRule(c *gin.Context) {
	var req dto.CreateTaxRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	response, err := h.service.CreateTaxRule(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, response)
}

// @Summary Get a tax rule by ID
// @Description Retrieves a tax rule by ID
// @Tags TaxRules
// @Accept json
// @Produce json
// @Param id path string true "Tax rule ID"
// @Success 200 {object} dto.TaxRuleResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /taxes/rules/{id} [get]
func (h *TaxRuleHandler) GetTaxRule(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("tax rule ID is required").
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	response, err := h.service.GetTaxRule(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// @Summary Get a tax rule by code
// @Description Retrieves a tax rule by its human-readable code
// @Tags TaxRules
// @Accept json
// @Produce json
// @Param code path string true "Tax rule code"
// @Success 200 {object} dto.TaxRuleResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /taxes/rules/code/{code} [get]
func (h *TaxRuleHandler) GetTaxRuleByCode(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		c.Error(ierr.NewError("tax rule code is required").
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	response, err := h.service.GetTaxRuleByCode(c.Request.Context(), code)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// @Summary List tax rules
// @Description Lists tax rules with optional filtering and pagination
// @Tags TaxRules
// @Accept json
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Param kind query string false "Filter by tax kind"
// @Param tier_class query string false "Filter by tier class"
// @Param country query string false "Filter by country"
// @Param only_active query bool false "Only active rules"
// @Success 200 {object} dto.ListTaxRulesResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /taxes/rules [get]
func (h *TaxRuleHandler) ListTaxRules(c *gin.Context) {
	filter, err := parseTaxRuleFilter(c)
	if err != nil {
		c.Error(err)
		return
	}

	response, err := h.service.ListTaxRules(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// @Summary Update a tax rule
// @Description Updates an existing tax rule
// @Tags TaxRules
// @Accept json
// @Produce json
// @Param id path string true "Tax rule ID"
// @Param tax_rule body dto.UpdateTaxRuleRequest true "Tax rule update request"
// @Success 200 {object} dto.TaxRuleResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /taxes/rules/{id} [put]
func (h *TaxRuleHandler) UpdateTaxRule(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("tax rule ID is required").
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	var req dto.UpdateTaxRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	response, err := h.service.UpdateTaxRule(c.Request.Context(), id, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// @Summary Delete a tax rule
// @Description Archives a tax rule so it no longer applies to new calculations
// @Tags TaxRules
// @Accept json
// @Produce json
// @Param id path string true "Tax rule ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /taxes/rules/{id} [delete]
func (h *TaxRuleHandler) DeleteTaxRule(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("tax rule ID is required").
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	if err := h.service.DeleteTaxRule(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "tax rule deleted successfully"})
}

// @Summary Preview applicable tax rules
// @Description Returns the rules that would apply to a tax context without computing amounts
// @Tags TaxRules
// @Accept json
// @Produce json
// @Param context body dto.CalculateTaxRequest true "Tax context"
// @Success 200 {object} dto.PreviewApplicableRulesResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /taxes/rules/preview [post]
func (h *TaxRuleHandler) PreviewApplicableRules(c *gin.Context) {
	var req dto.CalculateTaxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	rules, err := h.service.ApplicableRules(c.Request.Context(), req.ToTaxContext())
	if err != nil {
		c.Error(err)
		return
	}

	response := &dto.PreviewApplicableRulesResponse{
		Items: lo.Map(rules, func(r *taxrule.TaxRule, _ int) *dto.TaxRuleResponse {
			return &dto.TaxRuleResponse{TaxRule: r}
		}),
	}

	c.JSON(http.StatusOK, response)
}

func parseTaxRuleFilter(c *gin.Context) (*types.TaxRuleFilter, error) {
	filter := types.NewTaxRuleFilter()

	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			return nil, ierr.NewError("invalid limit").
				WithHint("limit must be a positive integer").
				Mark(ierr.ErrValidation)
		}
		filter.QueryFilter.Limit = &n
	}

	if offset := c.Query("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return nil, ierr.NewError("invalid offset").
				WithHint("offset must be a non-negative integer").
				Mark(ierr.ErrValidation)
		}
		filter.QueryFilter.Offset = &n
	}

	if kind := c.Query("kind"); kind != "" {
		k := types.TaxRuleKind(kind)
		if err := k.Validate(); err != nil {
			return nil, err
		}
		filter.Kind = k
	}

	if tierClass := c.Query("tier_class"); tierClass != "" {
		tc := types.TaxTierClass(tierClass)
		if err := tc.Validate(); err != nil {
			return nil, err
		}
		filter.TierClass = tc
	}

	filter.Country = c.Query("country")
	filter.OnlyActive = c.Query("only_active") == "true"
	filter.OnlyDefault = c.Query("only_default") == "true"

	return filter, nil
}
