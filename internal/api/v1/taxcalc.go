package v1

import (
	"net/http"

	"github.com/commercebridge/taxcore/internal/api/dto"
	ierr "github.com/commercebridge/taxcore/internal/errors"
	"github.com/commercebridge/taxcore/internal/logger"
	"github.com/commercebridge/taxcore/internal/service"
	"github.com/gin-gonic/gin"
)

type TaxCalculationHandler struct {
	service service.TaxCalculationService
	logger  *logger.Logger
}

func NewTaxCalculationHandler(service service.TaxCalculationService, logger *logger.Logger) *TaxCalculationHandler {
	return &TaxCalculationHandler{
		service: service,
		logger:  logger,
	}
}

// @Summary Calculate taxes for a context
// @Description Computes the per-rule tax breakdown and total for the given context
// @Tags TaxCalculations
// @Accept json
// @Produce json
// @Param context body dto.CalculateTaxRequest true "Tax context"
// @Success 200 {object} dto.CalculateTaxResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 422 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /taxes/calculate [post]
func (h *TaxCalculationHandler) Calculate(c *gin.Context) {
	var req dto.CalculateTaxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.service.Calculate(c.Request.Context(), req.ToTaxContext())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewCalculateTaxResponse(result))
}
