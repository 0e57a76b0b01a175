package api

import (
	"net/http"

	v1 "github.com/commercebridge/taxcore/internal/api/v1"
	"github.com/commercebridge/taxcore/internal/config"
	"github.com/commercebridge/taxcore/internal/logger"
	"github.com/commercebridge/taxcore/internal/rest/middleware"
	"github.com/commercebridge/taxcore/internal/types"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	TaxRule        *v1.TaxRuleHandler
	TaxCalculation *v1.TaxCalculationHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	if cfg.Deployment.Mode == types.ModeProd {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.TenantMiddleware)
	router.Use(middleware.ErrorHandler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// v1 routes
	v1Group := router.Group("/v1")
	registerV1Routes(v1Group, handlers)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	taxes := router.Group("/taxes")
	{
		rules := taxes.Group("/rules")
		{
			rules.POST("", handlers.TaxRule.CreateTaxRule)
			rules.GET("", handlers.TaxRule.ListTaxRules)
			rules.POST("/preview", handlers.TaxRule.PreviewApplicableRules)
			rules.GET("/code/:code", handlers.TaxRule.GetTaxRuleByCode)
			rules.GET("/:id", handlers.TaxRule.GetTaxRule)
			rules.PUT("/:id", handlers.TaxRule.UpdateTaxRule)
			rules.DELETE("/:id", handlers.TaxRule.DeleteTaxRule)
		}

		taxes.POST("/calculate", handlers.TaxCalculation.Calculate)
	}
}
