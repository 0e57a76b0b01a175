package main

import (
	"context"
	"time"

	"github.com/commercebridge/taxcore/internal/api"
	v1 "github.com/commercebridge/taxcore/internal/api/v1"
	"github.com/commercebridge/taxcore/internal/cache"
	"github.com/commercebridge/taxcore/internal/config"
	"github.com/commercebridge/taxcore/internal/logger"
	"github.com/commercebridge/taxcore/internal/postgres"
	"github.com/commercebridge/taxcore/internal/repository"
	"github.com/commercebridge/taxcore/internal/service"
	"github.com/commercebridge/taxcore/internal/testutil"
	"github.com/commercebridge/taxcore/internal/validator"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

// @title TaxCore API
// @version 1.0
// @description Multi-tenant tax rule registry and calculation service
// @BasePath /v1
// @schemes http https

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	app := fx.New(
		fx.Provide(
			// Validator
			validator.NewValidator,

			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Cache
			cache.NewInMemoryCache,

			// Postgres
			provideDBClient,

			// Repositories
			repository.NewTaxRuleRepository,

			// Services
			service.NewServiceParams,
			service.NewTaxRuleService,
			service.NewTaxCalculationService,

			// API
			provideHandlers,
			api.NewRouter,
		),
		fx.Invoke(startServer),
	)

	app.Run()
}

// provideDBClient opens a postgres pool unless the in-memory backend is
// configured, in which case no database is needed at all.
func provideDBClient(cfg *config.Configuration, log *logger.Logger) (postgres.IClient, error) {
	if cfg.Repository.Backend == "inmemory" {
		return testutil.NewMockPostgresClient(log), nil
	}

	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, err
	}
	return postgres.NewClient(db, log), nil
}

func provideHandlers(
	logger *logger.Logger,
	taxRuleService service.TaxRuleService,
	taxCalculationService service.TaxCalculationService,
) api.Handlers {
	return api.Handlers{
		TaxRule:        v1.NewTaxRuleHandler(taxRuleService, logger),
		TaxCalculation: v1.NewTaxCalculationHandler(taxCalculationService, logger),
	}
}

func startServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := r.Run(cfg.Server.Address); err != nil {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			return nil
		},
	})
}
