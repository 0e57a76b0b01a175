package service

import (
	"github.com/commercebridge/taxcore/internal/cache"
	"github.com/commercebridge/taxcore/internal/config"
	"github.com/commercebridge/taxcore/internal/domain/taxrule"
	"github.com/commercebridge/taxcore/internal/logger"
	"github.com/commercebridge/taxcore/internal/postgres"
)

// ServiceParams holds the dependencies shared by all services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient
	Cache  cache.Cache

	TaxRuleRepo taxrule.Repository
}

// NewServiceParams assembles the shared service dependencies
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	cache cache.Cache,
	taxRuleRepo taxrule.Repository,
) ServiceParams {
	return ServiceParams{
		Logger:      logger,
		Config:      config,
		DB:          db,
		Cache:       cache,
		TaxRuleRepo: taxRuleRepo,
	}
}
