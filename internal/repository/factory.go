package repository

import (
	"github.com/commercebridge/taxcore/internal/config"
	"github.com/commercebridge/taxcore/internal/domain/taxrule"
	"github.com/commercebridge/taxcore/internal/logger"
	"github.com/commercebridge/taxcore/internal/postgres"
	pgRepo "github.com/commercebridge/taxcore/internal/repository/postgres"
	"github.com/commercebridge/taxcore/internal/testutil"
)

// NewTaxRuleRepository resolves the configured persistence backend
func NewTaxRuleRepository(cfg *config.Configuration, client postgres.IClient, log *logger.Logger) taxrule.Repository {
	if cfg.Repository.Backend == "inmemory" {
		log.Warnw("using in-memory tax rule repository, data will not survive restarts")
		return testutil.NewInMemoryTaxRuleStore()
	}
	return pgRepo.NewTaxRuleRepository(client, log)
}
