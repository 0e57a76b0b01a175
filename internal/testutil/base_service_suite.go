package testutil

import (
	"context"
	"time"

	"github.com/commercebridge/taxcore/internal/cache"
	"github.com/commercebridge/taxcore/internal/config"
	"github.com/commercebridge/taxcore/internal/domain/taxrule"
	"github.com/commercebridge/taxcore/internal/logger"
	"github.com/commercebridge/taxcore/internal/postgres"
	"github.com/commercebridge/taxcore/internal/validator"
	"github.com/stretchr/testify/suite"
)

// Stores holds all the repository interfaces for testing
type Stores struct {
	TaxRuleRepo taxrule.Repository
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx    context.Context
	stores Stores
	db     postgres.IClient
	cache  cache.Cache
	logger *logger.Logger
	config *config.Configuration
	now    time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	validator.NewValidator()

	cfg := config.GetDefaultConfig()
	s.config = cfg

	var err error
	s.logger, err = logger.NewLogger(cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}

	s.db = NewMockPostgresClient(s.logger)
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.stores = Stores{
		TaxRuleRepo: NewInMemoryTaxRuleStore(),
	}
	s.cache = cache.NewInMemoryCache(s.config)
	s.now = time.Now().UTC()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	if store, ok := s.stores.TaxRuleRepo.(*InMemoryTaxRuleStore); ok {
		store.Clear()
	}
}

func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

func (s *BaseServiceTestSuite) GetDB() postgres.IClient {
	return s.db
}

func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now
}
