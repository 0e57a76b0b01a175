package testutil

import (
	"context"

	"github.com/commercebridge/taxcore/internal/logger"
	"github.com/commercebridge/taxcore/internal/postgres"
	"github.com/jmoiron/sqlx"
)

var _ postgres.IClient = (*MockPostgresClient)(nil) // Ensure MockPostgresClient implements IClient

// MockPostgresClient is a mock implementation of postgres client for testing.
// Services run against in-memory stores, so WithTx just executes the
// function without a real transaction.
type MockPostgresClient struct {
	logger *logger.Logger
}

// NewMockPostgresClient creates a new mock postgres client
func NewMockPostgresClient(logger *logger.Logger) postgres.IClient {
	return &MockPostgresClient{
		logger: logger,
	}
}

// WithTx executes the given function within a fake transaction
func (c *MockPostgresClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// TxFromContext always reports no transaction
func (c *MockPostgresClient) TxFromContext(ctx context.Context) *sqlx.Tx {
	return nil
}

// Querier returns nil; in-memory stores never issue SQL
func (c *MockPostgresClient) Querier(ctx context.Context) sqlx.ExtContext {
	return nil
}
