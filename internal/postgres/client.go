package postgres

import (
	"context"
	"time"

	"github.com/commercebridge/taxcore/internal/config"
	ierr "github.com/commercebridge/taxcore/internal/errors"
	"github.com/commercebridge/taxcore/internal/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type txContextKey struct{}

// IClient defines the interface for postgres client operations
type IClient interface {
	// WithTx wraps the given function in a transaction carried via context
	WithTx(ctx context.Context, fn func(context.Context) error) error

	// TxFromContext returns the transaction from context if it exists
	TxFromContext(ctx context.Context) *sqlx.Tx

	// Querier returns the current transaction if in one, or the plain connection
	Querier(ctx context.Context) sqlx.ExtContext
}

// Client wraps sqlx.DB to provide transaction management
type Client struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewDB opens a postgres connection pool from config
func NewDB(cfg *config.Configuration) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Postgres.GetDSN())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to connect to postgres").
			Mark(ierr.ErrDatabase)
	}

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Postgres.ConnMaxLifetimeMinutes) * time.Minute)

	return db, nil
}

// NewClient creates a new postgres client
func NewClient(db *sqlx.DB, logger *logger.Logger) IClient {
	return &Client{
		db:     db,
		logger: logger,
	}
}

// WithTx runs fn inside a transaction. A transaction already present in the
// context is reused so nested calls share one transaction.
func (c *Client) WithTx(ctx context.Context, fn func(context.Context) error) error {
	if tx := c.TxFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to begin transaction").
			Mark(ierr.ErrDatabase)
	}

	txCtx := context.WithValue(ctx, txContextKey{}, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Errorw("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to commit transaction").
			Mark(ierr.ErrDatabase)
	}

	return nil
}

// TxFromContext returns the transaction carried in ctx, or nil
func (c *Client) TxFromContext(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

// Querier returns the transaction if one is in flight, otherwise the pool
func (c *Client) Querier(ctx context.Context) sqlx.ExtContext {
	if tx := c.TxFromContext(ctx); tx != nil {
		return tx
	}
	return c.db
}
