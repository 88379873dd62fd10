package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/observer"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

const (
	defaultRetryInitialInterval = 50 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	readRetryMaxElapsedTime     = 5 * time.Second
	commitRetryMaxElapsedTime   = 15 * time.Second
)

var activeConversationStatuses = []string{
	string(model.ConversationOpen),
	string(model.ConversationPending),
}

// PostgresRepo implements every repository interface on one tenant schema.
type PostgresRepo struct {
	db *gorm.DB
}

var (
	_ ContactRepo        = (*PostgresRepo)(nil)
	_ ConversationRepo   = (*PostgresRepo)(nil)
	_ UserRepo           = (*PostgresRepo)(nil)
	_ MessageRepo        = (*PostgresRepo)(nil)
	_ ChatbotRepo        = (*PostgresRepo)(nil)
	_ ChannelAccountRepo = (*PostgresRepo)(nil)
	_ CampaignRepo       = (*PostgresRepo)(nil)
	_ ExhaustedEventRepo = (*PostgresRepo)(nil)
)

func newRetryPolicy(ctx context.Context, maxElapsedTime time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = maxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// retryableOperation retries operation while it fails with transient errors.
func retryableOperation(ctx context.Context, policy backoff.BackOffContext, opName string, operation func() error) error {
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", opName),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}

	return backoff.RetryNotify(func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) ||
			errors.Is(err, gorm.ErrInvalidTransaction) ||
			errors.Is(err, apperrors.ErrNotFound) ||
			errors.Is(err, apperrors.ErrInvariantViolation) ||
			errors.Is(err, apperrors.ErrBadRequest) ||
			errors.Is(err, apperrors.ErrValidation) {
			return backoff.Permanent(err)
		}
		if isTransientError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, notify)
}

// isTransientError reports whether err looks like a connection, resource or
// serialization problem worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			pgErr.Code == "40P01" ||
			pgErr.Code == "40001" {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
		"connection reset",
		"could not translate host name",
		"no route to host",
		"database system is starting up",
		"connection timed out",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// checkConstraintViolation maps driver errors onto apperrors sentinels.
func checkConstraintViolation(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrDuplicate, pgErr.ConstraintName, err)
		case "23503", "23514":
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)
		case "23502":
			return fmt.Errorf("%w: null value in column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "22001", "22P02":
			return fmt.Errorf("%w: invalid value (%s): %w", apperrors.ErrBadRequest, pgErr.Code, err)
		case "40001", "40P01":
			return fmt.Errorf("%w: transaction rollback (%s): %w", apperrors.ErrConflict, pgErr.Code, err)
		default:
			return fmt.Errorf("%w: pgcode %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
		}
	}
	return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
}

// companyFromContext returns the tenant or an ErrBadRequest-wrapped error.
func companyFromContext(ctx context.Context) (string, error) {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrBadRequest, err)
	}
	return companyID, nil
}

// inTx runs fn in one transaction. Any error from fn rolls back.
func (r *PostgresRepo) inTx(ctx context.Context, fn func(tx *gorm.DB) error) (err error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
	}
	committed := false
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if !committed {
			if rbErr := tx.Rollback().Error; rbErr != nil && !errors.Is(rbErr, gorm.ErrInvalidTransaction) {
				logger.FromContext(ctx).Error("Failed to rollback transaction", zap.Error(rbErr), zap.NamedError("original_error", err))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if cErr := tx.Commit().Error; cErr != nil {
		committed = true
		return checkConstraintViolation(cErr)
	}
	committed = true
	return nil
}

// write runs a mutating transaction with commit retries and metrics.
func (r *PostgresRepo) write(ctx context.Context, op, entity string, fn func(tx *gorm.DB) error) error {
	companyID, _ := tenant.FromContext(ctx)
	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), op, func() error {
		return r.inTx(ctx, fn)
	})
	observer.ObserveDbOperationDuration(op, entity, companyID, time.Since(start), err)
	return err
}

// read runs a query with the shorter read retry budget.
func (r *PostgresRepo) read(ctx context.Context, op, entity string, fn func(db *gorm.DB) error) error {
	companyID, _ := tenant.FromContext(ctx)
	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), op, func() error {
		return fn(r.db.WithContext(ctx))
	})
	observer.ObserveDbOperationDuration(op, entity, companyID, time.Since(start), err)
	return err
}

// tenantNamer qualifies every table with the company schema.
type tenantNamer struct {
	schema.NamingStrategy
	schemaName string
}

func (tn tenantNamer) TableName(table string) string {
	return fmt.Sprintf("%q.%s", tn.schemaName, table)
}

func connectWithRetry(dsn string, cfg *gorm.Config, what string) (*gorm.DB, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = time.Minute

	return backoff.RetryNotifyWithData(func() (*gorm.DB, error) {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			if isTransientError(err) {
				return nil, err
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to connect to %s: %w", what, err))
		}
		return db, nil
	}, b, func(err error, d time.Duration) {
		logger.Log.Warn("Retrying postgres connection", zap.String("target", what), zap.Error(err), zap.Duration("after", d))
	})
}

// NewPostgresRepo connects, ensures the company schema and, when asked,
// migrates tables and the partial unique indexes that back the
// one-active-conversation and one-active-assignment rules.
func NewPostgresRepo(dsn string, autoMigrate bool, companyID string) (*PostgresRepo, error) {
	bootstrap, err := connectWithRetry(dsn, &gorm.Config{}, "postgres")
	if err != nil {
		return nil, err
	}

	schemaName := fmt.Sprintf("router_%s", companyID)
	logger.Log.Info("Ensuring PostgreSQL schema exists", zap.String("schema", schemaName))
	if err := bootstrap.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schemaName)).Error; err != nil {
		closeGorm(bootstrap)
		return nil, fmt.Errorf("failed to create schema %s: %w", schemaName, err)
	}
	closeGorm(bootstrap)

	db, err := connectWithRetry(dsn, &gorm.Config{
		NamingStrategy: tenantNamer{schemaName: schemaName},
	}, "tenant schema "+schemaName)
	if err != nil {
		return nil, err
	}

	repo := &PostgresRepo{db: db}
	if !autoMigrate {
		return repo, nil
	}

	if err := db.AutoMigrate(
		&model.User{},
		&model.Contact{},
		&model.ContactIdentity{},
		&model.Conversation{},
		&model.ConversationAgent{},
		&model.Message{},
		&model.Chatbot{},
		&model.ChannelAccount{},
		&model.Campaign{},
		&model.ExhaustedEvent{},
	); err != nil {
		return nil, fmt.Errorf("auto-migration failed for schema %s: %w", schemaName, err)
	}

	for _, ddl := range []string{
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_conversation ON %q.conversations (company_id, contact_id) WHERE status IN ('OPEN','PENDING')`, schemaName),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_assignment ON %q.conversation_agents (conversation_id) WHERE active`, schemaName),
	} {
		if err := db.Exec(ddl).Error; err != nil {
			return nil, fmt.Errorf("failed to create partial index in %s: %w", schemaName, err)
		}
	}
	logger.Log.Info("Schema migrated", zap.String("schema", schemaName))
	return repo, nil
}

func closeGorm(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Ping checks connectivity for the readiness probe.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

// Close closes the underlying pool.
func (r *PostgresRepo) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}
	if err := sqlDB.Close(); err != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(err))
		return fmt.Errorf("failed to close SQL DB: %w", err)
	}
	logger.FromContext(ctx).Info("Database connection closed")
	return nil
}
