package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/zap"
)

const defaultSlowQuery = 200 * time.Millisecond

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// SlowQuery is the duration above which a query is logged at warn level.
	// Zero uses 200ms.
	SlowQuery time.Duration
}

// Open connects through the pgx stdlib driver and verifies the connection
// before handing back a bun handle. A nil log disables query logging.
func Open(ctx context.Context, databaseURL string, pool PoolConfig, log *zap.Logger) (*bun.DB, error) {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := bun.NewDB(sqlDB, pgdialect.New())
	if log != nil {
		db.AddQueryHook(newQueryLogger(log, pool.SlowQuery))
	}
	return db, nil
}

func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// queryLogger is a bun.QueryHook that reports failed and slow queries.
// sql.ErrNoRows is expected on lookups and is not logged.
type queryLogger struct {
	log  *zap.Logger
	slow time.Duration
}

func newQueryLogger(log *zap.Logger, slow time.Duration) *queryLogger {
	if slow <= 0 {
		slow = defaultSlowQuery
	}
	return &queryLogger{log: log.With(zap.String("component", "postgres")), slow: slow}
}

func (h *queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryLogger) AfterQuery(_ context.Context, ev *bun.QueryEvent) {
	elapsed := time.Since(ev.StartTime)
	switch {
	case ev.Err != nil && ev.Err != sql.ErrNoRows:
		h.log.Warn("query failed",
			zap.String("operation", ev.Operation()),
			zap.Duration("elapsed", elapsed),
			zap.Error(ev.Err),
		)
	case elapsed >= h.slow:
		h.log.Warn("slow query",
			zap.String("operation", ev.Operation()),
			zap.Duration("elapsed", elapsed),
			zap.String("query", ev.Query),
		)
	}
}
