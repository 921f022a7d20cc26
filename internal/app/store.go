package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ncecere/usage_analytics/internal/config"
	"github.com/ncecere/usage_analytics/internal/database"
	"github.com/ncecere/usage_analytics/internal/recordstore"
	"github.com/ncecere/usage_analytics/internal/recordstore/memory"
	"github.com/ncecere/usage_analytics/internal/recordstore/redisstore"
	"github.com/ncecere/usage_analytics/internal/recordstore/sqlstore"
	"github.com/ncecere/usage_analytics/internal/redisclient"
)

// Backend is an opened record store plus the connection handles behind it.
type Backend struct {
	Driver string
	Store  recordstore.ReadWriter
	DBPool *pgxpool.Pool
	SQLite *sql.DB
	Redis  *redis.Client
}

// OpenBackend connects the driver selected by store.driver, running
// migrations first when the driver is SQL-backed and migrations are enabled.
func OpenBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	b := &Backend{Driver: cfg.Store.Driver}
	switch cfg.Store.Driver {
	case config.DriverMemory, "":
		b.Driver = config.DriverMemory
		b.Store = memory.New()
	case config.DriverPostgres:
		if cfg.Database.RunMigrations {
			if err := database.RunMigrations(ctx, cfg.Database); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		b.DBPool = pool
		b.Store = sqlstore.NewPostgres(pool)
	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if cfg.SQLite.RunMigrations {
			if err := database.MigrateSQLite(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		b.SQLite = db
		b.Store = sqlstore.NewSQLite(db)
	case config.DriverRedis:
		client := redisclient.New(cfg.Redis)
		if err := redisclient.Ping(ctx, client); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.Redis = client
		b.Store = redisstore.New(client, cfg.Redis.KeyPrefix)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	return b, nil
}

// Close releases whichever connection the backend holds.
func (b *Backend) Close() error {
	if b == nil {
		return nil
	}
	var err error
	if b.DBPool != nil {
		b.DBPool.Close()
	}
	if b.SQLite != nil {
		err = b.SQLite.Close()
	}
	if b.Redis != nil {
		if cerr := b.Redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
