package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/canopy-network/balanceblocks/pkg/db/clickhouse"
	"go.uber.org/zap"
)

// DB is the ClickHouse database of one chain. It implements Store.
type DB struct {
	clickhouse.Client
	Name    string
	ChainID uint64
}

// DatabaseName returns the chain database name, e.g. chain_1.
func DatabaseName(chainID uint64) string {
	return clickhouse.SanitizeName(fmt.Sprintf("chain_%d", chainID))
}

// New connects to ClickHouse and makes sure the chain database and its tables exist.
func New(ctx context.Context, logger *zap.Logger, chainID uint64, poolConfig clickhouse.PoolConfig) (*DB, error) {
	dbName := DatabaseName(chainID)

	client, err := clickhouse.New(ctx, logger.With(
		zap.String("db", dbName),
		zap.String("component", poolConfig.Component),
		zap.Uint64("chainID", chainID),
	), dbName, poolConfig)
	if err != nil {
		return nil, err
	}

	chainDB := &DB{
		Client:  client,
		Name:    dbName,
		ChainID: chainID,
	}

	if err := chainDB.InitializeDB(ctx); err != nil {
		return nil, err
	}

	return chainDB, nil
}

// DatabaseName returns the name of the database.
func (db *DB) DatabaseName() string {
	return db.Name
}

// InitializeDB creates the database and then every table concurrently.
func (db *DB) InitializeDB(ctx context.Context) error {
	start := time.Now()

	if err := db.CreateDbIfNotExists(ctx, db.Name); err != nil {
		return fmt.Errorf("failed to create database %s: %w", db.Name, err)
	}

	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"accounts", db.initAccounts},
		{"balance_blocks", db.initBalanceBlocks},
		{"sync_progress", db.initSyncProgress},
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(initOps))
	for _, op := range initOps {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errChan <- fmt.Errorf("init %s: %w", name, err)
			}
		}(op.name, op.fn)
	}
	wg.Wait()
	close(errChan)

	for err := range errChan {
		return err
	}

	db.Logger.Info("Chain database initialization complete",
		zap.String("database", db.Name),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// createTable issues a CREATE TABLE IF NOT EXISTS for a table of this database.
func (db *DB) createTable(ctx context.Context, table, schemaSQL, engine, orderBy string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" %s (
			%s
		) ENGINE = %s
		ORDER BY (%s)
	`, db.Name, table, db.OnCluster(), schemaSQL, engine, orderBy)
	db.Logger.Debug("Creating table", zap.String("table", table), zap.String("query", query))
	return db.Exec(ctx, query)
}

// table returns the fully qualified name of a table.
func (db *DB) table(name string) string {
	return fmt.Sprintf(`"%s"."%s"`, db.Name, name)
}
