package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/canopy-network/balanceblocks/pkg/db/clickhouse"
	indexermodels "github.com/canopy-network/balanceblocks/pkg/db/models/indexer"
)

// initAccounts creates the accounts table. ReplacingMergeTree(height) makes re-syncing a height
// idempotent.
func (db *DB) initAccounts(ctx context.Context) error {
	return db.createTable(ctx,
		indexermodels.AccountsTableName,
		indexermodels.ColumnsToSchemaSQL(indexermodels.AccountColumns),
		db.Engine(clickhouse.ReplacingMergeTree, "height"),
		"address, height",
	)
}

// InsertAccounts stores balance snapshots in a single batch.
func (db *DB) InsertAccounts(ctx context.Context, accounts []*indexermodels.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES`,
		db.table(indexermodels.AccountsTableName),
		strings.Join(indexermodels.ColumnsToNameList(indexermodels.AccountColumns), ", "))
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, account := range accounts {
		if err := batch.Append(
			account.Address,
			account.Amount,
			account.Height,
			account.HeightTime,
		); err != nil {
			return err
		}
	}

	return batch.Send()
}

// AccountHistory returns every balance change of address below height before, oldest first. FINAL
// collapses duplicates left by re-synced heights.
func (db *DB) AccountHistory(ctx context.Context, address string, before uint64) ([]indexermodels.Account, error) {
	query := fmt.Sprintf(`
		SELECT address, amount, height, height_time
		FROM %s FINAL
		WHERE address = ? AND height < ?
		ORDER BY height ASC
	`, db.table(indexermodels.AccountsTableName))

	var rows []indexermodels.Account
	if err := db.Select(ctx, &rows, query, address, before); err != nil {
		return nil, fmt.Errorf("account history %s: %w", address, err)
	}
	return rows, nil
}

// ListAddresses returns up to limit distinct addresses, sorted.
func (db *DB) ListAddresses(ctx context.Context, limit int) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT address
		FROM %s
		ORDER BY address
		LIMIT ?
	`, db.table(indexermodels.AccountsTableName))

	var rows []struct {
		Address string `ch:"address"`
	}
	if err := db.Select(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}

	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Address
	}
	return out, nil
}
