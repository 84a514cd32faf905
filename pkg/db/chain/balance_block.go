package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/canopy-network/balanceblocks/pkg/db/clickhouse"
	indexermodels "github.com/canopy-network/balanceblocks/pkg/db/models/indexer"
)

func (db *DB) initBalanceBlocks(ctx context.Context) error {
	return db.createTable(ctx,
		indexermodels.BalanceBlocksTableName,
		indexermodels.ColumnsToSchemaSQL(indexermodels.BalanceBlockColumns),
		db.Engine(clickhouse.ReplacingMergeTree, "computed_at"),
		"address, start_height, end_height",
	)
}

// InsertBalanceBlocks stores computed totals. Recomputing a range replaces the previous row on merge.
func (db *DB) InsertBalanceBlocks(ctx context.Context, rows []*indexermodels.BalanceBlock) error {
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES`,
		db.table(indexermodels.BalanceBlocksTableName),
		strings.Join(indexermodels.ColumnsToNameList(indexermodels.BalanceBlockColumns), ", "))
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, r := range rows {
		if err := batch.Append(
			r.Address,
			r.StartHeight,
			r.EndHeight,
			r.Amount,
			r.Observations,
			r.ComputedAt,
		); err != nil {
			return err
		}
	}

	return batch.Send()
}

// GetBalanceBlocks returns the latest stored total for address over [start, end), or ErrNotFound.
func (db *DB) GetBalanceBlocks(ctx context.Context, address string, start, end uint64) (*indexermodels.BalanceBlock, error) {
	query := fmt.Sprintf(`
		SELECT address, start_height, end_height, amount, observations, computed_at
		FROM %s FINAL
		WHERE address = ? AND start_height = ? AND end_height = ?
		LIMIT 1
	`, db.table(indexermodels.BalanceBlocksTableName))

	var rows []indexermodels.BalanceBlock
	if err := db.Select(ctx, &rows, query, address, start, end); err != nil {
		return nil, fmt.Errorf("balance blocks %s [%d, %d): %w", address, start, end, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("balance blocks %s [%d, %d): %w", address, start, end, ErrNotFound)
	}
	return &rows[0], nil
}
