package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/balanceblocks/pkg/db/clickhouse"
	indexermodels "github.com/canopy-network/balanceblocks/pkg/db/models/indexer"
)

func (db *DB) initSyncProgress(ctx context.Context) error {
	return db.createTable(ctx,
		indexermodels.SyncProgressTableName,
		indexermodels.ColumnsToSchemaSQL(indexermodels.SyncProgressColumns),
		db.Engine(clickhouse.MergeTree, ""),
		"chain_id, height",
	)
}

// LastSynced returns the highest recorded height, or 0 before the first sync.
func (db *DB) LastSynced(ctx context.Context) (uint64, error) {
	query := fmt.Sprintf(`SELECT max(height) FROM %s WHERE chain_id = ?`, db.table(indexermodels.SyncProgressTableName))

	var height uint64
	if err := db.QueryRow(ctx, query, db.ChainID).Scan(&height); err != nil {
		if clickhouse.IsNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("last synced height: %w", err)
	}
	return height, nil
}

// RecordSynced records that every height up to and including height is stored.
func (db *DB) RecordSynced(ctx context.Context, height uint64) error {
	query := fmt.Sprintf(`INSERT INTO %s (chain_id, height, updated_at) VALUES (?, ?, ?)`,
		db.table(indexermodels.SyncProgressTableName))
	if err := db.Exec(ctx, query, db.ChainID, height, time.Now().UTC()); err != nil {
		return fmt.Errorf("record synced height %d: %w", height, err)
	}
	return nil
}
