package chain

import (
	"context"
	"fmt"
	"time"

	indexermodels "github.com/canopy-network/balanceblocks/pkg/db/models/indexer"
	"go.uber.org/zap"
)

// CompactableTables are the ReplacingMergeTree tables whose duplicates OPTIMIZE ... FINAL removes.
var CompactableTables = []string{
	indexermodels.AccountsTableName,
	indexermodels.BalanceBlocksTableName,
}

// CompactionResult is the outcome of compacting one table.
type CompactionResult struct {
	Table    string
	Duration time.Duration
	Err      error
}

// Compact runs OPTIMIZE TABLE FINAL on every compactable table, one at a time. A failing table does not
// stop the others; the first error is returned alongside every result.
func (db *DB) Compact(ctx context.Context) ([]CompactionResult, error) {
	results := make([]CompactionResult, 0, len(CompactableTables))
	var firstErr error

	for _, table := range CompactableTables {
		start := time.Now()
		err := db.Exec(ctx, compactQuery(db.table(table), db.OnCluster()))
		res := CompactionResult{Table: table, Duration: time.Since(start), Err: err}
		results = append(results, res)

		if err != nil {
			db.Logger.Error("Table compaction failed",
				zap.String("table", table),
				zap.Duration("duration", res.Duration),
				zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("compact %s: %w", table, err)
			}
			continue
		}
		db.Logger.Info("Table compaction completed",
			zap.String("table", table),
			zap.Duration("duration", res.Duration))
	}

	return results, firstErr
}

func compactQuery(table, onCluster string) string {
	if onCluster == "" {
		return fmt.Sprintf(`OPTIMIZE TABLE %s FINAL`, table)
	}
	return fmt.Sprintf(`OPTIMIZE TABLE %s %s FINAL`, table, onCluster)
}
