package indexer

import "time"

const SyncProgressTableName = "sync_progress"

// SyncProgressColumns defines the sync_progress table, one row per synced batch.
var SyncProgressColumns = []ColumnDef{
	{Name: "chain_id", Type: "UInt64"},
	{Name: "height", Type: "UInt64"},
	{Name: "updated_at", Type: "DateTime64(6)"},
}

// SyncProgress records the highest height whose balance changes are stored.
type SyncProgress struct {
	ChainID   uint64    `ch:"chain_id"`
	Height    uint64    `ch:"height"`
	UpdatedAt time.Time `ch:"updated_at"`
}
