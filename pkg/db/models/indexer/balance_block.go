package indexer

import "time"

const BalanceBlocksTableName = "balance_blocks"

// BalanceBlockColumns defines the balance_blocks table. Totals are stored as decimal strings because
// they routinely exceed 64 bits.
var BalanceBlockColumns = []ColumnDef{
	{Name: "address", Type: "String", Codec: "ZSTD(1)"},
	{Name: "start_height", Type: "UInt64", Codec: "Delta, ZSTD(1)"},
	{Name: "end_height", Type: "UInt64", Codec: "Delta, ZSTD(1)"},
	{Name: "amount", Type: "String", Codec: "ZSTD(1)"},
	{Name: "observations", Type: "UInt32"},
	{Name: "computed_at", Type: "DateTime64(6)"},
}

// BalanceBlock is a computed balance-block total for one address over [StartHeight, EndHeight).
type BalanceBlock struct {
	Address      string    `ch:"address" json:"address"`
	StartHeight  uint64    `ch:"start_height" json:"start"`
	EndHeight    uint64    `ch:"end_height" json:"end"`
	Amount       string    `ch:"amount" json:"balance_blocks"`
	Observations uint32    `ch:"observations" json:"observations"`
	ComputedAt   time.Time `ch:"computed_at" json:"computed_at"`
}
