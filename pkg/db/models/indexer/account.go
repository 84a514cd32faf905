package indexer

import (
	"math/big"
	"time"

	"github.com/canopy-network/balanceblocks/pkg/balanceblocks"
)

const AccountsTableName = "accounts"

// AccountColumns defines the accounts table.
var AccountColumns = []ColumnDef{
	{Name: "address", Type: "String", Codec: "ZSTD(1)"},
	{Name: "amount", Type: "UInt64", Codec: "Delta, ZSTD(3)"},
	{Name: "height", Type: "UInt64", Codec: "DoubleDelta, LZ4"},
	{Name: "height_time", Type: "DateTime64(6)", Codec: "DoubleDelta, LZ4"},
}

// Account is a balance snapshot written only when the balance changes. The rows of one address ordered
// by height are exactly the observation log of its balance step function.
type Account struct {
	Address    string    `ch:"address" json:"address"`
	Amount     uint64    `ch:"amount" json:"amount"` // uCNPY
	Height     uint64    `ch:"height" json:"height"`
	HeightTime time.Time `ch:"height_time" json:"height_time"`
}

// Observations converts height-ordered snapshots into balance observations.
func Observations(rows []Account) []balanceblocks.Observation {
	out := make([]balanceblocks.Observation, len(rows))
	for i, r := range rows {
		out[i] = balanceblocks.Observation{Height: r.Height, Amount: new(big.Int).SetUint64(r.Amount)}
	}
	return out
}
