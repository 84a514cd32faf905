package rpc

// RPC endpoint paths for Canopy node queries.
const (
	headPath             = "/v1/query/height"
	blockByHeightPath    = "/v1/query/block-by-height"
	accountsByHeightPath = "/v1/query/accounts"
	accountByHeightPath  = "/v1/query/account"
)
