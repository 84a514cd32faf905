package rpc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/canopy-network/balanceblocks/pkg/utils"
)

// Account is an account as returned by /v1/query/accounts and /v1/query/account.
type Account struct {
	Address string `json:"address"` // Hex bytes from RPC
	Amount  uint64 `json:"amount"`  // Balance in uCNPY
}

// AccountsByHeight fetches every account at height, following pagination.
func (c *HTTPClient) AccountsByHeight(ctx context.Context, height uint64) ([]*Account, error) {
	accounts, err := ListPaged[*Account](ctx, c, accountsByHeightPath, NewQueryByHeightRequest(height))
	if err != nil {
		return nil, fmt.Errorf("accounts at height %d: %w", height, err)
	}
	for _, a := range accounts {
		a.Address = utils.NormalizeAddress(a.Address)
	}
	return accounts, nil
}

// AccountByHeight fetches a single account at height. Unknown addresses come back with a zero amount,
// which is how the node reports them.
func (c *HTTPClient) AccountByHeight(ctx context.Context, address string, height uint64) (*Account, error) {
	var out Account
	req := NewQueryByHeightRequest(height).WithAddress(address)
	if err := c.doJSON(ctx, http.MethodPost, accountByHeightPath, req, &out); err != nil {
		return nil, fmt.Errorf("account %s at height %d: %w", address, height, err)
	}
	if out.Address == "" {
		out.Address = address
	}
	out.Address = utils.NormalizeAddress(out.Address)
	return &out, nil
}
