package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HeadBlock is the response of /v1/query/height.
type HeadBlock struct {
	Height uint64 `json:"height"`
}

// BlockByHeight keeps the header fields needed to timestamp balance changes.
type BlockByHeight struct {
	BlockHeader struct {
		Height uint64 `json:"height"`
		Hash   string `json:"hash"`
		Time   int64  `json:"time"` // unix micros
	} `json:"blockHeader"`
}

// ChainHead returns the height of the chain head.
func (c *HTTPClient) ChainHead(ctx context.Context) (uint64, error) {
	var resp HeadBlock
	if err := c.doJSON(ctx, http.MethodPost, headPath, map[string]any{}, &resp); err != nil {
		return 0, fmt.Errorf("cannot probe head: %w", err)
	}
	if resp.Height == 0 {
		return 0, fmt.Errorf("cannot probe head: node reported height 0")
	}
	return resp.Height, nil
}

// BlockTime returns the timestamp of the block at height.
func (c *HTTPClient) BlockTime(ctx context.Context, height uint64) (time.Time, error) {
	var out BlockByHeight
	if err := c.doJSON(ctx, http.MethodPost, blockByHeightPath, NewQueryByHeightRequest(height), &out); err != nil {
		return time.Time{}, fmt.Errorf("block %d: %w", height, err)
	}
	if out.BlockHeader.Height != height {
		return time.Time{}, fmt.Errorf("block %d is not ready yet (node returned height %d)", height, out.BlockHeader.Height)
	}
	return time.UnixMicro(out.BlockHeader.Time).UTC(), nil
}
