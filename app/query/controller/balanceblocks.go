package controller

import (
	"errors"
	"net/http"

	"github.com/canopy-network/balanceblocks/pkg/redis"
	"github.com/canopy-network/balanceblocks/pkg/reporter"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

type balanceBlocksResponse struct {
	Address       string `json:"address"`
	Start         uint64 `json:"start"`
	End           uint64 `json:"end"`
	BalanceBlocks string `json:"balanceBlocks"`
	Average       string `json:"average"`
	Observations  int    `json:"observations"`
}

func newBalanceBlocksResponse(res reporter.Result) balanceBlocksResponse {
	return balanceBlocksResponse{
		Address:       res.Address,
		Start:         res.Start,
		End:           res.End,
		BalanceBlocks: res.BalanceBlocks.String(),
		Average:       res.AverageString(),
		Observations:  res.Observations,
	}
}

// HandleBalanceBlocks returns the balance-blocks an account accumulated over [start, end).
// Query parameters:
//   - start, end (required)
func (c *Controller) HandleBalanceBlocks(w http.ResponseWriter, r *http.Request) {
	address, err := addressVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	key := redis.CacheKey(c.App.ChainID, address, start, end)

	if c.App.RedisClient != nil {
		cached, err := c.App.RedisClient.Get(ctx, key)
		switch {
		case err == nil:
			var resp balanceBlocksResponse
			if json.Unmarshal([]byte(cached), &resp) == nil {
				w.Header().Set("X-Cache", "HIT")
				writeJSON(w, http.StatusOK, resp)
				return
			}
		case !errors.Is(err, redis.ErrCacheMiss):
			c.App.Logger.Warn("Failed to read Redis cache", zap.String("key", key), zap.Error(err))
		}
	}

	series, err := c.App.LoadSeries(ctx, address, end)
	if err != nil {
		c.App.Logger.Error("Failed to load history", zap.String("address", address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	resp := newBalanceBlocksResponse(reporter.Evaluate(address, series, start, end))

	if c.App.RedisClient != nil {
		if payload, err := json.Marshal(resp); err == nil {
			c.App.RedisClient.Set(ctx, key, string(payload), c.App.CacheTTL)
		}
	}

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, resp)
}
