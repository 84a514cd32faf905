package controller

import (
	"net/http"

	"go.uber.org/zap"
)

type observationResponse struct {
	Height uint64 `json:"height"`
	Amount string `json:"amount"`
}

type historyResponse struct {
	Address      string                `json:"address"`
	End          *uint64               `json:"end,omitempty"`
	Observations []observationResponse `json:"observations"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Height  uint64 `json:"height"`
	Balance string `json:"balance"`
	// Known is false when height precedes the first observation.
	Known bool `json:"known"`
}

// HandleHistory returns the observation log of an account.
// Query parameters:
//   - end (optional): only observations strictly below end
func (c *Controller) HandleHistory(w http.ResponseWriter, r *http.Request) {
	address, err := addressVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseHeight(r, "end", &unbounded)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	series, err := c.App.LoadSeries(r.Context(), address, end)
	if err != nil {
		c.App.Logger.Error("Failed to load history", zap.String("address", address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	resp := historyResponse{Address: address, Observations: make([]observationResponse, 0, series.Len())}
	if end != unbounded {
		resp.End = &end
	}
	for _, o := range series.Observations() {
		resp.Observations = append(resp.Observations, observationResponse{Height: o.Height, Amount: o.Amount.String()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleBalance returns the balance of an account effective at a height.
// Query parameters:
//   - height (required)
func (c *Controller) HandleBalance(w http.ResponseWriter, r *http.Request) {
	address, err := addressVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	height, err := parseHeight(r, "height", nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Observations at height itself are effective at height.
	before := height + 1
	if height == unbounded {
		before = unbounded
	}
	series, err := c.App.LoadSeries(r.Context(), address, before)
	if err != nil {
		c.App.Logger.Error("Failed to load history", zap.String("address", address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	balance, known := series.At(height)
	writeJSON(w, http.StatusOK, balanceResponse{
		Address: address,
		Height:  height,
		Balance: balance.String(),
		Known:   known,
	})
}
