package controller

import (
	"errors"
	"net/http"

	"github.com/canopy-network/balanceblocks/pkg/db/chain"
	"github.com/canopy-network/balanceblocks/pkg/reporter"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

// maxReportAddresses caps a single report request.
const maxReportAddresses = 1000

type reportRequest struct {
	Addresses []string `json:"addresses"`
	// All reports on every known address, up to maxReportAddresses. Addresses must then be empty.
	All   bool   `json:"all"`
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

type reportResponse struct {
	Results []balanceBlocksResponse `json:"results"`
	Error   string                  `json:"error,omitempty"`
}

// HandleReport computes and persists balance-blocks for a set of addresses, or for every known address
// when all is set. A partial failure still returns the successful results along with the joined error.
func (c *Controller) HandleReport(w http.ResponseWriter, r *http.Request) {
	var in reportRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if len(in.Addresses) > maxReportAddresses {
		writeError(w, http.StatusBadRequest, "too many addresses")
		return
	}
	if in.All && len(in.Addresses) > 0 {
		writeError(w, http.StatusBadRequest, "all and addresses are exclusive")
		return
	}

	var (
		results []reporter.Result
		err     error
	)
	if in.All {
		results, err = c.App.Reporter.ComputeAll(r.Context(), in.Start, in.End, maxReportAddresses)
	} else {
		results, err = c.App.Reporter.Compute(r.Context(), in.Addresses, in.Start, in.End)
	}
	if errors.Is(err, reporter.ErrNoAddresses) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := reportResponse{Results: make([]balanceBlocksResponse, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, newBalanceBlocksResponse(res))
	}

	status := http.StatusOK
	if err != nil {
		c.App.Logger.Warn("Report completed with errors", zap.String("user", c.currentUser(r)), zap.Error(err))
		resp.Error = err.Error()
		if len(results) == 0 {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, resp)
}

// HandleStoredReport returns the persisted report row of an account for exactly [start, end).
func (c *Controller) HandleStoredReport(w http.ResponseWriter, r *http.Request) {
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

	row, err := c.App.ChainDB.GetBalanceBlocks(r.Context(), address, start, end)
	if errors.Is(err, chain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no report for this range")
		return
	}
	if err != nil {
		c.App.Logger.Error("Failed to load report", zap.String("address", address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, row)
}
