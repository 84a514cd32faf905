package controller

import (
	"math"
	"net/http"
	"strconv"

	"github.com/canopy-network/balanceblocks/pkg/utils"
	"github.com/gorilla/mux"
)

var (
	errMissingAddress = &parseError{msg: "missing address"}
	errMissingHeight  = &parseError{msg: "missing height"}
	errMissingRange   = &parseError{msg: "start and end are required"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

func addressVar(r *http.Request) (string, error) {
	addr := utils.NormalizeAddress(mux.Vars(r)["address"])
	if addr == "" {
		return "", errMissingAddress
	}
	return addr, nil
}

// parseHeight reads an unsigned height from the query string. def is returned when the parameter is
// absent; a nil def makes it required.
func parseHeight(r *http.Request, name string, def *uint64) (uint64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		if def == nil {
			return 0, errMissingHeight
		}
		return *def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, &parseError{msg: "invalid " + name}
	}
	return n, nil
}

// parseRange reads the required start and end parameters. Empty and inverted ranges are valid and
// evaluate to zero.
func parseRange(r *http.Request) (start, end uint64, err error) {
	qs := r.URL.Query()
	if qs.Get("start") == "" || qs.Get("end") == "" {
		return 0, 0, errMissingRange
	}
	if start, err = parseHeight(r, "start", nil); err != nil {
		return 0, 0, err
	}
	if end, err = parseHeight(r, "end", nil); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// unbounded is the default upper bound of history queries.
var unbounded uint64 = math.MaxUint64
