package rpc

// QueryByHeightRequest is the JSON body shared by the height-scoped query endpoints.
type QueryByHeightRequest map[string]any

// NewQueryByHeightRequest returns a request for height.
func NewQueryByHeightRequest(height uint64) QueryByHeightRequest {
	return QueryByHeightRequest{"height": height}
}

// WithAddress returns a copy of the request scoped to an address.
func (r QueryByHeightRequest) WithAddress(address string) QueryByHeightRequest {
	out := r.clone()
	out["address"] = address
	return out
}

// WithPage returns a copy of the request for the given 1-indexed page.
func (r QueryByHeightRequest) WithPage(page int) QueryByHeightRequest {
	out := r.clone()
	out["pageNumber"] = page
	return out
}

// Height returns the requested height, or 0 when unset.
func (r QueryByHeightRequest) Height() uint64 {
	height, _ := r["height"].(uint64)
	return height
}

func (r QueryByHeightRequest) clone() QueryByHeightRequest {
	out := make(QueryByHeightRequest, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}
