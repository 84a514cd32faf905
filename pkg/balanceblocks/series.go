package balanceblocks

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
)

var (
	// ErrNotIncreasing is returned when observation heights are not strictly increasing.
	ErrNotIncreasing = errors.New("observation heights must be strictly increasing")
	// ErrNegativeBalance is returned when an observation carries a negative balance.
	ErrNegativeBalance = errors.New("observation balance must be non-negative")
)

// Observation is a balance change effective from Height onward.
type Observation struct {
	Height uint64   `json:"height"`
	Amount *big.Int `json:"amount"`
}

// Series is an immutable snapshot of a balance history. It keeps the running sum of the beta weights so
// that a query costs two binary searches regardless of how many observations it spans.
//
// A Series is safe for concurrent use.
type Series struct {
	heights []uint64
	amounts []*big.Int
	// cum[k] holds the balance-blocks accumulated over [heights[0], heights[k]).
	cum []*big.Int
}

// NewSeries builds a Series from parallel height and amount slices. Both slices are copied. It panics when
// their lengths differ.
func NewSeries(heights []uint64, amounts []*big.Int) *Series {
	mustSameLength(heights, amounts)

	s := &Series{
		heights: make([]uint64, len(heights)),
		amounts: make([]*big.Int, len(amounts)),
		cum:     make([]*big.Int, len(heights)),
	}
	copy(s.heights, heights)
	for i, a := range amounts {
		if a == nil {
			s.amounts[i] = new(big.Int)
			continue
		}
		s.amounts[i] = new(big.Int).Set(a)
	}

	for i, w := range Beta(s.heights, s.amounts) {
		if i == 0 {
			s.cum[i] = w
			continue
		}
		s.cum[i] = new(big.Int).Add(s.cum[i-1], w)
	}
	return s
}

// FromObservations validates and builds a Series from an ordered observation log.
func FromObservations(obs []Observation) (*Series, error) {
	heights := make([]uint64, len(obs))
	amounts := make([]*big.Int, len(obs))
	for i, o := range obs {
		if i > 0 && o.Height <= obs[i-1].Height {
			return nil, fmt.Errorf("observation %d at height %d follows height %d: %w", i, o.Height, obs[i-1].Height, ErrNotIncreasing)
		}
		if o.Amount != nil && o.Amount.Sign() < 0 {
			return nil, fmt.Errorf("observation %d at height %d: %w", i, o.Height, ErrNegativeBalance)
		}
		heights[i] = o.Height
		amounts[i] = o.Amount
	}
	return NewSeries(heights, amounts), nil
}

// Uint64Amounts converts native balances to arbitrary precision.
func Uint64Amounts(in []uint64) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = new(big.Int).SetUint64(v)
	}
	return out
}

// Len returns the number of observations.
func (s *Series) Len() int {
	return len(s.heights)
}

// Heights returns a copy of the breakpoints.
func (s *Series) Heights() []uint64 {
	out := make([]uint64, len(s.heights))
	copy(out, s.heights)
	return out
}

// Amounts returns a copy of the balances.
func (s *Series) Amounts() []*big.Int {
	out := make([]*big.Int, len(s.amounts))
	for i, a := range s.amounts {
		out[i] = new(big.Int).Set(a)
	}
	return out
}

// Observations returns the series as an observation log.
func (s *Series) Observations() []Observation {
	out := make([]Observation, len(s.heights))
	for i := range s.heights {
		out[i] = Observation{Height: s.heights[i], Amount: new(big.Int).Set(s.amounts[i])}
	}
	return out
}

// Before returns the prefix of the series with every observation below height. The result shares storage
// with s.
func (s *Series) Before(height uint64) *Series {
	k := sort.Search(len(s.heights), func(i int) bool { return s.heights[i] >= height })
	if k == len(s.heights) {
		return s
	}
	return &Series{heights: s.heights[:k], amounts: s.amounts[:k], cum: s.cum[:k]}
}

// Beta returns the per-interval balance-block weights.
func (s *Series) Beta() []*big.Int {
	return Beta(s.heights, s.amounts)
}

// At returns the balance effective at height. The boolean is false when height precedes the first
// observation.
func (s *Series) At(height uint64) (*big.Int, bool) {
	i := floor(s.heights, height)
	if i < 0 {
		return new(big.Int), false
	}
	return new(big.Int).Set(s.amounts[i]), true
}

// In returns the balance-blocks accumulated within [start, end). It agrees with the package level In for
// every input.
func (s *Series) In(start, end uint64) *big.Int {
	out := new(big.Int)
	if len(s.heights) == 0 || start >= end || end < s.heights[0] {
		return out
	}
	if start < s.heights[0] {
		start = s.heights[0]
	}

	is := floor(s.heights, start)
	ie := floor(s.heights, end)
	if is == ie {
		return mulSpan(out, s.amounts[is], end-start)
	}

	var seg big.Int
	// Whole intervals [heights[is+1], heights[ie]) come straight from the running sum.
	out.Sub(s.cum[ie], s.cum[is+1])
	out.Add(out, mulSpan(&seg, s.amounts[is], s.heights[is+1]-start))
	out.Add(out, mulSpan(&seg, s.amounts[ie], end-s.heights[ie]))
	return out
}

// Average returns the mean balance over [start, end), counting blocks before the first observation as
// zero. It returns nil for an empty range.
func (s *Series) Average(start, end uint64) *big.Rat {
	if start >= end {
		return nil
	}
	width := new(big.Int).SetUint64(end - start)
	return new(big.Rat).SetFrac(s.In(start, end), width)
}
