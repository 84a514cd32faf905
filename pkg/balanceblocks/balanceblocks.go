// Package balanceblocks integrates an account balance step function over block heights.
//
// A balance history is a sequence of observations: heights n[0] < n[1] < ... < n[L-1] paired with
// balances b[0..L-1]. b[i] is effective from n[i] (inclusive) until n[i+1] (exclusive), and the last
// balance holds indefinitely. Nothing is defined before n[0]. The integral of that step function over a
// half-open range [start, end) is expressed in balance-blocks (balance x number of blocks held).
package balanceblocks

import (
	"fmt"
	"math/big"
	"sort"
)

// In returns the balance-blocks accumulated within [start, end) for the step function described by
// heights and amounts.
//
// Heights must be strictly increasing and amounts non-negative; neither is checked here (use
// FromObservations for untrusted input). A length mismatch between heights and amounts is a caller bug
// and panics.
//
// Degenerate ranges are not errors and yield zero: an empty history, start >= end, or a range that ends
// at or before the first observation.
func In(start, end uint64, heights []uint64, amounts []*big.Int) *big.Int {
	mustSameLength(heights, amounts)

	out := new(big.Int)
	if len(heights) == 0 || start >= end || end < heights[0] {
		return out
	}

	// Nothing accrues before the first observation.
	if start < heights[0] {
		start = heights[0]
	}

	is := floor(heights, start)
	ie := floor(heights, end)

	if is == ie {
		return mulSpan(out, amounts[is], end-start)
	}

	var seg big.Int
	out.Add(out, mulSpan(&seg, amounts[is], heights[is+1]-start))
	for i := is + 1; i < ie; i++ {
		out.Add(out, mulSpan(&seg, amounts[i], heights[i+1]-heights[i]))
	}
	// The last observation extrapolates forward, so the tail needs no special case past n[L-1].
	out.Add(out, mulSpan(&seg, amounts[ie], end-heights[ie]))

	return out
}

// Beta returns the balance-blocks held in each observation interval: beta[0] is zero and beta[i] is
// amounts[i-1] * (heights[i] - heights[i-1]).
func Beta(heights []uint64, amounts []*big.Int) []*big.Int {
	mustSameLength(heights, amounts)

	beta := make([]*big.Int, len(heights))
	for i := range heights {
		if i == 0 {
			beta[i] = new(big.Int)
			continue
		}
		beta[i] = mulSpan(new(big.Int), amounts[i-1], heights[i]-heights[i-1])
	}
	return beta
}

// floor returns the greatest index i such that heights[i] <= x, or -1 when x precedes every height.
func floor(heights []uint64, x uint64) int {
	// sort.Search yields the first index with heights[i] > x.
	return sort.Search(len(heights), func(i int) bool { return heights[i] > x }) - 1
}

// mulSpan stores amount * span into dst and returns it. A nil amount counts as zero.
func mulSpan(dst *big.Int, amount *big.Int, span uint64) *big.Int {
	if amount == nil || span == 0 {
		return dst.SetInt64(0)
	}
	dst.SetUint64(span)
	return dst.Mul(dst, amount)
}

func mustSameLength(heights []uint64, amounts []*big.Int) {
	if len(heights) != len(amounts) {
		panic(fmt.Sprintf("balanceblocks: heights/amounts length mismatch (%d != %d)", len(heights), len(amounts)))
	}
}
