// Package stats implements selectivity estimation (equi-width integer
// histograms) and per-table cardinality/cost statistics, per spec.md
// §4.6. No comparable component exists anywhere in the retrieval pack —
// the teacher executes SQL with no cost-based optimizer — so the
// histogram math is implemented directly from the spec's formulas, with
// no third-party grounding; see DESIGN.md.
package stats

import (
	"github.com/gosimpledb/simpledb/internal/operators"
)

// Histogram is an equi-width histogram over [Min, Max] split into Buckets
// buckets, per spec.md §4.6.
type Histogram struct {
	min, max int32
	buckets  []int64
	width    int32
	total    int64
}

// NewHistogram builds an empty histogram over [min, max] with the given
// bucket count. Bucket width is floor((max-min+1)/buckets); the last
// bucket absorbs the remainder.
func NewHistogram(min, max int32, buckets int) *Histogram {
	if buckets < 1 {
		buckets = 1
	}
	span := int64(max) - int64(min) + 1
	if span < 1 {
		span = 1
	}
	width := int32(span / int64(buckets))
	if width < 1 {
		width = 1
	}
	return &Histogram{min: min, max: max, buckets: make([]int64, buckets), width: width}
}

// bucketOf returns the index of the bucket v falls into, clamped to the
// last bucket (which absorbs the remainder of an uneven split).
func (h *Histogram) bucketOf(v int32) int {
	if v <= h.min {
		return 0
	}
	b := int((int64(v) - int64(h.min)) / int64(h.width))
	if b >= len(h.buckets) {
		b = len(h.buckets) - 1
	}
	return b
}

// bucketLeft/bucketRight return the inclusive value range [left, right]
// a bucket covers, the last bucket extending to h.max.
func (h *Histogram) bucketLeft(b int) int32 { return h.min + int32(b)*h.width }

func (h *Histogram) bucketRight(b int) int32 {
	if b == len(h.buckets)-1 {
		return h.max
	}
	return h.bucketLeft(b+1) - 1
}

// AddValue increments the bucket v falls into, in constant time.
func (h *Histogram) AddValue(v int32) {
	h.buckets[h.bucketOf(v)]++
	h.total++
}

// EstimateSelectivity implements the spec's per-operator selectivity
// formulas over this histogram.
func (h *Histogram) EstimateSelectivity(op operators.CompareOp, v int32) float64 {
	if h.total == 0 {
		return 0
	}
	n := float64(h.total)

	if v < h.min {
		switch op {
		case operators.LessThan, operators.LessThanOrEq:
			return 0
		case operators.GreaterThan, operators.GreaterThanOrEq:
			return 1
		case operators.Equals:
			return 0
		case operators.NotEquals:
			return 1
		}
	}
	if v > h.max {
		switch op {
		case operators.LessThan, operators.LessThanOrEq:
			return 1
		case operators.GreaterThan, operators.GreaterThanOrEq:
			return 0
		case operators.Equals:
			return 0
		case operators.NotEquals:
			return 1
		}
	}

	b := h.bucketOf(v)
	hCount := float64(h.buckets[b])
	w := float64(h.width)
	if b == len(h.buckets)-1 {
		w = float64(h.bucketRight(b) - h.bucketLeft(b) + 1)
	}
	eq := (hCount / w) / n

	var ltSum, gtSum float64
	for i := 0; i < b; i++ {
		ltSum += float64(h.buckets[i])
	}
	for i := b + 1; i < len(h.buckets); i++ {
		gtSum += float64(h.buckets[i])
	}
	left := float64(h.bucketLeft(b))
	right := float64(h.bucketRight(b))

	lt := ltSum/n + eq*(float64(v)-left)
	gt := gtSum/n + eq*(right-float64(v))

	switch op {
	case operators.Equals:
		return eq
	case operators.NotEquals:
		return 1 - eq
	case operators.LessThan:
		return lt
	case operators.LessThanOrEq:
		return lt + eq
	case operators.GreaterThan:
		return gt
	case operators.GreaterThanOrEq:
		return gt + eq
	default:
		return 0
	}
}
