package stats

import (
	"math"

	"github.com/gosimpledb/simpledb/internal/operators"
	"github.com/gosimpledb/simpledb/internal/storage"
	"github.com/gosimpledb/simpledb/internal/txn"
	"github.com/gosimpledb/simpledb/internal/types"
)

// IOCostPerPage is the assumed cost of reading one page, used by
// EstimateScanCost.
const IOCostPerPage = 1000.0

// TableStats holds one histogram per INT field of a table, built by two
// passes over the table (first to learn min/max, second to populate),
// per spec.md §4.6. STRING fields carry no histogram — the spec's
// selectivity formulas are defined over integer buckets only.
type TableStats struct {
	nTuples    int64
	numPages   int
	histograms map[int]*Histogram // fieldIndex -> histogram, INT fields only
}

// NewTableStats builds statistics for file by scanning it twice under a
// scratch transaction: the first pass learns each INT field's [min, max],
// the second populates the per-field histograms.
func NewTableStats(file storage.DbFile, tid txn.TransactionID, buckets int) (*TableStats, error) {
	schema := file.Schema()
	intFields := make([]int, 0, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		if schema.FieldType(i) == types.IntType {
			intFields = append(intFields, i)
		}
	}

	mins := make(map[int]int32, len(intFields))
	maxs := make(map[int]int32, len(intFields))
	for _, fi := range intFields {
		mins[fi] = math.MaxInt32
		maxs[fi] = math.MinInt32
	}

	var nTuples int64
	if err := scanTable(file, tid, func(t *types.Tuple) {
		nTuples++
		for _, fi := range intFields {
			v := t.Field(fi).IntVal
			if v < mins[fi] {
				mins[fi] = v
			}
			if v > maxs[fi] {
				maxs[fi] = v
			}
		}
	}); err != nil {
		return nil, err
	}

	histograms := make(map[int]*Histogram, len(intFields))
	for _, fi := range intFields {
		lo, hi := mins[fi], maxs[fi]
		if nTuples == 0 {
			lo, hi = 0, 0
		}
		histograms[fi] = NewHistogram(lo, hi, buckets)
	}

	if nTuples > 0 {
		if err := scanTable(file, tid, func(t *types.Tuple) {
			for _, fi := range intFields {
				histograms[fi].AddValue(t.Field(fi).IntVal)
			}
		}); err != nil {
			return nil, err
		}
	}

	return &TableStats{nTuples: nTuples, numPages: file.NumPages(), histograms: histograms}, nil
}

func scanTable(file storage.DbFile, tid txn.TransactionID, visit func(*types.Tuple)) error {
	it := file.Iterator(tid)
	if err := it.Open(); err != nil {
		return err
	}
	defer it.Close()
	for {
		ok, err := it.HasNext()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		t, err := it.Next()
		if err != nil {
			return err
		}
		visit(t)
	}
}

// EstimateSelectivity estimates the selectivity of "field op v" using
// that field's histogram. Fields with no histogram (non-INT, or a table
// with no rows) report a neutral selectivity of 1.
func (ts *TableStats) EstimateSelectivity(fieldIdx int, op operators.CompareOp, v int32) float64 {
	h, ok := ts.histograms[fieldIdx]
	if !ok || ts.nTuples == 0 {
		return 1
	}
	return h.EstimateSelectivity(op, v)
}

// EstimateTableCardinality returns floor(nTuples * selectivity).
func (ts *TableStats) EstimateTableCardinality(selectivity float64) int64 {
	return int64(float64(ts.nTuples) * selectivity)
}

// EstimateScanCost returns the estimated cost of a full sequential scan:
// pages * IOCostPerPage.
func (ts *TableStats) EstimateScanCost() float64 {
	return float64(ts.numPages) * IOCostPerPage
}

// NumTuples reports the tuple count observed when these stats were built.
func (ts *TableStats) NumTuples() int64 { return ts.nTuples }
