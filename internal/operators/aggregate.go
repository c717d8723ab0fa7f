package operators

import (
	"fmt"

	"github.com/gosimpledb/simpledb/internal/dberrors"
	"github.com/gosimpledb/simpledb/internal/types"
)

// AggOp names an aggregation function.
type AggOp int

const (
	Min AggOp = iota
	Max
	Sum
	Count
	Avg
)

func (op AggOp) String() string {
	switch op {
	case Min:
		return "MIN"
	case Max:
		return "MAX"
	case Sum:
		return "SUM"
	case Count:
		return "COUNT"
	case Avg:
		return "AVG"
	default:
		return "?"
	}
}

// NoGrouping is the sentinel group-field index meaning "aggregate every
// input tuple into a single group", per spec.md §4.5/§9.
const NoGrouping = -1

// AggGroup is one (key, aggregate value) pair an Aggregator reports.
// HasKey is false for the single ungrouped result.
type AggGroup struct {
	Key    types.Field
	HasKey bool
	Value  types.Field
}

// Aggregator is the shared interface integer and string aggregators
// implement, per spec.md §9's "Merge(tuple); iterator()" framing.
type Aggregator interface {
	Merge(t *types.Tuple)
	Groups() []AggGroup
}

// ── Integer aggregator ───────────────────────────────────────────────────

type intAccum struct {
	min, max, sum int64
	count         int64
	seen          bool
}

// IntAggregator supports MIN, MAX, SUM, COUNT, AVG over an INT field,
// grouped by an arbitrary field (or ungrouped). AVG is stored as a
// running (sum, count) pair and reported as integer sum/count, truncating
// division, per spec.md §4.5.
type IntAggregator struct {
	aFieldIdx, gFieldIdx int
	op                   AggOp
	groups               map[types.Field]*intAccum
	order                []types.Field
}

// NewIntAggregator builds an integer aggregator over aFieldIdx, grouped
// by gFieldIdx (NoGrouping for a single group).
func NewIntAggregator(aFieldIdx, gFieldIdx int, op AggOp) *IntAggregator {
	return &IntAggregator{
		aFieldIdx: aFieldIdx,
		gFieldIdx: gFieldIdx,
		op:        op,
		groups:    make(map[types.Field]*intAccum),
	}
}

func (a *IntAggregator) key(t *types.Tuple) types.Field {
	if a.gFieldIdx == NoGrouping {
		return types.Field{}
	}
	return t.Field(a.gFieldIdx)
}

func (a *IntAggregator) Merge(t *types.Tuple) {
	k := a.key(t)
	acc, ok := a.groups[k]
	if !ok {
		acc = &intAccum{min: int64(^uint64(0) >> 1), max: -int64(^uint64(0)>>1) - 1}
		a.groups[k] = acc
		a.order = append(a.order, k)
	}
	v := int64(t.Field(a.aFieldIdx).IntVal)
	if v < acc.min {
		acc.min = v
	}
	if v > acc.max {
		acc.max = v
	}
	acc.sum += v
	acc.count++
	acc.seen = true
}

func (a *IntAggregator) Groups() []AggGroup {
	out := make([]AggGroup, 0, len(a.order))
	for _, k := range a.order {
		acc := a.groups[k]
		var v int64
		switch a.op {
		case Min:
			v = acc.min
		case Max:
			v = acc.max
		case Sum:
			v = acc.sum
		case Count:
			v = acc.count
		case Avg:
			if acc.count != 0 {
				v = acc.sum / acc.count // truncating division, per spec.md
			}
		}
		out = append(out, AggGroup{
			Key:    k,
			HasKey: a.gFieldIdx != NoGrouping,
			Value:  types.NewIntField(int32(v)),
		})
	}
	return out
}

// ── String aggregator ────────────────────────────────────────────────────

// StringAggregator supports COUNT only, per spec.md §4.5.
type StringAggregator struct {
	gFieldIdx int
	counts    map[types.Field]int64
	order     []types.Field
}

// NewStringAggregator builds a COUNT aggregator grouped by gFieldIdx
// (NoGrouping for a single group).
func NewStringAggregator(gFieldIdx int) *StringAggregator {
	return &StringAggregator{gFieldIdx: gFieldIdx, counts: make(map[types.Field]int64)}
}

func (a *StringAggregator) key(t *types.Tuple) types.Field {
	if a.gFieldIdx == NoGrouping {
		return types.Field{}
	}
	return t.Field(a.gFieldIdx)
}

func (a *StringAggregator) Merge(t *types.Tuple) {
	k := a.key(t)
	if _, ok := a.counts[k]; !ok {
		a.order = append(a.order, k)
	}
	a.counts[k]++
}

func (a *StringAggregator) Groups() []AggGroup {
	out := make([]AggGroup, 0, len(a.order))
	for _, k := range a.order {
		out = append(out, AggGroup{
			Key:    k,
			HasKey: a.gFieldIdx != NoGrouping,
			Value:  types.NewIntField(int32(a.counts[k])),
		})
	}
	return out
}

// ── Aggregate operator ───────────────────────────────────────────────────

// Aggregate consumes its child to completion on Open and merges tuples
// into an Aggregator keyed by the (optional) group field; Next then
// returns one tuple per group, per spec.md §4.5.
type Aggregate struct {
	child     Operator
	aFieldIdx int
	gFieldIdx int
	agg       Aggregator
	desc      *types.Schema
	groups    []AggGroup
	pos       int
	opened    bool
}

// NewAggregate builds an aggregate operator. agg must already be
// constructed with the same aFieldIdx/gFieldIdx it will be merged with —
// the factory that builds the right aggregator kind for the field's type
// lives at the call site (NewIntAggregator vs NewStringAggregator),
// mirroring spec.md §9's "Aggregator polymorphism" note.
func NewAggregate(child Operator, agg Aggregator, aFieldIdx, gFieldIdx int) *Aggregate {
	var fields []types.FieldDesc
	if gFieldIdx != NoGrouping {
		fields = append(fields, types.FieldDesc{Type: child.TupleDesc().FieldType(gFieldIdx), Name: "groupVal"})
	}
	fields = append(fields, types.FieldDesc{Type: types.IntType, Name: "aggVal"})
	return &Aggregate{
		child:     child,
		aFieldIdx: aFieldIdx,
		gFieldIdx: gFieldIdx,
		agg:       agg,
		desc:      types.NewSchema(fields),
	}
}

func (a *Aggregate) TupleDesc() *types.Schema { return a.desc }
func (a *Aggregate) Children() []Operator     { return []Operator{a.child} }

func (a *Aggregate) SetChildren(c []Operator) {
	if len(c) != 1 {
		panic("operators: aggregate takes exactly one child")
	}
	a.child = c[0]
}

// Open drains the child entirely into the aggregator, then snapshots its
// per-group results for the fetch phase.
func (a *Aggregate) Open() error {
	if err := a.child.Open(); err != nil {
		return err
	}
	for {
		ok, err := a.child.HasNext()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		t, err := a.child.Next()
		if err != nil {
			return err
		}
		a.agg.Merge(t)
	}
	a.groups = a.agg.Groups()
	a.pos = 0
	a.opened = true
	return nil
}

func (a *Aggregate) Rewind() error {
	if !a.opened {
		return fmt.Errorf("operators: aggregate rewind before open: %w", dberrors.ErrDBException)
	}
	a.pos = 0
	return nil
}

func (a *Aggregate) HasNext() (bool, error) {
	if !a.opened {
		return false, fmt.Errorf("operators: aggregate hasNext before open: %w", dberrors.ErrDBException)
	}
	return a.pos < len(a.groups), nil
}

func (a *Aggregate) Next() (*types.Tuple, error) {
	ok, err := a.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("operators: aggregate exhausted: %w", dberrors.ErrNoSuchElement)
	}
	g := a.groups[a.pos]
	a.pos++
	t := types.NewTuple(a.desc)
	i := 0
	if g.HasKey {
		t.SetField(0, g.Key)
		i = 1
	}
	t.SetField(i, g.Value)
	return t, nil
}

func (a *Aggregate) Close() error {
	a.opened = false
	a.groups = nil
	a.pos = 0
	return a.child.Close()
}
