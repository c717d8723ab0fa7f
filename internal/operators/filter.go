package operators

import (
	"fmt"

	"github.com/gosimpledb/simpledb/internal/dberrors"
	"github.com/gosimpledb/simpledb/internal/types"
)

// Predicate is the (fieldIndex, op, literal) triple a Filter tests every
// child tuple against, per spec.md §4.5.
type Predicate struct {
	FieldIndex int
	Op         CompareOp
	Literal    types.Field
}

func (p Predicate) test(t *types.Tuple) bool {
	return p.Op.eval(t.Field(p.FieldIndex).Compare(p.Literal))
}

// Filter yields every child tuple for which the predicate holds. Output
// schema equals the child's schema unchanged.
type Filter struct {
	pred   Predicate
	child  Operator
	la     lookahead
	opened bool
}

// NewFilter builds a filter over child with predicate p.
func NewFilter(p Predicate, child Operator) *Filter {
	return &Filter{pred: p, child: child}
}

func (f *Filter) TupleDesc() *types.Schema { return f.child.TupleDesc() }
func (f *Filter) Children() []Operator     { return []Operator{f.child} }

func (f *Filter) SetChildren(c []Operator) {
	if len(c) != 1 {
		panic("operators: filter takes exactly one child")
	}
	f.child = c[0]
}

func (f *Filter) Open() error {
	if err := f.child.Open(); err != nil {
		return err
	}
	f.opened = true
	return nil
}

func (f *Filter) Rewind() error {
	if !f.opened {
		return fmt.Errorf("operators: filter rewind before open: %w", dberrors.ErrDBException)
	}
	f.la.reset()
	return f.child.Rewind()
}

func (f *Filter) fetchNext() (*types.Tuple, error) {
	for {
		ok, err := f.child.HasNext()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		t, err := f.child.Next()
		if err != nil {
			return nil, err
		}
		if f.pred.test(t) {
			return t, nil
		}
	}
}

func (f *Filter) HasNext() (bool, error) {
	if !f.opened {
		return false, fmt.Errorf("operators: filter hasNext before open: %w", dberrors.ErrDBException)
	}
	return f.la.fillFrom(f.fetchNext)
}

func (f *Filter) Next() (*types.Tuple, error) { return f.la.take() }

func (f *Filter) Close() error {
	f.opened = false
	f.la.reset()
	return f.child.Close()
}
