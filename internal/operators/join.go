package operators

import (
	"fmt"

	"github.com/gosimpledb/simpledb/internal/dberrors"
	"github.com/gosimpledb/simpledb/internal/types"
)

// JoinPredicate compares the LeftField of the left child's tuple against
// the RightField of the right child's tuple.
type JoinPredicate struct {
	LeftField  int
	Op         CompareOp
	RightField int
}

func (p JoinPredicate) test(t1, t2 *types.Tuple) bool {
	return p.Op.eval(t1.Field(p.LeftField).Compare(t2.Field(p.RightField)))
}

// Join is a simple nested-loops join, per spec.md §4.5: for each tuple of
// the left child, it rewinds and scans the right child, emitting the
// merged tuple whenever the predicate holds. Neither child is
// materialized in full.
type Join struct {
	pred        JoinPredicate
	left, right Operator
	desc        *types.Schema
	la          lookahead
	opened      bool
	curLeft     *types.Tuple
	haveLeft    bool
}

// NewJoin builds a nested-loops join of left and right under p.
func NewJoin(p JoinPredicate, left, right Operator) *Join {
	return &Join{
		pred:  p,
		left:  left,
		right: right,
		desc:  types.Merge(left.TupleDesc(), right.TupleDesc(), "", ""),
	}
}

func (j *Join) TupleDesc() *types.Schema { return j.desc }
func (j *Join) Children() []Operator     { return []Operator{j.left, j.right} }

func (j *Join) SetChildren(c []Operator) {
	if len(c) != 2 {
		panic("operators: join takes exactly two children")
	}
	j.left, j.right = c[0], c[1]
	j.desc = types.Merge(j.left.TupleDesc(), j.right.TupleDesc(), "", "")
}

func (j *Join) Open() error {
	if err := j.left.Open(); err != nil {
		return err
	}
	if err := j.right.Open(); err != nil {
		return err
	}
	j.opened = true
	j.haveLeft = false
	return nil
}

func (j *Join) Rewind() error {
	if !j.opened {
		return fmt.Errorf("operators: join rewind before open: %w", dberrors.ErrDBException)
	}
	j.la.reset()
	j.haveLeft = false
	if err := j.left.Rewind(); err != nil {
		return err
	}
	return j.right.Rewind()
}

// advanceLeft pulls the next left tuple and rewinds the right child to
// scan against it from the start.
func (j *Join) advanceLeft() (bool, error) {
	ok, err := j.left.HasNext()
	if err != nil || !ok {
		return false, err
	}
	t, err := j.left.Next()
	if err != nil {
		return false, err
	}
	j.curLeft = t
	j.haveLeft = true
	return true, j.right.Rewind()
}

func (j *Join) fetchNext() (*types.Tuple, error) {
	if !j.haveLeft {
		ok, err := j.advanceLeft()
		if err != nil || !ok {
			return nil, err
		}
	}
	for {
		for {
			ok, err := j.right.HasNext()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			rt, err := j.right.Next()
			if err != nil {
				return nil, err
			}
			if j.pred.test(j.curLeft, rt) {
				return types.MergeTuples(j.curLeft, rt, j.desc), nil
			}
		}
		ok, err := j.advanceLeft()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}
}

func (j *Join) HasNext() (bool, error) {
	if !j.opened {
		return false, fmt.Errorf("operators: join hasNext before open: %w", dberrors.ErrDBException)
	}
	return j.la.fillFrom(j.fetchNext)
}

func (j *Join) Next() (*types.Tuple, error) { return j.la.take() }

func (j *Join) Close() error {
	j.opened = false
	j.la.reset()
	j.haveLeft = false
	if err := j.left.Close(); err != nil {
		return err
	}
	return j.right.Close()
}
