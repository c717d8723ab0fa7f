// Package operators implements the pull-based iterator pipeline described
// in spec.md §4.5: SeqScan, Filter, Join, Aggregate, Insert, and Delete,
// all sharing the open/hasNext/next/close/rewind contract. No comparable
// pipeline exists anywhere in the retrieval pack — the teacher evaluates
// SQL by eagerly materializing Row maps in its internal/engine package —
// so the operator tree's control flow is original to this engine, built
// in the teacher's error-wrapping and naming idiom (sentinel errors from
// internal/dberrors, "%w"-wrapped context) but with its own shape.
package operators

import (
	"fmt"

	"github.com/gosimpledb/simpledb/internal/dberrors"
	"github.com/gosimpledb/simpledb/internal/types"
)

// Operator is the capability set every node of the execution tree
// exposes, per spec.md §4.5. Contract: Next is called only after a
// positive HasNext; HasNext is idempotent and may cache one look-ahead
// tuple; Rewind restarts from the first tuple; Close releases children.
type Operator interface {
	Open() error
	HasNext() (bool, error)
	Next() (*types.Tuple, error)
	Close() error
	Rewind() error
	TupleDesc() *types.Schema
	Children() []Operator
	SetChildren([]Operator)
}

// CompareOp is the comparison used by Filter predicates and Join
// predicates alike.
type CompareOp int

const (
	Equals CompareOp = iota
	NotEquals
	LessThan
	LessThanOrEq
	GreaterThan
	GreaterThanOrEq
)

func (op CompareOp) String() string {
	switch op {
	case Equals:
		return "="
	case NotEquals:
		return "<>"
	case LessThan:
		return "<"
	case LessThanOrEq:
		return "<="
	case GreaterThan:
		return ">"
	case GreaterThanOrEq:
		return ">="
	default:
		return "?"
	}
}

// eval applies op to the three-way comparison result c = a.Compare(b).
func (op CompareOp) eval(c int) bool {
	switch op {
	case Equals:
		return c == 0
	case NotEquals:
		return c != 0
	case LessThan:
		return c < 0
	case LessThanOrEq:
		return c <= 0
	case GreaterThan:
		return c > 0
	case GreaterThanOrEq:
		return c >= 0
	default:
		return false
	}
}

// lookahead caches a single look-ahead tuple between HasNext and Next,
// shared by Filter and Join so their HasNext/Next pairs read the same
// way: fetchNext() supplies the next candidate tuple (nil, nil
// at end of input), HasNext fills the cache at most once, Next drains it.
type lookahead struct {
	buffered  *types.Tuple
	hasBuffer bool
}

// fillFrom fills the look-ahead slot, if empty, by calling fetchNext once.
func (la *lookahead) fillFrom(fetchNext func() (*types.Tuple, error)) (bool, error) {
	if la.hasBuffer {
		return la.buffered != nil, nil
	}
	t, err := fetchNext()
	if err != nil {
		return false, err
	}
	la.buffered, la.hasBuffer = t, true
	return t != nil, nil
}

// take drains the look-ahead slot. Callers must only call it after a
// positive HasNext, per the operator contract.
func (la *lookahead) take() (*types.Tuple, error) {
	if !la.hasBuffer || la.buffered == nil {
		return nil, fmt.Errorf("operators: next called without a positive hasNext: %w", dberrors.ErrDBException)
	}
	t := la.buffered
	la.buffered, la.hasBuffer = nil, false
	return t, nil
}

func (la *lookahead) reset() {
	la.buffered, la.hasBuffer = nil, false
}

// noChildren is embedded by operators with no children (SeqScan).
type noChildren struct{}

func (noChildren) Children() []Operator       { return nil }
func (noChildren) SetChildren(c []Operator)   {}
