package operators

import (
	"fmt"

	"github.com/gosimpledb/simpledb/internal/dberrors"
	"github.com/gosimpledb/simpledb/internal/txn"
	"github.com/gosimpledb/simpledb/internal/types"
)

// Mutator is the narrow buffer-pool view Insert and Delete need: routed
// tuple mutation through the lock-protected page cache.
type Mutator interface {
	InsertTuple(tid txn.TransactionID, tableID uint64, t *types.Tuple) error
	DeleteTuple(tid txn.TransactionID, t *types.Tuple) error
}

var countSchema = types.NewSchema([]types.FieldDesc{{Type: types.IntType, Name: "count"}})

// Insert drains its child on the first fetch, inserting each tuple via
// the buffer pool, and returns a single one-field tuple holding the
// count; subsequent calls are EOF, per spec.md §4.5. Unlike the source
// implementation this spec departs from (§9's open question), IO errors
// during insert are raised rather than caught and swallowed.
type Insert struct {
	tid     txn.TransactionID
	child   Operator
	tableID uint64
	pool    Mutator
	opened  bool
	done    bool
}

// NewInsert builds an insert of child's tuples into tableID via pool.
func NewInsert(tid txn.TransactionID, child Operator, tableID uint64, pool Mutator) *Insert {
	return &Insert{tid: tid, child: child, tableID: tableID, pool: pool}
}

func (n *Insert) TupleDesc() *types.Schema { return countSchema }
func (n *Insert) Children() []Operator     { return []Operator{n.child} }

func (n *Insert) SetChildren(c []Operator) {
	if len(c) != 1 {
		panic("operators: insert takes exactly one child")
	}
	n.child = c[0]
}

func (n *Insert) Open() error {
	if err := n.child.Open(); err != nil {
		return err
	}
	n.opened = true
	n.done = false
	return nil
}

func (n *Insert) Rewind() error {
	if !n.opened {
		return fmt.Errorf("operators: insert rewind before open: %w", dberrors.ErrDBException)
	}
	n.done = false
	return n.child.Rewind()
}

func (n *Insert) HasNext() (bool, error) {
	if !n.opened {
		return false, fmt.Errorf("operators: insert hasNext before open: %w", dberrors.ErrDBException)
	}
	return !n.done, nil
}

func (n *Insert) Next() (*types.Tuple, error) {
	if n.done {
		return nil, fmt.Errorf("operators: insert exhausted: %w", dberrors.ErrNoSuchElement)
	}
	var count int32
	for {
		ok, err := n.child.HasNext()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		t, err := n.child.Next()
		if err != nil {
			return nil, err
		}
		if err := n.pool.InsertTuple(n.tid, n.tableID, t); err != nil {
			return nil, err
		}
		count++
	}
	n.done = true
	out := types.NewTuple(countSchema)
	out.SetField(0, types.NewIntField(count))
	return out, nil
}

func (n *Insert) Close() error {
	n.opened = false
	return n.child.Close()
}

// Delete has the same shape as Insert, deleting each child tuple via the
// buffer pool instead.
type Delete struct {
	tid    txn.TransactionID
	child  Operator
	pool   Mutator
	opened bool
	done   bool
}

// NewDelete builds a delete of child's tuples via pool.
func NewDelete(tid txn.TransactionID, child Operator, pool Mutator) *Delete {
	return &Delete{tid: tid, child: child, pool: pool}
}

func (d *Delete) TupleDesc() *types.Schema { return countSchema }
func (d *Delete) Children() []Operator     { return []Operator{d.child} }

func (d *Delete) SetChildren(c []Operator) {
	if len(c) != 1 {
		panic("operators: delete takes exactly one child")
	}
	d.child = c[0]
}

func (d *Delete) Open() error {
	if err := d.child.Open(); err != nil {
		return err
	}
	d.opened = true
	d.done = false
	return nil
}

func (d *Delete) Rewind() error {
	if !d.opened {
		return fmt.Errorf("operators: delete rewind before open: %w", dberrors.ErrDBException)
	}
	d.done = false
	return d.child.Rewind()
}

func (d *Delete) HasNext() (bool, error) {
	if !d.opened {
		return false, fmt.Errorf("operators: delete hasNext before open: %w", dberrors.ErrDBException)
	}
	return !d.done, nil
}

func (d *Delete) Next() (*types.Tuple, error) {
	if d.done {
		return nil, fmt.Errorf("operators: delete exhausted: %w", dberrors.ErrNoSuchElement)
	}
	var count int32
	for {
		ok, err := d.child.HasNext()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		t, err := d.child.Next()
		if err != nil {
			return nil, err
		}
		if err := d.pool.DeleteTuple(d.tid, t); err != nil {
			return nil, err
		}
		count++
	}
	d.done = true
	out := types.NewTuple(countSchema)
	out.SetField(0, types.NewIntField(count))
	return out, nil
}

func (d *Delete) Close() error {
	d.opened = false
	return d.child.Close()
}
