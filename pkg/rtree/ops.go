package rtree

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/mutator"
	"github.com/ssargent/rtbtree/pkg/navigator"
	"github.com/ssargent/rtbtree/pkg/rtkey"
	"github.com/ssargent/rtbtree/pkg/search"
)

// Find implements spec.md §6's find(key, {stats?}): an equality lookup
// shaped by proj, returning at most one Result (non-unique trees still
// return a single entry whose Values holds every record pointer under
// key).
func (t *Tree) Find(ctx context.Context, key rtkey.Value, proj search.Projection) ([]search.Result, error) {
	return t.search.Execute(ctx, t.currentRoot(), search.Criteria{Operator: search.Eq, Value: key}, proj)
}

// Search implements spec.md §6's search(op, param, proj) over the
// tree's current root.
func (t *Tree) Search(ctx context.Context, crit search.Criteria, proj search.Projection) ([]search.Result, error) {
	return t.search.Execute(ctx, t.currentRoot(), crit, proj)
}

// Add implements spec.md §6's add(key, rp, md).
func (t *Tree) Add(ctx context.Context, key rtkey.Value, value layout.Value) error {
	res, err := t.mutator.Add(ctx, t.currentRoot(), key, value)
	if err != nil {
		return err
	}
	return t.applyResult(res)
}

// Remove implements spec.md §6's remove(key, rp?).
func (t *Tree) Remove(ctx context.Context, key rtkey.Value, recordPointer []byte) error {
	res, err := t.mutator.Remove(ctx, t.currentRoot(), key, recordPointer)
	if err != nil {
		return err
	}
	return t.applyResult(res)
}

// Update implements spec.md §6's update(key, newVal, currVal?).
func (t *Tree) Update(ctx context.Context, key rtkey.Value, newValue layout.Value, currentRecordPointer []byte) error {
	res, err := t.mutator.Update(ctx, t.currentRoot(), key, newValue, currentRecordPointer)
	if err != nil {
		return err
	}
	return t.applyResult(res)
}

func (t *Tree) applyResult(res mutator.Result) error {
	if !res.RootChanged {
		return nil
	}
	return t.setRoot(res.NewRootOffset)
}

// OpKind identifies one tagged transaction operation, per spec.md §6's
// "Transaction operations are tagged records" paragraph.
type OpKind int

const (
	OpAdd OpKind = iota
	OpRemove
	OpUpdate
)

// Op is one operation within a Transaction call.
type Op struct {
	Kind                 OpKind
	Key                  rtkey.Value
	Value                layout.Value // Add: the value to insert. Update: the new value.
	CurrentRecordPointer []byte       // Remove/Update: which value to act on, for non-unique keys.
}

// UnknownOpKind reports an Op whose Kind is not one of OpAdd/OpRemove/OpUpdate.
var UnknownOpKind = errors.New("rtree: unknown transaction op kind")

// Transaction implements spec.md §6's transaction(ops): operations run
// in order against the live tree; the first failure stops the batch and
// is returned, without undoing ops that already succeeded (spec.md §8
// scenario 6: a transaction that fails on its third op still leaves the
// first two applied).
func (t *Tree) Transaction(ctx context.Context, ops []Op) error {
	for i, op := range ops {
		var err error
		switch op.Kind {
		case OpAdd:
			err = t.Add(ctx, op.Key, op.Value)
		case OpRemove:
			err = t.Remove(ctx, op.Key, op.CurrentRecordPointer)
		case OpUpdate:
			err = t.Update(ctx, op.Key, op.Value, op.CurrentRecordPointer)
		default:
			err = errors.Wrapf(UnknownOpKind, "op %d", op.Kind)
		}
		if err != nil {
			return errors.Wrapf(err, "rtree: transaction failed at op %d", i)
		}
	}
	return nil
}

// GetFirstLeaf implements spec.md §6's getFirstLeaf().
func (t *Tree) GetFirstLeaf(ctx context.Context) (navigator.Leaf, error) {
	return t.nav.GetFirstLeaf(ctx, t.currentRoot())
}

// GetLastLeaf implements spec.md §6's getLastLeaf().
func (t *Tree) GetLastLeaf(ctx context.Context) (navigator.Leaf, error) {
	return t.nav.GetLastLeaf(ctx, t.currentRoot())
}

// FindLeaf implements spec.md §6's findLeaf(key).
func (t *Tree) FindLeaf(ctx context.Context, key rtkey.Value) (navigator.Leaf, error) {
	return t.nav.FindLeaf(ctx, t.currentRoot(), key)
}
