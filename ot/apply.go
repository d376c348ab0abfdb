package ot

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang/glog"

	"github.com/kevinxiao27/doctree/doc"
)

var (
	ErrEmptyPath       = errors.New("empty path")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrNotContainer    = errors.New("path descends into an element without children")
	ErrMoveIntoSelf    = errors.New("cannot move a node into its own subtree")
	ErrUnknownOp       = errors.New("unknown operation")
)

// Apply applies op to tree and returns the new tree together with the
// operation that undoes it. tree is never modified: only the nodes on the
// path from the root to the change are copied.
func Apply(tree doc.Tree, op Operation) (doc.Tree, Operation, error) {
	switch op := op.(type) {
	case Insert:
		t, err := applyInsert(tree, op.Path, op.Element)
		if err != nil {
			return nil, nil, err
		}
		return t, Delete{Path: slices.Clone(op.Path)}, nil
	case Delete:
		t, deleted, err := applyDelete(tree, op.Path)
		if err != nil {
			return nil, nil, err
		}
		return t, Insert{Path: slices.Clone(op.Path), Element: deleted}, nil
	case Move:
		return applyMove(tree, op)
	case Set:
		return applySet(tree, op)
	}
	return nil, nil, fmt.Errorf("%w: %T", ErrUnknownOp, op)
}

// ApplyAll applies a transaction, skipping operations that fail. It returns
// the operations that took effect and the transaction that reverts all of
// them, already in the order it must be applied.
func ApplyAll(tree doc.Tree, ops Transaction) (doc.Tree, Transaction, Transaction) {
	applied := make(Transaction, 0, len(ops))
	undo := make(Transaction, 0, len(ops))
	for _, op := range ops {
		next, inverse, err := Apply(tree, op)
		if err != nil {
			glog.V(2).Infof("[ot]skip %v: %v", op, err)
			continue
		}
		tree = next
		applied = append(applied, op)
		undo = append(undo, inverse)
	}
	slices.Reverse(undo)
	return tree, applied, undo
}

func applyInsert(tree doc.Tree, path Path, el doc.Element) (doc.Tree, error) {
	return modify(tree, path, func(siblings doc.Tree, i int) (doc.Tree, error) {
		if i < 0 || i > len(siblings) {
			return nil, ErrIndexOutOfRange
		}
		return slices.Insert(slices.Clone(siblings), i, el), nil
	})
}

func applyDelete(tree doc.Tree, path Path) (doc.Tree, doc.Element, error) {
	var deleted doc.Element
	t, err := modify(tree, path, func(siblings doc.Tree, i int) (doc.Tree, error) {
		if i < 0 || i >= len(siblings) {
			return nil, ErrIndexOutOfRange
		}
		deleted = siblings[i]
		return slices.Delete(slices.Clone(siblings), i, i+1), nil
	})
	if err != nil {
		return nil, nil, err
	}
	return t, deleted, nil
}

func applyMove(tree doc.Tree, op Move) (doc.Tree, Operation, error) {
	// op.To is relative to the tree that still holds the node.
	insertAt, ok := afterDelete(op.To, Anchor, op.From)
	if !ok {
		return nil, nil, ErrMoveIntoSelf
	}
	t, moved, err := applyDelete(tree, op.From)
	if err != nil {
		return nil, nil, err
	}
	t, err = applyInsert(t, insertAt, moved)
	if err != nil {
		return nil, nil, err
	}
	undo := Move{
		From: slices.Clone(insertAt),
		To:   slices.Clone(afterInsert(op.From, Anchor, insertAt)),
	}
	return t, undo, nil
}

func applySet(tree doc.Tree, op Set) (doc.Tree, Operation, error) {
	var old any
	t, err := modify(tree, op.Path, func(siblings doc.Tree, i int) (doc.Tree, error) {
		if i < 0 || i >= len(siblings) {
			return nil, ErrIndexOutOfRange
		}
		prev, ok := siblings[i].Prop(op.Prop)
		if !ok {
			return nil, fmt.Errorf("%w: %s", doc.ErrUnknownProp, op.Prop)
		}
		el, err := siblings[i].WithProp(op.Prop, op.Value)
		if err != nil {
			return nil, err
		}
		old = prev
		out := slices.Clone(siblings)
		out[i] = el
		return out, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return t, Set{Path: slices.Clone(op.Path), Prop: op.Prop, Value: old}, nil
}

// modify copies the spine from the root down to the sibling list addressed
// by path and lets fn replace that list.
func modify(tree doc.Tree, path Path, fn func(siblings doc.Tree, i int) (doc.Tree, error)) (doc.Tree, error) {
	if len(path) == 0 {
		return nil, ErrEmptyPath
	}
	if len(path) == 1 {
		return fn(tree, path[0])
	}
	i := path[0]
	if i < 0 || i >= len(tree) {
		return nil, ErrIndexOutOfRange
	}
	children, ok := doc.Children(tree[i])
	if !ok {
		return nil, ErrNotContainer
	}
	newChildren, err := modify(children, path[1:], fn)
	if err != nil {
		return nil, err
	}
	el, _ := doc.WithChildren(tree[i], newChildren)
	out := slices.Clone(tree)
	out[i] = el
	return out, nil
}
