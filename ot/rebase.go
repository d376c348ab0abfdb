package ot

import (
	"github.com/kevinxiao27/doctree/util"
)

// CleanRebase is Rebase with the dropped operations removed.
func CleanRebase(ops, base Transaction) Transaction {
	return util.Filter(Rebase(ops, base), func(op Operation) bool {
		return op != nil
	})
}

// Rebase rewrites ops, a transaction whose members were produced one after
// another on the same tree, as if every operation of base had been applied
// to that tree first. The result has one entry per input operation; an entry
// is nil when that operation can no longer be expressed and must be dropped.
//
// Every path of an operation is carried on its own. It is first transformed
// backward through the operation's predecessors in ops, so it is expressed
// against the tree the transaction started from. If that fails because a
// predecessor created the node the path points into, or the path is the slot
// right behind such a node, it is instead mapped onto the predecessor's
// rebased form and carried forward from there. Otherwise it is transformed
// forward through base and then through the already rebased predecessors.
// Rebasing onto an empty base returns ops unchanged.
func Rebase(ops, base Transaction) []Operation {
	rebased := make([]Operation, len(ops))
	for i, op := range ops {
		out, ok := transformOp(op, func(p Path, mode PathType) (Path, bool) {
			return rebasePath(p, mode, ops[:i], rebased[:i], base)
		})
		if ok {
			rebased[i] = out
		}
	}
	return rebased
}

func rebasePath(p Path, mode PathType, prev, rebasedPrev []Operation, base Transaction) (Path, bool) {
	for j := len(prev) - 1; j >= 0; j-- {
		if back, ok := backwardPath(p, mode, prev[j]); ok {
			p = back
			continue
		}
		if rebasedPrev[j] == nil {
			return nil, false
		}
		mapped, ok := mapPath(p, mode, prev[j], rebasedPrev[j])
		if !ok {
			return nil, false
		}
		return forwardPath(mapped, mode, rebasedPrev[j+1:])
	}

	p, ok := forwardPath(p, mode, base)
	if !ok {
		return nil, false
	}
	return forwardPath(p, mode, rebasedPrev)
}

// forwardPath transforms p through ops in order, skipping nil entries.
func forwardPath(p Path, mode PathType, ops []Operation) (Path, bool) {
	for _, op := range ops {
		if op == nil {
			continue
		}
		var ok bool
		if p, ok = TransformPathAfter(p, mode, op); !ok {
			return nil, false
		}
	}
	return p, true
}

// backwardPath is TransformPathBefore, except that it refuses the slot right
// behind a node op placed: going back would merge it with the slot in front
// of that node and lose their order.
func backwardPath(p Path, mode PathType, op Operation) (Path, bool) {
	if mode == Anchor && insertedRightAfter(p, op) {
		return nil, false
	}
	return TransformPathBefore(p, mode, op)
}

// TransformForward re-targets op, concurrent with after, so it can be
// applied once after has been applied.
func TransformForward(op, after Operation) (Operation, bool) {
	return transformOp(op, func(p Path, mode PathType) (Path, bool) {
		return TransformPathAfter(p, mode, after)
	})
}

// TransformBackward re-targets op, which was produced after before, so it
// can be applied to the tree before before was applied.
func TransformBackward(op, before Operation) (Operation, bool) {
	return transformOp(op, func(p Path, mode PathType) (Path, bool) {
		return backwardPath(p, mode, before)
	})
}

// Map redirects op, which targets the node placed by before or the slot right
// behind it, to the coordinates of after, the rebased form of before.
func Map(op, before, after Operation) (Operation, bool) {
	return transformOp(op, func(p Path, mode PathType) (Path, bool) {
		return mapPath(p, mode, before, after)
	})
}

func mapPath(path Path, mode PathType, before, after Operation) (Path, bool) {
	if b, ok := before.(Insert); ok && path.HasPrefix(b.Path) {
		a, ok := after.(Insert)
		if !ok {
			return nil, false
		}
		return path.reroot(b.Path, a.Path), true
	}
	if mode == Anchor && insertedRightAfter(path, before) {
		at, ok := landing(after)
		if !ok {
			return nil, false
		}
		return at.withOffset(len(at)-1, 1), true
	}
	return nil, false
}

// landing returns where op puts a node: the insert path, or the slot a move
// drops its node into once the node has been taken out.
func landing(op Operation) (Path, bool) {
	switch op := op.(type) {
	case Insert:
		return op.Path, true
	case Move:
		return afterDelete(op.To, Anchor, op.From)
	}
	return nil, false
}

// insertedRightAfter reports whether path is the slot directly behind the
// node placed by op.
func insertedRightAfter(path Path, op Operation) bool {
	at, ok := landing(op)
	if !ok || len(path) != len(at) || !at.parentIsAncestorOf(path) {
		return false
	}
	d := len(path) - 1
	return path[d] == at[d]+1
}

// transformOp rewrites every path of op with fn, using the path type each
// field is interpreted with.
func transformOp(op Operation, fn func(Path, PathType) (Path, bool)) (Operation, bool) {
	switch op := op.(type) {
	case Insert:
		p, ok := fn(op.Path, Anchor)
		if !ok {
			return nil, false
		}
		return Insert{Path: p, Element: op.Element}, true
	case Delete:
		p, ok := fn(op.Path, Exact)
		if !ok {
			return nil, false
		}
		return Delete{Path: p}, true
	case Move:
		from, ok := fn(op.From, Exact)
		if !ok {
			return nil, false
		}
		to, ok := fn(op.To, Anchor)
		if !ok {
			return nil, false
		}
		return Move{From: from, To: to}, true
	case Set:
		p, ok := fn(op.Path, Exact)
		if !ok {
			return nil, false
		}
		return Set{Path: p, Prop: op.Prop, Value: op.Value}, true
	}
	return nil, false
}
