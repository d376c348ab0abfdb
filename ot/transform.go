package ot

// TransformPathAfter re-targets path, valid before op, so that it is valid
// after op has been applied. ok is false when the path no longer exists.
func TransformPathAfter(path Path, mode PathType, op Operation) (Path, bool) {
	switch op := op.(type) {
	case Insert:
		return afterInsert(path, mode, op.Path), true
	case Delete:
		return afterDelete(path, mode, op.Path)
	case Move:
		return afterMove(path, mode, op.From, op.To), true
	case Set:
		return path, true
	}
	return nil, false
}

// TransformPathBefore is the reverse of TransformPathAfter: path is valid
// after op, the result is valid before it. ok is false when the path did not
// exist before op.
func TransformPathBefore(path Path, mode PathType, op Operation) (Path, bool) {
	switch op := op.(type) {
	case Insert:
		return beforeInsert(path, mode, op.Path)
	case Delete:
		return beforeDelete(path, mode, op.Path), true
	case Move:
		return beforeMove(path, mode, op.From, op.To), true
	case Set:
		return path, true
	}
	return nil, false
}

func afterInsert(path Path, mode PathType, at Path) Path {
	if !at.parentIsAncestorOf(path) {
		return path
	}
	d := len(at) - 1
	switch {
	case path[d] < at[d]:
		return path
	case path[d] > at[d]:
		return path.withOffset(d, 1)
	case len(path) > len(at) || mode == Exact:
		// The node at the insertion index, and everything below it, is
		// pushed one sibling further.
		return path.withOffset(d, 1)
	}
	return path
}

func afterDelete(path Path, mode PathType, at Path) (Path, bool) {
	if !at.parentIsAncestorOf(path) {
		return path, true
	}
	d := len(at) - 1
	switch {
	case path[d] < at[d]:
		return path, true
	case path[d] > at[d]:
		return path.withOffset(d, -1), true
	case len(path) > len(at) || mode == Exact:
		// The deleted node itself, or something inside it.
		return nil, false
	}
	return path, true
}

// afterMove treats the move as delete(from) followed by insert(insertAt),
// where insertAt is to re-anchored through the delete. Paths at or below the
// moved node follow it to insertAt.
func afterMove(path Path, mode PathType, from, to Path) Path {
	insertAt, ok := afterDelete(to, Anchor, from)
	if !ok {
		// Move into its own subtree; it never applies.
		return path
	}
	p, ok := afterDelete(path, mode, from)
	if !ok {
		return path.reroot(from, insertAt)
	}
	return afterInsert(p, mode, insertAt)
}

func beforeInsert(path Path, mode PathType, at Path) (Path, bool) {
	if !at.parentIsAncestorOf(path) {
		return path, true
	}
	d := len(at) - 1
	switch {
	case path[d] < at[d]:
		return path, true
	case path[d] > at[d]:
		return path.withOffset(d, -1), true
	case len(path) > len(at) || mode == Exact:
		// The inserted node, or something inside it, did not exist yet.
		return nil, false
	}
	return path, true
}

func beforeDelete(path Path, mode PathType, at Path) Path {
	if !at.parentIsAncestorOf(path) {
		return path
	}
	d := len(at) - 1
	switch {
	case path[d] < at[d]:
		return path
	case path[d] == at[d] && mode == Anchor && len(path) == len(at):
		return path
	}
	return path.withOffset(d, 1)
}

func beforeMove(path Path, mode PathType, from, to Path) Path {
	insertAt, ok := afterDelete(to, Anchor, from)
	if !ok {
		return path
	}
	p, ok := beforeInsert(path, mode, insertAt)
	if !ok {
		return path.reroot(insertAt, from)
	}
	return beforeDelete(p, mode, from)
}
