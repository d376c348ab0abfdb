package ot

import "slices"

// Path locates a node, or an insertion slot, by sibling indices from the
// document root.
type Path []int

// PathType says how a path reacts when another operation touches the same
// index.
type PathType int

const (
	// Exact paths denote the operation's own node. They shift with it or
	// vanish with it.
	Exact PathType = iota
	// Anchor paths denote a position between siblings and stay put.
	Anchor
)

func (t PathType) String() string {
	if t == Anchor {
		return "anchor"
	}
	return "exact"
}

func (p Path) Equal(other Path) bool {
	return slices.Equal(p, other)
}

// HasPrefix reports whether prefix is an ancestor-or-self of p.
func (p Path) HasPrefix(prefix Path) bool {
	return len(prefix) <= len(p) && slices.Equal(p[:len(prefix)], prefix)
}

// parentIsAncestorOf reports whether the parent of p is an ancestor of other,
// i.e. other lives in p's sibling list or below one of those siblings.
func (p Path) parentIsAncestorOf(other Path) bool {
	if len(p) == 0 || len(p) > len(other) {
		return false
	}
	return slices.Equal(p[:len(p)-1], other[:len(p)-1])
}

// withOffset returns a copy of p with the index at depth adjusted by delta.
func (p Path) withOffset(depth, delta int) Path {
	out := slices.Clone(p)
	out[depth] += delta
	return out
}

// reroot moves the part of p below oldRoot under newRoot.
func (p Path) reroot(oldRoot, newRoot Path) Path {
	out := make(Path, 0, len(newRoot)+len(p)-len(oldRoot))
	out = append(out, newRoot...)
	return append(out, p[len(oldRoot):]...)
}
