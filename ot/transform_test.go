package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformPathAfter(t *testing.T) {
	tests := []struct {
		name   string
		path   Path
		mode   PathType
		op     Operation
		want   Path
		wantOK bool
	}{
		{"insert before", Path{2}, Exact, Insert{Path: Path{1}}, Path{3}, true},
		{"insert after", Path{0}, Exact, Insert{Path: Path{1}}, Path{0}, true},
		{"insert same exact", Path{1}, Exact, Insert{Path: Path{1}}, Path{2}, true},
		{"insert same anchor", Path{1}, Anchor, Insert{Path: Path{1}}, Path{1}, true},
		{"insert below same index", Path{1, 0}, Anchor, Insert{Path: Path{1}}, Path{2, 0}, true},
		{"insert other parent", Path{0, 3}, Exact, Insert{Path: Path{1, 0}}, Path{0, 3}, true},
		{"insert deeper than path", Path{1}, Exact, Insert{Path: Path{1, 0}}, Path{1}, true},
		{"insert shifts ancestor", Path{2, 1, 4}, Exact, Insert{Path: Path{0}}, Path{3, 1, 4}, true},

		{"delete before", Path{3}, Exact, Delete{Path: Path{1}}, Path{2}, true},
		{"delete after", Path{0}, Exact, Delete{Path: Path{1}}, Path{0}, true},
		{"delete same exact", Path{1}, Exact, Delete{Path: Path{1}}, nil, false},
		{"delete same anchor", Path{1}, Anchor, Delete{Path: Path{1}}, Path{1}, true},
		{"delete inside exact", Path{1, 2}, Exact, Delete{Path: Path{1}}, nil, false},
		{"delete inside anchor", Path{1, 2}, Anchor, Delete{Path: Path{1}}, nil, false},
		{"delete nested sibling", Path{0, 3}, Exact, Delete{Path: Path{0, 1}}, Path{0, 2}, true},

		{"move node itself", Path{0}, Exact, Move{From: Path{0}, To: Path{3}}, Path{2}, true},
		{"move descendant", Path{0, 1}, Exact, Move{From: Path{0}, To: Path{3}}, Path{2, 1}, true},
		{"move shifts over", Path{1}, Exact, Move{From: Path{0}, To: Path{3}}, Path{0}, true},
		{"move leaves behind", Path{3}, Exact, Move{From: Path{0}, To: Path{3}}, Path{3}, true},
		{"move into layout", Path{2}, Exact, Move{From: Path{2}, To: Path{0, 0}}, Path{0, 0}, true},
		{"move into self ignored", Path{1}, Exact, Move{From: Path{0}, To: Path{0, 1}}, Path{1}, true},

		{"set", Path{4, 2}, Exact, Set{Path: Path{4, 2}}, Path{4, 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TransformPathAfter(tt.path, tt.mode, tt.op)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestTransformPathBefore(t *testing.T) {
	tests := []struct {
		name   string
		path   Path
		mode   PathType
		op     Operation
		want   Path
		wantOK bool
	}{
		{"insert before", Path{3}, Exact, Insert{Path: Path{1}}, Path{2}, true},
		{"insert after", Path{0}, Exact, Insert{Path: Path{1}}, Path{0}, true},
		{"inserted node", Path{1}, Exact, Insert{Path: Path{1}}, nil, false},
		{"inside inserted node", Path{1, 0}, Anchor, Insert{Path: Path{1}}, nil, false},
		{"anchor at inserted slot", Path{1}, Anchor, Insert{Path: Path{1}}, Path{1}, true},

		{"delete before", Path{2}, Exact, Delete{Path: Path{1}}, Path{3}, true},
		{"delete after", Path{0}, Exact, Delete{Path: Path{1}}, Path{0}, true},
		{"delete same exact", Path{1}, Exact, Delete{Path: Path{1}}, Path{2}, true},
		{"delete same anchor", Path{1}, Anchor, Delete{Path: Path{1}}, Path{1}, true},
		{"delete below same index", Path{1, 0}, Anchor, Delete{Path: Path{1}}, Path{2, 0}, true},

		{"move node itself", Path{2}, Exact, Move{From: Path{0}, To: Path{3}}, Path{0}, true},
		{"move descendant", Path{2, 1}, Exact, Move{From: Path{0}, To: Path{3}}, Path{0, 1}, true},
		{"move shifted over", Path{0}, Exact, Move{From: Path{0}, To: Path{3}}, Path{1}, true},
		{"move out of layout", Path{0, 0}, Exact, Move{From: Path{2}, To: Path{0, 0}}, Path{2}, true},

		{"set", Path{1}, Exact, Set{Path: Path{1}}, Path{1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TransformPathBefore(tt.path, tt.mode, tt.op)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestTransformDoesNotAlias(t *testing.T) {
	p := Path{2, 1}
	got, ok := TransformPathAfter(p, Exact, Insert{Path: Path{0}})
	require.True(t, ok)
	got[0] = 99
	assert.Equal(t, Path{2, 1}, p)
}

// Following an element through an operation must land on the same element.
func TestTransformPathTracksElements(t *testing.T) {
	for seed := range uint64(300) {
		g := newGen(seed)
		orig := g.tree()
		op := g.op(orig)
		next, _, err := Apply(orig, op)
		if err != nil {
			continue
		}

		for _, p := range nodePaths(orig) {
			el, _ := at(orig, p)
			q, ok := TransformPathAfter(p, Exact, op)
			if !ok {
				del, isDelete := op.(Delete)
				require.True(t, isDelete, "seed %d: %v lost %v", seed, op, p)
				require.True(t, p.HasPrefix(del.Path), "seed %d: %v lost %v", seed, op, p)
				continue
			}
			moved, found := at(next, q)
			require.True(t, found, "seed %d: %v sent %v to missing %v", seed, op, p, q)
			require.Equal(t, el.ElementID(), moved.ElementID(), "seed %d: %v sent %v to %v", seed, op, p, q)
		}

		for _, q := range nodePaths(next) {
			el, _ := at(next, q)
			p, ok := TransformPathBefore(q, Exact, op)
			if !ok {
				ins, isInsert := op.(Insert)
				require.True(t, isInsert, "seed %d: %v lost %v", seed, op, q)
				require.True(t, q.HasPrefix(ins.Path), "seed %d: %v lost %v", seed, op, q)
				continue
			}
			prev, found := at(orig, p)
			require.True(t, found, "seed %d: %v sent %v back to missing %v", seed, op, q, p)
			require.Equal(t, el.ElementID(), prev.ElementID(), "seed %d: %v sent %v back to %v", seed, op, q, p)
		}
	}
}
