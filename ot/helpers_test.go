package ot

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/kevinxiao27/doctree/doc"
)

func txt(id string) doc.Text {
	return doc.Text{Base: doc.Base{ID: id, Name: id}, Text: id, FontSize: 16}
}

func layout(id string, children ...doc.Element) doc.Layout {
	return doc.Layout{
		Base:      doc.Base{ID: id, Name: id},
		Direction: doc.Row,
		Children:  append(doc.Tree{}, children...),
	}
}

func tree(els ...doc.Element) doc.Tree {
	return append(doc.Tree{}, els...)
}

func at(t doc.Tree, p Path) (doc.Element, bool) {
	if len(p) == 0 {
		return nil, false
	}
	for i, idx := range p {
		if idx < 0 || idx >= len(t) {
			return nil, false
		}
		if i == len(p)-1 {
			return t[idx], true
		}
		children, ok := doc.Children(t[idx])
		if !ok {
			return nil, false
		}
		t = children
	}
	return nil, false
}

func nodePaths(t doc.Tree) []Path {
	var paths []Path
	doc.Walk(t, func(p []int, _ doc.Element) {
		paths = append(paths, slices.Clone(Path(p)))
	})
	return paths
}

// slots returns every valid insertion position.
func slots(t doc.Tree) []Path {
	out := []Path{}
	for i := 0; i <= len(t); i++ {
		out = append(out, Path{i})
	}
	doc.Walk(t, func(p []int, e doc.Element) {
		children, ok := doc.Children(e)
		if !ok {
			return
		}
		for i := 0; i <= len(children); i++ {
			out = append(out, append(slices.Clone(Path(p)), i))
		}
	})
	return out
}

type gen struct {
	r    *rand.Rand
	next int
}

func newGen(seed uint64) *gen {
	return &gen{r: rand.New(rand.NewPCG(seed, seed*7+1))}
}

func (g *gen) id(prefix string) string {
	g.next++
	return fmt.Sprintf("%s%d", prefix, g.next)
}

func (g *gen) element(depth int) doc.Element {
	if depth > 0 && g.r.IntN(3) == 0 {
		l := layout(g.id("l"))
		for range g.r.IntN(4) {
			l.Children = append(l.Children, g.element(depth-1))
		}
		return l
	}
	return txt(g.id("t"))
}

func (g *gen) tree() doc.Tree {
	t := tree()
	for range 3 + g.r.IntN(3) {
		t = append(t, g.element(2))
	}
	return t
}

func pick[T any](g *gen, xs []T) T {
	return xs[g.r.IntN(len(xs))]
}

// op returns a random operation for t. Kinds limits the operation types.
func (g *gen) op(t doc.Tree, kinds ...OpType) Operation {
	if len(kinds) == 0 {
		kinds = []OpType{InsertOp, DeleteOp, MoveOp, SetOp}
	}
	nodes := nodePaths(t)
	kind := pick(g, kinds)
	if len(nodes) == 0 {
		kind = InsertOp
	}
	switch kind {
	case DeleteOp:
		return Delete{Path: pick(g, nodes)}
	case MoveOp:
		return Move{From: pick(g, nodes), To: pick(g, slots(t))}
	case SetOp:
		p := pick(g, nodes)
		el, _ := at(t, p)
		switch el.(type) {
		case doc.Layout:
			return Set{Path: p, Prop: "direction", Value: string(pick(g, []doc.LayoutDirection{doc.Row, doc.Column}))}
		case doc.Text:
			if g.r.IntN(2) == 0 {
				return Set{Path: p, Prop: "fontSize", Value: 8 + g.r.IntN(30)}
			}
			return Set{Path: p, Prop: "text", Value: g.id("s")}
		}
		return Set{Path: p, Prop: "name", Value: g.id("n")}
	}
	var el doc.Element = txt(g.id("new"))
	if g.r.IntN(3) == 0 {
		el = layout(g.id("newl"))
	}
	return Insert{Path: pick(g, slots(t)), Element: el}
}

// transaction returns n operations produced one after another on t.
func (g *gen) transaction(t doc.Tree, n int, kinds ...OpType) (Transaction, doc.Tree) {
	var tr Transaction
	for len(tr) < n {
		op := g.op(t, kinds...)
		next, _, err := Apply(t, op)
		if err != nil {
			continue
		}
		tr = append(tr, op)
		t = next
	}
	return tr, t
}
