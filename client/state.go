// Package client is the Go client of the document server. DocState is the
// optimistic replica of one document; Session and Conn connect a set of
// them to the server.
package client

import (
	"fmt"
	"reflect"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/golang/glog"

	"github.com/kevinxiao27/doctree/doc"
	"github.com/kevinxiao27/doctree/internal/protocol"
	"github.com/kevinxiao27/doctree/ot"
	"github.com/kevinxiao27/doctree/util"
)

// Outgoing is a transaction ready to be sent to the server.
type Outgoing = protocol.Apply

// DocState is a client's replica of one document. Local edits show up in
// Doc immediately; at most one transaction is in flight at a time and later
// edits wait in pending until the server acknowledges it.
//
// The undo halves are kept in the order they must be applied: undoSent
// reverts sent, undoPending reverts pending, and undoPending ++ undoSent
// reverts all uncommitted work.
//
// sent is what the server will make of the transaction in flight:
// transmitted rebased onto every broadcast received since it went out,
// which is what the server rebases it onto too.
type DocState struct {
	Doc       doc.Doc
	Version   int
	Selection []ot.Path

	undo []ot.Transaction
	redo []ot.Transaction

	inFlight    bool
	transmitted ot.Transaction
	missed      ot.Transaction

	sent        ot.Transaction
	undoSent    ot.Transaction
	pending     ot.Transaction
	undoPending ot.Transaction

	// revision counts observable changes.
	revision int
}

func NewDocState(d doc.Doc, version int) *DocState {
	if d.Children == nil {
		d.Children = doc.Tree{}
	}
	return &DocState{Doc: d, Version: version}
}

// InFlight reports whether a transaction awaits acknowledgment.
// A broadcast can rebase the whole transaction away, so this is not the same
// as sent being non-empty.
func (s *DocState) InFlight() bool { return s.inFlight }

// Uncommitted returns the local operations the server has not acknowledged.
func (s *DocState) Uncommitted() ot.Transaction {
	return slices.Concat(s.sent, s.pending)
}

func (s *DocState) CanUndo() bool { return len(s.undo) > 0 }

// Revision increases whenever the document, selection, version or history
// changes.
func (s *DocState) Revision() int { return s.revision }

func (s *DocState) CanRedo() bool { return len(s.redo) > 0 }

// Edit applies a local transaction. It returns the transaction to send, or
// nil when it was buffered or had no effect.
func (s *DocState) Edit(ops ot.Transaction) *Outgoing {
	applied, inverse := s.apply(ot.CleanRebase(ops, nil))
	if len(applied) == 0 {
		return nil
	}
	s.undo = append(s.undo, inverse)
	s.redo = nil
	return s.submit(applied, inverse)
}

// Undo reverts the most recent local transaction still on the undo stack.
func (s *DocState) Undo() *Outgoing {
	tx, ok := pop(&s.undo)
	if !ok {
		return nil
	}
	s.revision++
	applied, inverse := s.apply(tx)
	if len(applied) == 0 {
		return nil
	}
	s.redo = append(s.redo, inverse)
	return s.submit(applied, inverse)
}

func (s *DocState) Redo() *Outgoing {
	tx, ok := pop(&s.redo)
	if !ok {
		return nil
	}
	s.revision++
	applied, inverse := s.apply(tx)
	if len(applied) == 0 {
		return nil
	}
	s.undo = append(s.undo, inverse)
	return s.submit(applied, inverse)
}

// Ack handles the server's acknowledgment of the in-flight transaction.
// Pending work, if any, becomes the next transaction to send.
func (s *DocState) Ack(version int) *Outgoing {
	s.Version = version
	s.revision++
	s.inFlight = false
	s.transmitted, s.missed = nil, nil
	s.sent, s.undoSent = nil, nil
	if len(s.pending) == 0 {
		return nil
	}
	s.sent, s.undoSent = s.pending, s.undoPending
	s.pending, s.undoPending = nil, nil
	return s.transmit()
}

// Receive integrates a transaction another client committed. The local
// uncommitted work is unwound, ops applied, and the uncommitted work
// rebased onto ops and applied again, so Doc always shows the server's
// state plus this client's outstanding edits.
func (s *DocState) Receive(version int, ops ot.Transaction) {
	if version <= s.Version {
		glog.Warningf("[client]%s: ignoring broadcast v%d at v%d", s.Doc.ID, version, s.Version)
		return
	}

	uncommitted := s.Uncommitted()
	rebased := ot.Rebase(uncommitted, ops)
	chained := compact(rebased[:len(s.sent)])
	rebasedPending := compact(rebased[len(s.sent):])

	s.undo = rebaseStack(s.undo, uncommitted, ops)
	s.redo = rebaseStack(s.redo, uncommitted, ops)

	unwind := slices.Concat(s.undoPending, s.undoSent)
	tree, unwound, _ := ot.ApplyAll(s.Doc.Children, unwind)
	tree, remote, _ := ot.ApplyAll(tree, ops)

	rebasedSent := chained
	if s.inFlight {
		s.missed = slices.Concat(s.missed, ops)
		rebasedSent = ot.CleanRebase(s.transmitted, s.missed)
	}
	if !reflect.DeepEqual(rebasedSent, chained) {
		// Pending work and the undo history were rebased on top of chained.
		// Carry them over to what the server will apply instead.
		_, _, undoChained := ot.ApplyAll(tree, chained)
		_, fresh, _ := ot.ApplyAll(tree, rebasedSent)
		correction := slices.Concat(undoChained, fresh)
		s.undo = rebaseStack(s.undo, rebasedPending, correction)
		s.redo = rebaseStack(s.redo, rebasedPending, correction)
		rebasedPending = ot.CleanRebase(rebasedPending, correction)
	}

	tree, sent, undoSent := ot.ApplyAll(tree, rebasedSent)
	tree, pending, undoPending := ot.ApplyAll(tree, rebasedPending)

	s.Doc.Children = tree
	s.Selection = transformSelection(s.Selection, slices.Concat(unwound, remote, sent, pending))
	s.sent, s.undoSent = sent, undoSent
	s.pending, s.undoPending = pending, undoPending
	s.Version = version
	s.revision++

	glog.V(1).Infof("[client]%s: v%d, %d remote ops, %d sent and %d pending kept",
		s.Doc.ID, version, len(ops), len(sent), len(pending))
}

// Select replaces the selection. Duplicates and paths that don't address a
// node are dropped.
func (s *DocState) Select(paths ...ot.Path) {
	s.revision++
	seen := mapset.NewThreadUnsafeSet[string]()
	s.Selection = util.Filter(paths, func(p ot.Path) bool {
		if !exists(s.Doc.Children, p) {
			return false
		}
		return seen.Add(fmt.Sprint(p))
	})
	slices.SortFunc(s.Selection, func(a, b ot.Path) int { return slices.Compare(a, b) })
}

// DeleteSelected deletes every selected node.
func (s *DocState) DeleteSelected() *Outgoing {
	intents := make([]ot.Operation, 0, len(s.Selection))
	for _, p := range slices.Backward(s.Selection) {
		intents = append(intents, ot.Delete{Path: p})
	}
	return s.Edit(sequence(intents))
}

// MoveSelected moves every selected node to the slot to, keeping their
// relative order.
func (s *DocState) MoveSelected(to ot.Path) *Outgoing {
	intents := make([]ot.Operation, 0, len(s.Selection))
	// Later nodes go first: each move lands in front of the previous one.
	for _, p := range slices.Backward(s.Selection) {
		intents = append(intents, ot.Move{From: p, To: to})
	}
	return s.Edit(sequence(intents))
}

func (s *DocState) apply(ops ot.Transaction) (ot.Transaction, ot.Transaction) {
	tree, applied, inverse := ot.ApplyAll(s.Doc.Children, ops)
	if len(applied) == 0 {
		return applied, inverse
	}
	s.revision++
	s.Doc.Children = tree
	s.Selection = transformSelection(s.Selection, applied)
	return applied, inverse
}

func (s *DocState) submit(applied, inverse ot.Transaction) *Outgoing {
	if !s.inFlight {
		s.sent, s.undoSent = applied, inverse
		return s.transmit()
	}
	s.pending = slices.Concat(s.pending, applied)
	s.undoPending = slices.Concat(inverse, s.undoPending)
	return nil
}

// transmit puts sent in flight.
func (s *DocState) transmit() *Outgoing {
	s.inFlight = true
	s.transmitted, s.missed = s.sent.Clone(), nil
	return &Outgoing{ID: s.Doc.ID, Version: s.Version, Operations: s.sent.Clone()}
}

// rebaseStack re-targets undo or redo transactions, recorded against the
// tree that includes the uncommitted work, onto the tree after a remote
// transaction. Going through the inverse of the uncommitted work is a
// backward transform through it, which lets edits of nodes that the
// uncommitted work created follow those nodes.
func rebaseStack(stack []ot.Transaction, uncommitted, remote ot.Transaction) []ot.Transaction {
	out := make([]ot.Transaction, 0, len(stack))
	for _, tx := range stack {
		rebased := ot.Rebase(slices.Concat(uncommitted, tx), remote)
		if tx := compact(rebased[len(uncommitted):]); len(tx) > 0 {
			out = append(out, tx)
		}
	}
	return out
}

// sequence turns independent intents, all expressed against the current
// tree, into a transaction whose members apply one after another.
func sequence(intents []ot.Operation) ot.Transaction {
	var tx ot.Transaction
next:
	for _, op := range intents {
		for _, prev := range tx {
			var ok bool
			if op, ok = ot.TransformForward(op, prev); !ok {
				continue next
			}
		}
		tx = append(tx, op)
	}
	return tx
}

func transformSelection(selection []ot.Path, ops ot.Transaction) []ot.Path {
	var out []ot.Path
next:
	for _, p := range selection {
		for _, op := range ops {
			var ok bool
			if p, ok = ot.TransformPathAfter(p, ot.Exact, op); !ok {
				continue next
			}
		}
		out = append(out, p)
	}
	return out
}

func compact(ops []ot.Operation) ot.Transaction {
	return util.Filter(ops, func(op ot.Operation) bool { return op != nil })
}

func exists(tree doc.Tree, p ot.Path) bool {
	for i, idx := range p {
		if idx < 0 || idx >= len(tree) {
			return false
		}
		if i == len(p)-1 {
			return true
		}
		children, ok := doc.Children(tree[idx])
		if !ok {
			return false
		}
		tree = children
	}
	return false
}

func pop(stack *[]ot.Transaction) (ot.Transaction, bool) {
	n := len(*stack)
	if n == 0 {
		return nil, false
	}
	tx := (*stack)[n-1]
	*stack = (*stack)[:n-1]
	return tx, true
}
