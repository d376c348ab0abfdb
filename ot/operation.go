package ot

import (
	"fmt"

	"github.com/kevinxiao27/doctree/doc"
)

type OpType string

const (
	InsertOp OpType = "insert"
	DeleteOp OpType = "delete"
	MoveOp   OpType = "move"
	SetOp    OpType = "set"
)

// Operation is one of Insert, Delete, Move or Set.
type Operation interface {
	Type() OpType
	isOperation()
}

type Insert struct {
	Path    Path
	Element doc.Element
}

type Delete struct {
	Path Path
}

// Move relocates the node at From. To is expressed against the tree before
// the node is removed.
type Move struct {
	From Path
	To   Path
}

// Set replaces a single scalar property of the node at Path.
type Set struct {
	Path  Path
	Prop  string
	Value any
}

func (Insert) Type() OpType { return InsertOp }
func (Delete) Type() OpType { return DeleteOp }
func (Move) Type() OpType   { return MoveOp }
func (Set) Type() OpType    { return SetOp }

func (Insert) isOperation() {}
func (Delete) isOperation() {}
func (Move) isOperation()   {}
func (Set) isOperation()    {}

func (op Insert) String() string {
	return fmt.Sprintf("insert(%v, %s)", op.Path, op.Element.ElementID())
}

func (op Delete) String() string { return fmt.Sprintf("delete(%v)", op.Path) }

func (op Move) String() string { return fmt.Sprintf("move(%v -> %v)", op.From, op.To) }

func (op Set) String() string { return fmt.Sprintf("set(%v, %s=%v)", op.Path, op.Prop, op.Value) }

// Transaction is the ordered list of operations produced by one user action.
type Transaction []Operation

func (tr Transaction) Clone() Transaction {
	return append(Transaction(nil), tr...)
}
