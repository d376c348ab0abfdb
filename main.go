package main

import (
	"fmt"

	"github.com/sanity-io/litter"

	"github.com/kevinxiao27/doctree/client"
	"github.com/kevinxiao27/doctree/doc"
	"github.com/kevinxiao27/doctree/internal/authority"
	"github.com/kevinxiao27/doctree/ot"
)

// Two replicas edit the example page concurrently and sync through an
// in-process authority.
func main() {
	litter.Config.HidePrivateFields = false
	server := authority.NewDoc(doc.Examples()[0], 0)

	snap, version := server.Snapshot()
	alice := client.NewDocState(snap, version)
	bob := client.NewDocState(snap, version)

	// Alice moves the component ref to the top while Bob edits a text
	// inside the second layout and inserts after it.
	outA := alice.Edit(ot.Transaction{ot.Move{From: ot.Path{2}, To: ot.Path{0}}})
	outB := bob.Edit(ot.Transaction{ot.Set{Path: ot.Path{1, 0}, Prop: "text", Value: "Hi from Bob"}})
	bob.Edit(ot.Transaction{ot.Insert{
		Path:    ot.Path{2},
		Element: doc.Button{Base: doc.Base{ID: "bob-button", Name: "Button.Bob"}, Text: "Click"},
	}})

	sync := func(from, to *client.DocState, out *client.Outgoing) *client.Outgoing {
		tr, err := server.Apply(out.Version, out.Operations)
		if err != nil {
			panic(err)
		}
		to.Receive(tr.Version, tr.Operations)
		return from.Ack(tr.Version)
	}

	sync(alice, bob, outA)
	next := sync(bob, alice, outB)
	for next != nil {
		next = sync(bob, alice, next)
	}

	final, version := server.Snapshot()
	fmt.Printf("Server at version %d\n", version)
	litter.Dump(final.Children)

	for _, r := range []struct {
		name  string
		state *client.DocState
	}{{"alice", alice}, {"bob", bob}} {
		if litter.Sdump(r.state.Doc.Children) == litter.Sdump(final.Children) && r.state.Version == version {
			fmt.Printf("%s matches\n", r.name)
		} else {
			fmt.Printf("%s differs:\n%s\n", r.name, litter.Sdump(r.state.Doc.Children))
		}
	}
}
