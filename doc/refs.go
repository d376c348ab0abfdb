package doc

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	ErrRefCycle   = errors.New("component reference cycle")
	ErrRefMissing = errors.New("referenced document not found")
)

// Lookup resolves a document id. It must be safe to call for any id.
type Lookup func(id string) (Doc, bool)

// RefIDs returns the distinct document ids referenced directly by t, in tree
// order.
func RefIDs(t Tree) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	ids := []string{}
	Walk(t, func(_ []int, e Element) {
		if ref, ok := e.(ComponentRef); ok && !seen.Contains(ref.DocID) {
			seen.Add(ref.DocID)
			ids = append(ids, ref.DocID)
		}
	})
	return ids
}

// ResolveRefs follows component references transitively starting at root and
// returns every reachable document id (root excluded). A document is listed
// after every document it references.
// A document reachable from itself yields ErrRefCycle.
func ResolveRefs(root string, lookup Lookup) ([]string, error) {
	done := mapset.NewThreadUnsafeSet[string]()
	onStack := mapset.NewThreadUnsafeSet[string]()
	order := []string{}

	var visit func(id string, chain []string) error
	visit = func(id string, chain []string) error {
		if onStack.Contains(id) {
			return fmt.Errorf("%w: %v", ErrRefCycle, append(chain, id))
		}
		if done.Contains(id) {
			return nil
		}
		d, ok := lookup(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrRefMissing, id)
		}
		onStack.Add(id)
		for _, ref := range RefIDs(d.Children) {
			if err := visit(ref, append(chain, id)); err != nil {
				return err
			}
		}
		onStack.Remove(id)
		done.Add(id)
		if id != root {
			order = append(order, id)
		}
		return nil
	}

	if err := visit(root, nil); err != nil {
		return nil, err
	}
	return order, nil
}
