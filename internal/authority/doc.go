// Package authority holds the server's copy of every document. Each
// document keeps its own version and trailing log, and rebases late
// transactions onto the operations they missed.
package authority

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/kevinxiao27/doctree/doc"
	"github.com/kevinxiao27/doctree/internal/metrics"
	"github.com/kevinxiao27/doctree/ol"
	"github.com/kevinxiao27/doctree/ot"
)

var (
	ErrVersionAhead = errors.New("version is ahead of the document")
	ErrVersionStale = errors.New("version is older than the operation log")
)

// Transaction is the result of an apply: the operations as they were
// applied, and the version they brought the document to.
type Transaction struct {
	Version    int            `json:"version"`
	Operations ot.Transaction `json:"operations"`
}

// Doc is the authoritative state of one document. It is not safe for
// concurrent use; the registry runs everything touching a Doc on that
// document's worker.
type Doc struct {
	ID       string
	Type     doc.DocType
	Title    string
	Children doc.Tree
	log      ol.Log[ot.Operation]
}

func NewDoc(d doc.Doc, maxLog int) *Doc {
	children := d.Children
	if children == nil {
		children = doc.Tree{}
	}
	return &Doc{
		ID:       d.ID,
		Type:     d.Type,
		Title:    d.Title,
		Children: children,
		log:      ol.NewLog[ot.Operation](maxLog),
	}
}

func (d *Doc) Version() int { return int(d.log.Version()) }

// Snapshot returns the current content. Trees are never modified in place,
// so the result stays valid after later applies.
func (d *Doc) Snapshot() (doc.Doc, int) {
	return doc.Doc{
		ID:       d.ID,
		Type:     d.Type,
		Title:    d.Title,
		Children: d.Children,
	}, d.Version()
}

// Apply accepts ops produced by a client whose copy of the document was at
// version. The operations the client has not seen are taken from the log,
// ops are rebased onto them and applied one at a time. Operations that
// can't be rebased or no longer apply are left out of the result.
func (d *Doc) Apply(version int, ops ot.Transaction) (Transaction, error) {
	start := time.Now()

	missed, err := d.log.Since(ol.LV(version))
	switch {
	case errors.Is(err, ol.ErrFuture):
		metrics.Rejections.WithLabelValues("ahead").Inc()
		return Transaction{}, fmt.Errorf("%w: %d > %d", ErrVersionAhead, version, d.Version())
	case errors.Is(err, ol.ErrTruncated):
		metrics.Rejections.WithLabelValues("stale").Inc()
		return Transaction{}, fmt.Errorf("%w: %d < %d", ErrVersionStale, version, d.log.Oldest())
	case err != nil:
		return Transaction{}, err
	}

	rebased := ot.CleanRebase(ops, missed)
	tree, applied, _ := ot.ApplyAll(d.Children, rebased)
	d.Children = tree
	d.log.Append(applied...)

	metrics.ObserveApply(start, len(applied), len(ops)-len(rebased), len(rebased)-len(applied))
	glog.V(1).Infof("[authority]%s: %d ops at v%d, %d missed, %d applied, now v%d",
		d.ID, len(ops), version, len(missed), len(applied), d.Version())

	return Transaction{Version: d.Version(), Operations: applied}, nil
}
