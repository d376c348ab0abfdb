package authority

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/kevinxiao27/doctree/doc"
	"github.com/kevinxiao27/doctree/internal/metrics"
	"github.com/kevinxiao27/doctree/util"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
)

const queueSize = 64

// Subscriber receives the transactions applied to the documents it
// subscribed to. Deliver is called on the document's worker and must not
// block.
type Subscriber interface {
	Deliver(docID string, tr Transaction)
}

// worker owns one document. Jobs run one at a time in submission order,
// so the document needs no lock.
type worker struct {
	doc         *Doc
	subscribers mapset.Set[Subscriber]
	jobs        chan func(*Handle)
	quit        chan struct{}
	summary     doc.Summary // guarded by Registry.mu
}

// Handle is what a job gets to work with: the document and its
// subscribers. It must not escape the job.
type Handle struct {
	*Doc
	w *worker
}

func (h *Handle) Subscribe(s Subscriber) { h.w.subscribers.Add(s) }

func (h *Handle) Unsubscribe(s Subscriber) { h.w.subscribers.Remove(s) }

func (h *Handle) Subscribers() int { return h.w.subscribers.Cardinality() }

// Broadcast delivers tr to every subscriber except the one given.
func (h *Handle) Broadcast(tr Transaction, except Subscriber) {
	h.w.subscribers.Each(func(s Subscriber) bool {
		if s != except {
			s.Deliver(h.ID, tr)
		}
		return false
	})
}

func (w *worker) run() {
	h := &Handle{Doc: w.doc, w: w}
	for {
		select {
		case job := <-w.jobs:
			job(h)
		case <-w.quit:
			return
		}
	}
}

// Registry maps document ids to their workers.
type Registry struct {
	mu     sync.RWMutex
	docs   map[string]*worker
	maxLog int
}

func NewRegistry(maxLog int) *Registry {
	return &Registry{
		docs:   make(map[string]*worker),
		maxLog: maxLog,
	}
}

// Add registers d and starts its worker.
func (r *Registry) Add(d doc.Doc) error {
	if d.ID == "" {
		return errors.New("document without id")
	}
	if !d.Type.Valid() {
		return fmt.Errorf("document %s: invalid type %q", d.ID, d.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, d.ID)
	}
	w := &worker{
		doc:         NewDoc(d, r.maxLog),
		subscribers: mapset.NewThreadUnsafeSet[Subscriber](),
		jobs:        make(chan func(*Handle), queueSize),
		quit:        make(chan struct{}),
		summary:     d.Summary(),
	}
	r.docs[d.ID] = w
	go w.run()

	metrics.Documents.Inc()
	glog.V(1).Infof("[authority]registered %s (%s)", d.ID, d.Type)
	return nil
}

// Create registers a new document under a fresh id.
func (r *Registry) Create(t doc.DocType, title string, children doc.Tree) (doc.Summary, error) {
	d := doc.Doc{
		ID:       ulid.Make().String(),
		Type:     t,
		Title:    title,
		Children: children,
	}
	if err := r.Add(d); err != nil {
		return doc.Summary{}, err
	}
	return d.Summary(), nil
}

// Delete stops the document's worker. Jobs still queued are discarded.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.docs, id)
	close(w.quit)

	metrics.Documents.Dec()
	return nil
}

// Rename changes the title of a document.
func (r *Registry) Rename(ctx context.Context, id, title string) error {
	return r.Do(ctx, id, func(h *Handle) {
		h.Title = title
		r.mu.Lock()
		h.w.summary.Title = title
		r.mu.Unlock()
	})
}

// List returns every document, ordered by id.
func (r *Registry) List() []doc.Summary {
	r.mu.RLock()
	workers := make([]*worker, 0, len(r.docs))
	for _, w := range r.docs {
		workers = append(workers, w)
	}
	summaries := util.Map(workers, func(w *worker) doc.Summary { return w.summary })
	r.mu.RUnlock()

	slices.SortFunc(summaries, func(a, b doc.Summary) int {
		return strings.Compare(a.ID, b.ID)
	})
	return summaries
}

// Lookup returns the current content of a document. It is meant for reads
// that don't need to be ordered with edits, like reference resolution.
func (r *Registry) Lookup(ctx context.Context, id string) (doc.Doc, bool) {
	var d doc.Doc
	err := r.Do(ctx, id, func(h *Handle) {
		d, _ = h.Snapshot()
	})
	return d, err == nil
}

func (r *Registry) lookup(id string) (*worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return w, nil
}

func (w *worker) enqueue(ctx context.Context, fn func(*Handle)) error {
	select {
	case w.jobs <- fn:
		return nil
	case <-w.quit:
		return fmt.Errorf("%w: %s", ErrNotFound, w.doc.ID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues fn on the document's worker and returns without waiting.
func (r *Registry) Submit(ctx context.Context, id string, fn func(*Handle)) error {
	w, err := r.lookup(id)
	if err != nil {
		return err
	}
	return w.enqueue(ctx, fn)
}

// Do runs fn on the document's worker and waits for it to finish.
func (r *Registry) Do(ctx context.Context, id string, fn func(*Handle)) error {
	w, err := r.lookup(id)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	err = w.enqueue(ctx, func(h *Handle) {
		defer close(done)
		fn(h)
	})
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-w.quit:
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every worker.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, w := range r.docs {
		close(w.quit)
		delete(r.docs, id)
		metrics.Documents.Dec()
	}
}
