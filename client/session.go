package client

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/kevinxiao27/doctree/doc"
	"github.com/kevinxiao27/doctree/internal/protocol"
	"github.com/kevinxiao27/doctree/ot"
)

var ErrNotSubscribed = errors.New("not subscribed to document")

// SendFunc delivers one message to the server.
type SendFunc func(protocol.Message) error

// Session tracks every document a client has open on one server. It is safe
// for concurrent use: the connection's reader and the application both call
// into it.
type Session struct {
	mu       sync.Mutex
	send     SendFunc
	clientID string
	docs     map[string]*DocState
	list     []doc.Summary

	// OnChange, if set, is called after a document's content or the document
	// list changed. id is empty for list changes. It runs with the session
	// locked and must not call back into it.
	OnChange func(id string)
}

func NewSession(send SendFunc) *Session {
	return &Session{
		send: send,
		docs: make(map[string]*DocState),
	}
}

func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

func (s *Session) Subscribe(id string) error {
	return s.emit(protocol.TypeSubscribe, protocol.DocID{ID: id})
}

// Unsubscribe forgets the local replica, including unsent edits.
func (s *Session) Unsubscribe(id string) error {
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()
	return s.emit(protocol.TypeUnsubscribe, protocol.DocID{ID: id})
}

func (s *Session) ListDocs() error {
	return s.emit(protocol.TypeListDocs, struct{}{})
}

func (s *Session) CreateDoc(t doc.DocType, title string, children doc.Tree) error {
	return s.emit(protocol.TypeCreateDoc, protocol.CreateDoc{Type: t, Title: title, Children: children})
}

func (s *Session) DeleteDoc(id string) error {
	return s.emit(protocol.TypeDeleteDoc, protocol.DocID{ID: id})
}

func (s *Session) RenameDoc(id, title string) error {
	return s.emit(protocol.TypeRenameDoc, protocol.RenameDoc{ID: id, Title: title})
}

// Docs returns the last document list received.
func (s *Session) Docs() []doc.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]doc.Summary(nil), s.list...)
}

// Doc returns the local view of a subscribed document and its version.
func (s *Session) Doc(id string) (doc.Doc, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.docs[id]
	if !ok {
		return doc.Doc{}, 0, false
	}
	return st.Doc, st.Version, true
}

// Edit applies ops to the local replica and sends them when nothing else is
// in flight.
func (s *Session) Edit(id string, ops ot.Transaction) error {
	return s.Update(id, func(st *DocState) *Outgoing { return st.Edit(ops) })
}

func (s *Session) Undo(id string) error {
	return s.Update(id, (*DocState).Undo)
}

func (s *Session) Redo(id string) error {
	return s.Update(id, (*DocState).Redo)
}

// Update runs fn on the replica of id and sends whatever it returns. It
// reaches the parts of the DocState API that Session doesn't wrap, like
// selections. OnChange fires only if fn changed the replica.
func (s *Session) Update(id string, fn func(*DocState) *Outgoing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, id)
	}
	revision := st.Revision()
	out := fn(st)
	if st.Revision() != revision {
		s.changed(id)
	}
	return s.transmit(out)
}

// Handle processes one message from the server.
func (s *Session) Handle(m protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m.Type {
	case protocol.TypeClientID:
		var v protocol.ClientID
		if err := m.Decode(&v); err != nil {
			return err
		}
		s.clientID = v.ID

	case protocol.TypeDocList:
		var v protocol.DocList
		if err := m.Decode(&v); err != nil {
			return err
		}
		s.list = v.Docs
		s.changed("")

	case protocol.TypeSubscribed:
		var v protocol.Subscribed
		if err := m.Decode(&v); err != nil {
			return err
		}
		s.docs[v.Doc.ID] = NewDocState(v.Doc, v.Version)
		s.changed(v.Doc.ID)

	case protocol.TypeApplied:
		var v protocol.Applied
		if err := m.Decode(&v); err != nil {
			return err
		}
		st, ok := s.docs[v.ID]
		if !ok {
			return nil
		}
		return s.transmit(st.Ack(v.Version))

	case protocol.TypeApply:
		var v protocol.Apply
		if err := m.Decode(&v); err != nil {
			return err
		}
		st, ok := s.docs[v.ID]
		if !ok {
			return nil
		}
		st.Receive(v.Version, v.Operations)
		s.changed(v.ID)

	case protocol.TypeUnsyncable:
		var v protocol.DocID
		if err := m.Decode(&v); err != nil {
			return err
		}
		// The server can no longer rebase our work; start over from a fresh
		// snapshot.
		glog.Warningf("[client]%s: unsyncable, resubscribing", v.ID)
		delete(s.docs, v.ID)
		return s.emitLocked(protocol.TypeSubscribe, protocol.DocID{ID: v.ID})

	case protocol.TypeDocCreated, protocol.TypeDocDeleted, protocol.TypeDocRenamed:
		if m.Type == protocol.TypeDocDeleted {
			var v protocol.DocID
			if err := m.Decode(&v); err != nil {
				return err
			}
			delete(s.docs, v.ID)
		}
		return s.emitLocked(protocol.TypeListDocs, struct{}{})

	case protocol.TypeError:
		var v protocol.Error
		if err := m.Decode(&v); err != nil {
			return err
		}
		glog.Errorf("[client]server error %s: %s", v.ID, v.Message)

	default:
		glog.Warningf("[client]unknown message type %q", m.Type)
	}
	return nil
}

func (s *Session) changed(id string) {
	if s.OnChange != nil {
		s.OnChange(id)
	}
}

func (s *Session) transmit(out *Outgoing) error {
	if out == nil {
		return nil
	}
	return s.emitLocked(protocol.TypeApply, *out)
}

func (s *Session) emit(typ string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitLocked(typ, data)
}

// emitLocked sends while s.mu is held, so messages leave in the order the
// state changed.
func (s *Session) emitLocked(typ string, data any) error {
	m, err := protocol.New(typ, data)
	if err != nil {
		return err
	}
	return s.send(m)
}
