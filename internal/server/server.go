// Package server is the websocket front end of the document authority.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kevinxiao27/doctree/doc"
	"github.com/kevinxiao27/doctree/internal/authority"
	"github.com/kevinxiao27/doctree/internal/config"
	"github.com/kevinxiao27/doctree/internal/protocol"
)

type Server struct {
	cfg      config.Config
	docs     *authority.Registry
	clients  *clients
	upgrader websocket.Upgrader
	router   *mux.Router
}

func New(cfg config.Config, docs *authority.Registry) *Server {
	s := &Server{
		cfg:     cfg,
		docs:    docs,
		clients: newClients(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/docs", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/docs/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/docs/{id}/refs", s.handleRefs).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// CloseConnections closes every open websocket. http.Server.Shutdown doesn't
// track hijacked connections.
func (s *Server) CloseConnections() {
	s.clients.each(func(c *conn) { c.close() })
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(s.cfg.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("[server]upgrade %s: %v", r.RemoteAddr, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newConn(s, clientID, ws)
	s.clients.add(c)
	glog.Infof("[server]client %s connected from %s (%d connections)", clientID, r.RemoteAddr, s.clients.count())

	c.enqueue(protocol.TypeClientID, protocol.ClientID{ID: clientID})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	c.readLoop(ctx)
	c.close()
	wg.Wait()

	s.release(ctx, c)
	glog.Infof("[server]client %s disconnected (%d connections)", clientID, s.clients.count())
}

// release drops c from every document it subscribed to.
func (s *Server) release(ctx context.Context, c *conn) {
	c.subs.Each(func(id string) bool {
		err := s.docs.Submit(ctx, id, func(h *authority.Handle) { h.Unsubscribe(c) })
		if err != nil && !errors.Is(err, authority.ErrNotFound) {
			glog.Warningf("[server]unsubscribe %s from %s: %v", c.clientID, id, err)
		}
		return false
	})
	s.clients.remove(c)
}

// dispatch handles one client message. Errors about a document are reported
// to the client directly; the returned error is for malformed messages.
func (s *Server) dispatch(ctx context.Context, c *conn, m protocol.Message) error {
	switch m.Type {
	case protocol.TypeSubscribe:
		var v protocol.DocID
		if err := m.Decode(&v); err != nil {
			return err
		}
		c.subs.Add(v.ID)
		err := s.docs.Submit(ctx, v.ID, func(h *authority.Handle) {
			if c.closed() {
				return
			}
			snap, version := h.Snapshot()
			c.enqueue(protocol.TypeSubscribed, protocol.Subscribed{Doc: snap, Version: version})
			h.Subscribe(c)
		})
		if err != nil {
			c.subs.Remove(v.ID)
			c.reject(v.ID, err)
		}

	case protocol.TypeUnsubscribe:
		var v protocol.DocID
		if err := m.Decode(&v); err != nil {
			return err
		}
		c.subs.Remove(v.ID)
		if err := s.docs.Submit(ctx, v.ID, func(h *authority.Handle) { h.Unsubscribe(c) }); err != nil {
			c.reject(v.ID, err)
		}

	case protocol.TypeApply:
		var v protocol.Apply
		if err := m.Decode(&v); err != nil {
			return err
		}
		err := s.docs.Submit(ctx, v.ID, func(h *authority.Handle) {
			tr, err := h.Apply(v.Version, v.Operations)
			if errors.Is(err, authority.ErrVersionStale) || errors.Is(err, authority.ErrVersionAhead) {
				glog.Warningf("[server]%s: client %s unsyncable: %v", v.ID, c.clientID, err)
				c.enqueue(protocol.TypeUnsyncable, protocol.DocID{ID: v.ID})
				return
			}
			if err != nil {
				c.reject(v.ID, err)
				return
			}
			c.enqueue(protocol.TypeApplied, protocol.Applied{ID: v.ID, Version: tr.Version})
			if len(tr.Operations) > 0 {
				h.Broadcast(tr, c)
			}
		})
		if err != nil {
			c.reject(v.ID, err)
		}

	case protocol.TypeListDocs:
		c.enqueue(protocol.TypeDocList, protocol.DocList{Docs: s.docs.List()})

	case protocol.TypeCreateDoc:
		var v protocol.CreateDoc
		if err := m.Decode(&v); err != nil {
			return err
		}
		summary, err := s.docs.Create(v.Type, v.Title, v.Children)
		if err != nil {
			c.reject("", err)
			return nil
		}
		glog.Infof("[server]client %s created %s %q", c.clientID, summary.ID, summary.Title)
		s.notifyAll(protocol.TypeDocCreated, protocol.DocID{ID: summary.ID})

	case protocol.TypeDeleteDoc:
		var v protocol.DocID
		if err := m.Decode(&v); err != nil {
			return err
		}
		if err := s.docs.Delete(v.ID); err != nil {
			c.reject(v.ID, err)
			return nil
		}
		glog.Infof("[server]client %s deleted %s", c.clientID, v.ID)
		s.notifyAll(protocol.TypeDocDeleted, protocol.DocID{ID: v.ID})

	case protocol.TypeRenameDoc:
		var v protocol.RenameDoc
		if err := m.Decode(&v); err != nil {
			return err
		}
		if err := s.docs.Rename(ctx, v.ID, v.Title); err != nil {
			c.reject(v.ID, err)
			return nil
		}
		s.notifyAll(protocol.TypeDocRenamed, v)

	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

func (s *Server) notifyAll(typ string, data any) {
	s.clients.each(func(c *conn) { c.enqueue(typ, data) })
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, protocol.DocList{Docs: s.docs.List()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	var v protocol.Subscribed
	err := s.docs.Do(r.Context(), mux.Vars(r)["id"], func(h *authority.Handle) {
		v.Doc, v.Version = h.Snapshot()
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, v)
}

type refs struct {
	ID   string   `json:"id"`
	Refs []string `json:"refs"`
}

func (s *Server) handleRefs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ids, err := doc.ResolveRefs(id, func(id string) (doc.Doc, bool) {
		return s.docs.Lookup(r.Context(), id)
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, refs{ID: id, Refs: ids})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("[server]write response: %v", err)
	}
}

func httpError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, authority.ErrNotFound), errors.Is(err, doc.ErrRefMissing):
		code = http.StatusNotFound
	case errors.Is(err, doc.ErrRefCycle):
		code = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), code)
}

// clients maps client ids to their open connections. A client id may have
// several connections, e.g. one per browser tab.
type clients struct {
	mu   sync.RWMutex
	byID map[string]mapset.Set[*conn]
	n    int
}

func newClients() *clients {
	return &clients{byID: make(map[string]mapset.Set[*conn])}
}

func (cs *clients) add(c *conn) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	set, ok := cs.byID[c.clientID]
	if !ok {
		set = mapset.NewThreadUnsafeSet[*conn]()
		cs.byID[c.clientID] = set
	}
	if set.Add(c) {
		cs.n++
	}
}

func (cs *clients) remove(c *conn) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	set, ok := cs.byID[c.clientID]
	if !ok || !set.Contains(c) {
		return
	}
	set.Remove(c)
	cs.n--
	if set.IsEmpty() {
		delete(cs.byID, c.clientID)
	}
}

func (cs *clients) count() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.n
}

func (cs *clients) each(fn func(*conn)) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	for _, set := range cs.byID {
		set.Each(func(c *conn) bool {
			fn(c)
			return false
		})
	}
}
