package server

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/kevinxiao27/doctree/internal/authority"
	"github.com/kevinxiao27/doctree/internal/metrics"
	"github.com/kevinxiao27/doctree/internal/protocol"
)

// conn is one websocket connection. The handler goroutine reads, writeLoop
// writes, and document workers only ever enqueue.
type conn struct {
	srv      *Server
	clientID string
	ws       *websocket.Conn
	send     chan protocol.Message
	done     chan struct{}
	once     sync.Once

	// subs holds the documents this connection asked for, so they can be
	// released when it goes away.
	subs mapset.Set[string]
}

func newConn(s *Server, clientID string, ws *websocket.Conn) *conn {
	metrics.Connections.Inc()
	return &conn{
		srv:      s,
		clientID: clientID,
		ws:       ws,
		send:     make(chan protocol.Message, s.cfg.SendBuffer),
		done:     make(chan struct{}),
		subs:     mapset.NewSet[string](),
	}
}

// Deliver implements authority.Subscriber.
func (c *conn) Deliver(docID string, tr authority.Transaction) {
	c.enqueue(protocol.TypeApply, protocol.Apply{
		ID:         docID,
		Version:    tr.Version,
		Operations: tr.Operations,
	})
}

// enqueue queues a message without blocking. A connection that can't keep up
// is closed.
func (c *conn) enqueue(typ string, data any) {
	m, err := protocol.New(typ, data)
	if err != nil {
		glog.Errorf("[server]client %s: %v", c.clientID, err)
		return
	}
	select {
	case c.send <- m:
	case <-c.done:
	default:
		glog.Warningf("[server]client %s: send queue full, closing", c.clientID)
		c.close()
	}
}

func (c *conn) reject(id string, err error) {
	glog.V(1).Infof("[server]client %s: %s: %v", c.clientID, id, err)
	c.enqueue(protocol.TypeError, protocol.Error{ID: id, Message: err.Error()})
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *conn) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(c.srv.cfg.ReadLimit)
	for {
		var m protocol.Message
		if err := c.ws.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.Warningf("[server]client %s: read: %v", c.clientID, err)
			}
			return
		}
		metrics.Messages.WithLabelValues("in", m.Type).Inc()
		glog.V(2).Infof("[server]client %s: %s", c.clientID, m.Type)

		if err := c.srv.dispatch(ctx, c, m); err != nil {
			c.reject("", err)
		}
	}
}

// writeLoop drains the send queue until the connection is closed, then
// closes the socket, which also ends readLoop.
func (c *conn) writeLoop() {
	defer func() {
		c.ws.Close()
		metrics.Connections.Dec()
	}()
	for {
		select {
		case m := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(m); err != nil {
				glog.Warningf("[server]client %s: write: %v", c.clientID, err)
				c.close()
				return
			}
			metrics.Messages.WithLabelValues("out", m.Type).Inc()
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}
