package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/kevinxiao27/doctree/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Conn is a websocket connection to the document server feeding a Session.
type Conn struct {
	ws      *websocket.Conn
	mu      sync.Mutex // serializes writes
	Session *Session
}

// Dial connects to the server's websocket endpoint, e.g.
// ws://localhost:8080/ws. A non-empty clientID asks the server to reuse it.
func Dial(ctx context.Context, endpoint, clientID string) (*Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", endpoint, err)
	}
	if clientID != "" {
		q := u.Query()
		q.Set("clientId", clientID)
		u.RawQuery = q.Encode()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	c := &Conn{ws: ws}
	c.Session = NewSession(c.Send)
	return c, nil
}

// Send writes one message. Safe for concurrent use.
func (c *Conn) Send(m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(m)
}

// Run reads messages into the session until the connection closes or ctx is
// done.
func (c *Conn) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		var m protocol.Message
		if err := c.ws.ReadJSON(&m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				return nil
			}
			return err
		}
		if err := c.Session.Handle(m); err != nil {
			glog.Warningf("[client]%s: %v", m.Type, err)
		}
	}
}

// Close sends a close frame and tears down the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}
