package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinxiao27/doctree/client"
	"github.com/kevinxiao27/doctree/doc"
	"github.com/kevinxiao27/doctree/internal/authority"
	"github.com/kevinxiao27/doctree/internal/config"
	"github.com/kevinxiao27/doctree/internal/protocol"
	"github.com/kevinxiao27/doctree/ot"
)

func text(id string) doc.Text {
	return doc.Text{Base: doc.Base{ID: id, Name: id}, Text: id, FontSize: 16}
}

func setup(t *testing.T, docs ...doc.Doc) (*httptest.Server, *authority.Registry) {
	t.Helper()
	reg := authority.NewRegistry(0)
	for _, d := range docs {
		require.NoError(t, reg.Add(d))
	}
	srv := New(config.Default(), reg)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.CloseConnections()
		ts.Close()
		reg.Close()
	})
	return ts, reg
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server, clientID string) *client.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c, err := client.Dial(ctx, wsURL(ts), clientID)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// The client id arrives once the server has registered the connection.
	require.Eventually(t, func() bool { return c.Session.ClientID() != "" }, 5*time.Second, 10*time.Millisecond)
	return c
}

// settled reports whether the session has doc id with nothing uncommitted.
func settled(s *client.Session, id string) bool {
	ok := true
	err := s.Update(id, func(st *client.DocState) *client.Outgoing {
		ok = len(st.Uncommitted()) == 0
		return nil
	})
	return err == nil && ok
}

func TestClientsConverge(t *testing.T) {
	ts, reg := setup(t, doc.Doc{ID: "p", Type: doc.Page, Title: "p", Children: doc.Tree{text("a"), text("b")}})
	c1, c2 := dial(t, ts, "alice"), dial(t, ts, "")

	require.NoError(t, c1.Session.Subscribe("p"))
	require.NoError(t, c2.Session.Subscribe("p"))
	require.Eventually(t, func() bool {
		return settled(c1.Session, "p") && settled(c2.Session, "p")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "alice", c1.Session.ClientID())
	assert.NotEmpty(t, c2.Session.ClientID())

	require.NoError(t, c1.Session.Edit("p", ot.Transaction{ot.Insert{Path: ot.Path{0}, Element: text("x")}}))
	require.NoError(t, c2.Session.Edit("p", ot.Transaction{ot.Set{Path: ot.Path{1}, Prop: "text", Value: "B"}}))

	b := text("b")
	b.Text = "B"
	want := doc.Tree{text("x"), text("a"), b}

	require.Eventually(t, func() bool {
		for _, c := range []*client.Conn{c1, c2} {
			d, version, ok := c.Session.Doc("p")
			if !ok || version != 2 || !settled(c.Session, "p") || !assert.ObjectsAreEqual(want, d.Children) {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	snap, ok := reg.Lookup(context.Background(), "p")
	require.True(t, ok)
	assert.Equal(t, want, snap.Children)
}

func TestDocumentLifecycle(t *testing.T) {
	ts, reg := setup(t)
	c1, c2 := dial(t, ts, ""), dial(t, ts, "")

	require.NoError(t, c1.Session.CreateDoc(doc.Page, "Home", doc.Tree{text("a")}))
	// Every connection learns about the new document and refreshes its list.
	require.Eventually(t, func() bool { return len(c2.Session.Docs()) == 1 }, 5*time.Second, 10*time.Millisecond)
	id := c2.Session.Docs()[0].ID
	assert.Equal(t, "Home", c2.Session.Docs()[0].Title)

	require.NoError(t, c2.Session.RenameDoc(id, "Start"))
	require.Eventually(t, func() bool {
		docs := c1.Session.Docs()
		return len(docs) == 1 && docs[0].Title == "Start"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c1.Session.DeleteDoc(id))
	require.Eventually(t, func() bool { return len(c2.Session.Docs()) == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, reg.List())
}

// raw speaks the protocol directly, without a client session.
type raw struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialRaw(t *testing.T, ts *httptest.Server) *raw {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	r := &raw{t: t, ws: ws}
	assert.Equal(t, protocol.TypeClientID, r.read().Type)
	return r
}

func (r *raw) write(typ string, data any) {
	r.t.Helper()
	m, err := protocol.New(typ, data)
	require.NoError(r.t, err)
	require.NoError(r.t, r.ws.WriteJSON(m))
}

func (r *raw) read() protocol.Message {
	r.t.Helper()
	require.NoError(r.t, r.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m protocol.Message
	require.NoError(r.t, r.ws.ReadJSON(&m))
	return m
}

func TestProtocolErrors(t *testing.T) {
	ts, _ := setup(t, doc.Doc{ID: "p", Type: doc.Page, Title: "p", Children: doc.Tree{text("a")}})
	r := dialRaw(t, ts)

	r.write(protocol.TypeSubscribe, protocol.DocID{ID: "missing"})
	m := r.read()
	require.Equal(t, protocol.TypeError, m.Type)
	var e protocol.Error
	require.NoError(t, m.Decode(&e))
	assert.Equal(t, "missing", e.ID)
	assert.Contains(t, e.Message, authority.ErrNotFound.Error())

	r.write("bogus", struct{}{})
	assert.Equal(t, protocol.TypeError, r.read().Type)

	// A version the server never reached can't be rebased.
	r.write(protocol.TypeApply, protocol.Apply{ID: "p", Version: 7, Operations: ot.Transaction{ot.Delete{Path: ot.Path{0}}}})
	m = r.read()
	require.Equal(t, protocol.TypeUnsyncable, m.Type)
	var id protocol.DocID
	require.NoError(t, m.Decode(&id))
	assert.Equal(t, "p", id.ID)

	r.write(protocol.TypeApply, protocol.Apply{ID: "p", Version: 0, Operations: ot.Transaction{ot.Delete{Path: ot.Path{0}}}})
	m = r.read()
	require.Equal(t, protocol.TypeApplied, m.Type)
	var applied protocol.Applied
	require.NoError(t, m.Decode(&applied))
	assert.Equal(t, protocol.Applied{ID: "p", Version: 1}, applied)
}

func TestSubscriberReceivesBroadcasts(t *testing.T) {
	ts, _ := setup(t, doc.Doc{ID: "p", Type: doc.Page, Title: "p", Children: doc.Tree{text("a")}})
	r1, r2 := dialRaw(t, ts), dialRaw(t, ts)

	for _, r := range []*raw{r1, r2} {
		r.write(protocol.TypeSubscribe, protocol.DocID{ID: "p"})
		m := r.read()
		require.Equal(t, protocol.TypeSubscribed, m.Type)
		var v protocol.Subscribed
		require.NoError(t, m.Decode(&v))
		assert.Equal(t, 0, v.Version)
		assert.Equal(t, doc.Tree{text("a")}, v.Doc.Children)
	}

	ops := ot.Transaction{ot.Insert{Path: ot.Path{1}, Element: text("b")}}
	r1.write(protocol.TypeApply, protocol.Apply{ID: "p", Version: 0, Operations: ops})
	assert.Equal(t, protocol.TypeApplied, r1.read().Type)

	m := r2.read()
	require.Equal(t, protocol.TypeApply, m.Type)
	var v protocol.Apply
	require.NoError(t, m.Decode(&v))
	assert.Equal(t, protocol.Apply{ID: "p", Version: 1, Operations: ops}, v)

	// After unsubscribing, r2 only sees the answers to its own requests. The
	// no-op apply is answered after the unsubscribe took effect.
	r2.write(protocol.TypeUnsubscribe, protocol.DocID{ID: "p"})
	r2.write(protocol.TypeApply, protocol.Apply{ID: "p", Version: 1, Operations: ot.Transaction{ot.Delete{Path: ot.Path{9}}}})
	m = r2.read()
	require.Equal(t, protocol.TypeApplied, m.Type)
	var applied protocol.Applied
	require.NoError(t, m.Decode(&applied))
	assert.Equal(t, 1, applied.Version)

	r1.write(protocol.TypeApply, protocol.Apply{ID: "p", Version: 1, Operations: ot.Transaction{ot.Delete{Path: ot.Path{0}}}})
	assert.Equal(t, protocol.TypeApplied, r1.read().Type)
	r2.write(protocol.TypeListDocs, struct{}{})
	assert.Equal(t, protocol.TypeDocList, r2.read().Type)
}

func TestBroadcastCarriesAppliedOpsOnly(t *testing.T) {
	ts, _ := setup(t, doc.Doc{ID: "p", Type: doc.Page, Title: "p", Children: doc.Tree{text("a")}})
	r1, r2 := dialRaw(t, ts), dialRaw(t, ts)
	for _, r := range []*raw{r1, r2} {
		r.write(protocol.TypeSubscribe, protocol.DocID{ID: "p"})
		require.Equal(t, protocol.TypeSubscribed, r.read().Type)
	}

	insert := ot.Insert{Path: ot.Path{1}, Element: text("b")}
	r1.write(protocol.TypeApply, protocol.Apply{ID: "p", Version: 0, Operations: ot.Transaction{ot.Delete{Path: ot.Path{9}}, insert}})
	assert.Equal(t, protocol.TypeApplied, r1.read().Type)

	var v protocol.Apply
	m := r2.read()
	require.Equal(t, protocol.TypeApply, m.Type)
	require.NoError(t, m.Decode(&v))
	assert.Equal(t, protocol.Apply{ID: "p", Version: 1, Operations: ot.Transaction{insert}}, v)

	// A transaction that applies nothing is not broadcast at all, so the
	// next message r2 sees is the following delete.
	r1.write(protocol.TypeApply, protocol.Apply{ID: "p", Version: 1, Operations: ot.Transaction{ot.Delete{Path: ot.Path{9}}}})
	assert.Equal(t, protocol.TypeApplied, r1.read().Type)
	r1.write(protocol.TypeApply, protocol.Apply{ID: "p", Version: 1, Operations: ot.Transaction{ot.Delete{Path: ot.Path{0}}}})
	assert.Equal(t, protocol.TypeApplied, r1.read().Type)

	m = r2.read()
	require.Equal(t, protocol.TypeApply, m.Type)
	require.NoError(t, m.Decode(&v))
	assert.Equal(t, protocol.Apply{ID: "p", Version: 2, Operations: ot.Transaction{ot.Delete{Path: ot.Path{0}}}}, v)
}

func TestHTTP(t *testing.T) {
	docs := doc.Examples()
	docs = append(docs,
		doc.Doc{ID: "loop-a", Type: doc.Component, Title: "a", Children: doc.Tree{
			doc.ComponentRef{Base: doc.Base{ID: "r", Name: "r"}, DocID: "loop-b"},
		}},
		doc.Doc{ID: "loop-b", Type: doc.Component, Title: "b", Children: doc.Tree{
			doc.ComponentRef{Base: doc.Base{ID: "r", Name: "r"}, DocID: "loop-a"},
		}},
	)
	ts, _ := setup(t, docs...)

	get := func(path string, v any) int {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		if v != nil && resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
		}
		return resp.StatusCode
	}

	var list protocol.DocList
	require.Equal(t, http.StatusOK, get("/docs", &list))
	assert.Len(t, list.Docs, 4)

	var sub protocol.Subscribed
	require.Equal(t, http.StatusOK, get("/docs/comp-1", &sub))
	assert.Equal(t, "Login form", sub.Doc.Title)
	assert.Len(t, sub.Doc.Children, 3)

	var rs refs
	require.Equal(t, http.StatusOK, get("/docs/page-1/refs", &rs))
	assert.Equal(t, []string{"comp-1"}, rs.Refs)

	assert.Equal(t, http.StatusConflict, get("/docs/loop-a/refs", nil))
	assert.Equal(t, http.StatusNotFound, get("/docs/nope", nil))
	assert.Equal(t, http.StatusNotFound, get("/docs/nope/refs", nil))
	assert.Equal(t, http.StatusOK, get("/healthz", nil))
	assert.Equal(t, http.StatusOK, get("/metrics", nil))
}

func TestCheckOrigin(t *testing.T) {
	cfg := config.Default()
	cfg.AllowedOrigins = []string{"http://localhost:3000"}
	s := New(cfg, authority.NewRegistry(0))

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, s.checkOrigin(r))
	r.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, s.checkOrigin(r))
	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, s.checkOrigin(r))
}
