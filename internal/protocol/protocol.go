// Package protocol defines the messages exchanged over the websocket between
// the document server and its clients. Every message is an envelope
// {"type": ..., "data": ...}.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/kevinxiao27/doctree/doc"
	"github.com/kevinxiao27/doctree/ot"
)

// Client to server.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeListDocs    = "listDocs"
	TypeCreateDoc   = "createDoc"
	TypeDeleteDoc   = "deleteDoc"
	TypeRenameDoc   = "renameDoc"
)

// Server to client.
const (
	TypeClientID   = "clientId"
	TypeSubscribed = "subscribed"
	TypeApplied    = "applied"
	TypeDocList    = "docList"
	TypeUnsyncable = "unsyncable"
	TypeDocCreated = "docCreated"
	TypeDocDeleted = "docDeleted"
	TypeDocRenamed = "docRenamed"
	TypeError      = "error"
)

// TypeApply goes both ways: a client submitting a transaction, and the
// server broadcasting one it applied.
const TypeApply = "apply"

type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New wraps data in an envelope.
func New(typ string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return Message{Type: typ, Data: raw}, nil
}

// Decode unpacks the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: missing data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}

// DocID names a document: subscribe, unsubscribe, deleteDoc, unsyncable,
// docCreated and docDeleted.
type DocID struct {
	ID string `json:"id"`
}

type Apply struct {
	ID         string         `json:"id"`
	Version    int            `json:"version"`
	Operations ot.Transaction `json:"operations"`
}

type Applied struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

type Subscribed struct {
	Doc     doc.Doc `json:"doc"`
	Version int     `json:"version"`
}

type ClientID struct {
	ID string `json:"id"`
}

type DocList struct {
	Docs []doc.Summary `json:"docs"`
}

type CreateDoc struct {
	Type     doc.DocType `json:"type"`
	Title    string      `json:"title"`
	Children doc.Tree    `json:"children"`
}

type RenameDoc struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Error struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}
