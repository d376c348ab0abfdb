package ot

import (
	"encoding/json"
	"fmt"

	"github.com/kevinxiao27/doctree/doc"
)

type insertJSON struct {
	Type    OpType          `json:"type"`
	Path    Path            `json:"path"`
	Element json.RawMessage `json:"element"`
}

type deleteJSON struct {
	Type OpType `json:"type"`
	Path Path   `json:"path"`
}

type moveJSON struct {
	Type OpType `json:"type"`
	From Path   `json:"from"`
	To   Path   `json:"to"`
}

type setJSON struct {
	Type  OpType `json:"type"`
	Path  Path   `json:"path"`
	Prop  string `json:"prop"`
	Value any    `json:"value"`
}

func (op Insert) MarshalJSON() ([]byte, error) {
	el, err := json.Marshal(op.Element)
	if err != nil {
		return nil, err
	}
	return json.Marshal(insertJSON{InsertOp, op.Path, el})
}

func (op Delete) MarshalJSON() ([]byte, error) {
	return json.Marshal(deleteJSON{DeleteOp, op.Path})
}

func (op Move) MarshalJSON() ([]byte, error) {
	return json.Marshal(moveJSON{MoveOp, op.From, op.To})
}

func (op Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(setJSON{SetOp, op.Path, op.Prop, op.Value})
}

// UnmarshalOperation decodes one operation, dispatching on its "type" field.
func UnmarshalOperation(data []byte) (Operation, error) {
	var head struct {
		Type OpType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case InsertOp:
		var v insertJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		el, err := doc.UnmarshalElement(v.Element)
		if err != nil {
			return nil, fmt.Errorf("insert element: %w", err)
		}
		return Insert{Path: v.Path, Element: el}, nil
	case DeleteOp:
		var v deleteJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return Delete{Path: v.Path}, nil
	case MoveOp:
		var v moveJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return Move{From: v.From, To: v.To}, nil
	case SetOp:
		var v setJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return Set{Path: v.Path, Prop: v.Prop, Value: v.Value}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOp, head.Type)
}

func (tr *Transaction) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Transaction, 0, len(raws))
	for i, raw := range raws {
		op, err := UnmarshalOperation(raw)
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		out = append(out, op)
	}
	*tr = out
	return nil
}

func (tr Transaction) MarshalJSON() ([]byte, error) {
	if tr == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Operation(tr))
}
