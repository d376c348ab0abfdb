package doc

import (
	"encoding/json"
	"fmt"
)

// Elements are encoded as flat objects carrying a "type" discriminator.

func (l Layout) MarshalJSON() ([]byte, error) {
	type alias Layout
	return json.Marshal(struct {
		Type ElementType `json:"type"`
		alias
	}{LayoutType, alias(l)})
}

func (t Text) MarshalJSON() ([]byte, error) {
	type alias Text
	return json.Marshal(struct {
		Type ElementType `json:"type"`
		alias
	}{TextType, alias(t)})
}

func (in Input) MarshalJSON() ([]byte, error) {
	type alias Input
	return json.Marshal(struct {
		Type ElementType `json:"type"`
		alias
	}{InputType, alias(in)})
}

func (b Button) MarshalJSON() ([]byte, error) {
	type alias Button
	return json.Marshal(struct {
		Type ElementType `json:"type"`
		alias
	}{ButtonType, alias(b)})
}

func (c ComponentRef) MarshalJSON() ([]byte, error) {
	type alias ComponentRef
	return json.Marshal(struct {
		Type ElementType `json:"type"`
		alias
	}{ComponentRefType, alias(c)})
}

func (t Tree) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Element(t))
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	tree := make(Tree, 0, len(raws))
	for i, raw := range raws {
		e, err := UnmarshalElement(raw)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		tree = append(tree, e)
	}
	*t = tree
	return nil
}

// UnmarshalElement decodes one element, dispatching on its "type" field.
func UnmarshalElement(data []byte) (Element, error) {
	var head struct {
		Type ElementType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case LayoutType:
		var l Layout
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, err
		}
		if l.Children == nil {
			l.Children = Tree{}
		}
		return l, nil
	case TextType:
		var t Text
		err := json.Unmarshal(data, &t)
		return t, err
	case InputType:
		var in Input
		err := json.Unmarshal(data, &in)
		return in, err
	case ButtonType:
		var b Button
		err := json.Unmarshal(data, &b)
		return b, err
	case ComponentRefType:
		var c ComponentRef
		err := json.Unmarshal(data, &c)
		return c, err
	}
	return nil, fmt.Errorf("unknown element type %q", head.Type)
}
