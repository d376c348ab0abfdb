package doc

import (
	"errors"
	"fmt"
	"math"
)

type ElementType string

const (
	ComponentRefType ElementType = "component_ref"
	LayoutType       ElementType = "layout"
	TextType         ElementType = "text"
	InputType        ElementType = "input"
	ButtonType       ElementType = "button"
)

type LayoutDirection string

const (
	Row    LayoutDirection = "row"
	Column LayoutDirection = "column"
)

var (
	ErrUnknownProp = errors.New("unknown property")
	ErrPropType    = errors.New("property value has wrong type")
)

// Element is a node of a document tree. Implementations are value types, so
// copying an Element never aliases anything but a Layout's children slice.
type Element interface {
	ElementID() string
	Type() ElementType
	// Prop returns a settable scalar property by its wire name.
	Prop(name string) (any, bool)
	// WithProp returns a copy of the element with one property replaced.
	WithProp(name string, value any) (Element, error)
}

// Tree is an ordered list of sibling elements.
type Tree []Element

type Base struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (b Base) ElementID() string { return b.ID }

func (b Base) prop(name string) (any, bool) {
	switch name {
	case "id":
		return b.ID, true
	case "name":
		return b.Name, true
	}
	return nil, false
}

// setProp reports whether name is a base property.
func (b *Base) setProp(name string, value any) (bool, error) {
	switch name {
	case "id":
		s, err := asString(name, value)
		if err != nil {
			return true, err
		}
		b.ID = s
		return true, nil
	case "name":
		s, err := asString(name, value)
		if err != nil {
			return true, err
		}
		b.Name = s
		return true, nil
	}
	return false, nil
}

type Layout struct {
	Base
	Direction LayoutDirection `json:"direction"`
	Children  Tree            `json:"children"`
}

func (Layout) Type() ElementType { return LayoutType }

func (l Layout) Prop(name string) (any, bool) {
	if name == "direction" {
		return string(l.Direction), true
	}
	return l.Base.prop(name)
}

func (l Layout) WithProp(name string, value any) (Element, error) {
	if name == "direction" {
		s, err := asString(name, value)
		if err != nil {
			return nil, err
		}
		dir := LayoutDirection(s)
		if dir != Row && dir != Column {
			return nil, fmt.Errorf("%w: direction %q", ErrPropType, s)
		}
		l.Direction = dir
		return l, nil
	}
	if ok, err := l.Base.setProp(name, value); ok {
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, unknownProp(LayoutType, name)
}

type Text struct {
	Base
	Text     string `json:"text"`
	FontSize int    `json:"fontSize"`
}

func (Text) Type() ElementType { return TextType }

func (t Text) Prop(name string) (any, bool) {
	switch name {
	case "text":
		return t.Text, true
	case "fontSize":
		return t.FontSize, true
	}
	return t.Base.prop(name)
}

func (t Text) WithProp(name string, value any) (Element, error) {
	switch name {
	case "text":
		s, err := asString(name, value)
		if err != nil {
			return nil, err
		}
		t.Text = s
		return t, nil
	case "fontSize":
		n, err := asInt(name, value)
		if err != nil {
			return nil, err
		}
		t.FontSize = n
		return t, nil
	}
	if ok, err := t.Base.setProp(name, value); ok {
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, unknownProp(TextType, name)
}

type Input struct {
	Base
	Placeholder string `json:"placeholder"`
}

func (Input) Type() ElementType { return InputType }

func (in Input) Prop(name string) (any, bool) {
	if name == "placeholder" {
		return in.Placeholder, true
	}
	return in.Base.prop(name)
}

func (in Input) WithProp(name string, value any) (Element, error) {
	if name == "placeholder" {
		s, err := asString(name, value)
		if err != nil {
			return nil, err
		}
		in.Placeholder = s
		return in, nil
	}
	if ok, err := in.Base.setProp(name, value); ok {
		if err != nil {
			return nil, err
		}
		return in, nil
	}
	return nil, unknownProp(InputType, name)
}

type Button struct {
	Base
	Text string `json:"text"`
}

func (Button) Type() ElementType { return ButtonType }

func (b Button) Prop(name string) (any, bool) {
	if name == "text" {
		return b.Text, true
	}
	return b.Base.prop(name)
}

func (b Button) WithProp(name string, value any) (Element, error) {
	if name == "text" {
		s, err := asString(name, value)
		if err != nil {
			return nil, err
		}
		b.Text = s
		return b, nil
	}
	if ok, err := b.Base.setProp(name, value); ok {
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, unknownProp(ButtonType, name)
}

// ComponentRef points at another document by id. It never owns that
// document; see ResolveRefs.
type ComponentRef struct {
	Base
	DocID string `json:"docId"`
}

func (ComponentRef) Type() ElementType { return ComponentRefType }

func (c ComponentRef) Prop(name string) (any, bool) {
	if name == "docId" {
		return c.DocID, true
	}
	return c.Base.prop(name)
}

func (c ComponentRef) WithProp(name string, value any) (Element, error) {
	if name == "docId" {
		s, err := asString(name, value)
		if err != nil {
			return nil, err
		}
		c.DocID = s
		return c, nil
	}
	if ok, err := c.Base.setProp(name, value); ok {
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, unknownProp(ComponentRefType, name)
}

// Children returns the child list of e, or false if e can't have children.
func Children(e Element) (Tree, bool) {
	if l, ok := e.(Layout); ok {
		return l.Children, true
	}
	return nil, false
}

// WithChildren replaces the children of a Layout.
func WithChildren(e Element, children Tree) (Element, bool) {
	l, ok := e.(Layout)
	if !ok {
		return nil, false
	}
	l.Children = children
	return l, true
}

// Walk visits every element depth first. The path passed to fn must not be
// retained.
func Walk(t Tree, fn func(path []int, e Element)) {
	var walk func(path []int, t Tree)
	walk = func(path []int, t Tree) {
		for i, e := range t {
			p := append(path, i)
			fn(p, e)
			if children, ok := Children(e); ok {
				walk(p, children)
			}
		}
	}
	walk(nil, t)
}

func unknownProp(t ElementType, name string) error {
	return fmt.Errorf("%w: %s on %s", ErrUnknownProp, name, t)
}

func asString(name string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s wants string, got %T", ErrPropType, name, value)
	}
	return s, nil
}

// asInt accepts the integer kinds plus integral float64, which is what JSON
// numbers decode to.
func asInt(name string, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		// On 64-bit, math.MaxInt converts to 2^63, which int cannot hold.
		if v == math.Trunc(v) && v >= math.MinInt && v < math.MaxInt {
			return int(v), nil
		}
	}
	return 0, fmt.Errorf("%w: %s wants integer, got %v", ErrPropType, name, value)
}
