package doc

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadSeed reads a JSON array of documents.
func LoadSeed(path string) ([]Doc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var docs []Doc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode seed %s: %w", path, err)
	}
	for i, d := range docs {
		if d.ID == "" || !d.Type.Valid() {
			return nil, fmt.Errorf("seed %s: document %d has no id or bad type %q", path, i, d.Type)
		}
		if d.Children == nil {
			docs[i].Children = Tree{}
		}
	}
	return docs, nil
}

func text(id, name, s string) Text {
	return Text{Base: Base{ID: id, Name: name}, Text: s, FontSize: 16}
}

// Examples is the built-in document set served when no seed file is given.
func Examples() []Doc {
	return []Doc{
		{
			ID:    "page-1",
			Type:  Page,
			Title: "Example",
			Children: Tree{
				Layout{
					Base:      Base{ID: "layout-1", Name: "Layout 1"},
					Direction: Row,
					Children: Tree{
						text("text-1", "Text 1", "Hello Text 1"),
						text("text-2", "Text 2", "Hello Text 2"),
						text("text-3", "Text 3", "Hello Text 3"),
					},
				},
				Layout{
					Base:      Base{ID: "layout-2", Name: "Layout 2"},
					Direction: Column,
					Children: Tree{
						text("text-4", "Text 4", "Hello Text 4"),
						text("text-5", "Text 5", "Hello Text 5"),
						text("text-6", "Text 6", "Hello Text 6"),
					},
				},
				ComponentRef{Base: Base{ID: "comp-ref-1", Name: "Login form"}, DocID: "comp-1"},
			},
		},
		{
			ID:    "comp-1",
			Type:  Component,
			Title: "Login form",
			Children: Tree{
				Input{Base: Base{ID: "comp-1-input-1", Name: "Input.Email"}, Placeholder: "Email"},
				Input{Base: Base{ID: "comp-1-input-2", Name: "Input.Password"}, Placeholder: "Password"},
				Button{Base: Base{ID: "comp-1-button-1", Name: "Button.Login"}, Text: "Login"},
			},
		},
	}
}
