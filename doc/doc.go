package doc

type DocType string

const (
	Page      DocType = "page"
	Component DocType = "component"
)

// Doc is a whole document. Children is the root of its tree.
type Doc struct {
	ID       string  `json:"id"`
	Type     DocType `json:"type"`
	Title    string  `json:"title"`
	Children Tree    `json:"children"`
}

// Summary is the listing view of a document.
type Summary struct {
	ID    string  `json:"id"`
	Type  DocType `json:"type"`
	Title string  `json:"title"`
}

func (d Doc) Summary() Summary {
	return Summary{ID: d.ID, Type: d.Type, Title: d.Title}
}

func (t DocType) Valid() bool {
	return t == Page || t == Component
}
