package vellum

// NodeKind identifies one render node variant.
type NodeKind string

const (
	NodeKindParagraph        NodeKind = "paragraph"
	NodeKindHeading          NodeKind = "heading"
	NodeKindList             NodeKind = "list"
	NodeKindTable            NodeKind = "table"
	NodeKindCallout          NodeKind = "callout"
	NodeKindQuote            NodeKind = "quote"
	NodeKindToggle           NodeKind = "toggle"
	NodeKindColumnLayout     NodeKind = "column_layout"
	NodeKindImage            NodeKind = "image"
	NodeKindCode             NodeKind = "code"
	NodeKindDivider          NodeKind = "divider"
	NodeKindTodo             NodeKind = "todo"
	NodeKindUnsupported      NodeKind = "unsupported"
	NodeKindErrorPlaceholder NodeKind = "error_placeholder"
)

// RenderNode is one abstract output unit produced by the block tree resolver.
//
// Nodes are produced fresh per resolve call and are never cached; only
// serialized markup is. Text fields hold output of the configured TextFormatter.
type RenderNode interface {
	Kind() NodeKind
}

// Paragraph is a run of formatted text with optional nested content.
type Paragraph struct {
	Text     string
	Children []RenderNode
}

// Heading is a section heading at Level 1..MaxHeadingLevel.
type Heading struct {
	Level int
	Text  string
}

// ListItem is one element of a ListContainer.
type ListItem struct {
	Text     string
	Children []RenderNode
}

// ListContainer groups one maximal run of same-kind list items.
type ListContainer struct {
	Ordered bool
	Items   []ListItem
}

// Table is a grid of formatted cells.
type Table struct {
	HasColumnHeader bool
	HasRowHeader    bool
	Rows            [][]string
}

// Callout is highlighted text with an icon and nested content.
type Callout struct {
	Icon     string
	Text     string
	Children []RenderNode
}

// Quote is a quotation with nested content.
type Quote struct {
	Text     string
	Children []RenderNode
}

// Toggle is a collapsible section. HeadingLevel is non-zero for toggle headings.
type Toggle struct {
	Summary      string
	HeadingLevel int
	Children     []RenderNode
}

// ColumnLayout holds independently resolved columns in source order.
type ColumnLayout struct {
	Columns [][]RenderNode
}

// Image references an externally hosted image.
type Image struct {
	URL     string
	Caption string
}

// Code is a code listing. Text is unformatted source so serializers can highlight it.
type Code struct {
	Language string
	Text     string
}

// Divider is a horizontal rule.
type Divider struct{}

// Todo is a checkbox item with nested content.
type Todo struct {
	Checked  bool
	Text     string
	Children []RenderNode
}

// Unsupported marks a block type the panel cannot render.
type Unsupported struct {
	BlockType string
}

// ErrorPlaceholder replaces one block whose rendering failed.
type ErrorPlaceholder struct {
	BlockID string
	Reason  string
}

func (Paragraph) Kind() NodeKind { return NodeKindParagraph }
func (Heading) Kind() NodeKind { return NodeKindHeading }
func (ListContainer) Kind() NodeKind { return NodeKindList }
func (Table) Kind() NodeKind { return NodeKindTable }
func (Callout) Kind() NodeKind { return NodeKindCallout }
func (Quote) Kind() NodeKind { return NodeKindQuote }
func (Toggle) Kind() NodeKind { return NodeKindToggle }
func (ColumnLayout) Kind() NodeKind { return NodeKindColumnLayout }
func (Image) Kind() NodeKind { return NodeKindImage }
func (Code) Kind() NodeKind { return NodeKindCode }
func (Divider) Kind() NodeKind { return NodeKindDivider }
func (Todo) Kind() NodeKind { return NodeKindTodo }
func (Unsupported) Kind() NodeKind { return NodeKindUnsupported }
func (ErrorPlaceholder) Kind() NodeKind { return NodeKindErrorPlaceholder }

// ClampHeadingLevel bounds a heading level to the representable range.
func ClampHeadingLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > MaxHeadingLevel {
		return MaxHeadingLevel
	}

	return level
}
