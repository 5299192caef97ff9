package vellum

import "fmt"

// MaxHeadingLevel is the deepest heading level a render node can carry.
const MaxHeadingLevel = 3

// BlockType identifies the tagged variant of one provider block.
//
// Values follow the provider wire names so cached blocks round-trip unchanged.
type BlockType string

const (
	// BlockTypeParagraph is a plain text paragraph.
	BlockTypeParagraph BlockType = "paragraph"
	// BlockTypeHeading1 is a level one heading.
	BlockTypeHeading1 BlockType = "heading_1"
	// BlockTypeHeading2 is a level two heading.
	BlockTypeHeading2 BlockType = "heading_2"
	// BlockTypeHeading3 is a level three heading.
	BlockTypeHeading3 BlockType = "heading_3"
	// BlockTypeBulletedListItem is one unordered list item.
	BlockTypeBulletedListItem BlockType = "bulleted_list_item"
	// BlockTypeNumberedListItem is one ordered list item.
	BlockTypeNumberedListItem BlockType = "numbered_list_item"
	// BlockTypeImage is an image with optional caption.
	BlockTypeImage BlockType = "image"
	// BlockTypeTable is a table whose children are table rows.
	BlockTypeTable BlockType = "table"
	// BlockTypeTableRow is one table row of rich text cells.
	BlockTypeTableRow BlockType = "table_row"
	// BlockTypeToggle is a collapsible block with a summary line.
	BlockTypeToggle BlockType = "toggle"
	// BlockTypeCallout is a highlighted block with an icon.
	BlockTypeCallout BlockType = "callout"
	// BlockTypeQuote is a quotation block.
	BlockTypeQuote BlockType = "quote"
	// BlockTypeColumnList is a horizontal layout whose children are columns.
	BlockTypeColumnList BlockType = "column_list"
	// BlockTypeColumn is one column of a column list.
	BlockTypeColumn BlockType = "column"
	// BlockTypeDivider is a horizontal rule.
	BlockTypeDivider BlockType = "divider"
	// BlockTypeCode is a code listing.
	BlockTypeCode BlockType = "code"
	// BlockTypeTodo is a checkbox item.
	BlockTypeTodo BlockType = "to_do"
	// BlockTypeUnsupported is any block the panel cannot render.
	BlockTypeUnsupported BlockType = "unsupported"
)

// ListKind distinguishes ordered and unordered list items.
type ListKind string

const (
	// ListKindUnordered groups bulleted list items.
	ListKindUnordered ListKind = "unordered"
	// ListKindOrdered groups numbered list items.
	ListKindOrdered ListKind = "ordered"
)

// Block is one node of a provider-hosted hierarchical document.
//
// Blocks are immutable once fetched. HasChildren is advisory: a children fetch
// for a block claiming children may legitimately return nothing.
type Block struct {
	ID          string       `json:"id"`
	Type        BlockType    `json:"type"`
	HasChildren bool         `json:"has_children"`
	Payload     BlockPayload `json:"payload"`
}

// BlockPayload carries type-specific block data. Fields irrelevant to a type stay zero.
type BlockPayload struct {
	RichText        []RichTextSpan   `json:"rich_text,omitempty"`
	Toggleable      bool             `json:"is_toggleable,omitempty"`
	Icon            string           `json:"icon,omitempty"`
	URL             string           `json:"url,omitempty"`
	Caption         []RichTextSpan   `json:"caption,omitempty"`
	Language        string           `json:"language,omitempty"`
	Checked         bool             `json:"checked,omitempty"`
	Cells           [][]RichTextSpan `json:"cells,omitempty"`
	HasColumnHeader bool             `json:"has_column_header,omitempty"`
	HasRowHeader    bool             `json:"has_row_header,omitempty"`
	// OriginalType keeps the provider type name of unsupported blocks.
	OriginalType string `json:"original_type,omitempty"`
}

// Validate checks that mandatory block fields are present.
func (b Block) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("validate block: missing id")
	}
	if b.Type == "" {
		return fmt.Errorf("validate block %s: missing type", b.ID)
	}

	return nil
}

// HeadingLevel returns the heading level for heading blocks.
func (b Block) HeadingLevel() (int, bool) {
	switch b.Type {
	case BlockTypeHeading1:
		return 1, true
	case BlockTypeHeading2:
		return 2, true
	case BlockTypeHeading3:
		return 3, true
	default:
		return 0, false
	}
}

// ListKind returns the list grouping kind for list item blocks.
func (b Block) ListKind() (ListKind, bool) {
	switch b.Type {
	case BlockTypeBulletedListItem:
		return ListKindUnordered, true
	case BlockTypeNumberedListItem:
		return ListKindOrdered, true
	default:
		return "", false
	}
}

// IsHeadingContainer reports whether the block is a heading whose children are
// nested under it (a toggle heading).
func (b Block) IsHeadingContainer() bool {
	if _, ok := b.HeadingLevel(); !ok {
		return false
	}

	return b.HasChildren || b.Payload.Toggleable
}

// CloneBlocks returns a deep copy of blocks so cached slices are never shared.
func CloneBlocks(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}

	cloned := make([]Block, len(blocks))
	for idx, block := range blocks {
		cloned[idx] = block
		cloned[idx].Payload.RichText = CloneSpans(block.Payload.RichText)
		cloned[idx].Payload.Caption = CloneSpans(block.Payload.Caption)
		if block.Payload.Cells != nil {
			cells := make([][]RichTextSpan, len(block.Payload.Cells))
			for cellIdx, cell := range block.Payload.Cells {
				cells[cellIdx] = CloneSpans(cell)
			}
			cloned[idx].Payload.Cells = cells
		}
	}

	return cloned
}
