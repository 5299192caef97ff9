package notion

import (
	"encoding/json"
	"strings"

	"ex-vellum/pkg/vellum"
)

type childrenResponse struct {
	Results    []rawBlock `json:"results"`
	HasMore    bool       `json:"has_more"`
	NextCursor string     `json:"next_cursor"`
}

// rawBlock keeps the type-keyed payload undecoded until the type is known.
type rawBlock struct {
	ID          string                     `json:"id"`
	Type        string                     `json:"type"`
	HasChildren bool                       `json:"has_children"`
	Fields      map[string]json.RawMessage `json:"-"`
}

func (b *rawBlock) UnmarshalJSON(data []byte) error {
	type header rawBlock
	var decoded header
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*b = rawBlock(decoded)
	b.Fields = fields

	return nil
}

type richText struct {
	PlainText   string             `json:"plain_text"`
	Href        string             `json:"href"`
	Annotations vellum.Annotations `json:"annotations"`
}

type fileObject struct {
	Type     string `json:"type"`
	External *struct {
		URL string `json:"url"`
	} `json:"external"`
	File *struct {
		URL string `json:"url"`
	} `json:"file"`
}

func (f fileObject) url() string {
	switch {
	case f.External != nil:
		return f.External.URL
	case f.File != nil:
		return f.File.URL
	default:
		return ""
	}
}

type icon struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}

// typedPayload is the union of the type-keyed payload objects.
type typedPayload struct {
	RichText        []richText   `json:"rich_text"`
	IsToggleable    bool         `json:"is_toggleable"`
	Icon            *icon        `json:"icon"`
	Caption         []richText   `json:"caption"`
	Language        string       `json:"language"`
	Checked         bool         `json:"checked"`
	Cells           [][]richText `json:"cells"`
	HasColumnHeader bool         `json:"has_column_header"`
	HasRowHeader    bool         `json:"has_row_header"`
	fileObject
}

var supportedTypes = map[string]vellum.BlockType{
	"paragraph":          vellum.BlockTypeParagraph,
	"heading_1":          vellum.BlockTypeHeading1,
	"heading_2":          vellum.BlockTypeHeading2,
	"heading_3":          vellum.BlockTypeHeading3,
	"bulleted_list_item": vellum.BlockTypeBulletedListItem,
	"numbered_list_item": vellum.BlockTypeNumberedListItem,
	"image":              vellum.BlockTypeImage,
	"table":              vellum.BlockTypeTable,
	"table_row":          vellum.BlockTypeTableRow,
	"toggle":             vellum.BlockTypeToggle,
	"callout":            vellum.BlockTypeCallout,
	"quote":              vellum.BlockTypeQuote,
	"column_list":        vellum.BlockTypeColumnList,
	"column":             vellum.BlockTypeColumn,
	"divider":            vellum.BlockTypeDivider,
	"code":               vellum.BlockTypeCode,
	"to_do":              vellum.BlockTypeTodo,
}

func (b rawBlock) toBlock() vellum.Block {
	blockType, supported := supportedTypes[b.Type]
	if !supported {
		return vellum.Block{
			ID:          b.ID,
			Type:        vellum.BlockTypeUnsupported,
			HasChildren: b.HasChildren,
			Payload:     vellum.BlockPayload{OriginalType: b.Type},
		}
	}

	block := vellum.Block{ID: b.ID, Type: blockType, HasChildren: b.HasChildren}
	raw, exists := b.Fields[b.Type]
	if !exists {
		return block
	}

	var payload typedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return vellum.Block{
			ID:          b.ID,
			Type:        vellum.BlockTypeUnsupported,
			HasChildren: b.HasChildren,
			Payload:     vellum.BlockPayload{OriginalType: b.Type},
		}
	}

	block.Payload = vellum.BlockPayload{
		RichText:        convertSpans(payload.RichText),
		Toggleable:      payload.IsToggleable,
		Caption:         convertSpans(payload.Caption),
		Language:        payload.Language,
		Checked:         payload.Checked,
		HasColumnHeader: payload.HasColumnHeader,
		HasRowHeader:    payload.HasRowHeader,
	}
	if payload.Icon != nil && payload.Icon.Type == "emoji" {
		block.Payload.Icon = payload.Icon.Emoji
	}
	if blockType == vellum.BlockTypeImage {
		block.Payload.URL = payload.url()
	}
	if len(payload.Cells) > 0 {
		block.Payload.Cells = make([][]vellum.RichTextSpan, len(payload.Cells))
		for idx, cell := range payload.Cells {
			block.Payload.Cells[idx] = convertSpans(cell)
		}
	}

	return block
}

func convertSpans(spans []richText) []vellum.RichTextSpan {
	if len(spans) == 0 {
		return nil
	}

	converted := make([]vellum.RichTextSpan, len(spans))
	for idx, span := range spans {
		converted[idx] = vellum.RichTextSpan{
			Text:        span.PlainText,
			Annotations: span.Annotations,
			Link:        span.Href,
		}
	}

	return converted
}

type pageResponse struct {
	Cover      *fileObject `json:"cover"`
	Properties map[string]struct {
		Type  string     `json:"type"`
		Title []richText `json:"title"`
	} `json:"properties"`
}

func (p pageResponse) meta() vellum.PageMeta {
	meta := vellum.PageMeta{}
	if p.Cover != nil {
		meta.CoverImage = p.Cover.url()
	}
	for _, property := range p.Properties {
		if property.Type != "title" {
			continue
		}
		parts := make([]string, 0, len(property.Title))
		for _, span := range property.Title {
			parts = append(parts, span.PlainText)
		}
		meta.Title = strings.Join(parts, "")
		break
	}

	return meta
}
