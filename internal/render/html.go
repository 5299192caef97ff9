package render

import (
	"html"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"ex-vellum/internal/richtext"
	"ex-vellum/pkg/vellum"
)

const (
	defaultHighlightStyle = "github"
	emptyToggleText       = "No content"
)

// HTMLOption mutates HTML serializer configuration.
type HTMLOption func(*HTML)

// WithHighlightStyle selects the chroma style used for code blocks.
func WithHighlightStyle(name string) HTMLOption {
	return func(serializer *HTML) {
		if name != "" {
			serializer.style = name
		}
	}
}

// HTML serializes nodes to panel HTML. Node text is expected to be output of
// richtext.HTML and is embedded unescaped.
type HTML struct {
	style     string
	formatter *chromahtml.Formatter
}

// NewHTML creates an HTML serializer.
func NewHTML(opts ...HTMLOption) *HTML {
	serializer := &HTML{
		style:     defaultHighlightStyle,
		formatter: chromahtml.New(chromahtml.WithClasses(true)),
	}
	for _, opt := range opts {
		opt(serializer)
	}

	return serializer
}

// Serialize renders nodes in order.
func (h *HTML) Serialize(nodes []vellum.RenderNode) string {
	var builder strings.Builder
	h.writeNodes(&builder, nodes)

	return builder.String()
}

func (h *HTML) writeNodes(builder *strings.Builder, nodes []vellum.RenderNode) {
	for _, node := range nodes {
		h.writeNode(builder, node)
	}
}

func (h *HTML) writeNode(builder *strings.Builder, node vellum.RenderNode) {
	switch typed := node.(type) {
	case vellum.Paragraph:
		builder.WriteString("<p>" + typed.Text + "</p>")
		h.writeChildren(builder, typed.Children)
	case vellum.Heading:
		tag := "h" + strconv.Itoa(vellum.ClampHeadingLevel(typed.Level))
		builder.WriteString("<" + tag + ">" + typed.Text + "</" + tag + ">")
	case vellum.ListContainer:
		tag := "ul"
		if typed.Ordered {
			tag = "ol"
		}
		builder.WriteString("<" + tag + ">")
		for _, item := range typed.Items {
			builder.WriteString("<li>" + item.Text)
			h.writeChildren(builder, item.Children)
			builder.WriteString("</li>")
		}
		builder.WriteString("</" + tag + ">")
	case vellum.Table:
		h.writeTable(builder, typed)
	case vellum.Callout:
		builder.WriteString(`<div class="vellum-callout">`)
		if typed.Icon != "" {
			builder.WriteString(`<span class="vellum-callout-icon">` + html.EscapeString(typed.Icon) + `</span>`)
		}
		builder.WriteString(`<div class="vellum-callout-body">` + typed.Text)
		h.writeChildren(builder, typed.Children)
		builder.WriteString(`</div></div>`)
	case vellum.Quote:
		builder.WriteString("<blockquote>" + typed.Text)
		h.writeChildren(builder, typed.Children)
		builder.WriteString("</blockquote>")
	case vellum.Toggle:
		h.writeToggle(builder, typed)
	case vellum.ColumnLayout:
		builder.WriteString(`<div class="vellum-columns">`)
		for _, column := range typed.Columns {
			builder.WriteString(`<div class="vellum-column">`)
			h.writeNodes(builder, column)
			builder.WriteString(`</div>`)
		}
		builder.WriteString(`</div>`)
	case vellum.Image:
		builder.WriteString("<figure>")
		if src := richtext.ExternalURL(typed.URL); src != "" {
			builder.WriteString(`<img src="` + html.EscapeString(src) + `" alt="" loading="lazy">`)
		}
		if typed.Caption != "" {
			builder.WriteString("<figcaption>" + typed.Caption + "</figcaption>")
		}
		builder.WriteString("</figure>")
	case vellum.Code:
		builder.WriteString(h.highlight(typed))
	case vellum.Divider:
		builder.WriteString("<hr>")
	case vellum.Todo:
		builder.WriteString(`<div class="vellum-todo"><input type="checkbox" disabled`)
		if typed.Checked {
			builder.WriteString(" checked")
		}
		builder.WriteString("> " + typed.Text)
		h.writeChildren(builder, typed.Children)
		builder.WriteString("</div>")
	case vellum.Unsupported:
		builder.WriteString(`<div class="vellum-unsupported">Unsupported block: ` + html.EscapeString(typed.BlockType) + `</div>`)
	case vellum.ErrorPlaceholder:
		builder.WriteString(`<div class="vellum-error" data-block-id="` + html.EscapeString(typed.BlockID) + `">` +
			html.EscapeString(typed.Reason) + `</div>`)
	}
}

func (h *HTML) writeChildren(builder *strings.Builder, children []vellum.RenderNode) {
	if len(children) == 0 {
		return
	}

	builder.WriteString(`<div class="vellum-children">`)
	h.writeNodes(builder, children)
	builder.WriteString(`</div>`)
}

func (h *HTML) writeToggle(builder *strings.Builder, toggle vellum.Toggle) {
	summary := toggle.Summary
	if toggle.HeadingLevel > 0 {
		tag := "h" + strconv.Itoa(vellum.ClampHeadingLevel(toggle.HeadingLevel))
		summary = "<" + tag + ">" + summary + "</" + tag + ">"
	}

	builder.WriteString("<details><summary>" + summary + "</summary>")
	if len(toggle.Children) == 0 {
		builder.WriteString(`<p class="vellum-empty">` + emptyToggleText + `</p>`)
	} else {
		h.writeNodes(builder, toggle.Children)
	}
	builder.WriteString("</details>")
}

func (h *HTML) writeTable(builder *strings.Builder, table vellum.Table) {
	builder.WriteString(`<table class="vellum-table">`)
	for rowIdx, row := range table.Rows {
		builder.WriteString("<tr>")
		for cellIdx, cell := range row {
			tag := "td"
			if (table.HasColumnHeader && rowIdx == 0) || (table.HasRowHeader && cellIdx == 0) {
				tag = "th"
			}
			builder.WriteString("<" + tag + ">" + cell + "</" + tag + ">")
		}
		builder.WriteString("</tr>")
	}
	builder.WriteString("</table>")
}

// highlight renders a code node through chroma, falling back to an escaped
// listing when no lexer or style can process it.
func (h *HTML) highlight(code vellum.Code) string {
	fallback := `<pre><code>` + html.EscapeString(code.Text) + `</code></pre>`

	lexer := lexers.Get(code.Language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get(h.style)
	if style == nil {
		style = styles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code.Text)
	if err != nil {
		return fallback
	}

	var builder strings.Builder
	if err := h.formatter.Format(&builder, style, iterator); err != nil {
		return fallback
	}

	return `<div class="vellum-code" data-language="` + html.EscapeString(code.Language) + `">` + builder.String() + `</div>`
}
