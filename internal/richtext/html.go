package richtext

import (
	"html"
	"strings"

	"ex-vellum/pkg/vellum"
)

// HTML formats spans as inline HTML with all span text escaped.
type HTML struct{}

// Format renders spans in order.
//
// Per span, newlines become <br> first so breaks sit inside every wrap, then
// annotations wrap in the order bold, italic, underline, strikethrough, code,
// and a hyperlink wraps last.
func (HTML) Format(spans []vellum.RichTextSpan) string {
	if len(spans) == 0 {
		return ""
	}

	var builder strings.Builder
	for _, span := range spans {
		builder.WriteString(formatHTMLSpan(span))
	}

	return builder.String()
}

func formatHTMLSpan(span vellum.RichTextSpan) string {
	text := strings.ReplaceAll(html.EscapeString(span.Text), "\n", "<br>")

	annotations := span.Annotations
	if annotations.Bold {
		text = "<strong>" + text + "</strong>"
	}
	if annotations.Italic {
		text = "<em>" + text + "</em>"
	}
	if annotations.Underline {
		text = "<u>" + text + "</u>"
	}
	if annotations.Strikethrough {
		text = "<s>" + text + "</s>"
	}
	if annotations.Code {
		text = "<code>" + text + "</code>"
	}

	if link := RewriteLink(span.Link); link != "" {
		text = `<a href="` + html.EscapeString(link) + `"` + linkTarget(link) + `>` + text + `</a>`
	}

	return text
}

func linkTarget(link string) string {
	if strings.HasPrefix(link, "#") {
		return ""
	}

	return ` target="_blank" rel="noopener noreferrer"`
}
