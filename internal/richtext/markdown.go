package richtext

import (
	"strings"

	"ex-vellum/pkg/vellum"
)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
	"~", `\~`,
	"<", `\<`,
	">", `\>`,
)

// Markdown formats spans as CommonMark inline text.
//
// Ordering matches HTML. Underline has no Markdown form and is emitted as raw <u>.
type Markdown struct{}

// Format renders spans in order.
func (Markdown) Format(spans []vellum.RichTextSpan) string {
	if len(spans) == 0 {
		return ""
	}

	var builder strings.Builder
	for _, span := range spans {
		builder.WriteString(formatMarkdownSpan(span))
	}

	return builder.String()
}

func formatMarkdownSpan(span vellum.RichTextSpan) string {
	if span.Text == "" {
		return ""
	}

	text := span.Text
	if !span.Annotations.Code {
		text = markdownEscaper.Replace(text)
	}
	text = strings.ReplaceAll(text, "\n", "<br>")

	annotations := span.Annotations
	if annotations.Bold {
		text = "**" + text + "**"
	}
	if annotations.Italic {
		text = "_" + text + "_"
	}
	if annotations.Underline {
		text = "<u>" + text + "</u>"
	}
	if annotations.Strikethrough {
		text = "~~" + text + "~~"
	}
	if annotations.Code {
		text = "`" + text + "`"
	}

	if link := RewriteLink(span.Link); link != "" {
		text = "[" + text + "](" + strings.ReplaceAll(link, ")", "%29") + ")"
	}

	return text
}
