package vellum

import "strings"

// Annotations are the inline styles applied to one rich text span.
type Annotations struct {
	Bold          bool `json:"bold,omitempty"`
	Italic        bool `json:"italic,omitempty"`
	Underline     bool `json:"underline,omitempty"`
	Strikethrough bool `json:"strikethrough,omitempty"`
	Code          bool `json:"code,omitempty"`
}

// RichTextSpan is one run of uniformly annotated text inside a block payload.
type RichTextSpan struct {
	Text        string      `json:"text"`
	Annotations Annotations `json:"annotations"`
	// Link is the optional hyperlink target.
	Link string `json:"link,omitempty"`
}

// TextFormatter turns annotated spans into presentation text.
//
// Implementations must return an empty string, never an error, for empty input.
type TextFormatter interface {
	Format(spans []RichTextSpan) string
}

// PlainText concatenates span text without annotations.
func PlainText(spans []RichTextSpan) string {
	if len(spans) == 0 {
		return ""
	}

	var builder strings.Builder
	for _, span := range spans {
		builder.WriteString(span.Text)
	}

	return builder.String()
}

// CloneSpans returns an independent copy of spans.
func CloneSpans(spans []RichTextSpan) []RichTextSpan {
	if spans == nil {
		return nil
	}

	return append([]RichTextSpan(nil), spans...)
}
