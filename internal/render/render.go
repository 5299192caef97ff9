// Package render serializes RenderNode trees into markup.
//
// Serializers are replaceable: the resolver never depends on a presentation
// format, and each serializer is paired with the rich text formatter whose
// output it embeds.
package render

import (
	"fmt"
	"strings"

	"ex-vellum/internal/richtext"
	"ex-vellum/pkg/vellum"
)

// Serializer turns a resolved node sequence into markup.
type Serializer interface {
	Serialize(nodes []vellum.RenderNode) string
}

// Format names one serializer and formatter pair.
type Format string

const (
	// FormatHTML is the panel's native markup.
	FormatHTML Format = "html"
	// FormatMarkdown is used for text exports.
	FormatMarkdown Format = "markdown"
)

// ForFormat returns the text formatter and serializer for format.
func ForFormat(format Format) (vellum.TextFormatter, Serializer, error) {
	switch Format(strings.ToLower(string(format))) {
	case FormatHTML, "":
		return richtext.HTML{}, NewHTML(), nil
	case FormatMarkdown:
		return richtext.Markdown{}, Markdown{}, nil
	default:
		return nil, nil, fmt.Errorf("render format %q: unsupported", format)
	}
}
