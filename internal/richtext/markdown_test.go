package richtext

import (
	"testing"

	"ex-vellum/pkg/vellum"
)

func TestMarkdownFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		spans []vellum.RichTextSpan
		want  string
	}{
		{name: "empty", spans: nil, want: ""},
		{name: "escapes markup characters", spans: []vellum.RichTextSpan{{Text: "a*b_c"}}, want: `a\*b\_c`},
		{
			name:  "bold then italic",
			spans: []vellum.RichTextSpan{{Text: "x", Annotations: vellum.Annotations{Bold: true, Italic: true}}},
			want:  "_**x**_",
		},
		{
			name:  "code keeps literal text",
			spans: []vellum.RichTextSpan{{Text: "a*b", Annotations: vellum.Annotations{Code: true}}},
			want:  "`a*b`",
		},
		{
			name:  "link wraps last",
			spans: []vellum.RichTextSpan{{Text: "go", Annotations: vellum.Annotations{Strikethrough: true}, Link: "https://go.dev"}},
			want:  "[~~go~~](https://go.dev)",
		},
		{
			name:  "script link renders unlinked",
			spans: []vellum.RichTextSpan{{Text: "go", Link: "javascript:alert(1)"}},
			want:  "go",
		},
		{
			name:  "newline break",
			spans: []vellum.RichTextSpan{{Text: "a\nb"}},
			want:  "a<br>b",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := (Markdown{}).Format(testCase.spans); got != testCase.want {
				t.Fatalf("Format() = %q, want %q", got, testCase.want)
			}
		})
	}
}
