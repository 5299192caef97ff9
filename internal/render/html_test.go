package render

import (
	"strings"
	"testing"

	"ex-vellum/pkg/vellum"
)

func TestHTMLSerialize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		nodes []vellum.RenderNode
		want  string
	}{
		{
			name:  "empty",
			nodes: nil,
			want:  "",
		},
		{
			name: "paragraph with children",
			nodes: []vellum.RenderNode{vellum.Paragraph{
				Text:     "<strong>a</strong>",
				Children: []vellum.RenderNode{vellum.Paragraph{Text: "b"}},
			}},
			want: `<p><strong>a</strong></p><div class="vellum-children"><p>b</p></div>`,
		},
		{
			name: "lists",
			nodes: []vellum.RenderNode{
				vellum.ListContainer{Items: []vellum.ListItem{{Text: "a"}, {Text: "b"}}},
				vellum.ListContainer{Ordered: true, Items: []vellum.ListItem{{Text: "one"}}},
			},
			want: "<ul><li>a</li><li>b</li></ul><ol><li>one</li></ol>",
		},
		{
			name:  "heading clamps level",
			nodes: []vellum.RenderNode{vellum.Heading{Level: 5, Text: "deep"}},
			want:  "<h3>deep</h3>",
		},
		{
			name:  "empty toggle shows no content",
			nodes: []vellum.RenderNode{vellum.Toggle{Summary: "more"}},
			want:  `<details><summary>more</summary><p class="vellum-empty">No content</p></details>`,
		},
		{
			name: "toggle heading",
			nodes: []vellum.RenderNode{vellum.Toggle{
				Summary:      "section",
				HeadingLevel: 2,
				Children:     []vellum.RenderNode{vellum.Divider{}},
			}},
			want: "<details><summary><h2>section</h2></summary><hr></details>",
		},
		{
			name: "table headers",
			nodes: []vellum.RenderNode{vellum.Table{
				HasColumnHeader: true,
				HasRowHeader:    true,
				Rows:            [][]string{{"", "x"}, {"y", "1"}},
			}},
			want: `<table class="vellum-table"><tr><th></th><th>x</th></tr><tr><th>y</th><td>1</td></tr></table>`,
		},
		{
			name: "callout escapes icon",
			nodes: []vellum.RenderNode{vellum.Callout{Icon: "<i>", Text: "note"}},
			want: `<div class="vellum-callout"><span class="vellum-callout-icon">&lt;i&gt;</span>` +
				`<div class="vellum-callout-body">note</div></div>`,
		},
		{
			name: "columns",
			nodes: []vellum.RenderNode{vellum.ColumnLayout{Columns: [][]vellum.RenderNode{
				{vellum.Paragraph{Text: "l"}},
				{},
			}}},
			want: `<div class="vellum-columns"><div class="vellum-column"><p>l</p></div><div class="vellum-column"></div></div>`,
		},
		{
			name:  "image",
			nodes: []vellum.RenderNode{vellum.Image{URL: `https://x/a.png?b="c"`, Caption: "cap"}},
			want:  `<figure><img src="https://x/a.png?b=&#34;c&#34;" alt="" loading="lazy"><figcaption>cap</figcaption></figure>`,
		},
		{
			name:  "image with script source keeps caption only",
			nodes: []vellum.RenderNode{vellum.Image{URL: "javascript:alert(1)", Caption: "cap"}},
			want:  `<figure><figcaption>cap</figcaption></figure>`,
		},
		{
			name:  "todo",
			nodes: []vellum.RenderNode{vellum.Todo{Checked: true, Text: "done"}},
			want:  `<div class="vellum-todo"><input type="checkbox" disabled checked> done</div>`,
		},
		{
			name: "placeholder and unsupported",
			nodes: []vellum.RenderNode{
				vellum.ErrorPlaceholder{BlockID: "b1", Reason: "retry <later>"},
				vellum.Unsupported{BlockType: "embed"},
			},
			want: `<div class="vellum-error" data-block-id="b1">retry &lt;later&gt;</div>` +
				`<div class="vellum-unsupported">Unsupported block: embed</div>`,
		},
	}

	serializer := NewHTML()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := serializer.Serialize(tt.nodes); got != tt.want {
				t.Fatalf("serialize = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTMLHighlightsCode(t *testing.T) {
	t.Parallel()

	got := NewHTML(WithHighlightStyle("monokai")).Serialize([]vellum.RenderNode{
		vellum.Code{Language: "go", Text: `fmt.Println("<script>")`},
	})

	if !strings.Contains(got, `class="vellum-code" data-language="go"`) {
		t.Fatalf("missing code wrapper: %s", got)
	}
	if !strings.Contains(got, `class="chroma"`) {
		t.Fatalf("missing chroma markup: %s", got)
	}
	if strings.Contains(got, "<script>") {
		t.Fatalf("code text not escaped: %s", got)
	}
}

func TestHTMLHighlightUnknownLanguage(t *testing.T) {
	t.Parallel()

	got := NewHTML().Serialize([]vellum.RenderNode{vellum.Code{Language: "no-such-language", Text: "a < b"}})
	if !strings.Contains(got, "a &lt; b") {
		t.Fatalf("unknown language output = %s", got)
	}
}

func TestForFormat(t *testing.T) {
	t.Parallel()

	for _, format := range []Format{FormatHTML, FormatMarkdown, "HTML", ""} {
		formatter, serializer, err := ForFormat(format)
		if err != nil || formatter == nil || serializer == nil {
			t.Fatalf("ForFormat(%q) = %v, %v, %v", format, formatter, serializer, err)
		}
	}
	if _, _, err := ForFormat("pdf"); err == nil {
		t.Fatal("expected unsupported format error")
	}
}
