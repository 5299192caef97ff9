package render

import (
	"strconv"
	"strings"

	"ex-vellum/internal/richtext"
	"ex-vellum/pkg/vellum"
)

// Markdown serializes nodes to GitHub-flavored Markdown. Node text is expected
// to be output of richtext.Markdown.
type Markdown struct{}

// Serialize renders nodes as blank-line separated Markdown blocks.
func (Markdown) Serialize(nodes []vellum.RenderNode) string {
	return strings.Join(markdownBlocks(nodes), "\n\n")
}

func markdownBlocks(nodes []vellum.RenderNode) []string {
	blocks := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if rendered := markdownNode(node); rendered != "" {
			blocks = append(blocks, rendered)
		}
	}

	return blocks
}

func markdownNode(node vellum.RenderNode) string {
	switch typed := node.(type) {
	case vellum.Paragraph:
		return joinBlocks(typed.Text, markdownBlocks(typed.Children)...)
	case vellum.Heading:
		return strings.Repeat("#", vellum.ClampHeadingLevel(typed.Level)) + " " + typed.Text
	case vellum.ListContainer:
		return markdownList(typed)
	case vellum.Table:
		return markdownTable(typed)
	case vellum.Callout:
		text := typed.Text
		if typed.Icon != "" {
			text = typed.Icon + " " + text
		}
		return prefixLines(joinBlocks(text, markdownBlocks(typed.Children)...), "> ")
	case vellum.Quote:
		return prefixLines(joinBlocks(typed.Text, markdownBlocks(typed.Children)...), "> ")
	case vellum.Toggle:
		summary := typed.Summary
		if typed.HeadingLevel > 0 {
			summary = strings.Repeat("#", vellum.ClampHeadingLevel(typed.HeadingLevel)) + " " + summary
		}
		body := strings.Join(markdownBlocks(typed.Children), "\n\n")
		if body == "" {
			body = "_" + emptyToggleText + "_"
		}
		return "<details>\n<summary>\n\n" + summary + "\n\n</summary>\n\n" + body + "\n\n</details>"
	case vellum.ColumnLayout:
		columns := make([]string, 0, len(typed.Columns))
		for _, column := range typed.Columns {
			if rendered := strings.Join(markdownBlocks(column), "\n\n"); rendered != "" {
				columns = append(columns, rendered)
			}
		}
		return strings.Join(columns, "\n\n")
	case vellum.Image:
		src := richtext.ExternalURL(typed.URL)
		if src == "" {
			return typed.Caption
		}
		return "![" + typed.Caption + "](" + escapeMarkdownURL(src) + ")"
	case vellum.Code:
		fence := "```"
		for strings.Contains(typed.Text, fence) {
			fence += "`"
		}
		return fence + typed.Language + "\n" + typed.Text + "\n" + fence
	case vellum.Divider:
		return "---"
	case vellum.Todo:
		box := "[ ]"
		if typed.Checked {
			box = "[x]"
		}
		return "- " + box + " " + indentContinuation(joinBlocks(typed.Text, markdownBlocks(typed.Children)...), "  ")
	case vellum.Unsupported:
		return "_Unsupported block: " + typed.BlockType + "_"
	case vellum.ErrorPlaceholder:
		return "> **Error:** " + typed.Reason
	default:
		return ""
	}
}

func markdownList(list vellum.ListContainer) string {
	lines := make([]string, 0, len(list.Items))
	for idx, item := range list.Items {
		marker := "- "
		if list.Ordered {
			marker = strconv.Itoa(idx+1) + ". "
		}
		body := joinBlocks(item.Text, markdownBlocks(item.Children)...)
		lines = append(lines, marker+indentContinuation(body, strings.Repeat(" ", len(marker))))
	}

	return strings.Join(lines, "\n")
}

func markdownTable(table vellum.Table) string {
	if len(table.Rows) == 0 {
		return ""
	}

	width := 0
	for _, row := range table.Rows {
		width = max(width, len(row))
	}

	lines := make([]string, 0, len(table.Rows)+1)
	for idx, row := range table.Rows {
		cells := make([]string, width)
		for cellIdx := range width {
			if cellIdx < len(row) {
				cells[cellIdx] = strings.ReplaceAll(row[cellIdx], "|", `\|`)
			}
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
		if idx == 0 {
			separators := make([]string, width)
			for sepIdx := range separators {
				separators[sepIdx] = "---"
			}
			lines = append(lines, "| "+strings.Join(separators, " | ")+" |")
		}
	}

	return strings.Join(lines, "\n")
}

func joinBlocks(head string, rest ...string) string {
	parts := make([]string, 0, len(rest)+1)
	if head != "" {
		parts = append(parts, head)
	}
	parts = append(parts, rest...)

	return strings.Join(parts, "\n\n")
}

func prefixLines(text string, prefix string) string {
	lines := strings.Split(text, "\n")
	for idx, line := range lines {
		if line == "" {
			lines[idx] = strings.TrimRight(prefix, " ")
			continue
		}
		lines[idx] = prefix + line
	}

	return strings.Join(lines, "\n")
}

// indentContinuation indents every line after the first so nested blocks stay
// inside a list item.
func indentContinuation(text string, indent string) string {
	lines := strings.Split(text, "\n")
	for idx := 1; idx < len(lines); idx++ {
		if lines[idx] != "" {
			lines[idx] = indent + lines[idx]
		}
	}

	return strings.Join(lines, "\n")
}

func escapeMarkdownURL(url string) string {
	return strings.NewReplacer(" ", "%20", "(", "%28", ")", "%29").Replace(url)
}
