package output

import (
	"fmt"
	"strings"
)

// MarkdownFormatter renders results as a Markdown table.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) Format(v Renderable) (string, error) {
	if v == nil {
		return "", nil
	}

	var sb strings.Builder
	if title := v.Title(); title != "" {
		fmt.Fprintf(&sb, "## %s\n\n", escapeMarkdownCell(title))
	}

	header := v.Header()
	sb.WriteString(markdownRow(header))
	separators := make([]string, len(header))
	for i := range separators {
		separators[i] = "---"
	}
	sb.WriteString(markdownRow(separators))
	for _, row := range v.Rows() {
		sb.WriteString(markdownRow(row))
	}

	if footer := v.Footer(); footer != "" {
		fmt.Fprintf(&sb, "\n**Summary**: %s\n", escapeMarkdownCell(footer))
	}
	return sb.String(), nil
}

func markdownRow(cells []string) string {
	escaped := make([]string, len(cells))
	for i, cell := range cells {
		escaped[i] = escapeMarkdownCell(cell)
	}
	return "| " + strings.Join(escaped, " | ") + " |\n"
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.ReplaceAll(value, "|", "\\|")
}
