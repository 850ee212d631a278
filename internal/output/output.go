// Package output renders CLI results as tables, Markdown or JSON.
package output

import (
	"fmt"
	"strings"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Renderable is a result with both a tabular and a structured form.
type Renderable interface {
	// Title names the table in Markdown output. May be empty.
	Title() string
	Header() []string
	Rows() [][]string
	// Footer summarizes the rows. May be empty.
	Footer() string
	// Data is the value marshalled for JSON output.
	Data() any
}

// Formatter renders a Renderable.
type Formatter interface {
	Format(v Renderable) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// Render formats v in one call.
func Render(format Format, v Renderable) (string, error) {
	return NewFormatter(format).Format(v)
}
