package output

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

func (f *TableFormatter) Format(v Renderable) (string, error) {
	if v == nil {
		return "", nil
	}

	t := table.NewWriter()
	style := table.StyleRounded
	style.Format.Footer = text.FormatDefault
	t.SetStyle(style)
	t.AppendHeader(toRow(v.Header()))
	for _, row := range v.Rows() {
		t.AppendRow(toRow(row))
	}

	if footer := v.Footer(); footer != "" {
		cells := make(table.Row, len(v.Header()))
		for i := range cells {
			cells[i] = ""
		}
		if len(cells) > 0 {
			cells[len(cells)-1] = footer
		}
		t.AppendFooter(cells)
	}

	return t.Render(), nil
}

func toRow(values []string) table.Row {
	row := make(table.Row, len(values))
	for i, value := range values {
		row[i] = value
	}
	return row
}
