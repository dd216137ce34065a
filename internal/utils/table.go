package utils

import (
	"io"
	"strings"
	"unicode/utf8"
)

// Table renders rows in box-drawn columns for CLI output
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable creates a table with the given column headers
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	return &Table{headers: headers, widths: widths}
}

// AddRow appends a row. Short rows are padded, extra cells dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	for i, cell := range row {
		if w := utf8.RuneCountInString(cell); w > t.widths[i] {
			t.widths[i] = w
		}
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// String returns the formatted table
func (t *Table) String() string {
	var sb strings.Builder
	t.border(&sb, "┌", "┬", "┐")
	t.line(&sb, t.headers)
	t.border(&sb, "├", "┼", "┤")
	for _, row := range t.rows {
		t.line(&sb, row)
	}
	t.border(&sb, "└", "┴", "┘")
	return sb.String()
}

// Render writes the table to w
func (t *Table) Render(w io.Writer) error {
	_, err := io.WriteString(w, t.String())
	return err
}

func (t *Table) line(sb *strings.Builder, cells []string) {
	sb.WriteString("│")
	for i, cell := range cells {
		sb.WriteString(" ")
		sb.WriteString(cell)
		sb.WriteString(strings.Repeat(" ", t.widths[i]-utf8.RuneCountInString(cell)))
		sb.WriteString(" │")
	}
	sb.WriteString("\n")
}

func (t *Table) border(sb *strings.Builder, left, middle, right string) {
	sb.WriteString(left)
	for i, w := range t.widths {
		sb.WriteString(strings.Repeat("─", w+2))
		if i < len(t.widths)-1 {
			sb.WriteString(middle)
		}
	}
	sb.WriteString(right)
	sb.WriteString("\n")
}
