package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// boxTable renders query results as a bordered, left-aligned grid.
type boxTable struct {
	headers []string
	rows    [][]string
}

func (t *boxTable) Row(row []string) {
	t.rows = append(t.rows, row)
}

func (t *boxTable) Render(w io.Writer) {
	widths := t.widths()
	if len(widths) == 0 {
		return
	}
	separator := separatorLine(widths)

	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, formatCells(t.headers, widths))
	fmt.Fprintln(w, separator)
	for _, row := range t.rows {
		fmt.Fprintln(w, formatCells(row, widths))
	}
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "(%d rows)\n", len(t.rows))
}

func (t *boxTable) widths() []int {
	n := len(t.headers)
	for _, row := range t.rows {
		n = max(n, len(row))
	}

	widths := make([]int, n)
	for i := range widths {
		widths[i] = 1
	}
	measure := func(row []string) {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}
	return widths
}

func separatorLine(widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("-", w+2)
	}
	return "+" + strings.Join(parts, "+") + "+"
}

func formatCells(row []string, widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		parts[i] = " " + cell + strings.Repeat(" ", w-utf8.RuneCountInString(cell)+1)
	}
	return "|" + strings.Join(parts, "|") + "|"
}
