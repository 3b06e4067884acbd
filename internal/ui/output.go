package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Table represents a simple text table
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable creates a new table
func NewTable(headers ...string) *Table {
	return &Table{
		Headers: headers,
		Rows:    make([][]string, 0),
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Fprint writes the table to w with a bold header row
func (t *Table) Fprint(w io.Writer) {
	if len(t.Rows) == 0 {
		return
	}

	// Calculate column widths
	widths := make([]int, len(t.Headers))
	for i, header := range t.Headers {
		widths[i] = len(header)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	bold := color.New(color.Bold)
	headerParts := make([]string, len(t.Headers))
	for i, header := range t.Headers {
		headerParts[i] = bold.Sprint(padRight(header, widths[i]))
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(headerParts, "  "), " "))

	for _, row := range t.Rows {
		rowParts := make([]string, len(row))
		for i, cell := range row {
			if i < len(widths) {
				rowParts[i] = padRight(cell, widths[i])
			} else {
				rowParts[i] = cell
			}
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(rowParts, "  "), " "))
	}
}

func padRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}

// FprintJSON writes data as indented JSON to w
func FprintJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
