// Package tabular reads raw government source files (Excel workbooks,
// fixed-width text, delimited text, zip archives) into uniform string
// tables that dataset packages convert to typed rows.
package tabular

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Table is a rectangular block of string cells with named columns.
// All parsing into numeric types happens downstream, once the dataset
// package knows which suppression markers apply.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Col returns the index of a named column, or -1 if absent.
func (t Table) Col(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Cell returns the value at (row, column name), or "" when the column is
// absent or the row is ragged.
func (t Table) Cell(row int, name string) string {
	i := t.Col(name)
	if i < 0 || i >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][i]
}

// Float parses a numeric cell, mapping empty cells and the listed
// suppression markers to NaN.
func Float(s string, na ...string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	for _, marker := range na {
		if s == marker {
			return math.NaN(), nil
		}
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse number %q: %w", s, err)
	}
	return v, nil
}

// Int parses an integer cell.
func Int(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("failed to parse integer %q: %w", s, err)
	}
	return v, nil
}
