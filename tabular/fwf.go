package tabular

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// FWFColumn describes one field of a fixed-width text file by byte
// offsets into the line. End of -1 takes the rest of the line.
type FWFColumn struct {
	Name  string
	Start int
	End   int
}

// FWFWidths builds column specs from consecutive field widths, the last
// width extending to the end of the line when it is -1.
func FWFWidths(names []string, widths []int) ([]FWFColumn, error) {
	if len(names) != len(widths) {
		return nil, fmt.Errorf("%d names for %d widths", len(names), len(widths))
	}
	cols := make([]FWFColumn, len(names))
	offset := 0
	for i, w := range widths {
		end := offset + w
		if w < 0 {
			end = -1
		}
		cols[i] = FWFColumn{Name: names[i], Start: offset, End: end}
		offset = end
	}
	return cols, nil
}

// ReadFWF parses fixed-width text into a table, dropping skipHead lines
// from the top. Fields are whitespace-trimmed; short lines yield empty
// trailing fields.
func ReadFWF(r io.Reader, cols []FWFColumn, skipHead int) (Table, error) {
	columns := make([]string, len(cols))
	for i, c := range cols {
		columns[i] = c.Name
	}

	var rows [][]string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line <= skipHead {
			continue
		}
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = strings.TrimSpace(slice(text, c.Start, c.End))
		}
		rows = append(rows, cells)
	}
	if err := scanner.Err(); err != nil {
		return Table{}, fmt.Errorf("failed to read fixed-width input: %w", err)
	}

	return Table{Columns: columns, Rows: rows}, nil
}

func slice(s string, start, end int) string {
	if start >= len(s) {
		return ""
	}
	if end < 0 || end > len(s) {
		end = len(s)
	}
	return s[start:end]
}
