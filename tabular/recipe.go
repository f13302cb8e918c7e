package tabular

import (
	"fmt"
	"strings"

	"github.com/gophersatwork/pubdata"
)

// Recipe describes how one spreadsheet vintage maps to a table: which
// sheet to read, how many junk rows to drop at the top and bottom, and
// what the columns are called. Vintages of the same dataset differ in
// all of these, so every (dataset, year) pair carries its own recipe.
type Recipe struct {
	// Sheet selects a sheet by name; when empty, SheetIndex applies.
	Sheet      string
	SheetIndex int

	// SkipHead rows are dropped from the top before the header,
	// SkipFoot rows from the bottom.
	SkipHead int
	SkipFoot int

	// Header marks the first remaining row as a header row.
	Header bool

	// Columns names the output columns, overriding any header row.
	// Required when Header is false.
	Columns []string

	// Keep lists the source column indexes to keep, in output order.
	// Nil keeps every column.
	Keep []int
}

// Load reads the recipe's sheet from a workbook and applies the recipe.
func (rc Recipe) Load(wb Workbook) (Table, error) {
	sheet := rc.Sheet
	if sheet == "" {
		var err error
		sheet, err = SheetAt(wb, rc.SheetIndex)
		if err != nil {
			return Table{}, err
		}
	}
	rows, err := wb.Rows(sheet)
	if err != nil {
		return Table{}, err
	}
	return rc.Apply(sheet, rows)
}

// Apply trims and renames raw rows per the recipe. The source argument
// names the input in schema errors.
func (rc Recipe) Apply(source string, rows [][]string) (Table, error) {
	if len(rows) < rc.SkipHead+rc.SkipFoot {
		return Table{}, &pubdata.SchemaError{
			Source: source,
			Detail: fmt.Sprintf("%d rows, need at least %d", len(rows), rc.SkipHead+rc.SkipFoot),
		}
	}
	rows = rows[rc.SkipHead : len(rows)-rc.SkipFoot]

	columns := rc.Columns
	if rc.Header {
		if len(rows) == 0 {
			return Table{}, &pubdata.SchemaError{Source: source, Detail: "missing header row"}
		}
		header := rows[0]
		rows = rows[1:]
		if columns == nil {
			columns = make([]string, len(header))
			for i, h := range header {
				columns[i] = strings.TrimSpace(h)
			}
		}
	}
	if columns == nil {
		return Table{}, &pubdata.SchemaError{Source: source, Detail: "no column names"}
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := row
		if rc.Keep != nil {
			cells = make([]string, len(rc.Keep))
			for i, idx := range rc.Keep {
				if idx < len(row) {
					cells[i] = row[idx]
				}
			}
		}
		// Pad ragged rows so every row has one cell per column.
		for len(cells) < len(columns) {
			cells = append(cells, "")
		}
		out = append(out, cells)
	}

	if rc.Keep != nil && len(rc.Keep) != len(columns) {
		return Table{}, &pubdata.SchemaError{
			Source: source,
			Detail: fmt.Sprintf("%d kept columns, %d names", len(rc.Keep), len(columns)),
		}
	}

	return Table{Columns: columns, Rows: out}, nil
}

// RequireColumns verifies that a table contains every named column.
func RequireColumns(source string, t Table, names ...string) error {
	var missing []string
	for _, name := range names {
		if t.Col(name) < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &pubdata.SchemaError{
			Source: source,
			Detail: fmt.Sprintf("missing columns %v (have %v)", missing, t.Columns),
		}
	}
	return nil
}
