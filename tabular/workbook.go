package tabular

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/extrame/xls"
	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
)

// Workbook is a spreadsheet opened for reading. Both modern .xlsx files
// and the legacy .xls format used by pre-2017 government releases are
// supported behind this interface.
type Workbook interface {
	// Sheets lists sheet names in workbook order.
	Sheets() []string
	// Rows returns all cell values of a sheet as strings.
	Rows(sheet string) ([][]string, error)
}

// OpenWorkbook opens a spreadsheet file, picking the format from the
// file extension.
func OpenWorkbook(fs afero.Fs, filePath string) (Workbook, error) {
	data, err := afero.ReadFile(fs, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook %s: %w", filePath, err)
	}
	return OpenWorkbookBytes(data, path.Base(filePath))
}

// OpenWorkbookBytes opens a spreadsheet held in memory. The name's
// extension selects the format; archive members read out of a zip come
// through here without touching disk.
func OpenWorkbookBytes(data []byte, name string) (Workbook, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx":
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open xlsx %s: %w", name, err)
		}
		return xlsxWorkbook{f: f}, nil
	case ".xls":
		wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, fmt.Errorf("failed to open xls %s: %w", name, err)
		}
		return xlsWorkbook{wb: wb}, nil
	default:
		return nil, fmt.Errorf("unsupported workbook format: %s", name)
	}
}

type xlsxWorkbook struct {
	f *excelize.File
}

func (w xlsxWorkbook) Sheets() []string {
	return w.f.GetSheetList()
}

func (w xlsxWorkbook) Rows(sheet string) ([][]string, error) {
	rows, err := w.f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

type xlsWorkbook struct {
	wb *xls.WorkBook
}

func (w xlsWorkbook) Sheets() []string {
	names := make([]string, w.wb.NumSheets())
	for i := range names {
		names[i] = w.wb.GetSheet(i).Name
	}
	return names
}

func (w xlsWorkbook) Rows(sheet string) ([][]string, error) {
	for i := 0; i < w.wb.NumSheets(); i++ {
		ws := w.wb.GetSheet(i)
		if ws.Name != sheet {
			continue
		}
		rows := make([][]string, 0, int(ws.MaxRow)+1)
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := ws.Row(r)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			cells := make([]string, row.LastCol()+1)
			for c := row.FirstCol(); c <= row.LastCol(); c++ {
				cells[c] = row.Col(c)
			}
			rows = append(rows, cells)
		}
		return rows, nil
	}
	return nil, fmt.Errorf("sheet %q not found", sheet)
}

// SheetAt returns the name of the sheet at a zero-based index.
func SheetAt(wb Workbook, index int) (string, error) {
	sheets := wb.Sheets()
	if index < 0 || index >= len(sheets) {
		return "", fmt.Errorf("sheet index %d out of range (%d sheets)", index, len(sheets))
	}
	return sheets[index], nil
}
