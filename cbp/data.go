package cbp

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/afero"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// Row is one record of a processed CBP partition. Suppressed numeric
// values ("N" in the source) are NaN. Columns a geography or vintage
// does not publish are NaN as well, so every partition carries the same
// schema. Geo and Year are encoded in the partition directory and
// restored at read time.
type Row struct {
	FipState string `parquet:"fipstate,optional"`
	FipCty   string `parquet:"fipscty,optional"`
	// Legal form of organization; "-" for the all-forms total and for
	// vintages that do not break it out.
	LFO string `parquet:"lfo"`
	// Industry code truncated to its significant digits: SIC before
	// 1998, NAICS after. "-" is the all-industries total.
	Industry  string `parquet:"industry"`
	IndDigits int    `parquet:"ind_digits"`

	Est float64 `parquet:"est"`
	Emp float64 `parquet:"emp"`
	QP1 float64 `parquet:"qp1"`
	AP  float64 `parquet:"ap"`

	// Establishment counts by employee size class.
	N1_4     float64 `parquet:"n1_4"`
	N5_9     float64 `parquet:"n5_9"`
	N10_19   float64 `parquet:"n10_19"`
	N20_49   float64 `parquet:"n20_49"`
	N50_99   float64 `parquet:"n50_99"`
	N100_249 float64 `parquet:"n100_249"`
	N250_499 float64 `parquet:"n250_499"`
	N500_999 float64 `parquet:"n500_999"`
	N1000    float64 `parquet:"n1000"`
	N1000_1  float64 `parquet:"n1000_1"`
	N1000_2  float64 `parquet:"n1000_2"`
	N1000_3  float64 `parquet:"n1000_3"`
	N1000_4  float64 `parquet:"n1000_4"`

	Geo  string `parquet:"-"`
	Year int    `parquet:"-"`
}

var sizeClasses = []string{
	"1_4", "5_9", "10_19", "20_49", "50_99", "100_249",
	"250_499", "500_999", "1000", "1000_1", "1000_2", "1000_3", "1000_4",
}

func (r *Row) sizeClassField(class string) *float64 {
	switch class {
	case "1_4":
		return &r.N1_4
	case "5_9":
		return &r.N5_9
	case "10_19":
		return &r.N10_19
	case "20_49":
		return &r.N20_49
	case "50_99":
		return &r.N50_99
	case "100_249":
		return &r.N100_249
	case "250_499":
		return &r.N250_499
	case "500_999":
		return &r.N500_999
	case "1000":
		return &r.N1000
	case "1000_1":
		return &r.N1000_1
	case "1000_2":
		return &r.N1000_2
	case "1000_3":
		return &r.N1000_3
	case "1000_4":
		return &r.N1000_4
	}
	return nil
}

// buildPartition downloads and processes one (geo, year) file.
func (c *Client) buildPartition(ctx context.Context, key Key) ([]Row, error) {
	src, err := c.Source(ctx, key.Geo, key.Year)
	if err != nil {
		return nil, err
	}
	table, err := readSourceTable(c.env.Fs(), src)
	if err != nil {
		return nil, err
	}
	return processTable(src, table, key.Geo, key.Year)
}

// readSourceTable reads the CSV content of a source file, looking inside
// the zip archive when there is one. Column names are lowercased because
// their case varies across vintages.
func readSourceTable(fs afero.Fs, src string) (tabular.Table, error) {
	var data []byte
	var err error

	if strings.HasSuffix(src, ".zip") {
		members, merr := tabular.ZipMembers(fs, src)
		if merr != nil {
			return tabular.Table{}, merr
		}
		member := ""
		for _, m := range members {
			if strings.HasSuffix(strings.ToLower(m), ".txt") {
				member = m
				break
			}
		}
		if member == "" {
			return tabular.Table{}, &pubdata.SchemaError{
				Source: src,
				Detail: fmt.Sprintf("no .txt member in archive (members: %v)", members),
			}
		}
		data, err = tabular.ZipMember(fs, src, member)
	} else {
		data, err = afero.ReadFile(fs, src)
	}
	if err != nil {
		return tabular.Table{}, err
	}

	table, err := tabular.ReadCSV(bytes.NewReader(data), ',')
	if err != nil {
		return tabular.Table{}, err
	}
	for i, col := range table.Columns {
		table.Columns[i] = strings.ToLower(col)
	}
	return table, nil
}

// processTable converts a raw CBP table into typed rows per the
// vintage's column recipe.
func processTable(src string, table tabular.Table, geo Geo, year int) ([]Row, error) {
	indCol := "naics"
	if year < 1998 {
		indCol = "sic"
	}

	required := []string{indCol, "est", "emp", "qp1", "ap"}
	switch geo {
	case GeoState:
		required = append(required, "fipstate")
	case GeoCounty:
		required = append(required, "fipstate", "fipscty")
	}
	// The bottom size class was renamed from n1_4 to n<5 in 2017.
	smallClass := "n1_4"
	if year >= 2017 {
		smallClass = "n<5"
	}
	required = append(required, smallClass)
	if err := tabular.RequireColumns(src, table, required...); err != nil {
		return nil, err
	}

	hasLFO := (geo == GeoUS && year >= 2008) || (geo == GeoState && year >= 2010)

	rows := make([]Row, 0, len(table.Rows))
	for i := range table.Rows {
		row := Row{
			FipState: table.Cell(i, "fipstate"),
			FipCty:   table.Cell(i, "fipscty"),
			LFO:      "-",
		}
		if hasLFO {
			row.LFO = table.Cell(i, "lfo")
		}

		rawInd := table.Cell(i, indCol)
		industry, digits, err := NormalizeIndustry(rawInd, year)
		if err != nil {
			return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
		}
		row.Industry = industry
		row.IndDigits = digits

		numeric := []struct {
			col  string
			dest *float64
		}{
			{"est", &row.Est}, {"emp", &row.Emp}, {"qp1", &row.QP1}, {"ap", &row.AP},
		}
		for _, n := range numeric {
			v, err := tabular.Float(table.Cell(i, n.col), "N")
			if err != nil {
				return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
			}
			*n.dest = v
		}

		for _, class := range sizeClasses {
			col := "n" + class
			if class == "1_4" {
				col = smallClass
			}
			dest := row.sizeClassField(class)
			if table.Col(col) < 0 {
				*dest = math.NaN()
				continue
			}
			v, err := tabular.Float(table.Cell(i, col), "N")
			if err != nil {
				return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
			}
			*dest = v
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// NormalizeIndustry converts a raw CBP industry code to its significant
// digits plus a digit count. SIC codes (before 1998) pad with dashes
// and a slash or backslash at the 3-digit level; NAICS codes pad with
// dashes and slashes. The all-industries total normalizes to "-".
func NormalizeIndustry(code string, year int) (string, int, error) {
	if code == "" {
		return "", 0, fmt.Errorf("empty industry code")
	}
	if year < 1998 {
		return normalizeSIC(code, year)
	}
	return normalizeNAICS(code)
}

func normalizeSIC(code string, year int) (string, int, error) {
	// 1986 files pad 3-digit codes with a slash, later files with a
	// backslash.
	pad := byte('\\')
	if year == 1986 {
		pad = '/'
	}
	switch {
	case code == "----":
		return "-", 0, nil
	case len(code) == 4 && allDigits(code[:2]) && code[2:] == "--":
		return code[:2], 2, nil
	case len(code) == 4 && allDigits(code[:3]) && code[3] == pad:
		return code[:3], 3, nil
	case len(code) == 4 && allDigits(code):
		return code, 4, nil
	}
	return "", 0, fmt.Errorf("unrecognized sic code %q", code)
}

func normalizeNAICS(code string) (string, int, error) {
	switch {
	case code == "------":
		return "-", 0, nil
	case len(code) == 6 && allDigits(code[:2]) && code[2:] == "----":
		return code[:2], 2, nil
	case len(code) == 6 && allDigits(code[:3]) && code[3:] == "///":
		return code[:3], 3, nil
	case len(code) == 6 && allDigits(code[:4]) && code[4:] == "//":
		return code[:4], 4, nil
	case len(code) == 6 && allDigits(code[:5]) && code[5] == '/':
		return code[:5], 5, nil
	case len(code) == 6 && allDigits(code):
		return code, 6, nil
	}
	return "", 0, fmt.Errorf("unrecognized naics code %q", code)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
