package cbp

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// The EFSY files (Eckert, Fort, Schott and Yang) impute the employment
// counts that CBP suppresses. They are distributed as zipped CSVs from
// fpeckert.me and end in 2016.

const efsyLastYear = 2016

// PanelEmploymentRow is one record of the full EFSY panel: imputed
// county-industry employment for every year at once.
type PanelEmploymentRow struct {
	Year     int     `parquet:"year"`
	FipState string  `parquet:"fipstate"`
	FipCty   string  `parquet:"fipscty"`
	Industry string  `parquet:"industry"`
	Emp      float64 `parquet:"emp"`
}

// EFSYRow is one record of a single-year EFSY file: lower and upper
// bounds on imputed employment for a county-industry cell.
type EFSYRow struct {
	FipState string `parquet:"fipstate"`
	FipCty   string `parquet:"fipscty"`
	Industry string `parquet:"industry"`
	LB       int    `parquet:"lb"`
	UB       int    `parquet:"ub"`
}

// EFSYIndustry selects the industry coding of the EFSY panel.
type EFSYIndustry int

const (
	// EFSYNative keeps each year's original coding (SIC before 1998).
	EFSYNative EFSYIndustry = iota
	// EFSYNaics recodes all years to NAICS 2012.
	EFSYNaics
)

func (k EFSYIndustry) String() string {
	if k == EFSYNaics {
		return "naics"
	}
	return "native"
}

type efsyPanelKey struct {
	Industry EFSYIndustry
}

func (k efsyPanelKey) Parts() []string {
	return []string{k.Industry.String()}
}

// EFSYPanel returns the full EFSY imputed-employment panel.
func (c *Client) EFSYPanel(ctx context.Context, industry EFSYIndustry) ([]PanelEmploymentRow, error) {
	key := efsyPanelKey{Industry: industry}
	return c.efsyPanel.Get(ctx, key, func(ctx context.Context, key efsyPanelKey) ([]PanelEmploymentRow, error) {
		name := fmt.Sprintf("efsy_panel_%s.csv", industry)
		url := fmt.Sprintf("http://fpeckert.me/cbp/Imputed%%20Files/%s.zip", name)
		src, err := c.env.Fetch(ctx, url, c.env.SourcePath("efsy", name+".zip"))
		if err != nil {
			return nil, err
		}

		data, err := tabular.ZipMember(c.env.Fs(), src, name)
		if err != nil {
			return nil, err
		}
		table, err := tabular.ReadCSV(bytes.NewReader(data), ',')
		if err != nil {
			return nil, err
		}
		if err := tabular.RequireColumns(src, table, "year", "fipstate", "fipscty", "emp"); err != nil {
			return nil, err
		}
		indCol := efsyIndustryColumn(table)
		if indCol == "" {
			return nil, &pubdata.SchemaError{Source: src, Detail: "no industry column"}
		}

		rows := make([]PanelEmploymentRow, 0, len(table.Rows))
		for i := range table.Rows {
			year, err := tabular.Int(table.Cell(i, "year"))
			if err != nil {
				return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
			}
			emp, err := tabular.Float(table.Cell(i, "emp"))
			if err != nil {
				return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
			}
			rows = append(rows, PanelEmploymentRow{
				Year:     year,
				FipState: zfill(table.Cell(i, "fipstate"), 2),
				FipCty:   zfill(table.Cell(i, "fipscty"), 3),
				Industry: table.Cell(i, indCol),
				Emp:      emp,
			})
		}
		return rows, nil
	})
}

// EFSYYear returns the single-year EFSY bounds file.
func (c *Client) EFSYYear(ctx context.Context, year int) ([]EFSYRow, error) {
	return c.efsyYears.Get(ctx, pubdata.Year(year), func(ctx context.Context, key pubdata.Year) ([]EFSYRow, error) {
		url := fmt.Sprintf("http://fpeckert.me/cbp/Imputed%%20Files/efsy_%d.zip", year)
		src, err := c.env.Fetch(ctx, url, c.env.SourcePath("efsy", fmt.Sprintf("efsy_%d.zip", year)))
		if err != nil {
			return nil, err
		}

		// The 1975 archive member has no .csv extension.
		member := fmt.Sprintf("%d/Final Imputed/efsy_cbp_%d.csv", year, year)
		if year == 1975 {
			member = fmt.Sprintf("%d/Final Imputed/efsy_cbp_%d", year, year)
		}
		data, err := tabular.ZipMember(c.env.Fs(), src, member)
		if err != nil {
			return nil, err
		}
		table, err := tabular.ReadCSV(bytes.NewReader(data), ',')
		if err != nil {
			return nil, err
		}
		if err := tabular.RequireColumns(src, table, "fipstate", "fipscty", "lb", "ub"); err != nil {
			return nil, err
		}
		indCol := efsyIndustryColumn(table)
		if indCol == "" {
			return nil, &pubdata.SchemaError{Source: src, Detail: "no industry column"}
		}

		rows := make([]EFSYRow, 0, len(table.Rows))
		for i := range table.Rows {
			lb, err := tabular.Int(table.Cell(i, "lb"))
			if err != nil {
				return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
			}
			ub, err := tabular.Int(table.Cell(i, "ub"))
			if err != nil {
				return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
			}
			rows = append(rows, EFSYRow{
				FipState: zfill(table.Cell(i, "fipstate"), 2),
				FipCty:   zfill(table.Cell(i, "fipscty"), 3),
				Industry: table.Cell(i, indCol),
				LB:       lb,
				UB:       ub,
			})
		}
		return rows, nil
	})
}

// efsyIndustryColumn finds the industry column, which is named for the
// coding the file uses.
func efsyIndustryColumn(table tabular.Table) string {
	for _, col := range []string{"naics", "sic", "industry"} {
		if table.Col(col) >= 0 {
			return col
		}
	}
	return ""
}

// zfill left-pads a numeric string with zeros, matching FIPS code
// conventions.
func zfill(s string, width int) string {
	s = strings.TrimSpace(s)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
