package ers

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// RUCRow is one county's Rural-Urban Continuum code in one vintage.
// Population and commuter fields are only published for some vintages
// and are NaN elsewhere.
type RUCRow struct {
	FIPS                     string  `parquet:"FIPS"`
	State                    string  `parquet:"STATE"`
	County                   string  `parquet:"COUNTY"`
	RUCYear                  int     `parquet:"RUC_YEAR"`
	RUCCode                  string  `parquet:"RUC_CODE"`
	RUCCodeDescription       string  `parquet:"RUC_CODE_DESCRIPTION,optional"`
	PopulationYear           int     `parquet:"POPULATION_YEAR,optional"`
	Population               float64 `parquet:"POPULATION"`
	PercentNonmetroCommuters float64 `parquet:"PERCENT_NONMETRO_COMMUTERS"`
}

// rucVintage describes one published RUC release: where it lives and
// what its columns are called. The 1983 and 1993 vintages share one
// workbook carrying both code columns.
type rucVintage struct {
	year     int
	urlPath  string
	local    string
	sheet    string
	docSheet string

	// source column names, after header trimming; empty when the
	// vintage does not publish the field
	fips, state, county, code, desc, pop, commuters string

	popYear int

	// the 1974 sheet carries documentation text below the data rows
	stopAtBlank bool
}

var rucVintages = []rucVintage{
	{
		year: 1974, urlPath: "/webdocs/DataFiles/53251/ruralurbancodes1974.xls?v=9631.3",
		local: "ruralurbancodes1974.xls",
		fips:  "FIPS Code", state: "State", county: "County Name",
		code: "1974 Rural-urban Continuum Code", stopAtBlank: true,
	},
	{
		year: 1983, urlPath: "/webdocs/DataFiles/53251/cd8393.xls?v=9631.3",
		local: "cd8393.xls",
		fips:  "FIPS", state: "State", county: "County Name",
		code: "1983 Rural-urban Continuum Code",
	},
	{
		year: 1993, urlPath: "/webdocs/DataFiles/53251/cd8393.xls?v=9631.3",
		local: "cd8393.xls",
		fips:  "FIPS", state: "State", county: "County Name",
		code: "1993 Rural-urban Continuum Code",
	},
	{
		year: 2003, urlPath: "/webdocs/DataFiles/53251/ruralurbancodes2003.xls?v=9631.3",
		local: "ruralurbancodes2003.xls",
		fips:  "FIPS Code", state: "State", county: "County Name",
		code: "2003 Rural-urban Continuum Code", desc: "Description for 2003 codes",
		pop:       "2000 Population",
		commuters: "Percent of workers in nonmetro counties commuting to central counties of adjacent metro areas",
		popYear:   2000,
	},
	{
		year: 2003, urlPath: "/webdocs/DataFiles/53251/pr2003.xls?v=9631.3",
		local: "pr2003.xls",
		fips:  "FIPS Code", state: "State", county: "Municipio Name",
		code: "Rural-urban Continuum Code, 2003", desc: "Description of the 2003 Code",
		pop: "Population 2003", popYear: 2003,
	},
	{
		year: 2013, urlPath: "/webdocs/DataFiles/53251/ruralurbancodes2013.xls?v=9631.3",
		local: "ruralurbancodes2013.xls", sheet: "Rural-urban Continuum Code 2013",
		docSheet: "Documentation",
		fips:     "FIPS", state: "State", county: "County_Name",
		code: "RUCC_2013", desc: "Description",
		pop: "Population_2010", popYear: 2010,
	},
}

func validRUCCode(code string) bool {
	return len(code) == 1 && code[0] >= '0' && code[0] <= '9'
}

// RUC returns the Rural-Urban Continuum codes of all vintages combined,
// building and caching the table on first use. The build also writes
// ruc_doc.txt next to the table.
func (c *Client) RUC(ctx context.Context) ([]RUCRow, error) {
	return c.ruc.Get(ctx, pubdata.Fixed{}, func(ctx context.Context, _ pubdata.Fixed) ([]RUCRow, error) {
		var rows []RUCRow
		var docs []string
		for _, v := range rucVintages {
			wb, err := c.fetchWorkbook(ctx, v.urlPath, v.local)
			if err != nil {
				return nil, err
			}
			table, err := tabular.Recipe{Sheet: v.sheet, Header: true}.Load(wb)
			if err != nil {
				return nil, err
			}
			vrows, err := parseRUCVintage(v, table)
			if err != nil {
				return nil, err
			}
			rows = append(rows, vrows...)
			docs = append(docs, docSection(
				fmt.Sprintf("RUC %d documentation (%s)", v.year, v.local),
				v.urlPath, rucRenames(v), sheetText(wb, v.docSheet)))
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].FIPS != rows[j].FIPS {
				return rows[i].FIPS < rows[j].FIPS
			}
			return rows[i].RUCYear < rows[j].RUCYear
		})
		if err := c.writeDoc("ruc_doc.txt", docs); err != nil {
			return nil, err
		}
		return rows, nil
	})
}

func rucRenames(v rucVintage) [][2]string {
	renames := [][2]string{
		{"FIPS", v.fips}, {"STATE", v.state}, {"COUNTY", v.county}, {"RUC_CODE", v.code},
	}
	if v.desc != "" {
		renames = append(renames, [2]string{"RUC_CODE_DESCRIPTION", v.desc})
	}
	if v.pop != "" {
		renames = append(renames, [2]string{"POPULATION", v.pop})
	}
	if v.commuters != "" {
		renames = append(renames, [2]string{"PERCENT_NONMETRO_COMMUTERS", v.commuters})
	}
	return renames
}

func parseRUCVintage(v rucVintage, table tabular.Table) ([]RUCRow, error) {
	if err := tabular.RequireColumns(v.local, table, v.fips, v.state, v.county, v.code); err != nil {
		return nil, err
	}

	rows := make([]RUCRow, 0, len(table.Rows))
	for i := range table.Rows {
		fips := table.Cell(i, v.fips)
		if fips == "" {
			if v.stopAtBlank {
				break
			}
			continue
		}
		row := RUCRow{
			FIPS:                     fips,
			State:                    table.Cell(i, v.state),
			County:                   table.Cell(i, v.county),
			RUCYear:                  v.year,
			RUCCode:                  table.Cell(i, v.code),
			PopulationYear:           v.popYear,
			Population:               math.NaN(),
			PercentNonmetroCommuters: math.NaN(),
		}
		if !validRUCCode(row.RUCCode) {
			return nil, &pubdata.SchemaError{
				Source: v.local,
				Detail: fmt.Sprintf("row %d: bad RUC code %q", i, row.RUCCode),
			}
		}
		if v.desc != "" {
			row.RUCCodeDescription = table.Cell(i, v.desc)
		}
		var err error
		if v.pop != "" {
			if row.Population, err = tabular.Float(table.Cell(i, v.pop)); err != nil {
				return nil, &pubdata.SchemaError{Source: v.local, Detail: err.Error()}
			}
		}
		if v.commuters != "" {
			if row.PercentNonmetroCommuters, err = tabular.Float(table.Cell(i, v.commuters)); err != nil {
				return nil, &pubdata.SchemaError{Source: v.local, Detail: err.Error()}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
