package ers

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// UIRow is one county's Urban Influence code in one vintage.
type UIRow struct {
	FIPS              string  `parquet:"FIPS"`
	State             string  `parquet:"STATE"`
	County            string  `parquet:"COUNTY"`
	UIYear            int     `parquet:"UI_YEAR"`
	UICode            string  `parquet:"UI_CODE"`
	UICodeDescription string  `parquet:"UI_CODE_DESCRIPTION,optional"`
	PopulationYear    int     `parquet:"POPULATION_YEAR,optional"`
	Population        float64 `parquet:"POPULATION"`
	PopulationDensity float64 `parquet:"POPULATION_DENSITY"`
}

type uiVintage struct {
	year     int
	urlPath  string
	local    string
	sheet    string
	docSheet string

	fips, state, county, code, desc, pop, density string

	popYear int
}

// uiVintages lists the published UI releases. The 1993 and 2003 codes
// share one workbook with both code columns.
var uiVintages = []uiVintage{
	{
		year: 1993, urlPath: "/webdocs/DataFiles/53797/UrbanInfluenceCodes.xls?v=1904.3",
		local: "UrbanInfluenceCodes.xls", sheet: "Urban Influence Codes",
		docSheet: "Information",
		fips:     "FIPS Code", state: "State", county: "County name",
		code: "1993 Urban Influence Code", desc: "1993 Urban Influence Code description",
		pop: "2000 Population", density: "2000 Persons per square mile", popYear: 2000,
	},
	{
		year: 2003, urlPath: "/webdocs/DataFiles/53797/UrbanInfluenceCodes.xls?v=1904.3",
		local: "UrbanInfluenceCodes.xls", sheet: "Urban Influence Codes",
		fips: "FIPS Code", state: "State", county: "County name",
		code: "2003 Urban Influence Code", desc: "2003 Urban Influence Code description",
		pop: "2000 Population", density: "2000 Persons per square mile", popYear: 2000,
	},
	{
		year: 2003, urlPath: "/webdocs/DataFiles/53797/pr2003UrbInf.xls?v=1904.3",
		local: "pr2003UrbInf.xls",
		fips:  "FIPS Code", state: "State", county: "Municipio Name",
		code: "Urban Influence  Code, 2003", desc: "Description of the 2003 Code",
		pop: "Population 2003", popYear: 2003,
	},
	{
		year: 2013, urlPath: "/webdocs/DataFiles/53797/UrbanInfluenceCodes2013.xls?v=1904.3",
		local: "UrbanInfluenceCodes2013.xls", sheet: "Urban Influence Codes 2013",
		docSheet: "Documentation",
		fips:     "FIPS", state: "State", county: "County_Name",
		code: "UIC_2013", desc: "Description",
		pop: "Population_2010", popYear: 2010,
	},
}

func validUICode(code string) bool {
	n, err := strconv.Atoi(code)
	return err == nil && n >= 1 && n <= 12
}

// UI returns the Urban Influence codes of all vintages combined,
// building and caching the table on first use. The build also writes
// ui_doc.txt next to the table.
func (c *Client) UI(ctx context.Context) ([]UIRow, error) {
	return c.ui.Get(ctx, pubdata.Fixed{}, func(ctx context.Context, _ pubdata.Fixed) ([]UIRow, error) {
		var rows []UIRow
		var docs []string
		for _, v := range uiVintages {
			wb, err := c.fetchWorkbook(ctx, v.urlPath, v.local)
			if err != nil {
				return nil, err
			}
			table, err := tabular.Recipe{Sheet: v.sheet, Header: true}.Load(wb)
			if err != nil {
				return nil, err
			}
			vrows, err := parseUIVintage(v, table)
			if err != nil {
				return nil, err
			}
			rows = append(rows, vrows...)

			renames := [][2]string{
				{"FIPS", v.fips}, {"STATE", v.state}, {"COUNTY", v.county},
				{"UI_CODE", v.code}, {"UI_CODE_DESCRIPTION", v.desc},
			}
			docs = append(docs, docSection(
				fmt.Sprintf("UI %d documentation (%s)", v.year, v.local),
				v.urlPath, renames, sheetText(wb, v.docSheet)))
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].FIPS != rows[j].FIPS {
				return rows[i].FIPS < rows[j].FIPS
			}
			return rows[i].UIYear < rows[j].UIYear
		})
		if err := c.writeDoc("ui_doc.txt", docs); err != nil {
			return nil, err
		}
		return rows, nil
	})
}

func parseUIVintage(v uiVintage, table tabular.Table) ([]UIRow, error) {
	if err := tabular.RequireColumns(v.local, table, v.fips, v.state, v.county, v.code); err != nil {
		return nil, err
	}

	rows := make([]UIRow, 0, len(table.Rows))
	for i := range table.Rows {
		fips := table.Cell(i, v.fips)
		if fips == "" {
			continue
		}
		row := UIRow{
			FIPS:              fips,
			State:             table.Cell(i, v.state),
			County:            table.Cell(i, v.county),
			UIYear:            v.year,
			UICode:            table.Cell(i, v.code),
			UICodeDescription: table.Cell(i, v.desc),
			PopulationYear:    v.popYear,
			Population:        math.NaN(),
			PopulationDensity: math.NaN(),
		}
		if !validUICode(row.UICode) {
			return nil, &pubdata.SchemaError{
				Source: v.local,
				Detail: fmt.Sprintf("row %d: bad UI code %q", i, row.UICode),
			}
		}
		var err error
		if v.pop != "" {
			if row.Population, err = tabular.Float(table.Cell(i, v.pop)); err != nil {
				return nil, &pubdata.SchemaError{Source: v.local, Detail: err.Error()}
			}
		}
		if v.density != "" {
			if row.PopulationDensity, err = tabular.Float(table.Cell(i, v.density)); err != nil {
				return nil, &pubdata.SchemaError{Source: v.local, Detail: err.Error()}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
