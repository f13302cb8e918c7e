package ers

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// RUCARow is one census tract's Rural-Urban Commuting Area code in one
// vintage. State and county names are not published for 1990; area and
// metro status vary by vintage.
type RUCARow struct {
	FIPS       string  `parquet:"FIPS"`
	State      string  `parquet:"STATE,optional"`
	County     string  `parquet:"COUNTY,optional"`
	Year       int     `parquet:"YEAR"`
	RUCACode   string  `parquet:"RUCA_CODE"`
	Population float64 `parquet:"POPULATION"`
	Area       float64 `parquet:"AREA"`
	Metro      string  `parquet:"METRO,optional"`
}

type rucaVintage struct {
	year     int
	urlPath  string
	local    string
	skipHead int

	fips, state, county, code, pop, area, metro string

	// 1990 tract FIPS codes carry a decimal point to strip
	stripDotFIPS bool
}

var rucaVintages = []rucaVintage{
	{
		year: 1990, urlPath: "/webdocs/DataFiles/53241/ruca1990.xls?v=9882.5",
		local: "ruca1990.xls",
		fips:  "FIPS state-county-tract code",
		code:  "Rural-urban commuting area code",
		pop:   "Census tract population, 1990",
		area:  "Census tract land area, square miles, 1990",
		metro: "County metropolitan status, 1993 (1=metro,0=nonmetro)",

		stripDotFIPS: true,
	},
	{
		year: 2000, urlPath: "/webdocs/DataFiles/53241/ruca00.xls?v=9882.5",
		local: "ruca00.xls",
		fips:  "State County Tract Code", state: "Select State", county: "Select County",
		code: "RUCA Secondary Code 2000",
		pop:  "Tract Population 2000",
	},
	{
		year: 2010, urlPath: "/webdocs/DataFiles/53241/ruca2010revised.xlsx?v=9882.5",
		local: "ruca2010revised.xlsx", skipHead: 1,
		fips:  "State-County-Tract FIPS Code (lookup by address at http://www.ffiec.gov/Geocode/)",
		state: "Select State", county: "Select County",
		code: "Secondary RUCA Code, 2010 (see errata)",
		pop:  "Tract Population, 2010",
		area: "Land Area (square miles), 2010",
	},
}

// rucaCodes are the valid primary and secondary commuting area codes.
var rucaCodes = map[string]bool{
	"1": true, "1.1": true,
	"2": true, "2.1": true, "2.2": true,
	"3": true,
	"4": true, "4.1": true, "4.2": true,
	"5": true, "5.1": true, "5.2": true,
	"6": true, "6.1": true,
	"7": true, "7.1": true, "7.2": true, "7.3": true, "7.4": true,
	"8": true, "8.1": true, "8.2": true, "8.3": true, "8.4": true,
	"9": true, "9.1": true, "9.2": true,
	"10": true, "10.1": true, "10.2": true, "10.3": true, "10.4": true, "10.5": true, "10.6": true,
	"99": true,
}

// normalizeRUCACode drops the spurious ".0" decimal that whole-number
// codes pick up in the spreadsheets, e.g. "4.0" becomes "4".
func normalizeRUCACode(code string) string {
	return strings.Replace(code, ".0", "", 1)
}

// RUCA returns the Rural-Urban Commuting Area codes of all vintages
// combined, building and caching the table on first use. The build also
// writes ruca_doc.txt next to the table.
func (c *Client) RUCA(ctx context.Context) ([]RUCARow, error) {
	return c.ruca.Get(ctx, pubdata.Fixed{}, func(ctx context.Context, _ pubdata.Fixed) ([]RUCARow, error) {
		var rows []RUCARow
		var docs []string
		for _, v := range rucaVintages {
			wb, err := c.fetchWorkbook(ctx, v.urlPath, v.local)
			if err != nil {
				return nil, err
			}
			table, err := tabular.Recipe{Sheet: "Data", SkipHead: v.skipHead, Header: true}.Load(wb)
			if err != nil {
				return nil, err
			}
			vrows, err := parseRUCAVintage(v, table)
			if err != nil {
				return nil, err
			}
			rows = append(rows, vrows...)

			renames := [][2]string{{"FIPS", v.fips}, {"RUCA_CODE", v.code}}
			doc := append(sheetText(wb, "RUCA code description"),
				[]string{""}, []string{"Data sources"})
			doc = append(doc, sheetText(wb, "Data sources")...)
			docs = append(docs, docSection(
				fmt.Sprintf("RUCA %d documentation (%s)", v.year, v.local),
				v.urlPath, renames, doc))
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].FIPS != rows[j].FIPS {
				return rows[i].FIPS < rows[j].FIPS
			}
			return rows[i].Year < rows[j].Year
		})
		if err := c.writeDoc("ruca_doc.txt", docs); err != nil {
			return nil, err
		}
		return rows, nil
	})
}

func parseRUCAVintage(v rucaVintage, table tabular.Table) ([]RUCARow, error) {
	if err := tabular.RequireColumns(v.local, table, v.fips, v.code); err != nil {
		return nil, err
	}

	// a handful of source cells hold garbage like "6 23.063"; numeric
	// fields parse best-effort to NaN the way the published files demand
	coerce := func(s string) float64 {
		f, err := tabular.Float(s)
		if err != nil {
			return math.NaN()
		}
		return f
	}

	rows := make([]RUCARow, 0, len(table.Rows))
	for i := range table.Rows {
		fips := table.Cell(i, v.fips)
		if v.stripDotFIPS {
			fips = strings.ReplaceAll(fips, ".", "")
		}
		if fips == "" {
			continue
		}
		row := RUCARow{
			FIPS:       fips,
			Year:       v.year,
			RUCACode:   normalizeRUCACode(table.Cell(i, v.code)),
			Population: math.NaN(),
			Area:       math.NaN(),
		}
		if !rucaCodes[row.RUCACode] {
			return nil, &pubdata.SchemaError{
				Source: v.local,
				Detail: fmt.Sprintf("row %d: bad RUCA code %q", i, row.RUCACode),
			}
		}
		if v.state != "" {
			row.State = table.Cell(i, v.state)
		}
		if v.county != "" {
			row.County = table.Cell(i, v.county)
		}
		if v.pop != "" {
			row.Population = coerce(table.Cell(i, v.pop))
		}
		if v.area != "" {
			row.Area = coerce(table.Cell(i, v.area))
		}
		if v.metro != "" {
			row.Metro = table.Cell(i, v.metro)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
