package geo

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// CBSAShapeRow is one core-based statistical area with its boundary
// geometry. CensusArea is only published in the 2010 files; land and
// water areas only from 2013 on.
type CBSAShapeRow struct {
	CBSACode   string  `parquet:"CBSA_CODE"`
	CBSATitle  string  `parquet:"CBSA_TITLE"`
	MetroMicro string  `parquet:"METRO_MICRO"`
	ALand      int64   `parquet:"ALAND,optional"`
	AWater     int64   `parquet:"AWATER,optional"`
	CensusArea float64 `parquet:"CENSUSAREA,optional"`
	Geometry   []byte  `parquet:"geometry"`
}

func cbsaShapeURL(year int, scale Scale) (string, error) {
	base := sourceURLBase + "/geo/tiger/"
	switch {
	case year == 2010 && (scale == Scale20m || scale == Scale500k):
		return fmt.Sprintf("%sGENZ2010/gz_2010_us_310_m1_%s.zip", base, scale), nil
	case year == 2013:
		return fmt.Sprintf("%sGENZ2013/cb_2013_us_cbsa_%s.zip", base, scale), nil
	case year >= 2014 && year <= 2021:
		return fmt.Sprintf("%sGENZ%d/shp/cb_%d_us_cbsa_%s.zip", base, year, year, scale), nil
	}
	return "", fmt.Errorf("%w: cbsa shapes %d/%s", pubdata.ErrUnknownKey, year, scale)
}

// CBSAShapeSource ensures the CBSA boundary archive is downloaded and
// returns its local path.
func (c *Client) CBSAShapeSource(ctx context.Context, year int, scale Scale) (string, error) {
	url, err := cbsaShapeURL(year, scale)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%d_%s.zip", year, scale)
	return c.env.Fetch(ctx, url, c.env.SourcePath("geo", "cbsa", "shape", name))
}

// CBSAShapes returns the CBSA boundary table for a revision year and
// scale, building and caching it on first use.
func (c *Client) CBSAShapes(ctx context.Context, year int, scale Scale) ([]CBSAShapeRow, error) {
	if _, err := cbsaShapeURL(year, scale); err != nil {
		return nil, err
	}
	key := yearScaleKey{Year: year, Scale: scale}
	return c.cbsaShapes.Get(ctx, key, func(ctx context.Context, k yearScaleKey) ([]CBSAShapeRow, error) {
		src, err := c.CBSAShapeSource(ctx, year, scale)
		if err != nil {
			return nil, err
		}
		features, err := readShapefileZip(c.env.Fs(), src)
		if err != nil {
			return nil, err
		}
		return parseCBSAShapes(src, year, features)
	})
}

func parseCBSAShapes(source string, year int, features []feature) ([]CBSAShapeRow, error) {
	rows := make([]CBSAShapeRow, 0, len(features))
	seen := make(map[string]bool)
	for _, f := range features {
		var row CBSAShapeRow
		if year == 2010 {
			row.CBSACode = f.attr("CBSA")
			row.CBSATitle = f.attr("NAME")
			row.MetroMicro = strings.ToLower(f.attr("LSAD"))
			row.CensusArea, _ = strconv.ParseFloat(f.attr("CENSUSAREA"), 64)
		} else {
			row.CBSACode = f.attr("CBSAFP")
			row.CBSATitle = f.attr("NAME")
			switch f.attr("LSAD") {
			case "M1":
				row.MetroMicro = "metro"
			case "M2":
				row.MetroMicro = "micro"
			default:
				return nil, &pubdata.SchemaError{
					Source: source,
					Detail: fmt.Sprintf("unknown LSAD %q for cbsa %s", f.attr("LSAD"), row.CBSACode),
				}
			}
			row.ALand, _ = strconv.ParseInt(f.attr("ALAND"), 10, 64)
			row.AWater, _ = strconv.ParseInt(f.attr("AWATER"), 10, 64)
		}
		if row.CBSACode == "" {
			return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("record %v missing cbsa code", f.attrs)}
		}
		if seen[row.CBSACode] {
			return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("duplicate cbsa code %s", row.CBSACode)}
		}
		seen[row.CBSACode] = true

		geom, err := encodeWKB(f.geometry)
		if err != nil {
			return nil, err
		}
		row.Geometry = geom
		rows = append(rows, row)
	}
	return rows, nil
}

// DelineationRow maps one county to its CBSA in an OMB delineation
// vintage. Division and CSA fields are empty for counties outside those
// groupings; CentralOutlying is only published from 2007 on.
type DelineationRow struct {
	CBSACode        string `parquet:"CBSA_CODE"`
	CBSATitle       string `parquet:"CBSA_TITLE"`
	MetroMicro      string `parquet:"METRO_MICRO"`
	DivisionCode    string `parquet:"DIVISION_CODE,optional"`
	DivisionTitle   string `parquet:"DIVISION_TITLE,optional"`
	CSACode         string `parquet:"CSA_CODE,optional"`
	CSATitle        string `parquet:"CSA_TITLE,optional"`
	State           string `parquet:"STATE"`
	StateCode       string `parquet:"STATE_CODE"`
	County          string `parquet:"COUNTY"`
	CountyCode      string `parquet:"COUNTY_CODE"`
	CentralOutlying string `parquet:"CENTRAL_OUTLYING,optional"`
}

// delineationVintages maps a vintage year to its workbook location and
// layout. When a year saw more than one revision (2003, 2018), the
// latest one is used.
var delineationVintages = map[int]struct {
	urlPath  string
	skipHead int
	skipFoot int
}{
	2023: {"2023/delineation-files/list1_2023.xlsx", 2, 3},
	2020: {"2020/delineation-files/list1_2020.xls", 2, 4},
	2018: {"2018/delineation-files/list1_Sep_2018.xls", 2, 4},
	2017: {"2017/delineation-files/list1.xls", 2, 4},
	2015: {"2015/delineation-files/list1.xls", 2, 4},
	2013: {"2013/delineation-files/list1.xls", 2, 3},
	2009: {"2009/historical-delineation-files/list3.xls", 3, 4},
	2008: {"2008/historical-delineation-files/list3.xls", 3, 4},
	2007: {"2007/historical-delineation-files/list3.xls", 3, 4},
	2006: {"2006/historical-delineation-files/list3.xls", 3, 4},
	2005: {"2005/historical-delineation-files/list3.xls", 3, 6},
	2004: {"2004/historical-delineation-files/list3.xls", 7, 0},
	2003: {"2003/historical-delineation-files/0312cbsas-csas.xls", 2, 0},
}

// DelineationSource ensures the delineation workbook for a vintage is
// downloaded and returns its local path.
func (c *Client) DelineationSource(ctx context.Context, year int) (string, error) {
	v, ok := delineationVintages[year]
	if !ok {
		return "", fmt.Errorf("%w: cbsa delineation vintage %d", pubdata.ErrUnknownKey, year)
	}
	url := fmt.Sprintf("%s/programs-surveys/metro-micro/geographies/reference-files/%s", sourceURLBase, v.urlPath)
	name := fmt.Sprintf("%d%s", year, path.Ext(v.urlPath))
	return c.env.Fetch(ctx, url, c.env.SourcePath("geo", "cbsa", "delin", name))
}

// Delineation returns the county-to-CBSA delineation for a vintage,
// building and caching it on first use. The 1993 MSA delineation has a
// different schema and its own accessor.
func (c *Client) Delineation(ctx context.Context, year int) ([]DelineationRow, error) {
	v, ok := delineationVintages[year]
	if !ok {
		return nil, fmt.Errorf("%w: cbsa delineation vintage %d", pubdata.ErrUnknownKey, year)
	}
	return c.delineations.Get(ctx, pubdata.Year(year), func(ctx context.Context, k pubdata.Year) ([]DelineationRow, error) {
		src, err := c.DelineationSource(ctx, year)
		if err != nil {
			return nil, err
		}
		wb, err := tabular.OpenWorkbook(c.env.Fs(), src)
		if err != nil {
			return nil, err
		}
		recipe := tabular.Recipe{SkipHead: v.skipHead, SkipFoot: v.skipFoot, Header: true}
		table, err := recipe.Load(wb)
		if err != nil {
			return nil, err
		}
		return parseDelineation(src, year, table)
	})
}

var metroMicroNames = map[string]string{
	"Metropolitan Statistical Area": "metro",
	"Micropolitan Statistical Area": "micro",
}

func parseDelineation(source string, year int, table tabular.Table) ([]DelineationRow, error) {
	old := year <= 2009

	required := []string{"CBSA Code", "CBSA Title"}
	if old {
		required = append(required, "Level of CBSA", "Component Name", "State", "FIPS")
	} else {
		required = append(required, "Metropolitan/Micropolitan Statistical Area",
			"County/County Equivalent", "State Name", "FIPS State Code", "FIPS County Code")
	}
	if err := tabular.RequireColumns(source, table, required...); err != nil {
		return nil, err
	}

	rows := make([]DelineationRow, 0, len(table.Rows))
	seen := make(map[string]bool)
	for i := range table.Rows {
		var row DelineationRow
		row.CBSACode = table.Cell(i, "CBSA Code")
		row.CBSATitle = table.Cell(i, "CBSA Title")
		row.CSACode = table.Cell(i, "CSA Code")
		row.CSATitle = table.Cell(i, "CSA Title")
		row.DivisionTitle = table.Cell(i, "Metropolitan Division Title")

		if old {
			fips := table.Cell(i, "FIPS")
			if len(fips) < 5 {
				return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("row %d: bad FIPS %q", i, fips)}
			}
			row.StateCode, row.CountyCode = fips[:2], fips[2:]
			row.State = table.Cell(i, "State")
			row.County = table.Cell(i, "Component Name")
			row.DivisionCode = table.Cell(i, "Metro Division Code")
			row.MetroMicro = table.Cell(i, "Level of CBSA")
			if year >= 2007 {
				row.CentralOutlying = strings.ToLower(table.Cell(i, "County Status"))
			}
		} else {
			row.StateCode = table.Cell(i, "FIPS State Code")
			row.CountyCode = table.Cell(i, "FIPS County Code")
			row.State = table.Cell(i, "State Name")
			row.County = table.Cell(i, "County/County Equivalent")
			if year == 2013 {
				row.DivisionCode = table.Cell(i, "Metro Division Code")
			} else {
				row.DivisionCode = table.Cell(i, "Metropolitan Division Code")
			}
			row.MetroMicro = table.Cell(i, "Metropolitan/Micropolitan Statistical Area")
			row.CentralOutlying = strings.ToLower(table.Cell(i, "Central/Outlying County"))
		}

		if row.StateCode == "" || row.CountyCode == "" {
			return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("row %d missing county fips", i)}
		}
		fips := row.StateCode + row.CountyCode
		if seen[fips] {
			return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("duplicate county %s", fips)}
		}
		seen[fips] = true

		mm, ok := metroMicroNames[row.MetroMicro]
		if !ok {
			return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("unknown CBSA level %q", row.MetroMicro)}
		}
		row.MetroMicro = mm

		rows = append(rows, row)
	}
	return rows, nil
}

// MSADelineationRow is one county or town record of the 1993 MSA/CMSA
// delineation, which predates the CBSA system.
type MSADelineationRow struct {
	MSACMSACode     string `parquet:"MSA_CMSA_CODE"`
	PrimaryMSACode  string `parquet:"PRIMARY_MSA_CODE,optional"`
	AltCMSACode     string `parquet:"ALT_CMSA_CODE,optional"`
	StateCode       string `parquet:"STATE_CODE,optional"`
	CountyCode      string `parquet:"COUNTY_CODE,optional"`
	CentralOutlying string `parquet:"CENTRAL_OUTLYING,optional"`
	TownCode        string `parquet:"TOWN_CODE,optional"`
	Name            string `parquet:"NAME"`
}

const (
	msa1993SkipHead = 22
	msa1993SkipFoot = 29
)

// msa1993Columns are byte ranges into the fixed-width 93mfips.txt lines.
var msa1993Columns = []tabular.FWFColumn{
	{Name: "MSA_CMSA_CODE", Start: 0, End: 4},
	{Name: "PRIMARY_MSA_CODE", Start: 8, End: 12},
	{Name: "ALT_CMSA_CODE", Start: 16, End: 18},
	{Name: "STATE_CODE", Start: 24, End: 26},
	{Name: "COUNTY_CODE", Start: 26, End: 29},
	{Name: "CENTRAL_OUTLYING", Start: 32, End: 33},
	{Name: "TOWN_CODE", Start: 40, End: 45},
	{Name: "NAME", Start: 48, End: 106},
}

// MSADelineation1993 returns the 1993 MSA/CMSA delineation, building and
// caching it on first use.
func (c *Client) MSADelineation1993(ctx context.Context) ([]MSADelineationRow, error) {
	return c.msa1993.Get(ctx, pubdata.Fixed{}, func(ctx context.Context, _ pubdata.Fixed) ([]MSADelineationRow, error) {
		url := sourceURLBase + "/programs-surveys/metro-micro/geographies/reference-files/1993/historical-delineation-files/93mfips.txt"
		src, err := c.env.Fetch(ctx, url, c.env.SourcePath("geo", "cbsa", "msa1993.txt"))
		if err != nil {
			return nil, err
		}
		data, err := afero.ReadFile(c.env.Fs(), src)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", src, err)
		}
		return parseMSA1993(src, string(data))
	})
}

func parseMSA1993(source, content string) ([]MSADelineationRow, error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if len(lines) <= msa1993SkipHead+msa1993SkipFoot {
		return nil, &pubdata.SchemaError{Source: source, Detail: "file too short"}
	}
	body := strings.Join(lines[msa1993SkipHead:len(lines)-msa1993SkipFoot], "\n")

	table, err := tabular.ReadFWF(strings.NewReader(body), msa1993Columns, 0)
	if err != nil {
		return nil, err
	}

	digits := func(s string, n int) bool {
		if len(s) != n {
			return false
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}

	rows := make([]MSADelineationRow, 0, len(table.Rows))
	for i := range table.Rows {
		row := MSADelineationRow{
			MSACMSACode:     table.Cell(i, "MSA_CMSA_CODE"),
			PrimaryMSACode:  table.Cell(i, "PRIMARY_MSA_CODE"),
			AltCMSACode:     table.Cell(i, "ALT_CMSA_CODE"),
			StateCode:       table.Cell(i, "STATE_CODE"),
			CountyCode:      table.Cell(i, "COUNTY_CODE"),
			CentralOutlying: table.Cell(i, "CENTRAL_OUTLYING"),
			TownCode:        table.Cell(i, "TOWN_CODE"),
			Name:            table.Cell(i, "NAME"),
		}
		if !digits(row.MSACMSACode, 4) || row.Name == "" {
			return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("row %d: bad MSA record %+v", i, row)}
		}
		switch row.CentralOutlying {
		case "1":
			row.CentralOutlying = "central"
		case "2":
			row.CentralOutlying = "outlying"
		case "":
		default:
			return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("row %d: bad central/outlying flag %q", i, row.CentralOutlying)}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
