// Package agcensus provides cached accessors for the USDA Census of
// Agriculture QuickStats bulk files, served as gzipped tab-separated
// text over FTP.
package agcensus

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// Years lists the census vintages available from QuickStats.
var Years = []int{2002, 2007, 2012, 2017}

// Value and coefficient-of-variation flags. A parsed number carries
// FlagNum; the others are the published suppression reason codes.
const (
	FlagNum     = "NUM"
	FlagD       = "(D)" // withheld to avoid disclosure
	FlagZ       = "(Z)" // less than half the rounding unit
	FlagH       = "(H)" // CV of 99.95% or more
	FlagL       = "(L)" // CV of less than 0.05%
	FlagMissing = ""
)

// Row is one QuickStats record. VALUE and CV% are parsed to floats with
// companion flag columns holding the suppression reason; suppressed
// cells are NaN. The year is encoded in the partition directory and
// restored at read time.
type Row struct {
	SourceDesc          string `parquet:"SOURCE_DESC,dict"`
	SectorDesc          string `parquet:"SECTOR_DESC,dict"`
	GroupDesc           string `parquet:"GROUP_DESC,dict"`
	CommodityDesc       string `parquet:"COMMODITY_DESC,dict"`
	ClassDesc           string `parquet:"CLASS_DESC,dict"`
	ProdnPracticeDesc   string `parquet:"PRODN_PRACTICE_DESC,dict"`
	UtilPracticeDesc    string `parquet:"UTIL_PRACTICE_DESC,dict"`
	StatisticcatDesc    string `parquet:"STATISTICCAT_DESC,dict"`
	UnitDesc            string `parquet:"UNIT_DESC,dict"`
	ShortDesc           string `parquet:"SHORT_DESC,dict"`
	DomainDesc          string `parquet:"DOMAIN_DESC,dict"`
	DomaincatDesc       string `parquet:"DOMAINCAT_DESC,dict"`
	AggLevelDesc        string `parquet:"AGG_LEVEL_DESC,dict"`
	StateANSI           string `parquet:"STATE_ANSI"`
	StateFipsCode       string `parquet:"STATE_FIPS_CODE"`
	StateAlpha          string `parquet:"STATE_ALPHA"`
	StateName           string `parquet:"STATE_NAME,dict"`
	ASDCode             string `parquet:"ASD_CODE"`
	ASDDesc             string `parquet:"ASD_DESC,dict"`
	CountyANSI          string `parquet:"COUNTY_ANSI"`
	CountyCode          string `parquet:"COUNTY_CODE"`
	CountyName          string `parquet:"COUNTY_NAME,dict"`
	RegionDesc          string `parquet:"REGION_DESC,dict"`
	Zip5                string `parquet:"ZIP_5"`
	WatershedCode       string `parquet:"WATERSHED_CODE"`
	WatershedDesc       string `parquet:"WATERSHED_DESC,dict"`
	CongrDistrictCode   string `parquet:"CONGR_DISTRICT_CODE"`
	CountryCode         string `parquet:"COUNTRY_CODE"`
	CountryName         string `parquet:"COUNTRY_NAME,dict"`
	LocationDesc        string `parquet:"LOCATION_DESC,dict"`
	FreqDesc            string `parquet:"FREQ_DESC,dict"`
	BeginCode           string `parquet:"BEGIN_CODE"`
	EndCode             string `parquet:"END_CODE"`
	ReferencePeriodDesc string `parquet:"REFERENCE_PERIOD_DESC,dict"`
	WeekEnding          string `parquet:"WEEK_ENDING"`
	LoadTime            string `parquet:"LOAD_TIME"`

	Value     float64 `parquet:"VALUE"`
	ValueFlag string  `parquet:"VALUE_F,dict"`
	CV        float64 `parquet:"CV_PCT"`
	CVFlag    string  `parquet:"CV_PCT_F,dict"`

	Year int `parquet:"-"`
}

// Field documents one QuickStats column: its name, maximum length and
// the NASS description.
type Field struct {
	Name   string
	MaxLen int
	Desc   string
}

// Fields describes the QuickStats layout in column order. The
// descriptions come from the NASS QuickStats documentation and drive
// header validation.
var Fields = []Field{
	{"SOURCE_DESC", 60, "Source of data (CENSUS or SURVEY)."},
	{"SECTOR_DESC", 60, "Five high level, broad categories useful to narrow down choices."},
	{"GROUP_DESC", 80, "Subsets within sector."},
	{"COMMODITY_DESC", 80, "The primary subject of interest."},
	{"CLASS_DESC", 180, "Generally a physical attribute of the commodity."},
	{"PRODN_PRACTICE_DESC", 180, "A method of production or action taken on the commodity."},
	{"UTIL_PRACTICE_DESC", 180, "Utilizations or marketing channels."},
	{"STATISTICCAT_DESC", 80, "The aspect of a commodity being measured."},
	{"UNIT_DESC", 60, "The unit associated with the statistic category."},
	{"SHORT_DESC", 512, "A concatenation of six columns."},
	{"DOMAIN_DESC", 256, "Generally another characteristic of operations that produce a particular commodity."},
	{"DOMAINCAT_DESC", 512, "Categories or partitions within a domain."},
	{"AGG_LEVEL_DESC", 40, "Aggregation level or geographic granularity of the data."},
	{"STATE_ANSI", 2, "ANSI standard 2-digit state codes."},
	{"STATE_FIPS_CODE", 2, "NASS 2-digit state codes."},
	{"STATE_ALPHA", 2, "State abbreviation, 2-character alpha code."},
	{"STATE_NAME", 30, "State full name."},
	{"ASD_CODE", 2, "NASS defined county groups, 2-digit ag statistics district code."},
	{"ASD_DESC", 60, "Ag statistics district name."},
	{"COUNTY_ANSI", 3, "ANSI standard 3-digit county codes."},
	{"COUNTY_CODE", 3, "NASS 3-digit county codes."},
	{"COUNTY_NAME", 30, "County name."},
	{"REGION_DESC", 80, "NASS defined geographic entities not readily defined by other standard geographic levels."},
	{"ZIP_5", 5, "US Postal Service 5-digit zip code."},
	{"WATERSHED_CODE", 8, "USGS 8-digit Hydrologic Unit Code for watersheds."},
	{"WATERSHED_DESC", 120, "Name assigned to the HUC."},
	{"CONGR_DISTRICT_CODE", 2, "US Congressional District 2-digit code."},
	{"COUNTRY_CODE", 4, "US Census Bureau 4-digit country code."},
	{"COUNTRY_NAME", 60, "Country name."},
	{"LOCATION_DESC", 120, "Full description for the location dimension."},
	{"YEAR", 4, "The numeric year of the data."},
	{"FREQ_DESC", 30, "Length of time covered."},
	{"BEGIN_CODE", 2, "2-digit code corresponding to the beginning of the reference period."},
	{"END_CODE", 2, "2-digit code corresponding to the end of the reference period."},
	{"REFERENCE_PERIOD_DESC", 40, "The specific time frame within a freq_desc."},
	{"WEEK_ENDING", 10, "Week ending date, used when freq_desc = Weekly."},
	{"LOAD_TIME", 19, "When the record was inserted into the Quick Stats database."},
	{"VALUE", 24, "Published data value or suppression reason code."},
	{"CV_%", 7, "Coefficient of variation, 2012 census only."},
}

// ftpURLBase is a variable so tests can point downloads at a stub
// server.
var ftpURLBase = "ftp://ftp.nass.usda.gov"

// Client provides the agricultural census accessors over a shared
// environment.
type Client struct {
	env  *pubdata.Env
	data *pubdata.Dataset[pubdata.Year, Row]
}

// NewClient creates an agricultural census client.
func NewClient(env *pubdata.Env) *Client {
	c := &Client{env: env}
	c.data = pubdata.NewDataset(env, "agcensus", "{}/part.parquet", c.buildPartition,
		func(key pubdata.Year, row *Row) { row.Year = int(key) })
	return c
}

func knownYear(year int) bool {
	for _, y := range Years {
		if y == year {
			return true
		}
	}
	return false
}

// Source ensures the QuickStats file for a census year is downloaded
// and returns its local path.
func (c *Client) Source(ctx context.Context, year int) (string, error) {
	if !knownYear(year) {
		return "", fmt.Errorf("%w: agcensus %d", pubdata.ErrUnknownKey, year)
	}
	name := fmt.Sprintf("qs.census%d.txt.gz", year)
	url := fmt.Sprintf("%s/quickstats/%s", ftpURLBase, name)
	return c.env.Fetch(ctx, url, c.env.SourcePath("agcensus", name))
}

func (c *Client) buildPartition(ctx context.Context, key pubdata.Year) ([]Row, error) {
	year := int(key)
	src, err := c.Source(ctx, year)
	if err != nil {
		return nil, err
	}
	data, err := tabular.GunzipFile(c.env.Fs(), src)
	if err != nil {
		return nil, err
	}
	table, err := tabular.ReadCSV(bytes.NewReader(data), '\t')
	if err != nil {
		return nil, err
	}
	return parseTable(src, table, year)
}

func parseTable(src string, table tabular.Table, year int) ([]Row, error) {
	if err := tabular.RequireColumns(src, table,
		"SOURCE_DESC", "SECTOR_DESC", "SHORT_DESC", "AGG_LEVEL_DESC",
		"YEAR", "VALUE"); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(table.Rows))
	for i := range table.Rows {
		fileYear, err := tabular.Int(table.Cell(i, "YEAR"))
		if err != nil {
			return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
		}
		if fileYear != year {
			return nil, &pubdata.SchemaError{
				Source: src,
				Detail: fmt.Sprintf("row %d has year %d in the %d file", i, fileYear, year),
			}
		}

		row := Row{
			SourceDesc:          table.Cell(i, "SOURCE_DESC"),
			SectorDesc:          table.Cell(i, "SECTOR_DESC"),
			GroupDesc:           table.Cell(i, "GROUP_DESC"),
			CommodityDesc:       table.Cell(i, "COMMODITY_DESC"),
			ClassDesc:           table.Cell(i, "CLASS_DESC"),
			ProdnPracticeDesc:   table.Cell(i, "PRODN_PRACTICE_DESC"),
			UtilPracticeDesc:    table.Cell(i, "UTIL_PRACTICE_DESC"),
			StatisticcatDesc:    table.Cell(i, "STATISTICCAT_DESC"),
			UnitDesc:            table.Cell(i, "UNIT_DESC"),
			ShortDesc:           table.Cell(i, "SHORT_DESC"),
			DomainDesc:          table.Cell(i, "DOMAIN_DESC"),
			DomaincatDesc:       table.Cell(i, "DOMAINCAT_DESC"),
			AggLevelDesc:        table.Cell(i, "AGG_LEVEL_DESC"),
			StateANSI:           table.Cell(i, "STATE_ANSI"),
			StateFipsCode:       table.Cell(i, "STATE_FIPS_CODE"),
			StateAlpha:          table.Cell(i, "STATE_ALPHA"),
			StateName:           table.Cell(i, "STATE_NAME"),
			ASDCode:             table.Cell(i, "ASD_CODE"),
			ASDDesc:             table.Cell(i, "ASD_DESC"),
			CountyANSI:          table.Cell(i, "COUNTY_ANSI"),
			CountyCode:          table.Cell(i, "COUNTY_CODE"),
			CountyName:          table.Cell(i, "COUNTY_NAME"),
			RegionDesc:          table.Cell(i, "REGION_DESC"),
			Zip5:                table.Cell(i, "ZIP_5"),
			WatershedCode:       table.Cell(i, "WATERSHED_CODE"),
			WatershedDesc:       table.Cell(i, "WATERSHED_DESC"),
			CongrDistrictCode:   table.Cell(i, "CONGR_DISTRICT_CODE"),
			CountryCode:         table.Cell(i, "COUNTRY_CODE"),
			CountryName:         table.Cell(i, "COUNTRY_NAME"),
			LocationDesc:        table.Cell(i, "LOCATION_DESC"),
			FreqDesc:            table.Cell(i, "FREQ_DESC"),
			BeginCode:           table.Cell(i, "BEGIN_CODE"),
			EndCode:             table.Cell(i, "END_CODE"),
			ReferencePeriodDesc: table.Cell(i, "REFERENCE_PERIOD_DESC"),
			WeekEnding:          table.Cell(i, "WEEK_ENDING"),
			LoadTime:            table.Cell(i, "LOAD_TIME"),
		}

		row.Value, row.ValueFlag, err = parseFlagged(table.Cell(i, "VALUE"), FlagD, FlagZ)
		if err != nil {
			return nil, &pubdata.SchemaError{Source: src, Detail: fmt.Sprintf("VALUE: %v", err)}
		}
		if row.ValueFlag == FlagMissing {
			return nil, &pubdata.SchemaError{
				Source: src,
				Detail: fmt.Sprintf("row %d has no VALUE", i),
			}
		}

		row.CV, row.CVFlag, err = parseFlagged(table.Cell(i, "CV_%"), FlagH, FlagD, FlagL)
		if err != nil {
			return nil, &pubdata.SchemaError{Source: src, Detail: fmt.Sprintf("CV_%%: %v", err)}
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// parseFlagged parses a published value into a number and flag pair:
// numbers carry FlagNum, recognized suppression codes carry themselves,
// and an empty cell carries FlagMissing. Anything else is an error.
func parseFlagged(s string, flags ...string) (float64, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), FlagMissing, nil
	}
	for _, flag := range flags {
		if s == flag {
			return math.NaN(), flag, nil
		}
	}
	v, err := tabular.Float(s)
	if err != nil {
		return 0, "", err
	}
	return v, FlagNum, nil
}

// Get ensures the partitions for the requested years are built, then
// loads and concatenates them, applying any read options.
func (c *Client) Get(ctx context.Context, years []int, opts ...pubdata.ReadOption[Row]) ([]Row, error) {
	keys := make([]pubdata.Year, len(years))
	for i, y := range years {
		if !knownYear(y) {
			return nil, fmt.Errorf("%w: agcensus %d", pubdata.ErrUnknownKey, y)
		}
		keys[i] = pubdata.Year(y)
	}
	return c.data.Read(ctx, keys, opts...)
}

// BuildAll builds every census year, best-effort.
func (c *Client) BuildAll(ctx context.Context) error {
	keys := make([]pubdata.Year, len(Years))
	for i, y := range Years {
		keys[i] = pubdata.Year(y)
	}
	return c.data.BuildAll(ctx, keys)
}

// Cleanup removes the processed census partitions. With removeDownloaded
// it also removes the raw source downloads.
func (c *Client) Cleanup(removeDownloaded bool) error {
	if err := c.data.Cleanup(); err != nil {
		return err
	}
	if removeDownloaded {
		return c.env.RemoveTree(c.env.SourcePath("agcensus"))
	}
	return nil
}
