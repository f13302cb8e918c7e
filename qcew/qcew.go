// Package qcew provides cached accessors for the BLS Quarterly Census
// of Employment and Wages annual singlefiles, 1990 through 2022.
package qcew

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// FirstYear and LastYear bound the published annual singlefiles.
const (
	FirstYear = 1990
	LastYear  = 2022
)

// Row is one record of an annual singlefile. The layout is fixed across
// years; the year itself is encoded in the partition directory and
// restored at read time.
type Row struct {
	AreaFips       string `parquet:"area_fips"`
	OwnCode        string `parquet:"own_code"`
	IndustryCode   string `parquet:"industry_code"`
	AgglvlCode     string `parquet:"agglvl_code"`
	SizeCode       string `parquet:"size_code"`
	Qtr            string `parquet:"qtr"`
	DisclosureCode string `parquet:"disclosure_code"`

	AnnualAvgEstabs    int64 `parquet:"annual_avg_estabs"`
	AnnualAvgEmplvl    int64 `parquet:"annual_avg_emplvl"`
	TotalAnnualWages   int64 `parquet:"total_annual_wages"`
	TaxableAnnualWages int64 `parquet:"taxable_annual_wages"`
	AnnualContribs     int64 `parquet:"annual_contributions"`
	AnnualAvgWklyWage  int64 `parquet:"annual_avg_wkly_wage"`
	AvgAnnualPay       int64 `parquet:"avg_annual_pay"`

	LqDisclosureCode     string  `parquet:"lq_disclosure_code"`
	LqAnnualAvgEstabs    float64 `parquet:"lq_annual_avg_estabs"`
	LqAnnualAvgEmplvl    float64 `parquet:"lq_annual_avg_emplvl"`
	LqTotalAnnualWages   float64 `parquet:"lq_total_annual_wages"`
	LqTaxableAnnualWages float64 `parquet:"lq_taxable_annual_wages"`
	LqAnnualContribs     float64 `parquet:"lq_annual_contributions"`
	LqAnnualAvgWklyWage  float64 `parquet:"lq_annual_avg_wkly_wage"`
	LqAvgAnnualPay       float64 `parquet:"lq_avg_annual_pay"`

	OtyDisclosureCode           string  `parquet:"oty_disclosure_code"`
	OtyAnnualAvgEstabsChg       int64   `parquet:"oty_annual_avg_estabs_chg"`
	OtyAnnualAvgEstabsPctChg    float64 `parquet:"oty_annual_avg_estabs_pct_chg"`
	OtyAnnualAvgEmplvlChg       int64   `parquet:"oty_annual_avg_emplvl_chg"`
	OtyAnnualAvgEmplvlPctChg    float64 `parquet:"oty_annual_avg_emplvl_pct_chg"`
	OtyTotalAnnualWagesChg      int64   `parquet:"oty_total_annual_wages_chg"`
	OtyTotalAnnualWagesPctChg   float64 `parquet:"oty_total_annual_wages_pct_chg"`
	OtyTaxableAnnualWagesChg    int64   `parquet:"oty_taxable_annual_wages_chg"`
	OtyTaxableAnnualWagesPctChg float64 `parquet:"oty_taxable_annual_wages_pct_chg"`
	OtyAnnualContribsChg        int64   `parquet:"oty_annual_contributions_chg"`
	OtyAnnualContribsPctChg     float64 `parquet:"oty_annual_contributions_pct_chg"`
	OtyAnnualAvgWklyWageChg     int64   `parquet:"oty_annual_avg_wkly_wage_chg"`
	OtyAnnualAvgWklyWagePctChg  float64 `parquet:"oty_annual_avg_wkly_wage_pct_chg"`
	OtyAvgAnnualPayChg          int64   `parquet:"oty_avg_annual_pay_chg"`
	OtyAvgAnnualPayPctChg       float64 `parquet:"oty_avg_annual_pay_pct_chg"`

	Year int `parquet:"-"`
}

// sourceURLBase is a variable so tests can point downloads at a local
// server.
var sourceURLBase = "https://data.bls.gov"

// Client provides the QCEW accessors over a shared environment.
type Client struct {
	env  *pubdata.Env
	data *pubdata.Dataset[pubdata.Year, Row]
}

// NewClient creates a QCEW client.
func NewClient(env *pubdata.Env) *Client {
	c := &Client{env: env}
	c.data = pubdata.NewDataset(env, "qcew", "{}/part.parquet", c.buildPartition,
		func(key pubdata.Year, row *Row) { row.Year = int(key) })
	return c
}

// Source ensures the annual singlefile for a year is downloaded and
// returns its local path.
func (c *Client) Source(ctx context.Context, year int) (string, error) {
	if year < FirstYear || year > LastYear {
		return "", fmt.Errorf("%w: qcew %d", pubdata.ErrUnknownKey, year)
	}
	name := fmt.Sprintf("%d_annual_singlefile.zip", year)
	url := fmt.Sprintf("%s/cew/data/files/%d/csv/%s", sourceURLBase, year, name)
	return c.env.Fetch(ctx, url, c.env.SourcePath("qcew", name))
}

func (c *Client) buildPartition(ctx context.Context, key pubdata.Year) ([]Row, error) {
	year := int(key)
	src, err := c.Source(ctx, year)
	if err != nil {
		return nil, err
	}

	members, err := tabular.ZipMembers(c.env.Fs(), src)
	if err != nil {
		return nil, err
	}
	member := ""
	for _, m := range members {
		if strings.HasSuffix(strings.ToLower(m), ".csv") {
			member = m
			break
		}
	}
	if member == "" {
		return nil, &pubdata.SchemaError{Source: src, Detail: "no .csv member in archive"}
	}

	data, err := tabular.ZipMember(c.env.Fs(), src, member)
	if err != nil {
		return nil, err
	}
	table, err := tabular.ReadCSV(bytes.NewReader(data), ',')
	if err != nil {
		return nil, err
	}
	return parseTable(src, table, year)
}

func parseTable(src string, table tabular.Table, year int) ([]Row, error) {
	if err := tabular.RequireColumns(src, table,
		"area_fips", "own_code", "industry_code", "agglvl_code", "size_code",
		"year", "qtr", "annual_avg_estabs", "annual_avg_emplvl",
		"total_annual_wages", "avg_annual_pay"); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(table.Rows))
	for i := range table.Rows {
		fileYear, err := tabular.Int(table.Cell(i, "year"))
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
			AreaFips:          table.Cell(i, "area_fips"),
			OwnCode:           table.Cell(i, "own_code"),
			IndustryCode:      table.Cell(i, "industry_code"),
			AgglvlCode:        table.Cell(i, "agglvl_code"),
			SizeCode:          table.Cell(i, "size_code"),
			Qtr:               table.Cell(i, "qtr"),
			DisclosureCode:    table.Cell(i, "disclosure_code"),
			LqDisclosureCode:  table.Cell(i, "lq_disclosure_code"),
			OtyDisclosureCode: table.Cell(i, "oty_disclosure_code"),
		}

		ints := []struct {
			col  string
			dest *int64
		}{
			{"annual_avg_estabs", &row.AnnualAvgEstabs},
			{"annual_avg_emplvl", &row.AnnualAvgEmplvl},
			{"total_annual_wages", &row.TotalAnnualWages},
			{"taxable_annual_wages", &row.TaxableAnnualWages},
			{"annual_contributions", &row.AnnualContribs},
			{"annual_avg_wkly_wage", &row.AnnualAvgWklyWage},
			{"avg_annual_pay", &row.AvgAnnualPay},
			{"oty_annual_avg_estabs_chg", &row.OtyAnnualAvgEstabsChg},
			{"oty_annual_avg_emplvl_chg", &row.OtyAnnualAvgEmplvlChg},
			{"oty_total_annual_wages_chg", &row.OtyTotalAnnualWagesChg},
			{"oty_taxable_annual_wages_chg", &row.OtyTaxableAnnualWagesChg},
			{"oty_annual_contributions_chg", &row.OtyAnnualContribsChg},
			{"oty_annual_avg_wkly_wage_chg", &row.OtyAnnualAvgWklyWageChg},
			{"oty_avg_annual_pay_chg", &row.OtyAvgAnnualPayChg},
		}
		for _, f := range ints {
			if table.Col(f.col) < 0 {
				continue
			}
			cell := strings.TrimSpace(table.Cell(i, f.col))
			if cell == "" {
				continue
			}
			v, err := tabular.Int(cell)
			if err != nil {
				return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
			}
			*f.dest = int64(v)
		}

		floats := []struct {
			col  string
			dest *float64
		}{
			{"lq_annual_avg_estabs", &row.LqAnnualAvgEstabs},
			{"lq_annual_avg_emplvl", &row.LqAnnualAvgEmplvl},
			{"lq_total_annual_wages", &row.LqTotalAnnualWages},
			{"lq_taxable_annual_wages", &row.LqTaxableAnnualWages},
			{"lq_annual_contributions", &row.LqAnnualContribs},
			{"lq_annual_avg_wkly_wage", &row.LqAnnualAvgWklyWage},
			{"lq_avg_annual_pay", &row.LqAvgAnnualPay},
			{"oty_annual_avg_estabs_pct_chg", &row.OtyAnnualAvgEstabsPctChg},
			{"oty_annual_avg_emplvl_pct_chg", &row.OtyAnnualAvgEmplvlPctChg},
			{"oty_total_annual_wages_pct_chg", &row.OtyTotalAnnualWagesPctChg},
			{"oty_taxable_annual_wages_pct_chg", &row.OtyTaxableAnnualWagesPctChg},
			{"oty_annual_contributions_pct_chg", &row.OtyAnnualContribsPctChg},
			{"oty_annual_avg_wkly_wage_pct_chg", &row.OtyAnnualAvgWklyWagePctChg},
			{"oty_avg_annual_pay_pct_chg", &row.OtyAvgAnnualPayPctChg},
		}
		for _, f := range floats {
			if table.Col(f.col) < 0 {
				continue
			}
			v, err := tabular.Float(table.Cell(i, f.col))
			if err != nil {
				return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
			}
			*f.dest = v
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// Get ensures the partitions for the requested years are built, then
// loads and concatenates them, applying any read options.
func (c *Client) Get(ctx context.Context, years []int, opts ...pubdata.ReadOption[Row]) ([]Row, error) {
	keys := make([]pubdata.Year, len(years))
	for i, y := range years {
		keys[i] = pubdata.Year(y)
	}
	return c.data.Read(ctx, keys, opts...)
}

// GetPresent loads only the years whose partitions are already built.
func (c *Client) GetPresent(ctx context.Context, years []int, opts ...pubdata.ReadOption[Row]) ([]Row, error) {
	keys := make([]pubdata.Year, len(years))
	for i, y := range years {
		keys[i] = pubdata.Year(y)
	}
	return c.data.ReadPresent(ctx, keys, opts...)
}

// BuildAll builds every published year, best-effort.
func (c *Client) BuildAll(ctx context.Context) error {
	var keys []pubdata.Year
	for year := FirstYear; year <= LastYear; year++ {
		keys = append(keys, pubdata.Year(year))
	}
	return c.data.BuildAll(ctx, keys)
}

// Cleanup removes the processed QCEW partitions. With removeDownloaded
// it also removes the raw source downloads.
func (c *Client) Cleanup(removeDownloaded bool) error {
	if err := c.data.Cleanup(); err != nil {
		return err
	}
	if removeDownloaded {
		return c.env.RemoveTree(c.env.SourcePath("qcew"))
	}
	return nil
}
