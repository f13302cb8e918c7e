package bea

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/spf13/afero"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// nipaURLBase is a variable so tests can point downloads at a local
// server.
var nipaURLBase = "https://apps.bea.gov/national/Release/TXT"

// priceSeries maps NIPA series codes to price index names. All series
// are indexes with 2012 == 100 except the GDP deflator.
var priceSeries = map[string]string{
	"DPCERG": "pce_price_index",
	"DPCCRG": "core_pce_price_index",
	"B712RG": "purchases_price_index",
	"A191RG": "gdp_price_index",
	"A191RD": "gdp_price_deflator",
}

// PriceIndexRow holds the national price indexes for one year. A series
// not published for the year is NaN.
type PriceIndexRow struct {
	Year              int     `parquet:"year"`
	PCEPriceIndex     float64 `parquet:"pce_price_index"`
	CorePCEPriceIndex float64 `parquet:"core_pce_price_index"`
	PurchasesPriceIdx float64 `parquet:"purchases_price_index"`
	GDPPriceIndex     float64 `parquet:"gdp_price_index"`
	GDPPriceDeflator  float64 `parquet:"gdp_price_deflator"`
}

// SeriesRegisterSource ensures the NIPA series register is downloaded
// and returns its local path.
func (c *Client) SeriesRegisterSource(ctx context.Context) (string, error) {
	url := nipaURLBase + "/SeriesRegister.txt"
	return c.env.Fetch(ctx, url, c.env.SourcePath("bea", "SeriesRegister.txt"))
}

// NipaAnnualSource ensures the annual NIPA data file is downloaded and
// returns its local path.
func (c *Client) NipaAnnualSource(ctx context.Context) (string, error) {
	url := nipaURLBase + "/NipaDataA.txt"
	return c.env.Fetch(ctx, url, c.env.SourcePath("bea", "NipaDataA.txt"))
}

// PriceIndex returns the national price index series by year, building
// and caching the pivot on first use.
func (c *Client) PriceIndex(ctx context.Context) ([]PriceIndexRow, error) {
	return c.nipa.Get(ctx, pubdata.Fixed{}, func(ctx context.Context, _ pubdata.Fixed) ([]PriceIndexRow, error) {
		src, err := c.NipaAnnualSource(ctx)
		if err != nil {
			return nil, err
		}
		data, err := afero.ReadFile(c.env.Fs(), src)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", src, err)
		}
		table, err := tabular.ReadCSV(bytes.NewReader(data), ',')
		if err != nil {
			return nil, err
		}
		return parsePriceIndex(src, table)
	})
}

func parsePriceIndex(src string, table tabular.Table) ([]PriceIndexRow, error) {
	if err := tabular.RequireColumns(src, table, "%SeriesCode", "Period", "Value"); err != nil {
		return nil, err
	}

	byYear := make(map[int]map[string]float64)
	for i := range table.Rows {
		name, ok := priceSeries[table.Cell(i, "%SeriesCode")]
		if !ok {
			continue
		}
		year, err := tabular.Int(table.Cell(i, "Period"))
		if err != nil {
			return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
		}
		value, err := tabular.Float(table.Cell(i, "Value"))
		if err != nil {
			return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
		}
		if byYear[year] == nil {
			byYear[year] = make(map[string]float64)
		}
		byYear[year][name] = value
	}

	years := make([]int, 0, len(byYear))
	for year := range byYear {
		years = append(years, year)
	}
	sort.Ints(years)

	pick := func(m map[string]float64, name string) float64 {
		if v, ok := m[name]; ok {
			return v
		}
		return math.NaN()
	}
	rows := make([]PriceIndexRow, 0, len(years))
	for _, year := range years {
		m := byYear[year]
		rows = append(rows, PriceIndexRow{
			Year:              year,
			PCEPriceIndex:     pick(m, "pce_price_index"),
			CorePCEPriceIndex: pick(m, "core_pce_price_index"),
			PurchasesPriceIdx: pick(m, "purchases_price_index"),
			GDPPriceIndex:     pick(m, "gdp_price_index"),
			GDPPriceDeflator:  pick(m, "gdp_price_deflator"),
		})
	}
	return rows, nil
}
