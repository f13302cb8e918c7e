// Package bds provides cached accessors for Census Business Dynamics
// Statistics time series: establishment and firm dynamics by geography,
// sector, age and size cuts, 2021 release.
package bds

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// Keys lists the published table cuts. The empty key is the economy-wide
// series; the others slice by geography and industry or establishment
// characteristics.
var Keys = []string{
	"", "sec", "st", "cty", "metro",
	"st_sec", "cty_sec", "metro_sec",
	"eage", "esize", "eagecoarse", "esizecoarse",
	"sec_eage", "sec_esize", "st_eage", "st_esize",
	"vcn3", "vcn4",
}

// idColumns are the categorical dimensions of a BDS table. Every other
// column is a numeric measure.
var idColumns = map[string]bool{
	"year": true, "st": true, "cty": true, "metro": true, "sector": true,
	"vcnaics3": true, "vcnaics4": true, "eage": true, "eagecoarse": true,
	"esize": true, "esizecoarse": true,
}

// naMarkers are the suppression and noise codes used in the published
// CSVs.
var naMarkers = []string{"(D)", "D", "(S)", "S", "(X)", "N", "."}

// Row is one record of a BDS table. The id columns a cut does not use
// stay empty; every numeric measure lands in Measures keyed by its
// column name, with suppressed cells as NaN.
type Row struct {
	Year        int    `parquet:"year"`
	St          string `parquet:"st,optional"`
	Cty         string `parquet:"cty,optional"`
	Metro       string `parquet:"metro,optional"`
	Sector      string `parquet:"sector,optional"`
	VCNaics3    string `parquet:"vcnaics3,optional"`
	VCNaics4    string `parquet:"vcnaics4,optional"`
	EAge        string `parquet:"eage,optional"`
	EAgeCoarse  string `parquet:"eagecoarse,optional"`
	ESize       string `parquet:"esize,optional"`
	ESizeCoarse string `parquet:"esizecoarse,optional"`

	Measures map[string]float64 `parquet:"measures"`
}

// sourceURLBase is a variable so tests can point downloads at a local
// server.
var sourceURLBase = "https://www2.census.gov"

type tableKey string

func (k tableKey) Parts() []string {
	if k == "" {
		return []string{"bds2021"}
	}
	return []string{"bds2021_" + string(k)}
}

// Client provides the BDS accessors over a shared environment.
type Client struct {
	env   *pubdata.Env
	store *pubdata.Store[tableKey, []Row]
}

// NewClient creates a BDS client.
func NewClient(env *pubdata.Env) *Client {
	return &Client{
		env:   env,
		store: pubdata.NewStore[tableKey](env, "bds", "bds/{}.parquet", pubdata.ParquetCodec[Row]()),
	}
}

func knownKey(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

func fileName(key string) string {
	if key == "" {
		return "bds2021.csv"
	}
	return "bds2021_" + key + ".csv"
}

// Source ensures the CSV for a table cut is downloaded and returns its
// local path. The empty key is the economy-wide table.
func (c *Client) Source(ctx context.Context, key string) (string, error) {
	if !knownKey(key) {
		return "", fmt.Errorf("%w: bds table %q", pubdata.ErrUnknownKey, key)
	}
	name := fileName(key)
	url := fmt.Sprintf("%s/programs-surveys/bds/tables/time-series/2021/%s", sourceURLBase, name)
	return c.env.Fetch(ctx, url, c.env.SourcePath("bds", name))
}

// Get returns the table for a cut, building and caching it on first use.
func (c *Client) Get(ctx context.Context, key string) ([]Row, error) {
	if !knownKey(key) {
		return nil, fmt.Errorf("%w: bds table %q", pubdata.ErrUnknownKey, key)
	}
	return c.store.Get(ctx, tableKey(key), func(ctx context.Context, k tableKey) ([]Row, error) {
		src, err := c.Source(ctx, key)
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
		return parseTable(src, table)
	})
}

func parseTable(src string, table tabular.Table) ([]Row, error) {
	if err := tabular.RequireColumns(src, table, "year"); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(table.Rows))
	for i := range table.Rows {
		year, err := tabular.Int(table.Cell(i, "year"))
		if err != nil {
			return nil, &pubdata.SchemaError{Source: src, Detail: err.Error()}
		}
		row := Row{
			Year:        year,
			St:          table.Cell(i, "st"),
			Cty:         table.Cell(i, "cty"),
			Metro:       table.Cell(i, "metro"),
			Sector:      table.Cell(i, "sector"),
			VCNaics3:    table.Cell(i, "vcnaics3"),
			VCNaics4:    table.Cell(i, "vcnaics4"),
			EAge:        table.Cell(i, "eage"),
			EAgeCoarse:  table.Cell(i, "eagecoarse"),
			ESize:       table.Cell(i, "esize"),
			ESizeCoarse: table.Cell(i, "esizecoarse"),
			Measures:    make(map[string]float64),
		}
		for _, col := range table.Columns {
			if idColumns[strings.ToLower(col)] {
				continue
			}
			v, err := tabular.Float(table.Cell(i, col), naMarkers...)
			if err != nil {
				return nil, &pubdata.SchemaError{
					Source: src,
					Detail: fmt.Sprintf("column %s: %v", col, err),
				}
			}
			row.Measures[col] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// BuildAll builds every published table cut, best-effort.
func (c *Client) BuildAll(ctx context.Context) error {
	var failed []pubdata.KeyError
	for _, key := range Keys {
		if _, err := c.Get(ctx, key); err != nil {
			log := c.env.Logger()
			log.Error().Str("dataset", "bds").Str("key", fileName(key)).Err(err).Msg("build failed")
			failed = append(failed, pubdata.KeyError{Key: fileName(key), Err: err})
		}
	}
	return pubdata.NewBuildError(failed)
}

// Cleanup removes the processed BDS tables. With removeDownloaded it
// also removes the raw source downloads.
func (c *Client) Cleanup(removeDownloaded bool) error {
	if err := c.env.RemoveTree(c.env.DataPath("bds")); err != nil {
		return err
	}
	if removeDownloaded {
		return c.env.RemoveTree(c.env.SourcePath("bds"))
	}
	return nil
}
