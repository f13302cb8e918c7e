// Package cbp provides cached accessors for Census County Business
// Patterns: establishment, employment and payroll counts by geography
// and industry, 1986 through 2021, plus the EFSY imputed-employment
// supplements and a county panel with suppressed values filled in.
package cbp

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gophersatwork/pubdata"
)

// Geo is the geographic level of a CBP file.
type Geo int

const (
	GeoUS Geo = iota
	GeoState
	GeoCounty
)

func (g Geo) String() string {
	switch g {
	case GeoUS:
		return "us"
	case GeoState:
		return "state"
	case GeoCounty:
		return "county"
	}
	return "unknown"
}

// fileCode is the geography abbreviation used in source file names.
func (g Geo) fileCode() string {
	switch g {
	case GeoUS:
		return "us"
	case GeoState:
		return "st"
	case GeoCounty:
		return "co"
	}
	return ""
}

// FirstYear and LastYear bound the published CBP vintages.
const (
	FirstYear = 1986
	LastYear  = 2021
)

// Key identifies one CBP file by geography and year.
type Key struct {
	Geo  Geo
	Year int
}

// Parts implements pubdata.Key.
func (k Key) Parts() []string {
	return []string{k.Geo.String(), strconv.Itoa(k.Year)}
}

// Client provides the CBP accessors over a shared environment.
type Client struct {
	env *pubdata.Env

	data      *pubdata.Dataset[Key, Row]
	efsyPanel *pubdata.Store[efsyPanelKey, []PanelEmploymentRow]
	efsyYears *pubdata.Store[pubdata.Year, []EFSYRow]
	panel     *pubdata.Store[pubdata.Year, []PanelRow]
}

// NewClient creates a CBP client.
func NewClient(env *pubdata.Env) *Client {
	c := &Client{
		env:       env,
		efsyPanel: pubdata.NewStore[efsyPanelKey](env, "cbp-efsy-panel", "cbp/efsy/efsy_panel_{}.parquet", pubdata.ParquetCodec[PanelEmploymentRow]()),
		efsyYears: pubdata.NewStore[pubdata.Year](env, "cbp-efsy-year", "cbp/efsy/years/{}.parquet", pubdata.ParquetCodec[EFSYRow]()),
		panel:     pubdata.NewStore[pubdata.Year](env, "cbp-panel", "cbp/panel/{}.parquet", pubdata.ParquetCodec[PanelRow]()),
	}
	c.data = pubdata.NewDataset(env, "cbp/parquet", "{}/{}/part.parquet", c.buildPartition, assignKey)
	return c
}

func assignKey(key Key, row *Row) {
	row.Geo = key.Geo.String()
	row.Year = key.Year
}

// sourceURLBase is a variable so tests can point downloads at a local
// server.
var sourceURLBase = "https://www2.census.gov"

// sourceExt returns the archive format of a source file. Only the
// national files before 2008 were published as plain text.
func sourceExt(geo Geo, year int) string {
	if geo == GeoUS && year < 2008 {
		return "txt"
	}
	return "zip"
}

// Source ensures the raw CBP file for (geo, year) is downloaded and
// returns its local path.
func (c *Client) Source(ctx context.Context, geo Geo, year int) (string, error) {
	if year < FirstYear || year > LastYear || geo.fileCode() == "" {
		return "", fmt.Errorf("%w: cbp %s %d", pubdata.ErrUnknownKey, geo, year)
	}
	ext := sourceExt(geo, year)
	url := fmt.Sprintf("%s/programs-surveys/cbp/datasets/%d/cbp%02d%s.%s",
		sourceURLBase, year, year%100, geo.fileCode(), ext)
	local := c.env.SourcePath("cbp", geo.String(), fmt.Sprintf("%d.%s", year, ext))
	return c.env.Fetch(ctx, url, local)
}

// Read ensures the partitions for the given keys are built, then loads
// and concatenates them.
func (c *Client) Read(ctx context.Context, keys []Key, opts ...pubdata.ReadOption[Row]) ([]Row, error) {
	return c.data.Read(ctx, keys, opts...)
}

// ReadPresent loads only the partitions that are already built.
func (c *Client) ReadPresent(ctx context.Context, keys []Key, opts ...pubdata.ReadOption[Row]) ([]Row, error) {
	return c.data.ReadPresent(ctx, keys, opts...)
}

// AllKeys lists every published (geo, year) pair.
func AllKeys() []Key {
	var keys []Key
	for year := FirstYear; year <= LastYear; year++ {
		for _, geo := range []Geo{GeoUS, GeoState, GeoCounty} {
			keys = append(keys, Key{Geo: geo, Year: year})
		}
	}
	return keys
}

// BuildAll builds every CBP partition, best-effort.
func (c *Client) BuildAll(ctx context.Context) error {
	return c.data.BuildAll(ctx, AllKeys())
}

// Cleanup removes the processed CBP tables. With removeDownloaded it
// also removes the raw source downloads.
func (c *Client) Cleanup(removeDownloaded bool) error {
	if err := c.env.RemoveTree(c.env.DataPath("cbp")); err != nil {
		return err
	}
	if removeDownloaded {
		if err := c.env.RemoveTree(c.env.SourcePath("cbp")); err != nil {
			return err
		}
		return c.env.RemoveTree(c.env.SourcePath("efsy"))
	}
	return nil
}
