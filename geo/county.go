package geo

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/gophersatwork/pubdata"
)

// CountyRow is one county with its boundary geometry.
type CountyRow struct {
	Code       string `parquet:"CODE"`
	Name       string `parquet:"NAME"`
	StateCode  string `parquet:"STATE_CODE"`
	CountyCode string `parquet:"COUNTY_CODE"`
	Geometry   []byte `parquet:"geometry"`
}

// countySourceURL resolves the download URL of a county boundary
// archive. 1990 and 2000 exist only at the 20m generalization.
func countySourceURL(year int, scale Scale) (string, error) {
	base := sourceURLBase + "/geo/tiger/"
	switch {
	case year == 1990 && scale == Scale20m:
		return base + "PREVGENZ/co/co90shp/co99_d90_shp.zip", nil
	case year == 2000 && scale == Scale20m:
		return base + "PREVGENZ/co/co00shp/co99_d00_shp.zip", nil
	case year == 2010:
		return fmt.Sprintf("%sGENZ2010/gz_2010_us_050_00_%s.zip", base, scale), nil
	case year == 2013:
		return fmt.Sprintf("%sGENZ2013/cb_2013_us_county_%s.zip", base, scale), nil
	case year >= 2014 && year <= 2020:
		return fmt.Sprintf("%sGENZ%d/shp/cb_%d_us_county_%s.zip", base, year, year, scale), nil
	}
	return "", fmt.Errorf("%w: county shapes %d/%s", pubdata.ErrUnknownKey, year, scale)
}

// CountySource ensures the county boundary archive is downloaded and
// returns its local path.
func (c *Client) CountySource(ctx context.Context, year int, scale Scale) (string, error) {
	url, err := countySourceURL(year, scale)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%d_%s.zip", year, scale)
	return c.env.Fetch(ctx, url, c.env.SourcePath("geo", "county", name))
}

// Counties returns the county boundary table for a revision year and
// scale, building and caching it on first use.
func (c *Client) Counties(ctx context.Context, year int, scale Scale) ([]CountyRow, error) {
	if _, err := countySourceURL(year, scale); err != nil {
		return nil, err
	}
	key := yearScaleKey{Year: year, Scale: scale}
	return c.counties.Get(ctx, key, func(ctx context.Context, k yearScaleKey) ([]CountyRow, error) {
		src, err := c.CountySource(ctx, year, scale)
		if err != nil {
			return nil, err
		}
		features, err := readShapefileZip(c.env.Fs(), src)
		if err != nil {
			return nil, err
		}
		return parseCounties(src, year, features)
	})
}

// countyAttrNames returns the state and county FIPS attribute names of a
// county shapefile vintage.
func countyAttrNames(year int) (state, county string) {
	switch {
	case year == 1990:
		return "ST", "CO"
	case year == 2000 || year == 2010:
		return "STATE", "COUNTY"
	default:
		return "STATEFP", "COUNTYFP"
	}
}

func parseCounties(source string, year int, features []feature) ([]CountyRow, error) {
	stateAttr, countyAttr := countyAttrNames(year)

	// pre-2010 files carry one record per disjoint part of
	// non-contiguous counties
	order := make([]string, 0, len(features))
	byCode := make(map[string]*CountyRow)
	geoms := make(map[string][]orb.Geometry)
	for _, f := range features {
		stateCode, countyCode := f.attr(stateAttr), f.attr(countyAttr)
		if stateCode == "" || countyCode == "" {
			return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("record %v missing county code", f.attrs)}
		}
		code := stateCode + countyCode
		if _, ok := byCode[code]; ok {
			if year != 1990 && year != 2000 {
				return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("duplicate county code %s", code)}
			}
			geoms[code] = append(geoms[code], f.geometry)
			continue
		}
		byCode[code] = &CountyRow{
			Code:       code,
			Name:       f.attr("NAME"),
			StateCode:  stateCode,
			CountyCode: countyCode,
		}
		geoms[code] = []orb.Geometry{f.geometry}
		order = append(order, code)
	}

	rows := make([]CountyRow, 0, len(order))
	for _, code := range order {
		row := byCode[code]
		geom, err := encodeWKB(mergeGeometries(geoms[code]))
		if err != nil {
			return nil, err
		}
		row.Geometry = geom
		rows = append(rows, *row)
	}
	return rows, nil
}
