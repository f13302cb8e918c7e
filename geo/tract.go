package geo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/gophersatwork/pubdata"
)

// TractYears are the census years with tract boundary revisions.
var TractYears = []int{1990, 2000, 2010, 2020}

// TractRow is one census tract with its boundary geometry. Year and
// state code are encoded in the partition path and restored on read.
type TractRow struct {
	Code       string `parquet:"CODE"`
	Name       string `parquet:"NAME"`
	CountyCode string `parquet:"COUNTY_CODE"`
	TractCode  string `parquet:"TRACT_CODE"`
	Geometry   []byte `parquet:"geometry"`

	Year      int    `parquet:"-"`
	StateCode string `parquet:"-"`
}

type tractKey struct {
	Year      int
	StateCode string
}

func (k tractKey) Parts() []string {
	return []string{strconv.Itoa(k.Year), k.StateCode}
}

func assignTractKey(key tractKey, row *TractRow) {
	row.Year = key.Year
	row.StateCode = key.StateCode
}

func tractSourceURL(year int, stateCode string) (string, error) {
	base := sourceURLBase + "/geo/tiger/"
	switch year {
	case 1990:
		return fmt.Sprintf("%sPREVGENZ/tr/tr90shp/tr%s_d90_shp.zip", base, stateCode), nil
	case 2000:
		return fmt.Sprintf("%sPREVGENZ/tr/tr00shp/tr%s_d00_shp.zip", base, stateCode), nil
	case 2010:
		return fmt.Sprintf("%sGENZ2010/gz_2010_%s_140_00_500k.zip", base, stateCode), nil
	case 2020:
		return fmt.Sprintf("%sGENZ2020/shp/cb_2020_%s_tract_500k.zip", base, stateCode), nil
	}
	return "", fmt.Errorf("%w: tract shapes %d", pubdata.ErrUnknownKey, year)
}

// TractSource ensures the tract boundary archive for one year and state
// is downloaded and returns its local path.
func (c *Client) TractSource(ctx context.Context, year int, stateCode string) (string, error) {
	url, err := tractSourceURL(year, stateCode)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s.zip", stateCode)
	return c.env.Fetch(ctx, url, c.env.SourcePath("geo", "tract", strconv.Itoa(year), name))
}

func (c *Client) buildTractPartition(ctx context.Context, key tractKey) ([]TractRow, error) {
	src, err := c.TractSource(ctx, key.Year, key.StateCode)
	if err != nil {
		return nil, err
	}
	features, err := readShapefileZip(c.env.Fs(), src)
	if err != nil {
		return nil, err
	}
	return parseTracts(src, key.Year, key.StateCode, features)
}

// tractKeys expands year and state lists into the partition key cross
// product. Nil years default to every revision; nil states must be
// resolved by the caller.
func tractKeys(years []int, stateCodes []string) []tractKey {
	if years == nil {
		years = TractYears
	}
	keys := make([]tractKey, 0, len(years)*len(stateCodes))
	for _, year := range years {
		for _, sc := range stateCodes {
			keys = append(keys, tractKey{Year: year, StateCode: sc})
		}
	}
	return keys
}

// Tracts returns tract boundary rows for the requested years and
// states, building missing partitions. Nil years selects every revision
// year; nil stateCodes selects every state.
func (c *Client) Tracts(ctx context.Context, years []int, stateCodes []string, opts ...pubdata.ReadOption[TractRow]) ([]TractRow, error) {
	for _, year := range years {
		if _, err := tractSourceURL(year, "00"); err != nil {
			return nil, err
		}
	}
	if stateCodes == nil {
		var err error
		stateCodes, err = c.StateCodes(ctx)
		if err != nil {
			return nil, err
		}
	}
	return c.tracts.Read(ctx, tractKeys(years, stateCodes), opts...)
}

// TractsPresent returns tract rows from already built partitions only.
func (c *Client) TractsPresent(ctx context.Context, years []int, stateCodes []string, opts ...pubdata.ReadOption[TractRow]) ([]TractRow, error) {
	if stateCodes == nil {
		var err error
		stateCodes, err = c.StateCodes(ctx)
		if err != nil {
			return nil, err
		}
	}
	return c.tracts.ReadPresent(ctx, tractKeys(years, stateCodes), opts...)
}

func parseTracts(source string, year int, stateCode string, features []feature) ([]TractRow, error) {
	order := make([]string, 0, len(features))
	byCode := make(map[string]*TractRow)
	geoms := make(map[string][]orb.Geometry)

	for _, f := range features {
		var countyCode, tractCode string
		switch year {
		case 1990:
			// a few 1990 records carry no tract code at all
			if f.attr("TRACTBASE") == "" {
				continue
			}
			countyCode = f.attr("CO")
			suffix := f.attr("TRACTSUF")
			if suffix == "" {
				suffix = "00"
			}
			tractCode = f.attr("TRACTBASE") + suffix
		case 2000:
			countyCode = f.attr("COUNTY")
			tractCode = f.attr("TRACT")
			for len(tractCode) < 6 {
				tractCode += "0"
			}
		case 2010:
			countyCode = f.attr("COUNTY")
			tractCode = f.attr("TRACT")
		case 2020:
			countyCode = f.attr("COUNTYFP")
			tractCode = f.attr("TRACTCE")
		}

		code := stateCode + countyCode + tractCode
		if len(code) != 11 {
			return nil, &pubdata.SchemaError{
				Source: source,
				Detail: fmt.Sprintf("tract code %q has wrong length", code),
			}
		}

		if _, ok := byCode[code]; ok {
			if year != 1990 && year != 2000 {
				return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("duplicate tract code %s", code)}
			}
			geoms[code] = append(geoms[code], f.geometry)
			continue
		}

		name, err := tractName(tractCode)
		if err != nil {
			return nil, &pubdata.SchemaError{Source: source, Detail: err.Error()}
		}
		byCode[code] = &TractRow{
			Code:       code,
			Name:       name,
			CountyCode: countyCode,
			TractCode:  tractCode,
		}
		geoms[code] = []orb.Geometry{f.geometry}
		order = append(order, code)
	}

	rows := make([]TractRow, 0, len(order))
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

// tractName renders the human-readable tract number: the 6-digit code
// without leading zeros and with a decimal point before the last two
// digits, e.g. "000101" becomes "1.01".
func tractName(tractCode string) (string, error) {
	n, err := strconv.Atoi(tractCode)
	if err != nil {
		return "", fmt.Errorf("tract code %q is not numeric: %v", tractCode, err)
	}
	s := strconv.Itoa(n)
	if len(s) < 2 {
		s = "0" + s
	}
	return s[:len(s)-2] + "." + s[len(s)-2:], nil
}
