package geo

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/gophersatwork/pubdata"
)

// stateRevisionYear is the boundary revision used for state shapes.
const stateRevisionYear = 2021

// nonContiguous are Alaska, Hawaii and the territories; territories are
// the five inhabited island areas.
var (
	nonContiguous = map[string]bool{"02": true, "15": true, "60": true, "66": true, "69": true, "72": true, "78": true}
	territories   = map[string]bool{"60": true, "66": true, "69": true, "72": true, "78": true}
)

// StateRow is one state or territory with its boundary geometry.
type StateRow struct {
	Code          string `parquet:"CODE"`
	Name          string `parquet:"NAME"`
	Abbr          string `parquet:"ABBR"`
	Contiguous    bool   `parquet:"CONTIGUOUS"`
	Territory     bool   `parquet:"TERRITORY"`
	BEARegionName string `parquet:"BEA_REGION_NAME,optional"`
	BEARegionCode string `parquet:"BEA_REGION_CODE,optional"`
	ALand         int64  `parquet:"ALAND"`
	AWater        int64  `parquet:"AWATER"`
	Geometry      []byte `parquet:"geometry"`
}

// StateSource ensures the state boundary shapefile archive for a scale
// is downloaded and returns its local path.
func (c *Client) StateSource(ctx context.Context, scale Scale) (string, error) {
	var url, name string
	switch scale {
	case ScaleTiger:
		name = fmt.Sprintf("tl_%d_us_state.zip", stateRevisionYear)
		url = fmt.Sprintf("%s/geo/tiger/TIGER%d/STATE/%s", sourceURLBase, stateRevisionYear, name)
	case Scale20m, Scale5m, Scale500k:
		name = fmt.Sprintf("cb_%d_us_state_%s.zip", stateRevisionYear, scale)
		url = fmt.Sprintf("%s/geo/tiger/GENZ%d/shp/%s", sourceURLBase, stateRevisionYear, name)
	default:
		return "", fmt.Errorf("%w: state scale %q", pubdata.ErrUnknownKey, scale)
	}
	return c.env.Fetch(ctx, url, c.env.SourcePath("geo", "state", name))
}

// States returns the state boundary table at a scale, building and
// caching it on first use.
func (c *Client) States(ctx context.Context, scale Scale) ([]StateRow, error) {
	switch scale {
	case Scale20m, Scale5m, Scale500k, ScaleTiger:
	default:
		return nil, fmt.Errorf("%w: state scale %q", pubdata.ErrUnknownKey, scale)
	}
	return c.states.Get(ctx, scaleKey(scale), func(ctx context.Context, k scaleKey) ([]StateRow, error) {
		src, err := c.StateSource(ctx, scale)
		if err != nil {
			return nil, err
		}
		features, err := readShapefileZip(c.env.Fs(), src)
		if err != nil {
			return nil, err
		}
		return parseStates(src, features)
	})
}

func parseStates(source string, features []feature) ([]StateRow, error) {
	rows := make([]StateRow, 0, len(features))
	seen := make(map[string]bool)
	for _, f := range features {
		code := f.attr("STATEFP")
		if code == "" || f.attr("NAME") == "" || f.attr("STUSPS") == "" {
			return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("record %v missing state attributes", f.attrs)}
		}
		if seen[code] {
			return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("duplicate state code %s", code)}
		}
		seen[code] = true

		aland, _ := strconv.ParseInt(f.attr("ALAND"), 10, 64)
		awater, _ := strconv.ParseInt(f.attr("AWATER"), 10, 64)
		geom, err := encodeWKB(f.geometry)
		if err != nil {
			return nil, err
		}
		row := StateRow{
			Code:       code,
			Name:       f.attr("NAME"),
			Abbr:       f.attr("STUSPS"),
			Contiguous: !nonContiguous[code],
			Territory:  territories[code],
			ALand:      aland,
			AWater:     awater,
			Geometry:   geom,
		}
		if region, ok := BEARegion(code); ok {
			row.BEARegionName = region.Name
			row.BEARegionCode = region.Code
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Code < rows[j].Code })
	return rows, nil
}

// StateCodes returns the FIPS codes of all states and territories at the
// default scale, in order.
func (c *Client) StateCodes(ctx context.Context) ([]string, error) {
	states, err := c.States(ctx, Scale5m)
	if err != nil {
		return nil, err
	}
	codes := make([]string, len(states))
	for i, s := range states {
		codes[i] = s.Code
	}
	return codes, nil
}
