package geo

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/spf13/afero"

	"github.com/gophersatwork/pubdata/tabular"
)

// feature is one shapefile record: its attribute table row and decoded
// geometry.
type feature struct {
	attrs    map[string]string
	geometry orb.Geometry
}

func (f feature) attr(name string) string {
	return f.attrs[name]
}

// readShapefileZip reads every record of the first shapefile inside a
// zip archive. The .shp and .dbf members are streamed out of the archive
// without extracting to disk.
func readShapefileZip(fs afero.Fs, archivePath string) ([]feature, error) {
	members, err := tabular.ZipMembers(fs, archivePath)
	if err != nil {
		return nil, err
	}
	var shpName, dbfName string
	for _, m := range members {
		switch strings.ToLower(m[strings.LastIndexByte(m, '.')+1:]) {
		case "shp":
			if shpName == "" {
				shpName = m
			}
		case "dbf":
			if dbfName == "" {
				dbfName = m
			}
		}
	}
	if shpName == "" || dbfName == "" {
		return nil, fmt.Errorf("no shapefile in %s", archivePath)
	}

	shpData, err := tabular.ZipMember(fs, archivePath, shpName)
	if err != nil {
		return nil, err
	}
	dbfData, err := tabular.ZipMember(fs, archivePath, dbfName)
	if err != nil {
		return nil, err
	}

	sr := shp.SequentialReaderFromExt(
		io.NopCloser(bytes.NewReader(shpData)),
		io.NopCloser(bytes.NewReader(dbfData)))
	defer sr.Close()

	fields := sr.Fields()
	names := make([]string, len(fields))
	for i := range fields {
		names[i] = fields[i].String()
	}

	var features []feature
	for sr.Next() {
		_, shape := sr.Shape()
		geom, err := shapeGeometry(shape)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", shpName, err)
		}
		attrs := make(map[string]string, len(names))
		for i, name := range names {
			attrs[name] = strings.TrimSpace(sr.Attribute(i))
		}
		features = append(features, feature{attrs: attrs, geometry: geom})
	}
	if err := sr.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", shpName, err)
	}
	return features, nil
}

// shapeGeometry converts a shapefile record geometry to the orb model.
// Polygon rings are grouped by winding order: clockwise rings open a new
// polygon, counter-clockwise rings are holes in the preceding one.
func shapeGeometry(s shp.Shape) (orb.Geometry, error) {
	switch v := s.(type) {
	case *shp.Point:
		return orb.Point{v.X, v.Y}, nil
	case *shp.Polygon:
		return polygonGeometry(v.Parts, v.Points), nil
	case *shp.PolyLine:
		return lineGeometry(v.Parts, v.Points), nil
	case *shp.Null:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported shape type %T", s)
	}
}

func ringPoints(parts []int32, points []shp.Point, i int) []shp.Point {
	start := int(parts[i])
	end := len(points)
	if i+1 < len(parts) {
		end = int(parts[i+1])
	}
	return points[start:end]
}

func polygonGeometry(parts []int32, points []shp.Point) orb.Geometry {
	var polys orb.MultiPolygon
	for i := range parts {
		ring := make(orb.Ring, 0, len(ringPoints(parts, points, i)))
		for _, p := range ringPoints(parts, points, i) {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		if ring.Orientation() == orb.CW || len(polys) == 0 {
			polys = append(polys, orb.Polygon{ring})
		} else {
			polys[len(polys)-1] = append(polys[len(polys)-1], ring)
		}
	}
	if len(polys) == 1 {
		return polys[0]
	}
	return polys
}

func lineGeometry(parts []int32, points []shp.Point) orb.Geometry {
	var lines orb.MultiLineString
	for i := range parts {
		line := make(orb.LineString, 0, len(ringPoints(parts, points, i)))
		for _, p := range ringPoints(parts, points, i) {
			line = append(line, orb.Point{p.X, p.Y})
		}
		lines = append(lines, line)
	}
	if len(lines) == 1 {
		return lines[0]
	}
	return lines
}

// encodeWKB serializes a geometry for storage in a parquet column.
func encodeWKB(g orb.Geometry) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry: %w", err)
	}
	return data, nil
}

// mergeGeometries combines the geometries of multiple records of the
// same unit into one multi-polygon. Pre-2010 shapefiles carry one record
// per disjoint part of non-contiguous counties and tracts.
func mergeGeometries(geoms []orb.Geometry) orb.Geometry {
	if len(geoms) == 1 {
		return geoms[0]
	}
	var merged orb.MultiPolygon
	for _, g := range geoms {
		switch v := g.(type) {
		case orb.Polygon:
			merged = append(merged, v)
		case orb.MultiPolygon:
			merged = append(merged, v...)
		}
	}
	return merged
}
