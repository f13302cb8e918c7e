// Package geo provides cached accessors for Census cartographic boundary
// files: state, county, tract and CBSA shapes from zipped shapefiles,
// plus CBSA delineation tables. Geometries are stored as WKB columns in
// parquet.
package geo

import (
	"context"
	"fmt"
	"sort"

	"github.com/gophersatwork/pubdata"
)

// Scale selects a cartographic boundary resolution. ScaleTiger is the
// full-resolution TIGER/Line file, available for states only.
type Scale string

const (
	Scale20m   Scale = "20m"
	Scale5m    Scale = "5m"
	Scale500k  Scale = "500k"
	ScaleTiger Scale = "tiger"
)

// sourceURLBase is a variable so tests can point downloads at a local
// server.
var sourceURLBase = "https://www2.census.gov"

// Region is one BEA economic region and its member states.
type Region struct {
	Name       string
	Code       string
	StateCodes []string
}

// BEARegions lists the eight BEA economic regions.
var BEARegions = []Region{
	{"New England", "91", []string{"09", "23", "25", "33", "44", "50"}},
	{"Mideast", "92", []string{"10", "11", "24", "34", "36", "42"}},
	{"Great Lakes", "93", []string{"17", "18", "26", "39", "55"}},
	{"Plains", "94", []string{"19", "20", "27", "29", "31", "38", "46"}},
	{"Southeast", "95", []string{"01", "05", "12", "13", "21", "22", "28", "37", "45", "47", "51", "54"}},
	{"Southwest", "96", []string{"04", "35", "40", "48"}},
	{"Rocky Mountain", "97", []string{"08", "16", "30", "49", "56"}},
	{"Far West", "98", []string{"02", "06", "15", "32", "41", "53"}},
}

// BEARegion returns the BEA region containing a state. Territories
// belong to no region.
func BEARegion(stateCode string) (Region, bool) {
	for _, r := range BEARegions {
		for _, sc := range r.StateCodes {
			if sc == stateCode {
				return r, true
			}
		}
	}
	return Region{}, false
}

type scaleKey Scale

func (k scaleKey) Parts() []string { return []string{string(k)} }

type yearScaleKey struct {
	Year  int
	Scale Scale
}

func (k yearScaleKey) Parts() []string {
	return []string{fmt.Sprintf("%d", k.Year), string(k.Scale)}
}

// Client provides the geography accessors over a shared environment.
type Client struct {
	env          *pubdata.Env
	states       *pubdata.Store[scaleKey, []StateRow]
	counties     *pubdata.Store[yearScaleKey, []CountyRow]
	cbsaShapes   *pubdata.Store[yearScaleKey, []CBSAShapeRow]
	delineations *pubdata.Store[pubdata.Year, []DelineationRow]
	msa1993      *pubdata.Store[pubdata.Fixed, []MSADelineationRow]
	tracts       *pubdata.Dataset[tractKey, TractRow]
}

// NewClient creates a geography client.
func NewClient(env *pubdata.Env) *Client {
	c := &Client{
		env:          env,
		states:       pubdata.NewStore[scaleKey](env, "geo-state", "geo/state/{}.parquet", pubdata.ParquetCodec[StateRow]()),
		counties:     pubdata.NewStore[yearScaleKey](env, "geo-county", "geo/county/{}/{}.parquet", pubdata.ParquetCodec[CountyRow]()),
		cbsaShapes:   pubdata.NewStore[yearScaleKey](env, "geo-cbsa", "geo/cbsa/shape/{}/{}.parquet", pubdata.ParquetCodec[CBSAShapeRow]()),
		delineations: pubdata.NewStore[pubdata.Year](env, "geo-cbsa-delin", "geo/cbsa/delin/{}.parquet", pubdata.ParquetCodec[DelineationRow]()),
		msa1993:      pubdata.NewStore[pubdata.Fixed](env, "geo-msa-1993", "geo/cbsa/msa1993.parquet", pubdata.ParquetCodec[MSADelineationRow]()),
	}
	c.tracts = pubdata.NewDataset(env, "geo/tract", "YEAR={}/STATE_CODE={}/part.parquet",
		c.buildTractPartition, assignTractKey)
	return c
}

// BuildAll builds the default state, county and CBSA tables plus every
// delineation vintage, best-effort. Tract partitions are built on demand
// through Tracts; there are too many to build eagerly.
func (c *Client) BuildAll(ctx context.Context) error {
	var failed []pubdata.KeyError
	record := func(name string, err error) {
		if err != nil {
			log := c.env.Logger()
			log.Error().Str("dataset", "geo").Str("key", name).Err(err).Msg("build failed")
			failed = append(failed, pubdata.KeyError{Key: name, Err: err})
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.States(ctx, Scale5m)
	record("state/5m", err)
	_, err = c.Counties(ctx, 2020, Scale20m)
	record("county/2020/20m", err)
	_, err = c.CBSAShapes(ctx, 2021, Scale20m)
	record("cbsa/shape/2021/20m", err)

	years := make([]int, 0, len(delineationVintages))
	for year := range delineationVintages {
		years = append(years, year)
	}
	sort.Ints(years)
	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err = c.Delineation(ctx, year)
		record(fmt.Sprintf("cbsa/delin/%d", year), err)
	}
	_, err = c.MSADelineation1993(ctx)
	record("cbsa/msa1993", err)

	return pubdata.NewBuildError(failed)
}

// Cleanup removes the processed geography tables. With removeDownloaded
// it also removes the raw shapefile archives.
func (c *Client) Cleanup(removeDownloaded bool) error {
	if err := c.env.RemoveTree(c.env.DataPath("geo")); err != nil {
		return err
	}
	if removeDownloaded {
		return c.env.RemoveTree(c.env.SourcePath("geo"))
	}
	return nil
}
