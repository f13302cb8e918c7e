// Package naics provides cached accessors for the North American
// Industry Classification System reference tables published by the
// Census Bureau: code lists, index files, descriptions, structure
// summaries and year-to-year concordances.
package naics

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"

	"github.com/gophersatwork/pubdata"
)

// Kind selects which NAICS reference table a vintage provides.
type Kind int

const (
	KindCode Kind = iota
	KindIndex
	KindDescriptions
	KindSummary
)

func (k Kind) String() string {
	switch k {
	case KindCode:
		return "code"
	case KindIndex:
		return "index"
	case KindDescriptions:
		return "descriptions"
	case KindSummary:
		return "summary"
	}
	return "unknown"
}

const srcURLBase = "https://www.census.gov/naics/"

type srcKey struct {
	Year int
	Kind Kind
}

// Not every (year, kind) pair was published; absent pairs fail with
// ErrUnknownKey before any network activity.
var srcURLs = map[srcKey]string{
	{1997, KindCode}:         "https://www2.census.gov/programs-surveys/cbp/technical-documentation/reference/naics-descriptions/naics.txt",
	{2002, KindCode}:         srcURLBase + "reference_files_tools/2002/naics_2_6_02.txt",
	{2007, KindCode}:         srcURLBase + "reference_files_tools/2007/naics07.txt",
	{2012, KindCode}:         srcURLBase + "2012NAICS/2-digit_2012_Codes.xls",
	{2017, KindCode}:         srcURLBase + "2017NAICS/2-6%20digit_2017_Codes.xlsx",
	{2022, KindCode}:         srcURLBase + "2022NAICS/2-6%20digit_2022_Codes.xlsx",
	{2007, KindIndex}:        srcURLBase + "2007NAICS/2007_NAICS_Index_File.xls",
	{2012, KindIndex}:        srcURLBase + "2012NAICS/2012_NAICS_Index_File.xls",
	{2017, KindIndex}:        srcURLBase + "2017NAICS/2017_NAICS_Index_File.xlsx",
	{2022, KindIndex}:        srcURLBase + "2022NAICS/2022_NAICS_Index_File.xlsx",
	{2017, KindDescriptions}: srcURLBase + "2017NAICS/2017_NAICS_Descriptions.xlsx",
	{2022, KindDescriptions}: srcURLBase + "2022NAICS/2022_NAICS_Descriptions.xlsx",
	{2017, KindSummary}:      srcURLBase + "2017NAICS/2017_NAICS_Structure_Summary_Table.xlsx",
	{2022, KindSummary}:      srcURLBase + "2022NAICS/2022_NAICS_Structure_Summary_Table.xlsx",
}

// Years lists the vintages for which a given kind was published.
func Years(kind Kind) []int {
	var years []int
	for _, y := range []int{1997, 2002, 2007, 2012, 2017, 2022} {
		if _, ok := srcURLs[srcKey{y, kind}]; ok {
			years = append(years, y)
		}
	}
	return years
}

// Client provides the NAICS accessors over a shared environment.
type Client struct {
	env *pubdata.Env

	codes        *pubdata.Store[pubdata.Year, []CodeRow]
	index        *pubdata.Store[pubdata.Year, []IndexRow]
	descriptions *pubdata.Store[pubdata.Year, []DescriptionRow]
	summary      *pubdata.Store[pubdata.Year, []SummaryRow]
	concordances *pubdata.Store[concordKey, []ConcordanceRow]
}

// NewClient creates a NAICS client.
func NewClient(env *pubdata.Env) *Client {
	return &Client{
		env:          env,
		codes:        pubdata.NewStore[pubdata.Year](env, "naics-code", "naics/{}/code.parquet", pubdata.ParquetCodec[CodeRow]()),
		index:        pubdata.NewStore[pubdata.Year](env, "naics-index", "naics/{}/index.parquet", pubdata.ParquetCodec[IndexRow]()),
		descriptions: pubdata.NewStore[pubdata.Year](env, "naics-descriptions", "naics/{}/descriptions.parquet", pubdata.ParquetCodec[DescriptionRow]()),
		summary:      pubdata.NewStore[pubdata.Year](env, "naics-summary", "naics/{}/summary.parquet", pubdata.ParquetCodec[SummaryRow]()),
		concordances: pubdata.NewStore[concordKey](env, "naics-concordance", "naics/concordance/{}_to_{}.parquet", pubdata.ParquetCodec[ConcordanceRow]()),
	}
}

// Source ensures the raw source file for (year, kind) is downloaded and
// returns its local path.
func (c *Client) Source(ctx context.Context, year int, kind Kind) (string, error) {
	rawURL, ok := srcURLs[srcKey{year, kind}]
	if !ok {
		return "", fmt.Errorf("%w: naics %s %d", pubdata.ErrUnknownKey, kind, year)
	}
	local, err := sourcePath(c.env, year, rawURL)
	if err != nil {
		return "", err
	}
	return c.env.Fetch(ctx, rawURL, local)
}

// sourcePath derives the local download path from the URL's file name.
func sourcePath(env *pubdata.Env, year int, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid source URL %q: %w", rawURL, err)
	}
	name, err := url.PathUnescape(path.Base(u.Path))
	if err != nil {
		return "", fmt.Errorf("invalid source URL %q: %w", rawURL, err)
	}
	return env.SourcePath("naics", strconv.Itoa(year), name), nil
}

// BuildAll builds every published table and concordance, best-effort.
func (c *Client) BuildAll(ctx context.Context) error {
	var failed []pubdata.KeyError

	record := func(name string, err error) {
		if err != nil {
			log := c.env.Logger()
			log.Error().Str("dataset", "naics").Str("key", name).Err(err).Msg("build failed")
			failed = append(failed, pubdata.KeyError{Key: name, Err: err})
		}
	}

	for _, year := range Years(KindCode) {
		_, err := c.Codes(ctx, year)
		record(fmt.Sprintf("code/%d", year), err)
	}
	for _, year := range Years(KindIndex) {
		_, err := c.Index(ctx, year)
		record(fmt.Sprintf("index/%d", year), err)
	}
	for _, year := range Years(KindDescriptions) {
		_, err := c.Descriptions(ctx, year)
		record(fmt.Sprintf("descriptions/%d", year), err)
	}
	for _, year := range Years(KindSummary) {
		_, err := c.Summary(ctx, year)
		record(fmt.Sprintf("summary/%d", year), err)
	}
	for key := range concordURLs {
		_, err := c.Concordance(ctx, key.FromYear, key.ToYear)
		record(fmt.Sprintf("concordance/%d_to_%d", key.FromYear, key.ToYear), err)
	}

	return pubdata.NewBuildError(failed)
}

// Cleanup removes the processed NAICS tables. With removeDownloaded it
// also removes the raw source downloads.
func (c *Client) Cleanup(removeDownloaded bool) error {
	if err := c.env.RemoveTree(c.env.DataPath("naics")); err != nil {
		return err
	}
	if removeDownloaded {
		return c.env.RemoveTree(c.env.SourcePath("naics"))
	}
	return nil
}
