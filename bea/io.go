package bea

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/naics"
	"github.com/gophersatwork/pubdata/tabular"
)

// Level selects the industry detail of an input-output table.
type Level string

const (
	Sector  Level = "sec"
	Summary Level = "sum"
	Detail  Level = "det"
)

// sourceURLBase is a variable so tests can point downloads at a local
// server.
var sourceURLBase = "https://apps.bea.gov"

// archives maps a release vintage to its AllTablesSUP download. The 2022
// historical release carries 1997-2021 and the detail-level 2007 and
// 2012 benchmarks; the 2023 release adds 2017-2022 and the 2017
// benchmark.
var archives = map[int]struct {
	urlPath  string
	fileName string
}{
	2022: {
		urlPath:  "/histdata/Releases/Industry/2022/GDP_by_Industry/Q2/Annual_September-29-2022/AllTablesSUP.zip",
		fileName: "AllTablesSUP_2022q2.zip",
	},
	2023: {
		urlPath:  "/industry/iTables%20Static%20Files/AllTablesSUP.zip",
		fileName: "AllTablesSUP_2023.zip",
	},
}

// Client provides the BEA industry-accounts accessors over a shared
// environment.
type Client struct {
	env      *pubdata.Env
	naics    *naics.Client
	matrices *pubdata.Store[matrixKey, *Matrix]
	concord  *pubdata.Store[pubdata.Year, []ConcordanceRow]
	nipa     *pubdata.Store[pubdata.Fixed, []PriceIndexRow]
}

// NewClient creates a BEA client.
func NewClient(env *pubdata.Env) *Client {
	return &Client{
		env:      env,
		naics:    naics.NewClient(env),
		matrices: pubdata.NewStore[matrixKey](env, "bea-io", "bea/io/{}/{}/{}.json", pubdata.JSONCodec[*Matrix]()),
		concord:  pubdata.NewStore[pubdata.Year](env, "bea-concord", "bea/naics_concord/{}.parquet", pubdata.ParquetCodec[ConcordanceRow]()),
		nipa:     pubdata.NewStore[pubdata.Fixed](env, "bea-nipa", "bea/nipa/price_index.parquet", pubdata.ParquetCodec[PriceIndexRow]()),
	}
}

type matrixKey struct {
	Table string
	Level Level
	Year  int
}

func (k matrixKey) Parts() []string {
	return []string{k.Table, string(k.Level), strconv.Itoa(k.Year)}
}

// Source ensures an AllTablesSUP archive is downloaded and returns its
// local path. Release is 2022 or 2023.
func (c *Client) Source(ctx context.Context, release int) (string, error) {
	a, ok := archives[release]
	if !ok {
		return "", fmt.Errorf("%w: bea release %d", pubdata.ErrUnknownKey, release)
	}
	return c.env.Fetch(ctx, sourceURLBase+a.urlPath, c.env.SourcePath("bea", a.fileName))
}

// tableSpec locates one table variant inside an archive spreadsheet.
type tableSpec struct {
	release     int
	spreadsheet string
	skipHead    int
	skipFoot    int
	det         bool
	rowAxis     string
	colAxis     string
}

func yearIn(year, first, last int, benchmarks ...int) bool {
	if len(benchmarks) > 0 {
		for _, b := range benchmarks {
			if year == b {
				return true
			}
		}
		return false
	}
	return year >= first && year <= last
}

func supplySpec(year int, level Level) (tableSpec, error) {
	spec := tableSpec{rowAxis: "commodity", colAxis: "industry"}
	switch {
	case level == Sector && yearIn(year, 1997, 2016):
		spec.release, spec.spreadsheet = 2022, "Supply_Tables_1997-2021_SEC.xlsx"
		spec.skipHead = 5
	case level == Summary && yearIn(year, 1997, 2016):
		spec.release, spec.spreadsheet = 2022, "Supply_Tables_1997-2021_SUM.xlsx"
		spec.skipHead = 5
	case level == Sector && yearIn(year, 2017, 2022):
		spec.release, spec.spreadsheet = 2023, "Supply_Tables_2017-2022_Sector.xlsx"
		spec.skipHead = 5
	case level == Summary && yearIn(year, 2017, 2022):
		spec.release, spec.spreadsheet = 2023, "Supply_Tables_2017-2022_Summary.xlsx"
		spec.skipHead = 5
	case level == Detail && yearIn(year, 0, 0, 2007, 2012):
		spec.release, spec.spreadsheet = 2022, "Supply_2007_2012_DET.xlsx"
		spec.skipHead, spec.skipFoot, spec.det = 4, 2, true
	case level == Detail && year == 2017:
		spec.release, spec.spreadsheet = 2023, "Supply_2017_DET.xlsx"
		spec.skipHead, spec.skipFoot, spec.det = 4, 2, true
	default:
		return tableSpec{}, fmt.Errorf("%w: supply table %s/%d", pubdata.ErrUnknownKey, level, year)
	}
	return spec, nil
}

func useSpec(year int, level Level) (tableSpec, error) {
	spec := tableSpec{rowAxis: "commodity", colAxis: "industry"}
	switch {
	case level == Sector && yearIn(year, 1997, 2016):
		spec.release, spec.spreadsheet = 2022, "Use_SUT_Framework_1997-2021_SECT.xlsx"
		spec.skipHead = 5
	case level == Summary && yearIn(year, 1997, 2016):
		spec.release, spec.spreadsheet = 2022, "Use_SUT_Framework_1997-2021_SUM.xlsx"
		spec.skipHead = 5
	case level == Sector && yearIn(year, 2017, 2022):
		spec.release, spec.spreadsheet = 2023, "Use_Tables_Supply-Use_Framework_2017-2022_Sector.xlsx"
		spec.skipHead = 5
	case level == Summary && yearIn(year, 2017, 2022):
		spec.release, spec.spreadsheet = 2023, "Use_Tables_Supply-Use_Framework_2017-2022_Summary.xlsx"
		spec.skipHead = 5
	case level == Detail && yearIn(year, 0, 0, 2007, 2012):
		spec.release, spec.spreadsheet = 2022, "Use_SUT_Framework_2007_2012_DET.xlsx"
		spec.skipHead, spec.skipFoot, spec.det = 4, 2, true
	case level == Detail && year == 2017:
		spec.release, spec.spreadsheet = 2023, "Use_SUT_Framework_2017_DET.xlsx"
		spec.skipHead, spec.skipFoot, spec.det = 4, 2, true
	default:
		return tableSpec{}, fmt.Errorf("%w: use table %s/%d", pubdata.ErrUnknownKey, level, year)
	}
	return spec, nil
}

// requirementsSpec covers the three total-requirements tables, which all
// live in the 2022 archive and share layout.
func requirementsSpec(table string, year int, level Level, rowAxis, colAxis string) (tableSpec, error) {
	spec := tableSpec{release: 2022, rowAxis: rowAxis, colAxis: colAxis}
	switch {
	case level == Sector && yearIn(year, 1997, 2021):
		spec.spreadsheet = fmt.Sprintf("%s_TR_1997-2021_PRO_SEC.xlsx", table)
		spec.skipHead, spec.skipFoot = 5, 2
	case level == Summary && yearIn(year, 1997, 2021):
		spec.spreadsheet = fmt.Sprintf("%s_TR_1997-2021_PRO_SUM.xlsx", table)
		spec.skipHead, spec.skipFoot = 5, 2
	case level == Detail && yearIn(year, 0, 0, 2007, 2012):
		spec.spreadsheet = fmt.Sprintf("%s_TR_2007_2012_PRO_DET.xlsx", table)
		spec.skipHead, spec.det = 3, true
	default:
		return tableSpec{}, fmt.Errorf("%w: %s requirements table %s/%d", pubdata.ErrUnknownKey, table, level, year)
	}
	return spec, nil
}

// Supply returns the supply table of the supply-use framework.
// Years 1997-2022 at sector and summary level; 2007, 2012 or 2017 at
// detail level.
func (c *Client) Supply(ctx context.Context, year int, level Level) (*Matrix, error) {
	spec, err := supplySpec(year, level)
	if err != nil {
		return nil, err
	}
	return c.matrix(ctx, matrixKey{"supply", level, year}, spec)
}

// Use returns the use table of the supply-use framework.
// Years 1997-2022 at sector and summary level; 2007, 2012 or 2017 at
// detail level.
func (c *Client) Use(ctx context.Context, year int, level Level) (*Matrix, error) {
	spec, err := useSpec(year, level)
	if err != nil {
		return nil, err
	}
	return c.matrix(ctx, matrixKey{"use", level, year}, spec)
}

// IxI returns the industry-by-industry total requirements table.
// Years 1997-2021 at sector and summary level; 2007 or 2012 at detail
// level.
func (c *Client) IxI(ctx context.Context, year int, level Level) (*Matrix, error) {
	spec, err := requirementsSpec("IxI", year, level, "industry", "industry")
	if err != nil {
		return nil, err
	}
	return c.matrix(ctx, matrixKey{"ixi", level, year}, spec)
}

// IxC returns the industry-by-commodity total requirements table.
// Years 1997-2021 at sector and summary level; 2007 or 2012 at detail
// level.
func (c *Client) IxC(ctx context.Context, year int, level Level) (*Matrix, error) {
	spec, err := requirementsSpec("IxC", year, level, "industry", "commodity")
	if err != nil {
		return nil, err
	}
	return c.matrix(ctx, matrixKey{"ixc", level, year}, spec)
}

// CxC returns the commodity-by-commodity total requirements table.
// Years 1997-2021 at sector and summary level; 2007 or 2012 at detail
// level.
func (c *Client) CxC(ctx context.Context, year int, level Level) (*Matrix, error) {
	spec, err := requirementsSpec("CxC", year, level, "commodity", "commodity")
	if err != nil {
		return nil, err
	}
	return c.matrix(ctx, matrixKey{"cxc", level, year}, spec)
}

func (c *Client) matrix(ctx context.Context, key matrixKey, spec tableSpec) (*Matrix, error) {
	return c.matrices.Get(ctx, key, func(ctx context.Context, k matrixKey) (*Matrix, error) {
		src, err := c.Source(ctx, spec.release)
		if err != nil {
			return nil, err
		}
		data, err := tabular.ZipMember(c.env.Fs(), src, spec.spreadsheet)
		if err != nil {
			return nil, err
		}
		wb, err := tabular.OpenWorkbookBytes(data, spec.spreadsheet)
		if err != nil {
			return nil, err
		}
		rows, err := wb.Rows(strconv.Itoa(k.Year))
		if err != nil {
			return nil, &pubdata.SchemaError{Source: spec.spreadsheet, Detail: err.Error()}
		}
		return parseMatrix(spec, rows)
	})
}

// parseMatrix turns a raw sheet into a Matrix. After trimming header and
// footer rows, the first two rows hold column codes and labels and the
// first two cells of every later row hold the row code and label. Detail
// sheets publish labels above codes, so those two rows are swapped to
// match the sector and summary layout.
func parseMatrix(spec tableSpec, raw [][]string) (*Matrix, error) {
	if len(raw) < spec.skipHead+spec.skipFoot+3 {
		return nil, &pubdata.SchemaError{
			Source: spec.spreadsheet,
			Detail: fmt.Sprintf("sheet has %d rows, expected at least %d", len(raw), spec.skipHead+spec.skipFoot+3),
		}
	}
	rows := raw[spec.skipHead : len(raw)-spec.skipFoot]

	if spec.det {
		// detail sheets publish labels above codes
		rows[0], rows[1] = rows[1], rows[0]
	}

	cell := func(row []string, j int) string {
		if j < len(row) {
			return row[j]
		}
		return ""
	}

	width := len(rows[0])
	if width < 3 {
		return nil, &pubdata.SchemaError{Source: spec.spreadsheet, Detail: "header row has no data columns"}
	}

	m := &Matrix{
		RowAxis:  spec.rowAxis,
		ColAxis:  spec.colAxis,
		ColCodes: make([]string, width-2),
		ColNames: make([]string, width-2),
	}
	for j := 2; j < width; j++ {
		m.ColCodes[j-2] = cell(rows[0], j)
		m.ColNames[j-2] = cell(rows[1], j)
	}

	for _, row := range rows[2:] {
		m.RowCodes = append(m.RowCodes, cell(row, 0))
		m.RowNames = append(m.RowNames, cell(row, 1))
		values := make([]float64, width-2)
		for j := 2; j < width; j++ {
			s := cell(row, j)
			if s == "" || s == "..." {
				values[j-2] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, &pubdata.SchemaError{
					Source: spec.spreadsheet,
					Detail: fmt.Sprintf("cell %q is not numeric: %v", s, err),
				}
			}
			values[j-2] = v
		}
		m.Values = append(m.Values, values)
	}
	return m, nil
}

// BuildAll builds every published table variant plus the NAICS
// concordances and the NIPA price index, best-effort.
func (c *Client) BuildAll(ctx context.Context) error {
	var failed []pubdata.KeyError
	record := func(name string, err error) {
		if err != nil {
			log := c.env.Logger()
			log.Error().Str("dataset", "bea").Str("key", name).Err(err).Msg("build failed")
			failed = append(failed, pubdata.KeyError{Key: name, Err: err})
		}
	}

	type matrixFn func(context.Context, int, Level) (*Matrix, error)
	tables := []struct {
		name string
		fn   matrixFn
	}{
		{"supply", c.Supply}, {"use", c.Use},
		{"ixi", c.IxI}, {"ixc", c.IxC}, {"cxc", c.CxC},
	}
	for _, t := range tables {
		for year := 1997; year <= 2022; year++ {
			for _, level := range []Level{Sector, Summary, Detail} {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				_, err := t.fn(ctx, year, level)
				if errors.Is(err, pubdata.ErrUnknownKey) {
					continue
				}
				record(fmt.Sprintf("%s/%s/%d", t.name, level, year), err)
			}
		}
	}

	for _, year := range []int{2012, 2017} {
		_, err := c.NAICSConcord(ctx, year)
		record(fmt.Sprintf("naics_concord/%d", year), err)
	}
	_, err := c.PriceIndex(ctx)
	record("nipa/price_index", err)

	return pubdata.NewBuildError(failed)
}

// Cleanup removes the processed BEA tables. With removeDownloaded it
// also removes the raw source archives.
func (c *Client) Cleanup(removeDownloaded bool) error {
	if err := c.env.RemoveTree(c.env.DataPath("bea")); err != nil {
		return err
	}
	if removeDownloaded {
		return c.env.RemoveTree(c.env.SourcePath("bea"))
	}
	return nil
}
