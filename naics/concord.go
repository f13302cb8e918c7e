package naics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// ConcordanceRow links one industry of the source vintage to one
// industry of the target vintage. FromDup and ToDup mark codes that
// appear on multiple links; Flag classifies the link.
type ConcordanceRow struct {
	FromCode    string `parquet:"FROM_CODE"`
	FromTitle   string `parquet:"FROM_TITLE"`
	ToCode      string `parquet:"TO_CODE"`
	ToTitle     string `parquet:"TO_TITLE"`
	Explanation string `parquet:"EXPLANATION,optional"`
	FromDup     bool   `parquet:"FROM_DUP"`
	ToDup       bool   `parquet:"TO_DUP"`
	Flag        string `parquet:"FLAG"`
}

// Link flags, from simplest to messiest revision pattern.
const (
	FlagSameCode   = "1-to-1 same" // unchanged code
	FlagRecode     = "1-to-1 diff" // renumbered, same boundary
	FlagJoin       = "join"        // several old industries merged
	FlagCleanSplit = "clean split" // split into newly created industries
	FlagMessySplit = "messy split" // split with parts merged elsewhere
)

type concordKey struct {
	FromYear int
	ToYear   int
}

func (k concordKey) Parts() []string {
	return []string{strconv.Itoa(k.FromYear), strconv.Itoa(k.ToYear)}
}

var concordURLs = map[concordKey]string{
	{1997, 2002}: srcURLBase + "concordances/1997_NAICS_to_2002_NAICS.xls",
	{2002, 1997}: srcURLBase + "concordances/2002_NAICS_to_1997_NAICS.xls",
	{2002, 2007}: srcURLBase + "concordances/2002_to_2007_NAICS.xls",
	{2007, 2002}: srcURLBase + "concordances/2007_to_2002_NAICS.xls",
	{2007, 2012}: srcURLBase + "concordances/2007_to_2012_NAICS.xls",
	{2012, 2007}: srcURLBase + "concordances/2012_to_2007_NAICS.xls",
	{2012, 2017}: srcURLBase + "concordances/2012_to_2017_NAICS.xlsx",
	{2017, 2012}: srcURLBase + "concordances/2017_to_2012_NAICS.xlsx",
	{2017, 2022}: srcURLBase + "concordances/2017_to_2022_NAICS.xlsx",
	{2022, 2017}: srcURLBase + "concordances/2022_to_2017_NAICS.xlsx",
}

// ConcordanceSource ensures the concordance workbook from fromYear to
// toYear is downloaded and returns its local path.
func (c *Client) ConcordanceSource(ctx context.Context, fromYear, toYear int) (string, error) {
	rawURL, ok := concordURLs[concordKey{fromYear, toYear}]
	if !ok {
		return "", fmt.Errorf("%w: naics concordance %d to %d", pubdata.ErrUnknownKey, fromYear, toYear)
	}
	local, err := sourcePath(c.env, fromYear, rawURL)
	if err != nil {
		return "", err
	}
	return c.env.Fetch(ctx, rawURL, local)
}

// Concordance returns the flagged concordance table from fromYear to
// toYear, sorted by source then target code.
func (c *Client) Concordance(ctx context.Context, fromYear, toYear int) ([]ConcordanceRow, error) {
	key := concordKey{fromYear, toYear}
	return c.concordances.Get(ctx, key, func(ctx context.Context, key concordKey) ([]ConcordanceRow, error) {
		src, err := c.ConcordanceSource(ctx, fromYear, toYear)
		if err != nil {
			return nil, err
		}
		wb, err := tabular.OpenWorkbook(c.env.Fs(), src)
		if err != nil {
			return nil, err
		}

		var rc tabular.Recipe
		if fromYear == 1997 || toYear == 1997 {
			// The 1997 workbooks carry the table on the second sheet with
			// an explanation column and a footnote at the bottom.
			rc = tabular.Recipe{
				SheetIndex: 1,
				Header:     true,
				SkipFoot:   1,
				Columns:    []string{"FROM_CODE", "FROM_TITLE", "TO_CODE", "TO_TITLE", "EXPLANATION"},
			}
		} else {
			rc = tabular.Recipe{
				SkipHead: 3,
				Columns:  []string{"FROM_CODE", "FROM_TITLE", "TO_CODE", "TO_TITLE"},
				Keep:     []int{0, 1, 2, 3},
			}
		}
		table, err := rc.Load(wb)
		if err != nil {
			return nil, err
		}

		rows := make([]ConcordanceRow, 0, len(table.Rows))
		for i := range table.Rows {
			fromCode := strings.TrimSpace(table.Cell(i, "FROM_CODE"))
			toCode := strings.TrimSpace(table.Cell(i, "TO_CODE"))
			if fromCode == "" && toCode == "" {
				continue
			}
			rows = append(rows, ConcordanceRow{
				FromCode:    fromCode,
				FromTitle:   strings.TrimSpace(table.Cell(i, "FROM_TITLE")),
				ToCode:      toCode,
				ToTitle:     strings.TrimSpace(table.Cell(i, "TO_TITLE")),
				Explanation: strings.TrimSpace(table.Cell(i, "EXPLANATION")),
			})
		}

		flagLinks(rows)
		sort.Slice(rows, func(a, b int) bool {
			if rows[a].FromCode != rows[b].FromCode {
				return rows[a].FromCode < rows[b].FromCode
			}
			return rows[a].ToCode < rows[b].ToCode
		})
		return rows, nil
	})
}

// flagLinks classifies every concordance link in place.
//
// A link is a split when its source code appears on several links. The
// split is clean when none of those targets is shared with another
// source, messy otherwise. A link whose target is shared but whose
// source is unique is a join. The remaining links are 1-to-1, same or
// renumbered.
func flagLinks(rows []ConcordanceRow) {
	fromCount := make(map[string]int)
	toCount := make(map[string]int)
	for _, r := range rows {
		fromCount[r.FromCode]++
		toCount[r.ToCode]++
	}

	// A source code splits messily if any of its targets is duplicated.
	messy := make(map[string]bool)
	for _, r := range rows {
		if fromCount[r.FromCode] > 1 && toCount[r.ToCode] > 1 {
			messy[r.FromCode] = true
		}
	}

	for i := range rows {
		r := &rows[i]
		r.FromDup = fromCount[r.FromCode] > 1
		r.ToDup = toCount[r.ToCode] > 1

		switch {
		case r.FromDup && messy[r.FromCode]:
			r.Flag = FlagMessySplit
		case r.FromDup:
			r.Flag = FlagCleanSplit
		case r.ToDup:
			r.Flag = FlagJoin
		case r.FromCode == r.ToCode:
			r.Flag = FlagSameCode
		default:
			r.Flag = FlagRecode
		}
	}
}
