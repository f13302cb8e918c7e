package naics

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// CodeRow is one entry of a NAICS code list. Code2 through Code6 hold
// the enclosing codes at each level, filled down the hierarchy, so any
// industry can be rolled up without walking the table.
type CodeRow struct {
	Code   string `parquet:"CODE"`
	Title  string `parquet:"TITLE"`
	Digits int    `parquet:"DIGITS"`
	Code2  string `parquet:"CODE_2"`
	Code3  string `parquet:"CODE_3,optional"`
	Code4  string `parquet:"CODE_4,optional"`
	Code5  string `parquet:"CODE_5,optional"`
	Code6  string `parquet:"CODE_6,optional"`
}

// IndexRow is one entry of a NAICS index file, mapping an activity
// description to its 6-digit industry.
type IndexRow struct {
	Code      string `parquet:"CODE"`
	IndexItem string `parquet:"INDEX_ITEM"`
}

// DescriptionRow is one entry of a NAICS descriptions file.
type DescriptionRow struct {
	Code        string `parquet:"CODE"`
	Title       string `parquet:"TITLE"`
	Description string `parquet:"DESCRIPTION"`
}

// SummaryRow counts classes at every level within one sector. The last
// row of a summary table carries totals with an empty sector code.
type SummaryRow struct {
	Sector     string `parquet:"SECTOR"`
	Name       string `parquet:"NAME"`
	Subsectors int    `parquet:"SUBSECTORS_3"`
	Groups     int    `parquet:"INDUSTRY_GROUPS_4"`
	Industries int    `parquet:"INDUSTRIES_5"`
	USDetail   int    `parquet:"DETAIL_6_US"`
	SameAs5    int    `parquet:"DETAIL_6_SAME_AS_5"`
	Total      int    `parquet:"DETAIL_6_TOTAL"`
}

// sectorRanges are the combined sectors whose codes are dash ranges
// rather than plain digits.
var sectorRanges = map[string]string{"31": "31-33", "44": "44-45", "48": "48-49"}

func isSectorRange(code string) bool {
	return code == "31-33" || code == "44-45" || code == "48-49"
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Codes returns the tidy code list for a vintage, building and caching
// it on first use.
func (c *Client) Codes(ctx context.Context, year int) ([]CodeRow, error) {
	return c.codes.Get(ctx, pubdata.Year(year), func(ctx context.Context, key pubdata.Year) ([]CodeRow, error) {
		src, err := c.Source(ctx, year, KindCode)
		if err != nil {
			return nil, err
		}
		return parseCodes(c.env.Fs(), src, year)
	})
}

func parseCodes(fs afero.Fs, src string, year int) ([]CodeRow, error) {
	var table tabular.Table
	var err error

	switch {
	case year == 1997 || year == 2002:
		skip := 2
		if year == 2002 {
			skip = 5
		}
		table, err = readCodesFWF(fs, src, []string{"CODE", "TITLE"}, []int{8, -1}, skip)
	case year == 2007:
		table, err = readCodesFWF(fs, src, []string{"SEQ_NO", "CODE", "TITLE"}, []int{8, 8, -1}, 2)
	default:
		// 2012 and later vintages are workbooks with the code in the
		// second column and two junk rows on top.
		var wb tabular.Workbook
		wb, err = tabular.OpenWorkbook(fs, src)
		if err != nil {
			return nil, err
		}
		rc := tabular.Recipe{SkipHead: 2, Columns: []string{"CODE", "TITLE"}, Keep: []int{1, 2}}
		table, err = rc.Load(wb)
	}
	if err != nil {
		return nil, err
	}

	rows := make([]CodeRow, 0, len(table.Rows))
	for i := range table.Rows {
		code := strings.TrimSpace(table.Cell(i, "CODE"))
		title := strings.TrimSpace(table.Cell(i, "TITLE"))
		if code == "" {
			continue
		}
		if year == 2007 {
			title = strings.Trim(title, `"`)
		}
		if year == 1997 {
			code = strings.Trim(code, "-/")
			if r, ok := sectorRanges[code]; ok {
				code = r
			}
			// 99 is the unclassified-establishments bucket, not a sector.
			if code == "99" {
				continue
			}
		}
		if !isSectorRange(code) && !isDigits(code) {
			return nil, &pubdata.SchemaError{
				Source: src,
				Detail: fmt.Sprintf("unexpected industry code %q", code),
			}
		}
		digits := len(code)
		if isSectorRange(code) {
			digits = 2
		}
		if digits < 2 || digits > 6 {
			return nil, &pubdata.SchemaError{
				Source: src,
				Detail: fmt.Sprintf("code %q has %d digits", code, digits),
			}
		}
		rows = append(rows, CodeRow{Code: code, Title: title, Digits: digits})
	}

	fillHierarchy(rows)
	return rows, nil
}

func readCodesFWF(fs afero.Fs, src string, names []string, widths []int, skip int) (tabular.Table, error) {
	data, err := afero.ReadFile(fs, src)
	if err != nil {
		return tabular.Table{}, fmt.Errorf("failed to read %s: %w", src, err)
	}
	cols, err := tabular.FWFWidths(names, widths)
	if err != nil {
		return tabular.Table{}, err
	}
	return tabular.ReadFWF(bytes.NewReader(data), cols, skip)
}

// fillHierarchy fills Code2 through Code6 down the ordered code list.
// Entering a new branch at any level clears the deeper levels, so a
// 4-digit code never inherits the 5-digit parent of a sibling branch.
func fillHierarchy(rows []CodeRow) {
	var code2, code3, code4, code5 string
	for i := range rows {
		switch rows[i].Digits {
		case 2:
			code2, code3, code4, code5 = rows[i].Code, "", "", ""
		case 3:
			code3, code4, code5 = rows[i].Code, "", ""
		case 4:
			code4, code5 = rows[i].Code, ""
		case 5:
			code5 = rows[i].Code
		case 6:
			rows[i].Code6 = rows[i].Code
		}
		rows[i].Code2 = code2
		rows[i].Code3 = code3
		rows[i].Code4 = code4
		rows[i].Code5 = code5
	}
}

// Index returns the index file for a vintage: activity descriptions
// mapped to 6-digit industries.
func (c *Client) Index(ctx context.Context, year int) ([]IndexRow, error) {
	return c.index.Get(ctx, pubdata.Year(year), func(ctx context.Context, key pubdata.Year) ([]IndexRow, error) {
		src, err := c.Source(ctx, year, KindIndex)
		if err != nil {
			return nil, err
		}
		wb, err := tabular.OpenWorkbook(c.env.Fs(), src)
		if err != nil {
			return nil, err
		}
		rc := tabular.Recipe{Header: true, Columns: []string{"CODE", "INDEX_ITEM"}}
		table, err := rc.Load(wb)
		if err != nil {
			return nil, err
		}

		rows := make([]IndexRow, 0, len(table.Rows))
		for i := range table.Rows {
			code := strings.TrimSpace(table.Cell(i, "CODE"))
			// The bottom of the file carries ****** comment entries.
			if code == "" || code == "******" {
				continue
			}
			if !isDigits(code) || len(code) != 6 {
				return nil, &pubdata.SchemaError{
					Source: src,
					Detail: fmt.Sprintf("index code %q is not a 6-digit industry", code),
				}
			}
			rows = append(rows, IndexRow{Code: code, IndexItem: table.Cell(i, "INDEX_ITEM")})
		}
		return rows, nil
	})
}

// Descriptions returns the long-form industry descriptions for a vintage.
func (c *Client) Descriptions(ctx context.Context, year int) ([]DescriptionRow, error) {
	return c.descriptions.Get(ctx, pubdata.Year(year), func(ctx context.Context, key pubdata.Year) ([]DescriptionRow, error) {
		src, err := c.Source(ctx, year, KindDescriptions)
		if err != nil {
			return nil, err
		}
		wb, err := tabular.OpenWorkbook(c.env.Fs(), src)
		if err != nil {
			return nil, err
		}
		rc := tabular.Recipe{Header: true, Columns: []string{"CODE", "TITLE", "DESCRIPTION"}}
		table, err := rc.Load(wb)
		if err != nil {
			return nil, err
		}

		rows := make([]DescriptionRow, 0, len(table.Rows))
		for i := range table.Rows {
			code := strings.TrimSpace(table.Cell(i, "CODE"))
			if code == "" {
				continue
			}
			if !isSectorRange(code) && !isDigits(code) {
				return nil, &pubdata.SchemaError{
					Source: src,
					Detail: fmt.Sprintf("unexpected industry code %q", code),
				}
			}
			rows = append(rows, DescriptionRow{
				Code:        code,
				Title:       table.Cell(i, "TITLE"),
				Description: table.Cell(i, "DESCRIPTION"),
			})
		}
		return rows, nil
	})
}

// Summary returns the published structure summary table for a vintage.
func (c *Client) Summary(ctx context.Context, year int) ([]SummaryRow, error) {
	return c.summary.Get(ctx, pubdata.Year(year), func(ctx context.Context, key pubdata.Year) ([]SummaryRow, error) {
		src, err := c.Source(ctx, year, KindSummary)
		if err != nil {
			return nil, err
		}
		wb, err := tabular.OpenWorkbook(c.env.Fs(), src)
		if err != nil {
			return nil, err
		}
		// The published table has a two-row header.
		rc := tabular.Recipe{SkipHead: 2, Columns: []string{
			"SECTOR", "NAME", "SUBSECTORS_3", "INDUSTRY_GROUPS_4",
			"INDUSTRIES_5", "DETAIL_6_US", "DETAIL_6_SAME_AS_5", "DETAIL_6_TOTAL",
		}}
		table, err := rc.Load(wb)
		if err != nil {
			return nil, err
		}
		return summaryRows(src, table)
	})
}

func summaryRows(src string, table tabular.Table) ([]SummaryRow, error) {
	rows := make([]SummaryRow, 0, len(table.Rows))
	for i := range table.Rows {
		name := strings.TrimSpace(table.Cell(i, "NAME"))
		if name == "" {
			continue
		}
		row := SummaryRow{
			Sector: strings.TrimSpace(table.Cell(i, "SECTOR")),
			Name:   name,
		}
		counts := []struct {
			col  string
			dest *int
		}{
			{"SUBSECTORS_3", &row.Subsectors},
			{"INDUSTRY_GROUPS_4", &row.Groups},
			{"INDUSTRIES_5", &row.Industries},
			{"DETAIL_6_US", &row.USDetail},
			{"DETAIL_6_SAME_AS_5", &row.SameAs5},
			{"DETAIL_6_TOTAL", &row.Total},
		}
		for _, c := range counts {
			v, err := tabular.Int(table.Cell(i, c.col))
			if err != nil {
				return nil, &pubdata.SchemaError{
					Source: src,
					Detail: fmt.Sprintf("non-integer count in %s: %v", c.col, err),
				}
			}
			*c.dest = v
		}
		if row.USDetail+row.SameAs5 != row.Total {
			return nil, &pubdata.SchemaError{
				Source: src,
				Detail: fmt.Sprintf("sector %s: 6-digit detail %d+%d != total %d",
					row.Sector, row.USDetail, row.SameAs5, row.Total),
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ComputeStructureSummary derives the per-sector class counts from a
// vintage's code list, with a grand total row at the end. It reproduces
// the published structure summary and serves vintages for which none
// was published.
func (c *Client) ComputeStructureSummary(ctx context.Context, year int) ([]SummaryRow, error) {
	codes, err := c.Codes(ctx, year)
	if err != nil {
		return nil, err
	}
	return structureSummary(codes), nil
}

func structureSummary(codes []CodeRow) []SummaryRow {
	type counts struct {
		name                  string
		c3, c4, c5, c6, same5 map[string]bool
	}
	sectors := make(map[string]*counts)
	var order []string

	for _, row := range codes {
		sc, ok := sectors[row.Code2]
		if !ok {
			sc = &counts{
				c3: map[string]bool{}, c4: map[string]bool{},
				c5: map[string]bool{}, c6: map[string]bool{}, same5: map[string]bool{},
			}
			sectors[row.Code2] = sc
			order = append(order, row.Code2)
		}
		if row.Digits == 2 {
			sc.name = row.Title
		}
		if row.Code3 != "" {
			sc.c3[row.Code3] = true
		}
		if row.Code4 != "" {
			sc.c4[row.Code4] = true
		}
		if row.Code5 != "" {
			sc.c5[row.Code5] = true
		}
		if row.Code6 != "" {
			sc.c6[row.Code6] = true
			if strings.HasSuffix(row.Code6, "0") {
				sc.same5[row.Code6] = true
			}
		}
	}
	sort.Strings(order)

	var out []SummaryRow
	total := SummaryRow{Name: "Total"}
	for _, sector := range order {
		sc := sectors[sector]
		row := SummaryRow{
			Sector:     sector,
			Name:       sc.name,
			Subsectors: len(sc.c3),
			Groups:     len(sc.c4),
			Industries: len(sc.c5),
			USDetail:   len(sc.c6) - len(sc.same5),
			SameAs5:    len(sc.same5),
			Total:      len(sc.c6),
		}
		total.Subsectors += row.Subsectors
		total.Groups += row.Groups
		total.Industries += row.Industries
		total.USDetail += row.USDetail
		total.SameAs5 += row.SameAs5
		total.Total += row.Total
		out = append(out, row)
	}
	return append(out, total)
}
