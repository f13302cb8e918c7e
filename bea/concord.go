package bea

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// ConcordanceRow links one BEA industry code to one NAICS code. The four
// code columns form a hierarchy; exactly one is the row's own level and
// the higher levels are filled in from context. NAICS is empty for BEA
// industries with no NAICS counterpart, "23*" for construction (which
// maps to the whole sector) and "n.a." for special rows.
type ConcordanceRow struct {
	Sector      string `parquet:"sector"`
	Summary     string `parquet:"summary,optional"`
	USummary    string `parquet:"u_summary,optional"`
	Detail      string `parquet:"detail,optional"`
	Description string `parquet:"description"`
	Naics       string `parquet:"naics,optional"`
}

// concordSheets maps a NAICS vintage to the detail-level use workbook
// carrying the "NAICS Codes" sheet.
var concordSheets = map[int]struct {
	release     int
	spreadsheet string
}{
	2012: {2022, "Use_SUT_Framework_2007_2012_DET.xlsx"},
	2017: {2023, "Use_SUT_Framework_2017_DET.xlsx"},
}

const (
	concordSkipHead = 4
	concordSkipFoot = 6
)

// NAICSConcord returns the BEA-NAICS concordance for a NAICS vintage,
// 2012 or 2017, building and caching it on first use.
func (c *Client) NAICSConcord(ctx context.Context, year int) ([]ConcordanceRow, error) {
	sheet, ok := concordSheets[year]
	if !ok {
		return nil, fmt.Errorf("%w: bea concordance vintage %d", pubdata.ErrUnknownKey, year)
	}
	return c.concord.Get(ctx, pubdata.Year(year), func(ctx context.Context, k pubdata.Year) ([]ConcordanceRow, error) {
		src, err := c.Source(ctx, sheet.release)
		if err != nil {
			return nil, err
		}
		data, err := tabular.ZipMember(c.env.Fs(), src, sheet.spreadsheet)
		if err != nil {
			return nil, err
		}
		wb, err := tabular.OpenWorkbookBytes(data, sheet.spreadsheet)
		if err != nil {
			return nil, err
		}
		raw, err := wb.Rows("NAICS Codes")
		if err != nil {
			return nil, &pubdata.SchemaError{Source: sheet.spreadsheet, Detail: err.Error()}
		}

		rows, err := parseConcord(sheet.spreadsheet, raw)
		if err != nil {
			return nil, err
		}

		// drop codes fabricated by range expansion that do not exist in
		// the NAICS vintage
		codes, err := c.naics.Codes(ctx, year)
		if err != nil {
			return nil, err
		}
		feasible := map[string]bool{"23*": true, "n.a.": true}
		for _, cr := range codes {
			feasible[cr.Code] = true
		}
		kept := rows[:0]
		for _, r := range rows {
			if r.Naics == "" || feasible[r.Naics] {
				kept = append(kept, r)
			}
		}
		return kept, nil
	})
}

// parseConcord turns the raw "NAICS Codes" sheet into concordance rows:
// one row per BEA code and NAICS code pair, with the hierarchy columns
// filled in and NAICS ranges expanded.
func parseConcord(source string, raw [][]string) ([]ConcordanceRow, error) {
	if len(raw) <= concordSkipHead+concordSkipFoot {
		return nil, &pubdata.SchemaError{Source: source, Detail: "sheet too short"}
	}
	// header row follows the skipped notes, data follows the header
	body := raw[concordSkipHead+1 : len(raw)-concordSkipFoot]

	cell := func(row []string, j int) string {
		if j < len(row) {
			return strings.TrimSpace(row[j])
		}
		return ""
	}

	var rows []ConcordanceRow
	var sector, summary, uSummary string
	for _, row := range body {
		// columns: sector, summary, u_summary, detail, description,
		// notes (dropped), naics
		r := ConcordanceRow{
			Sector:      cell(row, 0),
			Summary:     cell(row, 1),
			USummary:    cell(row, 2),
			Detail:      cell(row, 3),
			Description: cell(row, 4),
			Naics:       cell(row, 6),
		}
		if r.Sector == "" && r.Summary == "" && r.USummary == "" && r.Detail == "" &&
			r.Description == "" && r.Naics == "" {
			continue
		}

		// the description of non-detail rows sits in the code column of
		// the next level down
		if r.Description == "" {
			for _, alt := range []string{r.Detail, r.USummary, r.Summary} {
				if alt != "" {
					r.Description = alt
					break
				}
			}
		}
		if r.Sector != "" {
			r.Summary = ""
		}
		if r.Summary != "" {
			r.USummary = ""
		}
		if r.USummary != "" {
			r.Detail = ""
		}

		set := 0
		for _, code := range []string{r.Sector, r.Summary, r.USummary, r.Detail} {
			if code != "" {
				set++
			}
		}
		if set != 1 {
			return nil, &pubdata.SchemaError{
				Source: source,
				Detail: fmt.Sprintf("row %v has code in %d columns, expected 1", row, set),
			}
		}
		if r.Description == "" {
			return nil, &pubdata.SchemaError{Source: source, Detail: fmt.Sprintf("row %v has no description", row)}
		}

		// fill higher levels from context, resetting deeper carries on a
		// new branch
		switch {
		case r.Sector != "":
			sector, summary, uSummary = r.Sector, "", ""
		case r.Summary != "":
			summary, uSummary = r.Summary, ""
			r.Sector = sector
		case r.USummary != "":
			uSummary = r.USummary
			r.Sector, r.Summary = sector, summary
		default:
			r.Sector, r.Summary, r.USummary = sector, summary, uSummary
		}

		codes, err := SplitCodes(r.Naics)
		if err != nil {
			return nil, &pubdata.SchemaError{Source: source, Detail: err.Error()}
		}
		for _, code := range codes {
			expanded := r
			expanded.Naics = code
			rows = append(rows, expanded)
		}
	}
	return rows, nil
}

// SplitCodes expands a NAICS cell of the concordance sheet into
// individual codes. Cells hold comma-separated codes where a trailing
// dash range abbreviates the last digit: "5174-9" expands to 5174
// through 5179, and "1-3, 5-7" to 1 2 3 5 6 7. An empty cell yields one
// empty code so the row survives expansion.
func SplitCodes(s string) ([]string, error) {
	if s == "" {
		return []string{""}, nil
	}
	var codes []string
	for _, part := range strings.Split(s, ", ") {
		first, last, ok := strings.Cut(part, "-")
		if !ok {
			codes = append(codes, part)
			continue
		}
		if len(last) != 1 || len(first) < 1 {
			return nil, fmt.Errorf("malformed code range %q", part)
		}
		lo, err := strconv.Atoi(first)
		if err != nil {
			return nil, fmt.Errorf("malformed code range %q: %v", part, err)
		}
		hi, err := strconv.Atoi(first[:len(first)-1] + last)
		if err != nil {
			return nil, fmt.Errorf("malformed code range %q: %v", part, err)
		}
		for c := lo; c <= hi; c++ {
			codes = append(codes, strconv.Itoa(c))
		}
	}
	return codes, nil
}
