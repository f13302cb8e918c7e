package ers

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

func TestParseRUCVintage1974StopsAtBlank(t *testing.T) {
	v := rucVintages[0]
	table := tabular.Table{
		Columns: []string{"FIPS Code", "State", "County Name", "1974 Rural-urban Continuum Code"},
		Rows: [][]string{
			{"01001", "AL", "Autauga", "6"},
			{"01003", "AL", "Baldwin", "5"},
			// documentation text follows the data in the 1974 sheet
			{"", "", "", ""},
			{"Code definitions:", "", "", ""},
		},
	}

	rows, err := parseRUCVintage(v, table)
	if err != nil {
		t.Fatalf("parseRUCVintage failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].RUCYear != 1974 || rows[0].RUCCode != "6" {
		t.Fatalf("Unexpected row: %+v", rows[0])
	}
	if !math.IsNaN(rows[0].Population) || rows[0].PopulationYear != 0 {
		t.Fatalf("Expected no population for 1974: %+v", rows[0])
	}
}

func TestParseRUCVintage2003(t *testing.T) {
	var v rucVintage
	for _, cand := range rucVintages {
		if cand.year == 2003 && cand.commuters != "" {
			v = cand
		}
	}
	table := tabular.Table{
		Columns: []string{
			"FIPS Code", "State", "County Name", "2003 Rural-urban Continuum Code",
			"Description for 2003 codes", "2000 Population",
			"Percent of workers in nonmetro counties commuting to central counties of adjacent metro areas",
		},
		Rows: [][]string{
			{"01001", "AL", "Autauga", "2", "Metro county", "43,671", "0.21"},
		},
	}

	rows, err := parseRUCVintage(v, table)
	if err != nil {
		t.Fatalf("parseRUCVintage failed: %v", err)
	}
	row := rows[0]
	if row.Population != 43671 || row.PopulationYear != 2000 {
		t.Fatalf("Population not parsed: %+v", row)
	}
	if row.PercentNonmetroCommuters != 0.21 || row.RUCCodeDescription != "Metro county" {
		t.Fatalf("Unexpected row: %+v", row)
	}

	// out-of-range codes are schema errors
	table.Rows[0][3] = "12"
	_, err = parseRUCVintage(v, table)
	var se *pubdata.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("Expected SchemaError, got %v", err)
	}
}

func TestParseRUCVintageMissingColumn(t *testing.T) {
	table := tabular.Table{
		Columns: []string{"FIPS", "State"},
		Rows:    [][]string{{"01001", "AL"}},
	}

	_, err := parseRUCVintage(rucVintages[1], table)

	var se *pubdata.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("Expected SchemaError, got %v", err)
	}
}

func TestValidUICode(t *testing.T) {
	for _, code := range []string{"1", "9", "10", "12"} {
		if !validUICode(code) {
			t.Fatalf("Code %s should be valid", code)
		}
	}
	for _, code := range []string{"0", "13", "", "x"} {
		if validUICode(code) {
			t.Fatalf("Code %s should be invalid", code)
		}
	}
}

func TestParseUIVintage(t *testing.T) {
	v := uiVintages[0]
	table := tabular.Table{
		Columns: []string{
			"FIPS Code", "State", "County name", "1993 Urban Influence Code",
			"1993 Urban Influence Code description", "2000 Population", "2000 Persons per square mile",
		},
		Rows: [][]string{
			{"01001", "AL", "Autauga", "2", "Adjacent to large metro", "43,671", "73.5"},
			{"", "", "", "", "", "", ""},
		},
	}

	rows, err := parseUIVintage(v, table)
	if err != nil {
		t.Fatalf("parseUIVintage failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Blank row not skipped: %d rows", len(rows))
	}
	if rows[0].UIYear != 1993 || rows[0].PopulationDensity != 73.5 {
		t.Fatalf("Unexpected row: %+v", rows[0])
	}
}

func TestNormalizeRUCACode(t *testing.T) {
	tests := map[string]string{
		"4.0":  "4",
		"10.0": "10",
		"4.1":  "4.1",
		"99":   "99",
	}
	for in, want := range tests {
		if got := normalizeRUCACode(in); got != want {
			t.Fatalf("normalizeRUCACode(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestParseRUCAVintage1990(t *testing.T) {
	v := rucaVintages[0]
	table := tabular.Table{
		Columns: []string{
			"FIPS state-county-tract code", "Rural-urban commuting area code",
			"Census tract population, 1990", "Census tract land area, square miles, 1990",
			"County metropolitan status, 1993 (1=metro,0=nonmetro)",
		},
		Rows: [][]string{
			{"01001.020100", "1.0", "1921", "5.3", "1"},
			// garbage numerics in the published files parse to NaN
			{"01001.020200", "6", "6 23.063", "2.1", "1"},
		},
	}

	rows, err := parseRUCAVintage(v, table)
	if err != nil {
		t.Fatalf("parseRUCAVintage failed: %v", err)
	}

	if rows[0].FIPS != "01001020100" {
		t.Fatalf("FIPS dot not stripped: %+v", rows[0])
	}
	if rows[0].RUCACode != "1" || rows[0].Metro != "1" {
		t.Fatalf("Unexpected row: %+v", rows[0])
	}
	if !math.IsNaN(rows[1].Population) || rows[1].Area != 2.1 {
		t.Fatalf("Garbage numeric not coerced: %+v", rows[1])
	}

	// unknown code is a schema error
	table.Rows[0][1] = "11"
	_, err = parseRUCAVintage(v, table)
	var se *pubdata.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("Expected SchemaError, got %v", err)
	}
}

func TestDocSection(t *testing.T) {
	doc := docSection("RUC 2013 documentation", "/webdocs/x.xls",
		[][2]string{{"FIPS", "FIPS Code"}}, [][]string{{"Code", "Meaning"}})

	for _, want := range []string{"RUC 2013 documentation", "Data source:", "FIPS\tFIPS Code", "Code\tMeaning"} {
		if !strings.Contains(doc, want) {
			t.Fatalf("Doc section missing %q:\n%s", want, doc)
		}
	}
}
