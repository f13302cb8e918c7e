package bea

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"

	"github.com/gophersatwork/pubdata"
)

func setupTestClient(t *testing.T, handler http.Handler) (*Client, *int) {
	t.Helper()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	origBase, origNipa := sourceURLBase, nipaURLBase
	sourceURLBase = srv.URL
	nipaURLBase = srv.URL + "/national/Release/TXT"
	t.Cleanup(func() { sourceURLBase, nipaURLBase = origBase, origNipa })

	env, err := pubdata.New("/data", pubdata.WithFs(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("Failed to create env: %v", err)
	}
	return NewClient(env), &requests
}

// supplyArchive builds an AllTablesSUP zip holding one sector-level
// supply workbook with a single year sheet.
func supplyArchive(t *testing.T, year string) []byte {
	t.Helper()

	f := excelize.NewFile()
	if _, err := f.NewSheet(year); err != nil {
		t.Fatalf("Failed to create sheet: %v", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		t.Fatalf("Failed to drop default sheet: %v", err)
	}
	rows := [][]interface{}{
		{"Supply table"}, {}, {}, {}, {}, // header rows skipped by the reader
		{"", "", "11", "21"},
		{"Code", "Commodity", "Farms", "Mining"},
		{"111", "Farm products", 10.5, 2},
		{"211", "Oil and gas", "...", 30},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("Failed to build cell name: %v", err)
		}
		if err := f.SetSheetRow(year, cell, &row); err != nil {
			t.Fatalf("Failed to set row: %v", err)
		}
	}
	wb, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("Failed to serialize workbook: %v", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	member, err := zw.Create("Supply_Tables_1997-2021_SEC.xlsx")
	if err != nil {
		t.Fatalf("Failed to create zip member: %v", err)
	}
	member.Write(wb.Bytes())
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func TestSupplyUnknownKey(t *testing.T) {
	client, _ := setupTestClient(t, http.NotFoundHandler())

	if _, err := client.Supply(context.Background(), 1980, Sector); !errors.Is(err, pubdata.ErrUnknownKey) {
		t.Fatalf("Expected ErrUnknownKey for year 1980, got %v", err)
	}
	if _, err := client.Supply(context.Background(), 2005, Detail); !errors.Is(err, pubdata.ErrUnknownKey) {
		t.Fatalf("Expected ErrUnknownKey for non-benchmark detail year, got %v", err)
	}
	if _, err := client.IxI(context.Background(), 2022, Sector); !errors.Is(err, pubdata.ErrUnknownKey) {
		t.Fatalf("Expected ErrUnknownKey for requirements year 2022, got %v", err)
	}
}

func TestSupplyBuildsAndCaches(t *testing.T) {
	archive := supplyArchive(t, "2005")
	client, requests := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/AllTablesSUP.zip") {
			w.Write(archive)
			return
		}
		http.NotFound(w, r)
	}))

	m, err := client.Supply(context.Background(), 2005, Sector)
	if err != nil {
		t.Fatalf("Supply failed: %v", err)
	}

	if m.RowAxis != "commodity" || m.ColAxis != "industry" {
		t.Fatalf("Unexpected axes: %s x %s", m.RowAxis, m.ColAxis)
	}
	if !reflect.DeepEqual(m.ColCodes, []string{"11", "21"}) {
		t.Fatalf("Unexpected column codes: %v", m.ColCodes)
	}
	if !reflect.DeepEqual(m.RowCodes, []string{"111", "211"}) {
		t.Fatalf("Unexpected row codes: %v", m.RowCodes)
	}
	if m.At(0, 0) != 10.5 {
		t.Fatalf("Unexpected value at (0,0): %v", m.At(0, 0))
	}
	// "..." cells parse as missing
	if !math.IsNaN(m.At(1, 0)) {
		t.Fatalf("Expected NaN at (1,0), got %v", m.At(1, 0))
	}
	if v, ok := m.Lookup("211", "21"); !ok || v != 30 {
		t.Fatalf("Lookup(211, 21) = %v, %v", v, ok)
	}

	// second call is served from the JSON cache
	if _, err := client.Supply(context.Background(), 2005, Sector); err != nil {
		t.Fatalf("Cached Supply failed: %v", err)
	}
	if *requests != 1 {
		t.Fatalf("Expected 1 download, got %d", *requests)
	}
}

func TestParseMatrixDetailRowSwap(t *testing.T) {
	spec := tableSpec{spreadsheet: "det.xlsx", skipHead: 3, det: true, rowAxis: "industry", colAxis: "industry"}
	raw := [][]string{
		{"title"}, {}, {},
		// detail sheets put labels above codes
		{"", "", "Farms", "Mining"},
		{"", "", "111", "212"},
		{"111", "Farms", "1", "2"},
	}

	m, err := parseMatrix(spec, raw)
	if err != nil {
		t.Fatalf("parseMatrix failed: %v", err)
	}
	if !reflect.DeepEqual(m.ColCodes, []string{"111", "212"}) {
		t.Fatalf("Code row not swapped into place: %v", m.ColCodes)
	}
	if !reflect.DeepEqual(m.ColNames, []string{"Farms", "Mining"}) {
		t.Fatalf("Label row not swapped into place: %v", m.ColNames)
	}
}

func TestParseMatrixRejectsShortSheet(t *testing.T) {
	spec := tableSpec{spreadsheet: "short.xlsx", skipHead: 5}

	_, err := parseMatrix(spec, [][]string{{"a"}, {"b"}})

	var se *pubdata.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("Expected SchemaError, got %v", err)
	}
}

func TestMatrixJSONRoundTrip(t *testing.T) {
	m := &Matrix{
		RowAxis: "commodity", ColAxis: "industry",
		RowCodes: []string{"111"}, RowNames: []string{"Farms"},
		ColCodes: []string{"11"}, ColNames: []string{"Agriculture"},
		Values: [][]float64{{math.NaN()}},
	}

	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	if !bytes.Contains(data, []byte("null")) {
		t.Fatalf("NaN not encoded as null: %s", data)
	}

	var back Matrix
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	if !math.IsNaN(back.Values[0][0]) {
		t.Fatalf("null not decoded as NaN: %v", back.Values[0][0])
	}
}

func TestSplitCodes(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"1", []string{"1"}},
		{"1, 2", []string{"1", "2"}},
		{"1-3", []string{"1", "2", "3"}},
		{"1-3, 5", []string{"1", "2", "3", "5"}},
		{"1-3, 5-7", []string{"1", "2", "3", "5", "6", "7"}},
		{"5174-9", []string{"5174", "5175", "5176", "5177", "5178", "5179"}},
		{"", []string{""}},
	}
	for _, tt := range tests {
		got, err := SplitCodes(tt.in)
		if err != nil {
			t.Fatalf("SplitCodes(%q) failed: %v", tt.in, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("SplitCodes(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := SplitCodes("12-34"); err == nil {
		t.Fatal("Expected error for multi-digit range end")
	}
}

func TestParseConcord(t *testing.T) {
	raw := [][]string{
		{"notes"}, {}, {}, {},
		{"Sector", "Summary", "U.Summary", "Detail", "Description", "Notes", "Related NAICS Codes"},
		{"11", "Agriculture", "", "", "", "", ""},
		{"", "111CA", "Farms", "", "", "", ""},
		{"", "", "111-2", "Crop and animal production", "", "", ""},
		{"", "", "", "111200", "Vegetable farming", "", "1112"},
		{"", "", "", "111300", "Fruit and nut farming", "", "1113-4"},
		{}, {}, {}, {}, {}, {"footer"},
	}

	rows, err := parseConcord("use_det.xlsx", raw)
	if err != nil {
		t.Fatalf("parseConcord failed: %v", err)
	}

	// 3 header-level rows plus one code for 1112 and two for the 1113-4
	// range
	if len(rows) != 6 {
		t.Fatalf("Expected 6 rows, got %d", len(rows))
	}

	sector := rows[0]
	if sector.Sector != "11" || sector.Description != "Agriculture" || sector.Summary != "" {
		t.Fatalf("Unexpected sector row: %+v", sector)
	}

	detail := rows[3]
	if detail.Sector != "11" || detail.Summary != "111CA" || detail.USummary != "111-2" ||
		detail.Detail != "111200" || detail.Naics != "1112" {
		t.Fatalf("Hierarchy not filled in: %+v", detail)
	}

	if rows[4].Naics != "1113" || rows[5].Naics != "1114" {
		t.Fatalf("Range not expanded: %q, %q", rows[4].Naics, rows[5].Naics)
	}
}

func TestPriceIndexPivot(t *testing.T) {
	const nipaCSV = `%SeriesCode,Period,Value
DPCERG,2011,"98.5"
DPCERG,2012,"100.0"
DPCCRG,2012,"100.0"
B712RG,2012,"100.0"
A191RG,2012,"100.0"
A191RD,2012,"100.0"
A191RG,2013,"101.8"
T10101,2012,"1,234.5"
`
	client, requests := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/national/Release/TXT/NipaDataA.txt" {
			w.Write([]byte(nipaCSV))
			return
		}
		http.NotFound(w, r)
	}))

	rows, err := client.PriceIndex(context.Background())
	if err != nil {
		t.Fatalf("PriceIndex failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected 3 years, got %d", len(rows))
	}

	base := rows[1]
	if base.Year != 2012 {
		t.Fatalf("Years not sorted: %+v", rows)
	}
	// all indexes are rebased to 2012 == 100
	for _, v := range []float64{base.PCEPriceIndex, base.CorePCEPriceIndex,
		base.PurchasesPriceIdx, base.GDPPriceIndex, base.GDPPriceDeflator} {
		if v != 100 {
			t.Fatalf("Base year not 100: %+v", base)
		}
	}

	// years missing a series get NaN for it
	if rows[0].Year != 2011 || rows[0].PCEPriceIndex != 98.5 || !math.IsNaN(rows[0].GDPPriceIndex) {
		t.Fatalf("Unexpected 2011 row: %+v", rows[0])
	}

	if _, err := client.PriceIndex(context.Background()); err != nil {
		t.Fatalf("Cached PriceIndex failed: %v", err)
	}
	if *requests != 1 {
		t.Fatalf("Expected 1 download, got %d", *requests)
	}
}
