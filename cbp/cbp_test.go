package cbp

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

func setupTestClient(t *testing.T) *Client {
	t.Helper()

	env, err := pubdata.New("/data", pubdata.WithFs(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("Failed to create env: %v", err)
	}
	return NewClient(env)
}

func TestSourceUnknownKey(t *testing.T) {
	client := setupTestClient(t)

	_, err := client.Source(context.Background(), GeoCounty, 1980)
	if !errors.Is(err, pubdata.ErrUnknownKey) {
		t.Fatalf("Expected ErrUnknownKey for year before coverage, got %v", err)
	}
	_, err = client.Source(context.Background(), GeoCounty, 2030)
	if !errors.Is(err, pubdata.ErrUnknownKey) {
		t.Fatalf("Expected ErrUnknownKey for future year, got %v", err)
	}
}

func TestNormalizeIndustry(t *testing.T) {
	cases := []struct {
		code   string
		year   int
		want   string
		digits int
	}{
		{"------", 2019, "-", 0},
		{"31----", 2019, "31", 2},
		{"311///", 2019, "311", 3},
		{"3111//", 2019, "3111", 4},
		{"31111/", 2019, "31111", 5},
		{"311111", 2019, "311111", 6},
		{"----", 1990, "-", 0},
		{"20--", 1990, "20", 2},
		{`201\`, 1990, "201", 3},
		{"201/", 1986, "201", 3},
		{"2011", 1990, "2011", 4},
	}
	for _, tc := range cases {
		got, digits, err := NormalizeIndustry(tc.code, tc.year)
		if err != nil {
			t.Fatalf("NormalizeIndustry(%q, %d) failed: %v", tc.code, tc.year, err)
		}
		if got != tc.want || digits != tc.digits {
			t.Fatalf("NormalizeIndustry(%q, %d) = %q/%d, want %q/%d",
				tc.code, tc.year, got, digits, tc.want, tc.digits)
		}
	}

	if _, _, err := NormalizeIndustry("31//", 2019); err == nil {
		t.Fatal("Expected error for malformed naics code")
	}
	if _, _, err := NormalizeIndustry("", 2019); err == nil {
		t.Fatal("Expected error for empty code")
	}
}

func TestProcessTableCounty(t *testing.T) {
	csv := strings.Join([]string{
		"fipstate,fipscty,naics,est,emp,qp1,ap,n1_4,n5_9,n10_19,n20_49,n50_99,n100_249,n250_499,n500_999,n1000,n1000_1,n1000_2,n1000_3,n1000_4",
		"01,001,------,500,N,100,400,300,100,50,30,10,5,3,1,1,0,0,0,0",
		"01,001,11----,20,150,10,40,15,3,2,0,0,0,0,0,0,0,0,0,0",
	}, "\n")

	table, err := tabular.ReadCSV(strings.NewReader(csv), ',')
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	rows, err := processTable("cbp19co.zip", table, GeoCounty, 2019)
	if err != nil {
		t.Fatalf("processTable failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}

	total := rows[0]
	if total.Industry != "-" || total.IndDigits != 0 {
		t.Fatalf("Total row industry not normalized: %+v", total)
	}
	if !math.IsNaN(total.Emp) {
		t.Fatalf("Suppressed employment not NaN: %v", total.Emp)
	}
	if total.LFO != "-" {
		t.Fatalf("Expected dummy lfo, got %q", total.LFO)
	}

	sector := rows[1]
	if sector.Industry != "11" || sector.IndDigits != 2 || sector.Emp != 150 {
		t.Fatalf("Unexpected sector row: %+v", sector)
	}
}

func TestProcessTableRenamesSmallSizeClass(t *testing.T) {
	// From 2017 on the source calls the bottom size class n<5.
	csv := strings.Join([]string{
		"naics,est,emp,qp1,ap,n<5,n5_9,n10_19,n20_49,n50_99,n100_249,n250_499,n500_999,n1000",
		"------,100,900,50,200,80,10,5,3,1,1,0,0,0",
	}, "\n")

	table, err := tabular.ReadCSV(strings.NewReader(csv), ',')
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	rows, err := processTable("cbp17us.zip", table, GeoUS, 2017)
	if err != nil {
		t.Fatalf("processTable failed: %v", err)
	}
	if rows[0].N1_4 != 80 {
		t.Fatalf("n<5 not mapped to the bottom size class: %v", rows[0].N1_4)
	}
	// National files carry no detailed 1000+ subclasses.
	if !math.IsNaN(rows[0].N1000_1) {
		t.Fatalf("Absent size class should be NaN, got %v", rows[0].N1000_1)
	}
}

func TestReadFromZipSource(t *testing.T) {
	csv := "fipstate,fipscty,naics,est,emp,qp1,ap,n1_4,n5_9,n10_19,n20_49,n50_99,n100_249,n250_499,n500_999,n1000,n1000_1,n1000_2,n1000_3,n1000_4\n" +
		"01,001,------,500,900,100,400,300,100,50,30,10,5,3,1,1,0,0,0,0\n"

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("cbp10co.txt")
	w.Write([]byte(csv))
	zw.Close()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/programs-surveys/cbp/datasets/2010/cbp10co.zip" {
			http.NotFound(w, r)
			return
		}
		w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)

	memFs := afero.NewMemMapFs()
	env, err := pubdata.New("/data", pubdata.WithFs(memFs))
	if err != nil {
		t.Fatalf("Failed to create env: %v", err)
	}
	client := NewClient(env)

	// Route census.gov requests at the local server.
	origBase := sourceURLBase
	sourceURLBase = srv.URL
	t.Cleanup(func() { sourceURLBase = origBase })

	key := Key{Geo: GeoCounty, Year: 2010}
	rows, err := client.Read(context.Background(), []Key{key})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Geo != "county" || rows[0].Year != 2010 {
		t.Fatalf("Unexpected rows: %+v", rows)
	}

	// Second read comes from the partition, not the network.
	if _, err := client.Read(context.Background(), []Key{key}); err != nil {
		t.Fatalf("Cached Read failed: %v", err)
	}
	if requests != 1 {
		t.Fatalf("Expected 1 download, got %d", requests)
	}
}

func TestStateWagesSkipsLFOBreakouts(t *testing.T) {
	state := []Row{
		{FipState: "01", Industry: "11", LFO: "-", Emp: 100, QP1: 250},
		{FipState: "01", Industry: "11", LFO: "C", Emp: 60, QP1: 200},
		{FipState: "01", Industry: "21", LFO: "-", Emp: 0, QP1: 50},
	}

	wages := stateWages(state, 2019)
	if len(wages) != 1 {
		t.Fatalf("Expected 1 wage cell, got %d", len(wages))
	}
	if w := wages[stateIndustry{"01", "11"}]; w != 10 {
		t.Fatalf("Expected wage 10 (250/100*4), got %v", w)
	}
}

func TestFillPanel(t *testing.T) {
	rows := []PanelRow{
		{FipState: "01", FipCty: "001", Industry: "11", Emp: 0, AP: 0,
			EFSYLB: math.NaN(), EFSYUB: math.NaN(), Wage: math.NaN()},
		{FipState: "01", FipCty: "003", Industry: "11", Emp: 40, AP: 900,
			EFSYLB: math.NaN(), EFSYUB: math.NaN(), Wage: math.NaN()},
		{FipState: "02", FipCty: "013", Industry: "21", Emp: 0, AP: 0,
			EFSYLB: math.NaN(), EFSYUB: math.NaN(), Wage: math.NaN()},
	}
	efsy := []EFSYRow{
		{FipState: "01", FipCty: "001", Industry: "11", LB: 10, UB: 30},
	}
	wages := map[stateIndustry]float64{{"01", "11"}: 50}

	fillPanel(rows, efsy, wages)

	// Suppressed cell: EFSY midpoint employment, wage-imputed payroll.
	if rows[0].Emp != 20 {
		t.Fatalf("Expected midpoint employment 20, got %v", rows[0].Emp)
	}
	if rows[0].AP != 1000 {
		t.Fatalf("Expected imputed payroll 1000, got %v", rows[0].AP)
	}

	// Published cell: untouched.
	if rows[1].Emp != 40 || rows[1].AP != 900 {
		t.Fatalf("Published values were overwritten: %+v", rows[1])
	}

	// Suppressed cell with no EFSY or wage match: missing, not zero.
	if !math.IsNaN(rows[2].Emp) || !math.IsNaN(rows[2].AP) {
		t.Fatalf("Unmatched suppressed values not missing: %+v", rows[2])
	}
}

func TestZfill(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"1", "01"}, {"01", "01"}, {"456", "456"},
	} {
		if got := zfill(tc.in, 2); got != tc.want {
			t.Fatalf("zfill(%q, 2) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := zfill("1", 3); got != "001" {
		t.Fatalf("zfill(1, 3) = %q", got)
	}
}

func TestAllKeysCoverage(t *testing.T) {
	keys := AllKeys()
	want := (LastYear - FirstYear + 1) * 3
	if len(keys) != want {
		t.Fatalf("Expected %d keys, got %d", want, len(keys))
	}
	if fmt.Sprint(keys[0].Parts()) != "[us 1986]" {
		t.Fatalf("Unexpected first key parts: %v", keys[0].Parts())
	}
}
