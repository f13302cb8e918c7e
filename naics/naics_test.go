package naics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/spf13/afero"

	"github.com/gophersatwork/pubdata"
)

func setupTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	env, err := pubdata.New("/data", pubdata.WithFs(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("Failed to create env: %v", err)
	}
	return NewClient(env), srv
}

func TestSourceUnknownKey(t *testing.T) {
	client, _ := setupTestClient(t, http.NotFoundHandler())

	_, err := client.Source(context.Background(), 1992, KindCode)
	if !errors.Is(err, pubdata.ErrUnknownKey) {
		t.Fatalf("Expected ErrUnknownKey, got %v", err)
	}

	_, err = client.Source(context.Background(), 2002, KindDescriptions)
	if !errors.Is(err, pubdata.ErrUnknownKey) {
		t.Fatalf("Expected ErrUnknownKey for unpublished kind, got %v", err)
	}
}

// codes2002 is a fixed-width excerpt in the layout of naics_2_6_02.txt:
// five header lines, then an 8-character code field and a title.
const codes2002 = `2002 NAICS codes

Code    Title

--------
11      Agriculture, Forestry, Fishing and Hunting
111     Crop Production
1111    Oilseed and Grain Farming
11111   Soybean Farming
111110  Soybean Farming
11112   Oilseed (except Soybean) Farming
111120  Oilseed (except Soybean) Farming
112     Animal Production
1121    Cattle Ranching and Farming
11211   Beef Cattle Ranching and Farming, including Feedlots
112111  Beef Cattle Ranching and Farming
`

func TestCodesFromFixedWidth(t *testing.T) {
	client, _ := setupTestClient(t, nil)

	// Serve the source text over a local server.
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(codes2002))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srcURLs[srcKey{2002, KindCode}] = srv.URL + "/naics_2_6_02.txt"

	rows, err := client.Codes(context.Background(), 2002)
	if err != nil {
		t.Fatalf("Codes failed: %v", err)
	}
	if len(rows) != 11 {
		t.Fatalf("Expected 11 rows, got %d", len(rows))
	}

	// Hierarchy fill: the 6-digit industry carries every ancestor.
	last := rows[len(rows)-1]
	want := CodeRow{
		Code: "112111", Title: "Beef Cattle Ranching and Farming", Digits: 6,
		Code2: "11", Code3: "112", Code4: "1121", Code5: "11211", Code6: "112111",
	}
	if last != want {
		t.Fatalf("Unexpected last row:\nwant %+v\ngot  %+v", want, last)
	}

	// Second call is served from cache.
	srv.Close()
	again, err := client.Codes(context.Background(), 2002)
	if err != nil {
		t.Fatalf("Cached Codes failed: %v", err)
	}
	if !reflect.DeepEqual(again, rows) {
		t.Fatal("Cached rows differ from built rows")
	}
}

func TestFillHierarchyResetsBranches(t *testing.T) {
	rows := []CodeRow{
		{Code: "11", Digits: 2},
		{Code: "111", Digits: 3},
		{Code: "1111", Digits: 4},
		{Code: "11111", Digits: 5},
		{Code: "112", Digits: 3},
		{Code: "1121", Digits: 4},
	}
	fillHierarchy(rows)

	// The 4-digit group under the second subsector must not inherit the
	// 5-digit industry of the first branch.
	got := rows[5]
	if got.Code3 != "112" || got.Code5 != "" {
		t.Fatalf("Branch state leaked across subsectors: %+v", got)
	}
	if rows[3].Code5 != "11111" {
		t.Fatalf("5-digit code not recorded: %+v", rows[3])
	}
}

func TestNormalize1997SectorRanges(t *testing.T) {
	client, _ := setupTestClient(t, nil)

	const codes1997 = `header
header
31----  Manufacturing
99      Unclassified establishments
`
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(codes1997))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srcURLs[srcKey{1997, KindCode}] = srv.URL + "/naics.txt"

	rows, err := client.Codes(context.Background(), 1997)
	if err != nil {
		t.Fatalf("Codes failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected unclassified code to be dropped, got %d rows", len(rows))
	}
	if rows[0].Code != "31-33" || rows[0].Digits != 2 {
		t.Fatalf("Sector range not normalized: %+v", rows[0])
	}
}

func TestFlagLinks(t *testing.T) {
	rows := []ConcordanceRow{
		{FromCode: "111110", ToCode: "111110"}, // unchanged
		{FromCode: "111210", ToCode: "111219"}, // renumbered
		{FromCode: "221111", ToCode: "221118"}, // two sources into one target
		{FromCode: "221112", ToCode: "221118"},
		{FromCode: "333111", ToCode: "333121"}, // one source into two new targets
		{FromCode: "333111", ToCode: "333122"},
		{FromCode: "512110", ToCode: "512230"}, // split with a shared target
		{FromCode: "512110", ToCode: "512240"},
		{FromCode: "512120", ToCode: "512230"},
	}
	flagLinks(rows)

	wantFlags := []string{
		FlagSameCode,
		FlagRecode,
		FlagJoin,
		FlagJoin,
		FlagCleanSplit,
		FlagCleanSplit,
		FlagMessySplit,
		FlagMessySplit,
		FlagJoin,
	}
	for i, want := range wantFlags {
		if rows[i].Flag != want {
			t.Fatalf("Row %d (%s->%s): flag %q, want %q",
				i, rows[i].FromCode, rows[i].ToCode, rows[i].Flag, want)
		}
	}
}

func TestStructureSummary(t *testing.T) {
	rows := []CodeRow{
		{Code: "11", Title: "Agriculture", Digits: 2},
		{Code: "111", Digits: 3},
		{Code: "1111", Digits: 4},
		{Code: "11111", Digits: 5},
		{Code: "111110", Digits: 6}, // same as 5-digit
		{Code: "11112", Digits: 5},
		{Code: "111121", Digits: 6}, // U.S. detail
		{Code: "111122", Digits: 6}, // U.S. detail
	}
	fillHierarchy(rows)

	summary := structureSummary(rows)
	if len(summary) != 2 {
		t.Fatalf("Expected sector plus total, got %d rows", len(summary))
	}

	sector := summary[0]
	if sector.Sector != "11" || sector.Subsectors != 1 || sector.Groups != 1 ||
		sector.Industries != 2 || sector.USDetail != 2 || sector.SameAs5 != 1 || sector.Total != 3 {
		t.Fatalf("Unexpected sector counts: %+v", sector)
	}

	total := summary[1]
	if total.Name != "Total" || total.Total != 3 {
		t.Fatalf("Unexpected total row: %+v", total)
	}
	if total.USDetail+total.SameAs5 != total.Total {
		t.Fatalf("Detail counts do not add up: %+v", total)
	}
}
