package pubdata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

type panelRow struct {
	Code string  `parquet:"code"`
	Emp  float64 `parquet:"emp"`

	// Encoded in the partition directory, not the file.
	Year int `parquet:"-"`
}

func testPanelDataset(env *Env, builds map[int]int) *Dataset[Year, panelRow] {
	build := func(ctx context.Context, key Year) ([]panelRow, error) {
		builds[int(key)]++
		return []panelRow{
			{Code: "11", Emp: float64(key)},
			{Code: "21", Emp: float64(key) * 2},
		}, nil
	}
	assign := func(key Year, row *panelRow) {
		row.Year = int(key)
	}
	return NewDataset(env, "panel", "{}/part.parquet", build, assign)
}

func TestDatasetReadBuildsAndAssigns(t *testing.T) {
	env, _ := setupTestEnv(t)
	builds := make(map[int]int)
	ds := testPanelDataset(env, builds)

	rows, err := ds.Read(context.Background(), []Year{2019, 2020})
	assertNoError(t, err, "Read")

	if len(rows) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Year != 2019 && row.Year != 2020 {
			t.Fatalf("Partition year not restored on row: %+v", row)
		}
	}

	// Second read loads from disk, no rebuild.
	_, err = ds.Read(context.Background(), []Year{2019, 2020})
	assertNoError(t, err, "second Read")
	assertEqual(t, builds, map[int]int{2019: 1, 2020: 1}, "Build counts")
}

func TestDatasetPartitionIsolation(t *testing.T) {
	env, _ := setupTestEnv(t)
	ds := testPanelDataset(env, make(map[int]int))

	rows, err := ds.Read(context.Background(), []Year{2019, 2020},
		Where(func(r panelRow) bool { return r.Year == 2019 }))
	assertNoError(t, err, "Read with filter")

	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows for 2019, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Year != 2019 {
			t.Fatalf("Row from wrong partition leaked through filter: %+v", row)
		}
	}
}

func TestDatasetReadPresent(t *testing.T) {
	env, _ := setupTestEnv(t)
	ds := testPanelDataset(env, make(map[int]int))

	// Build 2 of 5 requested partitions.
	assertNoError(t, ds.Build(context.Background(), Year(2018)), "Build 2018")
	assertNoError(t, ds.Build(context.Background(), Year(2020)), "Build 2020")

	rows, err := ds.ReadPresent(context.Background(), []Year{2017, 2018, 2019, 2020, 2021})
	assertNoError(t, err, "ReadPresent")

	if len(rows) != 4 {
		t.Fatalf("Expected rows from exactly 2 partitions, got %d rows", len(rows))
	}
	for _, row := range rows {
		if row.Year != 2018 && row.Year != 2020 {
			t.Fatalf("Row from unbuilt partition: %+v", row)
		}
	}
}

func TestDatasetBuildAllContinuesOnError(t *testing.T) {
	env, _ := setupTestEnv(t)

	build := func(ctx context.Context, key Year) ([]panelRow, error) {
		if key == 2019 {
			return nil, fmt.Errorf("source file missing")
		}
		return []panelRow{{Code: "11", Emp: 1}}, nil
	}
	ds := NewDataset[Year](env, "panel", "{}/part.parquet", build, nil)

	err := ds.BuildAll(context.Background(), []Year{2018, 2019, 2020})

	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("Expected BuildError, got %v", err)
	}
	if len(be.Failed) != 1 || be.Failed[0].Key != "2019" {
		t.Fatalf("Expected exactly key 2019 to fail, got %+v", be.Failed)
	}

	// Surviving keys were still built.
	if !ds.Has(Year(2018)) || !ds.Has(Year(2020)) {
		t.Fatal("Expected remaining partitions to be built despite failure")
	}
	if ds.Has(Year(2019)) {
		t.Fatal("Expected no partition file for failed key")
	}
}

func TestDatasetBuildAllIdempotent(t *testing.T) {
	env, _ := setupTestEnv(t)
	builds := make(map[int]int)
	ds := testPanelDataset(env, builds)

	keys := []Year{2019, 2020}
	assertNoError(t, ds.BuildAll(context.Background(), keys), "first BuildAll")

	m, err := ds.Manifest()
	assertNoError(t, err, "Manifest")
	firstHashes := make(map[string]string)
	for rel, info := range m.Partitions {
		firstHashes[rel] = info.Hash
	}

	assertNoError(t, ds.BuildAll(context.Background(), keys), "second BuildAll")
	assertEqual(t, builds, map[int]int{2019: 1, 2020: 1}, "Build counts")

	for rel, hash := range firstHashes {
		p := env.DataPath("panel", rel)
		ok, err := m.Verify(rel, p)
		assertNoError(t, err, "Verify "+rel)
		if !ok {
			t.Fatalf("Partition %s changed across identical builds (recorded %s)", rel, hash)
		}
	}
}

func TestDatasetCorruptPartitionRebuilt(t *testing.T) {
	env, memFs := setupTestEnv(t)
	builds := make(map[int]int)
	ds := testPanelDataset(env, builds)

	assertNoError(t, ds.Build(context.Background(), Year(2019)), "Build")

	p, err := ds.PartitionPath(Year(2019))
	assertNoError(t, err, "PartitionPath")
	createTestFile(t, memFs, p, []byte("scribbled over"))

	rows, err := ds.Read(context.Background(), []Year{2019})
	assertNoError(t, err, "Read over corrupt partition")
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rebuilt rows, got %d", len(rows))
	}
	assertEqual(t, builds, map[int]int{2019: 2}, "Build counts after rebuild")
}

// flakyManifestFs refuses the next failures writes to manifest files and
// lets everything else through.
type flakyManifestFs struct {
	afero.Fs
	failures int
}

func (f *flakyManifestFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.failures > 0 && strings.Contains(name, "manifest.json") && flag&os.O_WRONLY != 0 {
		f.failures--
		return nil, fmt.Errorf("manifest write refused: %s", name)
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func TestDatasetRebuildSurvivesManifestWriteFailure(t *testing.T) {
	memFs := afero.NewMemMapFs()
	flaky := &flakyManifestFs{Fs: memFs}
	env, err := New("/data", WithFs(flaky))
	assertNoError(t, err, "New")
	builds := make(map[int]int)
	ds := testPanelDataset(env, builds)

	assertNoError(t, ds.Build(context.Background(), Year(2019)), "Build")

	p, err := ds.PartitionPath(Year(2019))
	assertNoError(t, err, "PartitionPath")
	createTestFile(t, memFs, p, []byte("scribbled over"))

	// The eviction's manifest update fails; the rebuild must not.
	flaky.failures = 1
	rows, err := ds.Read(context.Background(), []Year{2019})
	assertNoError(t, err, "Read over corrupt partition")
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rebuilt rows, got %d", len(rows))
	}
	assertEqual(t, builds, map[int]int{2019: 2}, "Build counts after rebuild")
}

func TestDatasetCleanup(t *testing.T) {
	env, memFs := setupTestEnv(t)
	ds := testPanelDataset(env, make(map[int]int))

	assertNoError(t, ds.Build(context.Background(), Year(2019)), "Build")
	assertFileExists(t, memFs, env.DataPath("panel", "manifest.json"))

	assertNoError(t, ds.Cleanup(), "Cleanup")
	assertFileAbsent(t, memFs, env.DataPath("panel"))

	// Cleanup of an already-clean dataset is a no-op.
	assertNoError(t, ds.Cleanup(), "second Cleanup")
}
