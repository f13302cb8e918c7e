package pubdata

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
)

func TestParquetCodecRoundTrip(t *testing.T) {
	memFs := afero.NewMemMapFs()
	codec := ParquetCodec[testRow]()

	want := []testRow{
		{Code: "11", Emp: 42.5},
		{Code: "21", Emp: 0},
		{Code: "31-33", Emp: 1234},
	}
	assertNoError(t, codec.Dump(memFs, "/data/part.parquet", want), "Dump")

	got, err := codec.Load(memFs, "/data/part.parquet")
	assertNoError(t, err, "Load")
	assertEqual(t, got, want, "Round-tripped rows")
}

func TestParquetCodecCorrupt(t *testing.T) {
	memFs := afero.NewMemMapFs()
	codec := ParquetCodec[testRow]()
	createTestFile(t, memFs, "/data/part.parquet", []byte("garbage"))

	_, err := codec.Load(memFs, "/data/part.parquet")

	var ce *CorruptError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected CorruptError, got %v", err)
	}
	if ce.Path != "/data/part.parquet" {
		t.Fatalf("Unexpected path in CorruptError: %s", ce.Path)
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	memFs := afero.NewMemMapFs()
	codec := JSONCodec[map[string]float64]()

	want := map[string]float64{"2019": 108.5, "2020": 109.9}
	assertNoError(t, codec.Dump(memFs, "/data/index.json", want), "Dump")

	got, err := codec.Load(memFs, "/data/index.json")
	assertNoError(t, err, "Load")
	assertEqual(t, got, want, "Round-tripped payload")
}

func TestJSONCodecCorrupt(t *testing.T) {
	memFs := afero.NewMemMapFs()
	codec := JSONCodec[map[string]float64]()
	createTestFile(t, memFs, "/data/index.json", []byte("{truncated"))

	_, err := codec.Load(memFs, "/data/index.json")

	var ce *CorruptError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected CorruptError, got %v", err)
	}
}

func TestDumpAtomicLeavesNoTemp(t *testing.T) {
	memFs := afero.NewMemMapFs()

	assertNoError(t, dumpAtomic(memFs, "/data/out.bin", []byte("payload")), "dumpAtomic")
	assertFileExists(t, memFs, "/data/out.bin")
	assertFileAbsent(t, memFs, "/data/out.bin.tmp")
}
