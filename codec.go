package pubdata

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"
	"github.com/spf13/afero"
)

// Codec serializes a cache payload to a single file and back.
// Dump must be atomic: a failed write leaves no file at path.
type Codec[V any] interface {
	Dump(fs afero.Fs, path string, v V) error
	Load(fs afero.Fs, path string) (V, error)
}

// ParquetCodec returns a Codec storing a row slice as one parquet file.
// The row type's parquet struct tags define the column schema, so every
// partition written through the codec carries identical column types and
// concatenation never produces a mixed-type column.
func ParquetCodec[R any]() Codec[[]R] {
	return parquetCodec[R]{}
}

type parquetCodec[R any] struct{}

func (parquetCodec[R]) Dump(fs afero.Fs, path string, rows []R) error {
	var buf bytes.Buffer
	if err := parquet.Write[R](&buf, rows); err != nil {
		return fmt.Errorf("failed to encode parquet: %w", err)
	}
	return dumpAtomic(fs, path, buf.Bytes())
}

func (parquetCodec[R]) Load(fs afero.Fs, path string) ([]R, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	rows, err := parquet.Read[R](f, info.Size())
	if err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return rows, nil
}

// JSONCodec returns a Codec storing any JSON-serializable payload.
// Used for the few non-tabular caches (e.g. the BEA supply-use matrices).
func JSONCodec[V any]() Codec[V] {
	return jsonCodec[V]{}
}

type jsonCodec[V any] struct{}

func (jsonCodec[V]) Dump(fs afero.Fs, path string, v V) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return dumpAtomic(fs, path, data)
}

func (jsonCodec[V]) Load(fs afero.Fs, path string) (V, error) {
	var v V
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return v, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, &CorruptError{Path: path, Err: err}
	}
	return v, nil
}

// dumpAtomic writes data to a temporary file and renames it into place.
func dumpAtomic(fs afero.Fs, path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}
