package tabular

import (
	"archive/zip"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// ReadCSV parses delimited text with a header row into a table.
// Rows may be ragged; record length is not enforced here so that
// recipe-level schema checks can produce a better error.
func ReadCSV(r io.Reader, delim rune) (Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("failed to parse delimited input: %w", err)
	}
	if len(records) == 0 {
		return Table{}, fmt.Errorf("delimited input is empty")
	}

	columns := make([]string, len(records[0]))
	for i, h := range records[0] {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}
	return Table{Columns: columns, Rows: records[1:]}, nil
}

// ZipMember reads one member file out of a zip archive on the
// filesystem without extracting the archive.
func ZipMember(fs afero.Fs, archivePath, member string) ([]byte, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive %s: %w", archivePath, err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s: %w", archivePath, err)
	}

	for _, zf := range zr.File {
		if zf.Name != member {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open member %s: %w", member, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read member %s: %w", member, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("member %s not found in %s", member, archivePath)
}

// ZipMembers lists the member names of a zip archive.
func ZipMembers(fs afero.Fs, archivePath string) ([]string, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive %s: %w", archivePath, err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s: %w", archivePath, err)
	}

	names := make([]string, len(zr.File))
	for i, zf := range zr.File {
		names[i] = zf.Name
	}
	return names, nil
}

// GunzipFile decompresses a gzipped file into memory.
func GunzipFile(fs afero.Fs, path string) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	return data, nil
}
