package pubdata

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestFetchDownloadsOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, "payload")
	}))
	defer srv.Close()

	env, memFs := setupTestEnv(t)
	dest := env.SourcePath("cbp", "cbp19co.zip")

	path, err := env.Fetch(context.Background(), srv.URL+"/cbp19co.zip", dest)
	assertNoError(t, err, "first Fetch")
	if path != dest {
		t.Fatalf("Expected path %s, got %s", dest, path)
	}
	assertFileExists(t, memFs, dest)

	// Second call must be served locally.
	_, err = env.Fetch(context.Background(), srv.URL+"/cbp19co.zip", dest)
	assertNoError(t, err, "second Fetch")
	if calls.Load() != 1 {
		t.Fatalf("Expected 1 network call, got %d", calls.Load())
	}
}

func TestFetchNotFoundLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	env, memFs := setupTestEnv(t)
	dest := env.SourcePath("cbp", "missing.zip")

	_, err := env.Fetch(context.Background(), srv.URL+"/missing.zip", dest)

	var de *DownloadError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DownloadError, got %v", err)
	}
	if de.Status != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", de.Status)
	}
	assertFileAbsent(t, memFs, dest)
	assertFileAbsent(t, memFs, dest+".tmp")
}

func TestFetchRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "payload")
	}))
	defer srv.Close()

	env, memFs := setupTestEnv(t, WithRetry(RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}))
	dest := env.SourcePath("qcew", "2019_annual_singlefile.zip")

	_, err := env.Fetch(context.Background(), srv.URL+"/file.zip", dest)
	assertNoError(t, err, "Fetch with transient failures")

	if calls.Load() != 3 {
		t.Fatalf("Expected 3 attempts, got %d", calls.Load())
	}
	content, err := afero.ReadFile(memFs, dest)
	assertNoError(t, err, "read downloaded file")
	if string(content) != "payload" {
		t.Fatalf("Unexpected file content: %q", content)
	}
}

func TestFetchGivesUpOnPersistentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	env, _ := setupTestEnv(t, WithRetry(RetryConfig{
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}))

	_, err := env.Fetch(context.Background(), srv.URL+"/file.zip", env.SourcePath("file.zip"))

	var de *DownloadError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DownloadError, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("Expected 2 attempts, got %d", calls.Load())
	}
}

// fakeFTPConn serves canned file content for FTP fetch tests.
type fakeFTPConn struct {
	files map[string][]byte

	loggedIn  bool
	retrPaths []string
}

func (c *fakeFTPConn) Login(user, password string) error {
	c.loggedIn = true
	return nil
}

func (c *fakeFTPConn) Retr(path string) (io.ReadCloser, error) {
	c.retrPaths = append(c.retrPaths, path)
	content, ok := c.files[path]
	if !ok {
		return nil, errors.New("550 file not found")
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (c *fakeFTPConn) Quit() error {
	return nil
}

func TestFetchFTP(t *testing.T) {
	conn := &fakeFTPConn{
		files: map[string][]byte{
			"quickstats/qs.census2017.txt.gz": []byte("gzipped tsv"),
		},
	}
	var dialedAddr string
	dial := func(ctx context.Context, addr string) (FTPConn, error) {
		dialedAddr = addr
		return conn, nil
	}

	env, memFs := setupTestEnv(t, WithFTPDialer(dial))
	dest := env.SourcePath("agcensus", "qs.census2017.txt.gz")

	_, err := env.Fetch(context.Background(),
		"ftp://ftp.nass.usda.gov/quickstats/qs.census2017.txt.gz", dest)
	assertNoError(t, err, "FTP fetch")

	if dialedAddr != "ftp.nass.usda.gov:21" {
		t.Fatalf("Unexpected dial address: %s", dialedAddr)
	}
	if !conn.loggedIn {
		t.Fatal("Expected anonymous login")
	}
	assertEqual(t, conn.retrPaths, []string{"quickstats/qs.census2017.txt.gz"}, "Retrieved paths")
	assertFileExists(t, memFs, dest)
}

func TestFetchUnsupportedScheme(t *testing.T) {
	env, _ := setupTestEnv(t)

	_, err := env.Fetch(context.Background(), "gopher://example.com/file", env.SourcePath("file"))
	if err == nil {
		t.Fatal("Expected error for unsupported scheme")
	}
}
