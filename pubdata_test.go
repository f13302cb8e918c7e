package pubdata

import (
	"errors"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/afero"
)

// setupTestEnv creates an environment over an in-memory filesystem.
func setupTestEnv(t *testing.T, options ...Option) (*Env, afero.Fs) {
	t.Helper()

	memFs := afero.NewMemMapFs()
	opts := append([]Option{WithFs(memFs)}, options...)
	env, err := New("/data", opts...)
	if err != nil {
		t.Fatalf("Failed to create env: %v", err)
	}
	return env, memFs
}

// createTestFile creates a file with the given path and content in the filesystem.
func createTestFile(t *testing.T, fs afero.Fs, path string, content []byte) {
	t.Helper()

	if err := afero.WriteFile(fs, path, content, 0o644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
}

// assertNoError fails the test on an unexpected error.
func assertNoError(t *testing.T, err error, context string) {
	t.Helper()

	if err != nil {
		t.Fatalf("Unexpected error on %s: %v", context, err)
	}
}

// assertErrorIs asserts that err matches the target sentinel.
func assertErrorIs(t *testing.T, err, target error, context string) {
	t.Helper()

	if err == nil {
		t.Fatalf("Expected error on %s, got nil", context)
	}
	if !errors.Is(err, target) {
		t.Fatalf("Error mismatch on %s:\nExpected: %v\nActual: %v", context, target, err)
	}
}

// assertEqual asserts deep equality, dumping both values on mismatch.
func assertEqual(t *testing.T, actual, expected interface{}, context string) {
	t.Helper()

	if !reflect.DeepEqual(actual, expected) {
		t.Fatalf("%s mismatch:\nExpected: %sActual: %s",
			context, spew.Sdump(expected), spew.Sdump(actual))
	}
}

// assertFileExists asserts that a path exists on the filesystem.
func assertFileExists(t *testing.T, fs afero.Fs, path string) {
	t.Helper()

	exists, err := afero.Exists(fs, path)
	if err != nil {
		t.Fatalf("Failed to check %s: %v", path, err)
	}
	if !exists {
		t.Fatalf("Expected file %s to exist", path)
	}
}

// assertFileAbsent asserts that a path does not exist on the filesystem.
func assertFileAbsent(t *testing.T, fs afero.Fs, path string) {
	t.Helper()

	exists, err := afero.Exists(fs, path)
	if err != nil {
		t.Fatalf("Failed to check %s: %v", path, err)
	}
	if exists {
		t.Fatalf("Expected file %s to be absent", path)
	}
}
