package pubdata

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	// ErrUnknownKey is returned when a requested key is not present in a
	// dataset's URL table (unsupported year, geography or kind).
	ErrUnknownKey = errors.New("unknown dataset key")

	// ErrTemplateArity is returned when the number of key parts does not
	// match the number of placeholders in a path template.
	ErrTemplateArity = errors.New("path template arity mismatch")
)

// DownloadError reports a failed download: a network error or a non-2xx
// response that persisted through retries.
type DownloadError struct {
	URL    string
	Status int // zero when the request never got a response
	Err    error
}

// Error implements the error interface.
func (de *DownloadError) Error() string {
	if de.Status != 0 {
		return fmt.Sprintf("download %s: unexpected status %d", de.URL, de.Status)
	}
	return fmt.Sprintf("download %s: %v", de.URL, de.Err)
}

// Unwrap returns the underlying error.
func (de *DownloadError) Unwrap() error {
	return de.Err
}

// StatusCode returns the HTTP status, for retry classification.
func (de *DownloadError) StatusCode() int {
	return de.Status
}

// SchemaError reports a source file whose shape does not match the
// expected column layout for its recipe.
type SchemaError struct {
	Source string // file or key being parsed
	Detail string
}

// Error implements the error interface.
func (se *SchemaError) Error() string {
	return fmt.Sprintf("schema violation in %s: %s", se.Source, se.Detail)
}

// CorruptError reports a cached file that could not be read back.
// The store treats the first occurrence as a cache miss and rebuilds.
type CorruptError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (ce *CorruptError) Error() string {
	return fmt.Sprintf("corrupt cache file %s: %v", ce.Path, ce.Err)
}

// Unwrap returns the underlying error.
func (ce *CorruptError) Unwrap() error {
	return ce.Err
}

// KeyError pairs a failed key with its error in a batch build summary.
type KeyError struct {
	Key string
	Err error
}

// BuildError summarizes per-key failures from a best-effort batch build.
// Keys that failed are listed; keys not listed were built successfully.
type BuildError struct {
	Failed []KeyError
}

// Error implements the error interface.
func (be *BuildError) Error() string {
	if len(be.Failed) == 1 {
		return fmt.Sprintf("build failed for key %s: %v", be.Failed[0].Key, be.Failed[0].Err)
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "build failed for %d keys:\n", len(be.Failed))
	for _, ke := range be.Failed {
		fmt.Fprintf(&buf, "  %s: %v\n", ke.Key, ke.Err)
	}
	return buf.String()
}

// Unwrap returns the underlying errors for use with errors.Is and errors.As.
func (be *BuildError) Unwrap() []error {
	errs := make([]error, len(be.Failed))
	for i, ke := range be.Failed {
		errs[i] = ke.Err
	}
	return errs
}

// NewBuildError creates a BuildError from accumulated key failures.
// Returns nil if the slice is empty.
func NewBuildError(failed []KeyError) error {
	if len(failed) == 0 {
		return nil
	}
	return &BuildError{Failed: failed}
}
