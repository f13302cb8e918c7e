package pubdata

import (
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// NowFunc defines a function that returns the current time.
type NowFunc func() time.Time

// Env holds the immutable configuration shared by every dataset accessor:
// the data root directory, the filesystem, network clients, logger, clock
// and retry policy. Construct it once at startup with New and pass it by
// reference; there is no package-level mutable state.
type Env struct {
	root    string
	fs      afero.Fs
	httpc   *http.Client
	ftpDial FTPDialFunc
	log     zerolog.Logger
	nowFunc NowFunc
	retry   RetryConfig
}

// Option defines a function that configures an Env.
type Option func(*Env)

// New creates an environment rooted at the given data directory.
// The directory and its source/ subdirectory are created if absent.
func New(root string, options ...Option) (*Env, error) {
	env := &Env{
		root:    root,
		fs:      afero.NewOsFs(),
		httpc:   &http.Client{Timeout: 5 * time.Minute},
		ftpDial: dialFTP,
		log:     zerolog.Nop(),
		nowFunc: time.Now,
		retry:   DefaultRetryConfig(),
	}

	for _, option := range options {
		option(env)
	}

	if err := env.fs.MkdirAll(env.SourcePath(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create source directory: %w", err)
	}

	return env, nil
}

// WithFs sets the filesystem implementation for the environment.
// This allows using in-memory filesystems for testing.
func WithFs(fs afero.Fs) Option {
	return func(e *Env) {
		e.fs = fs
	}
}

// WithHTTPClient sets the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Env) {
		e.httpc = c
	}
}

// WithFTPDialer sets the FTP dial function used for ftp:// downloads.
func WithFTPDialer(dial FTPDialFunc) Option {
	return func(e *Env) {
		e.ftpDial = dial
	}
}

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Env) {
		e.log = log
	}
}

// WithNowFunc sets the Now() function for the environment.
func WithNowFunc(nowFunc NowFunc) Option {
	return func(e *Env) {
		e.nowFunc = nowFunc
	}
}

// WithRetry sets the download retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(e *Env) {
		e.retry = cfg
	}
}

// Fs returns the environment's filesystem.
func (e *Env) Fs() afero.Fs {
	return e.fs
}

// Logger returns the environment's logger.
func (e *Env) Logger() zerolog.Logger {
	return e.log
}

// DataPath joins path elements under the data root.
func (e *Env) DataPath(elem ...string) string {
	return path.Join(append([]string{e.root}, elem...)...)
}

// SourcePath joins path elements under the raw-download directory.
func (e *Env) SourcePath(elem ...string) string {
	return path.Join(append([]string{e.root, "source"}, elem...)...)
}

// RemoveTree deletes a directory tree under the data root, ignoring
// missing paths. Used by dataset Cleanup functions.
func (e *Env) RemoveTree(p string) error {
	exists, err := afero.DirExists(e.fs, p)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", p, err)
	}
	if !exists {
		return nil
	}
	e.log.Info().Str("path", p).Msg("removing tree")
	if err := e.fs.RemoveAll(p); err != nil {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// now returns the current time.
func (e *Env) now() time.Time {
	return e.nowFunc()
}
