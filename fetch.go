package pubdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/jlaffaye/ftp"
	"github.com/spf13/afero"
)

// FTPConn is the subset of an FTP client connection used by Fetch.
type FTPConn interface {
	Login(user, password string) error
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// FTPDialFunc opens an FTP connection to addr (host:port).
type FTPDialFunc func(ctx context.Context, addr string) (FTPConn, error)

// ftpConn adapts *ftp.ServerConn to the FTPConn interface.
type ftpConn struct {
	conn *ftp.ServerConn
}

func (c ftpConn) Login(user, password string) error {
	return c.conn.Login(user, password)
}

func (c ftpConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := c.conn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c ftpConn) Quit() error {
	return c.conn.Quit()
}

func dialFTP(ctx context.Context, addr string) (FTPConn, error) {
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx))
	if err != nil {
		return nil, err
	}
	return ftpConn{conn: conn}, nil
}

// Fetch ensures the remote file at rawURL is present at localPath and
// returns localPath. An existing local file is returned without any
// network activity. Downloads are written to a temporary file and renamed
// into place so an interrupted transfer never leaves a truncated file
// that a later run would mistake for a valid copy. Transient failures are
// retried per the environment's retry policy; persistent failures surface
// as a *DownloadError.
func (e *Env) Fetch(ctx context.Context, rawURL, localPath string) (string, error) {
	exists, err := afero.Exists(e.fs, localPath)
	if err != nil {
		return "", fmt.Errorf("failed to check %s: %w", localPath, err)
	}
	if exists {
		return localPath, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid source URL %q: %w", rawURL, err)
	}

	if err := e.fs.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	e.log.Info().Str("url", rawURL).Str("path", localPath).Msg("downloading")

	err = retryDo(ctx, e.retry, func() error {
		switch u.Scheme {
		case "http", "https":
			return e.downloadHTTP(ctx, rawURL, localPath)
		case "ftp":
			return e.downloadFTP(ctx, u, localPath)
		default:
			return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
		}
	})
	if err != nil {
		return "", err
	}

	return localPath, nil
}

func (e *Env) downloadHTTP(ctx context.Context, rawURL, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &DownloadError{URL: rawURL, Err: err}
	}

	resp, err := e.httpc.Do(req)
	if err != nil {
		return &DownloadError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &DownloadError{URL: rawURL, Status: resp.StatusCode}
	}

	if err := e.writeAtomic(localPath, resp.Body); err != nil {
		return &DownloadError{URL: rawURL, Err: err}
	}
	return nil
}

func (e *Env) downloadFTP(ctx context.Context, u *url.URL, localPath string) error {
	addr := u.Host
	if u.Port() == "" {
		addr += ":21"
	}

	conn, err := e.ftpDial(ctx, addr)
	if err != nil {
		return &DownloadError{URL: u.String(), Err: err}
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return &DownloadError{URL: u.String(), Err: err}
	}

	body, err := conn.Retr(strings.TrimPrefix(u.Path, "/"))
	if err != nil {
		return &DownloadError{URL: u.String(), Err: err}
	}
	defer body.Close()

	if err := e.writeAtomic(localPath, body); err != nil {
		return &DownloadError{URL: u.String(), Err: err}
	}
	return nil
}

// writeAtomic streams src to path via a temporary file and rename.
// The temporary file is removed on any failure.
func (e *Env) writeAtomic(path string, src io.Reader) error {
	tmp := path + ".tmp"

	f, err := e.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	bufPtr := bufferPool.Get().(*[]byte)
	_, err = io.CopyBuffer(f, src, *bufPtr)
	bufferPool.Put(bufPtr)

	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		e.fs.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	if err := e.fs.Rename(tmp, path); err != nil {
		e.fs.Remove(tmp)
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}
