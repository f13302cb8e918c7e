package pubdata

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// BuildFunc produces the payload for one key. It is invoked at most once
// per key over the lifetime of the cache: the only way to trigger a
// second invocation is deleting the cache file out-of-band.
type BuildFunc[K Key, V any] func(ctx context.Context, key K) (V, error)

// Store is a get-or-build cache mapping keys to files under the data
// root. The path template is rendered from the key's parts; the codec
// serializes the payload. There is no TTL and no content check: an
// existing file is always served as-is.
type Store[K Key, V any] struct {
	env   *Env
	name  string
	tmpl  Template
	codec Codec[V]
	mu    sync.Mutex
}

// NewStore creates a store for the given path pattern, relative to the
// data root, e.g. "cbp/raw/{}/{}.parquet".
func NewStore[K Key, V any](env *Env, name, pattern string, codec Codec[V]) *Store[K, V] {
	return &Store[K, V]{
		env:   env,
		name:  name,
		tmpl:  NewTemplate(pattern),
		codec: codec,
	}
}

// Path returns the cache file path for a key.
func (s *Store[K, V]) Path(key K) (string, error) {
	rendered, err := s.tmpl.Render(key.Parts()...)
	if err != nil {
		return "", err
	}
	return s.env.DataPath(filepath.FromSlash(rendered)), nil
}

// Has reports whether the cache file for a key exists.
func (s *Store[K, V]) Has(key K) bool {
	path, err := s.Path(key)
	if err != nil {
		return false
	}
	exists, err := afero.Exists(s.env.fs, path)
	return err == nil && exists
}

// Get returns the cached payload for key, invoking build on a miss.
// On a hit the payload is loaded from disk and build is NOT called.
// On a miss the payload is built, persisted atomically, and returned;
// if build fails, no file is left behind. An unreadable cache file is
// treated as a miss: it is removed and rebuilt once.
func (s *Store[K, V]) Get(ctx context.Context, key K, build BuildFunc[K, V]) (V, error) {
	var zero V

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.Path(key)
	if err != nil {
		return zero, err
	}

	exists, err := afero.Exists(s.env.fs, path)
	if err != nil {
		return zero, fmt.Errorf("failed to check cache file: %w", err)
	}
	if exists {
		v, err := s.codec.Load(s.env.fs, path)
		if err == nil {
			s.env.log.Debug().Str("store", s.name).Str("path", path).Msg("cache hit")
			return v, nil
		}
		var ce *CorruptError
		if !errors.As(err, &ce) {
			return zero, err
		}
		s.env.log.Warn().Str("store", s.name).Str("path", path).Err(err).
			Msg("corrupt cache file, rebuilding")
		if err := s.env.fs.Remove(path); err != nil {
			return zero, fmt.Errorf("failed to remove corrupt file: %w", err)
		}
	}

	v, err := build(ctx, key)
	if err != nil {
		return zero, fmt.Errorf("build %s[%s]: %w", s.name, keyString(key), err)
	}

	if err := s.env.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zero, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := s.codec.Dump(s.env.fs, path, v); err != nil {
		return zero, err
	}

	s.env.log.Debug().Str("store", s.name).Str("path", path).Msg("cache entry built")
	return v, nil
}

// keyString renders a key for log and error messages.
func keyString(key Key) string {
	parts := key.Parts()
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "/")
}
