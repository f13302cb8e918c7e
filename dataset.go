package pubdata

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// PartitionFunc produces the rows of one partition. Like a store's
// BuildFunc it runs at most once per key unless the partition file is
// deleted.
type PartitionFunc[K Key, R any] func(ctx context.Context, key K) ([]R, error)

// AssignFunc restores key-derived fields onto a row loaded from disk.
// Values encoded in the partition directory name (year, geography) are
// dropped from the file itself; Assign writes them back so rows from
// different partitions concatenate with uniform fields.
type AssignFunc[K Key, R any] func(key K, row *R)

// ReadOption customizes a dataset read.
type ReadOption[R any] func(*readConfig[R])

type readConfig[R any] struct {
	where func(R) bool
}

// Where filters rows at read time. Only rows for which pred returns true
// are included in the result.
func Where[R any](pred func(R) bool) ReadOption[R] {
	return func(cfg *readConfig[R]) {
		cfg.where = pred
	}
}

// Dataset is a directory of immutable parquet partition files, one per
// key, with a manifest.json sidecar recording content hashes. Partitions
// are built on demand and never invalidated individually; Cleanup removes
// the whole tree.
type Dataset[K Key, R any] struct {
	env    *Env
	name   string
	tmpl   Template
	codec  Codec[[]R]
	build  PartitionFunc[K, R]
	assign AssignFunc[K, R]

	mu       sync.Mutex
	manifest *Manifest
}

// NewDataset creates a dataset rooted at <data root>/<name>. The pattern
// is the partition path relative to the dataset root, with one "{}" per
// key part, e.g. "{}/{}/part.parquet" or "YEAR={}/part.parquet".
// assign may be nil when no row field is derived from the key.
func NewDataset[K Key, R any](env *Env, name, pattern string, build PartitionFunc[K, R], assign AssignFunc[K, R]) *Dataset[K, R] {
	return &Dataset[K, R]{
		env:    env,
		name:   name,
		tmpl:   NewTemplate(pattern),
		codec:  ParquetCodec[R](),
		build:  build,
		assign: assign,
	}
}

// Root returns the dataset's directory under the data root.
func (d *Dataset[K, R]) Root() string {
	return d.env.DataPath(d.name)
}

// PartitionPath returns the partition file path for a key.
func (d *Dataset[K, R]) PartitionPath(key K) (string, error) {
	rel, err := d.tmpl.Render(key.Parts()...)
	if err != nil {
		return "", err
	}
	return d.env.DataPath(d.name, filepath.FromSlash(rel)), nil
}

// Has reports whether the partition for a key exists.
func (d *Dataset[K, R]) Has(key K) bool {
	p, err := d.PartitionPath(key)
	if err != nil {
		return false
	}
	exists, err := afero.Exists(d.env.fs, p)
	return err == nil && exists
}

// Manifest returns the dataset's manifest, loading it on first use.
func (d *Dataset[K, R]) Manifest() (*Manifest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.manifest == nil {
		m, err := newManifest(d.env, path.Join(d.Root(), "manifest.json"))
		if err != nil {
			return nil, err
		}
		d.manifest = m
	}
	return d.manifest, nil
}

// Build ensures the partition for key exists, invoking the partition
// producer on a miss. Existing partitions are never rebuilt.
func (d *Dataset[K, R]) Build(ctx context.Context, key K) error {
	if d.Has(key) {
		return nil
	}
	_, err := d.buildPartition(ctx, key)
	return err
}

func (d *Dataset[K, R]) buildPartition(ctx context.Context, key K) ([]R, error) {
	p, err := d.PartitionPath(key)
	if err != nil {
		return nil, err
	}

	rows, err := d.build(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("build %s[%s]: %w", d.name, keyString(key), err)
	}

	if err := d.env.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create partition directory: %w", err)
	}
	if err := d.codec.Dump(d.env.fs, p, rows); err != nil {
		return nil, err
	}

	m, err := d.Manifest()
	if err != nil {
		return nil, err
	}
	rel, _ := d.tmpl.Render(key.Parts()...)
	if err := m.Record(rel, p, len(rows)); err != nil {
		return nil, err
	}

	d.env.log.Debug().Str("dataset", d.name).Str("key", keyString(key)).
		Int("rows", len(rows)).Msg("partition built")
	return rows, nil
}

// loadPartition loads one partition. A corrupt file is removed together
// with its manifest entry and rebuilt once.
func (d *Dataset[K, R]) loadPartition(ctx context.Context, key K, rebuild bool) ([]R, error) {
	p, err := d.PartitionPath(key)
	if err != nil {
		return nil, err
	}

	rows, err := d.codec.Load(d.env.fs, p)
	if err == nil {
		return rows, nil
	}

	var ce *CorruptError
	if !errors.As(err, &ce) {
		return nil, err
	}

	d.env.log.Warn().Str("dataset", d.name).Str("key", keyString(key)).Err(err).
		Msg("corrupt partition, removing")
	if rmErr := d.env.fs.Remove(p); rmErr != nil {
		return nil, fmt.Errorf("failed to remove corrupt partition: %w", rmErr)
	}
	if m, mErr := d.Manifest(); mErr == nil {
		rel, _ := d.tmpl.Render(key.Parts()...)
		if fErr := m.Forget(func(r string) bool { return r == rel }); fErr != nil {
			d.env.log.Warn().Str("dataset", d.name).Str("key", keyString(key)).Err(fErr).
				Msg("failed to drop manifest entry")
		}
	}

	if !rebuild {
		return nil, err
	}
	return d.buildPartition(ctx, key)
}

// Read ensures every requested partition is built, then loads and
// concatenates them in key order. Key-derived fields are restored via the
// dataset's assign callback before any filter runs.
func (d *Dataset[K, R]) Read(ctx context.Context, keys []K, opts ...ReadOption[R]) ([]R, error) {
	cfg := applyReadOptions(opts)

	var out []R
	for _, key := range keys {
		var rows []R
		var err error
		if d.Has(key) {
			rows, err = d.loadPartition(ctx, key, true)
		} else {
			rows, err = d.buildPartition(ctx, key)
		}
		if err != nil {
			return nil, err
		}
		out = d.appendRows(out, key, rows, cfg)
	}
	return out, nil
}

// ReadPresent loads only the partitions that already exist. Missing
// partitions are skipped, never built and never an error. A corrupt
// partition is removed and skipped.
func (d *Dataset[K, R]) ReadPresent(ctx context.Context, keys []K, opts ...ReadOption[R]) ([]R, error) {
	cfg := applyReadOptions(opts)

	var out []R
	for _, key := range keys {
		if !d.Has(key) {
			continue
		}
		rows, err := d.loadPartition(ctx, key, false)
		if err != nil {
			var ce *CorruptError
			if errors.As(err, &ce) {
				continue
			}
			return nil, err
		}
		out = d.appendRows(out, key, rows, cfg)
	}
	return out, nil
}

func (d *Dataset[K, R]) appendRows(out []R, key K, rows []R, cfg readConfig[R]) []R {
	for i := range rows {
		if d.assign != nil {
			d.assign(key, &rows[i])
		}
		if cfg.where != nil && !cfg.where(rows[i]) {
			continue
		}
		out = append(out, rows[i])
	}
	return out
}

func applyReadOptions[R any](opts []ReadOption[R]) readConfig[R] {
	var cfg readConfig[R]
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// BuildAll builds every missing partition, best-effort: a per-key failure
// is logged and recorded while remaining keys continue. Returns a
// *BuildError listing the failed keys, or nil if all succeeded.
func (d *Dataset[K, R]) BuildAll(ctx context.Context, keys []K) error {
	var failed []KeyError
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Build(ctx, key); err != nil {
			d.env.log.Error().Str("dataset", d.name).Str("key", keyString(key)).
				Err(err).Msg("partition build failed")
			failed = append(failed, KeyError{Key: keyString(key), Err: err})
		}
	}
	return NewBuildError(failed)
}

// Cleanup removes the dataset's partition tree and manifest.
func (d *Dataset[K, R]) Cleanup() error {
	d.mu.Lock()
	d.manifest = nil
	d.mu.Unlock()
	return d.env.RemoveTree(d.Root())
}
