package pubdata

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// PartitionInfo records metadata about one built partition file.
type PartitionInfo struct {
	Hash      string    `json:"hash"`      // xxHash64 of the file content
	Rows      int       `json:"rows"`      // Number of rows in the partition
	CreatedAt time.Time `json:"createdAt"` // When the partition was built
}

// Manifest is the manifest.json sidecar of a partitioned dataset. It maps
// each partition's rendered path (relative to the dataset root) to the
// content hash and row count recorded at build time. The hashes make
// idempotence checkable: rebuilding a dataset from unchanged sources must
// leave every recorded hash intact.
type Manifest struct {
	env  *Env
	path string
	mu   sync.Mutex

	Partitions map[string]PartitionInfo `json:"partitions"`
}

// newManifest loads the manifest at path, or returns an empty one if the
// file does not exist yet.
func newManifest(env *Env, path string) (*Manifest, error) {
	m := &Manifest{
		env:        env,
		path:       path,
		Partitions: make(map[string]PartitionInfo),
	}

	exists, err := afero.Exists(env.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to check manifest: %w", err)
	}
	if !exists {
		return m, nil
	}

	data, err := afero.ReadFile(env.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := json.Unmarshal(data, m); err != nil {
		// An unreadable manifest only loses provenance metadata, the
		// partition files themselves are untouched. Start fresh.
		env.log.Warn().Str("path", path).Err(err).Msg("corrupt manifest, resetting")
		m.Partitions = make(map[string]PartitionInfo)
	}
	return m, nil
}

// Record hashes the partition file at absPath and stores its entry under
// the relative key rel, then persists the manifest.
func (m *Manifest) Record(rel, absPath string, rows int) error {
	hash, err := fileHash(m.env.fs, absPath)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Partitions[rel] = PartitionInfo{
		Hash:      hash,
		Rows:      rows,
		CreatedAt: m.env.now(),
	}
	return m.save()
}

// Forget drops the entries whose keys pass the given predicate and
// persists the manifest. Used by dataset cleanup.
func (m *Manifest) Forget(match func(rel string) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for rel := range m.Partitions {
		if match(rel) {
			delete(m.Partitions, rel)
		}
	}
	return m.save()
}

// Info returns the recorded entry for a partition, if any.
func (m *Manifest) Info(rel string) (PartitionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.Partitions[rel]
	return info, ok
}

// Verify re-hashes the partition file at absPath and reports whether it
// still matches the recorded entry for rel.
func (m *Manifest) Verify(rel, absPath string) (bool, error) {
	info, ok := m.Info(rel)
	if !ok {
		return false, nil
	}
	hash, err := fileHash(m.env.fs, absPath)
	if err != nil {
		return false, err
	}
	return hash == info.Hash, nil
}

func (m *Manifest) save() error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return dumpAtomic(m.env.fs, m.path, data)
}
