package pubdata

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// Default size for the buffer used when copying and hashing files
const defaultBufferSize = 32 * 1024 // 32KB

// bufferPool is a pool of byte slices used for file I/O
var bufferPool = sync.Pool{
	New: func() interface{} {
		buffer := make([]byte, defaultBufferSize)
		return &buffer
	},
}

// fileHash returns the xxHash64 digest of a file's content as a hex string.
// Used by the dataset manifest to verify partition idempotence.
func fileHash(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := xxhash.New()

	bufPtr := bufferPool.Get().(*[]byte)
	_, err = io.CopyBuffer(h, f, *bufPtr)
	bufferPool.Put(bufPtr)

	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
