package blockpool

import (
	"os"
	"sync"

	dflowerrors "github.com/dreamware/dflow/internal/errors"
)

// PageMapper owns the per-host swap file: a file grown in fixed-size slots
// equal to the pool's block size, with freed slots returned to a free list
// and reused before the file is grown again.
//
// Slot i occupies bytes [i*blockSize, (i+1)*blockSize) of the swap file.
// PageMapper does not interpret the bytes it stores; it is pure slot
// bookkeeping plus the pread/pwrite calls.
type PageMapper struct {
	file      *os.File
	blockSize int

	mu       sync.Mutex
	free     []int64 // free slot tokens, reused before growing
	nextSlot int64   // next never-used slot if free is empty
}

// NewPageMapper opens (creating if necessary) the swap file at path.
func NewPageMapper(path string, blockSize int) (*PageMapper, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, dflowerrors.IoFailure(dflowerrors.Context{}, err)
	}
	return &PageMapper{file: f, blockSize: blockSize}, nil
}

// Allocate returns a free slot token, growing the swap file if the free
// list is empty.
func (pm *PageMapper) Allocate() int64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if n := len(pm.free); n > 0 {
		tok := pm.free[n-1]
		pm.free = pm.free[:n-1]
		return tok
	}
	tok := pm.nextSlot
	pm.nextSlot++
	return tok
}

// Free returns a slot token to the free list for reuse.
func (pm *PageMapper) Free(token int64) {
	pm.mu.Lock()
	pm.free = append(pm.free, token)
	pm.mu.Unlock()
}

// WriteAt writes data (which must be exactly blockSize bytes or shorter, for
// a partially-filled final block) to the slot at token.
func (pm *PageMapper) WriteAt(token int64, data []byte) error {
	_, err := pm.file.WriteAt(data, token*int64(pm.blockSize))
	if err != nil {
		return dflowerrors.IoFailure(dflowerrors.Context{}, err)
	}
	return nil
}

// ReadAt reads len(buf) bytes from the slot at token into buf.
func (pm *PageMapper) ReadAt(token int64, buf []byte) error {
	_, err := pm.file.ReadAt(buf, token*int64(pm.blockSize))
	if err != nil {
		return dflowerrors.IoFailure(dflowerrors.Context{}, err)
	}
	return nil
}

// Close releases the swap file. The contents are opaque scratch space and
// are not preserved across runs.
func (pm *PageMapper) Close() error {
	return pm.file.Close()
}
