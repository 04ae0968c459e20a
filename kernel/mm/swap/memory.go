package swap

import (
	"io"
	gosync "sync"

	"gophervm/kernel"
)

// Memory is a Backing that keeps swapped pages in a growable byte slice.
type Memory struct {
	mu   gosync.RWMutex
	data []byte
}

// ReadAt implements io.ReaderAt. Bytes that were never written read as zero.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int
	if off < int64(len(m.data)) {
		n = kernel.Memcopy(m.data[off:], p)
	}
	for i := n; i < len(p); i++ {
		p[i] = 0
	}

	return len(p), nil
}

// WriteAt implements io.WriterAt.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, io.ErrShortWrite
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if end := off + int64(len(p)); end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}

	return kernel.Memcopy(p, m.data[off:]), nil
}
