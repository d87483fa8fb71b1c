package acquire

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var errHandlesClosed = errors.New("handle set is closed")

// HandleSet tracks the temporary files that stage downloaded bodies for one
// export. Every handle is released either when its bytes have been read back
// or when the set is closed, whichever comes first.
type HandleSet struct {
	dir    string
	mu     sync.Mutex
	open   map[*Handle]struct{}
	closed bool
}

// Handle is a temporary file owned by a HandleSet.
type Handle struct {
	set      *HandleSet
	file     *os.File
	released bool
}

func NewHandleSet(dir string) *HandleSet {
	return &HandleSet{dir: dir, open: make(map[*Handle]struct{})}
}

// Create opens a new temporary handle.
func (s *HandleSet) Create() (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errHandlesClosed
	}
	file, err := os.CreateTemp(s.dir, "acquire-*.part")
	if err != nil {
		return nil, fmt.Errorf("error creating temporary handle: %w", err)
	}
	h := &Handle{set: s, file: file}
	s.open[h] = struct{}{}
	return h, nil
}

// Len returns the number of handles not yet released.
func (s *HandleSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// Close releases every outstanding handle. Handles created afterwards fail.
func (s *HandleSet) Close() error {
	s.mu.Lock()
	s.closed = true
	open := make([]*Handle, 0, len(s.open))
	for h := range s.open {
		open = append(open, h)
	}
	s.mu.Unlock()

	var errs []error
	for _, h := range open {
		if err := h.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handle) Write(p []byte) (int, error) {
	return h.file.Write(p)
}

// Name returns the path of the underlying file.
func (h *Handle) Name() string {
	return h.file.Name()
}

// Bytes reads back everything written so far.
func (h *Handle) Bytes() ([]byte, error) {
	if _, err := h.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error rewinding temporary handle: %w", err)
	}
	data, err := io.ReadAll(h.file)
	if err != nil {
		return nil, fmt.Errorf("error reading temporary handle: %w", err)
	}
	return data, nil
}

// Release closes and removes the file. Releasing twice is a no-op.
func (h *Handle) Release() error {
	h.set.mu.Lock()
	if h.released {
		h.set.mu.Unlock()
		return nil
	}
	h.released = true
	delete(h.set.open, h)
	h.set.mu.Unlock()

	closeErr := h.file.Close()
	removeErr := os.Remove(h.file.Name())
	if errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}
	return errors.Join(closeErr, removeErr)
}
