package transport

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/gopacket/layers"

	"firestige.xyz/tapcheck/internal/core"
)

// FileTransport wraps a character device or any datagram descriptor,
// either opened from Path or handed over already open.
type FileTransport struct {
	Path  string
	Link  layers.LinkType
	Addr  Addrs
	mu    sync.Mutex
	file  *os.File
	fd    int
	owned bool
}

// NewFileTransport wraps an open file. Close closes it.
func NewFileTransport(f *os.File, lt layers.LinkType, addrs Addrs) *FileTransport {
	return &FileTransport{Path: f.Name(), Link: lt, Addr: addrs, file: f, fd: rawFd(f), owned: true}
}

func (t *FileTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		return nil
	}
	if t.Path == "" {
		return fmt.Errorf("%w: file transport needs a path", core.ErrConfigInvalid)
	}
	f, err := os.OpenFile(t.Path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.Path, err)
	}
	t.file, t.fd, t.owned = f, rawFd(f), true
	return nil
}

func (t *FileTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil || !t.owned {
		return nil
	}
	err := t.file.Close()
	t.file, t.fd = nil, -1
	return err
}

func (t *FileTransport) Fd() uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return ^uintptr(0)
	}
	return uintptr(t.fd)
}

func (t *FileTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return fmt.Errorf("send on %s: %w", t.Path, core.ErrSourceClosed)
	}
	return writeFrame(t.fd, frame)
}

func (t *FileTransport) Addrs() Addrs { return t.Addr }

func (t *FileTransport) LinkType() layers.LinkType { return t.Link }

func (t *FileTransport) Dup() (*os.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil, fmt.Errorf("dup %s: %w", t.Path, core.ErrSourceClosed)
	}
	return dupFile(t.fd, t.Path)
}
