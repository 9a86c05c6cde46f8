package source

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"firestige.xyz/tapcheck/internal/core"
)

// Direct polls the device descriptor and the cancel descriptor together and
// reads without blocking once data is ready.
type Direct struct {
	file *os.File
	fd   int
	buf  []byte
}

// NewDirect takes ownership of f and switches its descriptor to non-blocking mode.
func NewDirect(f *os.File, bufSize int) (*Direct, error) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set non-blocking on %s: %w", f.Name(), err)
	}
	return &Direct{file: f, fd: fd, buf: make([]byte, bufSize)}, nil
}

func (d *Direct) Read(cancel *Cancel) ([]byte, error) {
	for {
		ready, err := waitReadable(d.fd, cancel)
		if err != nil {
			return nil, err
		}
		if !ready {
			continue
		}
		n, err := unix.Read(d.fd, d.buf)
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
			continue
		case err != nil:
			return nil, fmt.Errorf("read %s: %w", d.file.Name(), err)
		case n == 0:
			return nil, io.EOF
		}
		out := make([]byte, n)
		copy(out, d.buf[:n])
		return out, nil
	}
}

func (d *Direct) Close() error {
	return d.file.Close()
}

// waitReadable blocks until fd is readable or cancel fires. A false result
// with no error means the wait was interrupted and should be retried.
func waitReadable(fd int, cancel *Cancel) (bool, error) {
	fds := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLIN},
		{Fd: int32(cancel.Fd()), Events: unix.POLLIN},
	}
	if _, err := unix.Poll(fds, -1); err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, fmt.Errorf("poll: %w", err)
	}
	if fds[1].Revents != 0 {
		return false, core.ErrCanceled
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return false, fmt.Errorf("poll: %w", core.ErrSourceClosed)
	}
	// POLLHUP and POLLERR surface through the read that follows.
	return fds[0].Revents != 0, nil
}
