package source

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// Cancel is a one-shot signal backed by a pipe, so it can be watched by
// poll alongside a data descriptor.
type Cancel struct {
	fireOnce  sync.Once
	closeOnce sync.Once
	r, w      int
	done      chan struct{}
}

func NewCancel() (*Cancel, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, err
		}
	}
	return &Cancel{r: p[0], w: p[1], done: make(chan struct{})}, nil
}

// Fire triggers the signal. Later calls do nothing.
func (c *Cancel) Fire() {
	c.fireOnce.Do(func() {
		_, _ = unix.Write(c.w, []byte{1})
		close(c.done)
	})
}

// Fd is the read end; it becomes readable once Fire is called and stays so.
func (c *Cancel) Fd() int { return c.r }

// Done is closed when the signal fires.
func (c *Cancel) Done() <-chan struct{} { return c.done }

func (c *Cancel) Fired() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close releases the pipe. Call it only after every watcher has returned.
func (c *Cancel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = errors.Join(unix.Close(c.r), unix.Close(c.w))
	})
	return err
}
