package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/log"
)

// Forked reads a device that only supports blocking reads. A helper process,
// a re-execution of the current binary, owns the device and forwards each
// datagram over a socketpair; the parent polls the socketpair and the cancel
// descriptor, so reads stay cancellable.
type Forked struct {
	cmd     *exec.Cmd
	conn    int
	buf     []byte
	pending []byte
	eof     bool
	log     log.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewForked starts the helper for f. The helper inherits the descriptor and
// the parent's copy is closed.
func NewForked(f *os.File, bufSize int) (*Forked, error) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate helper executable: %w", err)
	}
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	child := os.NewFile(uintptr(fds[1]), "helper-conn")

	cmd := exec.Command(exe, "helper")
	cmd.Env = append(os.Environ(),
		HelperEnv+"=1",
		helperBufferEnv+"="+strconv.Itoa(bufSize),
	)
	cmd.ExtraFiles = []*os.File{f, child}
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = helperSysProcAttr()

	err = cmd.Start()
	child.Close()
	f.Close()
	if err != nil {
		unix.Close(fds[0])
		return nil, fmt.Errorf("start helper: %w", err)
	}

	logger := log.GetLogger().WithFields(map[string]interface{}{"source": "forked", "pid": cmd.Process.Pid})
	logger.Debug("helper started")
	return &Forked{
		cmd:  cmd,
		conn: fds[0],
		buf:  make([]byte, bufSize+64),
		log:  logger,
	}, nil
}

func (s *Forked) Read(cancel *Cancel) ([]byte, error) {
	if s.eof {
		return nil, io.EOF
	}
	for {
		if len(s.pending) > 0 {
			f, n, err := consumeFrame(s.pending)
			switch {
			case err == nil:
				s.pending = s.pending[n:]
				return s.deliver(f)
			case !errors.Is(err, errFrameIncomplete):
				return nil, fmt.Errorf("%w: %w", core.ErrHelperFailure, err)
			}
		}

		ready, err := waitReadable(s.conn, cancel)
		if err != nil {
			return nil, err
		}
		if !ready {
			continue
		}
		n, err := unix.Read(s.conn, s.buf)
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
			continue
		case err != nil:
			return nil, fmt.Errorf("%w: %w", core.ErrHelperFailure, err)
		case n == 0:
			return nil, fmt.Errorf("%w: helper exited without end of stream", core.ErrHelperFailure)
		}
		s.pending = append(s.pending, s.buf[:n]...)
	}
}

func (s *Forked) deliver(f frame) ([]byte, error) {
	switch f.kind {
	case frameEOF:
		s.eof = true
		return nil, io.EOF
	case frameError:
		return nil, fmt.Errorf("%w: %s", core.ErrHelperFailure, f.err)
	}
	return f.data, nil
}

// Pid of the helper process.
func (s *Forked) Pid() int { return s.cmd.Process.Pid }

// Close kills the helper and waits for it to exit.
func (s *Forked) Close() error {
	s.closeOnce.Do(func() {
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.closeErr = err
		}
		// The wait status reflects the kill.
		_ = s.cmd.Wait()
		s.log.Debug("helper joined")
		if err := unix.Close(s.conn); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
