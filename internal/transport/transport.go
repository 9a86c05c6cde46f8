// Package transport is the boundary to the interface under test. A
// transport owns the device descriptor, writes synthesized frames, and hands
// a duplicate descriptor to the reader's source.
package transport

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/google/gopacket/layers"
	"golang.org/x/sys/unix"

	"firestige.xyz/tapcheck/internal/core/packet"
)

// Addrs are the addresses a test uses to build expected and synthesized
// packets. The transport never configures them on the interface.
type Addrs struct {
	Local       netip.Addr
	Remote      netip.Addr
	Destination netip.Addr
	MAC         packet.MAC
	PeerMAC     packet.MAC
}

type Transport interface {
	Open() error
	Close() error
	// Fd is the device descriptor, or ^uintptr(0) when closed. Calling it
	// leaves the descriptor's blocking mode as it is.
	Fd() uintptr
	// Send writes one datagram to the device.
	Send(frame []byte) error
	Addrs() Addrs
	LinkType() layers.LinkType
	// Dup returns a new descriptor for the device, owned by the caller.
	Dup() (*os.File, error)
}

// rawFd returns f's descriptor without the blocking-mode side effect of
// (*os.File).Fd. It is -1 when f is closed.
func rawFd(f *os.File) int {
	fd := -1
	rc, err := f.SyscallConn()
	if err != nil {
		return fd
	}
	rc.Control(func(p uintptr) { fd = int(p) })
	return fd
}

func dupFile(fd int, name string) (*os.File, error) {
	nfd, err := unix.Dup(fd)
	if err != nil {
		return nil, fmt.Errorf("dup %s: %w", name, err)
	}
	unix.CloseOnExec(nfd)
	return os.NewFile(uintptr(nfd), name), nil
}

// writeFrame writes frame in one call, waiting for writability when the
// descriptor is non-blocking. A reader source may switch a shared file
// description to non-blocking mode.
func writeFrame(fd int, frame []byte) error {
	for {
		n, err := unix.Write(fd, frame)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			if _, err := unix.Poll(fds, 1000); err != nil && err != unix.EINTR {
				return fmt.Errorf("poll for write: %w", err)
			}
			continue
		case err != nil:
			return err
		case n != len(frame):
			return fmt.Errorf("short write: %d of %d bytes", n, len(frame))
		}
		return nil
	}
}
