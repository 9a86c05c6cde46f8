package transport

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/gopacket/layers"
	"github.com/songgao/water"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/packet"
	"firestige.xyz/tapcheck/internal/log"
)

// WaterTransport creates or attaches to a TUN or TAP interface.
type WaterTransport struct {
	Name string
	TAP  bool
	Addr Addrs

	mu   sync.Mutex
	ifce *water.Interface
	file *os.File
	fd   int
}

func NewWaterTransport(name string, tap bool, addrs Addrs) *WaterTransport {
	return &WaterTransport{Name: name, TAP: tap, Addr: addrs}
}

func (t *WaterTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ifce != nil {
		return nil
	}
	cfg := water.Config{DeviceType: water.TUN}
	if t.TAP {
		cfg.DeviceType = water.TAP
	}
	cfg.Name = t.Name
	ifce, err := water.New(cfg)
	if err != nil {
		return fmt.Errorf("open interface %q: %w", t.Name, err)
	}
	f, ok := ifce.ReadWriteCloser.(*os.File)
	if !ok {
		ifce.Close()
		return fmt.Errorf("interface %s is not backed by a file descriptor", ifce.Name())
	}
	t.ifce, t.file, t.fd, t.Name = ifce, f, rawFd(f), ifce.Name()

	logger := log.GetLogger().WithField("interface", t.Name)
	if t.TAP && t.Addr.MAC == (packet.MAC{}) {
		if nic, err := net.InterfaceByName(t.Name); err == nil && len(nic.HardwareAddr) == 6 {
			t.Addr.MAC = packet.MAC(nic.HardwareAddr)
		}
	}
	logger.Debugf("opened tap=%t mac=%s", t.TAP, t.Addr.MAC)
	return nil
}

func (t *WaterTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ifce == nil {
		return nil
	}
	err := t.ifce.Close()
	t.ifce, t.file, t.fd = nil, nil, -1
	return err
}

func (t *WaterTransport) Fd() uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return ^uintptr(0)
	}
	return uintptr(t.fd)
}

func (t *WaterTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return fmt.Errorf("send on %s: %w", t.Name, core.ErrSourceClosed)
	}
	return writeFrame(t.fd, frame)
}

func (t *WaterTransport) Addrs() Addrs {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Addr
}

// LinkType is Ethernet for TAP and raw IP for TUN.
func (t *WaterTransport) LinkType() layers.LinkType {
	if t.TAP {
		return layers.LinkTypeEthernet
	}
	return layers.LinkTypeRaw
}

func (t *WaterTransport) Dup() (*os.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil, fmt.Errorf("dup %s: %w", t.Name, core.ErrSourceClosed)
	}
	return dupFile(t.fd, t.Name)
}
