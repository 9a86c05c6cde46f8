package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/tapcheck/internal/core"
)

// Pcap replays a capture file.
type Pcap struct {
	path   string
	file   *os.File
	reader *pcapgo.Reader
}

func OpenPcap(path string) (*Pcap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header %s: %w", path, err)
	}
	return &Pcap{path: path, file: f, reader: r}, nil
}

func (p *Pcap) Read(cancel *Cancel) ([]byte, error) {
	if cancel.Fired() {
		return nil, core.ErrCanceled
	}
	data, _, err := p.reader.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read packet from %s: %w", p.path, err)
	}
	return data, nil
}

func (p *Pcap) LinkType() layers.LinkType { return p.reader.LinkType() }

func (p *Pcap) Close() error { return p.file.Close() }

// Recorder copies every datagram a source yields into a pcap stream.
type Recorder struct {
	Source
	mu sync.Mutex
	w  *pcapgo.Writer
}

// Record wraps src so that each datagram read is also written to w.
func Record(src Source, w io.Writer, lt layers.LinkType, snapLen uint32) (*Recorder, error) {
	if snapLen == 0 {
		snapLen = DefaultBufferSize
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, lt); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Recorder{Source: src, w: pw}, nil
}

func (r *Recorder) Read(cancel *Cancel) ([]byte, error) {
	data, err := r.Source.Read(cancel)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(data), Length: len(data)}
	if err := r.w.WritePacket(ci, data); err != nil {
		return nil, fmt.Errorf("record datagram: %w", err)
	}
	return data, nil
}
