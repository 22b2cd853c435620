package capture

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// frameReader is the subset of pcapgo readers the offline source needs.
type frameReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Offline is a Source that replays frames from a capture file. Both pcap
// and pcapng containers are handled.
type Offline struct {
	f         *os.File
	reader    frameReader
	source    *gopacket.PacketSource
	closeOnce sync.Once
}

// OpenOffline opens a capture file for replay.
func OpenOffline(path string) (*Offline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file %q: %w", path, err)
	}

	var reader frameReader
	if r, err := pcapgo.NewReader(f); err == nil {
		reader = r
	} else {
		if _, err := f.Seek(0, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("rewind capture file %q: %w", path, err)
		}
		ng, ngErr := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if ngErr != nil {
			f.Close()
			return nil, fmt.Errorf("read capture file %q: %w", path, err)
		}
		reader = ng
	}

	return &Offline{
		f:      f,
		reader: reader,
		source: gopacket.NewPacketSource(reader, reader.LinkType()),
	}, nil
}

// Frames returns the decoded frame channel. The channel closes at end of
// file.
func (o *Offline) Frames() <-chan gopacket.Packet {
	return o.source.Packets()
}

// LinkType returns the link layer type recorded in the file.
func (o *Offline) LinkType() layers.LinkType {
	return o.reader.LinkType()
}

// Close releases the underlying file. Safe to call more than once.
func (o *Offline) Close() {
	o.closeOnce.Do(func() {
		o.f.Close()
	})
}
