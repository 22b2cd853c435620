package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"netscope/internal/models"
)

const (
	DefaultSnapLen = 65535
	DefaultTimeout = 100 * time.Millisecond
)

// Source delivers decoded frames to the capture session. The frame channel
// closes when the source is exhausted or closed; Close is idempotent.
type Source interface {
	Frames() <-chan gopacket.Packet
	LinkType() layers.LinkType
	Close()
}

// Live is a Source backed by a pcap handle on a network interface.
type Live struct {
	handle *pcap.Handle
	iface  string
	source *gopacket.PacketSource
}

// ListInterfaces returns all available capture interfaces.
func ListInterfaces() ([]models.InterfaceInfo, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var out []models.InterfaceInfo
	for _, d := range devs {
		info := models.InterfaceInfo{
			Name:        d.Name,
			Description: d.Description,
		}
		for _, addr := range d.Addresses {
			info.Addresses = append(info.Addresses, addr.IP.String())
		}
		out = append(out, info)
	}
	return out, nil
}

// DefaultInterface picks the first device that carries a usable address,
// falling back to the first device found.
func DefaultInterface() (string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	if len(devs) == 0 {
		return "", fmt.Errorf("no capture interfaces found")
	}
	for _, d := range devs {
		for _, addr := range d.Addresses {
			if addr.IP != nil && !addr.IP.IsLoopback() {
				return d.Name, nil
			}
		}
	}
	return devs[0].Name, nil
}

// OpenLive opens a live capture on the given interface. An empty interface
// name selects the default device.
func OpenLive(iface, bpfFilter string, snapLen int) (*Live, error) {
	if iface == "" {
		def, err := DefaultInterface()
		if err != nil {
			return nil, err
		}
		iface = def
	}
	if snapLen <= 0 {
		snapLen = DefaultSnapLen
	}
	handle, err := pcap.OpenLive(iface, int32(snapLen), true, DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("open live capture on %s: %w", iface, err)
	}
	if bpfFilter != "" {
		if err := handle.SetBPFFilter(bpfFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("set BPF filter %q: %w", bpfFilter, err)
		}
	}
	return &Live{
		handle: handle,
		iface:  iface,
		source: gopacket.NewPacketSource(handle, handle.LinkType()),
	}, nil
}

// Frames returns the decoded frame channel. The channel closes once the
// handle is closed and the pending read returns.
func (l *Live) Frames() <-chan gopacket.Packet {
	return l.source.Packets()
}

// LinkType returns the link layer type of the interface.
func (l *Live) LinkType() layers.LinkType {
	return l.handle.LinkType()
}

// Interface returns the resolved interface name.
func (l *Live) Interface() string {
	return l.iface
}

// Stats returns kernel-level capture statistics.
func (l *Live) Stats() (received, dropped int, err error) {
	stats, err := l.handle.Stats()
	if err != nil {
		return 0, 0, err
	}
	return stats.PacketsReceived, stats.PacketsDropped, nil
}

// Close stops the capture. Safe to call more than once.
func (l *Live) Close() {
	if l.handle != nil {
		l.handle.Close()
	}
}
