// Package sysinfo reads host-level network state: interface addresses, NIC
// IO counters and the TCP/UDP connection table.
package sysinfo

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// InterfaceDetail describes one NIC with its addresses split by family.
type InterfaceDetail struct {
	Name string   `json:"name"`
	IPv4 []string `json:"ipv4"`
	IPv6 []string `json:"ipv6"`
	MAC  string   `json:"mac"`
	IsUp bool     `json:"is_up"`
	MTU  int      `json:"mtu"`
}

// Info is the host network overview.
type Info struct {
	Hostname   string            `json:"hostname"`
	Platform   string            `json:"platform"`
	Interfaces []InterfaceDetail `json:"interfaces"`
}

// Collect gathers hostname, platform and per-interface addresses.
func Collect() (Info, error) {
	hostname, _ := os.Hostname()
	info := Info{
		Hostname:   hostname,
		Platform:   runtime.GOOS,
		Interfaces: []InterfaceDetail{},
	}

	ifaces, err := psnet.Interfaces()
	if err != nil {
		return info, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		detail := InterfaceDetail{
			Name: iface.Name,
			IPv4: []string{},
			IPv6: []string{},
			MAC:  iface.HardwareAddr,
			MTU:  iface.MTU,
		}
		for _, flag := range iface.Flags {
			if flag == "up" {
				detail.IsUp = true
				break
			}
		}
		for _, addr := range iface.Addrs {
			if strings.Contains(addr.Addr, ":") {
				detail.IPv6 = append(detail.IPv6, addr.Addr)
			} else {
				detail.IPv4 = append(detail.IPv4, addr.Addr)
			}
		}
		info.Interfaces = append(info.Interfaces, detail)
	}
	return info, nil
}

// IOStats mirrors the aggregate NIC counters.
type IOStats struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
	Errin       uint64 `json:"errin"`
	Errout      uint64 `json:"errout"`
	Dropin      uint64 `json:"dropin"`
	Dropout     uint64 `json:"dropout"`
}

// IOCounters returns counters summed across all NICs.
func IOCounters() (IOStats, error) {
	counters, err := psnet.IOCounters(false)
	if err != nil {
		return IOStats{}, fmt.Errorf("read io counters: %w", err)
	}
	if len(counters) == 0 {
		return IOStats{}, nil
	}
	c := counters[0]
	return IOStats{
		BytesSent:   c.BytesSent,
		BytesRecv:   c.BytesRecv,
		PacketsSent: c.PacketsSent,
		PacketsRecv: c.PacketsRecv,
		Errin:       c.Errin,
		Errout:      c.Errout,
		Dropin:      c.Dropin,
		Dropout:     c.Dropout,
	}, nil
}

// Endpoint is one side of a socket.
type Endpoint struct {
	IP   string `json:"ip"`
	Port uint32 `json:"port"`
}

// Connection is one row of the connection table.
type Connection struct {
	Proto   string    `json:"proto"`
	Laddr   *Endpoint `json:"laddr"`
	Raddr   *Endpoint `json:"raddr"`
	Status  string    `json:"status"`
	Pid     int32     `json:"pid"`
	Process string    `json:"process,omitempty"`
}

// ConnSummary sizes a connection report.
type ConnSummary struct {
	Count     int   `json:"count"`
	Limit     int   `json:"limit"`
	ElapsedMs int64 `json:"elapsed_ms"`
}

// ConnectionReport is the connection table response.
type ConnectionReport struct {
	CollectedAt string       `json:"collected_at"`
	Hostname    string       `json:"hostname"`
	Summary     ConnSummary  `json:"summary"`
	Connections []Connection `json:"connections"`
}

const (
	minConnLimit = 50
	maxConnLimit = 5000
)

// Connections lists inet sockets with best-effort process names, sorted
// ESTABLISHED first, then LISTEN, then the rest.
func Connections(limit int) (ConnectionReport, error) {
	if limit < minConnLimit {
		limit = minConnLimit
	}
	if limit > maxConnLimit {
		limit = maxConnLimit
	}

	hostname, _ := os.Hostname()
	report := ConnectionReport{
		CollectedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Hostname:    hostname,
		Summary:     ConnSummary{Limit: limit},
		Connections: []Connection{},
	}

	started := time.Now()
	conns, err := psnet.Connections("inet")
	if err != nil {
		return report, fmt.Errorf("list connections: %w", err)
	}

	names := make(map[int32]string)
	for _, c := range conns {
		if len(report.Connections) >= limit {
			break
		}
		proto := "UDP"
		if c.Type == syscall.SOCK_STREAM {
			proto = "TCP"
		}
		row := Connection{
			Proto:  proto,
			Laddr:  endpoint(c.Laddr),
			Raddr:  endpoint(c.Raddr),
			Status: c.Status,
			Pid:    c.Pid,
		}
		if c.Pid > 0 {
			row.Process = processName(names, c.Pid)
		}
		report.Connections = append(report.Connections, row)
	}

	sort.SliceStable(report.Connections, func(i, j int) bool {
		a, b := report.Connections[i], report.Connections[j]
		if ra, rb := statusRank(a.Status), statusRank(b.Status); ra != rb {
			return ra < rb
		}
		if a.Process != b.Process {
			return a.Process < b.Process
		}
		return remoteIP(a) < remoteIP(b)
	})

	report.Summary.Count = len(report.Connections)
	report.Summary.ElapsedMs = time.Since(started).Milliseconds()
	return report, nil
}

func endpoint(addr psnet.Addr) *Endpoint {
	if addr.IP == "" && addr.Port == 0 {
		return nil
	}
	return &Endpoint{IP: addr.IP, Port: addr.Port}
}

func processName(cache map[int32]string, pid int32) string {
	if name, ok := cache[pid]; ok {
		return name
	}
	name := ""
	if p, err := process.NewProcess(pid); err == nil {
		if n, err := p.Name(); err == nil {
			name = n
		}
	}
	cache[pid] = name
	return name
}

func statusRank(status string) int {
	switch strings.ToUpper(status) {
	case "ESTABLISHED":
		return 0
	case "LISTEN":
		return 1
	}
	return 2
}

func remoteIP(c Connection) string {
	if c.Raddr == nil {
		return ""
	}
	return c.Raddr.IP
}
