package analysis

import (
	"fmt"
	"strings"

	"netscope/internal/models"
)

const (
	portScanThreshold    = 20
	synFloodThreshold    = 50
	highTrafficFactor    = 10
	failedConnsThreshold = 10
)

// suspiciousPorts are numbers commonly abused by backdoors, IRC botnets,
// trojans and open proxies.
var suspiciousPorts = map[int]bool{
	1337: true, 31337: true,
	4444: true, 5555: true,
	6667: true, 6668: true, 6669: true,
	12345: true, 54321: true,
	1234: true, 3127: true, 3128: true, 8080: true,
}

// Anomalies groups the heuristic findings. The detectors are independent
// and non-exclusive: one host can appear in several lists.
type Anomalies struct {
	PortScanning      []PortScanFinding    `json:"port_scanning"`
	SynFlood          []SynFloodFinding    `json:"syn_flood"`
	UnusualPorts      []UnusualPortFinding `json:"unusual_ports"`
	HighTrafficIPs    []HighTrafficFinding `json:"high_traffic_ips"`
	FailedConnections []FailedConnFinding  `json:"failed_connections"`
	Warnings          []Warning            `json:"warnings"`
}

// PortScanFinding flags a source contacting many distinct TCP ports.
type PortScanFinding struct {
	IP            string `json:"ip"`
	PortsAccessed int    `json:"ports_accessed"`
	Severity      string `json:"severity"`
	Description   string `json:"description"`
}

// SynFloodFinding flags a source emitting many bare SYNs.
type SynFloodFinding struct {
	IP          string `json:"ip"`
	SynCount    int    `json:"syn_count"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// UnusualPortFinding flags traffic on a known-abused port.
type UnusualPortFinding struct {
	Port        int    `json:"port"`
	Count       int    `json:"count"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// HighTrafficFinding flags a source far above the mean packet volume.
type HighTrafficFinding struct {
	IP          string `json:"ip"`
	PacketCount int    `json:"packet_count"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// FailedConnFinding flags a source involved in many resets.
type FailedConnFinding struct {
	IP          string `json:"ip"`
	RstCount    int    `json:"rst_count"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Warning is the top-level rollup emitted when any of the first four
// detectors fired.
type Warning struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Details string `json:"details"`
}

const (
	severityHigh   = "high"
	severityMedium = "medium"
	severityLow    = "low"
)

// DetectAnomalies runs the fixed-threshold heuristics over one snapshot.
// Findings keep the first-occurrence order of the hosts that triggered them.
func DetectAnomalies(records []models.PacketRecord) Anomalies {
	out := emptyAnomalies()

	scanned := make(map[string]map[uint16]struct{})
	var scanOrder []string
	synCounts := newCounter[string]()
	rstCounts := newCounter[string]()
	srcIPs := newCounter[string]()
	ports := newCounter[int]()

	for i := range records {
		rec := &records[i]

		sport, dport := recordPorts(rec)
		if sport != 0 {
			ports.add(int(sport))
		}
		if dport != 0 {
			ports.add(int(dport))
		}

		var src string
		if rec.Network != nil {
			src = rec.Network.SrcIP
		}
		if src != "" {
			srcIPs.add(src)
		}

		if rec.TCP == nil || src == "" {
			continue
		}
		if rec.TCP.DstPort != 0 {
			set, ok := scanned[src]
			if !ok {
				set = make(map[uint16]struct{})
				scanned[src] = set
				scanOrder = append(scanOrder, src)
			}
			set[rec.TCP.DstPort] = struct{}{}
		}
		if rec.TCP.Flags == "SYN" {
			synCounts.add(src)
		}
		if strings.Contains(rec.TCP.Flags, "RST") {
			rstCounts.add(src)
		}
	}

	for _, ip := range scanOrder {
		if n := len(scanned[ip]); n > portScanThreshold {
			out.PortScanning = append(out.PortScanning, PortScanFinding{
				IP:            ip,
				PortsAccessed: n,
				Severity:      severityHigh,
				Description:   fmt.Sprintf("%s contacted %d distinct ports (possible port scan)", ip, n),
			})
		}
	}

	for _, ip := range synCounts.order {
		if n := synCounts.get(ip); n > synFloodThreshold {
			out.SynFlood = append(out.SynFlood, SynFloodFinding{
				IP:          ip,
				SynCount:    n,
				Severity:    severityHigh,
				Description: fmt.Sprintf("%d SYN packets from %s (possible SYN flood)", n, ip),
			})
		}
	}

	for _, port := range ports.order {
		if suspiciousPorts[port] {
			out.UnusualPorts = append(out.UnusualPorts, UnusualPortFinding{
				Port:        port,
				Count:       ports.get(port),
				Severity:    severityMedium,
				Description: fmt.Sprintf("port %d seen in traffic (commonly abused port)", port),
			})
		}
	}

	if srcIPs.size() > 0 {
		mean := float64(srcIPs.sum()) / float64(srcIPs.size())
		for _, ip := range srcIPs.order {
			if n := srcIPs.get(ip); float64(n) > mean*highTrafficFactor {
				out.HighTrafficIPs = append(out.HighTrafficIPs, HighTrafficFinding{
					IP:          ip,
					PacketCount: n,
					Severity:    severityMedium,
					Description: fmt.Sprintf("%s generated %.1fx the average packet volume", ip, float64(n)/mean),
				})
			}
		}
	}

	for _, ip := range rstCounts.order {
		if n := rstCounts.get(ip); n > failedConnsThreshold {
			out.FailedConnections = append(out.FailedConnections, FailedConnFinding{
				IP:          ip,
				RstCount:    n,
				Severity:    severityLow,
				Description: fmt.Sprintf("%d reset connections involving %s", n, ip),
			})
		}
	}

	total := len(out.PortScanning) + len(out.SynFlood) + len(out.UnusualPorts) + len(out.HighTrafficIPs)
	if total > 0 {
		out.Warnings = append(out.Warnings, Warning{
			Level:   "warning",
			Message: fmt.Sprintf("%d anomalous traffic patterns detected", total),
			Details: "review the findings and consider tightening firewall rules",
		})
	}
	return out
}

func emptyAnomalies() Anomalies {
	return Anomalies{
		PortScanning:      []PortScanFinding{},
		SynFlood:          []SynFloodFinding{},
		UnusualPorts:      []UnusualPortFinding{},
		HighTrafficIPs:    []HighTrafficFinding{},
		FailedConnections: []FailedConnFinding{},
		Warnings:          []Warning{},
	}
}
