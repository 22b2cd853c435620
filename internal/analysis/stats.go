// Package analysis computes traffic statistics, anomaly findings and
// suspicion scores from a point-in-time snapshot of the capture log. All
// functions are pure: they never mutate the snapshot and hold no locks.
package analysis

import (
	"sort"
	"time"

	"netscope/internal/models"
)

// counter tallies keys while remembering first-occurrence order, so that
// ties in the top-N rankings resolve deterministically.
type counter[K comparable] struct {
	counts map[K]int
	order  []K
}

func newCounter[K comparable]() *counter[K] {
	return &counter[K]{counts: make(map[K]int)}
}

func (c *counter[K]) add(key K) { c.addN(key, 1) }

func (c *counter[K]) addN(key K, n int) {
	if _, seen := c.counts[key]; !seen {
		c.order = append(c.order, key)
	}
	c.counts[key] += n
}

func (c *counter[K]) get(key K) int { return c.counts[key] }

func (c *counter[K]) size() int { return len(c.counts) }

func (c *counter[K]) sum() int {
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

type entry[K comparable] struct {
	key   K
	count int
}

// top returns up to n entries sorted by count descending; equal counts keep
// first-occurrence order.
func (c *counter[K]) top(n int) []entry[K] {
	out := make([]entry[K], 0, len(c.order))
	for _, k := range c.order {
		out = append(out, entry[K]{key: k, count: c.counts[k]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].count > out[j].count })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Statistics is the full analysis document served by the statistics
// endpoint: distribution counters, rankings, security counts and the
// anomaly / suspicion sub-reports.
type Statistics struct {
	TotalPackets         int                         `json:"total_packets"`
	ProtocolDistribution map[models.ProtocolKind]int `json:"protocol_distribution"`
	PortDistribution     PortDistribution            `json:"port_distribution"`
	IPStatistics         IPStatistics                `json:"ip_statistics"`
	PacketSizeStats      PacketSizeStats             `json:"packet_size_stats"`
	TimeAnalysis         TimeAnalysis                `json:"time_analysis"`
	TopTalkers           []TopTalker                 `json:"top_talkers"`
	SecurityAnalysis     SecurityAnalysis            `json:"security_analysis"`
	TCPFlags             map[string]int              `json:"tcp_flags"`
	AnomalyDetection     Anomalies                   `json:"anomaly_detection"`
	SuspiciousIPs        []SuspiciousIP              `json:"suspicious_ips"`
}

// PortDistribution ranks the combined src+dst port tally.
type PortDistribution struct {
	TopPorts []PortCount `json:"top_ports"`
}

// PortCount is one ranked port.
type PortCount struct {
	Port  int `json:"port"`
	Count int `json:"count"`
}

// IPStatistics summarises address diversity and the busiest endpoints.
type IPStatistics struct {
	UniqueSrcIPs int       `json:"unique_src_ips"`
	UniqueDstIPs int       `json:"unique_dst_ips"`
	TopSrcIPs    []IPCount `json:"top_src_ips"`
	TopDstIPs    []IPCount `json:"top_dst_ips"`
}

// IPCount is one ranked address.
type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// PacketSizeStats aggregates frame lengths.
type PacketSizeStats struct {
	Min              int            `json:"min"`
	Max              int            `json:"max"`
	Average          float64        `json:"average"`
	TotalBytes       int            `json:"total_bytes"`
	SizeDistribution map[string]int `json:"size_distribution"`
}

// TimeAnalysis covers the capture window.
type TimeAnalysis struct {
	DurationSeconds  float64 `json:"duration_seconds"`
	PacketsPerSecond float64 `json:"packets_per_second"`
	StartTime        string  `json:"start_time,omitempty"`
	EndTime          string  `json:"end_time,omitempty"`
}

// TopTalker is a source IP ranked by total observed bytes. Country and City
// are filled in when GeoIP enrichment is configured.
type TopTalker struct {
	IP      string `json:"ip"`
	Bytes   int    `json:"bytes"`
	Packets int    `json:"packets"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}

// SecurityAnalysis counts traffic by encryption posture and importance.
type SecurityAnalysis struct {
	EncryptedPackets   int `json:"encrypted_packets"`
	UnencryptedPackets int `json:"unencrypted_packets"`
	HighImportance     int `json:"high_importance"`
	MediumImportance   int `json:"medium_importance"`
	LowImportance      int `json:"low_importance"`
}

var sizeBuckets = []struct {
	label string
	limit int
}{
	{"0-100", 100},
	{"101-500", 500},
	{"501-1000", 1000},
	{"1001-1500", 1500},
	{"1501+", 0},
}

var (
	encryptedPorts   = map[uint16]bool{443: true, 22: true, 993: true, 995: true}
	unencryptedPorts = map[uint16]bool{80: true, 21: true, 23: true, 110: true}
)

// Compute builds the full statistics document for one snapshot. An empty
// snapshot yields a zero-valued document, never an error.
func Compute(records []models.PacketRecord) Statistics {
	stats := emptyStatistics()
	if len(records) == 0 {
		return stats
	}
	stats.TotalPackets = len(records)

	ports := newCounter[int]()
	srcIPs := newCounter[string]()
	dstIPs := newCounter[string]()
	srcBytes := newCounter[string]()

	var sizes []int
	var firstTS, lastTS string

	for i := range records {
		rec := &records[i]

		stats.ProtocolDistribution[rec.Type]++

		sport, dport := recordPorts(rec)
		if sport != 0 {
			ports.add(int(sport))
		}
		if dport != 0 {
			ports.add(int(dport))
		}

		if rec.Network != nil {
			if rec.Network.SrcIP != "" {
				srcIPs.add(rec.Network.SrcIP)
				srcBytes.addN(rec.Network.SrcIP, rec.Length)
			}
			if rec.Network.DstIP != "" {
				dstIPs.add(rec.Network.DstIP)
			}
		}

		sizes = append(sizes, rec.Length)
		bucketSize(stats.PacketSizeStats.SizeDistribution, rec.Length)

		if rec.Timestamp != "" {
			if firstTS == "" {
				firstTS = rec.Timestamp
			}
			lastTS = rec.Timestamp
		}

		if rec.TCP != nil {
			stats.TCPFlags[rec.TCP.Flags]++
			if encryptedPorts[rec.TCP.DstPort] {
				stats.SecurityAnalysis.EncryptedPackets++
			}
			if unencryptedPorts[rec.TCP.DstPort] {
				stats.SecurityAnalysis.UnencryptedPackets++
			}
		}

		switch rec.Importance {
		case models.ImportanceHigh:
			stats.SecurityAnalysis.HighImportance++
		case models.ImportanceMedium:
			stats.SecurityAnalysis.MediumImportance++
		case models.ImportanceLow:
			stats.SecurityAnalysis.LowImportance++
		}
	}

	for _, e := range ports.top(20) {
		stats.PortDistribution.TopPorts = append(stats.PortDistribution.TopPorts, PortCount{Port: e.key, Count: e.count})
	}

	stats.IPStatistics.UniqueSrcIPs = srcIPs.size()
	stats.IPStatistics.UniqueDstIPs = dstIPs.size()
	for _, e := range srcIPs.top(10) {
		stats.IPStatistics.TopSrcIPs = append(stats.IPStatistics.TopSrcIPs, IPCount{IP: e.key, Count: e.count})
	}
	for _, e := range dstIPs.top(10) {
		stats.IPStatistics.TopDstIPs = append(stats.IPStatistics.TopDstIPs, IPCount{IP: e.key, Count: e.count})
	}

	stats.PacketSizeStats.Min = sizes[0]
	for _, s := range sizes {
		if s < stats.PacketSizeStats.Min {
			stats.PacketSizeStats.Min = s
		}
		if s > stats.PacketSizeStats.Max {
			stats.PacketSizeStats.Max = s
		}
		stats.PacketSizeStats.TotalBytes += s
	}
	stats.PacketSizeStats.Average = float64(stats.PacketSizeStats.TotalBytes) / float64(len(sizes))

	stats.TimeAnalysis = timeAnalysis(firstTS, lastTS, len(records))

	for _, e := range srcBytes.top(10) {
		stats.TopTalkers = append(stats.TopTalkers, TopTalker{
			IP:      e.key,
			Bytes:   e.count,
			Packets: srcIPs.get(e.key),
		})
	}

	stats.AnomalyDetection = DetectAnomalies(records)
	stats.SuspiciousIPs = SuspiciousIPs(records)
	return stats
}

func emptyStatistics() Statistics {
	dist := make(map[string]int, len(sizeBuckets))
	for _, b := range sizeBuckets {
		dist[b.label] = 0
	}
	return Statistics{
		ProtocolDistribution: make(map[models.ProtocolKind]int),
		PortDistribution:     PortDistribution{TopPorts: []PortCount{}},
		IPStatistics: IPStatistics{
			TopSrcIPs: []IPCount{},
			TopDstIPs: []IPCount{},
		},
		PacketSizeStats:  PacketSizeStats{SizeDistribution: dist},
		TopTalkers:       []TopTalker{},
		TCPFlags:         make(map[string]int),
		AnomalyDetection: emptyAnomalies(),
		SuspiciousIPs:    []SuspiciousIP{},
	}
}

func recordPorts(rec *models.PacketRecord) (sport, dport uint16) {
	switch {
	case rec.TCP != nil:
		return rec.TCP.SrcPort, rec.TCP.DstPort
	case rec.UDP != nil:
		return rec.UDP.SrcPort, rec.UDP.DstPort
	}
	return 0, 0
}

func bucketSize(dist map[string]int, size int) {
	for _, b := range sizeBuckets {
		if b.limit == 0 || size <= b.limit {
			dist[b.label]++
			return
		}
	}
}

func timeAnalysis(first, last string, n int) TimeAnalysis {
	ta := TimeAnalysis{StartTime: first, EndTime: last}
	if first == "" || last == "" || first == last {
		return ta
	}
	start, err1 := time.Parse(time.RFC3339Nano, first)
	end, err2 := time.Parse(time.RFC3339Nano, last)
	if err1 != nil || err2 != nil {
		return ta
	}
	ta.DurationSeconds = end.Sub(start).Seconds()
	if ta.DurationSeconds > 0 {
		ta.PacketsPerSecond = float64(n) / ta.DurationSeconds
	}
	return ta
}
