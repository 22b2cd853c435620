package analysis

import (
	"fmt"
	"sort"
	"strings"

	"netscope/internal/models"
)

const (
	externalTrafficThreshold = 50
	suspiciousRSTThreshold   = 15
	maxSuspiciousEntries     = 20
)

// scoredPorts is the narrower port set that raises the per-host score, as
// opposed to the wider suspiciousPorts list used by the anomaly detector.
var scoredPorts = map[uint16]bool{1337: true, 31337: true, 4444: true, 5555: true, 6667: true}

// SuspiciousIP is one scored host. Country and City are filled in when
// GeoIP enrichment is configured.
type SuspiciousIP struct {
	IP             string   `json:"ip"`
	SuspicionScore int      `json:"suspicion_score"`
	Severity       string   `json:"severity"`
	Reasons        []string `json:"reasons"`
	PacketCount    int      `json:"packet_count"`
	IsPrivate      bool     `json:"is_private"`
	Recommendation string   `json:"recommendation"`
	Country        string   `json:"country,omitempty"`
	City           string   `json:"city,omitempty"`
}

// SuspiciousIPs scores every address seen as src or dst and returns the
// hosts scoring 3 or more, sorted by score descending, capped at 20.
func SuspiciousIPs(records []models.PacketRecord) []SuspiciousIP {
	srcCounts := newCounter[string]()
	dstCounts := newCounter[string]()
	rstCounts := newCounter[string]()
	firstScoredPort := make(map[string]uint16)
	seen := make(map[string]bool)
	var allIPs []string

	note := func(ip string) {
		if ip != "" && !seen[ip] {
			seen[ip] = true
			allIPs = append(allIPs, ip)
		}
	}

	for i := range records {
		rec := &records[i]
		if rec.Network == nil {
			continue
		}
		src, dst := rec.Network.SrcIP, rec.Network.DstIP
		note(src)
		note(dst)
		if src != "" {
			srcCounts.add(src)
		}
		if dst != "" {
			dstCounts.add(dst)
		}
		if rec.TCP == nil || src == "" {
			continue
		}
		if _, done := firstScoredPort[src]; !done && scoredPorts[rec.TCP.DstPort] {
			firstScoredPort[src] = rec.TCP.DstPort
		}
		if strings.Contains(rec.TCP.Flags, "RST") {
			rstCounts.add(src)
		}
	}

	out := []SuspiciousIP{}
	for _, ip := range allIPs {
		score := 0
		var reasons []string
		portFlagged := false
		private := isPrivateIP(ip)

		if !private && srcCounts.get(ip) > externalTrafficThreshold {
			score += 3
			reasons = append(reasons, "high traffic from an external address")
		}

		switch {
		case strings.HasPrefix(ip, "0."):
			score += 5
			reasons = append(reasons, "reserved address range")
		case strings.HasPrefix(ip, "169.254."):
			score += 2
			reasons = append(reasons, "APIPA self-assigned address")
		case strings.HasPrefix(ip, "224.") || strings.HasPrefix(ip, "239."):
			score++
			reasons = append(reasons, "multicast address")
		}

		if port, ok := firstScoredPort[ip]; ok {
			score += 4
			portFlagged = true
			reasons = append(reasons, fmt.Sprintf("connection to suspicious port %d", port))
		}

		if n := rstCounts.get(ip); n > suspiciousRSTThreshold {
			score += 2
			reasons = append(reasons, fmt.Sprintf("%d reset connections", n))
		}

		if score < 3 {
			continue
		}
		out = append(out, SuspiciousIP{
			IP:             ip,
			SuspicionScore: score,
			Severity:       scoreSeverity(score),
			Reasons:        reasons,
			PacketCount:    srcCounts.get(ip) + dstCounts.get(ip),
			IsPrivate:      private,
			Recommendation: recommendation(score, portFlagged),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].SuspicionScore > out[j].SuspicionScore })
	if len(out) > maxSuspiciousEntries {
		out = out[:maxSuspiciousEntries]
	}
	return out
}

func scoreSeverity(score int) string {
	switch {
	case score >= 7:
		return severityHigh
	case score >= 5:
		return severityMedium
	}
	return severityLow
}

func recommendation(score int, portFlagged bool) string {
	switch {
	case score >= 7:
		return "high risk: block this address at the firewall"
	case score >= 5:
		return "medium risk: keep this address under close monitoring"
	case portFlagged:
		return "suspicious port activity: inspect this host's traffic"
	}
	return "low risk: include in routine monitoring"
}

var privatePrefixes = []string{
	"10.", "192.168.", "127.",
	"172.16.", "172.17.", "172.18.", "172.19.",
	"172.20.", "172.21.", "172.22.", "172.23.",
	"172.24.", "172.25.", "172.26.", "172.27.",
	"172.28.", "172.29.", "172.30.", "172.31.",
}

func isPrivateIP(ip string) bool {
	for _, p := range privatePrefixes {
		if strings.HasPrefix(ip, p) {
			return true
		}
	}
	return false
}
