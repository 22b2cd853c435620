package analysis

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netscope/internal/models"
)

func TestSuspiciousExternalHighTraffic(t *testing.T) {
	var recs []models.PacketRecord
	for i := 0; i < 51; i++ {
		recs = append(recs, tcpRec("8.8.8.8", "192.168.1.5", 53, 40000, "ACK", 60))
	}

	out := SuspiciousIPs(recs)

	require.Len(t, out, 1)
	host := out[0]
	assert.Equal(t, "8.8.8.8", host.IP)
	assert.Equal(t, 3, host.SuspicionScore)
	assert.Equal(t, "low", host.Severity)
	assert.Equal(t, []string{"high traffic from an external address"}, host.Reasons)
	assert.Equal(t, 51, host.PacketCount)
	assert.False(t, host.IsPrivate)
	assert.Contains(t, host.Recommendation, "routine monitoring")
}

func TestSuspiciousReservedRange(t *testing.T) {
	recs := []models.PacketRecord{
		tcpRec("0.1.2.3", "192.168.1.5", 1000, 80, "SYN", 60),
	}

	out := SuspiciousIPs(recs)

	require.Len(t, out, 1)
	host := out[0]
	assert.Equal(t, "0.1.2.3", host.IP)
	assert.Equal(t, 5, host.SuspicionScore)
	assert.Equal(t, "medium", host.Severity)
	assert.Contains(t, host.Recommendation, "close monitoring")
}

func TestSuspiciousPortRecommendation(t *testing.T) {
	recs := []models.PacketRecord{
		tcpRec("192.168.1.99", "10.0.0.1", 50000, 4444, "SYN", 60),
	}

	out := SuspiciousIPs(recs)

	require.Len(t, out, 1)
	host := out[0]
	assert.Equal(t, 4, host.SuspicionScore)
	assert.Equal(t, "low", host.Severity)
	assert.True(t, host.IsPrivate)
	assert.Equal(t, []string{"connection to suspicious port 4444"}, host.Reasons)
	assert.Contains(t, host.Recommendation, "inspect")
}

func TestSuspiciousScoreAccumulates(t *testing.T) {
	var recs []models.PacketRecord
	// First scored port wins even when a later one differs.
	recs = append(recs, tcpRec("192.168.1.50", "10.0.0.1", 50000, 6667, "SYN", 60))
	recs = append(recs, tcpRec("192.168.1.50", "10.0.0.1", 50001, 1337, "SYN", 60))
	for i := 0; i < 16; i++ {
		recs = append(recs, tcpRec("192.168.1.50", "10.0.0.1", 50002, 80, "RST,ACK", 60))
	}

	out := SuspiciousIPs(recs)

	require.Len(t, out, 1)
	host := out[0]
	assert.Equal(t, "192.168.1.50", host.IP)
	assert.Equal(t, 6, host.SuspicionScore)
	assert.Equal(t, "medium", host.Severity)
	assert.Equal(t, []string{
		"connection to suspicious port 6667",
		"16 reset connections",
	}, host.Reasons)
	assert.Equal(t, 18, host.PacketCount)
}

func TestSuspiciousLowScoresExcluded(t *testing.T) {
	recs := []models.PacketRecord{
		udpRec("192.168.1.5", "239.255.255.250", 50000, 1900, 200),
		udpRec("169.254.10.10", "192.168.1.255", 137, 137, 90),
	}

	// Multicast is +1 and APIPA +2, both below the reporting floor.
	assert.Empty(t, SuspiciousIPs(recs))
}

func TestSuspiciousSortedAndCapped(t *testing.T) {
	var recs []models.PacketRecord
	for i := 1; i <= 25; i++ {
		src := fmt.Sprintf("0.0.0.%d", i)
		recs = append(recs, tcpRec(src, "192.168.0.1", 40000, 80, "SYN", 60))
	}
	recs = append(recs, tcpRec("0.0.0.9", "192.168.0.1", 40001, 1337, "SYN", 60))

	out := SuspiciousIPs(recs)

	require.Len(t, out, maxSuspiciousEntries)
	assert.Equal(t, "0.0.0.9", out[0].IP)
	assert.Equal(t, 9, out[0].SuspicionScore)
	assert.Equal(t, "high", out[0].Severity)
	assert.Contains(t, out[0].Recommendation, "block")
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i].SuspicionScore, out[i-1].SuspicionScore)
		assert.GreaterOrEqual(t, out[i].SuspicionScore, 3)
	}
}
