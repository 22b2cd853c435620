package conversations

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"netscope/internal/models"
)

// TCPState tracks where a conversation sits in the TCP lifecycle.
type TCPState string

const (
	TCPStateNew         TCPState = "NEW"
	TCPStateSynSent     TCPState = "SYN_SENT"
	TCPStateSynReceived TCPState = "SYN_RECEIVED"
	TCPStateEstablished TCPState = "ESTABLISHED"
	TCPStateFinWait     TCPState = "FIN_WAIT"
	TCPStateClosed      TCPState = "CLOSED"
)

// Key is a normalized 5-tuple. Both directions map to the same conversation.
type Key struct {
	IP1      string
	IP2      string
	Port1    uint16
	Port2    uint16
	Protocol models.ProtocolKind
}

func MakeKey(srcIP, dstIP string, srcPort, dstPort uint16, protocol models.ProtocolKind) Key {
	// Normalize: smaller IP first; if IPs equal, smaller port first.
	if srcIP < dstIP || (srcIP == dstIP && srcPort < dstPort) {
		return Key{IP1: srcIP, IP2: dstIP, Port1: srcPort, Port2: dstPort, Protocol: protocol}
	}
	return Key{IP1: dstIP, IP2: srcIP, Port1: dstPort, Port2: srcPort, Protocol: protocol}
}

// Conversation holds per-flow counters for one normalized 5-tuple.
// Timestamps are unix milliseconds of the capture instants.
type Conversation struct {
	ID          uint64              `json:"id"`
	SrcIP       string              `json:"src_ip"`
	DstIP       string              `json:"dst_ip"`
	SrcPort     uint16              `json:"src_port"`
	DstPort     uint16              `json:"dst_port"`
	Protocol    models.ProtocolKind `json:"protocol"`
	PacketCount int                 `json:"packet_count"`
	ByteCount   int64               `json:"byte_count"`
	FirstSeen   int64               `json:"first_seen"`
	LastSeen    int64               `json:"last_seen"`
	TCPState    TCPState            `json:"tcp_state,omitempty"`
	FwdPackets  int                 `json:"fwd_packets"`
	FwdBytes    int64               `json:"fwd_bytes"`
	RevPackets  int                 `json:"rev_packets"`
	RevBytes    int64               `json:"rev_bytes"`
}

// Tracker maintains the conversation table for the active session.
type Tracker struct {
	mu       sync.Mutex
	table    map[Key]*Conversation
	nextID   uint64
	maxFlows int
	idleTime time.Duration
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		table:    make(map[Key]*Conversation),
		maxFlows: 10000,
		idleTime: 5 * time.Minute,
	}
}

// Track folds one classified record into the conversation table. Records
// without both endpoints (ICMP, ARP, Other) are ignored.
func (t *Tracker) Track(rec *models.PacketRecord) {
	if rec.Network == nil {
		return
	}

	var srcPort, dstPort uint16
	switch {
	case rec.TCP != nil:
		srcPort, dstPort = rec.TCP.SrcPort, rec.TCP.DstPort
	case rec.UDP != nil:
		srcPort, dstPort = rec.UDP.SrcPort, rec.UDP.DstPort
	default:
		return
	}

	key := MakeKey(rec.Network.SrcIP, rec.Network.DstIP, srcPort, dstPort, rec.Type)
	ts := captureMillis(rec.Timestamp)

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.table) >= t.maxFlows {
		t.evictIdle(ts)
	}

	c, exists := t.table[key]
	if !exists {
		t.nextID++
		c = &Conversation{
			ID:        t.nextID,
			SrcIP:     rec.Network.SrcIP,
			DstIP:     rec.Network.DstIP,
			SrcPort:   srcPort,
			DstPort:   dstPort,
			Protocol:  rec.Type,
			FirstSeen: ts,
		}
		if rec.Type == models.ProtocolTCP {
			c.TCPState = TCPStateNew
		}
		t.table[key] = c
	}

	c.PacketCount++
	c.ByteCount += int64(rec.Length)
	c.LastSeen = ts

	// Forward direction matches the conversation's original initiator.
	if rec.Network.SrcIP == c.SrcIP && srcPort == c.SrcPort {
		c.FwdPackets++
		c.FwdBytes += int64(rec.Length)
	} else {
		c.RevPackets++
		c.RevBytes += int64(rec.Length)
	}

	if rec.TCP != nil {
		c.TCPState = advanceTCPState(c.TCPState, rec.TCP.Flags)
	}
}

// Snapshot returns all conversations in creation order.
func (t *Tracker) Snapshot() []Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Conversation, 0, len(t.table))
	for _, c := range t.table {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset clears the table for a new session.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.table = make(map[Key]*Conversation)
	t.nextID = 0
}

func (t *Tracker) evictIdle(nowMs int64) {
	cutoff := nowMs - t.idleTime.Milliseconds()
	for key, c := range t.table {
		if c.LastSeen < cutoff {
			delete(t.table, key)
		}
	}
}

func captureMillis(timestamp string) int64 {
	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		return ts.UnixMilli()
	}
	return time.Now().UnixMilli()
}

func advanceTCPState(current TCPState, flags string) TCPState {
	has := func(name string) bool {
		for _, f := range strings.Split(flags, ",") {
			if f == name {
				return true
			}
		}
		return false
	}

	if has("RST") {
		return TCPStateClosed
	}

	switch current {
	case TCPStateNew:
		if has("SYN") && !has("ACK") {
			return TCPStateSynSent
		}
	case TCPStateSynSent:
		if has("SYN") && has("ACK") {
			return TCPStateSynReceived
		}
	case TCPStateSynReceived:
		if has("ACK") && !has("SYN") {
			return TCPStateEstablished
		}
	case TCPStateEstablished:
		if has("FIN") {
			return TCPStateFinWait
		}
	case TCPStateFinWait:
		if has("FIN") || has("ACK") {
			return TCPStateClosed
		}
	}
	return current
}

// String returns a one-line description of the conversation.
func (c *Conversation) String() string {
	return fmt.Sprintf("conversation#%d %s:%d <-> %s:%d [%s] pkts=%d bytes=%d",
		c.ID, c.SrcIP, c.SrcPort, c.DstIP, c.DstPort, c.Protocol, c.PacketCount, c.ByteCount)
}
