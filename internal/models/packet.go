package models

// ProtocolKind labels the transport-level classification of a record.
type ProtocolKind string

const (
	ProtocolTCP   ProtocolKind = "TCP"
	ProtocolUDP   ProtocolKind = "UDP"
	ProtocolICMP  ProtocolKind = "ICMP"
	ProtocolARP   ProtocolKind = "ARP"
	ProtocolOther ProtocolKind = "Other"
)

// Importance grades how interesting a packet is for the dashboard.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
)

// PacketRecord is the structured, classified representation of one frame.
// Exactly one of TCP/UDP/ICMP/ARP is populated, or none for Other traffic.
type PacketRecord struct {
	Timestamp string    `json:"timestamp"` // RFC3339Nano, capture time
	Length    int       `json:"length"`
	Summary   string    `json:"summary"`
	Network   *Network  `json:"ip,omitempty"`
	TCP       *TCPInfo  `json:"tcp,omitempty"`
	UDP       *UDPInfo  `json:"udp,omitempty"`
	ICMP      *ICMPInfo `json:"icmp,omitempty"`
	ARP       *ARPInfo  `json:"arp,omitempty"`

	Type        ProtocolKind `json:"type"`
	Importance  Importance   `json:"importance"`
	Explanation []string     `json:"explanation"`

	HTTPPreview string `json:"http_data,omitempty"`
	DNSQuery    string `json:"dns_query,omitempty"`
	DNSAnswer   string `json:"dns_answer,omitempty"`
	TLSSNI      string `json:"tls_sni,omitempty"`
	TLSJA3      string `json:"tls_ja3,omitempty"`
}

// Network holds the IP layer fields shared by v4 and v6 records.
type Network struct {
	SrcIP          string `json:"src"`
	DstIP          string `json:"dst"`
	ProtocolNumber int    `json:"protocol"`
	TTL            int    `json:"ttl"`
	IPVersion      int    `json:"version"`
}

// TCPInfo holds the TCP header fields kept per record. Flags is the
// canonical text form: set flags joined with "," in header bit order
// FIN, SYN, RST, PSH, ACK, URG.
type TCPInfo struct {
	SrcPort uint16 `json:"sport"`
	DstPort uint16 `json:"dport"`
	Flags   string `json:"flags"`
	Seq     uint32 `json:"seq"`
	Ack     uint32 `json:"ack"`
	Window  uint16 `json:"window"`
}

// UDPInfo holds the UDP header fields kept per record.
type UDPInfo struct {
	SrcPort uint16 `json:"sport"`
	DstPort uint16 `json:"dport"`
	Length  uint16 `json:"length"`
}

// ICMPInfo holds the ICMPv4 type/code pair.
type ICMPInfo struct {
	Type uint8 `json:"type"`
	Code uint8 `json:"code"`
}

// ARPInfo holds the ARP addresses and operation (1 request, 2 reply).
type ARPInfo struct {
	SrcIP     string `json:"psrc"`
	DstIP     string `json:"pdst"`
	SrcMAC    string `json:"hwsrc"`
	DstMAC    string `json:"hwdst"`
	Operation uint16 `json:"op"`
}

// Transport returns the populated transport variant count. A well-formed
// record reports 0 or 1.
func (r *PacketRecord) Transport() int {
	n := 0
	if r.TCP != nil {
		n++
	}
	if r.UDP != nil {
		n++
	}
	if r.ICMP != nil {
		n++
	}
	if r.ARP != nil {
		n++
	}
	return n
}
