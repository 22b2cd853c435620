package classify

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"netscope/internal/models"
)

const httpPreviewLimit = 200

// Classify converts one captured frame into a PacketRecord. It is a pure
// function of the frame: layer extraction, payload previews, importance and
// explanation all derive from the decoded headers alone.
func Classify(pkt gopacket.Packet) models.PacketRecord {
	rec := models.PacketRecord{
		Type: models.ProtocolOther,
	}

	ts := pkt.Metadata().Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	rec.Timestamp = ts.Format(time.RFC3339Nano)

	rec.Length = pkt.Metadata().Length
	if rec.Length == 0 {
		rec.Length = len(pkt.Data())
	}

	rec.Network = extractNetwork(pkt)

	// Transport detection in fixed priority order. Exactly one variant is
	// populated; ARP is only reached when no IP layer exists.
	if tcpLayer := pkt.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		rec.Type = models.ProtocolTCP
		rec.TCP = &models.TCPInfo{
			SrcPort: uint16(tcp.SrcPort),
			DstPort: uint16(tcp.DstPort),
			Flags:   FlagString(tcp),
			Seq:     tcp.Seq,
			Ack:     tcp.Ack,
			Window:  tcp.Window,
		}
		rec.HTTPPreview = httpPreview(tcp)
		if uint16(tcp.DstPort) == 443 {
			if hello := parseTLSClientHello(tcp.Payload); hello != nil {
				rec.TLSSNI = hello.SNI
				rec.TLSJA3 = hello.JA3Hash
			}
		}
	} else if udpLayer := pkt.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		rec.Type = models.ProtocolUDP
		rec.UDP = &models.UDPInfo{
			SrcPort: uint16(udp.SrcPort),
			DstPort: uint16(udp.DstPort),
			Length:  udp.Length,
		}
		if udp.SrcPort == 53 || udp.DstPort == 53 {
			rec.DNSQuery, rec.DNSAnswer = dnsFields(pkt)
		}
	} else if icmpLayer := pkt.Layer(layers.LayerTypeICMPv4); icmpLayer != nil {
		icmp := icmpLayer.(*layers.ICMPv4)
		rec.Type = models.ProtocolICMP
		rec.ICMP = &models.ICMPInfo{
			Type: icmp.TypeCode.Type(),
			Code: icmp.TypeCode.Code(),
		}
	} else if rec.Network == nil {
		if arpLayer := pkt.Layer(layers.LayerTypeARP); arpLayer != nil {
			arp := arpLayer.(*layers.ARP)
			rec.Type = models.ProtocolARP
			rec.ARP = &models.ARPInfo{
				SrcIP:     protAddr(arp.SourceProtAddress),
				DstIP:     protAddr(arp.DstProtAddress),
				SrcMAC:    hwAddr(arp.SourceHwAddress),
				DstMAC:    hwAddr(arp.DstHwAddress),
				Operation: arp.Operation,
			}
		}
	}

	rec.Summary = summarize(&rec)
	rec.Importance = importanceOf(&rec)
	rec.Explanation = annotate(&rec)

	return rec
}

// FlagString renders the set TCP flags in canonical text form: joined with
// "," in header bit order FIN, SYN, RST, PSH, ACK, URG. A plain SYN is
// "SYN", a handshake reply is "SYN,ACK", pushed data is "PSH,ACK".
func FlagString(tcp *layers.TCP) string {
	var parts []string
	if tcp.FIN {
		parts = append(parts, "FIN")
	}
	if tcp.SYN {
		parts = append(parts, "SYN")
	}
	if tcp.RST {
		parts = append(parts, "RST")
	}
	if tcp.PSH {
		parts = append(parts, "PSH")
	}
	if tcp.ACK {
		parts = append(parts, "ACK")
	}
	if tcp.URG {
		parts = append(parts, "URG")
	}
	return strings.Join(parts, ",")
}

func extractNetwork(pkt gopacket.Packet) *models.Network {
	if ip4Layer := pkt.Layer(layers.LayerTypeIPv4); ip4Layer != nil {
		ip4 := ip4Layer.(*layers.IPv4)
		return &models.Network{
			SrcIP:          ip4.SrcIP.String(),
			DstIP:          ip4.DstIP.String(),
			ProtocolNumber: int(ip4.Protocol),
			TTL:            int(ip4.TTL),
			IPVersion:      4,
		}
	}
	if ip6Layer := pkt.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		ip6 := ip6Layer.(*layers.IPv6)
		return &models.Network{
			SrcIP:          ip6.SrcIP.String(),
			DstIP:          ip6.DstIP.String(),
			ProtocolNumber: int(ip6.NextHeader),
			TTL:            int(ip6.HopLimit),
			IPVersion:      6,
		}
	}
	return nil
}

// httpPreview extracts the first line of an HTTP-looking payload on the
// plain web ports. Anything that does not decode cleanly is ignored.
func httpPreview(tcp *layers.TCP) string {
	dport := uint16(tcp.DstPort)
	if dport != 80 && dport != 8080 {
		return ""
	}
	payload := tcp.Payload
	if len(payload) == 0 {
		return ""
	}
	if len(payload) > httpPreviewLimit {
		payload = payload[:httpPreviewLimit]
	}
	if !utf8.Valid(payload) {
		return ""
	}
	text := string(payload)
	if !strings.HasPrefix(text, "GET") && !strings.HasPrefix(text, "POST") && !strings.HasPrefix(text, "HTTP") {
		return ""
	}
	if idx := strings.Index(text, "\r\n"); idx >= 0 {
		return text[:idx]
	}
	return text
}

// dnsFields pulls the first query name and a short form of the first answer
// from a decoded DNS layer. Decode failures yield empty strings.
func dnsFields(pkt gopacket.Packet) (query, answer string) {
	dnsLayer := pkt.Layer(layers.LayerTypeDNS)
	if dnsLayer == nil {
		return "", ""
	}
	dns := dnsLayer.(*layers.DNS)
	if len(dns.Questions) > 0 {
		query = string(dns.Questions[0].Name)
	}
	if len(dns.Answers) > 0 {
		answer = answerText(dns.Answers[0])
	}
	return query, answer
}

func answerText(a layers.DNSResourceRecord) string {
	switch a.Type {
	case layers.DNSTypeA, layers.DNSTypeAAAA:
		if a.IP != nil {
			return a.IP.String()
		}
	case layers.DNSTypeCNAME:
		if len(a.CNAME) > 0 {
			return string(a.CNAME)
		}
	}
	return "Response"
}

func protAddr(b []byte) string {
	if len(b) != 4 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

func hwAddr(b []byte) string {
	parts := make([]string, 0, len(b))
	for _, octet := range b {
		parts = append(parts, fmt.Sprintf("%02x", octet))
	}
	return strings.Join(parts, ":")
}

// summarize builds the one-line protocol text carried on every record.
func summarize(rec *models.PacketRecord) string {
	switch rec.Type {
	case models.ProtocolTCP:
		if rec.Network != nil {
			return fmt.Sprintf("TCP %s:%d > %s:%d [%s]",
				rec.Network.SrcIP, rec.TCP.SrcPort, rec.Network.DstIP, rec.TCP.DstPort, rec.TCP.Flags)
		}
		return fmt.Sprintf("TCP %d > %d [%s]", rec.TCP.SrcPort, rec.TCP.DstPort, rec.TCP.Flags)
	case models.ProtocolUDP:
		if rec.Network != nil {
			return fmt.Sprintf("UDP %s:%d > %s:%d len=%d",
				rec.Network.SrcIP, rec.UDP.SrcPort, rec.Network.DstIP, rec.UDP.DstPort, rec.UDP.Length)
		}
		return fmt.Sprintf("UDP %d > %d len=%d", rec.UDP.SrcPort, rec.UDP.DstPort, rec.UDP.Length)
	case models.ProtocolICMP:
		if rec.Network != nil {
			return fmt.Sprintf("ICMP %s > %s type=%d code=%d",
				rec.Network.SrcIP, rec.Network.DstIP, rec.ICMP.Type, rec.ICMP.Code)
		}
		return fmt.Sprintf("ICMP type=%d code=%d", rec.ICMP.Type, rec.ICMP.Code)
	case models.ProtocolARP:
		if rec.ARP.Operation == 1 {
			return fmt.Sprintf("ARP who has %s? tell %s", rec.ARP.DstIP, rec.ARP.SrcIP)
		}
		return fmt.Sprintf("ARP %s is at %s", rec.ARP.SrcIP, rec.ARP.SrcMAC)
	default:
		if rec.Network != nil {
			return fmt.Sprintf("IP %s > %s proto=%d", rec.Network.SrcIP, rec.Network.DstIP, rec.Network.ProtocolNumber)
		}
		return fmt.Sprintf("Other len=%d", rec.Length)
	}
}
