package classify

import (
	"fmt"
	"strings"

	"netscope/internal/models"
)

// highValueTCPPorts are destinations whose traffic is always worth a look.
var highValueTCPPorts = map[uint16]bool{
	22:   true,
	443:  true,
	80:   true,
	3389: true,
	21:   true,
}

// importanceOf ranks a record for triage. TCP to a well-known service wins,
// then connection teardown flags, then core UDP services and ICMP.
func importanceOf(rec *models.PacketRecord) models.Importance {
	switch rec.Type {
	case models.ProtocolTCP:
		if highValueTCPPorts[rec.TCP.DstPort] {
			return models.ImportanceHigh
		}
		if hasFlag(rec.TCP.Flags, "RST") || hasFlag(rec.TCP.Flags, "FIN") {
			return models.ImportanceMedium
		}
		return models.ImportanceNormal
	case models.ProtocolUDP:
		switch rec.UDP.DstPort {
		case 53, 67, 68:
			return models.ImportanceMedium
		}
		return models.ImportanceNormal
	case models.ProtocolICMP:
		return models.ImportanceMedium
	case models.ProtocolARP:
		return models.ImportanceLow
	default:
		return models.ImportanceNormal
	}
}

func hasFlag(flags, name string) bool {
	for _, f := range strings.Split(flags, ",") {
		if f == name {
			return true
		}
	}
	return false
}

// annotation is one entry of the explanation rule table: when match returns
// true the rendered text is appended. Rules run in declaration order and
// every matching rule contributes, so the table order is the output order.
type annotation struct {
	match func(*models.PacketRecord) bool
	text  func(*models.PacketRecord) string
}

func literal(s string) func(*models.PacketRecord) string {
	return func(*models.PacketRecord) string { return s }
}

func isTCP(rec *models.PacketRecord) bool  { return rec.Type == models.ProtocolTCP }
func isUDP(rec *models.PacketRecord) bool  { return rec.Type == models.ProtocolUDP }
func isICMP(rec *models.PacketRecord) bool { return rec.Type == models.ProtocolICMP }
func isARP(rec *models.PacketRecord) bool  { return rec.Type == models.ProtocolARP }

func tcpDst(port uint16) func(*models.PacketRecord) bool {
	return func(rec *models.PacketRecord) bool {
		return isTCP(rec) && rec.TCP.DstPort == port
	}
}

func udpDst(ports ...uint16) func(*models.PacketRecord) bool {
	return func(rec *models.PacketRecord) bool {
		if !isUDP(rec) {
			return false
		}
		for _, p := range ports {
			if rec.UDP.DstPort == p {
				return true
			}
		}
		return false
	}
}

func icmpType(t uint8) func(*models.PacketRecord) bool {
	return func(rec *models.PacketRecord) bool {
		return isICMP(rec) && rec.ICMP.Type == t
	}
}

// tcpFlagNote picks the single most telling flag combination. The chain is
// ordered: a lone SYN outranks SYN,ACK, which outranks teardown flags.
func tcpFlagNote(rec *models.PacketRecord) string {
	flags := rec.TCP.Flags
	switch {
	case flags == "SYN":
		return "SYN: connection request (handshake start)"
	case hasFlag(flags, "SYN") && hasFlag(flags, "ACK"):
		return "SYN-ACK: connection accepted (handshake step two)"
	case hasFlag(flags, "FIN"):
		return "FIN: graceful connection close"
	case hasFlag(flags, "RST"):
		return "RST: connection reset or refused"
	case hasFlag(flags, "PSH"):
		return "PSH: data pushed straight to the application"
	}
	return ""
}

func isPrivateAddr(ip string) bool {
	return strings.HasPrefix(ip, "192.168.") || strings.HasPrefix(ip, "10.") || strings.HasPrefix(ip, "172.")
}

// addrClassNote classifies one endpoint address: private, loopback,
// multicast or limited broadcast, first match only.
func addrClassNote(role, ip string) string {
	switch {
	case isPrivateAddr(ip):
		return fmt.Sprintf("%s %s is on the local network", role, ip)
	case strings.HasPrefix(ip, "127."):
		return fmt.Sprintf("%s %s is this machine (loopback)", role, ip)
	case strings.HasPrefix(ip, "224.") || strings.HasPrefix(ip, "239."):
		return fmt.Sprintf("%s %s is multicast (one-to-many delivery)", role, ip)
	case ip == "255.255.255.255":
		return fmt.Sprintf("%s 255.255.255.255 is the limited broadcast address", role)
	}
	return ""
}

// annotationRules is the full explanation table. Declaration order is
// priority order: protocol label first, then port notes, flag and type
// notes, and address-class notes last.
var annotationRules = []annotation{
	// Protocol labels.
	{isTCP, literal("TCP: reliable, connection-oriented transport")},
	{isUDP, literal("UDP: fast, connectionless transport")},
	{isUDP, literal("no delivery guarantee, common for streaming and real-time traffic")},
	{isICMP, literal("ICMP: network diagnostics and error reporting")},
	{isARP, literal("ARP: resolves IP addresses to MAC addresses")},
	{isARP, literal("needed for devices to talk on the local segment")},

	// TCP destination port notes.
	{tcpDst(80), literal("port 80: HTTP (unencrypted web traffic)")},
	{tcpDst(80), literal("data can be read by anyone on the path")},
	{tcpDst(443), literal("port 443: HTTPS (encrypted web traffic)")},
	{tcpDst(443), literal("content is protected with SSL/TLS")},
	{tcpDst(22), literal("port 22: SSH (remote login)")},
	{tcpDst(22), literal("encrypted channel to the remote host")},
	{tcpDst(21), literal("port 21: FTP (file transfer)")},
	{tcpDst(21), literal("credentials travel in clear text")},
	{tcpDst(3389), literal("port 3389: RDP (remote desktop)")},
	{tcpDst(3389), literal("remote access to a Windows host")},
	{tcpDst(25), literal("port 25: SMTP (outgoing mail)")},
	{tcpDst(110), literal("port 110: POP3 (incoming mail)")},
	{tcpDst(143), literal("port 143: IMAP (incoming mail)")},
	{tcpDst(993), literal("port 993: IMAPS (encrypted incoming mail)")},
	{tcpDst(3306), literal("port 3306: MySQL database")},
	{tcpDst(5432), literal("port 5432: PostgreSQL database")},
	{tcpDst(8080), literal("port 8080: HTTP alternate (development web server)")},

	// TCP flag note, one line for the dominant combination.
	{
		func(rec *models.PacketRecord) bool { return isTCP(rec) && tcpFlagNote(rec) != "" },
		tcpFlagNote,
	},

	// UDP port notes. DNS counts on either side of the exchange.
	{
		func(rec *models.PacketRecord) bool {
			return isUDP(rec) && (rec.UDP.SrcPort == 53 || rec.UDP.DstPort == 53)
		},
		literal("port 53: DNS lookup"),
	},
	{
		func(rec *models.PacketRecord) bool {
			return isUDP(rec) && (rec.UDP.SrcPort == 53 || rec.UDP.DstPort == 53)
		},
		literal("resolves names like www.example.com to addresses"),
	},
	{
		udpDst(67, 68),
		func(rec *models.PacketRecord) string {
			return fmt.Sprintf("port %d: DHCP (automatic address assignment)", rec.UDP.DstPort)
		},
	},
	{udpDst(123), literal("port 123: NTP time synchronisation")},
	{
		udpDst(137, 138),
		func(rec *models.PacketRecord) string {
			return fmt.Sprintf("port %d: NetBIOS name service", rec.UDP.DstPort)
		},
	},
	{
		udpDst(161, 162),
		func(rec *models.PacketRecord) string {
			return fmt.Sprintf("port %d: SNMP device monitoring", rec.UDP.DstPort)
		},
	},
	{
		func(rec *models.PacketRecord) bool {
			return isUDP(rec) && rec.UDP.DstPort >= 5060 && rec.UDP.DstPort <= 5061
		},
		literal("port 5060-5061: SIP (VoIP signalling)"),
	},
	{
		func(rec *models.PacketRecord) bool {
			return isUDP(rec) && rec.UDP.DstPort >= 27000 && rec.UDP.DstPort <= 27050
		},
		literal("high port in the 27000 range: possible online gaming"),
	},

	// ICMP type notes.
	{icmpType(8), literal("echo request (ping)")},
	{icmpType(8), literal("checks whether the target is reachable")},
	{icmpType(0), literal("echo reply (ping response)")},
	{icmpType(0), literal("the target answered, it is up")},
	{icmpType(3), literal("destination unreachable")},
	{icmpType(3), literal("blocked by a firewall, no route, or service down")},
	{icmpType(11), literal("time exceeded (TTL ran out in transit)")},

	// ARP operation notes.
	{
		func(rec *models.PacketRecord) bool { return isARP(rec) && rec.ARP.Operation == 1 },
		literal("ARP request: who has this address"),
	},
	{
		func(rec *models.PacketRecord) bool { return isARP(rec) && rec.ARP.Operation == 2 },
		literal("ARP reply: address resolved"),
	},

	// Address-class notes, source first.
	{
		func(rec *models.PacketRecord) bool {
			return rec.Network != nil && addrClassNote("source", rec.Network.SrcIP) != ""
		},
		func(rec *models.PacketRecord) string { return addrClassNote("source", rec.Network.SrcIP) },
	},
	{
		func(rec *models.PacketRecord) bool {
			return rec.Network != nil && addrClassNote("destination", rec.Network.DstIP) != ""
		},
		func(rec *models.PacketRecord) string { return addrClassNote("destination", rec.Network.DstIP) },
	},
}

// annotate evaluates the rule table against a record. A record no rule
// matches gets the single fallback annotation.
func annotate(rec *models.PacketRecord) []string {
	var notes []string
	for _, rule := range annotationRules {
		if rule.match(rec) {
			notes = append(notes, rule.text(rec))
		}
	}
	if len(notes) == 0 {
		notes = append(notes, "other traffic")
	}
	return notes
}

// ExplanationText renders the annotation list in display form.
func ExplanationText(notes []string) string {
	return strings.Join(notes, " | ")
}
