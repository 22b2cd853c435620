package classify

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"strings"
)

// TLS ClientHello manual byte parser. gopacket decodes TLS records but not
// handshake internals, so the hello body is walked by hand.

// clientHello holds the fields needed for SNI display and the JA3
// fingerprint.
type clientHello struct {
	Version         uint16
	SNI             string
	CipherSuites    []uint16
	Extensions      []uint16
	SupportedGroups []uint16
	ECPointFormats  []uint8
	JA3Hash         string
}

// parseTLSClientHello returns nil unless data starts a TLS handshake record
// carrying a ClientHello. Truncated hellos yield whatever fields were parsed
// before the data ran out.
func parseTLSClientHello(data []byte) *clientHello {
	hello := parseHelloBody(data)
	if hello != nil {
		hello.JA3Hash = computeJA3(hello)
	}
	return hello
}

func parseHelloBody(data []byte) *clientHello {
	if len(data) < 44 {
		return nil
	}
	// Record type 0x16 (handshake), handshake type 0x01 (ClientHello).
	if data[0] != 0x16 || data[5] != 0x01 {
		return nil
	}

	hello := &clientHello{}
	pos := 9 // past record header and handshake header

	if len(data) < pos+2 {
		return hello
	}
	hello.Version = binary.BigEndian.Uint16(data[pos : pos+2])
	pos += 2

	// 32 bytes of client random.
	if len(data) < pos+32 {
		return hello
	}
	pos += 32

	if len(data) < pos+1 {
		return hello
	}
	sessionIDLen := int(data[pos])
	pos++
	if len(data) < pos+sessionIDLen {
		return hello
	}
	pos += sessionIDLen

	if len(data) < pos+2 {
		return hello
	}
	cipherLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if len(data) < pos+cipherLen {
		cipherLen = len(data) - pos
	}
	for i := 0; i+1 < cipherLen; i += 2 {
		hello.CipherSuites = append(hello.CipherSuites, binary.BigEndian.Uint16(data[pos+i:pos+i+2]))
	}
	pos += cipherLen

	if len(data) < pos+1 {
		return hello
	}
	compLen := int(data[pos])
	pos++
	if len(data) < pos+compLen {
		return hello
	}
	pos += compLen

	if len(data) < pos+2 {
		return hello
	}
	extLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 2
	extEnd := pos + extLen
	if extEnd > len(data) {
		extEnd = len(data)
	}

	for pos+4 <= extEnd {
		extType := binary.BigEndian.Uint16(data[pos : pos+2])
		extDataLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		pos += 4
		if pos+extDataLen > extEnd {
			break
		}
		hello.Extensions = append(hello.Extensions, extType)

		ext := data[pos : pos+extDataLen]
		switch extType {
		case 0x0000: // server_name
			if len(ext) >= 5 {
				nameLen := int(binary.BigEndian.Uint16(ext[3:5]))
				if 5+nameLen <= len(ext) {
					hello.SNI = string(ext[5 : 5+nameLen])
				}
			}
		case 0x000a: // supported_groups
			if len(ext) >= 2 {
				listLen := int(binary.BigEndian.Uint16(ext[0:2]))
				for g := 2; g+1 < 2+listLen && g+1 < len(ext); g += 2 {
					hello.SupportedGroups = append(hello.SupportedGroups, binary.BigEndian.Uint16(ext[g:g+2]))
				}
			}
		case 0x000b: // ec_point_formats
			if len(ext) >= 1 {
				fmtLen := int(ext[0])
				for j := 1; j <= fmtLen && j < len(ext); j++ {
					hello.ECPointFormats = append(hello.ECPointFormats, ext[j])
				}
			}
		}

		pos += extDataLen
	}

	return hello
}

// isGREASE reports whether the value is a GREASE value (RFC 8701). GREASE
// values are excluded from the JA3 input.
func isGREASE(val uint16) bool {
	return (val & 0x0f0f) == 0x0a0a
}

// computeJA3 is the MD5 of "version,ciphers,extensions,curves,formats" with
// each list joined by "-".
func computeJA3(hello *clientHello) string {
	if hello == nil || hello.Version == 0 {
		return ""
	}

	joinFiltered := func(vals []uint16) string {
		parts := make([]string, 0, len(vals))
		for _, v := range vals {
			if !isGREASE(v) {
				parts = append(parts, fmt.Sprintf("%d", v))
			}
		}
		return strings.Join(parts, "-")
	}

	formats := make([]string, 0, len(hello.ECPointFormats))
	for _, f := range hello.ECPointFormats {
		formats = append(formats, fmt.Sprintf("%d", f))
	}

	ja3 := fmt.Sprintf("%d,%s,%s,%s,%s",
		hello.Version,
		joinFiltered(hello.CipherSuites),
		joinFiltered(hello.Extensions),
		joinFiltered(hello.SupportedGroups),
		strings.Join(formats, "-"),
	)

	sum := md5.Sum([]byte(ja3))
	return fmt.Sprintf("%x", sum)
}
