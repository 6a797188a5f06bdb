package mailprobe

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
)

// seipdTag is the OpenPGP Symmetrically Encrypted Integrity Protected
// Data packet type. The toolkit synthesizes only its outer structural
// shape; the body is filler, not ciphertext.
const seipdTag = 18

// defaultFiller is the body the original conformance suite ships after
// the SEIPD version byte. Servers checked so far validate only the
// outer header/tag/version structure, so these bytes are arbitrary.
var defaultFiller = []byte{
	0x8C, 0x0D, 0x04, 0x03, 0x03, 0x02, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// BuildPacket encodes one new-format OpenPGP packet: the SEIPD header
// byte, the body length, a version byte of 1 and the filler. The length
// encoding covers all three new-format branches (RFC 4880 §4.2.2), not
// just the short messages the scenarios send.
func BuildPacket(filler []byte) []byte {
	bodyLen := 1 + len(filler)

	packet := []byte{0xC0 | seipdTag}
	switch {
	case bodyLen < 192:
		packet = append(packet, byte(bodyLen))
	case bodyLen < 8384:
		packet = append(packet, byte(((bodyLen-192)>>8)+192), byte((bodyLen-192)&0xFF))
	default:
		packet = append(packet, 0xFF)
		packet = binary.BigEndian.AppendUint32(packet, uint32(bodyLen))
	}
	packet = append(packet, 1) // SEIPD version
	return append(packet, filler...)
}

// decodePacketHeader reads back a new-format packet header, returning
// the tag, the declared body length and the number of header bytes
// consumed.
func decodePacketHeader(packet []byte) (tag int, bodyLen int, consumed int, err error) {
	if len(packet) < 2 {
		return 0, 0, 0, fmt.Errorf("packet too short: %d bytes", len(packet))
	}
	if packet[0]&0xC0 != 0xC0 {
		return 0, 0, 0, fmt.Errorf("not a new-format packet header: %#02x", packet[0])
	}
	tag = int(packet[0] & 0x3F)

	first := int(packet[1])
	switch {
	case first < 192:
		return tag, first, 2, nil
	case first < 224:
		if len(packet) < 3 {
			return 0, 0, 0, fmt.Errorf("truncated two-byte length")
		}
		return tag, (first-192)<<8 + int(packet[2]) + 192, 3, nil
	case first == 255:
		if len(packet) < 6 {
			return 0, 0, 0, fmt.Errorf("truncated five-byte length")
		}
		return tag, int(binary.BigEndian.Uint32(packet[2:6])), 6, nil
	default:
		return 0, 0, 0, fmt.Errorf("partial body lengths not supported: %#02x", packet[1])
	}
}

// Armor wraps packet bytes in a PGP MESSAGE ASCII armor: base64 at 64
// characters per line between the BEGIN/END markers, with the standard
// blank line after the opening marker.
func Armor(packet []byte) string {
	b64 := base64.StdEncoding.EncodeToString(packet)

	var sb strings.Builder
	sb.WriteString("-----BEGIN PGP MESSAGE-----\r\n\r\n")
	for len(b64) > 64 {
		sb.WriteString(b64[:64])
		sb.WriteString("\r\n")
		b64 = b64[64:]
	}
	sb.WriteString(b64)
	sb.WriteString("\r\n-----END PGP MESSAGE-----")
	return sb.String()
}

// unarmor strips the markers and decodes the base64 payload back into
// packet bytes.
func unarmor(armored string) ([]byte, error) {
	var b64 strings.Builder
	inBody := false
	for _, line := range strings.Split(armored, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "-----BEGIN PGP MESSAGE-----"):
			inBody = true
		case strings.HasPrefix(line, "-----END PGP MESSAGE-----"):
			return base64.StdEncoding.DecodeString(b64.String())
		case inBody && line != "":
			b64.WriteString(line)
		}
	}
	return nil, fmt.Errorf("no armor end marker found")
}

// BuildMIMEMessage produces a complete RFC 5322 message carrying the
// armored payload in a multipart/encrypted envelope: a version
// identification part and an octet-stream part, CRLF line endings
// throughout, closed by the standard final boundary.
func BuildMIMEMessage(from string, to []string, subject string, armoredBody string) ([]byte, error) {
	if len(to) == 0 {
		return nil, fmt.Errorf("message needs at least one recipient")
	}

	boundary := "=-=PGPBoundary" + strings.ToUpper(xid.New().String()) + "=-="
	messageID := fmt.Sprintf("<%s@mailprobe.invalid>", xid.New())

	var sb strings.Builder
	write := func(line string) {
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}

	write("From: " + from)
	write("To: " + strings.Join(to, ", "))
	write("Subject: " + subject)
	write("Message-Id: " + messageID)
	write("Date: " + time.Now().Format(time.RFC1123Z))
	write("MIME-Version: 1.0")
	write(fmt.Sprintf(`Content-Type: multipart/encrypted; protocol="application/pgp-encrypted"; boundary="%s"`, boundary))
	write("")
	write("--" + boundary)
	write("Content-Type: application/pgp-encrypted")
	write("Content-Description: PGP/MIME version identification")
	write("")
	write("Version: 1")
	write("")
	write("--" + boundary)
	write(`Content-Type: application/octet-stream; name="encrypted.asc"`)
	write("Content-Description: OpenPGP encrypted message")
	write(`Content-Disposition: inline; filename="encrypted.asc"`)
	write("")
	write(armoredBody)
	write("")
	write("--" + boundary + "--")

	return []byte(sb.String()), nil
}

// SyntheticMessage builds the standard scenario message: a minimal
// SEIPD packet with the default filler, armored and wrapped in the
// multipart/encrypted envelope. Built once per send, never mutated.
func SyntheticMessage(from string, to []string, subject string) ([]byte, error) {
	return BuildMIMEMessage(from, to, subject, Armor(BuildPacket(defaultFiller)))
}

// PlaintextMessage builds a simple non-encrypted message. Scenarios use
// it to assert that the server's encrypted-only policy rejects it.
func PlaintextMessage(from string, to []string, subject, body string) ([]byte, error) {
	if len(to) == 0 {
		return nil, fmt.Errorf("message needs at least one recipient")
	}

	var sb strings.Builder
	write := func(line string) {
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}
	write("From: " + from)
	write("To: " + strings.Join(to, ", "))
	write("Subject: " + subject)
	write("Message-Id: " + fmt.Sprintf("<%s@mailprobe.invalid>", xid.New()))
	write("Date: " + time.Now().Format(time.RFC1123Z))
	write("MIME-Version: 1.0")
	write(`Content-Type: text/plain; charset="utf-8"`)
	write("")
	write(body)
	return []byte(sb.String()), nil
}
