package mailprobe

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jhillyerd/enmime/v2"
)

func TestBuildPacketDefaultFiller(t *testing.T) {
	packet := BuildPacket(defaultFiller)

	if packet[0] != 0xD2 {
		t.Errorf("header byte = %#02x, want 0xD2", packet[0])
	}
	if packet[1] != 17 {
		t.Errorf("length byte = %d, want 17", packet[1])
	}
	if packet[2] != 1 {
		t.Errorf("version byte = %d, want 1", packet[2])
	}
	if len(packet) != 19 {
		t.Errorf("packet length = %d, want 19", len(packet))
	}
}

func TestBuildPacketLengthEncodings(t *testing.T) {
	// Body length is 1 (version byte) plus the filler, so the filler
	// sizes below land exactly on the one/two/five byte boundaries.
	for _, tc := range []struct {
		fillerLen    int
		wantConsumed int
	}{
		{0, 2},
		{190, 2},   // bodyLen 191, last one-byte length
		{191, 3},   // bodyLen 192, first two-byte length
		{192, 3},
		{8382, 3},  // bodyLen 8383, last two-byte length
		{8383, 6},  // bodyLen 8384, first five-byte length
		{70000, 6},
	} {
		packet := BuildPacket(make([]byte, tc.fillerLen))

		tag, bodyLen, consumed, err := decodePacketHeader(packet)
		if err != nil {
			t.Errorf("filler %d: %s", tc.fillerLen, err)
			continue
		}
		if tag != seipdTag {
			t.Errorf("filler %d: tag = %d, want %d", tc.fillerLen, tag, seipdTag)
		}
		if want := 1 + tc.fillerLen; bodyLen != want {
			t.Errorf("filler %d: bodyLen = %d, want %d", tc.fillerLen, bodyLen, want)
		}
		if consumed != tc.wantConsumed {
			t.Errorf("filler %d: consumed = %d, want %d", tc.fillerLen, consumed, tc.wantConsumed)
		}
		if len(packet) != consumed+bodyLen {
			t.Errorf("filler %d: packet length %d != header %d + body %d",
				tc.fillerLen, len(packet), consumed, bodyLen)
		}
		if packet[consumed] != 1 {
			t.Errorf("filler %d: version byte = %d", tc.fillerLen, packet[consumed])
		}
	}
}

func TestArmorRoundTrip(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = byte(i)
	}
	for _, packet := range [][]byte{
		BuildPacket(defaultFiller),
		BuildPacket(make([]byte, 200)),
		BuildPacket(long),
	} {
		armored := Armor(packet)

		lines := strings.Split(armored, "\r\n")
		if lines[0] != "-----BEGIN PGP MESSAGE-----" {
			t.Fatalf("first line = %q", lines[0])
		}
		if lines[1] != "" {
			t.Errorf("no blank line after the opening marker: %q", lines[1])
		}
		if last := lines[len(lines)-1]; last != "-----END PGP MESSAGE-----" {
			t.Fatalf("last line = %q", last)
		}
		for _, line := range lines[2 : len(lines)-1] {
			if len(line) > 64 {
				t.Errorf("armor line exceeds 64 chars: %d", len(line))
			}
		}

		decoded, err := unarmor(armored)
		if err != nil {
			t.Fatalf("unarmor: %s", err)
		}
		if !bytes.Equal(decoded, packet) {
			t.Errorf("round trip mismatch: %d bytes in, %d out", len(packet), len(decoded))
		}
	}
}

func TestUnarmorMissingEnd(t *testing.T) {
	if _, err := unarmor("-----BEGIN PGP MESSAGE-----\r\n\r\nAAAA"); err == nil {
		t.Error("unarmor accepted armor without an end marker")
	}
}

func TestBuildMIMEMessage(t *testing.T) {
	to := []string{"u2@test", "u3@test", "u4@test"}
	armored := Armor(BuildPacket(defaultFiller))
	msg, err := BuildMIMEMessage("u1@test", to, "conformance subject", armored)
	if err != nil {
		t.Fatalf("BuildMIMEMessage: %s", err)
	}
	raw := string(msg)

	if !strings.Contains(raw, "To: u2@test, u3@test, u4@test\r\n") {
		t.Error("To header does not list all recipients")
	}
	if !strings.Contains(raw, `Content-Type: multipart/encrypted; protocol="application/pgp-encrypted"`) {
		t.Error("missing multipart/encrypted content type")
	}
	if !strings.Contains(raw, "Content-Type: application/pgp-encrypted\r\n") {
		t.Error("missing version identification part")
	}
	if !strings.Contains(raw, `Content-Type: application/octet-stream; name="encrypted.asc"`) {
		t.Error("missing octet-stream part")
	}
	if !strings.Contains(raw, "Version: 1\r\n") {
		t.Error("missing Version: 1 body")
	}
	if !strings.Contains(raw, armored) {
		t.Error("armored payload not carried verbatim")
	}

	// Exactly one boundary, used twice as separator and once closed.
	boundary := raw[strings.Index(raw, `boundary="`)+len(`boundary="`):]
	boundary = boundary[:strings.Index(boundary, `"`)]
	if n := strings.Count(raw, "--"+boundary+"--"); n != 1 {
		t.Errorf("closing boundary appears %d times, want 1", n)
	}
	if n := strings.Count(raw, "--"+boundary+"\r\n"); n != 2 {
		t.Errorf("separator boundary appears %d times, want 2", n)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(msg))
	if err != nil {
		t.Fatalf("parsing the built message back: %s", err)
	}
	if got := env.GetHeader("Subject"); got != "conformance subject" {
		t.Errorf("Subject = %q", got)
	}
	if got := env.GetHeader("Message-Id"); !strings.HasSuffix(got, "@mailprobe.invalid>") {
		t.Errorf("Message-Id = %q", got)
	}
}

func TestBuildMIMEMessageNoRecipients(t *testing.T) {
	if _, err := BuildMIMEMessage("u1@test", nil, "s", "body"); err == nil {
		t.Error("accepted a message with no recipients")
	}
}

func TestSyntheticMessageUniqueBoundaries(t *testing.T) {
	a, err := SyntheticMessage("u1@test", []string{"u2@test"}, "s")
	if err != nil {
		t.Fatal(err)
	}
	b, err := SyntheticMessage("u1@test", []string{"u2@test"}, "s")
	if err != nil {
		t.Fatal(err)
	}
	if ba, bb := extractBoundary(t, a), extractBoundary(t, b); ba == bb {
		t.Errorf("two builds share boundary %q", ba)
	}
}

func extractBoundary(t *testing.T, msg []byte) string {
	t.Helper()
	raw := string(msg)
	i := strings.Index(raw, `boundary="`)
	if i < 0 {
		t.Fatal("message has no boundary parameter")
	}
	rest := raw[i+len(`boundary="`):]
	return rest[:strings.Index(rest, `"`)]
}

func TestPlaintextMessage(t *testing.T) {
	msg, err := PlaintextMessage("u1@test", []string{"u2@test"}, "unencrypted", "hello")
	if err != nil {
		t.Fatalf("PlaintextMessage: %s", err)
	}
	raw := string(msg)
	if strings.Contains(raw, "multipart/encrypted") {
		t.Error("plaintext message claims to be encrypted")
	}
	if !strings.Contains(raw, "Content-Type: text/plain") || !strings.Contains(raw, "hello\r\n") {
		t.Errorf("unexpected plaintext structure: %q", raw)
	}
}
