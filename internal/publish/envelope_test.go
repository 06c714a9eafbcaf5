package publish

import (
	"strings"
	"testing"
)

func TestBuildEnvelopeFields(t *testing.T) {
	payload := []byte("10.0.0.1\t65001\t192.168.5.0/24\n")
	env := BuildEnvelope("1.7", "abcdef0123456789abcdef0123456789", 1, payload)

	s := string(env)
	headerEnd := strings.Index(s, "\n\n")
	if headerEnd == -1 {
		t.Fatalf("envelope missing blank-line separator: %q", s)
	}
	header := s[:headerEnd]

	if !strings.Contains(header, "V: 1.7") {
		t.Errorf("missing V: line: %q", header)
	}
	if !strings.Contains(header, "C_HASH_ID: abcdef0123456789abcdef0123456789") {
		t.Errorf("missing C_HASH_ID: line: %q", header)
	}
	if !strings.Contains(header, "R: 1") {
		t.Errorf("missing R: line: %q", header)
	}

	wantL := "L: " + itoa(len(payload))
	if !strings.Contains(header, wantL) {
		t.Errorf("missing %q in header: %q", wantL, header)
	}

	body := s[headerEnd+2:]
	if body != string(payload) {
		t.Errorf("payload mismatch: got %q want %q", body, payload)
	}
}

func TestBuildRawEnvelopeIncludesHashAndIP(t *testing.T) {
	payload := []byte{0x03, 0x00, 0x00, 0x00, 0x06, 0x04}
	env := BuildRawEnvelope("1.7", "cc", 1, "deadbeef", "198.51.100.7", payload)
	s := string(env)
	if !strings.Contains(s, "R_HASH: deadbeef") {
		t.Errorf("missing R_HASH: line: %q", s)
	}
	if !strings.Contains(s, "R_IP: 198.51.100.7") {
		t.Errorf("missing R_IP: line: %q", s)
	}
	if !strings.HasSuffix(s, string(payload)) {
		t.Errorf("payload not verbatim at tail of envelope")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
