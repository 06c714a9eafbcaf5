package publish

import (
	"fmt"
	"strings"
)

// BuildEnvelope prepends the text envelope the collector writes ahead
// of every published value: API version, collector hash, payload
// length, and row count, each as a "Key: value\n" line, followed by a
// blank line and the payload itself.
func BuildEnvelope(apiVersion, collectorHashHex string, rowCount int, payload []byte) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "V: %s\n", apiVersion)
	fmt.Fprintf(&b, "C_HASH_ID: %s\n", collectorHashHex)
	fmt.Fprintf(&b, "L: %d\n", len(payload))
	fmt.Fprintf(&b, "R: %d\n", rowCount)
	b.WriteByte('\n')
	out := make([]byte, 0, b.Len()+len(payload))
	out = append(out, []byte(b.String())...)
	out = append(out, payload...)
	return out
}

// BuildRawEnvelope is BuildEnvelope plus the raw-BMP topic's two extra
// header lines (raw-frame hash and the monitored router's IP), which
// precede the verbatim BMP frame payload.
func BuildRawEnvelope(apiVersion, collectorHashHex string, rowCount int, rawHashHex, routerIP string, payload []byte) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "V: %s\n", apiVersion)
	fmt.Fprintf(&b, "C_HASH_ID: %s\n", collectorHashHex)
	fmt.Fprintf(&b, "L: %d\n", len(payload))
	fmt.Fprintf(&b, "R: %d\n", rowCount)
	fmt.Fprintf(&b, "R_HASH: %s\n", rawHashHex)
	fmt.Fprintf(&b, "R_IP: %s\n", routerIP)
	b.WriteByte('\n')
	out := make([]byte, 0, b.Len()+len(payload))
	out = append(out, []byte(b.String())...)
	out = append(out, payload...)
	return out
}
