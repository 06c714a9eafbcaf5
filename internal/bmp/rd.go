package bmp

import (
	"encoding/binary"
	"fmt"
	"net"
)

// DecodeRD decodes an 8-byte Route Distinguisher per RFC 4364 §4.
// Type 0: 2-byte AS, 4-byte assigned number.
// Type 1: 4-byte IPv4 address, 2-byte assigned number.
// Type 2: 4-byte 4-octet AS, 2-byte assigned number.
func DecodeRD(b []byte) string {
	if len(b) != 8 {
		return "0:0"
	}
	rdType := binary.BigEndian.Uint16(b[0:2])
	switch rdType {
	case 0:
		asn := binary.BigEndian.Uint16(b[2:4])
		num := binary.BigEndian.Uint32(b[4:8])
		return fmt.Sprintf("%d:%d", asn, num)
	case 1:
		ip := net.IP(b[2:6]).String()
		num := binary.BigEndian.Uint16(b[6:8])
		return fmt.Sprintf("%s:%d", ip, num)
	case 2:
		asn := binary.BigEndian.Uint32(b[2:6])
		num := binary.BigEndian.Uint16(b[6:8])
		return fmt.Sprintf("%d:%d", asn, num)
	default:
		asn := binary.BigEndian.Uint32(b[2:6])
		num := binary.BigEndian.Uint16(b[6:8])
		return fmt.Sprintf("%d:%d", asn, num)
	}
}
