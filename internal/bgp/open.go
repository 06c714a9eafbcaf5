package bgp

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Capability type codes (RFC 5492 and extensions).
const (
	CapMultiprotocol uint8 = 1
	CapRouteRefresh  uint8 = 2
	CapGracefulRestart uint8 = 64
	CapFourOctetASN  uint8 = 65
	CapAddPath       uint8 = 67
)

// Add-Path direction codes carried in each capability-67 tuple (RFC 7911 §4).
const (
	AddPathReceive uint8 = 1
	AddPathSend    uint8 = 2
	AddPathBoth    uint8 = 3
)

// AddPathKey identifies one negotiated (AFI, SAFI) Add-Path tuple.
type AddPathKey struct {
	AFI  uint16
	SAFI uint8
}

// OpenMessage is a fully decoded BGP OPEN message.
type OpenMessage struct {
	Version     uint8
	ASN         uint32 // resolved ASN: 4-octet capability value when present, else the 2-octet field
	HoldTime    uint16
	BGPID       string
	FourOctetASN bool
	MultiprotocolAFISAFI []AddPathKey // (AFI,SAFI) pairs advertised via capability 1
	AddPath     map[AddPathKey]uint8  // raw per-tuple direction code (1|2|3) as advertised by this OPEN
}

// ParseOpen decodes a BGP OPEN message body, i.e. the bytes following
// the 19-byte common header.
func ParseOpen(data []byte) (*OpenMessage, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("bgp: open too short (%d bytes)", len(data))
	}
	msg := &OpenMessage{
		Version:  data[0],
		ASN:      uint32(binary.BigEndian.Uint16(data[1:3])),
		HoldTime: binary.BigEndian.Uint16(data[3:5]),
		BGPID:    net.IP(data[5:9]).String(),
		AddPath:  make(map[AddPathKey]uint8),
	}
	paramLen := int(data[9])
	offset := 10
	if offset+paramLen > len(data) {
		return nil, fmt.Errorf("bgp: open param length %d exceeds data", paramLen)
	}

	params := data[offset : offset+paramLen]
	if err := parseOptionalParams(params, msg); err != nil {
		return nil, fmt.Errorf("bgp: open optional params: %w", err)
	}
	return msg, nil
}

// parseOptionalParams walks the OPEN's optional-parameters TLV stream,
// dispatching type 2 (Capabilities, RFC 5492) entries.
func parseOptionalParams(data []byte, msg *OpenMessage) error {
	offset := 0
	for offset+2 <= len(data) {
		paramType := data[offset]
		paramLen := int(data[offset+1])
		offset += 2
		if offset+paramLen > len(data) {
			return fmt.Errorf("optional param truncated at offset %d", offset)
		}
		value := data[offset : offset+paramLen]
		offset += paramLen

		if paramType == 2 {
			parseCapabilities(value, msg)
		}
	}
	return nil
}

// parseCapabilities walks a stream of {code(1), length(1), value(length)}
// capability TLVs (RFC 5492 §4).
func parseCapabilities(data []byte, msg *OpenMessage) {
	offset := 0
	for offset+2 <= len(data) {
		code := data[offset]
		length := int(data[offset+1])
		offset += 2
		if offset+length > len(data) {
			return
		}
		value := data[offset : offset+length]
		offset += length

		switch code {
		case CapFourOctetASN:
			if len(value) == 4 {
				msg.FourOctetASN = true
				msg.ASN = binary.BigEndian.Uint32(value)
			}
		case CapMultiprotocol:
			if len(value) == 4 {
				key := AddPathKey{AFI: binary.BigEndian.Uint16(value[0:2]), SAFI: value[3]}
				msg.MultiprotocolAFISAFI = append(msg.MultiprotocolAFISAFI, key)
			}
		case CapAddPath:
			for i := 0; i+4 <= len(value); i += 4 {
				key := AddPathKey{AFI: binary.BigEndian.Uint16(value[i : i+2]), SAFI: value[i+2]}
				msg.AddPath[key] = value[i+3]
			}
		}
	}
}

// NegotiatedAddPath computes, for each (AFI,SAFI) tuple, whether
// Add-Path decoding should be active on this session: the sent OPEN
// must advertise send (2|3) AND the received OPEN must advertise
// receive (1|3) for that tuple.
func NegotiatedAddPath(sent, recv *OpenMessage) map[AddPathKey]bool {
	result := make(map[AddPathKey]bool)
	if sent == nil || recv == nil {
		return result
	}
	for key, sentDir := range sent.AddPath {
		recvDir, ok := recv.AddPath[key]
		if !ok {
			continue
		}
		sentAdvertisesSend := sentDir == AddPathSend || sentDir == AddPathBoth
		recvAdvertisesReceive := recvDir == AddPathReceive || recvDir == AddPathBoth
		if sentAdvertisesSend && recvAdvertisesReceive {
			result[key] = true
		}
	}
	return result
}
