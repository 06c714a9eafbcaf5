package bmp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// ReadFrame reads exactly one complete BMP message (common header plus
// body) from br and returns its raw bytes, including the header. It
// blocks on partial reads rather than busy-waiting, relying on the
// underlying reader's blocking semantics.
func ReadFrame(br *bufio.Reader) ([]byte, error) {
	verByte, err := br.Peek(1)
	if err != nil {
		return nil, err
	}
	version := verByte[0]

	if version != BMPVersion3 {
		return readLegacyFrame(br)
	}

	hdr := make([]byte, CommonHeaderSizeV3)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, err
	}
	totalLength := binary.BigEndian.Uint32(hdr[1:5])

	if totalLength > MaxMessageLength {
		return nil, fmt.Errorf("bmp: total_length %d exceeds max frame size %d", totalLength, MaxMessageLength)
	}
	if totalLength < uint32(CommonHeaderSizeV3) {
		return nil, fmt.Errorf("bmp: total_length %d smaller than common header size %d", totalLength, CommonHeaderSizeV3)
	}

	frame := make([]byte, totalLength)
	copy(frame, hdr)
	if _, err := io.ReadFull(br, frame[CommonHeaderSizeV3:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// readLegacyFrame handles the BMP v1/v2 legacy header shape: a fixed
// 43-byte header (version, type, and a per-peer header with no
// explicit total_length field) immediately followed, for Route
// Monitoring messages, by a BGP message whose own length field
// determines the frame boundary. Other legacy message types carry no
// reliable length signal and are treated as malformed, matching the
// fail-closed framing semantics applied to v3.
func readLegacyFrame(br *bufio.Reader) ([]byte, error) {
	hdr := make([]byte, LegacyCommonHeaderSize)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, err
	}
	msgType := hdr[1]
	if msgType != MsgTypeRouteMonitoring {
		return nil, fmt.Errorf("bmp: legacy (v1/v2) message type %d has no determinable length", msgType)
	}

	bgpHdr := make([]byte, 19)
	if _, err := io.ReadFull(br, bgpHdr); err != nil {
		return nil, err
	}
	bgpLen := int(binary.BigEndian.Uint16(bgpHdr[16:18]))
	if bgpLen < 19 {
		return nil, fmt.Errorf("bmp: legacy frame carries invalid bgp length %d", bgpLen)
	}

	rest := make([]byte, bgpLen-19)
	if len(rest) > 0 {
		if _, err := io.ReadFull(br, rest); err != nil {
			return nil, err
		}
	}

	frame := make([]byte, 0, len(hdr)+len(bgpHdr)+len(rest))
	frame = append(frame, hdr...)
	frame = append(frame, bgpHdr...)
	frame = append(frame, rest...)
	return frame, nil
}

// Parse decodes a single complete BMP frame (as returned by ReadFrame).
func Parse(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("bmp: empty frame")
	}
	if data[0] != BMPVersion3 {
		return parseLegacy(data)
	}

	if len(data) < CommonHeaderSizeV3 {
		return nil, fmt.Errorf("bmp: frame too short for common header (%d bytes)", len(data))
	}

	totalLength := binary.BigEndian.Uint32(data[1:5])
	msgType := data[5]

	if totalLength > MaxMessageLength {
		return nil, fmt.Errorf("bmp: total_length %d exceeds max %d", totalLength, MaxMessageLength)
	}
	if int(totalLength) != len(data) {
		return nil, fmt.Errorf("bmp: total_length %d does not match frame size %d", totalLength, len(data))
	}

	msg := &Message{Version: BMPVersion3, Type: msgType, Length: totalLength}
	body := data[CommonHeaderSizeV3:]

	switch msgType {
	case MsgTypeInitiation:
		msg.Initiation = parseInitiationTLVs(body)
	case MsgTypeTermination:
		msg.Termination = parseTerminationTLVs(body)
	case MsgTypeRouteMonitoring:
		peer, rest, err := parsePeerHeader(body)
		if err != nil {
			return nil, fmt.Errorf("bmp: route monitoring: %w", err)
		}
		msg.Peer = peer
		msg.BGPPayload = rest
	case MsgTypeStatisticsReport:
		peer, rest, err := parsePeerHeader(body)
		if err != nil {
			return nil, fmt.Errorf("bmp: stats report: %w", err)
		}
		msg.Peer = peer
		stats, err := parseStatsTLVs(rest)
		if err != nil {
			return nil, fmt.Errorf("bmp: stats report: %w", err)
		}
		msg.Stats = stats
	case MsgTypePeerUp:
		peer, rest, err := parsePeerHeader(body)
		if err != nil {
			return nil, fmt.Errorf("bmp: peer up: %w", err)
		}
		msg.Peer = peer
		pu, err := parsePeerUp(rest)
		if err != nil {
			return nil, fmt.Errorf("bmp: peer up: %w", err)
		}
		msg.PeerUp = pu
	case MsgTypePeerDown:
		peer, rest, err := parsePeerHeader(body)
		if err != nil {
			return nil, fmt.Errorf("bmp: peer down: %w", err)
		}
		msg.Peer = peer
		pd, err := parsePeerDown(rest)
		if err != nil {
			return nil, fmt.Errorf("bmp: peer down: %w", err)
		}
		msg.PeerDown = pd
	case MsgTypeRouteMirroring:
		peer, rest, err := parsePeerHeader(body)
		if err != nil {
			return nil, fmt.Errorf("bmp: route mirroring: %w", err)
		}
		msg.Peer = peer
		msg.BGPPayload = rest
	default:
		// Unknown message type: retained as an empty message so the
		// session can skip it without closing, per spec §7.
	}

	return msg, nil
}

func parseLegacy(data []byte) (*Message, error) {
	if len(data) < LegacyCommonHeaderSize {
		return nil, fmt.Errorf("bmp: legacy frame too short (%d bytes)", len(data))
	}
	version := data[0]
	msgType := data[1]
	msg := &Message{Version: version, Type: msgType, Length: uint32(len(data))}

	if msgType != MsgTypeRouteMonitoring {
		return msg, nil
	}

	peer, rest, err := parsePeerHeader(data[2:LegacyCommonHeaderSize])
	if err != nil {
		return nil, fmt.Errorf("bmp: legacy peer header: %w", err)
	}
	msg.Peer = peer
	msg.BGPPayload = append(rest, data[LegacyCommonHeaderSize:]...)
	return msg, nil
}

// parsePeerHeader decodes the 42-byte BMP per-peer header and returns
// the remaining bytes of the message body.
func parsePeerHeader(data []byte) (*PeerHeader, []byte, error) {
	if len(data) < PerPeerHeaderSize {
		return nil, nil, fmt.Errorf("too short for per-peer header (%d bytes)", len(data))
	}

	ph := &PeerHeader{
		PeerType: data[0],
		Flags:    data[1],
	}
	ph.IsLocRIB = ph.PeerType == PeerTypeLocRIB
	ph.IsIPv6 = ph.Flags&PeerFlagV != 0
	ph.IsPostPolicy = ph.Flags&PeerFlagL != 0
	ph.IsLegacyASPath = ph.Flags&PeerFlagA != 0
	ph.IsAdjRibOut = ph.Flags&PeerFlagO != 0

	ph.PeerRD = DecodeRD(data[2:10])

	addrBytes := data[10:26]
	if ph.IsIPv6 {
		ph.PeerAddr = net.IP(addrBytes).String()
	} else {
		ph.PeerAddr = net.IP(addrBytes[12:16]).String()
	}

	ph.PeerAS = binary.BigEndian.Uint32(data[26:30])
	ph.PeerBGPID = net.IP(data[30:34]).String()

	sec := binary.BigEndian.Uint32(data[34:38])
	usec := binary.BigEndian.Uint32(data[38:42])
	if sec == 0 && usec == 0 {
		ph.Timestamp = time.Now().UTC()
	} else {
		ph.Timestamp = time.Unix(int64(sec), int64(usec)*1000).UTC()
	}

	return ph, data[PerPeerHeaderSize:], nil
}

// parseInitiationTLVs decodes a stream of Initiation (type 4) TLVs.
// Unknown TLV types are skipped, not fatal.
func parseInitiationTLVs(data []byte) *InitiationInfo {
	info := &InitiationInfo{}
	offset := 0
	for offset+4 <= len(data) {
		tlvType := binary.BigEndian.Uint16(data[offset : offset+2])
		tlvLen := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		offset += 4
		if offset+tlvLen > len(data) {
			break
		}
		value := string(data[offset : offset+tlvLen])
		offset += tlvLen

		switch tlvType {
		case TLVTypeFreeForm:
			info.FreeForm = value
		case TLVTypeSysDescr:
			info.SysDescr = value
		case TLVTypeSysName:
			info.SysName = value
		case TLVTypeRouterBGPID:
			info.RouterBGPID = value
		}
		// Unknown TLVs are silently skipped; the parser stays side-effect
		// free and does not report them to the caller.
	}
	return info
}

// parseTerminationTLVs decodes a stream of Termination (type 5) TLVs.
func parseTerminationTLVs(data []byte) *TerminationInfo {
	info := &TerminationInfo{}
	offset := 0
	for offset+4 <= len(data) {
		tlvType := binary.BigEndian.Uint16(data[offset : offset+2])
		tlvLen := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		offset += 4
		if offset+tlvLen > len(data) {
			break
		}
		value := data[offset : offset+tlvLen]
		offset += tlvLen

		switch tlvType {
		case TLVTypeTermFreeForm:
			info.FreeForm = string(value)
		case TLVTypeTermReason:
			if len(value) >= 2 {
				info.ReasonCode = binary.BigEndian.Uint16(value[0:2])
				info.HasReason = true
			}
		}
	}
	return info
}

// parseStatsTLVs decodes a Statistics Report (type 1) body: a 4-byte
// count followed by that many {type(2), length(2), value(length)}
// TLVs, where length is 4 or 8 depending on the counter's native
// width. Unknown types are skipped, not fatal.
func parseStatsTLVs(data []byte) (map[uint16]uint64, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("too short for stats count (%d bytes)", len(data))
	}
	count := binary.BigEndian.Uint32(data[0:4])
	offset := 4
	stats := make(map[uint16]uint64, count)

	for i := uint32(0); i < count && offset+4 <= len(data); i++ {
		statType := binary.BigEndian.Uint16(data[offset : offset+2])
		statLen := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		offset += 4
		if offset+statLen > len(data) {
			break
		}
		value := data[offset : offset+statLen]
		offset += statLen
		if statType > StatRoutesLocRib {
			// Unknown type: skip.
			continue
		}

		switch statLen {
		case 4:
			stats[statType] = uint64(binary.BigEndian.Uint32(value))
		case 8:
			stats[statType] = binary.BigEndian.Uint64(value)
		default:
			// Unknown width: skip.
			continue
		}
	}
	return stats, nil
}

// parsePeerUp decodes a Peer Up Notification (type 3) body, following
// the per-peer header.
func parsePeerUp(data []byte) (*PeerUpInfo, error) {
	if len(data) < 20 {
		return nil, fmt.Errorf("too short for peer up fixed fields (%d bytes)", len(data))
	}
	isV6 := true
	addr := net.IP(data[0:16])
	if isLocalAddrV4RightJustified(data[0:16]) {
		isV6 = false
	}

	pu := &PeerUpInfo{
		LocalPort:  binary.BigEndian.Uint16(data[16:18]),
		RemotePort: binary.BigEndian.Uint16(data[18:20]),
	}
	if isV6 {
		pu.LocalAddr = addr.String()
	} else {
		pu.LocalAddr = net.IP(data[12:16]).String()
	}

	rest := data[20:]
	sentLen, err := bgpMessageLength(rest)
	if err != nil {
		return nil, fmt.Errorf("sent OPEN: %w", err)
	}
	if sentLen > len(rest) {
		return nil, fmt.Errorf("sent OPEN length %d exceeds available data", sentLen)
	}
	pu.SentOpen = rest[:sentLen]
	rest = rest[sentLen:]

	recvLen, err := bgpMessageLength(rest)
	if err != nil {
		return nil, fmt.Errorf("received OPEN: %w", err)
	}
	if recvLen > len(rest) {
		return nil, fmt.Errorf("received OPEN length %d exceeds available data", recvLen)
	}
	pu.RecvOpen = rest[:recvLen]

	return pu, nil
}

// isLocalAddrV4RightJustified reports whether a 16-byte local-address
// field looks like an IPv4 address right-justified with leading zeros
// (the V=0 encoding called out in spec §4.C), as opposed to a genuine
// IPv4-mapped IPv6 address (which net.IP.To4 also accepts).
func isLocalAddrV4RightJustified(b []byte) bool {
	for i := 0; i < 12; i++ {
		if b[i] != 0 {
			return false
		}
	}
	return true
}

// parsePeerDown decodes a Peer Down Notification (type 2) body,
// following the per-peer header.
func parsePeerDown(data []byte) (*PeerDownInfo, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("too short for reason code")
	}
	pd := &PeerDownInfo{Reason: data[0]}
	rest := data[1:]

	switch pd.Reason {
	case PeerDownLocalNotify, PeerDownRemoteNotify:
		pd.Notification = rest
	case PeerDownLocalNoNotify:
		if len(rest) < 2 {
			return nil, fmt.Errorf("reason 2 missing FSM code")
		}
		pd.FSMCode = binary.BigEndian.Uint16(rest[0:2])
	case PeerDownRemoteNoNotify, PeerDownLocal:
		// no additional data
	case PeerDownTLV:
		pd.TLVReason = decodePeerDownTLVReason(rest)
	}
	return pd, nil
}

// decodePeerDownTLVReason decodes the RFC 8671 TLV-formatted peer-down
// reason into a human-readable summary. Unknown TLVs are ignored.
func decodePeerDownTLVReason(data []byte) string {
	offset := 0
	for offset+4 <= len(data) {
		tlvLen := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		offset += 4
		if offset+tlvLen > len(data) {
			break
		}
		if tlvLen > 0 {
			return string(data[offset : offset+tlvLen])
		}
		offset += tlvLen
	}
	return ""
}

// bgpMessageLength reads the length field from a BGP common header.
// BGP header: marker(16) + length(2) + type(1) = 19 bytes minimum.
func bgpMessageLength(data []byte) (int, error) {
	if len(data) < 19 {
		return 0, fmt.Errorf("bgp header too short (%d bytes)", len(data))
	}
	length := int(binary.BigEndian.Uint16(data[16:18]))
	if length < 19 {
		return 0, fmt.Errorf("invalid bgp message length %d", length)
	}
	return length, nil
}

// RouterIDFromPeerHeader extracts the peer BGP Identifier from a
// decoded peer header, for use as a fallback router identity when no
// Initiation message has been seen.
func RouterIDFromPeerHeader(ph *PeerHeader) string {
	if ph == nil {
		return ""
	}
	return ph.PeerBGPID
}
