package bgp

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/routebeacon/bgpmond/internal/wire"
)

// EVPN route type codes (RFC 7432 §7).
const (
	EVPNRouteTypeEthAD        uint8 = 1
	EVPNRouteTypeMACIPAdv     uint8 = 2
	EVPNRouteTypeInclMcast    uint8 = 3
	EVPNRouteTypeEthSegment   uint8 = 4
)

// parseEVPNRoutes decodes a stream of EVPN (SAFI 70) NLRI entries:
// {route-type(1), length(1), route-specific-value(length)}.
func parseEVPNRoutes(data []byte) ([]*EVPNRoute, error) {
	var routes []*EVPNRoute
	offset := 0
	for offset+2 <= len(data) {
		routeType := data[offset]
		length := int(data[offset+1])
		offset += 2
		if offset+length > len(data) {
			return routes, fmt.Errorf("evpn: route truncated at offset %d", offset)
		}
		value := data[offset : offset+length]
		offset += length

		route, err := parseEVPNRoute(routeType, value)
		if err != nil {
			continue
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func parseEVPNRoute(routeType uint8, data []byte) (*EVPNRoute, error) {
	route := &EVPNRoute{RouteType: routeType}

	switch routeType {
	case EVPNRouteTypeEthAD:
		if len(data) < 8+10+4+3 {
			return nil, fmt.Errorf("evpn type 1 too short")
		}
		route.RD = DecodeRD(data[0:8])
		route.ESI = formatESI(data[8:18])
		route.EthernetTagID = binary.BigEndian.Uint32(data[18:22])
		label := wire.DecodeSRLabel(data[22:25])
		route.MPLSLabel1 = label.Label

	case EVPNRouteTypeMACIPAdv:
		if len(data) < 8+10+4+1 {
			return nil, fmt.Errorf("evpn type 2 too short")
		}
		offset := 0
		route.RD = DecodeRD(data[offset : offset+8])
		offset += 8
		route.ESI = formatESI(data[offset : offset+10])
		offset += 10
		route.EthernetTagID = binary.BigEndian.Uint32(data[offset : offset+4])
		offset += 4
		route.MACLen = int(data[offset])
		offset++
		macByteLen := (route.MACLen + 7) / 8
		if offset+macByteLen > len(data) {
			return nil, fmt.Errorf("evpn type 2 mac truncated")
		}
		route.MACAddr = wire.FormatMAC(data[offset : offset+macByteLen])
		offset += macByteLen
		if offset >= len(data) {
			return route, nil
		}
		route.IPLen = int(data[offset])
		offset++
		ipByteLen := (route.IPLen + 7) / 8
		if ipByteLen > 0 && offset+ipByteLen <= len(data) {
			route.IPAddr = wire.FormatIP(data[offset : offset+ipByteLen])
			offset += ipByteLen
		}
		if offset+3 <= len(data) {
			l1 := wire.DecodeSRLabel(data[offset : offset+3])
			route.MPLSLabel1 = l1.Label
			offset += 3
		}
		if offset+3 <= len(data) {
			l2 := wire.DecodeSRLabel(data[offset : offset+3])
			route.MPLSLabel2 = l2.Label
		}

	case EVPNRouteTypeInclMcast:
		if len(data) < 8+4+1 {
			return nil, fmt.Errorf("evpn type 3 too short")
		}
		route.RD = DecodeRD(data[0:8])
		route.EthernetTagID = binary.BigEndian.Uint32(data[8:12])
		ipLen := int(data[12])
		route.IPLen = ipLen
		byteLen := (ipLen + 7) / 8
		if byteLen > 0 && 13+byteLen <= len(data) {
			route.OriginatingRouter = net.IP(data[13 : 13+byteLen]).String()
		}

	case EVPNRouteTypeEthSegment:
		if len(data) < 8+10+1 {
			return nil, fmt.Errorf("evpn type 4 too short")
		}
		route.RD = DecodeRD(data[0:8])
		route.ESI = formatESI(data[8:18])
		ipLen := int(data[18])
		route.IPLen = ipLen
		byteLen := (ipLen + 7) / 8
		if byteLen > 0 && 19+byteLen <= len(data) {
			route.OriginatingRouter = net.IP(data[19 : 19+byteLen]).String()
		}

	default:
		return nil, fmt.Errorf("evpn: unsupported route type %d", routeType)
	}

	return route, nil
}

// formatESI renders a 10-byte Ethernet Segment Identifier as
// colon-separated hex octets (RFC 7432 §5).
func formatESI(b []byte) string {
	if len(b) != 10 {
		return ""
	}
	out := make([]byte, 0, 29)
	for i, v := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexDigit(v>>4), hexDigit(v&0xf))
	}
	return string(out)
}

func hexDigit(v byte) byte {
	if v < 10 {
		return '0' + v
	}
	return 'a' + (v - 10)
}
