// Package linkstate decodes BGP-LS (RFC 7752) NLRI and attribute TLVs
// carried as the BGP-LS AFI/SAFI (16388/71) payload of MP_REACH_NLRI
// and MP_UNREACH_NLRI, including the segment-routing extensions of
// draft-ietf-idr-bgp-ls-segment-routing-ext.
package linkstate

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/routebeacon/bgpmond/internal/wire"
)

// NLRI type codes (RFC 7752 §3.2).
const (
	NLRITypeNode       uint16 = 1
	NLRITypeLink       uint16 = 2
	NLRITypeIPv4Prefix uint16 = 3
	NLRITypeIPv6Prefix uint16 = 4
)

// Protocol-ID values (RFC 7752 §3.2.1.2).
const (
	ProtoISISL1  uint8 = 1
	ProtoISISL2  uint8 = 2
	ProtoOSPFv2  uint8 = 3
	ProtoDirect  uint8 = 4
	ProtoStatic  uint8 = 5
	ProtoOSPFv3  uint8 = 6
	ProtoEPE     uint8 = 7
)

// Node/link descriptor sub-TLV type codes (RFC 7752 §3.2.1/§3.2.2).
const (
	TLVLocalNodeDescriptor  uint16 = 256
	TLVRemoteNodeDescriptor uint16 = 257
	TLVLinkLocalRemoteID    uint16 = 258
	TLVIPv4InterfaceAddr    uint16 = 259
	TLVIPv4NeighborAddr     uint16 = 260
	TLVIPv6InterfaceAddr    uint16 = 261
	TLVIPv6NeighborAddr     uint16 = 262
	TLVMultiTopologyID      uint16 = 263
	TLVOSPFRouteType        uint16 = 264
	TLVIPReachability       uint16 = 265
)

// Descriptor sub-TLVs nested inside Local/Remote Node Descriptor
// (RFC 7752 §3.2.1.4).
const (
	TLVAutonomousSystem uint16 = 512
	TLVBGPLSIdentifier  uint16 = 513
	TLVOSPFAreaID       uint16 = 514
	TLVIGPRouterID      uint16 = 515
	TLVBGPRouterID      uint16 = 516
)

// BGP-LS attribute TLV type codes (RFC 7752 §3.3, segment-routing-ext).
const (
	AttrNodeFlags        uint16 = 1024
	AttrOpaqueNode        uint16 = 1025
	AttrNodeName         uint16 = 1026
	AttrISISAreaID       uint16 = 1027
	AttrLocalRouterIDv4  uint16 = 1028
	AttrLocalRouterIDv6  uint16 = 1029
	AttrAdminGroup       uint16 = 1088
	AttrMaxLinkBW        uint16 = 1089
	AttrMaxResvLinkBW    uint16 = 1090
	AttrUnreservedBW     uint16 = 1091
	AttrTEDefaultMetric  uint16 = 1092
	AttrLinkProtection   uint16 = 1093
	AttrMPLSMask         uint16 = 1094
	AttrIGPMetric        uint16 = 1095
	AttrSRLG             uint16 = 1096
	AttrLinkName         uint16 = 1098
	AttrAdjacencySID     uint16 = 1099
	AttrPeerNodeSID      uint16 = 1100
	AttrPeerAdjSID       uint16 = 1101
	AttrPeerSetSID       uint16 = 1102
	AttrIGPFlags         uint16 = 1152
	AttrRouteTag         uint16 = 1153
	AttrExtendedTag      uint16 = 1154
	AttrPrefixMetric     uint16 = 1155
	AttrOSPFForwardingAddr uint16 = 1156
	AttrOpaquePrefix     uint16 = 1157
	AttrPrefixSID        uint16 = 1158
)

// Descriptor holds the decoded fields of a local or remote node
// descriptor (RFC 7752 §3.2.1.4).
type Descriptor struct {
	ASN         uint32
	HasASN      bool
	BGPLSID     uint32
	HasBGPLSID  bool
	OSPFAreaID  string
	IGPRouterID string
	BGPRouterID string
}

// NodeNLRI is a decoded BGP-LS node NLRI (type 1).
type NodeNLRI struct {
	ProtocolID     uint8
	RoutingUniverse uint64
	Local          Descriptor
}

// LinkNLRI is a decoded BGP-LS link NLRI (type 2).
type LinkNLRI struct {
	ProtocolID      uint8
	RoutingUniverse uint64
	Local           Descriptor
	Remote          Descriptor
	LocalID         uint32
	RemoteID        uint32
	LocalAddr       string
	RemoteAddr      string
}

// PrefixNLRI is a decoded BGP-LS IPv4/IPv6 prefix NLRI (type 3 or 4).
type PrefixNLRI struct {
	ProtocolID      uint8
	RoutingUniverse uint64
	Local           Descriptor
	Prefix          string
	PrefixLen       int
	MTID            uint16
	IsIPv6          bool
}

// NLRI is the decoded result of ParseNLRI: exactly one of Node, Link,
// or Prefix is non-nil, selected by the NLRI type field.
type NLRI struct {
	Type   uint16
	Node   *NodeNLRI
	Link   *LinkNLRI
	Prefix *PrefixNLRI
}

// ParseNLRI decodes a single BGP-LS NLRI (type(2) + length(2) +
// protocol-id(1) + routing-universe-id(8) + descriptor/sub-TLV stream).
func ParseNLRI(data []byte) (*NLRI, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("linkstate: nlri too short (%d bytes)", len(data))
	}
	nlriType := binary.BigEndian.Uint16(data[0:2])
	nlriLen := int(binary.BigEndian.Uint16(data[2:4]))
	if 4+nlriLen > len(data) {
		return nil, fmt.Errorf("linkstate: nlri length %d exceeds available data", nlriLen)
	}
	body := data[4 : 4+nlriLen]
	if len(body) < 9 {
		return nil, fmt.Errorf("linkstate: nlri body too short for protocol-id/universe (%d bytes)", len(body))
	}
	protocolID := body[0]
	universe := binary.BigEndian.Uint64(body[1:9])
	rest := body[9:]

	result := &NLRI{Type: nlriType}

	switch nlriType {
	case NLRITypeNode:
		local, err := parseNodeDescriptors(rest, TLVLocalNodeDescriptor)
		if err != nil {
			return nil, fmt.Errorf("linkstate: node nlri: %w", err)
		}
		result.Node = &NodeNLRI{ProtocolID: protocolID, RoutingUniverse: universe, Local: local}
	case NLRITypeLink:
		link, err := parseLinkNLRI(rest, protocolID, universe)
		if err != nil {
			return nil, fmt.Errorf("linkstate: link nlri: %w", err)
		}
		result.Link = link
	case NLRITypeIPv4Prefix, NLRITypeIPv6Prefix:
		prefix, err := parsePrefixNLRI(rest, protocolID, universe, nlriType == NLRITypeIPv6Prefix)
		if err != nil {
			return nil, fmt.Errorf("linkstate: prefix nlri: %w", err)
		}
		result.Prefix = prefix
	default:
		return nil, fmt.Errorf("linkstate: unknown nlri type %d", nlriType)
	}
	return result, nil
}

func parseLinkNLRI(data []byte, protocolID uint8, universe uint64) (*LinkNLRI, error) {
	link := &LinkNLRI{ProtocolID: protocolID, RoutingUniverse: universe}
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
		case TLVLocalNodeDescriptor:
			d, _ := parseDescriptorFields(value)
			link.Local = d
		case TLVRemoteNodeDescriptor:
			d, _ := parseDescriptorFields(value)
			link.Remote = d
		case TLVLinkLocalRemoteID:
			if len(value) == 8 {
				link.LocalID = binary.BigEndian.Uint32(value[0:4])
				link.RemoteID = binary.BigEndian.Uint32(value[4:8])
			}
		case TLVIPv4InterfaceAddr, TLVIPv6InterfaceAddr:
			link.LocalAddr = wire.FormatIP(value)
		case TLVIPv4NeighborAddr, TLVIPv6NeighborAddr:
			link.RemoteAddr = wire.FormatIP(value)
		}
	}
	return link, nil
}

func parsePrefixNLRI(data []byte, protocolID uint8, universe uint64, isIPv6 bool) (*PrefixNLRI, error) {
	prefix := &PrefixNLRI{ProtocolID: protocolID, RoutingUniverse: universe, IsIPv6: isIPv6}
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
		case TLVLocalNodeDescriptor:
			d, _ := parseDescriptorFields(value)
			prefix.Local = d
		case TLVMultiTopologyID:
			if len(value) >= 2 {
				prefix.MTID = binary.BigEndian.Uint16(value[0:2])
			}
		case TLVIPReachability:
			if len(value) >= 1 {
				prefixLen := int(value[0])
				addrBytes := value[1:]
				prefix.PrefixLen = prefixLen
				if isIPv6 {
					padded := make([]byte, 16)
					copy(padded, addrBytes)
					prefix.Prefix = fmt.Sprintf("%s/%d", wire.FormatIP(padded), prefixLen)
				} else {
					padded := make([]byte, 4)
					copy(padded, addrBytes)
					prefix.Prefix = fmt.Sprintf("%s/%d", wire.FormatIP(padded), prefixLen)
				}
			}
		}
	}
	return prefix, nil
}

func parseNodeDescriptors(data []byte, wantType uint16) (Descriptor, error) {
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
		if tlvType == wantType {
			return parseDescriptorFields(value)
		}
	}
	return Descriptor{}, fmt.Errorf("descriptor TLV %d not found", wantType)
}

// parseDescriptorFields decodes the nested sub-TLVs of a Local/Remote
// Node Descriptor TLV.
func parseDescriptorFields(data []byte) (Descriptor, error) {
	var d Descriptor
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
		case TLVAutonomousSystem:
			if len(value) == 4 {
				d.ASN = binary.BigEndian.Uint32(value)
				d.HasASN = true
			}
		case TLVBGPLSIdentifier:
			if len(value) == 4 {
				d.BGPLSID = binary.BigEndian.Uint32(value)
				d.HasBGPLSID = true
			}
		case TLVOSPFAreaID:
			if len(value) == 4 {
				d.OSPFAreaID = wire.FormatIP(value)
			}
		case TLVIGPRouterID:
			d.IGPRouterID = formatIGPRouterID(value)
		case TLVBGPRouterID:
			if len(value) == 4 {
				d.BGPRouterID = wire.FormatIP(value)
			}
		}
	}
	return d, nil
}

// formatIGPRouterID renders a 4-8 byte IGP Router-ID sub-TLV value: a
// dotted-quad for the 4-byte OSPF form, or ISIS's
// "xxxx.xxxx.xxxx.xx"-style System-ID + pseudonode byte for the 6/7/8
// byte ISIS forms.
func formatIGPRouterID(b []byte) string {
	switch len(b) {
	case 4:
		return wire.FormatIP(b)
	case 6, 7, 8:
		sysID := b[:6]
		parts := make([]string, 3)
		for i := 0; i < 3; i++ {
			parts[i] = fmt.Sprintf("%02x%02x", sysID[i*2], sysID[i*2+1])
		}
		out := strings.Join(parts, ".")
		if len(b) > 6 {
			out += fmt.Sprintf(".%02x", b[6])
		}
		return out
	default:
		return ""
	}
}

// NodeFlagBits maps RFC 7752 §3.3.1.1 node-flag bit positions to their
// single-character codes.
var NodeFlagBits = []struct {
	Mask byte
	Code string
}{
	{0x80, "O"}, {0x40, "T"}, {0x20, "E"}, {0x10, "B"}, {0x08, "R"}, {0x04, "V"},
}

// AdjSIDFlagBitsISIS maps ISIS Adjacency SID flag bits (segment-routing-ext).
var AdjSIDFlagBitsISIS = []struct {
	Mask byte
	Code string
}{
	{0x80, "F"}, {0x40, "B"}, {0x20, "V"}, {0x10, "L"}, {0x08, "S"},
}

// AdjSIDFlagBitsOSPF maps OSPF Adjacency SID flag bits (segment-routing-ext).
var AdjSIDFlagBitsOSPF = []struct {
	Mask byte
	Code string
}{
	{0x80, "B"}, {0x40, "V"}, {0x20, "L"}, {0x10, "G"},
}

func decodeFlagSet(flags byte, table []struct {
	Mask byte
	Code string
}) string {
	var set []string
	for _, bit := range table {
		if flags&bit.Mask != 0 {
			set = append(set, bit.Code)
		}
	}
	return strings.Join(set, ",")
}

// Attributes holds the decoded BGP-LS attribute TLV stream (RFC 7752
// §3.3), attached to an update's NLRI by matching AFI/SAFI.
type Attributes struct {
	NodeFlags      string
	OpaqueNode     string
	NodeName       string
	ISISAreaID     string
	LocalRouterIDv4 string
	LocalRouterIDv6 string

	AdminGroup      uint32
	MaxLinkBWKbps   float64
	MaxResvBWKbps   float64
	UnreservedBWKbps [8]float64
	TEDefaultMetric uint32
	LinkProtection  byte
	MPLSMask        byte
	IGPMetric       uint32
	SRLG            []uint32
	LinkName        string
	AdjacencySID    *wire.SRLabel
	AdjacencySIDFlags string
	PeerNodeSID     *wire.SRLabel
	PeerAdjSID      *wire.SRLabel
	PeerSetSID      *wire.SRLabel

	IGPFlags        byte
	RouteTag        []uint32
	ExtendedTag     []uint64
	PrefixMetric    uint32
	OSPFForwardingAddr string
	OpaquePrefix    string
	PrefixSID       *wire.SRLabel

	Unknown map[uint16]string
}

// ParseAttributes decodes a BGP-LS attribute TLV stream.
func ParseAttributes(data []byte, isISIS bool) *Attributes {
	attrs := &Attributes{Unknown: make(map[uint16]string)}
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
		case AttrNodeFlags:
			if len(value) >= 1 {
				attrs.NodeFlags = decodeFlagSet(value[0], NodeFlagBits)
			}
		case AttrOpaqueNode:
			attrs.OpaqueNode = fmt.Sprintf("%x", value)
		case AttrNodeName:
			attrs.NodeName = string(value)
		case AttrISISAreaID:
			attrs.ISISAreaID = fmt.Sprintf("%x", value)
		case AttrLocalRouterIDv4:
			attrs.LocalRouterIDv4 = wire.FormatIP(value)
		case AttrLocalRouterIDv6:
			attrs.LocalRouterIDv6 = wire.FormatIP(value)
		case AttrAdminGroup:
			if len(value) == 4 {
				attrs.AdminGroup = binary.BigEndian.Uint32(value)
			}
		case AttrMaxLinkBW:
			attrs.MaxLinkBWKbps = wire.Float32ToKbps(value)
		case AttrMaxResvLinkBW:
			attrs.MaxResvBWKbps = wire.Float32ToKbps(value)
		case AttrUnreservedBW:
			for i := 0; i < 8 && (i+1)*4 <= len(value); i++ {
				attrs.UnreservedBWKbps[i] = wire.Float32ToKbps(value[i*4 : i*4+4])
			}
		case AttrTEDefaultMetric:
			if len(value) >= 4 {
				attrs.TEDefaultMetric = binary.BigEndian.Uint32(value)
			} else if len(value) == 3 {
				attrs.TEDefaultMetric = uint32(value[0])<<16 | uint32(value[1])<<8 | uint32(value[2])
			}
		case AttrLinkProtection:
			if len(value) >= 1 {
				attrs.LinkProtection = value[0]
			}
		case AttrMPLSMask:
			if len(value) >= 1 {
				attrs.MPLSMask = value[0]
			}
		case AttrIGPMetric:
			attrs.IGPMetric = decodeVariableMetric(value)
		case AttrSRLG:
			for i := 0; i+4 <= len(value); i += 4 {
				attrs.SRLG = append(attrs.SRLG, binary.BigEndian.Uint32(value[i:i+4]))
			}
		case AttrLinkName:
			attrs.LinkName = string(value)
		case AttrAdjacencySID:
			if len(value) >= 4 {
				attrs.AdjacencySIDFlags = decodeAdjSIDFlags(value[0], isISIS)
				sid := wire.DecodeSRLabel(value[4:])
				attrs.AdjacencySID = &sid
			}
		case AttrPeerNodeSID:
			if len(value) >= 4 {
				sid := wire.DecodeSRLabel(value[4:])
				attrs.PeerNodeSID = &sid
			}
		case AttrPeerAdjSID:
			if len(value) >= 4 {
				sid := wire.DecodeSRLabel(value[4:])
				attrs.PeerAdjSID = &sid
			}
		case AttrPeerSetSID:
			if len(value) >= 4 {
				sid := wire.DecodeSRLabel(value[4:])
				attrs.PeerSetSID = &sid
			}
		case AttrIGPFlags:
			if len(value) >= 1 {
				attrs.IGPFlags = value[0]
			}
		case AttrRouteTag:
			for i := 0; i+4 <= len(value); i += 4 {
				attrs.RouteTag = append(attrs.RouteTag, binary.BigEndian.Uint32(value[i:i+4]))
			}
		case AttrExtendedTag:
			for i := 0; i+8 <= len(value); i += 8 {
				attrs.ExtendedTag = append(attrs.ExtendedTag, binary.BigEndian.Uint64(value[i:i+8]))
			}
		case AttrPrefixMetric:
			if len(value) == 4 {
				attrs.PrefixMetric = binary.BigEndian.Uint32(value)
			}
		case AttrOSPFForwardingAddr:
			attrs.OSPFForwardingAddr = wire.FormatIP(value)
		case AttrOpaquePrefix:
			attrs.OpaquePrefix = fmt.Sprintf("%x", value)
		case AttrPrefixSID:
			if len(value) >= 4 {
				sid := wire.DecodeSRLabel(value[4:])
				attrs.PrefixSID = &sid
			}
		default:
			attrs.Unknown[tlvType] = fmt.Sprintf("%x", value)
		}
	}
	return attrs
}

func decodeAdjSIDFlags(flags byte, isISIS bool) string {
	if isISIS {
		return decodeFlagSet(flags, AdjSIDFlagBitsISIS)
	}
	return decodeFlagSet(flags, AdjSIDFlagBitsOSPF)
}

func decodeVariableMetric(value []byte) uint32 {
	switch len(value) {
	case 3:
		return uint32(value[0])<<16 | uint32(value[1])<<8 | uint32(value[2])
	case 4:
		return binary.BigEndian.Uint32(value)
	default:
		return 0
	}
}
