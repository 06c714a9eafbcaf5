// Package bgp decodes BGP OPEN, NOTIFICATION, and UPDATE messages (RFC
// 4271, RFC 4760, RFC 7911, RFC 4364, RFC 7432) as carried inside BMP
// Route Monitoring and Peer Up/Down payloads.
package bgp

import "github.com/routebeacon/bgpmond/internal/bgp/linkstate"

// BGP message type codes (RFC 4271 §4.1).
const (
	MsgTypeOpen         uint8 = 1
	MsgTypeUpdate       uint8 = 2
	MsgTypeNotification uint8 = 3
	MsgTypeKeepalive    uint8 = 4
	MsgTypeRouteRefresh uint8 = 5
)

// BGPMsgTypeUpdate is retained as an alias for MsgTypeUpdate.
const BGPMsgTypeUpdate = MsgTypeUpdate

// BGP common header size: 16-byte marker + 2-byte length + 1-byte type.
const BGPHeaderSize = 19

// BGP path attribute type codes (RFC 4271, RFC 4760, RFC 6793, RFC
// 4456, RFC 1997, RFC 4360, RFC 8092, RFC 7752).
const (
	AttrTypeOrigin           uint8 = 1
	AttrTypeASPath           uint8 = 2
	AttrTypeNextHop          uint8 = 3
	AttrTypeMED              uint8 = 4
	AttrTypeLocalPref        uint8 = 5
	AttrTypeAtomicAggregate  uint8 = 6
	AttrTypeAggregator       uint8 = 7
	AttrTypeCommunity        uint8 = 8
	AttrTypeOriginatorID     uint8 = 9
	AttrTypeClusterList      uint8 = 10
	AttrTypeMPReachNLRI      uint8 = 14
	AttrTypeMPUnreachNLRI    uint8 = 15
	AttrTypeExtCommunity     uint8 = 16
	AttrTypeAS4Path          uint8 = 17
	AttrTypeAS4Aggregator    uint8 = 18
	AttrTypeBGPLS            uint8 = 29
	AttrTypeLargeCommunity   uint8 = 32
)

// AFI codes (IANA "Address Family Numbers").
const (
	AFIIPv4   uint16 = 1
	AFIIPv6   uint16 = 2
	AFIL2VPN  uint16 = 25
	AFIBGPLS  uint16 = 16388
)

// SAFI codes (IANA "SAFI Values", RFC 4760/4364/4684/7432/7752).
const (
	SAFIUnicast     uint8 = 1
	SAFIMulticast   uint8 = 2
	SAFILabeled     uint8 = 4
	SAFIEVPN        uint8 = 70
	SAFIBGPLS       uint8 = 71
	SAFIMPLSVPN     uint8 = 128
)

// AS_PATH segment types.
const (
	ASPathSegmentSet      uint8 = 1
	ASPathSegmentSequence uint8 = 2
	ASPathSegmentConfedSeq uint8 = 3
	ASPathSegmentConfedSet uint8 = 4
)

// AS_TRANS is the reserved ASN used in the 2-byte OPEN ASN field when
// the session negotiates 4-octet ASN capability (RFC 6793).
const ASTrans uint16 = 23456

// Origin attribute values.
var OriginValues = map[uint8]string{
	0: "IGP",
	1: "EGP",
	2: "INCOMPLETE",
}

// explicitWithdrawLabel is the reserved 3-byte label value 0x800000
// used by some implementations to signal a withdrawal without a valid
// label (RFC 3107 §3, RFC 8277).
const explicitWithdrawLabel = 0x800000

// PrefixInfo represents a single unicast/labeled-unicast NLRI entry.
type PrefixInfo struct {
	Prefix    string // CIDR notation
	PathID    int64  // 0 if Add-Path is not in use
	HasPathID bool
	Labels    []uint32 // decoded 20-bit label stack, empty if none
}

// VPNPrefixInfo extends PrefixInfo with a Route Distinguisher, for
// MPLS-VPN (SAFI 128) NLRI.
type VPNPrefixInfo struct {
	PrefixInfo
	RD string
}

// EVPNRoute represents a single decoded EVPN (SAFI 70) NLRI entry.
type EVPNRoute struct {
	RouteType          uint8
	RD                 string
	ESI                string
	EthernetTagID      uint32
	MACAddr            string
	MACLen             int
	IPAddr             string
	IPLen              int
	MPLSLabel1         uint32
	MPLSLabel2         uint32
	OriginatingRouter  string
}

// RouteEvent represents a single route event extracted from a BGP
// UPDATE, covering both legacy IPv4 unicast NLRI and the NLRI families
// reached through MP_REACH_NLRI/MP_UNREACH_NLRI.
type RouteEvent struct {
	AFI       int    // 4 or 6 for unicast families; 0 for non-IP families (EVPN, BGP-LS)
	SAFI      uint8
	Prefix    string // CIDR notation, unicast/labeled-unicast/L3VPN
	PathID    int64
	HasPathID bool
	Labels    []uint32
	RD        string // set for L3VPN/EVPN
	Action    string // "A" or "D"

	EVPN *EVPNRoute // set when SAFI == SAFIEVPN

	Nexthop   string
	ASPath    string
	Origin    string
	LocalPref *uint32
	MED       *uint32
	CommStd   []string
	CommExt   []string
	CommLarge []string
	Attrs     map[string]string // unrecognized attributes, keyed by type code, hex-encoded
}

// LSEvent is a single BGP-LS node, link, or prefix NLRI carried by an
// UPDATE, paired with the attributes that apply when it is an
// announcement (Attrs is nil for a withdrawal).
type LSEvent struct {
	NLRI   *linkstate.NLRI
	Attrs  *linkstate.Attributes
	Action string // "A" or "D"
}
