// Package bmp implements the BGP Monitoring Protocol (RFC 7854) framer
// and message parsers: common header, peer header, initiation/
// termination TLVs, statistics report TLVs, and peer up/down events.
package bmp

import "time"

// BMP message type codes (RFC 7854 §4.1).
const (
	MsgTypeRouteMonitoring  uint8 = 0
	MsgTypeStatisticsReport uint8 = 1
	MsgTypePeerDown         uint8 = 2
	MsgTypePeerUp           uint8 = 3
	MsgTypeInitiation       uint8 = 4
	MsgTypeTermination      uint8 = 5
	MsgTypeRouteMirroring   uint8 = 6
)

// BMP peer types (RFC 7854 §4.2, RFC 9069).
const (
	PeerTypeGlobal uint8 = 0
	PeerTypeRD     uint8 = 1
	PeerTypeLocal  uint8 = 2
	PeerTypeLocRIB uint8 = 3
)

// Peer header flag bits (RFC 7854 §4.2).
const (
	PeerFlagV uint8 = 0x80 // peer address is IPv6
	PeerFlagL uint8 = 0x40 // post-policy Adj-RIB-In
	PeerFlagA uint8 = 0x20 // legacy 2-byte AS_PATH
	PeerFlagO uint8 = 0x10 // Adj-RIB-Out (RFC 8671)
)

// Common header sizes.
const (
	CommonHeaderSizeV3     = 6  // version(1) + total_length(4) + type(1)
	LegacyCommonHeaderSize = 43 // BMP v1/v2 fixed-width legacy header
	PerPeerHeaderSize      = 42
)

// MaxMessageLength is the largest total_length a v3 common header may
// declare; frames larger than this are rejected outright.
const MaxMessageLength = 65535

// BMPVersion3 is the current BMP protocol version (RFC 7854).
const BMPVersion3 uint8 = 3

// Initiation / Termination TLV type codes (RFC 7854 §4.3/§4.4).
const (
	TLVTypeFreeForm    uint16 = 0
	TLVTypeSysDescr    uint16 = 1
	TLVTypeSysName     uint16 = 2
	TLVTypeRouterBGPID uint16 = 65531
)

// Termination TLV type codes (RFC 7854 §4.4). TLVTypeTermFreeForm and
// TLVTypeTermReason share numeric space with the Initiation TLV types
// but are interpreted against the Termination message only.
const (
	TLVTypeTermFreeForm uint16 = 0
	TLVTypeTermReason   uint16 = 1
)

// Termination reason codes (RFC 7854 §4.4).
const (
	TermReasonAdminClose     uint16 = 0
	TermReasonUnspecified    uint16 = 1
	TermReasonOutOfResources uint16 = 2
	TermReasonRedundant      uint16 = 3
)

var termReasonText = map[uint16]string{
	TermReasonAdminClose:     "Administratively closed",
	TermReasonUnspecified:    "Unspecified",
	TermReasonOutOfResources: "Remote out of resources",
	TermReasonRedundant:      "Remote session redundant",
}

// TermReasonText returns the canonical text for a known termination
// reason code. Unknown codes are surfaced verbatim by the caller using
// the numeric code; this only covers the known table.
func TermReasonText(code uint16) string {
	if t, ok := termReasonText[code]; ok {
		return t
	}
	return "Unknown termination reason"
}

// Peer Down reason codes (RFC 7854 §4.9, RFC 8671).
const (
	PeerDownLocalNotify    uint8 = 1 // local system closed, NOTIFICATION follows
	PeerDownLocalNoNotify  uint8 = 2 // local system closed, FSM code follows
	PeerDownRemoteNotify   uint8 = 3 // remote system closed, NOTIFICATION follows
	PeerDownRemoteNoNotify uint8 = 4 // remote system closed, no NOTIFICATION
	PeerDownLocal          uint8 = 5 // peer de-configured
	PeerDownTLV            uint8 = 6 // RFC 8671: TLV-formatted reason
)

// Statistics Report TLV type codes (RFC 7854 §4.8, subset referenced
// by the data model in §3).
const (
	StatPrefixesRejected   uint16 = 0
	StatDuplicatePrefixAdv uint16 = 1
	StatDuplicateWithdraws uint16 = 2
	StatInvalidClusterList uint16 = 3
	StatInvalidASPathLoop  uint16 = 4
	StatInvalidOriginator  uint16 = 5
	StatInvalidASConfed    uint16 = 6
	StatRoutesAdjRibIn     uint16 = 7
	StatRoutesLocRib       uint16 = 8
)

// stat64BitTypes lists the stat types whose counter is 64-bit wide;
// all others are 32-bit (RFC 7854 §4.8 distinguishes width per type,
// not by declared TLV length alone).
var stat64BitTypes = map[uint16]bool{
	StatRoutesAdjRibIn: true,
	StatRoutesLocRib:   true,
}

// PeerHeader is the decoded 42-byte BMP per-peer header (RFC 7854 §4.2).
type PeerHeader struct {
	PeerType  uint8
	Flags     uint8
	PeerRD    string // RFC 4364 administrator:assigned-number, or "0:0"
	PeerAddr  string
	PeerAS    uint32
	PeerBGPID string
	Timestamp time.Time

	IsIPv6         bool
	IsPostPolicy   bool
	IsLegacyASPath bool
	IsAdjRibOut    bool
	IsLocRIB       bool
}

// InitiationInfo holds decoded Initiation (type 4) TLVs.
type InitiationInfo struct {
	FreeForm    string
	SysDescr    string
	SysName     string
	RouterBGPID string
}

// TerminationInfo holds decoded Termination (type 5) TLVs.
type TerminationInfo struct {
	FreeForm   string
	ReasonCode uint16
	HasReason  bool
}

// PeerUpInfo holds the fields specific to a Peer Up Notification
// (type 3), following the common per-peer header.
type PeerUpInfo struct {
	LocalAddr  string
	LocalPort  uint16
	RemotePort uint16
	SentOpen   []byte // raw BGP OPEN bytes
	RecvOpen   []byte // raw BGP OPEN bytes
}

// PeerDownInfo holds the fields specific to a Peer Down Notification
// (type 2).
type PeerDownInfo struct {
	Reason       uint8
	Notification []byte // present for reasons 1 and 3
	FSMCode      uint16 // present for reason 4
	TLVReason    string // present for reason 6 (RFC 8671)
}

// Message is a fully decoded BMP message.
type Message struct {
	Version uint8
	Type    uint8
	Length  uint32

	Peer *PeerHeader // nil for Initiation/Termination

	Initiation  *InitiationInfo
	Termination *TerminationInfo
	PeerUp      *PeerUpInfo
	PeerDown    *PeerDownInfo
	Stats       map[uint16]uint64

	// BGPPayload is the raw encapsulated BGP message for Route
	// Monitoring messages.
	BGPPayload []byte
}
