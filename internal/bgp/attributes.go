package bgp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/routebeacon/bgpmond/internal/bgp/linkstate"
)

// PathAttributes holds every path attribute decoded from a single BGP
// UPDATE's attribute section, including the NLRI carried by
// MP_REACH_NLRI/MP_UNREACH_NLRI across every supported AFI/SAFI.
type PathAttributes struct {
	Origin          string
	ASPath          string
	AS4Path         string
	Nexthop         string
	MED             *uint32
	LocalPref       *uint32
	AtomicAggregate bool
	Aggregator      string
	AS4Aggregator   string
	OriginatorID    string
	ClusterList     []string
	CommStd         []string
	CommExt         []string
	CommLarge       []string
	Attrs           map[string]string // unrecognized attribute types, hex-encoded, keyed by type code

	MPReachAFI     uint16
	MPReachSAFI    uint8
	MPReachNexthop string

	UnicastNLRI []PrefixInfo     // SAFI unicast/multicast announcements
	LabeledNLRI []PrefixInfo     // SAFI labeled-unicast announcements
	VPNNLRI     []VPNPrefixInfo  // SAFI MPLS-VPN announcements
	EVPNRoutes  []*EVPNRoute     // SAFI EVPN announcements
	LSNLRI      []*linkstate.NLRI // SAFI BGP-LS announcements
	LSAttrs     *linkstate.Attributes

	MPUnreachAFI    uint16
	MPUnreachSAFI   uint8
	UnicastWithdraw []PrefixInfo
	LabeledWithdraw []PrefixInfo
	VPNWithdraw     []VPNPrefixInfo
	EVPNWithdraw    []*EVPNRoute
	LSWithdraw      []*linkstate.NLRI
}

// ParsePathAttributes parses the path attributes section of a BGP
// UPDATE. addPath reports, per (AFI,SAFI), whether Add-Path decoding
// is active for this session (see NegotiatedAddPath). use4OctetASN
// reports whether both sides of the session negotiated capability 65
// (RFC 6793), selecting a 4- vs. 2-octet ASN width for AS_PATH and
// AGGREGATOR.
func ParsePathAttributes(data []byte, addPath map[AddPathKey]bool, use4OctetASN bool) (*PathAttributes, error) {
	attrs := &PathAttributes{Attrs: make(map[string]string)}
	asnWidth := 2
	if use4OctetASN {
		asnWidth = 4
	}

	offset := 0
	for offset < len(data) {
		if offset+2 > len(data) {
			return attrs, fmt.Errorf("bgp: attr header truncated at offset %d", offset)
		}

		flags := data[offset]
		typeCode := data[offset+1]
		offset += 2

		var attrLen int
		if flags&0x10 != 0 { // Extended Length
			if offset+2 > len(data) {
				return attrs, fmt.Errorf("bgp: extended attr length truncated")
			}
			attrLen = int(binary.BigEndian.Uint16(data[offset : offset+2]))
			offset += 2
		} else {
			if offset+1 > len(data) {
				return attrs, fmt.Errorf("bgp: attr length truncated")
			}
			attrLen = int(data[offset])
			offset++
		}

		if offset+attrLen > len(data) {
			return attrs, fmt.Errorf("bgp: attr data truncated (type %d, need %d, have %d)", typeCode, attrLen, len(data)-offset)
		}

		attrData := data[offset : offset+attrLen]
		offset += attrLen

		switch typeCode {
		case AttrTypeOrigin:
			parseOrigin(attrData, attrs)
		case AttrTypeASPath:
			attrs.ASPath = decodeASPath(attrData, asnWidth)
		case AttrTypeNextHop:
			parseNextHop(attrData, attrs)
		case AttrTypeMED:
			parseMED(attrData, attrs)
		case AttrTypeLocalPref:
			parseLocalPref(attrData, attrs)
		case AttrTypeAtomicAggregate:
			attrs.AtomicAggregate = true
		case AttrTypeAggregator:
			attrs.Aggregator = decodeAggregator(attrData, asnWidth)
		case AttrTypeCommunity:
			parseCommunity(attrData, attrs)
		case AttrTypeOriginatorID:
			if len(attrData) == 4 {
				attrs.OriginatorID = net.IP(attrData).String()
			}
		case AttrTypeClusterList:
			for i := 0; i+4 <= len(attrData); i += 4 {
				attrs.ClusterList = append(attrs.ClusterList, net.IP(attrData[i:i+4]).String())
			}
		case AttrTypeMPReachNLRI:
			parseMPReachNLRI(attrData, attrs, addPath)
		case AttrTypeMPUnreachNLRI:
			parseMPUnreachNLRI(attrData, attrs, addPath)
		case AttrTypeExtCommunity:
			parseExtCommunity(attrData, attrs)
		case AttrTypeAS4Path:
			attrs.AS4Path = decodeASPath(attrData, 4)
		case AttrTypeAS4Aggregator:
			attrs.AS4Aggregator = decodeAggregator(attrData, 4)
		case AttrTypeBGPLS:
			attrs.LSAttrs = linkstate.ParseAttributes(attrData, false)
		case AttrTypeLargeCommunity:
			parseLargeCommunity(attrData, attrs)
		default:
			attrs.Attrs[fmt.Sprintf("%d", typeCode)] = hex.EncodeToString(attrData)
		}
	}

	mergeAS4(attrs)
	return attrs, nil
}

// mergeAS4 applies the AS4_PATH/AS4_AGGREGATOR merge rule (RFC 6793
// §4.2.3): when a peer negotiated 2-octet AS_PATH encoding but still
// carries AS4_PATH/AS4_AGGREGATOR (because it is not itself 4-octet
// capable on every hop), the AS4 variant is authoritative for the
// origin AS if its segment count does not exceed the AS_PATH's.
func mergeAS4(attrs *PathAttributes) {
	if attrs.AS4Aggregator != "" {
		attrs.Aggregator = attrs.AS4Aggregator
	}
	if attrs.AS4Path == "" {
		return
	}
	as4Segs := strings.Fields(attrs.AS4Path)
	pathSegs := strings.Fields(attrs.ASPath)
	if len(as4Segs) > len(pathSegs) {
		return
	}
	if len(as4Segs) == len(pathSegs) {
		attrs.ASPath = attrs.AS4Path
		return
	}
	// AS4_PATH is shorter: replace the trailing segments of ASPath
	// (which begin with AS_TRANS-filled stand-ins) with AS4_PATH.
	merged := append([]string{}, pathSegs[:len(pathSegs)-len(as4Segs)]...)
	merged = append(merged, as4Segs...)
	attrs.ASPath = strings.Join(merged, " ")
}

func parseOrigin(data []byte, attrs *PathAttributes) {
	if len(data) < 1 {
		return
	}
	if v, ok := OriginValues[data[0]]; ok {
		attrs.Origin = v
	} else {
		attrs.Origin = fmt.Sprintf("UNKNOWN(%d)", data[0])
	}
}

// decodeASPath decodes an AS_PATH or AS4_PATH attribute whose segments
// carry asnWidth-byte ASNs (2 for legacy peers, 4 otherwise).
func decodeASPath(data []byte, asnWidth int) string {
	var segments []string
	offset := 0
	for offset+2 <= len(data) {
		segType := data[offset]
		segLen := int(data[offset+1])
		offset += 2

		if offset+segLen*asnWidth > len(data) {
			break
		}

		asns := make([]string, segLen)
		for i := 0; i < segLen; i++ {
			var asn uint32
			if asnWidth == 2 {
				asn = uint32(binary.BigEndian.Uint16(data[offset : offset+2]))
			} else {
				asn = binary.BigEndian.Uint32(data[offset : offset+4])
			}
			asns[i] = fmt.Sprintf("%d", asn)
			offset += asnWidth
		}

		switch segType {
		case ASPathSegmentSequence:
			segments = append(segments, strings.Join(asns, " "))
		case ASPathSegmentSet:
			segments = append(segments, "{"+strings.Join(asns, ",")+"}")
		case ASPathSegmentConfedSeq:
			segments = append(segments, "("+strings.Join(asns, " ")+")")
		case ASPathSegmentConfedSet:
			segments = append(segments, "[("+strings.Join(asns, ",")+")]")
		}
	}
	return strings.Join(segments, " ")
}

func decodeAggregator(data []byte, asnWidth int) string {
	if asnWidth == 4 && len(data) == 8 {
		asn := binary.BigEndian.Uint32(data[0:4])
		ip := net.IP(data[4:8]).String()
		return fmt.Sprintf("%d:%s", asn, ip)
	}
	if asnWidth == 2 && len(data) == 6 {
		asn := binary.BigEndian.Uint16(data[0:2])
		ip := net.IP(data[2:6]).String()
		return fmt.Sprintf("%d:%s", asn, ip)
	}
	return ""
}

func parseNextHop(data []byte, attrs *PathAttributes) {
	if len(data) == 4 {
		attrs.Nexthop = net.IP(data).String()
	}
}

func parseMED(data []byte, attrs *PathAttributes) {
	if len(data) == 4 {
		v := binary.BigEndian.Uint32(data)
		attrs.MED = &v
	}
}

func parseLocalPref(data []byte, attrs *PathAttributes) {
	if len(data) == 4 {
		v := binary.BigEndian.Uint32(data)
		attrs.LocalPref = &v
	}
}

func parseCommunity(data []byte, attrs *PathAttributes) {
	for i := 0; i+4 <= len(data); i += 4 {
		hi := binary.BigEndian.Uint16(data[i : i+2])
		lo := binary.BigEndian.Uint16(data[i+2 : i+4])
		attrs.CommStd = append(attrs.CommStd, fmt.Sprintf("%d:%d", hi, lo))
	}
}

func parseExtCommunity(data []byte, attrs *PathAttributes) {
	for i := 0; i+8 <= len(data); i += 8 {
		attrs.CommExt = append(attrs.CommExt, decodeExtCommunity(data[i:i+8]))
	}
}

// decodeExtCommunity decodes a single 8-byte extended community into a
// human-readable string. Recognizes Route Target (subtype 0x02) and
// Route Origin / Site-of-Origin (subtype 0x03) for 2-octet AS, IPv4,
// and 4-octet AS types. Falls back to hex for unknown types.
func decodeExtCommunity(data []byte) string {
	typeHigh := data[0]
	typeLow := data[1]
	typeHighBase := typeHigh & 0x3F

	switch typeHighBase {
	case 0x00:
		asn := binary.BigEndian.Uint16(data[2:4])
		val := binary.BigEndian.Uint32(data[4:8])
		switch typeLow {
		case 0x02:
			return fmt.Sprintf("RT:%d:%d", asn, val)
		case 0x03:
			return fmt.Sprintf("SOO:%d:%d", asn, val)
		}
	case 0x01:
		ip := net.IP(data[2:6]).String()
		val := binary.BigEndian.Uint16(data[6:8])
		switch typeLow {
		case 0x02:
			return fmt.Sprintf("RT:%s:%d", ip, val)
		case 0x03:
			return fmt.Sprintf("SOO:%s:%d", ip, val)
		}
	case 0x02:
		asn := binary.BigEndian.Uint32(data[2:6])
		val := binary.BigEndian.Uint16(data[6:8])
		switch typeLow {
		case 0x02:
			return fmt.Sprintf("RT:%d:%d", asn, val)
		case 0x03:
			return fmt.Sprintf("SOO:%d:%d", asn, val)
		}
	}
	return hex.EncodeToString(data)
}

func parseLargeCommunity(data []byte, attrs *PathAttributes) {
	for i := 0; i+12 <= len(data); i += 12 {
		global := binary.BigEndian.Uint32(data[i : i+4])
		data1 := binary.BigEndian.Uint32(data[i+4 : i+8])
		data2 := binary.BigEndian.Uint32(data[i+8 : i+12])
		attrs.CommLarge = append(attrs.CommLarge, fmt.Sprintf("%d:%d:%d", global, data1, data2))
	}
}

func parseMPReachNLRI(data []byte, attrs *PathAttributes, addPath map[AddPathKey]bool) {
	if len(data) < 5 {
		return
	}
	afi := binary.BigEndian.Uint16(data[0:2])
	safi := data[2]
	nhLen := int(data[3])
	attrs.MPReachAFI = afi
	attrs.MPReachSAFI = safi
	offset := 4

	if offset+nhLen > len(data) {
		return
	}
	nhData := data[offset : offset+nhLen]
	attrs.MPReachNexthop = decodeMPNextHop(nhData, safi)
	if attrs.Nexthop == "" {
		attrs.Nexthop = attrs.MPReachNexthop
	}
	offset += nhLen

	if offset >= len(data) {
		return
	}
	snpaCount := int(data[offset])
	offset++
	for i := 0; i < snpaCount && offset < len(data); i++ {
		snpaLen := int(data[offset])
		offset++
		snpaByteLen := (snpaLen + 1) / 2
		if offset+snpaByteLen > len(data) {
			return
		}
		offset += snpaByteLen
	}

	hasAddPath := addPath[AddPathKey{AFI: afi, SAFI: safi}]
	nlriData := data[offset:]
	dispatchNLRI(nlriData, afi, safi, hasAddPath, attrs, true)
}

func parseMPUnreachNLRI(data []byte, attrs *PathAttributes, addPath map[AddPathKey]bool) {
	if len(data) < 3 {
		return
	}
	afi := binary.BigEndian.Uint16(data[0:2])
	safi := data[2]
	attrs.MPUnreachAFI = afi
	attrs.MPUnreachSAFI = safi
	hasAddPath := addPath[AddPathKey{AFI: afi, SAFI: safi}]
	dispatchNLRI(data[3:], afi, safi, hasAddPath, attrs, false)
}

// decodeMPNextHop renders the next-hop bytes of MP_REACH_NLRI. For
// MPLS-VPN (SAFI 128) the first 8 bytes are a zero RD that must be
// skipped; for IPv6 a 32-byte global+link-local pair is reduced to the
// global address.
func decodeMPNextHop(data []byte, safi uint8) string {
	if safi == SAFIMPLSVPN && len(data) >= 12 {
		return net.IP(data[8:12]).String()
	}
	switch len(data) {
	case 4, 16:
		return net.IP(data).String()
	case 32:
		return net.IP(data[:16]).String()
	case 12:
		return net.IP(data[8:12]).String()
	case 24:
		return net.IP(data[8:24]).String()
	default:
		return ""
	}
}

func dispatchNLRI(data []byte, afi uint16, safi uint8, hasAddPath bool, attrs *PathAttributes, isReach bool) {
	ipVersion := afiToVersion(afi)

	switch {
	case safi == SAFIUnicast || safi == SAFIMulticast:
		if ipVersion == 0 {
			return
		}
		prefixes, _ := parseUnicastPrefixes(data, ipVersion, hasAddPath)
		if isReach {
			attrs.UnicastNLRI = prefixes
		} else {
			attrs.UnicastWithdraw = prefixes
		}
	case safi == SAFILabeled:
		if ipVersion == 0 {
			return
		}
		prefixes, _ := parseLabeledPrefixes(data, ipVersion, hasAddPath, false)
		if isReach {
			attrs.LabeledNLRI = prefixes
		} else {
			attrs.LabeledWithdraw = prefixes
		}
	case safi == SAFIMPLSVPN:
		if ipVersion == 0 {
			return
		}
		prefixes, _ := parseVPNPrefixes(data, ipVersion, hasAddPath)
		if isReach {
			attrs.VPNNLRI = prefixes
		} else {
			attrs.VPNWithdraw = prefixes
		}
	case safi == SAFIEVPN:
		routes, _ := parseEVPNRoutes(data)
		if isReach {
			attrs.EVPNRoutes = routes
		} else {
			attrs.EVPNWithdraw = routes
		}
	case afi == AFIBGPLS && safi == SAFIBGPLS:
		nlris := parseLSNLRIStream(data)
		if isReach {
			attrs.LSNLRI = nlris
		} else {
			attrs.LSWithdraw = nlris
		}
	}
}

func parseLSNLRIStream(data []byte) []*linkstate.NLRI {
	var result []*linkstate.NLRI
	offset := 0
	for offset+4 <= len(data) {
		nlriLen := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		total := 4 + nlriLen
		if offset+total > len(data) {
			break
		}
		nlri, err := linkstate.ParseNLRI(data[offset : offset+total])
		if err == nil {
			result = append(result, nlri)
		}
		offset += total
	}
	return result
}

// parseUnicastPrefixes decodes a stream of unlabeled unicast/multicast
// NLRI entries (RFC 4760 §5): optional 4-byte path-id, 1-byte prefix
// length in bits, then ceil(len/8) address bytes.
func parseUnicastPrefixes(data []byte, ipVersion int, hasAddPath bool) ([]PrefixInfo, error) {
	var prefixes []PrefixInfo
	offset := 0
	for offset < len(data) {
		var pathID int64
		if hasAddPath {
			if offset+4 > len(data) {
				return prefixes, fmt.Errorf("bgp: prefix data truncated at offset %d", offset)
			}
			pathID = int64(binary.BigEndian.Uint32(data[offset : offset+4]))
			offset += 4
		}
		if offset >= len(data) {
			return prefixes, fmt.Errorf("bgp: prefix data truncated at offset %d", offset)
		}
		prefixLen := int(data[offset])
		offset++

		maxBits := maxIPLen(ipVersion) * 8
		if prefixLen > maxBits {
			return prefixes, fmt.Errorf("bgp: prefix length %d exceeds afi maximum", prefixLen)
		}
		byteLen := (prefixLen + 7) / 8
		if offset+byteLen > len(data) {
			return prefixes, fmt.Errorf("bgp: prefix data truncated at offset %d", offset)
		}
		prefixBytes := make([]byte, maxIPLen(ipVersion))
		copy(prefixBytes, data[offset:offset+byteLen])
		offset += byteLen

		prefixes = append(prefixes, PrefixInfo{
			Prefix:    fmt.Sprintf("%s/%d", net.IP(prefixBytes).String(), prefixLen),
			PathID:    pathID,
			HasPathID: hasAddPath,
		})
	}
	return prefixes, nil
}

// parseLabeledPrefixes decodes labeled-unicast (SAFI 4) NLRI: optional
// path-id, then a prefix-length field covering a sequence of 3-byte
// labels (bottom-of-stack bit on the last) followed by the address
// bytes. When skipRD is true, an 8-byte RD immediately precedes the
// address bytes (MPLS-VPN framing, used by parseVPNPrefixes).
func parseLabeledPrefixes(data []byte, ipVersion int, hasAddPath bool, skipRD bool) ([]PrefixInfo, error) {
	prefixes, err := parseLabeledPrefixesWithRD(data, ipVersion, hasAddPath, skipRD)
	if err != nil {
		return nil, err
	}
	result := make([]PrefixInfo, len(prefixes))
	for i, p := range prefixes {
		result[i] = p.PrefixInfo
	}
	return result, nil
}

func parseVPNPrefixes(data []byte, ipVersion int, hasAddPath bool) ([]VPNPrefixInfo, error) {
	return parseLabeledPrefixesWithRD(data, ipVersion, hasAddPath, true)
}

func parseLabeledPrefixesWithRD(data []byte, ipVersion int, hasAddPath bool, withRD bool) ([]VPNPrefixInfo, error) {
	var prefixes []VPNPrefixInfo
	offset := 0
	for offset < len(data) {
		var pathID int64
		if hasAddPath {
			if offset+4 > len(data) {
				return prefixes, fmt.Errorf("bgp: labeled prefix truncated at offset %d", offset)
			}
			pathID = int64(binary.BigEndian.Uint32(data[offset : offset+4]))
			offset += 4
		}
		if offset >= len(data) {
			return prefixes, fmt.Errorf("bgp: labeled prefix truncated at offset %d", offset)
		}
		bitLen := int(data[offset])
		offset++

		var labels []uint32
		labelBits := 0
		for {
			if offset+3 > len(data) {
				return prefixes, fmt.Errorf("bgp: label field truncated at offset %d", offset)
			}
			raw := uint32(data[offset])<<16 | uint32(data[offset+1])<<8 | uint32(data[offset+2])
			offset += 3
			labelBits += 24
			bottomOfStack := raw&0x01 != 0
			isWithdraw := raw == explicitWithdrawLabel
			if !isWithdraw {
				labels = append(labels, raw>>4)
			}
			if bottomOfStack || isWithdraw {
				break
			}
			if labelBits >= bitLen {
				break
			}
		}

		var rd string
		if withRD {
			if offset+8 > len(data) {
				return prefixes, fmt.Errorf("bgp: rd truncated at offset %d", offset)
			}
			rd = DecodeRD(data[offset : offset+8])
			offset += 8
			labelBits += 64
		}

		prefixBits := bitLen - labelBits
		if prefixBits < 0 {
			prefixBits = 0
		}
		byteLen := (prefixBits + 7) / 8
		maxBytes := maxIPLen(ipVersion)
		if byteLen > maxBytes {
			return prefixes, fmt.Errorf("bgp: prefix length %d exceeds afi maximum", prefixBits)
		}
		if offset+byteLen > len(data) {
			return prefixes, fmt.Errorf("bgp: prefix bytes truncated at offset %d", offset)
		}
		prefixBytes := make([]byte, maxBytes)
		copy(prefixBytes, data[offset:offset+byteLen])
		offset += byteLen

		prefixes = append(prefixes, VPNPrefixInfo{
			PrefixInfo: PrefixInfo{
				Prefix:    fmt.Sprintf("%s/%d", net.IP(prefixBytes).String(), prefixBits),
				PathID:    pathID,
				HasPathID: hasAddPath,
				Labels:    labels,
			},
			RD: rd,
		})
	}
	return prefixes, nil
}

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
	case 1:
		ip := net.IP(b[2:6]).String()
		num := binary.BigEndian.Uint16(b[6:8])
		return fmt.Sprintf("%s:%d", ip, num)
	case 2:
		asn := binary.BigEndian.Uint32(b[2:6])
		num := binary.BigEndian.Uint16(b[6:8])
		return fmt.Sprintf("%d:%d", asn, num)
	default:
		asn := binary.BigEndian.Uint16(b[2:4])
		num := binary.BigEndian.Uint32(b[4:8])
		return fmt.Sprintf("%d:%d", asn, num)
	}
}

func afiToVersion(afi uint16) int {
	switch afi {
	case AFIIPv4:
		return 4
	case AFIIPv6:
		return 6
	default:
		return 0
	}
}

func maxIPLen(version int) int {
	if version == 4 {
		return 4
	}
	return 16
}

// OriginASN extracts the origin AS number (last ASN) from a
// space-delimited AS path string. Returns nil if the path is empty or
// ends with an AS_SET (e.g. "{64497,64498}").
func OriginASN(asPath string) *int {
	asPath = strings.TrimSpace(asPath)
	if asPath == "" {
		return nil
	}
	fields := strings.Fields(asPath)
	last := fields[len(fields)-1]
	if strings.HasPrefix(last, "{") {
		return nil
	}
	var asn int
	if _, err := fmt.Sscanf(last, "%d", &asn); err != nil {
		return nil
	}
	return &asn
}
