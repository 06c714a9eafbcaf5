package bgp

import (
	"encoding/binary"
	"fmt"
)

// ParseUpdate parses a BGP UPDATE message (including its 19-byte
// common header) into a list of route events, one per prefix/route
// found across the legacy IPv4 NLRI and every MP_REACH/MP_UNREACH
// family carried in the path attributes, plus a separate list of any
// BGP-LS node/link/prefix NLRI carried in the same UPDATE. use4OctetASN
// reports whether the session negotiated 4-octet ASN capability on
// both sides (see NegotiatedAddPath's sibling check in session.go),
// selecting the AS_PATH/AGGREGATOR decode width.
func ParseUpdate(data []byte, addPath map[AddPathKey]bool, use4OctetASN bool) ([]*RouteEvent, []*LSEvent, error) {
	if len(data) < BGPHeaderSize {
		return nil, nil, fmt.Errorf("bgp: update too short (%d bytes)", len(data))
	}
	msgType := data[18]
	if msgType != MsgTypeUpdate {
		return nil, nil, nil
	}
	return parseUpdatePayload(data[BGPHeaderSize:], addPath, use4OctetASN)
}

func parseUpdatePayload(data []byte, addPath map[AddPathKey]bool, use4OctetASN bool) ([]*RouteEvent, []*LSEvent, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("bgp: update payload too short (%d bytes)", len(data))
	}

	offset := 0
	withdrawnLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if offset+withdrawnLen > len(data) {
		return nil, nil, fmt.Errorf("bgp: withdrawn length %d exceeds data", withdrawnLen)
	}
	hasV4UnicastAddPath := addPath[AddPathKey{AFI: AFIIPv4, SAFI: SAFIUnicast}]
	withdrawnPrefixes, _ := parseUnicastPrefixes(data[offset:offset+withdrawnLen], 4, hasV4UnicastAddPath)
	offset += withdrawnLen

	if offset+2 > len(data) {
		return nil, nil, fmt.Errorf("bgp: no room for path attr length")
	}
	totalPathAttrLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if offset+totalPathAttrLen > len(data) {
		return nil, nil, fmt.Errorf("bgp: path attr length %d exceeds data", totalPathAttrLen)
	}

	attrs, err := ParsePathAttributes(data[offset:offset+totalPathAttrLen], addPath, use4OctetASN)
	if err != nil {
		return nil, nil, fmt.Errorf("bgp: parse path attrs: %w", err)
	}
	offset += totalPathAttrLen

	nlriPrefixes, _ := parseUnicastPrefixes(data[offset:], 4, hasV4UnicastAddPath)

	var events []*RouteEvent

	for _, p := range withdrawnPrefixes {
		events = append(events, &RouteEvent{
			AFI: 4, SAFI: SAFIUnicast, Prefix: p.Prefix, PathID: p.PathID, HasPathID: p.HasPathID,
			Action: "D",
		})
	}

	for _, p := range nlriPrefixes {
		events = append(events, attrsToEvent(4, SAFIUnicast, p.Prefix, p.PathID, p.HasPathID, nil, "", "A", attrs))
	}

	// MP_REACH_NLRI announcements.
	if afi := afiToVersion(attrs.MPReachAFI); afi != 0 {
		switch attrs.MPReachSAFI {
		case SAFIUnicast, SAFIMulticast:
			for _, p := range attrs.UnicastNLRI {
				events = append(events, attrsToEvent(afi, attrs.MPReachSAFI, p.Prefix, p.PathID, p.HasPathID, nil, "", "A", attrs))
			}
		case SAFILabeled:
			for _, p := range attrs.LabeledNLRI {
				events = append(events, attrsToEvent(afi, attrs.MPReachSAFI, p.Prefix, p.PathID, p.HasPathID, p.Labels, "", "A", attrs))
			}
		case SAFIMPLSVPN:
			for _, p := range attrs.VPNNLRI {
				events = append(events, attrsToEvent(afi, attrs.MPReachSAFI, p.Prefix, p.PathID, p.HasPathID, p.Labels, p.RD, "A", attrs))
			}
		}
	}
	if attrs.MPReachSAFI == SAFIEVPN {
		for _, r := range attrs.EVPNRoutes {
			events = append(events, evpnEvent(r, "A", attrs))
		}
	}
	var lsEvents []*LSEvent
	if attrs.MPReachAFI == AFIBGPLS && attrs.MPReachSAFI == SAFIBGPLS {
		for _, n := range attrs.LSNLRI {
			lsEvents = append(lsEvents, &LSEvent{NLRI: n, Attrs: attrs.LSAttrs, Action: "A"})
		}
	}

	// MP_UNREACH_NLRI withdrawals.
	if afi := afiToVersion(attrs.MPUnreachAFI); afi != 0 {
		switch attrs.MPUnreachSAFI {
		case SAFIUnicast, SAFIMulticast:
			for _, p := range attrs.UnicastWithdraw {
				events = append(events, &RouteEvent{AFI: afi, SAFI: attrs.MPUnreachSAFI, Prefix: p.Prefix, PathID: p.PathID, HasPathID: p.HasPathID, Action: "D"})
			}
		case SAFILabeled:
			for _, p := range attrs.LabeledWithdraw {
				events = append(events, &RouteEvent{AFI: afi, SAFI: attrs.MPUnreachSAFI, Prefix: p.Prefix, PathID: p.PathID, HasPathID: p.HasPathID, Action: "D"})
			}
		case SAFIMPLSVPN:
			for _, p := range attrs.VPNWithdraw {
				events = append(events, &RouteEvent{AFI: afi, SAFI: attrs.MPUnreachSAFI, Prefix: p.Prefix, PathID: p.PathID, HasPathID: p.HasPathID, RD: p.RD, Action: "D"})
			}
		}
	}
	if attrs.MPUnreachSAFI == SAFIEVPN {
		for _, r := range attrs.EVPNWithdraw {
			events = append(events, evpnEvent(r, "D", attrs))
		}
	}
	if attrs.MPUnreachAFI == AFIBGPLS && attrs.MPUnreachSAFI == SAFIBGPLS {
		for _, n := range attrs.LSWithdraw {
			lsEvents = append(lsEvents, &LSEvent{NLRI: n, Action: "D"})
		}
	}

	return events, lsEvents, nil
}

func attrsToEvent(afi int, safi uint8, prefix string, pathID int64, hasPathID bool, labels []uint32, rd, action string, attrs *PathAttributes) *RouteEvent {
	return &RouteEvent{
		AFI: afi, SAFI: safi, Prefix: prefix, PathID: pathID, HasPathID: hasPathID, Labels: labels, RD: rd,
		Action:    action,
		Nexthop:   nexthopFor(safi, attrs),
		ASPath:    attrs.ASPath,
		Origin:    attrs.Origin,
		LocalPref: attrs.LocalPref,
		MED:       attrs.MED,
		CommStd:   attrs.CommStd,
		CommExt:   attrs.CommExt,
		CommLarge: attrs.CommLarge,
		Attrs:     attrs.Attrs,
	}
}

func nexthopFor(safi uint8, attrs *PathAttributes) string {
	if safi == SAFIUnicast && attrs.MPReachSAFI != SAFIUnicast {
		return attrs.Nexthop
	}
	if attrs.MPReachNexthop != "" {
		return attrs.MPReachNexthop
	}
	return attrs.Nexthop
}

func evpnEvent(r *EVPNRoute, action string, attrs *PathAttributes) *RouteEvent {
	return &RouteEvent{
		SAFI: SAFIEVPN, RD: r.RD, Action: action, EVPN: r,
		Nexthop:   attrs.MPReachNexthop,
		ASPath:    attrs.ASPath,
		Origin:    attrs.Origin,
		LocalPref: attrs.LocalPref,
		MED:       attrs.MED,
		CommStd:   attrs.CommStd,
		CommExt:   attrs.CommExt,
		CommLarge: attrs.CommLarge,
	}
}
