package bgp

import (
	"encoding/binary"
	"testing"
)

func buildBGPUpdate(withdrawn []byte, pathAttrs []byte, nlri []byte) []byte {
	bodyLen := 2 + len(withdrawn) + 2 + len(pathAttrs) + len(nlri)
	totalLen := 19 + bodyLen

	msg := make([]byte, totalLen)
	for i := 0; i < 16; i++ {
		msg[i] = 0xFF
	}
	binary.BigEndian.PutUint16(msg[16:18], uint16(totalLen))
	msg[18] = MsgTypeUpdate

	offset := 19
	binary.BigEndian.PutUint16(msg[offset:offset+2], uint16(len(withdrawn)))
	offset += 2
	copy(msg[offset:], withdrawn)
	offset += len(withdrawn)

	binary.BigEndian.PutUint16(msg[offset:offset+2], uint16(len(pathAttrs)))
	offset += 2
	copy(msg[offset:], pathAttrs)
	offset += len(pathAttrs)

	copy(msg[offset:], nlri)
	return msg
}

func buildPathAttr(flags byte, typeCode byte, data []byte) []byte {
	if len(data) > 255 {
		attr := make([]byte, 4+len(data))
		attr[0] = flags | 0x10
		attr[1] = typeCode
		binary.BigEndian.PutUint16(attr[2:4], uint16(len(data)))
		copy(attr[4:], data)
		return attr
	}
	attr := make([]byte, 3+len(data))
	attr[0] = flags
	attr[1] = typeCode
	attr[2] = byte(len(data))
	copy(attr[3:], data)
	return attr
}

func buildUnicastNLRI(prefixLen int, prefixBytes []byte) []byte {
	byteLen := (prefixLen + 7) / 8
	out := make([]byte, 1+byteLen)
	out[0] = byte(prefixLen)
	copy(out[1:], prefixBytes[:byteLen])
	return out
}

func TestParseUpdateScenarioS1(t *testing.T) {
	origin := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	asPathData := []byte{ASPathSegmentSequence, 1, 0, 0, 0xFD, 0xE9} // AS 65001
	asPath := buildPathAttr(0x40, AttrTypeASPath, asPathData)
	nextHop := buildPathAttr(0x40, AttrTypeNextHop, []byte{10, 0, 0, 1})

	var pathAttrs []byte
	pathAttrs = append(pathAttrs, origin...)
	pathAttrs = append(pathAttrs, asPath...)
	pathAttrs = append(pathAttrs, nextHop...)

	nlri := buildUnicastNLRI(24, []byte{192, 168, 5, 0})

	msg := buildBGPUpdate(nil, pathAttrs, nlri)
	events, _, err := ParseUpdate(msg, nil, true)
	if err != nil {
		t.Fatalf("parse update: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Prefix != "192.168.5.0/24" {
		t.Fatalf("prefix = %q", ev.Prefix)
	}
	if ev.Action != "A" {
		t.Fatalf("action = %q", ev.Action)
	}
	if ev.ASPath != "65001" {
		t.Fatalf("as path = %q", ev.ASPath)
	}
	if ev.Nexthop != "10.0.0.1" {
		t.Fatalf("nexthop = %q", ev.Nexthop)
	}
}

func TestParseUpdateWithdrawal(t *testing.T) {
	withdrawn := buildUnicastNLRI(24, []byte{172, 16, 1, 0})
	msg := buildBGPUpdate(withdrawn, nil, nil)
	events, _, err := ParseUpdate(msg, nil, true)
	if err != nil {
		t.Fatalf("parse update: %v", err)
	}
	if len(events) != 1 || events[0].Action != "D" {
		t.Fatalf("expected 1 withdrawal event, got %+v", events)
	}
	if events[0].Prefix != "172.16.1.0/24" {
		t.Fatalf("prefix = %q", events[0].Prefix)
	}
}

func TestParseUpdateAddPathNLRI(t *testing.T) {
	origin := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	nlriBody := make([]byte, 4+1+3)
	binary.BigEndian.PutUint32(nlriBody[0:4], 7) // path id 7
	nlriBody[4] = 24
	copy(nlriBody[5:], []byte{192, 168, 5})

	msg := buildBGPUpdate(nil, origin, nlriBody)
	addPath := map[AddPathKey]bool{{AFI: AFIIPv4, SAFI: SAFIUnicast}: true}
	events, _, err := ParseUpdate(msg, addPath, true)
	if err != nil {
		t.Fatalf("parse update: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].HasPathID || events[0].PathID != 7 {
		t.Fatalf("expected path id 7, got %+v", events[0])
	}
}

func TestParseUpdateMPReachIPv6(t *testing.T) {
	v6addr := make([]byte, 16)
	v6addr[0] = 0x20
	v6addr[1] = 0x01
	nh := make([]byte, 4+16)
	binary.BigEndian.PutUint16(nh[0:2], AFIIPv6)
	nh[2] = SAFIUnicast
	nh[3] = 16
	copy(nh[4:], v6addr)
	nh = append(nh, 0) // SNPA count = 0
	prefixBytes := make([]byte, 16)
	prefixBytes[0] = 0x20
	prefixBytes[1] = 0x01
	nlri := buildUnicastNLRI(32, prefixBytes)
	nh = append(nh, nlri...)

	mpReach := buildPathAttr(0xC0, AttrTypeMPReachNLRI, nh)
	origin := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	var pathAttrs []byte
	pathAttrs = append(pathAttrs, origin...)
	pathAttrs = append(pathAttrs, mpReach...)

	msg := buildBGPUpdate(nil, pathAttrs, nil)
	events, _, err := ParseUpdate(msg, nil, true)
	if err != nil {
		t.Fatalf("parse update: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].AFI != 6 {
		t.Fatalf("afi = %d", events[0].AFI)
	}
}

func TestParseUpdateTwoOctetASN(t *testing.T) {
	origin := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	asPathData := []byte{ASPathSegmentSequence, 1, 0xFD, 0xE9} // AS 65001, 2-octet width
	asPath := buildPathAttr(0x40, AttrTypeASPath, asPathData)
	aggData := []byte{0xFD, 0xE9, 10, 0, 0, 1} // AS 65001 + 10.0.0.1, 2-octet width
	agg := buildPathAttr(0xC0, AttrTypeAggregator, aggData)

	var pathAttrs []byte
	pathAttrs = append(pathAttrs, origin...)
	pathAttrs = append(pathAttrs, asPath...)
	pathAttrs = append(pathAttrs, agg...)

	nlri := buildUnicastNLRI(24, []byte{192, 168, 5, 0})

	msg := buildBGPUpdate(nil, pathAttrs, nlri)
	events, _, err := ParseUpdate(msg, nil, false)
	if err != nil {
		t.Fatalf("parse update: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.ASPath != "65001" {
		t.Fatalf("as path = %q", ev.ASPath)
	}
	// RouteEvent doesn't surface Aggregator directly; re-parse the same
	// attribute bytes to confirm the 2-octet AGGREGATOR decoded instead
	// of being silently dropped.
	attrs, err := ParsePathAttributes(pathAttrs, nil, false)
	if err != nil {
		t.Fatalf("parse path attrs: %v", err)
	}
	if attrs.Aggregator != "65001:10.0.0.1" {
		t.Fatalf("aggregator = %q", attrs.Aggregator)
	}
}

func TestOriginASN(t *testing.T) {
	asn := OriginASN("65001 65002 65003")
	if asn == nil || *asn != 65003 {
		t.Fatalf("origin asn = %v", asn)
	}
	if OriginASN("65001 {64497,64498}") != nil {
		t.Fatalf("expected nil origin asn for trailing AS_SET")
	}
}
