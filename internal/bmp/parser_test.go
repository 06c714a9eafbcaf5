package bmp

import (
	"encoding/binary"
	"testing"
)

func buildCommonHeader(msgType uint8, bodyLen int) []byte {
	total := CommonHeaderSizeV3 + bodyLen
	hdr := make([]byte, CommonHeaderSizeV3)
	hdr[0] = BMPVersion3
	binary.BigEndian.PutUint32(hdr[1:5], uint32(total))
	hdr[5] = msgType
	return hdr
}

func buildPeerHeader() []byte {
	ph := make([]byte, PerPeerHeaderSize)
	ph[0] = PeerTypeGlobal
	ph[1] = 0 // IPv4, pre-policy
	// RD bytes 2:10 left zero -> "0:0"
	copy(ph[10:26], []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 192, 168, 1, 1})
	binary.BigEndian.PutUint32(ph[26:30], 65001)
	copy(ph[30:34], []byte{10, 0, 0, 1})
	return ph
}

func TestParseInitiation(t *testing.T) {
	var body []byte
	sysName := []byte("router1")
	tlv := make([]byte, 4+len(sysName))
	binary.BigEndian.PutUint16(tlv[0:2], TLVTypeSysName)
	binary.BigEndian.PutUint16(tlv[2:4], uint16(len(sysName)))
	copy(tlv[4:], sysName)
	body = append(body, tlv...)

	frame := append(buildCommonHeader(MsgTypeInitiation, len(body)), body...)
	msg, err := Parse(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Type != MsgTypeInitiation {
		t.Fatalf("expected initiation type")
	}
	if msg.Initiation.SysName != "router1" {
		t.Fatalf("sys name = %q", msg.Initiation.SysName)
	}
}

func TestParseTerminationReason(t *testing.T) {
	reasonVal := make([]byte, 2)
	binary.BigEndian.PutUint16(reasonVal, TermReasonAdminClose)
	tlv := make([]byte, 4+len(reasonVal))
	binary.BigEndian.PutUint16(tlv[0:2], TLVTypeTermReason)
	binary.BigEndian.PutUint16(tlv[2:4], uint16(len(reasonVal)))
	copy(tlv[4:], reasonVal)

	frame := append(buildCommonHeader(MsgTypeTermination, len(tlv)), tlv...)
	msg, err := Parse(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !msg.Termination.HasReason || msg.Termination.ReasonCode != TermReasonAdminClose {
		t.Fatalf("termination reason not decoded: %+v", msg.Termination)
	}
}

func TestParsePeerDownReason2FSMCode(t *testing.T) {
	ph := buildPeerHeader()
	body := append([]byte{}, ph...)
	body = append(body, PeerDownLocalNoNotify)
	fsm := make([]byte, 2)
	binary.BigEndian.PutUint16(fsm, 7)
	body = append(body, fsm...)

	frame := append(buildCommonHeader(MsgTypePeerDown, len(body)), body...)
	msg, err := Parse(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.PeerDown.Reason != PeerDownLocalNoNotify || msg.PeerDown.FSMCode != 7 {
		t.Fatalf("peer down not decoded: %+v", msg.PeerDown)
	}
	if msg.Peer.PeerAddr != "192.168.1.1" {
		t.Fatalf("peer addr = %q", msg.Peer.PeerAddr)
	}
}

func TestParseStatsReport32And64Bit(t *testing.T) {
	ph := buildPeerHeader()
	body := append([]byte{}, ph...)

	countBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(countBuf, 2)
	body = append(body, countBuf...)

	tlv1 := make([]byte, 8)
	binary.BigEndian.PutUint16(tlv1[0:2], StatPrefixesRejected)
	binary.BigEndian.PutUint16(tlv1[2:4], 4)
	binary.BigEndian.PutUint32(tlv1[4:8], 3)
	body = append(body, tlv1...)

	tlv2 := make([]byte, 12)
	binary.BigEndian.PutUint16(tlv2[0:2], StatRoutesLocRib)
	binary.BigEndian.PutUint16(tlv2[2:4], 8)
	binary.BigEndian.PutUint64(tlv2[4:12], 10000)
	body = append(body, tlv2...)

	frame := append(buildCommonHeader(MsgTypeStatisticsReport, len(body)), body...)
	msg, err := Parse(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Stats[StatPrefixesRejected] != 3 {
		t.Fatalf("stat 32-bit wrong: %v", msg.Stats)
	}
	if msg.Stats[StatRoutesLocRib] != 10000 {
		t.Fatalf("stat 64-bit wrong: %v", msg.Stats)
	}
}

func buildMinimalOpen() []byte {
	// marker(16) + length(2) + type(1) + version(1) + asn(2) + hold(2) + bgpid(4) + paramlen(1)
	msg := make([]byte, 19+1+2+2+4+1)
	for i := 0; i < 16; i++ {
		msg[i] = 0xff
	}
	binary.BigEndian.PutUint16(msg[16:18], uint16(len(msg)))
	msg[18] = 1 // OPEN
	msg[19] = 4 // version
	binary.BigEndian.PutUint16(msg[20:22], 65001)
	binary.BigEndian.PutUint16(msg[22:24], 180)
	copy(msg[24:28], []byte{10, 0, 0, 1})
	msg[28] = 0 // param length
	return msg
}

func TestParsePeerUpSentRecvOpen(t *testing.T) {
	ph := buildPeerHeader()
	body := append([]byte{}, ph...)

	localAddr := make([]byte, 16)
	copy(localAddr[12:16], []byte{10, 0, 0, 2})
	body = append(body, localAddr...)
	localPort := make([]byte, 2)
	binary.BigEndian.PutUint16(localPort, 179)
	body = append(body, localPort...)
	remotePort := make([]byte, 2)
	binary.BigEndian.PutUint16(remotePort, 52000)
	body = append(body, remotePort...)

	sentOpen := buildMinimalOpen()
	recvOpen := buildMinimalOpen()
	body = append(body, sentOpen...)
	body = append(body, recvOpen...)

	frame := append(buildCommonHeader(MsgTypePeerUp, len(body)), body...)
	msg, err := Parse(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.PeerUp.LocalAddr != "10.0.0.2" {
		t.Fatalf("local addr = %q", msg.PeerUp.LocalAddr)
	}
	if len(msg.PeerUp.SentOpen) != len(sentOpen) || len(msg.PeerUp.RecvOpen) != len(recvOpen) {
		t.Fatalf("open payload lengths mismatch")
	}
}

func TestParseRouteMonitoring(t *testing.T) {
	ph := buildPeerHeader()
	bgpUpdate := buildMinimalOpen() // stand-in payload with a valid length header
	body := append([]byte{}, ph...)
	body = append(body, bgpUpdate...)

	frame := append(buildCommonHeader(MsgTypeRouteMonitoring, len(body)), body...)
	msg, err := Parse(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(msg.BGPPayload) != len(bgpUpdate) {
		t.Fatalf("bgp payload length mismatch: got %d want %d", len(msg.BGPPayload), len(bgpUpdate))
	}
}

func TestParseRejectsOversizedFrame(t *testing.T) {
	hdr := make([]byte, CommonHeaderSizeV3)
	hdr[0] = BMPVersion3
	binary.BigEndian.PutUint32(hdr[1:5], MaxMessageLength+1)
	hdr[5] = MsgTypeRouteMonitoring
	_, err := Parse(hdr)
	if err == nil {
		t.Fatalf("expected error for oversized total_length")
	}
}
