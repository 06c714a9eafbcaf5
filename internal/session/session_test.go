package session

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/routebeacon/bgpmond/internal/bgp"
	"github.com/routebeacon/bgpmond/internal/bgp/linkstate"
	"github.com/routebeacon/bgpmond/internal/bmp"
	"github.com/routebeacon/bgpmond/internal/config"
	"github.com/routebeacon/bgpmond/internal/model"
	"github.com/routebeacon/bgpmond/internal/template"
	"github.com/routebeacon/bgpmond/internal/topic"
	"go.uber.org/zap"
)

type recordedPublish struct {
	topic string
	key   []byte
	value []byte
}

type fakePublisher struct {
	records []recordedPublish
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key, value []byte) error {
	f.records = append(f.records, recordedPublish{topic: topic, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}
func (f *fakePublisher) Ping(context.Context) error { return nil }
func (f *fakePublisher) Close()                     {}

func testSession(t *testing.T, pub *fakePublisher) *Session {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	cfg := Config{
		APIVersion:       "1.7",
		CollectorHashHex: "00112233445566778899aabbccddeeff",
		TopicNames: map[string]string{
			topic.VarRouter:        "openbmp.router",
			topic.VarPeer:          "openbmp.peer",
			topic.VarUnicastPrefix: "openbmp.unicast_prefix",
			topic.VarBMPRaw:        "openbmp.bmp_raw",
			topic.VarBMPStat:       "openbmp.bmp_stat",
		},
		BufferBytes: 64 * 1024,
	}
	matcher := topic.NewMatcher(config.GroupsConfig{})
	s := New(serverConn, cfg, matcher, pub, zap.NewNop())
	s.router.IPAddr = "198.51.100.1"
	s.router.HashID = [16]byte{9}
	return s
}

func TestHandleInitiationTransitionsAndPublishesRouter(t *testing.T) {
	pub := &fakePublisher{}
	s := testSession(t, pub)

	msg := &bmp.Message{
		Type:       bmp.MsgTypeInitiation,
		Initiation: &bmp.InitiationInfo{SysName: "router1", SysDescr: "Cisco IOS-XR"},
	}
	s.handleInitiation(context.Background(), msg)

	if s.state != model.RouterRunning {
		t.Fatalf("state = %v, want RUNNING", s.state)
	}
	if len(pub.records) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.records))
	}
	if pub.records[0].topic != "openbmp.router" {
		t.Fatalf("topic = %q", pub.records[0].topic)
	}
	if s.router.Name != "router1" {
		t.Fatalf("router name = %q", s.router.Name)
	}
}

func TestHandlePeerUpThenPeerDownClearsCache(t *testing.T) {
	pub := &fakePublisher{}
	s := testSession(t, pub)
	s.state = model.RouterRunning

	peerHdr := &bmp.PeerHeader{PeerAddr: "192.0.2.1", PeerAS: 65001}
	up := &bmp.Message{
		Type: bmp.MsgTypePeerUp,
		Peer: peerHdr,
		PeerUp: &bmp.PeerUpInfo{
			LocalAddr: "192.0.2.2",
		},
	}
	s.handlePeerUp(context.Background(), up)

	hash := s.peerKey(peerHdr)
	if _, ok := s.peers[hash]; !ok {
		t.Fatal("expected peer to be cached after Peer Up")
	}

	down := &bmp.Message{
		Type: bmp.MsgTypePeerDown,
		Peer: peerHdr,
		PeerDown: &bmp.PeerDownInfo{
			Reason: bmp.PeerDownLocal,
		},
	}
	s.handlePeerDown(context.Background(), down)

	if _, ok := s.peers[hash]; ok {
		t.Fatal("expected peer to be removed after Peer Down")
	}

	var sawPeerUp, sawPeerDown bool
	for _, rec := range pub.records {
		if rec.topic != "openbmp.peer" {
			continue
		}
		if strings.Contains(string(rec.value), "\tUP\n") {
			sawPeerUp = true
		}
		if strings.Contains(string(rec.value), "\tDOWN\t") {
			sawPeerDown = true
		}
	}
	if !sawPeerUp || !sawPeerDown {
		t.Fatalf("expected both peer up and down publishes, got %d records", len(pub.records))
	}
}

func TestHandleStatsReportPublishesBMPStat(t *testing.T) {
	pub := &fakePublisher{}
	s := testSession(t, pub)
	s.state = model.RouterRunning

	msg := &bmp.Message{
		Type: bmp.MsgTypeStatisticsReport,
		Peer: &bmp.PeerHeader{PeerAddr: "192.0.2.1"},
		Stats: map[uint16]uint64{
			bmp.StatRoutesLocRib: 42,
		},
	}
	s.handleStatsReport(context.Background(), msg)

	if len(pub.records) != 1 || pub.records[0].topic != "openbmp.bmp_stat" {
		t.Fatalf("records = %+v", pub.records)
	}
}

func TestRouteRowUsesConfiguredTemplate(t *testing.T) {
	pub := &fakePublisher{}
	s := testSession(t, pub)

	tmpl, err := template.Parse("{{#loop}}{{nlri.prefix}}{{end}} via {{attr.nexthop}}")
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	s.cfg.RouteTemplates = map[string]*template.Template{
		topic.VarUnicastPrefix: tmpl,
	}

	ev := &bgp.RouteEvent{Prefix: "198.51.100.0/24", Nexthop: "192.0.2.1", Action: "A"}
	row := s.routeRow(topic.VarUnicastPrefix, ev, [16]byte{1}, [16]byte{2}, [16]byte{3}, "192.0.2.1", 65001)

	want := "198.51.100.0/24 via 192.0.2.1\n"
	if row != want {
		t.Fatalf("row = %q, want %q", row, want)
	}
}

func TestRouteRowFallsBackWithoutTemplate(t *testing.T) {
	pub := &fakePublisher{}
	s := testSession(t, pub)

	ev := &bgp.RouteEvent{Prefix: "198.51.100.0/24", Nexthop: "192.0.2.1", Action: "A"}
	row := s.routeRow(topic.VarUnicastPrefix, ev, [16]byte{1}, [16]byte{2}, [16]byte{3}, "192.0.2.1", 65001)

	if !strings.Contains(row, "198.51.100.0/24") || !strings.HasSuffix(row, "\n") {
		t.Fatalf("unexpected default row: %q", row)
	}
}

func TestHandleLSEventPublishesNode(t *testing.T) {
	pub := &fakePublisher{}
	s := testSession(t, pub)
	s.cfg.TopicNames[topic.VarLsNode] = "openbmp.ls_node"

	ls := &bgp.LSEvent{
		NLRI: &linkstate.NLRI{
			Type: linkstate.NLRITypeNode,
			Node: &linkstate.NodeNLRI{
				Local: linkstate.Descriptor{
					IGPRouterID: "192.0.2.1",
					BGPRouterID: "192.0.2.1",
					ASN:         65001,
					HasASN:      true,
				},
			},
		},
		Action: "A",
	}
	s.handleLSEvent(context.Background(), ls, [16]byte{7}, "", 65001)

	if len(pub.records) != 1 || pub.records[0].topic != "openbmp.ls_node" {
		t.Fatalf("records = %+v", pub.records)
	}
	if !strings.Contains(string(pub.records[0].value), "192.0.2.1") {
		t.Fatalf("value = %q, want it to contain the IGP router-id", pub.records[0].value)
	}
}

func TestHandleLSEventPublishesLinkAndPrefix(t *testing.T) {
	pub := &fakePublisher{}
	s := testSession(t, pub)
	s.cfg.TopicNames[topic.VarLsLink] = "openbmp.ls_link"
	s.cfg.TopicNames[topic.VarLsPrefix] = "openbmp.ls_prefix"

	link := &bgp.LSEvent{
		NLRI: &linkstate.NLRI{
			Type: linkstate.NLRITypeLink,
			Link: &linkstate.LinkNLRI{
				Local:      linkstate.Descriptor{IGPRouterID: "192.0.2.1"},
				Remote:     linkstate.Descriptor{IGPRouterID: "192.0.2.2"},
				LocalAddr:  "198.51.100.1",
				RemoteAddr: "198.51.100.2",
			},
		},
		Action: "A",
	}
	s.handleLSEvent(context.Background(), link, [16]byte{7}, "", 65001)

	prefix := &bgp.LSEvent{
		NLRI: &linkstate.NLRI{
			Type: linkstate.NLRITypeIPv4Prefix,
			Prefix: &linkstate.PrefixNLRI{
				Local:     linkstate.Descriptor{IGPRouterID: "192.0.2.1"},
				Prefix:    "203.0.113.0/24",
				PrefixLen: 24,
			},
		},
		Action: "D",
	}
	s.handleLSEvent(context.Background(), prefix, [16]byte{7}, "", 65001)

	if len(pub.records) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pub.records))
	}
	if pub.records[0].topic != "openbmp.ls_link" || !strings.Contains(string(pub.records[0].value), "198.51.100.1") {
		t.Fatalf("link record = %+v", pub.records[0])
	}
	if pub.records[1].topic != "openbmp.ls_prefix" || !strings.Contains(string(pub.records[1].value), "203.0.113.0/24") {
		t.Fatalf("prefix record = %+v", pub.records[1])
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	pub := &fakePublisher{}
	s := testSession(t, pub)
	s.state = model.RouterRunning

	s.terminate(context.Background(), model.TermReasonCollectorClose, "shutdown")
	if s.state != model.RouterClosed {
		t.Fatalf("state = %v, want CLOSED", s.state)
	}
	firstCount := len(pub.records)

	s.terminate(context.Background(), model.TermReasonCollectorClose, "shutdown")
	if len(pub.records) != firstCount {
		t.Fatal("terminate should be a no-op once CLOSED")
	}
}
