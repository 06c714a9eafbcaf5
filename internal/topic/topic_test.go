package topic

import (
	"net"
	"testing"

	"github.com/routebeacon/bgpmond/internal/config"
)

func testGroups() config.GroupsConfig {
	return config.GroupsConfig{
		RouterGroup: []config.GroupRule{
			{Name: "core", RegexpHostname: []string{"^core-.*"}},
			{Name: "edge", PrefixRange: []string{"10.1.0.0/16"}},
		},
		PeerGroup: []config.PeerGroupRule{
			{GroupRule: config.GroupRule{Name: "transit", PrefixRange: []string{"192.0.2.0/24"}}},
			{GroupRule: config.GroupRule{Name: "customer"}, ASN: []uint32{65001, 65002}},
		},
	}
}

func TestRouterGroupHostnameMatch(t *testing.T) {
	m := NewMatcher(testGroups())
	if g := m.RouterGroup("core-router1.example.net", nil); g != "core" {
		t.Fatalf("router group = %q, want core", g)
	}
}

func TestRouterGroupPrefixFallback(t *testing.T) {
	m := NewMatcher(testGroups())
	if g := m.RouterGroup("", net.ParseIP("10.1.5.5")); g != "edge" {
		t.Fatalf("router group = %q, want edge", g)
	}
}

func TestRouterGroupNoMatch(t *testing.T) {
	m := NewMatcher(testGroups())
	if g := m.RouterGroup("other.example.net", net.ParseIP("172.16.0.1")); g != "" {
		t.Fatalf("router group = %q, want empty", g)
	}
}

func TestPeerGroupASNFallback(t *testing.T) {
	m := NewMatcher(testGroups())
	hash := [16]byte{1}
	g := m.PeerGroup(hash, "", net.ParseIP("203.0.113.1"), 65001)
	if g != "customer" {
		t.Fatalf("peer group = %q, want customer", g)
	}
}

func TestPeerGroupPrefixBeatsASN(t *testing.T) {
	m := NewMatcher(testGroups())
	hash := [16]byte{2}
	g := m.PeerGroup(hash, "", net.ParseIP("192.0.2.50"), 65001)
	if g != "transit" {
		t.Fatalf("peer group = %q, want transit", g)
	}
}

func TestPeerGroupCached(t *testing.T) {
	m := NewMatcher(testGroups())
	hash := [16]byte{3}
	first := m.PeerGroup(hash, "", net.ParseIP("192.0.2.50"), 65001)
	// Mutate underlying lookup inputs; cached result must not change.
	second := m.PeerGroup(hash, "", net.ParseIP("198.51.100.1"), 0)
	if first != second {
		t.Fatalf("cached peer group changed: %q != %q", first, second)
	}
}

func TestIncludesPeerASN(t *testing.T) {
	if !IncludesPeerASN("unicast_prefix.{router_group}.{peer_group}.{peer_asn}") {
		t.Fatal("expected {peer_asn} to be detected")
	}
	if IncludesPeerASN("unicast_prefix.{router_group}.{peer_group}") {
		t.Fatal("did not expect {peer_asn} to be detected")
	}
}

func TestKeyComposition(t *testing.T) {
	cases := []struct {
		topicVar       string
		router, peer   string
		includePeerASN bool
		asn            uint32
		want           string
	}{
		{VarCollector, "anything", "anything", true, 1, "collector"},
		{VarRouter, "core", "ignored", true, 1, "router_core"},
		{VarUnicastPrefix, "core", "transit", false, 0, "unicast_prefix_core_transit"},
		{VarUnicastPrefix, "core", "transit", true, 65001, "unicast_prefix_core_transit_65001"},
		{VarUnicastPrefix, "", "", true, 0, "unicast_prefix___"},
	}
	for _, c := range cases {
		got := Key(c.topicVar, c.router, c.peer, c.includePeerASN, c.asn)
		if got != c.want {
			t.Errorf("Key(%q,%q,%q,%v,%d) = %q, want %q", c.topicVar, c.router, c.peer, c.includePeerASN, c.asn, got, c.want)
		}
	}
}

func TestResolveNameDefaultsAndSubstitution(t *testing.T) {
	name := ResolveName("openbmp.bmp_raw.{router_group}.{peer_group}.{peer_asn}", "", "", 0, nil)
	want := "openbmp.bmp_raw.default.default.default"
	if name != want {
		t.Fatalf("resolved name = %q, want %q", name, want)
	}

	name = ResolveName("openbmp.unicast_prefix.{router_group}.{peer_group}.{peer_asn}", "core", "transit", 65001, nil)
	want = "openbmp.unicast_prefix.core.transit.65001"
	if name != want {
		t.Fatalf("resolved name = %q, want %q", name, want)
	}
}
