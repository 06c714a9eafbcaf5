package identity

import "testing"

func TestRouterHashStableAcrossRestarts(t *testing.T) {
	collectorHash, _ := Collector("admin-1")
	h1, _ := Router("10.0.0.1", collectorHash)
	h2, _ := Router("10.0.0.1", collectorHash)
	if h1 != h2 {
		t.Fatalf("router hash should be deterministic for same ip+collector")
	}
}

func TestPeerHashExcludesBGPID(t *testing.T) {
	routerHash, _ := Router("10.0.0.1", [16]byte{})
	h1, _ := Peer(routerHash, "0:0", "192.0.2.1")
	h2, _ := Peer(routerHash, "0:0", "192.0.2.1")
	if h1 != h2 {
		t.Fatalf("peer hash must be invariant under peer_bgp_id alone (not even hashed)")
	}
}

func TestRibEntryWithdrawMatchesAdvertisement(t *testing.T) {
	peerHash, _ := Peer([16]byte{1}, "0:0", "192.0.2.1")

	adv, _ := RibEntry(RibEntryFields{
		Prefix: "192.168.5.0/24", PrefixLen: 24, PeerHash: peerHash,
		LabelsPresent: false,
	})
	withdraw, _ := RibEntry(RibEntryFields{
		Prefix: "192.168.5.0/24", PrefixLen: 24, PeerHash: peerHash,
		LabelsPresent: false,
	})
	if adv != withdraw {
		t.Fatalf("withdrawal hash must equal original advertisement hash")
	}
}

func TestRibEntryLabelPresenceNotValue(t *testing.T) {
	peerHash, _ := Peer([16]byte{1}, "0:0", "192.0.2.1")
	withLabelA, _ := RibEntry(RibEntryFields{Prefix: "10.0.0.0/24", PrefixLen: 24, PeerHash: peerHash, LabelsPresent: true})
	withLabelB, _ := RibEntry(RibEntryFields{Prefix: "10.0.0.0/24", PrefixLen: 24, PeerHash: peerHash, LabelsPresent: true})
	if withLabelA != withLabelB {
		t.Fatalf("label-present hash should not depend on label value, only presence")
	}
}

func TestPathAttrIncorporatesPeerHash(t *testing.T) {
	peerA, _ := Peer([16]byte{1}, "0:0", "192.0.2.1")
	peerB, _ := Peer([16]byte{2}, "0:0", "192.0.2.2")

	fa := PathAttrFields{ASPath: "65001", NextHop: "10.0.0.1", Origin: "IGP", PeerHash: peerA}
	fb := fa
	fb.PeerHash = peerB

	ha, _ := PathAttr(fa)
	hb, _ := PathAttr(fb)
	if ha == hb {
		t.Fatalf("identical attribute sets from different peers must not alias")
	}
}
