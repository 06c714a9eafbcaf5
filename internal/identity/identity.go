// Package identity computes the stable MD5-based identifiers used to
// key every entity the collector emits. The scheme is a compatibility
// contract with downstream consumers, not a security mechanism: MD5 is
// used deliberately so hashes match legacy deployments.
package identity

import (
	"encoding/binary"
	"fmt"

	"github.com/routebeacon/bgpmond/internal/wire"
)

// Collector derives the collector hash from its configured admin_id.
func Collector(adminID string) (sum [16]byte, hexStr string) {
	return wire.Hash([]byte(adminID))
}

// Router derives a router hash from its IP address and the owning
// collector's hash, so it remains stable across collector restarts.
func Router(ipAddr string, collectorHash [16]byte) (sum [16]byte, hexStr string) {
	return wire.Hash([]byte(ipAddr), collectorHash[:])
}

// Peer derives a peer hash from the owning router's hash plus the
// peer's RD and address. peer_bgp_id is deliberately excluded: at least
// one vendor implementation zeroes it on session re-advertisement, and
// including it would make the hash flap across BGP resets.
func Peer(routerHash [16]byte, peerRD, peerAddr string) (sum [16]byte, hexStr string) {
	return wire.Hash(routerHash[:], []byte(peerRD), []byte(peerAddr))
}

// PathAttrFields is the canonical, ordered field set hashed for a
// PathAttributes record.
type PathAttrFields struct {
	ASPath      string
	NextHop     string
	Aggregator  string
	Origin      string
	MED         *uint32
	LocalPref   *uint32
	Communities []string
	ExtCommunities []string
	PeerHash    [16]byte
}

// PathAttr hashes a PathAttributes set. It incorporates the peer hash
// so that identical attribute sets advertised by different peers never
// collide.
func PathAttr(f PathAttrFields) (sum [16]byte, hexStr string) {
	fields := [][]byte{
		[]byte(f.ASPath),
		[]byte(f.NextHop),
		[]byte(f.Aggregator),
		[]byte(f.Origin),
		optionalUint32(f.MED),
		optionalUint32(f.LocalPref),
	}
	for _, c := range f.Communities {
		fields = append(fields, []byte(c))
	}
	for _, c := range f.ExtCommunities {
		fields = append(fields, []byte(c))
	}
	fields = append(fields, f.PeerHash[:])
	return wire.Hash(fields...)
}

func optionalUint32(v *uint32) []byte {
	if v == nil {
		return nil
	}
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, *v)
	return b
}

// RibEntryFields is the canonical field set hashed for a unicast RIB
// entry.
type RibEntryFields struct {
	Prefix      string
	PrefixLen   int
	PeerHash    [16]byte
	HasPathID   bool
	PathID      uint32
	LabelsPresent bool
}

// RibEntry hashes a unicast prefix reachability record. The label
// value itself is intentionally excluded (only a presence flag is
// hashed) so a withdrawal — which carries no label — still produces
// the same hash as the original advertisement.
func RibEntry(f RibEntryFields) (sum [16]byte, hexStr string) {
	fields := [][]byte{
		[]byte(f.Prefix),
		[]byte(fmt.Sprintf("%d", f.PrefixLen)),
		f.PeerHash[:],
	}
	if f.HasPathID {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, f.PathID)
		fields = append(fields, b)
	}
	if f.LabelsPresent {
		fields = append(fields, []byte{1})
	} else {
		fields = append(fields, []byte{0})
	}
	return wire.Hash(fields...)
}

// LsNodeFields is the canonical field set hashed for a BGP-LS node.
type LsNodeFields struct {
	IGPRouterID string
	BGPLSID     uint32
	ASN         uint32
	OSPFAreaID  string
	PeerHash    [16]byte
}

// LsNode hashes a BGP-LS node descriptor tuple.
func LsNode(f LsNodeFields) (sum [16]byte, hexStr string) {
	bgpls := make([]byte, 4)
	binary.BigEndian.PutUint32(bgpls, f.BGPLSID)
	asn := make([]byte, 4)
	binary.BigEndian.PutUint32(asn, f.ASN)
	return wire.Hash([]byte(f.IGPRouterID), bgpls, asn, []byte(f.OSPFAreaID), f.PeerHash[:])
}
