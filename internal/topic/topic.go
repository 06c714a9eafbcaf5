// Package topic selects the Kafka topic for a published event: it
// matches a router or peer against configured groups (hostname regex,
// then CIDR prefix range, then — for peers — an ASN list), composes
// the topic-map cache key, and substitutes the matched group names
// into the configured topic-name template.
package topic

import (
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/routebeacon/bgpmond/internal/config"
)

const defaultGroupName = "default"

// compiledGroup is a router- or peer-group rule with its hostname
// regexps and prefix ranges pre-parsed.
type compiledGroup struct {
	name     string
	hostRe   []*regexp.Regexp
	prefixes []*net.IPNet
	asns     map[uint32]bool
}

// Matcher resolves router-group and peer-group membership against the
// groups configured under mapping.groups, and caches peer-group
// results per peer hash so repeated lookups for the same peer never
// re-run the regex/CIDR/ASN chain.
type Matcher struct {
	routerGroups []compiledGroup
	peerGroups   []compiledGroup

	peerGroupCache map[[16]byte]string
}

// NewMatcher compiles the router_group and peer_group rules from
// mapping configuration. Malformed regexps or CIDRs are skipped rather
// than failing startup, so one bad rule doesn't take the collector
// down; they simply never match.
func NewMatcher(groups config.GroupsConfig) *Matcher {
	m := &Matcher{
		peerGroupCache: make(map[[16]byte]string),
	}
	for _, rule := range groups.RouterGroup {
		m.routerGroups = append(m.routerGroups, compileGroup(rule.Name, rule.RegexpHostname, rule.PrefixRange, nil))
	}
	for _, rule := range groups.PeerGroup {
		asns := make(map[uint32]bool, len(rule.ASN))
		for _, a := range rule.ASN {
			asns[a] = true
		}
		m.peerGroups = append(m.peerGroups, compileGroup(rule.Name, rule.RegexpHostname, rule.PrefixRange, asns))
	}
	return m
}

func compileGroup(name string, hostnames, prefixes []string, asns map[uint32]bool) compiledGroup {
	g := compiledGroup{name: name, asns: asns}
	for _, pat := range hostnames {
		if re, err := regexp.Compile("(?i)" + pat); err == nil {
			g.hostRe = append(g.hostRe, re)
		}
	}
	for _, cidr := range prefixes {
		if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
			g.prefixes = append(g.prefixes, ipnet)
		}
	}
	return g
}

func matchHostname(groups []compiledGroup, hostname string) (string, bool) {
	if hostname == "" {
		return "", false
	}
	for _, g := range groups {
		for _, re := range g.hostRe {
			if re.MatchString(hostname) {
				return g.name, true
			}
		}
	}
	return "", false
}

func matchPrefix(groups []compiledGroup, addr net.IP) (string, bool) {
	if addr == nil {
		return "", false
	}
	for _, g := range groups {
		for _, ipnet := range g.prefixes {
			if ipnet.Contains(addr) {
				return g.name, true
			}
		}
	}
	return "", false
}

func matchASN(groups []compiledGroup, asn uint32) (string, bool) {
	for _, g := range groups {
		if g.asns[asn] {
			return g.name, true
		}
	}
	return "", false
}

// RouterGroup resolves a router's group name: hostname regex, then
// prefix range. No match yields the empty string.
func (m *Matcher) RouterGroup(hostname string, addr net.IP) string {
	if name, ok := matchHostname(m.routerGroups, hostname); ok {
		return name
	}
	if name, ok := matchPrefix(m.routerGroups, addr); ok {
		return name
	}
	return ""
}

// PeerGroup resolves a peer's group name: hostname regex, then prefix
// range, then ASN list. The result is cached keyed by peerHash so a
// session need only resolve each peer once.
func (m *Matcher) PeerGroup(peerHash [16]byte, hostname string, addr net.IP, asn uint32) string {
	if cached, ok := m.peerGroupCache[peerHash]; ok {
		return cached
	}
	group := m.resolvePeerGroup(hostname, addr, asn)
	m.peerGroupCache[peerHash] = group
	return group
}

func (m *Matcher) resolvePeerGroup(hostname string, addr net.IP, asn uint32) string {
	if name, ok := matchHostname(m.peerGroups, hostname); ok {
		return name
	}
	if name, ok := matchPrefix(m.peerGroups, addr); ok {
		return name
	}
	if name, ok := matchASN(m.peerGroups, asn); ok {
		return name
	}
	return ""
}

// ForgetPeer drops a peer's cached peer-group result, called when a
// peer's session is torn down so the cache doesn't grow unbounded.
func (m *Matcher) ForgetPeer(peerHash [16]byte) {
	delete(m.peerGroupCache, peerHash)
}

// Internal variable names that every topic name template may reference
// besides user-defined kafka.topics.variables entries.
const (
	VarRouter        = "router"
	VarPeer          = "peer"
	VarUnicastPrefix = "unicast_prefix"
	VarL3VPN         = "l3vpn"
	VarEVPN          = "evpn"
	VarLsNode        = "ls_node"
	VarLsLink        = "ls_link"
	VarLsPrefix      = "ls_prefix"
	VarBMPStat       = "bmp_stat"
	VarBMPRaw        = "bmp_raw"
	VarCollector     = "collector"
)

// IncludesPeerASN reports whether a topic-name template references
// {peer_asn}; that literal presence, not the topic variable, gates
// whether the peer ASN is appended to the topic-map key.
func IncludesPeerASN(nameTemplate string) bool {
	return strings.Contains(nameTemplate, "{peer_asn}")
}

// Key composes the topic-map cache key: T_R_G with an optional _ASN
// suffix when includePeerASN is set. Empty groups contribute the empty
// string between underscores, per the collector topic var (which
// carries no router/peer group component at all) and the router topic
// var (which carries no peer-group/ASN component).
func Key(topicVar, routerGroup, peerGroup string, includePeerASN bool, peerASN uint32) string {
	if topicVar == VarCollector {
		return topicVar
	}
	key := topicVar + "_" + routerGroup
	if topicVar == VarRouter {
		return key
	}
	key += "_" + peerGroup
	if includePeerASN {
		key += "_"
		if peerASN > 0 {
			key += strconv.FormatUint(uint64(peerASN), 10)
		}
	}
	return key
}

// ResolveName substitutes {router_group}, {peer_group}, {peer_asn},
// and any caller-supplied variables into a topic-name template.
// Unmatched router/peer groups fall back to "default", mirroring the
// reference collector's topic-name substitution.
func ResolveName(nameTemplate, routerGroup, peerGroup string, peerASN uint32, vars map[string]string) string {
	name := nameTemplate

	if routerGroup == "" {
		routerGroup = defaultGroupName
	}
	name = strings.ReplaceAll(name, "{router_group}", routerGroup)

	if peerGroup == "" {
		peerGroup = defaultGroupName
	}
	name = strings.ReplaceAll(name, "{peer_group}", peerGroup)

	if peerASN > 0 {
		name = strings.ReplaceAll(name, "{peer_asn}", strconv.FormatUint(uint64(peerASN), 10))
	} else {
		name = strings.ReplaceAll(name, "{peer_asn}", defaultGroupName)
	}

	for k, v := range vars {
		name = strings.ReplaceAll(name, "{"+k+"}", v)
	}
	return name
}
