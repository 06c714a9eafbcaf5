// Package session runs one BMP router connection end to end: it frames
// and parses BMP/BGP messages off the wire, tracks the router's and
// its peers' lifecycle state, resolves topics, and publishes the
// resulting records. Each session owns its socket, decode buffer, and
// peer cache exclusively — no state is shared across sessions.
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/routebeacon/bgpmond/internal/bgp"
	"github.com/routebeacon/bgpmond/internal/bmp"
	"github.com/routebeacon/bgpmond/internal/identity"
	"github.com/routebeacon/bgpmond/internal/metrics"
	"github.com/routebeacon/bgpmond/internal/model"
	"github.com/routebeacon/bgpmond/internal/publish"
	"github.com/routebeacon/bgpmond/internal/template"
	"github.com/routebeacon/bgpmond/internal/topic"
	"github.com/routebeacon/bgpmond/internal/wire"
	"go.uber.org/zap"
)

const minBufferBytes = 64 * 1024

// Config carries the per-session settings that come from the
// collector's static configuration: the topic name/variable maps, the
// API version stamped on every envelope, and the read-buffer size.
type Config struct {
	APIVersion       string
	CollectorHashHex string
	CollectorHash    [16]byte
	TopicNames       map[string]string // internal var -> name template
	TopicVars        map[string]string // user-defined substitution vars
	BufferBytes      int

	// RouteTemplates optionally overrides the default tab-separated row
	// format for a route family's topic var (unicast_prefix, l3vpn,
	// evpn) with an operator-supplied schema. A family with no entry
	// here keeps the built-in row format.
	RouteTemplates map[string]*template.Template
}

// Session is one long-lived router connection.
type Session struct {
	conn      net.Conn
	cfg       Config
	matcher   *topic.Matcher
	publisher publish.Publisher
	logger    *zap.Logger

	state      model.RouterState
	router     model.Router
	routerGrp  string
	peers      map[[16]byte]*model.Peer
	peerAddPath map[[16]byte]map[bgp.AddPathKey]bool
}

// New builds a session for a freshly accepted connection. Hash
// derivation and DNS resolution happen lazily in Run, not here, so
// construction never blocks.
func New(conn net.Conn, cfg Config, matcher *topic.Matcher, publisher publish.Publisher, logger *zap.Logger) *Session {
	return &Session{
		conn:        conn,
		cfg:         cfg,
		matcher:     matcher,
		publisher:   publisher,
		logger:      logger,
		state:       model.RouterAccepted,
		peers:       make(map[[16]byte]*model.Peer),
		peerAddPath: make(map[[16]byte]map[bgp.AddPathKey]bool),
	}
}

// Run drives the session until the connection closes, a malformed
// frame is seen, or ctx is cancelled. It always returns after emitting
// a router-term event and transitioning to CLOSED.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	host, _, _ := net.SplitHostPort(s.conn.RemoteAddr().String())
	ip := net.ParseIP(host)
	s.router.IPAddr = host

	hostname := resolveHostname(host)
	s.router.Name = hostname

	s.router.HashID, _ = identity.Router(host, s.cfg.CollectorHash)
	s.routerGrp = s.matcher.RouterGroup(hostname, ip)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-stopWatch:
		}
	}()

	bufSize := s.cfg.BufferBytes
	if bufSize < minBufferBytes {
		bufSize = minBufferBytes
	}
	br := bufio.NewReaderSize(s.conn, bufSize)

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	for {
		frame, err := bmp.ReadFrame(br)
		if err != nil {
			if err == io.EOF {
				s.terminate(ctx, model.TermReasonAdminClose, "remote closed connection")
				return
			}
			if ctx.Err() != nil {
				s.terminate(ctx, model.TermReasonCollectorClose, "collector shutdown")
				return
			}
			s.logger.Warn("malformed BMP frame, closing session",
				zap.String("router_ip", s.router.IPAddr),
				zap.Error(err),
			)
			metrics.ParseErrorsTotal.WithLabelValues("bmp", "frame").Inc()
			s.terminate(ctx, model.TermReasonInternalErrHigh, fmt.Sprintf("malformed BMP frame: %v", err))
			return
		}

		msg, err := bmp.Parse(frame)
		if err != nil {
			s.logger.Warn("failed to parse BMP message",
				zap.String("router_ip", s.router.IPAddr),
				zap.Error(err),
			)
			metrics.ParseErrorsTotal.WithLabelValues("bmp", "parse").Inc()
			continue
		}

		metrics.BMPMessagesTotal.WithLabelValues(strconv.Itoa(int(msg.Type))).Inc()
		s.mirrorRaw(ctx, frame)

		switch msg.Type {
		case bmp.MsgTypeInitiation:
			s.handleInitiation(ctx, msg)
		case bmp.MsgTypePeerUp:
			s.handlePeerUp(ctx, msg)
		case bmp.MsgTypePeerDown:
			s.handlePeerDown(ctx, msg)
		case bmp.MsgTypeRouteMonitoring:
			s.handleRouteMonitoring(ctx, msg)
		case bmp.MsgTypeStatisticsReport:
			s.handleStatsReport(ctx, msg)
		case bmp.MsgTypeTermination:
			s.handleTermination(ctx, msg)
			return
		case bmp.MsgTypeRouteMirroring:
			// Mirrored verbatim above; no structured handling defined.
		}
	}
}

func resolveHostname(ip string) string {
	if ip == "" {
		return ""
	}
	names, err := net.LookupAddr(ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

func (s *Session) transition(to model.RouterState) {
	if s.state == to {
		return
	}
	s.state = to
}

func (s *Session) handleInitiation(ctx context.Context, msg *bmp.Message) {
	if msg.Initiation != nil {
		if msg.Initiation.SysName != "" {
			s.router.Name = msg.Initiation.SysName
		}
		s.router.Description = msg.Initiation.SysDescr
		s.router.InitData = msg.Initiation.FreeForm
	}
	if s.state == model.RouterAccepted {
		s.transition(model.RouterInitialized)
	}
	s.publishRouter(ctx)
}

func (s *Session) publishRouter(ctx context.Context) {
	row := strings.Join([]string{
		hash2hex(s.router.HashID),
		s.router.IPAddr,
		s.router.Name,
		s.router.Description,
	}, "\t") + "\n"
	s.publishVar(ctx, topic.VarRouter, []byte(s.router.HashID[:]), row, 1)
	if s.state == model.RouterInitialized {
		s.transition(model.RouterRunning)
	}
}

func (s *Session) peerKey(ph *bmp.PeerHeader) [16]byte {
	hash, _ := identity.Peer(s.router.HashID, ph.PeerRD, ph.PeerAddr)
	return hash
}

func (s *Session) handlePeerUp(ctx context.Context, msg *bmp.Message) {
	if msg.Peer == nil || msg.PeerUp == nil {
		return
	}
	if s.state == model.RouterAccepted {
		s.transition(model.RouterInitialized)
		s.publishRouter(ctx)
	}

	hash := s.peerKey(msg.Peer)
	peer := &model.Peer{
		PeerAddr:  msg.Peer.PeerAddr,
		PeerRD:    msg.Peer.PeerRD,
		PeerBGPID: msg.Peer.PeerBGPID,
		PeerAS:    msg.Peer.PeerAS,
		Flags:     msg.Peer.Flags,
		Timestamp: msg.Peer.Timestamp,
		HashID:    hash,
		State:     model.PeerUp,
	}

	sentOpen, sentErr := bgp.ParseOpen(skipBGPHeader(msg.PeerUp.SentOpen))
	recvOpen, recvErr := bgp.ParseOpen(skipBGPHeader(msg.PeerUp.RecvOpen))
	if sentErr == nil && recvErr == nil && sentOpen != nil && recvOpen != nil {
		peer.Use4OctetASN = sentOpen.FourOctetASN && recvOpen.FourOctetASN
		negotiated := bgp.NegotiatedAddPath(sentOpen, recvOpen)
		s.peerAddPath[hash] = negotiated
		peer.AddPathEnabled = make(map[model.AddPathKey]bool, len(negotiated))
		for k, v := range negotiated {
			peer.AddPathEnabled[model.AddPathKey{AFI: k.AFI, SAFI: k.SAFI}] = v
		}
	}

	s.peers[hash] = peer

	peerGrp := s.matcher.PeerGroup(hash, "", net.ParseIP(peer.PeerAddr), peer.PeerAS)
	row := strings.Join([]string{
		hash2hex(peer.HashID),
		hash2hex(s.router.HashID),
		peer.PeerAddr,
		peer.PeerBGPID,
		strconv.FormatUint(uint64(peer.PeerAS), 10),
		"UP",
	}, "\t") + "\n"
	s.publishPeerVar(ctx, topic.VarPeer, hash[:], row, 1, peerGrp, peer.PeerAS)
}

// skipBGPHeader strips the 19-byte BGP common header PeerUp's raw OPEN
// bytes carry, so ParseOpen sees only the OPEN body it expects.
func skipBGPHeader(raw []byte) []byte {
	if len(raw) <= bgp.BGPHeaderSize {
		return nil
	}
	return raw[bgp.BGPHeaderSize:]
}

func (s *Session) handlePeerDown(ctx context.Context, msg *bmp.Message) {
	if msg.Peer == nil || msg.PeerDown == nil {
		return
	}
	hash := s.peerKey(msg.Peer)
	peer, ok := s.peers[hash]
	if !ok {
		peer = &model.Peer{PeerAddr: msg.Peer.PeerAddr, PeerRD: msg.Peer.PeerRD, HashID: hash}
	}
	peer.State = model.PeerDown

	var bgpErrCode, bgpErrSubcode uint8
	var reasonText string
	switch msg.PeerDown.Reason {
	case bmp.PeerDownLocalNotify, bmp.PeerDownRemoteNotify:
		if n, err := bgp.ParseNotification(msg.PeerDown.Notification); err == nil {
			bgpErrCode, bgpErrSubcode = n.ErrorCode, n.ErrorSubcode
			reasonText = n.Text
		}
	case bmp.PeerDownLocalNoNotify, bmp.PeerDownRemoteNoNotify:
		reasonText = fmt.Sprintf("FSM code %d", msg.PeerDown.FSMCode)
	case bmp.PeerDownLocal:
		reasonText = "peer de-configured"
	case bmp.PeerDownTLV:
		reasonText = msg.PeerDown.TLVReason
	}

	row := strings.Join([]string{
		hash2hex(peer.HashID),
		hash2hex(s.router.HashID),
		peer.PeerAddr,
		"DOWN",
		strconv.Itoa(int(msg.PeerDown.Reason)),
		strconv.Itoa(int(bgpErrCode)),
		strconv.Itoa(int(bgpErrSubcode)),
		reasonText,
	}, "\t") + "\n"

	peerGrp := s.matcher.PeerGroup(hash, "", net.ParseIP(peer.PeerAddr), peer.PeerAS)
	s.publishPeerVar(ctx, topic.VarPeer, hash[:], row, 1, peerGrp, peer.PeerAS)

	delete(s.peers, hash)
	delete(s.peerAddPath, hash)
	s.matcher.ForgetPeer(hash)
}

func (s *Session) handleStatsReport(ctx context.Context, msg *bmp.Message) {
	if msg.Peer == nil || len(msg.Stats) == 0 {
		return
	}
	hash := s.peerKey(msg.Peer)
	var b strings.Builder
	b.WriteString(hash2hex(hash))
	for typ, val := range msg.Stats {
		fmt.Fprintf(&b, "\t%d=%d", typ, val)
	}
	b.WriteByte('\n')
	s.publishVar(ctx, topic.VarBMPStat, hash[:], b.String(), 1)
}

func (s *Session) handleTermination(ctx context.Context, msg *bmp.Message) {
	code := model.TermReasonAdminClose
	text := "BMP termination"
	if msg.Termination != nil {
		text = msg.Termination.FreeForm
		if msg.Termination.HasReason {
			code = msg.Termination.ReasonCode
			text = bmp.TermReasonText(code)
		}
	}
	s.terminate(ctx, code, text)
}

func (s *Session) terminate(ctx context.Context, code uint16, text string) {
	if s.state == model.RouterClosed {
		return
	}
	s.transition(model.RouterTerminating)
	s.router.TermReasonCode = code
	s.router.TermReasonText = text

	row := strings.Join([]string{
		hash2hex(s.router.HashID),
		s.router.IPAddr,
		strconv.Itoa(int(code)),
		text,
	}, "\t") + "\n"
	s.publishVar(ctx, topic.VarRouter, s.router.HashID[:], row, 1)

	metrics.SessionsTotal.WithLabelValues(strconv.Itoa(int(code))).Inc()
	s.transition(model.RouterClosed)
}

func (s *Session) handleRouteMonitoring(ctx context.Context, msg *bmp.Message) {
	if msg.Peer == nil || msg.BGPPayload == nil {
		return
	}
	hash := s.peerKey(msg.Peer)
	addPath := s.peerAddPath[hash]
	var use4OctetASN bool
	if peer := s.peers[hash]; peer != nil {
		use4OctetASN = peer.Use4OctetASN
	}

	events, lsEvents, err := bgp.ParseUpdate(msg.BGPPayload, addPath, use4OctetASN)
	if err != nil {
		s.logger.Warn("failed to parse BGP UPDATE",
			zap.String("router_ip", s.router.IPAddr),
			zap.String("peer_addr", msg.Peer.PeerAddr),
			zap.Error(err),
		)
		metrics.ParseErrorsTotal.WithLabelValues("bgp", "update").Inc()
		return
	}
	if len(events) == 0 && len(lsEvents) == 0 {
		s.logger.Debug("UPDATE carried no path-attr or RIB records (End-of-RIB or empty)",
			zap.String("peer_addr", msg.Peer.PeerAddr),
		)
		return
	}

	peer := s.peers[hash]
	var peerAddr string
	var peerAS uint32
	if peer != nil {
		peerAddr = peer.PeerAddr
		peerAS = peer.PeerAS
	}
	peerGrp := s.matcher.PeerGroup(hash, "", net.ParseIP(peerAddr), peerAS)

	for _, ls := range lsEvents {
		s.handleLSEvent(ctx, ls, hash, peerGrp, peerAS)
	}

	for _, ev := range events {
		afiStr := strconv.Itoa(ev.AFI)
		safiStr := strconv.Itoa(int(ev.SAFI))
		metrics.BGPUpdatesTotal.WithLabelValues(afiStr, safiStr).Inc()
		metrics.RouteEventsTotal.WithLabelValues(routeFamily(ev), ev.Action).Inc()

		attrHash, _ := identity.PathAttr(identity.PathAttrFields{
			ASPath:     ev.ASPath,
			NextHop:    ev.Nexthop,
			Origin:     ev.Origin,
			MED:        ev.MED,
			LocalPref:  ev.LocalPref,
			Communities: ev.CommStd,
			ExtCommunities: ev.CommExt,
			PeerHash:   hash,
		})
		ribHash, _ := identity.RibEntry(identity.RibEntryFields{
			Prefix:        ev.Prefix,
			PeerHash:      hash,
			HasPathID:     ev.HasPathID,
			PathID:        uint32(ev.PathID),
			LabelsPresent: len(ev.Labels) > 0,
		})

		topicVar := routeTopicVar(ev)
		row := s.routeRow(topicVar, ev, ribHash, attrHash, hash, peerAddr, peerAS)
		s.publishPeerVar(ctx, topicVar, ribHash[:], row, 1, peerGrp, peerAS)
	}
}

// handleLSEvent publishes a single BGP-LS node, link, or prefix NLRI to
// its own topic family, dispatching on which of NLRI.Node/Link/Prefix
// is populated.
func (s *Session) handleLSEvent(ctx context.Context, ls *bgp.LSEvent, peerHash [16]byte, peerGrp string, peerAS uint32) {
	if ls.NLRI == nil {
		return
	}
	switch {
	case ls.NLRI.Node != nil:
		n := ls.NLRI.Node
		lsHash, _ := identity.LsNode(identity.LsNodeFields{
			IGPRouterID: n.Local.IGPRouterID,
			BGPLSID:     n.Local.BGPLSID,
			ASN:         n.Local.ASN,
			OSPFAreaID:  n.Local.OSPFAreaID,
			PeerHash:    peerHash,
		})
		row := strings.Join([]string{
			hash2hex(lsHash), n.Local.IGPRouterID, n.Local.BGPRouterID,
			strconv.FormatUint(uint64(n.Local.ASN), 10), ls.Action,
		}, "\t") + "\n"
		s.publishPeerVar(ctx, topic.VarLsNode, lsHash[:], row, 1, peerGrp, peerAS)

	case ls.NLRI.Link != nil:
		l := ls.NLRI.Link
		lsHash, lsHashHex := wire.Hash(
			[]byte(l.Local.IGPRouterID), []byte(l.Remote.IGPRouterID),
			[]byte(l.LocalAddr), []byte(l.RemoteAddr), peerHash[:],
		)
		row := strings.Join([]string{
			lsHashHex, l.Local.IGPRouterID, l.Remote.IGPRouterID,
			l.LocalAddr, l.RemoteAddr, ls.Action,
		}, "\t") + "\n"
		s.publishPeerVar(ctx, topic.VarLsLink, lsHash[:], row, 1, peerGrp, peerAS)

	case ls.NLRI.Prefix != nil:
		p := ls.NLRI.Prefix
		lsHash, lsHashHex := wire.Hash([]byte(p.Local.IGPRouterID), []byte(p.Prefix), peerHash[:])
		row := strings.Join([]string{
			lsHashHex, p.Local.IGPRouterID, p.Prefix, strconv.Itoa(p.PrefixLen), ls.Action,
		}, "\t") + "\n"
		s.publishPeerVar(ctx, topic.VarLsPrefix, lsHash[:], row, 1, peerGrp, peerAS)
	}
}

func routeFamily(ev *bgp.RouteEvent) string {
	switch {
	case ev.EVPN != nil:
		return "evpn"
	case ev.RD != "":
		return "l3vpn"
	default:
		return "unicast"
	}
}

// routeRow formats a route event's output row, preferring an
// operator-configured template for the family's topic var and falling
// back to the built-in tab-separated format when none is configured or
// the template fails to render.
func (s *Session) routeRow(topicVar string, ev *bgp.RouteEvent, ribHash, attrHash, peerHash [16]byte, peerAddr string, peerAS uint32) string {
	defaultRow := func() string {
		return strings.Join([]string{
			hash2hex(ribHash),
			hash2hex(attrHash),
			ev.Prefix,
			ev.Action,
			ev.Nexthop,
			ev.ASPath,
			ev.Origin,
		}, "\t") + "\n"
	}

	tmpl, ok := s.cfg.RouteTemplates[topicVar]
	if !ok || tmpl == nil {
		return defaultRow()
	}

	nlri := template.Row{
		"prefix":  ev.Prefix,
		"path_id": strconv.FormatInt(ev.PathID, 10),
		"labels":  fmt.Sprint(ev.Labels),
		"rd":      ev.RD,
		"afi":     strconv.Itoa(ev.AFI),
		"safi":    strconv.Itoa(int(ev.SAFI)),
		"action":  ev.Action,
	}
	attrs := template.Row{
		"nexthop":         ev.Nexthop,
		"as_path":         ev.ASPath,
		"origin":          ev.Origin,
		"community":       strings.Join(ev.CommStd, " "),
		"ext_community":   strings.Join(ev.CommExt, " "),
		"large_community": strings.Join(ev.CommLarge, " "),
	}
	if ev.LocalPref != nil {
		attrs["local_pref"] = strconv.FormatUint(uint64(*ev.LocalPref), 10)
	}
	if ev.MED != nil {
		attrs["med"] = strconv.FormatUint(uint64(*ev.MED), 10)
	}
	peer := template.Row{
		"hash":         hash2hex(peerHash),
		"ip":           peerAddr,
		"asn":          strconv.FormatUint(uint64(peerAS), 10),
		"router_hash":  hash2hex(s.router.HashID),
		"router_ip":    s.router.IPAddr,
		"router_group": s.routerGrp,
	}

	out, err := tmpl.Render([]template.Row{nlri}, attrs, peer)
	if err != nil {
		s.logger.Warn("route template render failed, using default row format",
			zap.String("topic_var", topicVar), zap.Error(err))
		return defaultRow()
	}
	return out + "\n"
}

func routeTopicVar(ev *bgp.RouteEvent) string {
	switch {
	case ev.EVPN != nil:
		return topic.VarEVPN
	case ev.RD != "":
		return topic.VarL3VPN
	default:
		return topic.VarUnicastPrefix
	}
}

// mirrorRaw publishes a verbatim copy of every BMP frame that bmp.Parse accepted to the raw
// topic, independent of structured handling.
func (s *Session) mirrorRaw(ctx context.Context, frame []byte) {
	_, rawHashHex := wire.Hash(frame)
	env := publish.BuildRawEnvelope(s.cfg.APIVersion, s.cfg.CollectorHashHex, 1, rawHashHex, s.router.IPAddr, frame)
	name := s.resolveName(topic.VarBMPRaw, "", 0)
	if name == "" {
		return
	}
	key := s.router.HashID[:]
	if err := s.publisher.Publish(ctx, name, key, env); err != nil {
		metrics.PublishErrorsTotal.WithLabelValues(topic.VarBMPRaw).Inc()
	}
}

func (s *Session) publishVar(ctx context.Context, topicVar string, key []byte, row string, rowCount int) {
	s.publishPeerVar(ctx, topicVar, key, row, rowCount, "", 0)
}

func (s *Session) publishPeerVar(ctx context.Context, topicVar string, key []byte, row string, rowCount int, peerGroup string, peerASN uint32) {
	name := s.resolveName(topicVar, peerGroup, peerASN)
	if name == "" {
		return
	}
	env := publish.BuildEnvelope(s.cfg.APIVersion, s.cfg.CollectorHashHex, rowCount, []byte(row))
	if err := s.publisher.Publish(ctx, name, key, env); err != nil {
		metrics.PublishErrorsTotal.WithLabelValues(topicVar).Inc()
	}
}

func (s *Session) resolveName(topicVar, peerGroup string, peerASN uint32) string {
	tmpl, ok := s.cfg.TopicNames[topicVar]
	if !ok || tmpl == "" {
		return ""
	}
	return topic.ResolveName(tmpl, s.routerGrp, peerGroup, peerASN, s.cfg.TopicVars)
}

func hash2hex(h [16]byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 32)
	for i, b := range h {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

