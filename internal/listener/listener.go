// Package listener binds the collector's v4/v6 BMP sockets, accepts
// router connections, and hands each one off to its own session task.
// It also runs the process-wide heartbeat and coordinates graceful
// shutdown across every in-flight session.
package listener

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/routebeacon/bgpmond/internal/metrics"
	"github.com/routebeacon/bgpmond/internal/publish"
	"github.com/routebeacon/bgpmond/internal/session"
	"github.com/routebeacon/bgpmond/internal/topic"
	"go.uber.org/zap"
)

// Config carries the listener's startup parameters.
type Config struct {
	ListenMode       string // "v4", "v6", or "v4v6"
	Port             int
	HeartbeatInterval time.Duration
	Session          session.Config
}

type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) AcceptTCP() (*net.TCPConn, error) {
	conn, err := ln.TCPListener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(3 * time.Minute)
	return conn, nil
}

// Listener owns the accept loop(s), the heartbeat task, and the set of
// in-flight sessions.
type Listener struct {
	cfg       Config
	matcher   *topic.Matcher
	publisher publish.Publisher
	logger    *zap.Logger

	listening atomic.Bool

	mu       sync.Mutex
	sessions map[*session.Session]context.CancelFunc
	wg       sync.WaitGroup

	listeners []net.Listener
}

func New(cfg Config, matcher *topic.Matcher, publisher publish.Publisher, logger *zap.Logger) *Listener {
	return &Listener{
		cfg:       cfg,
		matcher:   matcher,
		publisher: publisher,
		logger:    logger,
		sessions:  make(map[*session.Session]context.CancelFunc),
	}
}

// Listening reports whether at least one socket is currently bound and
// accepting; used as the HTTP readiness signal.
func (l *Listener) Listening() bool {
	return l.listening.Load()
}

// Run binds the configured sockets and serves until ctx is cancelled,
// at which point it stops accepting, drains in-flight sessions (each
// emitting a router-term event), and returns. It does not flush or close
// the publisher.
func (l *Listener) Run(ctx context.Context) error {
	addr := net.JoinHostPort("", portString(l.cfg.Port))

	if l.cfg.ListenMode == "v4" || l.cfg.ListenMode == "v4v6" {
		ln, err := listenTCP("tcp4", addr)
		if err != nil {
			return err
		}
		l.listeners = append(l.listeners, ln)
	}
	if l.cfg.ListenMode == "v6" || l.cfg.ListenMode == "v4v6" {
		ln, err := listenTCP6("tcp6", addr)
		if err != nil {
			return err
		}
		l.listeners = append(l.listeners, ln)
	}

	l.listening.Store(true)

	for _, ln := range l.listeners {
		l.wg.Add(1)
		go l.acceptLoop(ctx, ln)
	}

	l.wg.Add(1)
	go l.heartbeatLoop(ctx)

	<-ctx.Done()
	l.listening.Store(false)
	for _, ln := range l.listeners {
		ln.Close()
	}

	l.wg.Wait()
	return nil
}

func portString(port int) string {
	const digits = "0123456789"
	if port == 0 {
		return "0"
	}
	var buf [6]byte
	i := len(buf)
	for port > 0 {
		i--
		buf[i] = digits[port%10]
		port /= 10
	}
	return string(buf[i:])
}

func listenTCP(network, addr string) (net.Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	if tcpLn, ok := ln.(*net.TCPListener); ok {
		return tcpKeepAliveListener{tcpLn}, nil
	}
	return ln, nil
}

func listenTCP6(network, addr string) (net.Listener, error) {
	// IPV6_V6ONLY is the default for an explicit "tcp6" network in the
	// net package; no raw socket-option plumbing is required.
	return listenTCP(network, addr)
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		l.spawnSession(ctx, conn)
	}
}

func (l *Listener) spawnSession(parent context.Context, conn net.Conn) {
	sessCtx, cancel := context.WithCancel(parent)
	sess := session.New(conn, l.cfg.Session, l.matcher, l.publisher, l.logger)

	l.mu.Lock()
	l.sessions[sess] = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.sessions, sess)
			l.mu.Unlock()
			cancel()
		}()
		sess.Run(sessCtx)
	}()
}

func (l *Listener) heartbeatLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.HeartbeatsTotal.Inc()
			l.logger.Debug("heartbeat")
		}
	}
}

// ActiveSessions returns the number of sessions currently in flight.
func (l *Listener) ActiveSessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}
