package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/routebeacon/bgpmond/internal/config"
	"github.com/routebeacon/bgpmond/internal/session"
	"github.com/routebeacon/bgpmond/internal/topic"
	"go.uber.org/zap"
)

type fakePublisher struct{}

func (fakePublisher) Publish(context.Context, string, []byte, []byte) error { return nil }
func (fakePublisher) Ping(context.Context) error                            { return nil }
func (fakePublisher) Close()                                                {}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestListenerAcceptsAndReportsListening(t *testing.T) {
	port := freePort(t)
	matcher := topic.NewMatcher(config.GroupsConfig{})
	l := New(Config{
		ListenMode:        "v4",
		Port:              port,
		HeartbeatInterval: time.Hour,
		Session: session.Config{
			APIVersion:       "1.7",
			CollectorHashHex: "00",
			TopicNames:       map[string]string{},
			BufferBytes:      64 * 1024,
		},
	}, matcher, fakePublisher{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	waitUntil(t, func() bool { return l.Listening() }, time.Second)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(port)), time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	waitUntil(t, func() bool { return l.ActiveSessions() == 1 }, time.Second)
	conn.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not shut down in time")
	}

	if l.Listening() {
		t.Fatal("expected Listening() to be false after shutdown")
	}
}

func waitUntil(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [6]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
