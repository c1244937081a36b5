package signaling

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"signal-relay/internal/metrics"
)

// drain keeps reading so control frames are processed; data frames are
// discarded. Returns when the connection dies.
func drain(c *websocket.Conn) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func TestMonitorPongKeepsPeerAlive(t *testing.T) {
	m := metrics.New()
	s, ts := newTestServer(t, Config{
		Metrics:           m,
		HeartbeatInterval: 50 * time.Millisecond,
	})

	c := dialSignal(t, ts)
	join(t, c, "r1", "A")

	// The default client ping handler answers every ping with a pong.
	go drain(c)

	time.Sleep(300 * time.Millisecond)

	if got := memberIDs(s.registry.MembersOf("r1")); !equalIDs(got, []string{"A"}) {
		t.Fatalf("responsive peer was removed, members = %v", got)
	}
	if n := m.Get(metrics.PeerEvicted); n != 0 {
		t.Fatalf("responsive peer evicted %d times", n)
	}
}

func TestMonitorEvictsSilentPeer(t *testing.T) {
	m := metrics.New()
	s, ts := newTestServer(t, Config{
		Metrics:           m,
		HeartbeatInterval: 50 * time.Millisecond,
	})

	a := dialSignal(t, ts)
	b := dialSignal(t, ts)
	join(t, a, "r1", "A")
	join(t, b, "r1", "B")
	expectUserJoined(t, a, "B")

	// B swallows pings instead of answering them. After one full interval
	// with no pong the monitor must evict it.
	b.SetPingHandler(func(string) error { return nil })
	go drain(b)

	expectUserLeft(t, a, "B")

	if got := memberIDs(s.registry.MembersOf("r1")); !equalIDs(got, []string{"A"}) {
		t.Fatalf("membership after eviction = %v", got)
	}
	if n := m.Get(metrics.PeerEvicted); n == 0 {
		t.Fatalf("expected an eviction to be counted")
	}
}

func TestMonitorEvictionDeletesLoneRoom(t *testing.T) {
	m := metrics.New()
	s, ts := newTestServer(t, Config{
		Metrics:           m,
		HeartbeatInterval: 50 * time.Millisecond,
	})

	c := dialSignal(t, ts)
	join(t, c, "r1", "A")

	c.SetPingHandler(func(string) error { return nil })
	go drain(c)

	deadline := time.Now().Add(testReadWait)
	for {
		rooms, _ := s.registry.Counts()
		if rooms == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("room not deleted after lone member eviction")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := m.Get(metrics.RoomDeleted); n != 1 {
		t.Fatalf("room_deleted counted %d times, want 1", n)
	}
}
