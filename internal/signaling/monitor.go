package signaling

import (
	"sync"
	"time"
)

// DefaultHeartbeatInterval bounds dead-peer detection to one interval.
const DefaultHeartbeatInterval = 30 * time.Second

// Monitor probes every registered peer on a fixed interval and evicts the
// ones that produced no pong (or other inbound frame) since the previous
// sweep. Eviction runs the same teardown path as an orderly close.
//
// This is the relay's only defense against half-open transports: a client
// that vanished without a clean close is detected within one interval.
type Monitor struct {
	interval time.Duration
	evict    func(*Peer)

	mu    sync.Mutex
	peers map[*Peer]struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMonitor(interval time.Duration, evict func(*Peer)) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Monitor{
		interval: interval,
		evict:    evict,
		peers:    make(map[*Peer]struct{}),
		stop:     make(chan struct{}),
	}
}

func (m *Monitor) Register(p *Peer) {
	m.mu.Lock()
	m.peers[p] = struct{}{}
	m.mu.Unlock()
}

func (m *Monitor) Unregister(p *Peer) {
	m.mu.Lock()
	delete(m.peers, p)
	m.mu.Unlock()
}

// Run blocks until Close is called. It is started on its own goroutine by
// the signaling server.
func (m *Monitor) Run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) sweep() {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	for _, p := range peers {
		if !p.consumeAlive() {
			m.evict(p)
			continue
		}
		// A failed ping write is left for the next sweep: the missing pong
		// will evict the peer.
		_ = p.ping()
	}
}
