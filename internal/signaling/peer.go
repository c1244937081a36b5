package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

// Peer wraps one client WebSocket. The read loop runs on the connection's
// goroutine; outbound envelopes are queued on a bounded channel drained by
// a single writer goroutine, so a slow or dead recipient never blocks the
// sender.
//
// Identity (roomID, userID) is empty until a join is processed. The alive
// flag belongs to the liveness Monitor.
type Peer struct {
	id   string
	conn *websocket.Conn

	send chan []byte
	done chan struct{}

	teardownOnce sync.Once

	// writeMu serializes data-frame writes between the writer goroutine
	// and sendNow.
	writeMu sync.Mutex

	mu       sync.Mutex
	roomID   string
	userID   string
	closed   bool
	alive    bool
	lastSeen time.Time
}

func newPeer(conn *websocket.Conn, queueSize int) *Peer {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &Peer{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
		alive:    true,
		lastSeen: time.Now(),
	}
}

// ID is the relay-assigned connection id, used only for logging.
func (p *Peer) ID() string { return p.id }

// enqueue queues an envelope for delivery. It never blocks: a full queue
// or a torn-down peer reports failure and the caller decides whether that
// is a silent drop or a disconnect.
func (p *Peer) enqueue(env envelope) bool {
	data, err := env.encode()
	if err != nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the outbound queue onto the socket. It returns when a
// write fails or the peer is torn down. Exactly one writePump runs per
// peer; ping control frames are written elsewhere, which gorilla/websocket
// permits concurrently with WriteMessage.
func (p *Peer) writePump() error {
	for {
		select {
		case data := <-p.send:
			if err := p.write(data); err != nil {
				return err
			}
		case <-p.done:
			return nil
		}
	}
}

func (p *Peer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// sendNow writes env synchronously, bypassing the outbound queue. Used
// for errors that must reach the client before the connection is torn
// down; the queued path cannot guarantee delivery once teardown closes
// the socket.
func (p *Peer) sendNow(env envelope) error {
	data, err := env.encode()
	if err != nil {
		return err
	}
	return p.write(data)
}

func (p *Peer) ping() error {
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// setIdentity records the room membership taken by a join. It reports
// false once the peer is closed, so a join racing teardown knows to undo
// its registration instead of leaking it.
func (p *Peer) setIdentity(roomID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.roomID = roomID
	p.userID = userID
	return true
}

func (p *Peer) clearIdentity() {
	p.mu.Lock()
	p.roomID, p.userID = "", ""
	p.mu.Unlock()
}

// markClosed makes later setIdentity calls fail. Called at the start of
// teardown, before the membership cleanup reads the identity.
func (p *Peer) markClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *Peer) identity() (roomID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID, p.userID
}

func (p *Peer) joined() bool {
	roomID, _ := p.identity()
	return roomID != ""
}

// markAlive records proof of life: a pong or any inbound frame.
func (p *Peer) markAlive() {
	p.mu.Lock()
	p.alive = true
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// consumeAlive reads and clears the alive flag. Called once per monitor
// sweep: a peer that produces nothing until the next sweep is evicted.
func (p *Peer) consumeAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.alive
	p.alive = false
	return v
}

func (p *Peer) lastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}
