package signaling

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal-relay/internal/metrics"
	"signal-relay/internal/origin"
	"signal-relay/internal/ratelimit"
)

// RelayPolicy selects how offer/answer/ice envelopes are routed. The two
// policies are materially different protocols; the relay runs exactly one,
// chosen at startup.
type RelayPolicy string

const (
	// RelayPolicyBroadcast fans every negotiation envelope out to the
	// whole room excluding the sender; the target field is ignored.
	RelayPolicyBroadcast RelayPolicy = "broadcast"

	// RelayPolicyTarget delivers to the named target member when the
	// envelope carries one (silently dropping envelopes whose target has
	// left), and falls back to room broadcast when it doesn't.
	RelayPolicyTarget RelayPolicy = "target"
)

const (
	defaultSendQueueSize        = 32
	defaultMaxMessageBytes      = int64(64 * 1024)
	defaultMaxMessagesPerSecond = 50
)

// Config wires together the runtime dependencies for the signaling
// service. Zero values fall back to conservative defaults.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	RelayPolicy RelayPolicy

	// ReadySignal enables the optional two-party handshake: the moment a
	// room grows from 1 to 2 members, both receive a ready envelope with
	// caller/callee roles.
	ReadySignal bool

	// HeartbeatInterval is the liveness probe period; see Monitor.
	HeartbeatInterval time.Duration

	// SendQueueSize bounds each peer's outbound queue. A peer whose queue
	// overflows is disconnected rather than allowed to stall the room.
	SendQueueSize int

	// Inbound signaling hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// AllowedOrigins is matched against the browser Origin header on
	// upgrade. Empty means same-host only; "*" allows any origin.
	AllowedOrigins []string
}

// Server implements the relay's WebSocket signaling surface at
// GET /signal. Each accepted connection gets a read goroutine (which runs
// the join/relay/leave state machine) and a writer goroutine draining its
// bounded outbound queue.
type Server struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	policy      RelayPolicy
	readySignal bool

	queueSize       int
	maxMessageBytes int64
	maxPerSecond    int
	allowedOrigins  []string

	registry *Registry
	monitor  *Monitor
	upgrader websocket.Upgrader

	mu     sync.Mutex
	peers  map[*Peer]struct{}
	closed bool
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	policy := cfg.RelayPolicy
	if policy == "" {
		policy = RelayPolicyTarget
	}
	queueSize := cfg.SendQueueSize
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxMessageBytes
	}
	maxPerSecond := cfg.MaxMessagesPerSecond
	if maxPerSecond <= 0 {
		maxPerSecond = defaultMaxMessagesPerSecond
	}

	s := &Server{
		log:     log,
		metrics: m,

		policy:      policy,
		readySignal: cfg.ReadySignal,

		queueSize:       queueSize,
		maxMessageBytes: maxBytes,
		maxPerSecond:    maxPerSecond,
		allowedOrigins:  cfg.AllowedOrigins,

		registry: NewRegistry(),
		peers:    make(map[*Peer]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.monitor = NewMonitor(cfg.HeartbeatInterval, s.evict)
	go s.monitor.Run()

	return s
}

// Registry exposes room state for health/stats reads.
func (s *Server) Registry() *Registry { return s.registry }

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleSignal)
}

// ServeHTTP provides minimal routing for tests and simple deployments.
// The production binary wires routes through httpserver.Server.Mux()
// using RegisterRoutes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/signal" {
		s.handleSignal(w, r)
		return
	}
	http.NotFound(w, r)
}

// Close tears down every open connection and stops the liveness monitor.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	peers := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		s.teardown(p)
	}
	s.monitor.Close()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		// Non-browser clients don't send an Origin header.
		return true
	}
	normalized, host, ok := origin.NormalizeHeader(header)
	return ok && origin.IsAllowed(normalized, host, r.Host, s.allowedOrigins)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := newPeer(conn, s.queueSize)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	s.metrics.Inc(metrics.PeerConnected)
	s.log.Info("peer connected", "conn_id", p.ID(), "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(s.maxMessageBytes)
	conn.SetPongHandler(func(string) error {
		p.markAlive()
		return nil
	})
	s.monitor.Register(p)

	go func() {
		if err := p.writePump(); err != nil {
			s.teardown(p)
		}
	}()

	s.readLoop(p)
	s.teardown(p)
}

// readLoop runs the per-connection state machine: UNJOINED until a valid
// join, JOINED until leave or teardown. Validation and protocol failures
// are reported to the sender and leave both connection state and room
// state untouched.
func (s *Server) readLoop(p *Peer) {
	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{}, int64(s.maxPerSecond), int64(s.maxPerSecond))

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		p.markAlive()

		// Read before enforcing the limit so bytes already buffered by the
		// OS are consumed and the close frame reaches the client.
		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			// Written synchronously: teardown closes the socket as soon as
			// this loop returns, before the writer could drain a queued
			// error.
			_ = p.sendNow(errorEnvelope(codeRateLimited, "rate limit exceeded"))
			return
		}
		if msgType != websocket.TextMessage {
			s.sendError(p, codeBadMessage, "expected text message")
			continue
		}

		env, err := parseEnvelope(data)
		if err != nil {
			s.metrics.Inc(metrics.ProtocolError)
			s.sendWireError(p, err)
			continue
		}

		switch env.Type {
		case messageTypeJoin:
			s.handleJoin(p, env)
		case messageTypeOffer, messageTypeAnswer, messageTypeICE:
			s.handleRelay(p, env)
		case messageTypeLeave:
			s.handleLeave(p)
		}
	}
}

func (s *Server) handleJoin(p *Peer, env envelope) {
	if p.joined() {
		s.metrics.Inc(metrics.ProtocolError)
		s.sendError(p, codeAlreadyJoined, "connection is already in a room")
		return
	}

	existing, evicted, count := s.registry.AddMember(env.RoomID, env.UserID, p)
	if !p.setIdentity(env.RoomID, env.UserID) {
		// Teardown won the race: it ran before the identity was recorded
		// and its membership cleanup could not see this registration, so
		// undo it here.
		s.registry.RemoveMember(env.RoomID, env.UserID, p)
		if evicted != nil {
			s.teardown(evicted)
		}
		return
	}

	if count == 1 {
		s.metrics.Inc(metrics.RoomCreated)
	}
	s.metrics.Inc(metrics.RoomJoined)
	s.log.Info("peer joined room",
		"conn_id", p.ID(),
		"room_id", env.RoomID,
		"user_id", env.UserID,
		"members", count,
	)

	if evicted != nil {
		// Reconnect with the same user id: last writer wins. Closing the
		// stale connection cannot disturb the new entry because
		// RemoveMember only removes an entry still owned by that peer.
		s.log.Info("superseding stale connection", "conn_id", evicted.ID(), "room_id", env.RoomID, "user_id", env.UserID)
		s.teardown(evicted)
	}

	users := make([]string, 0, len(existing))
	for _, m := range existing {
		users = append(users, m.UserID)
	}
	s.deliver(p, existingUsersEnvelope(users))

	joinedNote := envelope{Type: messageTypeUserJoined, UserID: env.UserID}
	for _, m := range existing {
		s.deliver(m.Peer, joinedNote)
	}

	if s.readySignal && count == 2 {
		s.sendReady(env.RoomID)
	}
}

// sendReady emits the two-party caller/callee handshake. Only fired on
// the 1 -> 2 membership transition; rooms that grow past two members
// never see it.
func (s *Server) sendReady(roomID string) {
	members := s.registry.MembersOf(roomID)
	if len(members) != 2 {
		return
	}
	s.deliver(members[0].Peer, envelope{Type: messageTypeReady, Role: roleCaller})
	s.deliver(members[1].Peer, envelope{Type: messageTypeReady, Role: roleCallee})
}

func (s *Server) handleRelay(p *Peer, env envelope) {
	roomID, userID := p.identity()
	if roomID == "" {
		s.metrics.Inc(metrics.ProtocolError)
		s.sendError(p, codeNotJoined, string(env.Type)+" requires a joined connection")
		return
	}

	// Re-stamp the sender; never trust a client-supplied from.
	out := envelope{Type: env.Type, From: userID, Payload: env.Payload}

	if s.policy == RelayPolicyTarget && env.Target != "" {
		target := s.registry.Lookup(roomID, env.Target)
		if target == nil {
			// Negotiation races with departures; a vanished target is a
			// silent drop, not an error.
			s.metrics.Inc(metrics.DropReasonTargetMissing)
			return
		}
		out.Target = env.Target
		if s.deliver(target, out) {
			s.metrics.Inc(metrics.RelayDelivered)
		}
		return
	}

	for _, m := range s.registry.MembersOf(roomID) {
		if m.Peer == p {
			continue
		}
		if s.deliver(m.Peer, out) {
			s.metrics.Inc(metrics.RelayDelivered)
		}
	}
}

// handleLeave removes the connection's room membership. It is idempotent
// and shared by explicit leave, transport close, and liveness eviction;
// the peer-guarded registry removal makes the second and later triggers
// no-ops. On explicit leave the connection stays open and may join again.
func (s *Server) handleLeave(p *Peer) {
	roomID, userID := p.identity()
	if roomID == "" {
		return
	}
	p.clearIdentity()

	removed, empty := s.registry.RemoveMember(roomID, userID, p)
	if !removed {
		return
	}

	s.metrics.Inc(metrics.RoomLeft)
	s.log.Info("peer left room", "conn_id", p.ID(), "room_id", roomID, "user_id", userID)

	if empty {
		s.metrics.Inc(metrics.RoomDeleted)
		s.log.Info("room deleted", "room_id", roomID)
		return
	}

	leftNote := envelope{Type: messageTypeUserLeft, UserID: userID}
	for _, m := range s.registry.MembersOf(roomID) {
		s.deliver(m.Peer, leftNote)
	}
}

// teardown is the single cleanup path for explicit close, transport
// error, and liveness eviction. It runs at most once per peer no matter
// how many triggers fire.
func (s *Server) teardown(p *Peer) {
	p.teardownOnce.Do(func() {
		p.markClosed()
		s.monitor.Unregister(p)

		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()

		s.handleLeave(p)

		close(p.done)
		_ = p.conn.Close()

		s.metrics.Inc(metrics.PeerDisconnected)
		s.log.Info("peer disconnected", "conn_id", p.ID())
	})
}

func (s *Server) evict(p *Peer) {
	s.metrics.Inc(metrics.PeerEvicted)
	s.log.Info("evicting unresponsive peer", "conn_id", p.ID(), "last_activity", p.lastActivity())
	s.teardown(p)
}

// deliver queues env for p. A full queue means the recipient cannot keep
// up; it is disconnected so it never stalls delivery to others.
func (s *Server) deliver(p *Peer, env envelope) bool {
	if p.enqueue(env) {
		return true
	}
	s.metrics.Inc(metrics.DropReasonSlowConsumer)
	s.teardown(p)
	return false
}

func (s *Server) sendError(p *Peer, code, message string) {
	_ = p.enqueue(errorEnvelope(code, message))
}

func (s *Server) sendWireError(p *Peer, err error) {
	if we, ok := err.(*wireError); ok {
		s.sendError(p, we.Code, we.Message)
		return
	}
	s.sendError(p, codeBadMessage, err.Error())
}
