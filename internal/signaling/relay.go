package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/iceservers"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/rooms"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/turnrest"
)

const (
	DefaultIdleTimeout          = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
)

type Config struct {
	Rooms *rooms.Store

	// ICEServers is handed to every connection in its role message as
	// configured.
	ICEServers iceservers.List
	// TURNREST, when set, stamps per-connection credentials on TURN entries.
	TURNREST *turnrest.Generator
	Origins  origin.Policy

	// NotifyPeerLeft sends {"type":"peer-left"} to the remaining peers when a
	// connection goes away.
	NotifyPeerLeft bool

	IdleTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	// MaxMessagesPerSecond caps inbound frames per connection; <= 0 disables
	// the limit.
	MaxMessagesPerSecond int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Relay serves GET /ws/{roomID}.
type Relay struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	peers    map[*wsPeer]struct{}
	closed   bool
	handlers sync.WaitGroup
}

func New(cfg Config) (*Relay, error) {
	if cfg.Rooms == nil {
		return nil, errors.New("signaling: room store is required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout * 9 / 10
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rl := &Relay{
		cfg:   cfg,
		log:   cfg.Logger,
		peers: make(map[*wsPeer]struct{}),
	}
	rl.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			_, ok := cfg.Origins.Check(r)
			return ok
		},
	}
	return rl, nil
}

func (rl *Relay) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /ws/{roomID}", rl)
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	q := r.URL.Query()
	token := q.Get(rooms.TokenQueryParam)
	if token == "" {
		token = q.Get("token")
	}

	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		rl.log.Debug("signaling_upgrade_failed", "room_id", roomID, "err", err)
		return
	}

	peer := newWSPeer(conn)
	if !rl.track(peer) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeShuttingDown.code, closeShuttingDown.reason),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer rl.untrack(peer)

	go peer.writeLoop(rl.cfg.PingInterval)
	defer func() {
		peer.closeWith(websocket.CloseNormalClosure, "")
		<-peer.writerDone
	}()

	log := rl.log.With("room_id", roomID, "peer_id", peer.ID(), "remote_addr", r.RemoteAddr)

	roleFrames, err := rl.roleFrames(peer.ID())
	if err != nil {
		log.Error("failed to encode role message", "err", err)
		_ = peer.Send(encodeStatus(TypeError, "Internal error"))
		peer.closeWith(websocket.CloseInternalServerErr, "internal error")
		return
	}

	res, err := rl.cfg.Rooms.Join(roomID, token, peer, func(jr rooms.JoinResult) {
		_ = peer.Send(roleFrames[jr.Role])
		if !jr.Ready {
			return
		}
		for _, p := range jr.Peers {
			rl.deliver(p, readyFrame, log)
		}
	})
	if err != nil {
		rl.reject(peer, err, log)
		return
	}

	log = log.With("role", string(res.Role))
	log.Info("signaling_peer_joined", "ready", res.Ready)
	defer rl.leave(res, log)

	rl.readLoop(peer, res, log)
}

// roleFrames pre-encodes the role message for both roles so nothing is
// marshalled while the room is locked.
func (rl *Relay) roleFrames(peerID string) (map[rooms.Role][]byte, error) {
	servers, err := rl.cfg.TURNREST.ICEServers(rl.cfg.ICEServers, peerID)
	if err != nil {
		rl.log.Warn("failed to mint TURN REST credentials", "err", err)
		servers = rl.cfg.ICEServers
	}
	frames := make(map[rooms.Role][]byte, 2)
	for _, role := range []rooms.Role{rooms.RoleCaller, rooms.RoleCallee} {
		frame, err := encodeRole(role, servers)
		if err != nil {
			return nil, err
		}
		frames[role] = frame
	}
	return frames, nil
}

func (rl *Relay) reject(peer *wsPeer, err error, log *slog.Logger) {
	code := websocket.ClosePolicyViolation
	var frame []byte
	var reason string
	switch {
	case errors.Is(err, rooms.ErrFull):
		frame, reason = fullFrame, "room full"
	case errors.Is(err, rooms.ErrInvalidToken):
		frame, reason = encodeStatus(TypeError, "Invalid token"), "invalid token"
	case errors.Is(err, rooms.ErrAlreadyConnected):
		frame, reason = encodeStatus(TypeError, "Participant already connected"), "already connected"
	case errors.Is(err, rooms.ErrNotFound), errors.Is(err, rooms.ErrInvalidInput):
		frame, reason = encodeStatus(TypeError, "Room not found or expired"), "room not found"
	default:
		code = websocket.CloseInternalServerErr
		frame, reason = encodeStatus(TypeError, "Internal error"), "internal error"
	}
	_ = peer.Send(frame)
	peer.closeWith(code, reason)
	log.Info("signaling_join_rejected", "err", err)
}

func (rl *Relay) readLoop(peer *wsPeer, res rooms.JoinResult, log *slog.Logger) {
	conn := peer.conn
	idle := rl.cfg.IdleTimeout
	conn.SetReadLimit(rl.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	var limiter *rate.Limiter
	if n := rl.cfg.MaxMessagesPerSecond; n > 0 {
		limiter = rate.NewLimiter(rate.Limit(n), n)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				peer.closeWith(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				peer.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				log.Debug("signaling_read_failed", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))

		if limiter != nil && !limiter.Allow() {
			rl.cfg.Metrics.Inc(metrics.FramesRateLimited)
			peer.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			peer.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if peer.closed() {
			return
		}
		for _, other := range res.Room.Others(res.Key) {
			rl.deliver(other, data, log)
		}
	}
}

func (rl *Relay) leave(res rooms.JoinResult, log *slog.Logger) {
	remaining := rl.cfg.Rooms.Leave(res.Room, res.Key)
	if rl.cfg.NotifyPeerLeft {
		for _, p := range res.Room.Others(res.Key) {
			rl.deliver(p, peerLeftFrame, log)
		}
	}
	log.Info("signaling_peer_left", "remaining", remaining)
}

// deliver queues frame on p. A full or closed peer loses the frame; the
// sender is not told.
func (rl *Relay) deliver(p rooms.Peer, frame []byte, log *slog.Logger) {
	if err := p.Send(frame); err != nil {
		rl.cfg.Metrics.Inc(metrics.FramesDropped)
		log.Debug("signaling_frame_dropped", "to_peer_id", p.ID(), "err", err)
		return
	}
	rl.cfg.Metrics.Inc(metrics.FramesRelayed)
}

func (rl *Relay) track(p *wsPeer) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.closed {
		return false
	}
	rl.peers[p] = struct{}{}
	rl.handlers.Add(1)
	return true
}

func (rl *Relay) untrack(p *wsPeer) {
	rl.mu.Lock()
	delete(rl.peers, p)
	rl.mu.Unlock()
	rl.handlers.Done()
}

// Connections returns the number of open signaling connections.
func (rl *Relay) Connections() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.peers)
}

// Shutdown refuses new connections, closes open ones with 1001 and waits for
// their handlers to return or ctx to end.
func (rl *Relay) Shutdown(ctx context.Context) error {
	rl.mu.Lock()
	rl.closed = true
	for p := range rl.peers {
		p.closeWith(closeShuttingDown.code, closeShuttingDown.reason)
	}
	rl.mu.Unlock()

	done := make(chan struct{})
	go func() {
		rl.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
