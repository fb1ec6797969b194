package metrics

import "sync"

// Event names. Rejections are split by reason so operators can tell a
// mistyped link from a crowded room.
const (
	RoomsCreated = "rooms_created"
	RoomsDeleted = "rooms_deleted"
	RoomsExpired = "rooms_expired"

	PeersJoined = "peers_joined"
	PeersLeft   = "peers_left"

	JoinRejectedNotFound         = "join_rejected_not_found"
	JoinRejectedInvalidToken     = "join_rejected_invalid_token"
	JoinRejectedFull             = "join_rejected_full"
	JoinRejectedAlreadyConnected = "join_rejected_already_connected"

	FramesRelayed     = "frames_relayed"
	FramesDropped     = "frames_dropped"
	FramesRateLimited = "frames_rate_limited"

	NotifySent       = "notify_sent"
	NotifyFailed     = "notify_failed"
	WebhookMalformed = "webhook_malformed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and discards every update, so components can be
// constructed in tests without wiring a registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
