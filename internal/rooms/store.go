package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/metrics"
)

// Mode selects how connections are admitted to rooms.
type Mode string

const (
	// ModeToken requires a per-participant token issued by Create.
	ModeToken Mode = "token"
	// ModeAnonymous admits the first two connections to any room ID, creating
	// unknown rooms on demand. Tokens are neither required nor checked.
	ModeAnonymous Mode = "anonymous"
)

const DefaultTTL = 60 * time.Minute

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

type Options struct {
	Mode Mode
	// DefaultTTL applies when Create is called with ttl <= 0.
	DefaultTTL time.Duration
	// BaseURL is the public origin used when building participant links.
	BaseURL string

	Clock   Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Store struct {
	opts Options

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewStore(opts Options) *Store {
	if opts.Mode == "" {
		opts.Mode = ModeToken
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		opts:  opts,
		rooms: make(map[string]*Room),
	}
}

func (s *Store) Mode() Mode { return s.opts.Mode }

type CreateResult struct {
	RoomID    string
	CallerURL string
	CalleeURL string
	ExpiresAt time.Time

	CallerToken string
	CalleeToken string
}

// Create registers a new room for two participants and returns one link per
// participant.
func (s *Store) Create(participantA, participantB string, ttl time.Duration) (CreateResult, error) {
	a := Normalize(participantA)
	b := Normalize(participantB)
	if a == "" || b == "" {
		return CreateResult{}, fmt.Errorf("%w: participants must not be empty", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}

	tokA, err := newToken()
	if err != nil {
		return CreateResult{}, err
	}
	tokB, err := newToken()
	if err != nil {
		return CreateResult{}, err
	}
	for tokB == tokA {
		if tokB, err = newToken(); err != nil {
			return CreateResult{}, err
		}
	}

	s.Sweep()

	now := s.opts.Clock.Now()
	// Anonymous rooms never expire; they are collected once quiet.
	expiresAt := now.Add(ttl)
	if s.opts.Mode == ModeAnonymous {
		expiresAt = time.Time{}
	}
	var room *Room
	for attempt := 0; attempt < 3; attempt++ {
		id, err := newRoomID()
		if err != nil {
			return CreateResult{}, err
		}
		s.mu.Lock()
		if _, exists := s.rooms[id]; exists {
			// 72 bits of entropy; practically unreachable.
			s.mu.Unlock()
			continue
		}
		room = newRoom(id, []string{a, b}, []string{tokA, tokB}, now, expiresAt)
		s.rooms[id] = room
		s.mu.Unlock()
		break
	}
	if room == nil {
		return CreateResult{}, errors.New("failed to allocate unique room id")
	}

	s.opts.Metrics.Inc(metrics.RoomsCreated)
	s.opts.Logger.Info("room created",
		"room_id", room.ID,
		"expires_at", room.ExpiresAt,
		"mode", s.opts.Mode,
	)

	linkTokA, linkTokB := tokA, tokB
	if s.opts.Mode == ModeAnonymous {
		linkTokA, linkTokB = "", ""
	}
	return CreateResult{
		RoomID:      room.ID,
		CallerURL:   BuildLink(s.opts.BaseURL, room.ID, linkTokA),
		CalleeURL:   BuildLink(s.opts.BaseURL, room.ID, linkTokB),
		ExpiresAt:   room.ExpiresAt,
		CallerToken: tokA,
		CalleeToken: tokB,
	}, nil
}

// Get returns the room registered under id. It never removes rooms.
func (s *Store) Get(id string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	return room, ok
}

func (s *Store) IsExpired(room *Room) bool {
	return room.expired(s.opts.Clock.Now())
}

// Len returns the number of rooms currently registered.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Delete removes a room and then closes every connection registered in it.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if ok {
		delete(s.rooms, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	room.mu.Lock()
	room.removed = true
	peers := room.peersLocked()
	room.members = make(map[string]member)
	room.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}

	s.opts.Metrics.Inc(metrics.RoomsDeleted)
	s.opts.Logger.Info("room deleted", "room_id", id, "closed_peers", len(peers))
	return nil
}

type Info struct {
	RoomID       string
	Participants []string
	ExpiresAt    time.Time
	Connected    int
}

// Describe reports a live room. Expired rooms are reported as ErrNotFound even
// while a call keeps them registered.
func (s *Store) Describe(id string) (Info, error) {
	room, ok := s.Get(id)
	if !ok || s.IsExpired(room) {
		return Info{}, ErrNotFound
	}
	participants := make([]string, len(room.Participants))
	copy(participants, room.Participants)
	return Info{
		RoomID:       room.ID,
		Participants: participants,
		ExpiresAt:    room.ExpiresAt,
		Connected:    room.Connected(),
	}, nil
}

type JoinResult struct {
	Room *Room
	// Key identifies the connection inside the room: the participant token, or
	// the peer ID in anonymous mode.
	Key  string
	Role Role
	// Ready is set for the join that filled the room.
	Ready bool
	// Peers lists every registered peer after the join, the joiner included.
	Peers []Peer
}

// Join admits peer to room id using token.
//
// admitted, when non-nil, runs with the room locked right after registration,
// so frames it queues on the returned peers precede anything queued by later
// joins. It must not block or call back into the Store.
func (s *Store) Join(id, token string, peer Peer, admitted func(JoinResult)) (JoinResult, error) {
	res, err := s.join(id, token, peer, admitted)
	switch {
	case err == nil:
		s.opts.Metrics.Inc(metrics.PeersJoined)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput):
		s.opts.Metrics.Inc(metrics.JoinRejectedNotFound)
	case errors.Is(err, ErrInvalidToken):
		s.opts.Metrics.Inc(metrics.JoinRejectedInvalidToken)
	case errors.Is(err, ErrFull):
		s.opts.Metrics.Inc(metrics.JoinRejectedFull)
	case errors.Is(err, ErrAlreadyConnected):
		s.opts.Metrics.Inc(metrics.JoinRejectedAlreadyConnected)
	}
	return res, err
}

func (s *Store) join(id, token string, peer Peer, admitted func(JoinResult)) (JoinResult, error) {
	// A room can be collected between lookup and locking it; anonymous rooms
	// are then recreated, so retry once.
	for attempt := 0; attempt < 2; attempt++ {
		room, err := s.lookupForJoin(id)
		if err != nil {
			return JoinResult{}, err
		}

		room.mu.Lock()
		if room.removed {
			room.mu.Unlock()
			continue
		}
		res, err := s.admitLocked(room, token, peer)
		if err == nil && admitted != nil {
			admitted(res)
		}
		room.mu.Unlock()
		return res, err
	}
	return JoinResult{}, ErrNotFound
}

func (s *Store) lookupForJoin(id string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[id]; ok {
		return room, nil
	}
	if s.opts.Mode != ModeAnonymous {
		return nil, ErrNotFound
	}
	if !ValidRoomID(id) {
		return nil, fmt.Errorf("%w: invalid room id", ErrInvalidInput)
	}
	room := newRoom(id, nil, nil, s.opts.Clock.Now(), time.Time{})
	s.rooms[id] = room
	s.opts.Metrics.Inc(metrics.RoomsCreated)
	return room, nil
}

func (s *Store) admitLocked(room *Room, token string, peer Peer) (JoinResult, error) {
	if room.expired(s.opts.Clock.Now()) {
		return JoinResult{}, ErrNotFound
	}

	key := peer.ID()
	if s.opts.Mode == ModeToken {
		if !room.hasToken(token) {
			return JoinResult{}, ErrInvalidToken
		}
		key = token
	}
	if len(room.members) >= MaxPeers {
		return JoinResult{}, ErrFull
	}
	if _, ok := room.members[key]; ok {
		return JoinResult{}, ErrAlreadyConnected
	}

	role := room.nextRoleLocked()
	room.members[key] = member{peer: peer, role: role}
	return JoinResult{
		Room:  room,
		Key:   key,
		Role:  role,
		Ready: len(room.members) == MaxPeers,
		Peers: room.peersLocked(),
	}, nil
}

// Leave unregisters the connection stored under key and collects the room
// when it became eligible. Removing an unknown key is a no-op. It returns the
// number of connections left in the room.
func (s *Store) Leave(room *Room, key string) int {
	room.mu.Lock()
	_, present := room.members[key]
	delete(room.members, key)
	remaining := len(room.members)
	collect := !room.removed && room.eligibleLocked(s.opts.Clock.Now())
	if collect {
		room.removed = true
	}
	room.mu.Unlock()

	if present {
		s.opts.Metrics.Inc(metrics.PeersLeft)
	}
	if collect {
		s.unlink(room)
		s.opts.Metrics.Inc(metrics.RoomsExpired)
		s.opts.Logger.Debug("room collected", "room_id", room.ID)
	}
	return remaining
}

// unlink removes room from the table unless the ID has been reused.
func (s *Store) unlink(room *Room) {
	s.mu.Lock()
	if cur, ok := s.rooms[room.ID]; ok && cur == room {
		delete(s.rooms, room.ID)
	}
	s.mu.Unlock()
}

// Sweep removes every room that is eligible for garbage collection and
// returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	candidates := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		candidates = append(candidates, room)
	}
	s.mu.Unlock()

	now := s.opts.Clock.Now()
	n := 0
	for _, room := range candidates {
		room.mu.Lock()
		collect := !room.removed && room.eligibleLocked(now)
		if collect {
			room.removed = true
		}
		room.mu.Unlock()
		if !collect {
			continue
		}
		s.unlink(room)
		n++
	}
	if n > 0 {
		s.opts.Metrics.Add(metrics.RoomsExpired, uint64(n))
		s.opts.Logger.Debug("swept expired rooms", "count", n)
	}
	return n
}

// RunJanitor sweeps the store every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
