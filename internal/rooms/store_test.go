package rooms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakePeer struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("closed")
	}
	p.frames = append(p.frames, frame)
	return nil
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func newTestStore(t *testing.T, mode Mode) (*Store, *fakeClock, *metrics.Metrics) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := metrics.New()
	s := NewStore(Options{
		Mode:    mode,
		BaseURL: "https://call.example.com/",
		Clock:   clk,
		Metrics: m,
	})
	return s, clk, m
}

func TestStore_CreateIssuesDistinctTokensAndLinks(t *testing.T) {
	s, clk, m := newTestStore(t, ModeToken)

	res, err := s.Create("+1111111111", "222 222 2222", 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.CallerToken == "" || res.CalleeToken == "" || res.CallerToken == res.CalleeToken {
		t.Fatalf("tokens not distinct: %q %q", res.CallerToken, res.CalleeToken)
	}
	if want := clk.Now().Add(DefaultTTL); !res.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt=%v, want %v", res.ExpiresAt, want)
	}
	if want := "https://call.example.com/room/" + res.RoomID + "?t=" + res.CallerToken; res.CallerURL != want {
		t.Fatalf("CallerURL=%q, want %q", res.CallerURL, want)
	}
	if tok, ok := TokenFromLink(res.CalleeURL); !ok || tok != res.CalleeToken {
		t.Fatalf("TokenFromLink(callee)=%q,%v want %q", tok, ok, res.CalleeToken)
	}

	room, ok := s.Get(res.RoomID)
	if !ok {
		t.Fatalf("room %q not registered", res.RoomID)
	}
	if room.Participants[0] != "+1111111111" || room.Participants[1] != "+2222222222" {
		t.Fatalf("participants=%v", room.Participants)
	}
	if tok, _ := room.Token("+2222222222"); tok != res.CalleeToken {
		t.Fatalf("Token(callee)=%q, want %q", tok, res.CalleeToken)
	}
	if got := m.Get(metrics.RoomsCreated); got != 1 {
		t.Fatalf("rooms_created=%d, want 1", got)
	}
}

func TestStore_CreateRoomIDsAreUnique(t *testing.T) {
	s, _, _ := newTestStore(t, ModeToken)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		res, err := s.Create("+1111111111", "+2222222222", time.Hour)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if seen[res.RoomID] {
			t.Fatalf("duplicate room id %q", res.RoomID)
		}
		if len(res.RoomID) < 8 || !ValidRoomID(res.RoomID) {
			t.Fatalf("room id %q is not a url-safe id", res.RoomID)
		}
		seen[res.RoomID] = true
	}
	if got := s.Len(); got != 200 {
		t.Fatalf("Len=%d, want 200", got)
	}
}

func TestStore_CreateRejectsEmptyParticipants(t *testing.T) {
	s, _, _ := newTestStore(t, ModeToken)
	for _, tc := range [][2]string{{"", "+1"}, {"+12345678", "   "}, {"+", "+12345678"}} {
		if _, err := s.Create(tc[0], tc[1], time.Hour); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Create(%q,%q) err=%v, want %v", tc[0], tc[1], err, ErrInvalidInput)
		}
	}
	if got := s.Len(); got != 0 {
		t.Fatalf("Len=%d, want 0", got)
	}
}

func TestStore_JoinAssignsRolesAndReady(t *testing.T) {
	s, _, _ := newTestStore(t, ModeToken)
	res, err := s.Create("+1111111111", "+2222222222", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	a := &fakePeer{id: "a"}
	first, err := s.Join(res.RoomID, res.CallerToken, a, nil)
	if err != nil {
		t.Fatalf("Join first: %v", err)
	}
	if first.Role != RoleCaller || first.Ready {
		t.Fatalf("first join role=%q ready=%v, want caller/false", first.Role, first.Ready)
	}

	b := &fakePeer{id: "b"}
	second, err := s.Join(res.RoomID, res.CalleeToken, b, nil)
	if err != nil {
		t.Fatalf("Join second: %v", err)
	}
	if second.Role != RoleCallee || !second.Ready {
		t.Fatalf("second join role=%q ready=%v, want callee/true", second.Role, second.Ready)
	}
	if len(second.Peers) != 2 {
		t.Fatalf("Peers=%d, want 2", len(second.Peers))
	}

	others := first.Room.Others(first.Key)
	if len(others) != 1 || others[0] != b {
		t.Fatalf("Others(caller)=%v, want [b]", others)
	}
}

func TestStore_JoinRejections(t *testing.T) {
	s, clk, m := newTestStore(t, ModeToken)
	res, err := s.Create("+1111111111", "+2222222222", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Join("missing", res.CallerToken, &fakePeer{id: "x"}, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing room err=%v, want %v", err, ErrNotFound)
	}
	if _, err := s.Join(res.RoomID, "bogus", &fakePeer{id: "x"}, nil); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("bad token err=%v, want %v", err, ErrInvalidToken)
	}
	if _, err := s.Join(res.RoomID, "", &fakePeer{id: "x"}, nil); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token err=%v, want %v", err, ErrInvalidToken)
	}
	room, _ := s.Get(res.RoomID)
	if got := room.Connected(); got != 0 {
		t.Fatalf("Connected=%d after rejected joins, want 0", got)
	}

	if _, err := s.Join(res.RoomID, res.CallerToken, &fakePeer{id: "a"}, nil); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := s.Join(res.RoomID, res.CallerToken, &fakePeer{id: "a2"}, nil); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("duplicate token err=%v, want %v", err, ErrAlreadyConnected)
	}

	clk.Advance(2 * time.Minute)
	if _, err := s.Join(res.RoomID, res.CalleeToken, &fakePeer{id: "b"}, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired room err=%v, want %v", err, ErrNotFound)
	}

	if got := m.Get(metrics.JoinRejectedInvalidToken); got != 2 {
		t.Fatalf("join_rejected_invalid_token=%d, want 2", got)
	}
	if got := m.Get(metrics.JoinRejectedNotFound); got != 2 {
		t.Fatalf("join_rejected_not_found=%d, want 2", got)
	}
}

func TestStore_AnonymousThirdPeerIsFull(t *testing.T) {
	s, _, m := newTestStore(t, ModeAnonymous)

	a, b, c := &fakePeer{id: "a"}, &fakePeer{id: "b"}, &fakePeer{id: "c"}
	ra, err := s.Join("lobby", "", a, nil)
	if err != nil {
		t.Fatalf("Join a: %v", err)
	}
	if ra.Role != RoleCaller || ra.Key != "a" {
		t.Fatalf("a role=%q key=%q", ra.Role, ra.Key)
	}
	if _, err := s.Join("lobby", "", b, nil); err != nil {
		t.Fatalf("Join b: %v", err)
	}
	if _, err := s.Join("lobby", "", c, nil); !errors.Is(err, ErrFull) {
		t.Fatalf("Join c err=%v, want %v", err, ErrFull)
	}
	if got := ra.Room.Connected(); got != 2 {
		t.Fatalf("Connected=%d, want 2", got)
	}
	if a.isClosed() || b.isClosed() {
		t.Fatalf("existing peers must be unaffected by a rejected join")
	}
	if got := m.Get(metrics.JoinRejectedFull); got != 1 {
		t.Fatalf("join_rejected_full=%d, want 1", got)
	}
}

func TestStore_TokenThirdConnectionIsFull(t *testing.T) {
	s, _, m := newTestStore(t, ModeToken)
	res, _ := s.Create("+1111111111", "+2222222222", time.Hour)
	a, b := &fakePeer{id: "a"}, &fakePeer{id: "b"}
	if _, err := s.Join(res.RoomID, res.CallerToken, a, nil); err != nil {
		t.Fatalf("Join caller: %v", err)
	}
	if _, err := s.Join(res.RoomID, res.CalleeToken, b, nil); err != nil {
		t.Fatalf("Join callee: %v", err)
	}

	if _, err := s.Join(res.RoomID, res.CalleeToken, &fakePeer{id: "c"}, nil); !errors.Is(err, ErrFull) {
		t.Fatalf("third connection err=%v, want %v", err, ErrFull)
	}
	if got := m.Get(metrics.JoinRejectedFull); got != 1 {
		t.Fatalf("join_rejected_full=%d, want 1", got)
	}
	if got := m.Get(metrics.JoinRejectedAlreadyConnected); got != 0 {
		t.Fatalf("join_rejected_already_connected=%d, want 0", got)
	}
	if a.isClosed() || b.isClosed() {
		t.Fatalf("existing peers must be unaffected by a rejected join")
	}
}

func TestStore_AnonymousCreatedRoomNeverExpires(t *testing.T) {
	s, clk, _ := newTestStore(t, ModeAnonymous)
	res, err := s.Create("+1111111111", "+2222222222", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !res.ExpiresAt.IsZero() {
		t.Fatalf("ExpiresAt=%v, want zero", res.ExpiresAt)
	}

	a := &fakePeer{id: "a"}
	ra, err := s.Join(res.RoomID, "", a, nil)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	clk.Advance(24 * time.Hour)
	if _, err := s.Join(res.RoomID, "", &fakePeer{id: "b"}, nil); err != nil {
		t.Fatalf("Join after a day: %v", err)
	}
	if n := s.Sweep(); n != 0 {
		t.Fatalf("Sweep=%d with connected peers, want 0", n)
	}

	s.Leave(ra.Room, ra.Key)
	s.Leave(ra.Room, "b")
	if _, ok := s.Get(res.RoomID); ok {
		t.Fatalf("quiet anonymous room should be collected")
	}
}

func TestStore_AnonymousRejectsInvalidRoomID(t *testing.T) {
	s, _, _ := newTestStore(t, ModeAnonymous)
	if _, err := s.Join("../etc", "", &fakePeer{id: "a"}, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidInput)
	}
	if got := s.Len(); got != 0 {
		t.Fatalf("Len=%d, want 0", got)
	}
}

func TestStore_AnonymousRoomCollectedWhenEmpty(t *testing.T) {
	s, _, _ := newTestStore(t, ModeAnonymous)
	a, b := &fakePeer{id: "a"}, &fakePeer{id: "b"}
	ra, _ := s.Join("lobby", "", a, nil)
	rb, _ := s.Join("lobby", "", b, nil)

	if left := s.Leave(rb.Room, rb.Key); left != 1 {
		t.Fatalf("Leave=%d, want 1", left)
	}
	if _, ok := s.Get("lobby"); !ok {
		t.Fatalf("room with a remaining peer must not be collected")
	}
	s.Leave(ra.Room, ra.Key)
	if _, ok := s.Get("lobby"); ok {
		t.Fatalf("empty anonymous room should be collected")
	}
}

func TestStore_RejoinTakesFreeRole(t *testing.T) {
	s, _, _ := newTestStore(t, ModeToken)
	res, _ := s.Create("+1111111111", "+2222222222", time.Hour)

	ra, _ := s.Join(res.RoomID, res.CallerToken, &fakePeer{id: "a"}, nil)
	rb, _ := s.Join(res.RoomID, res.CalleeToken, &fakePeer{id: "b"}, nil)
	s.Leave(ra.Room, ra.Key)

	again, err := s.Join(res.RoomID, res.CallerToken, &fakePeer{id: "a2"}, nil)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if rb.Role != RoleCallee || again.Role != RoleCaller || !again.Ready {
		t.Fatalf("rejoin role=%q ready=%v, want caller/true", again.Role, again.Ready)
	}
}

func TestStore_GarbageCollectionRequiresExpiryAndQuiet(t *testing.T) {
	s, clk, _ := newTestStore(t, ModeToken)
	res, _ := s.Create("+1111111111", "+2222222222", time.Minute)

	ra, _ := s.Join(res.RoomID, res.CallerToken, &fakePeer{id: "a"}, nil)
	rb, _ := s.Join(res.RoomID, res.CalleeToken, &fakePeer{id: "b"}, nil)

	s.Leave(rb.Room, rb.Key)
	info, err := s.Describe(res.RoomID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if info.Connected != 1 {
		t.Fatalf("Connected=%d, want 1", info.Connected)
	}

	// Expired but still in a call: kept.
	clk.Advance(2 * time.Minute)
	if n := s.Sweep(); n != 0 {
		t.Fatalf("Sweep removed %d rooms with a live connection", n)
	}
	if _, err := s.Describe(res.RoomID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Describe expired err=%v, want %v", err, ErrNotFound)
	}
	if _, ok := s.Get(res.RoomID); !ok {
		t.Fatalf("expired room with a live connection must stay registered")
	}

	s.Leave(ra.Room, ra.Key)
	if _, ok := s.Get(res.RoomID); ok {
		t.Fatalf("expired quiet room should be collected on last leave")
	}
}

func TestStore_QuietRoomKeptUntilExpiry(t *testing.T) {
	s, clk, _ := newTestStore(t, ModeToken)
	res, _ := s.Create("+1111111111", "+2222222222", time.Minute)
	ra, _ := s.Join(res.RoomID, res.CallerToken, &fakePeer{id: "a"}, nil)
	s.Leave(ra.Room, ra.Key)

	if _, ok := s.Get(res.RoomID); !ok {
		t.Fatalf("unexpired room must survive its last disconnect")
	}
	clk.Advance(time.Minute + time.Second)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("Sweep=%d, want 1", n)
	}
	if _, ok := s.Get(res.RoomID); ok {
		t.Fatalf("room still registered after sweep")
	}
}

func TestStore_LeaveUnknownKeyIsNoop(t *testing.T) {
	s, _, m := newTestStore(t, ModeToken)
	res, _ := s.Create("+1111111111", "+2222222222", time.Hour)
	room, _ := s.Get(res.RoomID)
	if left := s.Leave(room, "nobody"); left != 0 {
		t.Fatalf("Leave=%d, want 0", left)
	}
	if got := m.Get(metrics.PeersLeft); got != 0 {
		t.Fatalf("peers_left=%d, want 0", got)
	}
	if _, ok := s.Get(res.RoomID); !ok {
		t.Fatalf("room should still exist")
	}
}

func TestStore_DeleteClosesPeers(t *testing.T) {
	s, _, _ := newTestStore(t, ModeToken)
	res, _ := s.Create("+1111111111", "+2222222222", time.Hour)
	a, b := &fakePeer{id: "a"}, &fakePeer{id: "b"}
	ra, _ := s.Join(res.RoomID, res.CallerToken, a, nil)
	s.Join(res.RoomID, res.CalleeToken, b, nil)

	if err := s.Delete(res.RoomID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !a.isClosed() || !b.isClosed() {
		t.Fatalf("Delete must close every connection")
	}
	if _, ok := s.Get(res.RoomID); ok {
		t.Fatalf("room still registered after Delete")
	}
	// The relay's disconnect path runs after Delete; it must be harmless.
	s.Leave(ra.Room, ra.Key)

	if _, err := s.Join(res.RoomID, res.CallerToken, &fakePeer{id: "c"}, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Join after Delete err=%v, want %v", err, ErrNotFound)
	}
	if err := s.Delete(res.RoomID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete err=%v, want %v", err, ErrNotFound)
	}
}

func TestStore_RunJanitorStopsOnCancel(t *testing.T) {
	s, clk, _ := newTestStore(t, ModeToken)
	if _, err := s.Create("+1111111111", "+2222222222", time.Minute); err != nil {
		t.Fatalf("Create: %v", err)
	}
	clk.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunJanitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not sweep expired room")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("janitor did not stop after cancel")
	}
}

func TestStore_ConcurrentJoinsAdmitAtMostTwo(t *testing.T) {
	s, _, _ := newTestStore(t, ModeAnonymous)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Join("race", "", &fakePeer{id: string(rune('A' + i))}, nil); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if admitted != MaxPeers {
		t.Fatalf("admitted=%d, want %d", admitted, MaxPeers)
	}
}

func TestStore_JoinRunsAdmittedCallback(t *testing.T) {
	s, _, _ := newTestStore(t, ModeToken)
	res, err := s.Create("+1111111111", "+2222222222", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var seen []Role
	admitted := func(jr JoinResult) { seen = append(seen, jr.Role) }
	if _, err := s.Join(res.RoomID, res.CallerToken, &fakePeer{id: "a"}, admitted); err != nil {
		t.Fatalf("Join(caller): %v", err)
	}
	if _, err := s.Join(res.RoomID, "bogus", &fakePeer{id: "x"}, admitted); err == nil {
		t.Fatalf("expected invalid token error")
	}
	if _, err := s.Join(res.RoomID, res.CalleeToken, &fakePeer{id: "b"}, admitted); err != nil {
		t.Fatalf("Join(callee): %v", err)
	}
	if len(seen) != 2 || seen[0] != RoleCaller || seen[1] != RoleCallee {
		t.Fatalf("admitted roles=%v, want [caller callee]", seen)
	}
}
