package relay

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// pending is one armed grace timer. Identity matters: a timer only acts if the
// tracker still holds the same *pending for its session when it fires.
type pending struct {
	timer clockwork.Timer
}

// Tracker maps live connections to sessions, sessions to rooms, and owns the
// grace timers for dropped sessions. It never calls back into a room while
// holding its own lock.
type Tracker struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	grace    time.Duration
	log      zerolog.Logger
	onExpire func(session, key string)

	live    map[string]string // conn id -> session
	rooms   map[string]string // session -> room key
	pending map[string]*pending
}

func NewTracker(clock clockwork.Clock, grace time.Duration, log zerolog.Logger, onExpire func(session, key string)) *Tracker {
	return &Tracker{
		clock:    clock,
		grace:    grace,
		log:      log,
		onExpire: onExpire,
		live:     make(map[string]string),
		rooms:    make(map[string]string),
		pending:  make(map[string]*pending),
	}
}

// Connect records c as live and cancels any pending purge for its session.
// It returns the room the session is bound to, if any.
func (t *Tracker) Connect(c Conn) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.live[c.ID] = c.Session
	t.cancelLocked(c.Session)

	key, ok := t.rooms[c.Session]

	return key, ok
}

// Disconnect forgets c. It reports the room its session is bound to.
func (t *Tracker) Disconnect(c Conn) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.live, c.ID)
	key, ok := t.rooms[c.Session]

	return key, ok
}

// Live reports whether the connection id is still open.
func (t *Tracker) Live(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.live[connID]

	return ok
}

// RoomOf returns the room a session is seated in.
func (t *Tracker) RoomOf(session string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key, ok := t.rooms[session]

	return key, ok
}

// Bind seats session in room key. It fails if the session is already seated.
func (t *Tracker) Bind(session, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.rooms[session]; ok {
		return false
	}
	t.rooms[session] = key

	return true
}

// Release unseats session from key and cancels its grace timer. Releasing a
// session that is bound elsewhere, or not at all, does nothing.
func (t *Tracker) Release(session, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rooms[session] != key {
		return
	}
	delete(t.rooms, session)
	t.cancelLocked(session)
}

// Hold arms the grace timer for session, replacing any earlier one.
func (t *Tracker) Hold(session string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked(session)

	p := &pending{}
	p.timer = t.clock.AfterFunc(t.grace, func() {
		t.expire(session, p)
	})
	t.pending[session] = p

	t.log.Debug().
		Str("session", session).
		Dur("grace", t.grace).
		Msg("holding seat")
}

// Holding reports whether session has an armed grace timer.
func (t *Tracker) Holding(session string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.pending[session]

	return ok
}

func (t *Tracker) cancelLocked(session string) {
	p, ok := t.pending[session]
	if !ok {
		return
	}
	delete(t.pending, session)
	p.timer.Stop()
}

func (t *Tracker) expire(session string, p *pending) {
	t.mu.Lock()
	if t.pending[session] != p {
		t.mu.Unlock()
		return
	}
	delete(t.pending, session)
	key, ok := t.rooms[session]
	t.mu.Unlock()

	if !ok {
		return
	}

	t.log.Debug().
		Str("session", session).
		Str("room", key).
		Msg("grace period expired")

	if t.onExpire != nil {
		t.onExpire(session, key)
	}
}
