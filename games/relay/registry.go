package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type phase int

const (
	phaseLobby phase = iota
	phasePlaying
	phaseReveal
)

// room is the state behind one key. Every field is guarded by mu, and the
// holder of mu owns the room for the whole of one state transition.
type room struct {
	mu sync.Mutex

	key      string
	settings Settings
	actors   []*Actor // seat order
	game     *game    // non-nil only while a game is in progress
	reveal   *reveal  // papers and tally after the last round
	closed   bool

	createdAt  time.Time
	lastActive time.Time
}

// RoomInfo is the public summary of an open room.
type RoomInfo struct {
	Key    string `json:"key"`
	Seats  int    `json:"seats"`
	Max    int    `json:"max,omitempty"`
	Active bool   `json:"active"`
	Locked bool   `json:"locked"`
	Round  int    `json:"round"`
}

// Server is the room registry, and the entry point for every room operation.
type Server struct {
	opts     Options
	out      Outbox
	log      zerolog.Logger
	presence *Tracker

	mu    sync.Mutex
	rooms map[string]*room
}

func NewServer(out Outbox, opts Options) *Server {
	opts = opts.withDefaults()

	s := &Server{
		opts:  opts,
		out:   out,
		log:   opts.Logger.With().Str("module", "relay").Logger(),
		rooms: make(map[string]*room),
	}
	s.presence = NewTracker(opts.Clock, opts.GracePeriod, s.log, s.purgeSession)

	return s
}

// Presence exposes the connection tracker.
func (s *Server) Presence() *Tracker {
	return s.presence
}

func (s *Server) lookup(key string) (*room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[key]

	return r, ok
}

// lockRoom returns the room for key with its lock held, or ErrInvalidKey.
func (s *Server) lockRoom(key string) (*room, error) {
	r, ok := s.lookup(key)
	if !ok {
		return nil, ErrInvalidKey
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrInvalidKey
	}

	return r, nil
}

// CreateRoom registers key with settings and seats host as seat 0.
func (s *Server) CreateRoom(key string, settings Settings, host Conn, displayName string) (int, error) {
	if !validKey(key) || !s.opts.Filter.Allow(FieldRoomKey, key) {
		return 0, ErrInvalidKey
	}
	name, ok := cleanName(displayName)
	if !ok || !s.opts.Filter.Allow(FieldName, name) {
		return 0, ErrInvalidName
	}
	if _, seated := s.presence.RoomOf(host.Session); seated {
		return 0, ErrAlreadyInRoom
	}

	now := s.opts.Clock.Now()
	r := &room{
		key:        key,
		settings:   s.opts.normalize(settings),
		createdAt:  now,
		lastActive: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s.mu.Lock()
	if _, exists := s.rooms[key]; exists {
		s.mu.Unlock()
		return 0, ErrDuplicateKey
	}
	s.rooms[key] = r
	s.mu.Unlock()

	if !s.presence.Bind(host.Session, key) {
		s.mu.Lock()
		delete(s.rooms, key)
		s.mu.Unlock()
		r.closed = true
		return 0, ErrAlreadyInRoom
	}

	a := s.seatLocked(r, host, name)

	s.log.Info().
		Str("room", key).
		Str("host", name).
		Int("capacity", r.settings.Capacity).
		Int("rounds", r.settings.RoundCount).
		Bool("chat", r.settings.ChatEnabled).
		Bool("locked", r.settings.Passphrase != "").
		Msg("room created")

	s.out.Send(host.ID, JoinedMessage{Type: TypeJoined, Key: key, SeatID: a.SeatID, Host: true})
	s.broadcastMembershipLocked(r, "ok", name+" is hosting the room")

	return a.SeatID, nil
}

// CloseRoom notifies every member, then removes all state for key.
func (s *Server) CloseRoom(key string) {
	r, err := s.lockRoom(key)
	if err != nil {
		return
	}
	defer r.mu.Unlock()

	s.closeLocked(r, "Lobby closed by host")
}

func (s *Server) closeLocked(r *room, reason string) {
	for _, a := range r.actors {
		if a.Connected {
			s.out.Send(a.Conn, RoomClosedMessage{Type: TypeRoomClosed, Key: r.key, Message: reason})
		}
	}
	for _, a := range r.actors {
		s.presence.Release(a.Session, r.key)
	}

	r.actors = nil
	r.game = nil
	r.reveal = nil
	r.closed = true

	s.mu.Lock()
	if s.rooms[r.key] == r {
		delete(s.rooms, r.key)
	}
	s.mu.Unlock()

	s.log.Info().Str("room", r.key).Str("reason", reason).Msg("room closed")
}

func (s *Server) RoomExists(key string) bool {
	_, ok := s.lookup(key)

	return ok
}

// IsActive reports whether a game is in progress in key.
func (s *Server) IsActive(key string) bool {
	r, err := s.lockRoom(key)
	if err != nil {
		return false
	}
	defer r.mu.Unlock()

	return r.game != nil
}

// Round returns the round counter of key: 0 in the lobby, -1 after the game.
func (s *Server) Round(key string) int {
	r, err := s.lockRoom(key)
	if err != nil {
		return RoundLobby
	}
	defer r.mu.Unlock()

	return r.round()
}

// Actors returns a snapshot of the seats in key.
func (s *Server) Actors(key string) []ActorView {
	r, err := s.lockRoom(key)
	if err != nil {
		return nil
	}
	defer r.mu.Unlock()

	return r.views()
}

// Rooms lists open rooms ordered by key.
func (s *Server) Rooms() []RoomInfo {
	s.mu.Lock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed {
			infos = append(infos, RoomInfo{
				Key:    r.key,
				Seats:  len(r.actors),
				Max:    r.settings.Capacity,
				Active: r.game != nil,
				Locked: r.settings.Passphrase != "",
				Round:  r.round(),
			})
		}
		r.mu.Unlock()
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	return infos
}

// Reap closes rooms that have seen no activity for idle. It returns how many
// rooms were closed.
func (s *Server) Reap(idle time.Duration) int {
	cutoff := s.opts.Clock.Now().Add(-idle)

	s.mu.Lock()
	keys := make([]string, 0, len(s.rooms))
	for key := range s.rooms {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	reaped := 0
	for _, key := range keys {
		r, err := s.lockRoom(key)
		if err != nil {
			continue
		}
		if r.lastActive.Before(cutoff) {
			s.closeLocked(r, "Room closed after inactivity")
			reaped++
		}
		r.mu.Unlock()
	}

	return reaped
}

// RunReaper calls Reap every idle/2 until ctx is done.
func (s *Server) RunReaper(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		return
	}

	ticker := s.opts.Clock.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := s.Reap(idle); n > 0 {
				s.log.Info().Int("rooms", n).Msg("reaped idle rooms")
			}
		}
	}
}

func (r *room) round() int {
	switch {
	case r.game != nil:
		return r.game.round
	case r.reveal != nil:
		return RoundFinished
	default:
		return RoundLobby
	}
}

func (r *room) phase() phase {
	switch {
	case r.game != nil:
		return phasePlaying
	case r.reveal != nil:
		return phaseReveal
	default:
		return phaseLobby
	}
}

func (r *room) views() []ActorView {
	views := make([]ActorView, 0, len(r.actors))
	for _, a := range r.actors {
		views = append(views, a.view())
	}

	return views
}

func (r *room) seat(id int) (*Actor, bool) {
	for _, a := range r.actors {
		if a.SeatID == id {
			return a, true
		}
	}

	return nil, false
}

func (r *room) bySession(session string) (*Actor, bool) {
	for _, a := range r.actors {
		if a.Session == session {
			return a, true
		}
	}

	return nil, false
}

func (r *room) allReady() bool {
	for _, a := range r.actors {
		if !a.Ready {
			return false
		}
	}

	return len(r.actors) > 0
}

func (r *room) clearReady() {
	for _, a := range r.actors {
		a.Ready = false
	}
}

func (s *Server) touchLocked(r *room) {
	r.lastActive = s.opts.Clock.Now()
}

// seatLocked appends a new actor with the next seat id.
func (s *Server) seatLocked(r *room, c Conn, name string) *Actor {
	a := &Actor{
		Conn:        c.ID,
		Session:     c.Session,
		SeatID:      len(r.actors),
		DisplayName: name,
		Connected:   true,
		limiter:     rate.NewLimiter(s.opts.ChatRate, s.opts.ChatBurst),
	}
	r.actors = append(r.actors, a)
	s.touchLocked(r)

	return a
}

func (s *Server) broadcastMembershipLocked(r *room, status, notice string) {
	views := r.views()
	round := r.round()

	for _, a := range r.actors {
		if !a.Connected {
			continue
		}
		s.out.Send(a.Conn, MembershipMessage{
			Type:         TypeMembership,
			Status:       status,
			Key:          r.key,
			You:          a.SeatID,
			Round:        round,
			Notice:       notice,
			Actors:       views,
			ChatDisabled: !r.settings.ChatEnabled,
		})
	}
}

func (s *Server) broadcastLocked(r *room, msg ServerMessage, except int) {
	for _, a := range r.actors {
		if !a.Connected || a.SeatID == except {
			continue
		}
		s.out.Send(a.Conn, msg)
	}
}
