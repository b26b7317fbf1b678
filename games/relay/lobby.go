package relay

// Join seats c in key. Rooms with a passphrase answer ErrNeedsPassphrase, and
// the client is expected to retry through Authenticate.
func (s *Server) Join(key string, c Conn, displayName string) (int, error) {
	return s.join(key, c, displayName, nil)
}

// Authenticate is the second step of the passphrase handshake.
func (s *Server) Authenticate(key string, c Conn, displayName, passphrase string) (int, error) {
	return s.join(key, c, displayName, &passphrase)
}

func (s *Server) join(key string, c Conn, displayName string, passphrase *string) (int, error) {
	name, ok := cleanName(displayName)
	if !ok || !s.opts.Filter.Allow(FieldName, name) {
		return 0, ErrInvalidName
	}

	r, err := s.lockRoom(key)
	if err != nil {
		return 0, err
	}
	defer r.mu.Unlock()

	if r.phase() != phaseLobby {
		return 0, ErrGameStarted
	}
	if max := r.settings.Capacity; max > 0 && len(r.actors) >= max {
		return 0, ErrAtCapacity
	}
	if r.settings.Passphrase != "" {
		if passphrase == nil {
			return 0, ErrNeedsPassphrase
		}
		if *passphrase != r.settings.Passphrase {
			return 0, ErrWrongPassphrase
		}
	}
	if !s.presence.Bind(c.Session, key) {
		return 0, ErrAlreadyInRoom
	}

	a := s.seatLocked(r, c, name)

	s.log.Info().
		Str("room", key).
		Str("name", name).
		Int("seat", a.SeatID).
		Msg("player joined")

	s.out.Send(c.ID, JoinedMessage{Type: TypeJoined, Key: key, SeatID: a.SeatID})
	s.broadcastMembershipLocked(r, "ok", name+" has joined the room")

	return a.SeatID, nil
}

// SetReady updates seat's ready flag and, outside of a game, starts one once
// every seat is ready.
func (s *Server) SetReady(key string, seat int, ready bool) error {
	r, err := s.lockRoom(key)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	return s.setReadyLocked(r, seat, ready)
}

func (s *Server) setReadyLocked(r *room, seat int, ready bool) error {
	a, ok := r.seat(seat)
	if !ok {
		return ErrUnknownSeat
	}
	if r.game != nil {
		// Ready flags mean "submitted" during a game.
		return ErrGameStarted
	}

	a.Ready = ready
	s.touchLocked(r)

	if a.Connected {
		s.out.Send(a.Conn, ReadyMessage{Type: TypeReady, Ready: ready})
	}
	s.broadcastMembershipLocked(r, "ok", "")

	if r.allReady() {
		s.startLocked(r)
	}

	return nil
}

// SendChat relays text verbatim to every seat, the sender included.
func (s *Server) SendChat(key string, seat int, text string) error {
	r, err := s.lockRoom(key)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	return s.chatLocked(r, seat, text)
}

func (s *Server) chatLocked(r *room, seat int, text string) error {
	a, ok := r.seat(seat)
	if !ok {
		return ErrUnknownSeat
	}
	if !r.settings.ChatEnabled {
		if s.opts.DropDisabledChat {
			return nil
		}
		return ErrChatDisabled
	}
	if !a.limiter.Allow() {
		return ErrChatThrottled
	}
	if !s.opts.Filter.Allow(FieldChat, text) {
		return ErrRejected
	}

	s.touchLocked(r)
	s.broadcastLocked(r, ChatMessage{
		Type:   TypeChat,
		SeatID: a.SeatID,
		Author: a.DisplayName,
		Text:   text,
	}, -1)

	return nil
}

// Kick removes target on behalf of the host.
func (s *Server) Kick(key string, requester, target int) error {
	r, err := s.lockRoom(key)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	return s.kickLocked(r, requester, target)
}

func (s *Server) kickLocked(r *room, requester, target int) error {
	if requester != 0 {
		return ErrNotHost
	}
	if _, ok := r.seat(requester); !ok {
		return ErrUnknownSeat
	}
	if target == 0 {
		return ErrInvalidTarget
	}
	a, ok := r.seat(target)
	if !ok {
		return ErrUnknownSeat
	}

	s.log.Info().
		Str("room", r.key).
		Str("name", a.DisplayName).
		Int("seat", target).
		Msg("player kicked")

	if a.Connected {
		s.out.Send(a.Conn, KickedMessage{Type: TypeKicked, Key: r.key, Message: "Kicked from room by host"})
	}
	s.removeLocked(r, a, a.DisplayName+" was removed by the host")

	return nil
}

// Exit removes seat from key. The host leaving closes the room.
func (s *Server) Exit(key string, seat int) error {
	r, err := s.lockRoom(key)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	return s.exitLocked(r, seat)
}

func (s *Server) exitLocked(r *room, seat int) error {
	a, ok := r.seat(seat)
	if !ok {
		return ErrUnknownSeat
	}
	if a.Connected {
		s.out.Send(a.Conn, LeftMessage{Type: TypeLeft, Key: r.key})
	}
	s.removeLocked(r, a, a.DisplayName+" has left the room")

	return nil
}

// removeLocked is the single purge path for exit, kick and grace expiry.
func (s *Server) removeLocked(r *room, a *Actor, notice string) {
	if a.SeatID == 0 {
		s.closeLocked(r, "Lobby closed by host")
		return
	}

	idx := -1
	for i, other := range r.actors {
		if other == a {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	r.actors = append(r.actors[:idx], r.actors[idx+1:]...)
	s.presence.Release(a.Session, r.key)
	s.touchLocked(r)

	switch r.phase() {
	case phaseLobby:
		for _, other := range r.actors[idx:] {
			other.SeatID--
		}
	case phasePlaying:
		r.game.dropSeat(r, a.SeatID)
	case phaseReveal:
		// Revealed papers stay put so vote indices remain valid.
	}

	s.log.Info().
		Str("room", r.key).
		Str("name", a.DisplayName).
		Int("seat", a.SeatID).
		Int("remaining", len(r.actors)).
		Msg("player removed")

	s.broadcastMembershipLocked(r, "ok", notice)

	if r.game != nil {
		s.checkRoundLocked(r)
	}
}

// Connect records a new connection. If its session holds a seat, the seat is
// resumed and the connection is told where it stands.
func (s *Server) Connect(c Conn) bool {
	key, ok := s.presence.Connect(c)
	if !ok {
		return false
	}

	r, err := s.lockRoom(key)
	if err != nil {
		return false
	}
	defer r.mu.Unlock()

	a, ok := r.bySession(c.Session)
	if !ok {
		return false
	}

	a.Conn = c.ID
	a.Connected = true
	s.touchLocked(r)

	s.log.Info().
		Str("room", key).
		Str("name", a.DisplayName).
		Int("seat", a.SeatID).
		Msg("player resumed")

	s.out.Send(c.ID, s.resumeLocked(r, a))
	s.broadcastMembershipLocked(r, "ok", a.DisplayName+" has reconnected")

	return true
}

// Disconnect handles an abrupt connection loss. The seat is held open for the
// grace period rather than removed.
func (s *Server) Disconnect(c Conn) {
	key, ok := s.presence.Disconnect(c)
	if !ok {
		return
	}

	r, err := s.lockRoom(key)
	if err != nil {
		return
	}
	defer r.mu.Unlock()

	a, ok := r.bySession(c.Session)
	if !ok || a.Conn != c.ID || !a.Connected {
		return
	}

	a.Connected = false
	s.presence.Hold(a.Session)

	s.log.Info().
		Str("room", key).
		Str("name", a.DisplayName).
		Int("seat", a.SeatID).
		Msg("player dropped")

	s.broadcastMembershipLocked(r, "ok", a.DisplayName+" lost connection")
}

// purgeSession runs when a grace timer expires. It is a no-op unless the
// session still holds a disconnected seat in key.
func (s *Server) purgeSession(session, key string) {
	r, err := s.lockRoom(key)
	if err != nil {
		return
	}
	defer r.mu.Unlock()

	a, ok := r.bySession(session)
	if !ok || a.Connected {
		return
	}

	s.removeLocked(r, a, a.DisplayName+" has left the room")
}

func (s *Server) resumeLocked(r *room, a *Actor) ResumedMessage {
	msg := ResumedMessage{
		Type:      TypeResumed,
		Key:       r.key,
		SeatID:    a.SeatID,
		Round:     r.round(),
		Submitted: r.game != nil && a.Ready,
	}

	switch {
	case r.game != nil:
		if p, ok := r.game.heldBy(a.SeatID); ok {
			c := p.clone()
			msg.Paper = &c
		}
	case r.reveal != nil:
		msg.Papers = r.reveal.snapshot()
		msg.Votes = r.reveal.counts()
	}

	return msg
}
