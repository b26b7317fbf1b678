package relay

import "errors"

// HandleRaw decodes one inbound frame from c and handles it.
func (s *Server) HandleRaw(c Conn, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		s.replyError(c, "", err)
		return
	}

	s.Handle(c, msg)
}

// Handle runs one client request. Failures are reported to c alone.
func (s *Server) Handle(c Conn, msg ClientMessage) {
	var (
		req string
		err error
	)

	switch m := msg.(type) {
	case CreateRoomRequest:
		req = TypeCreateRoom
		_, err = s.CreateRoom(m.Key, m.Settings, c, m.DisplayName)

	case JoinRoomRequest:
		req = TypeJoinRoom
		_, err = s.Join(m.Key, c, m.DisplayName)
		if errors.Is(err, ErrNeedsPassphrase) {
			s.out.Send(c.ID, AuthRequiredMessage{Type: TypeAuthRequired, Key: m.Key, Message: "Enter room passkey"})
			return
		}

	case AuthenticateRoomRequest:
		req = TypeAuthenticateRoom
		_, err = s.Authenticate(m.Key, c, m.DisplayName, m.Passphrase)

	case LeaveRoomRequest:
		req = TypeLeaveRoom
		err = s.withSeat(c, m.Key, m.SeatID, func(r *room, a *Actor) error {
			return s.exitLocked(r, a.SeatID)
		})

	case SetReadyRequest:
		req = TypeSetReady
		err = s.withSeat(c, "", m.SeatID, func(r *room, a *Actor) error {
			return s.setReadyLocked(r, a.SeatID, m.Ready)
		})

	case SendChatRequest:
		req = TypeSendChat
		err = s.withSeat(c, "", m.SeatID, func(r *room, a *Actor) error {
			return s.chatLocked(r, a.SeatID, m.Text)
		})

	case ModerateRequest:
		req = TypeModerate
		err = s.withSeat(c, "", m.RequestingSeatID, func(r *room, a *Actor) error {
			return s.kickLocked(r, a.SeatID, m.TargetSeatID)
		})

	case SubmitContentRequest:
		req = TypeSubmitContent
		err = s.withSeat(c, "", m.SeatID, func(r *room, a *Actor) error {
			return s.submitLocked(r, a.SeatID, m.Round, m.Content)
		})

	case CastVoteRequest:
		req = TypeCastVote
		err = s.withSeat(c, "", -1, func(r *room, _ *Actor) error {
			_, err := s.voteLocked(r, m.PaperIndex, m.ContributionIndex, m.Like)
			return err
		})

	default:
		err = ErrBadMessage
	}

	if err != nil {
		s.replyError(c, req, err)
	}
}

// withSeat runs fn with the room of c locked, after checking that c is the
// live connection of the seat it claims. A negative seat skips the seat check.
func (s *Server) withSeat(c Conn, key string, seat int, fn func(*room, *Actor) error) error {
	bound, ok := s.presence.RoomOf(c.Session)
	if !ok || (key != "" && key != bound) {
		return ErrNotInRoom
	}

	r, err := s.lockRoom(bound)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	a, ok := r.bySession(c.Session)
	if !ok || !a.Connected || a.Conn != c.ID {
		return ErrNotInRoom
	}
	if seat >= 0 && seat != a.SeatID {
		return ErrUnknownSeat
	}

	return fn(r, a)
}

func (s *Server) replyError(c Conn, req string, err error) {
	s.log.Debug().
		Err(err).
		Str("conn", c.ID).
		Str("request", req).
		Msg("request rejected")

	s.out.Send(c.ID, ErrorMessage{
		Type:    TypeError,
		Request: req,
		Code:    Code(err),
		Message: err.Error(),
	})
}
