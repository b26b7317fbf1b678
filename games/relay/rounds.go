package relay

import "sort"

// game is the per-room state while rounds are being played. seats[i] holds
// papers[i]; rotation moves papers, never seats.
type game struct {
	round  int
	rounds int
	seats  []int
	papers []*Paper
}

func (g *game) slot(seat int) int {
	for i, s := range g.seats {
		if s == seat {
			return i
		}
	}

	return -1
}

func (g *game) heldBy(seat int) (*Paper, bool) {
	i := g.slot(seat)
	if i < 0 {
		return nil, false
	}

	return g.papers[i], true
}

// rotate hands every paper one slot to the right: the last slot's paper goes
// to the first seat, so seat i continues what seat i-1 held.
func (g *game) rotate() {
	n := len(g.papers)
	if n < 2 {
		return
	}
	last := g.papers[n-1]
	copy(g.papers[1:], g.papers[:n-1])
	g.papers[0] = last
}

// dropSeat takes a departed seat out of the rotation along with the paper it
// authored. Whoever was holding that paper takes over the paper the departed
// seat was holding, and inherits its submitted state for this round.
func (g *game) dropSeat(r *room, seat int) {
	d := g.slot(seat)
	if d < 0 {
		return
	}

	owned := -1
	for i, p := range g.papers {
		if p.OwnerID == seat {
			owned = i
			break
		}
	}

	if owned >= 0 && owned != d {
		held := g.papers[d]
		g.papers[owned] = held
		if holder, ok := r.seat(g.seats[owned]); ok {
			holder.Ready = len(held.Contributions) >= g.round
		}
	}

	g.seats = append(g.seats[:d], g.seats[d+1:]...)
	g.papers = append(g.papers[:d], g.papers[d+1:]...)
}

// startLocked moves a room whose seats are all ready into round 1.
func (s *Server) startLocked(r *room) {
	r.clearReady()
	r.reveal = nil

	// Seats are compact in the lobby; departures during the last game may
	// have left gaps.
	for i, a := range r.actors {
		a.SeatID = i
	}

	g := &game{
		round:  1,
		rounds: r.settings.RoundCount,
		seats:  make([]int, 0, len(r.actors)),
		papers: make([]*Paper, 0, len(r.actors)),
	}
	for _, a := range r.actors {
		g.seats = append(g.seats, a.SeatID)
		g.papers = append(g.papers, &Paper{
			OwnerID:       a.SeatID,
			OwnerName:     a.DisplayName,
			Contributions: make([]Contribution, 0, g.rounds),
		})
	}
	r.game = g
	s.touchLocked(r)

	s.log.Info().
		Str("room", r.key).
		Int("seats", len(g.seats)).
		Int("rounds", g.rounds).
		Msg("game started")

	s.broadcastMembershipLocked(r, "start", "")
	s.sendRoundLocked(r)
}

// Submit records seat's contribution for round.
func (s *Server) Submit(key string, seat, round int, content Content) error {
	r, err := s.lockRoom(key)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	return s.submitLocked(r, seat, round, content)
}

func (s *Server) submitLocked(r *room, seat, round int, content Content) error {
	g := r.game
	if g == nil {
		return ErrNotPlaying
	}
	a, ok := r.seat(seat)
	if !ok {
		return ErrUnknownSeat
	}
	p, ok := g.heldBy(seat)
	if !ok {
		return ErrUnknownSeat
	}
	if round != g.round {
		return ErrWrongRound
	}
	if a.Ready {
		return ErrAlreadySubmitted
	}
	if content.Kind != KindForRound(round) {
		return ErrWrongKind
	}

	p.Contributions = append(p.Contributions, Contribution{
		Content: content,
		Seat:    seat,
		Author:  a.DisplayName,
		Round:   round,
	})
	a.Ready = true
	s.touchLocked(r)

	s.log.Debug().
		Str("room", r.key).
		Int("seat", seat).
		Int("round", round).
		Str("kind", string(content.Kind)).
		Int("owner", p.OwnerID).
		Msg("content submitted")

	if a.Connected {
		s.out.Send(a.Conn, SubmitAckMessage{Type: TypeSubmitAck, Round: round})
	}
	s.broadcastLocked(r, SubmittedMessage{
		Type:   TypeSubmitted,
		SeatID: seat,
		Round:  round,
		Actors: r.views(),
	}, seat)

	s.checkRoundLocked(r)

	return nil
}

// checkRoundLocked advances or finishes the game once every seat has submitted.
func (s *Server) checkRoundLocked(r *room) {
	g := r.game
	if g == nil || !r.allReady() {
		return
	}

	r.clearReady()

	if g.round < g.rounds {
		g.rotate()
		g.round++

		s.log.Debug().Str("room", r.key).Int("round", g.round).Msg("round started")

		s.sendRoundLocked(r)
		return
	}

	s.finishLocked(r)
}

func (s *Server) sendRoundLocked(r *room) {
	g := r.game
	for i, seat := range g.seats {
		a, ok := r.seat(seat)
		if !ok || !a.Connected {
			continue
		}
		p := g.papers[i].clone()
		s.out.Send(a.Conn, RoundMessage{
			Type:   TypeRound,
			Round:  g.round,
			Rounds: g.rounds,
			Expect: KindForRound(g.round),
			Paper:  &p,
		})
	}
}

// finishLocked restores author order, opens the vote tally and drops the game.
func (s *Server) finishLocked(r *room) {
	g := r.game

	papers := make([]*Paper, len(g.papers))
	copy(papers, g.papers)
	sort.SliceStable(papers, func(i, j int) bool { return papers[i].OwnerID < papers[j].OwnerID })

	r.reveal = newReveal(papers)
	r.game = nil

	s.log.Info().
		Str("room", r.key).
		Int("papers", len(papers)).
		Int("rounds", g.rounds).
		Msg("game finished")

	s.broadcastLocked(r, RoundMessage{
		Type:   TypeRound,
		Round:  RoundFinished,
		Rounds: g.rounds,
		Papers: r.reveal.snapshot(),
	}, -1)
}

// HeldPaper returns a copy of the paper seat must continue in the current round.
func (s *Server) HeldPaper(key string, seat int) (Paper, bool) {
	r, err := s.lockRoom(key)
	if err != nil {
		return Paper{}, false
	}
	defer r.mu.Unlock()

	if r.game == nil {
		return Paper{}, false
	}
	p, ok := r.game.heldBy(seat)
	if !ok {
		return Paper{}, false
	}

	return p.clone(), true
}
