package relay

// reveal holds the finished papers and their like counters.
type reveal struct {
	papers []*Paper
	tally  [][]int
}

func newReveal(papers []*Paper) *reveal {
	tally := make([][]int, len(papers))
	for i, p := range papers {
		tally[i] = make([]int, len(p.Contributions))
	}

	return &reveal{papers: papers, tally: tally}
}

func (v *reveal) snapshot() []Paper {
	out := make([]Paper, 0, len(v.papers))
	for _, p := range v.papers {
		out = append(out, p.clone())
	}

	return out
}

func (v *reveal) counts() [][]int {
	out := make([][]int, len(v.tally))
	for i, row := range v.tally {
		out[i] = append([]int(nil), row...)
	}

	return out
}

// CastVote applies a +1 (like) or -1 delta to one contribution and returns the
// new count. Counts are not clamped; the client tracks its own toggle state.
func (s *Server) CastVote(key string, paper, contribution int, like bool) (int, error) {
	r, err := s.lockRoom(key)
	if err != nil {
		return 0, err
	}
	defer r.mu.Unlock()

	return s.voteLocked(r, paper, contribution, like)
}

func (s *Server) voteLocked(r *room, paper, contribution int, like bool) (int, error) {
	if r.reveal == nil {
		return 0, ErrNoTally
	}
	tally := r.reveal.tally
	if paper < 0 || paper >= len(tally) || contribution < 0 || contribution >= len(tally[paper]) {
		return 0, ErrVoteOutOfRange
	}

	delta := -1
	if like {
		delta = 1
	}
	tally[paper][contribution] += delta
	count := tally[paper][contribution]
	s.touchLocked(r)

	s.broadcastLocked(r, VoteMessage{
		Type:              TypeVote,
		PaperIndex:        paper,
		ContributionIndex: contribution,
		Count:             count,
	}, -1)

	return count, nil
}

// Votes returns a copy of the tally for key, or nil outside of the reveal.
func (s *Server) Votes(key string) [][]int {
	r, err := s.lockRoom(key)
	if err != nil {
		return nil
	}
	defer r.mu.Unlock()

	if r.reveal == nil {
		return nil
	}

	return r.reveal.counts()
}

// Papers returns the revealed papers for key, or nil outside of the reveal.
func (s *Server) Papers(key string) []Paper {
	r, err := s.lockRoom(key)
	if err != nil {
		return nil
	}
	defer r.mu.Unlock()

	if r.reveal == nil {
		return nil
	}

	return r.reveal.snapshot()
}
