package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// recorder is an Outbox that keeps every message per connection.
type recorder struct {
	mu   sync.Mutex
	msgs map[string][]ServerMessage
}

func newRecorder() *recorder {
	return &recorder{msgs: make(map[string][]ServerMessage)}
}

func (r *recorder) Send(connID string, msg ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs[connID] = append(r.msgs[connID], msg)
}

func (r *recorder) of(connID string) []ServerMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]ServerMessage(nil), r.msgs[connID]...)
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, msgs := range r.msgs {
		n += len(msgs)
	}

	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs = make(map[string][]ServerMessage)
}

// lastOf returns the most recent message of type T sent to connID.
func lastOf[T ServerMessage](r *recorder, connID string) (T, bool) {
	msgs := r.of(connID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if m, ok := msgs[i].(T); ok {
			return m, true
		}
	}

	var zero T

	return zero, false
}

func countOf[T ServerMessage](r *recorder, connID string) int {
	n := 0
	for _, m := range r.of(connID) {
		if _, ok := m.(T); ok {
			n++
		}
	}

	return n
}

type fixture struct {
	srv   *Server
	out   *recorder
	clock fakeClock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClock()
	out := newRecorder()

	opts.Clock = clock
	opts.Logger = zerolog.Nop()

	return &fixture{
		srv:   NewServer(out, opts),
		out:   out,
		clock: clock,
	}
}

func conn(name string) Conn {
	return Conn{ID: "conn-" + name, Session: "session-" + name}
}

// seatRoom creates key hosted by names[0] and seats the rest in order.
func (f *fixture) seatRoom(t *testing.T, key string, settings Settings, names ...string) []Conn {
	t.Helper()

	conns := make([]Conn, 0, len(names))
	for i, name := range names {
		c := conn(name)
		f.srv.Presence().Connect(c)

		var (
			seat int
			err  error
		)
		if i == 0 {
			seat, err = f.srv.CreateRoom(key, settings, c, name)
		} else {
			seat, err = f.srv.Authenticate(key, c, name, settings.Passphrase)
		}
		require.NoError(t, err)
		require.Equal(t, i, seat)

		conns = append(conns, c)
	}

	return conns
}

// startGame readies every seat in key.
func (f *fixture) startGame(t *testing.T, key string, seats int) {
	t.Helper()

	for seat := 0; seat < seats; seat++ {
		require.NoError(t, f.srv.SetReady(key, seat, true))
	}
	require.True(t, f.srv.IsActive(key))
	require.Equal(t, 1, f.srv.Round(key))
}

func contentFor(round int, payload string) Content {
	return Content{Kind: KindForRound(round), Payload: payload}
}
