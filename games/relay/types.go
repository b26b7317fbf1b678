package relay

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultRounds      = 7
	DefaultMaxRounds   = 30
	DefaultGracePeriod = 10 * time.Second

	maxKeyLen  = 64
	maxNameLen = 32
)

// Round values outside of 1..RoundCount.
const (
	RoundLobby    = 0
	RoundFinished = -1
)

// Settings are chosen by the host when the room is created.
type Settings struct {
	Capacity    int    `json:"capacity"` // 0 means unlimited
	Passphrase  string `json:"passphrase"`
	ChatEnabled bool   `json:"chat_enabled"`
	RoundCount  int    `json:"round_count"`
}

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image-blob"
)

// KindForRound returns the content kind expected in round. Round 1 and every odd
// round are text; even rounds are drawings of the text before them.
func KindForRound(round int) Kind {
	if round%2 == 0 {
		return KindImage
	}

	return KindText
}

// Content is a single submission. Image payloads are opaque and never decoded.
type Content struct {
	Kind    Kind   `json:"kind"`
	Payload string `json:"payload"`
}

// Contribution is a Content stamped with the seat and round that produced it.
type Contribution struct {
	Content
	Seat   int    `json:"seat"`
	Author string `json:"author"`
	Round  int    `json:"round"`
}

// Paper accumulates the contributions that started from one seat's prompt.
type Paper struct {
	OwnerID       int            `json:"owner_id"`
	OwnerName     string         `json:"owner_name"`
	Contributions []Contribution `json:"contributions"`
}

func (p *Paper) clone() Paper {
	c := *p
	c.Contributions = append([]Contribution(nil), p.Contributions...)

	return c
}

// Actor is one seat in a room.
type Actor struct {
	Conn        string
	Session     string
	SeatID      int
	DisplayName string
	Ready       bool
	Connected   bool

	limiter *rate.Limiter
}

// ActorView is the client-facing form of an Actor.
type ActorView struct {
	SeatID      int    `json:"seat_id"`
	DisplayName string `json:"display_name"`
	Ready       bool   `json:"ready"`
	Connected   bool   `json:"connected"`
	Host        bool   `json:"host"`
}

func (a *Actor) view() ActorView {
	return ActorView{
		SeatID:      a.SeatID,
		DisplayName: a.DisplayName,
		Ready:       a.Ready,
		Connected:   a.Connected,
		Host:        a.SeatID == 0,
	}
}

// Conn identifies one live connection and the logical session behind it.
// Session survives reconnects; ID does not.
type Conn struct {
	ID      string
	Session string
}

// FilterField names what a Filter is asked about.
type FilterField string

const (
	FieldRoomKey FilterField = "room_key"
	FieldName    FilterField = "display_name"
	FieldChat    FilterField = "chat"
)

// Filter is the moderation hook. Returning false rejects the value.
type Filter interface {
	Allow(field FilterField, value string) bool
}

type allowAll struct{}

func (allowAll) Allow(FilterField, string) bool { return true }

// Options configure a Server. Zero values fall back to defaults.
type Options struct {
	GracePeriod      time.Duration
	DefaultRounds    int
	MaxRounds        int
	ChatRate         rate.Limit
	ChatBurst        int
	DropDisabledChat bool

	Clock  clockwork.Clock
	Filter Filter
	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.DefaultRounds <= 0 {
		o.DefaultRounds = DefaultRounds
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}
	if o.DefaultRounds > o.MaxRounds {
		o.DefaultRounds = o.MaxRounds
	}
	if o.ChatRate <= 0 {
		o.ChatRate = rate.Inf
	}
	if o.ChatBurst <= 0 {
		o.ChatBurst = 5
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Filter == nil {
		o.Filter = allowAll{}
	}

	return o
}

func (o Options) normalize(s Settings) Settings {
	if s.Capacity < 0 {
		s.Capacity = 0
	}
	switch {
	case s.RoundCount <= 0:
		s.RoundCount = o.DefaultRounds
	case s.RoundCount > o.MaxRounds:
		s.RoundCount = o.MaxRounds
	}

	return s
}

func cleanName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || !utf8.ValidString(name) {
		return "", false
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		name = string([]rune(name)[:maxNameLen])
	}

	return name, true
}

func validKey(key string) bool {
	return key != "" && len(key) <= maxKeyLen && utf8.ValidString(key)
}
