package relay

import "errors"

var (
	ErrDuplicateKey     = errors.New("room key is already in use")
	ErrInvalidKey       = errors.New("invalid room key")
	ErrGameStarted      = errors.New("game has already started")
	ErrAtCapacity       = errors.New("room has reached full capacity")
	ErrNeedsPassphrase  = errors.New("room requires a passphrase")
	ErrWrongPassphrase  = errors.New("wrong passphrase")
	ErrInvalidName      = errors.New("invalid display name")
	ErrAlreadyInRoom    = errors.New("already in a room")
	ErrNotInRoom        = errors.New("not in a room")
	ErrUnknownSeat      = errors.New("seat not found")
	ErrNotHost          = errors.New("only the host may do that")
	ErrInvalidTarget    = errors.New("invalid moderation target")
	ErrNotPlaying       = errors.New("no game in progress")
	ErrWrongRound       = errors.New("submission is for another round")
	ErrWrongKind        = errors.New("wrong content kind for this round")
	ErrAlreadySubmitted = errors.New("already submitted this round")
	ErrChatDisabled     = errors.New("chat is disabled in this room")
	ErrChatThrottled    = errors.New("sending messages too quickly")
	ErrRejected         = errors.New("rejected by content filter")
	ErrNoTally          = errors.New("voting is not open")
	ErrVoteOutOfRange   = errors.New("no such contribution")
	ErrBadMessage       = errors.New("malformed message")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrDuplicateKey, "in-use"},
	{ErrInvalidKey, "not-found"},
	{ErrGameStarted, "game-started"},
	{ErrAtCapacity, "at-capacity"},
	{ErrNeedsPassphrase, "auth"},
	{ErrWrongPassphrase, "wrong-passphrase"},
	{ErrInvalidName, "invalid-name"},
	{ErrAlreadyInRoom, "already-in-room"},
	{ErrNotInRoom, "not-in-room"},
	{ErrUnknownSeat, "unknown-seat"},
	{ErrNotHost, "not-host"},
	{ErrInvalidTarget, "invalid-target"},
	{ErrNotPlaying, "not-playing"},
	{ErrWrongRound, "wrong-round"},
	{ErrWrongKind, "wrong-kind"},
	{ErrAlreadySubmitted, "already-submitted"},
	{ErrChatDisabled, "chat-disabled"},
	{ErrChatThrottled, "throttled"},
	{ErrRejected, "rejected"},
	{ErrNoTally, "no-tally"},
	{ErrVoteOutOfRange, "out-of-range"},
	{ErrBadMessage, "bad-message"},
}

// Code maps an error returned by this package to the stable code sent to clients.
func Code(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}

	return "internal"
}
