package relay

import (
	"encoding/json"
	"fmt"
)

// Client message types.
const (
	TypeCreateRoom       = "create-room"
	TypeJoinRoom         = "join-room"
	TypeAuthenticateRoom = "authenticate-room"
	TypeLeaveRoom        = "leave-room"
	TypeSetReady         = "set-ready"
	TypeSendChat         = "send-chat"
	TypeModerate         = "moderate"
	TypeSubmitContent    = "submit-content"
	TypeCastVote         = "cast-vote"
)

// Server message types.
const (
	TypeJoined       = "joined"
	TypeAuthRequired = "auth-required"
	TypeError        = "error"
	TypeLeft         = "left"
	TypeReady        = "ready"
	TypeMembership   = "membership-update"
	TypeKicked       = "kicked"
	TypeRoomClosed   = "room-closed"
	TypeChat         = "chat"
	TypeSubmitted    = "submitted"
	TypeSubmitAck    = "submit-ack"
	TypeRound        = "round-update"
	TypeVote         = "vote-update"
	TypeResumed      = "resumed"
)

// ClientMessage is one of the request types below. The set is closed.
type ClientMessage interface {
	clientMessage()
}

type CreateRoomRequest struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"display_name"`
	Settings    Settings `json:"settings"`
}

type JoinRoomRequest struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
}

type AuthenticateRoomRequest struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
	Passphrase  string `json:"passphrase"`
}

type LeaveRoomRequest struct {
	Key    string `json:"key"`
	SeatID int    `json:"seat_id"`
}

type SetReadyRequest struct {
	SeatID int  `json:"seat_id"`
	Ready  bool `json:"ready"`
}

type SendChatRequest struct {
	SeatID int    `json:"seat_id"`
	Text   string `json:"text"`
}

type ModerateRequest struct {
	RequestingSeatID int `json:"requesting_seat_id"`
	TargetSeatID     int `json:"target_seat_id"`
}

type SubmitContentRequest struct {
	SeatID  int     `json:"seat_id"`
	Round   int     `json:"round"`
	Content Content `json:"content"`
}

type CastVoteRequest struct {
	PaperIndex        int  `json:"paper_index"`
	ContributionIndex int  `json:"contribution_index"`
	Like              bool `json:"like"`
}

func (CreateRoomRequest) clientMessage()       {}
func (JoinRoomRequest) clientMessage()         {}
func (AuthenticateRoomRequest) clientMessage() {}
func (LeaveRoomRequest) clientMessage()        {}
func (SetReadyRequest) clientMessage()         {}
func (SendChatRequest) clientMessage()         {}
func (ModerateRequest) clientMessage()         {}
func (SubmitContentRequest) clientMessage()    {}
func (CastVoteRequest) clientMessage()         {}

// Decode parses a {"type": ...} envelope into its request type.
func Decode(data []byte) (ClientMessage, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	var msg ClientMessage
	var err error
	switch env.Type {
	case TypeCreateRoom:
		msg, err = decodeAs[CreateRoomRequest](data)
	case TypeJoinRoom:
		msg, err = decodeAs[JoinRoomRequest](data)
	case TypeAuthenticateRoom:
		msg, err = decodeAs[AuthenticateRoomRequest](data)
	case TypeLeaveRoom:
		msg, err = decodeAs[LeaveRoomRequest](data)
	case TypeSetReady:
		msg, err = decodeAs[SetReadyRequest](data)
	case TypeSendChat:
		msg, err = decodeAs[SendChatRequest](data)
	case TypeModerate:
		msg, err = decodeAs[ModerateRequest](data)
	case TypeSubmitContent:
		msg, err = decodeAs[SubmitContentRequest](data)
	case TypeCastVote:
		msg, err = decodeAs[CastVoteRequest](data)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrBadMessage, env.Type)
	}
	if err != nil {
		return nil, err
	}

	return msg, nil
}

func decodeAs[T ClientMessage](data []byte) (ClientMessage, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	return v, nil
}

// ServerMessage is any message the server sends. The set is closed.
type ServerMessage interface {
	serverMessage()
}

// JoinedMessage confirms a create or join to the requester.
type JoinedMessage struct {
	Type   string `json:"type"` // "joined"
	Key    string `json:"key"`
	SeatID int    `json:"seat_id"`
	Host   bool   `json:"host"`
}

// AuthRequiredMessage is the first step of the passphrase handshake.
type AuthRequiredMessage struct {
	Type    string `json:"type"` // "auth-required"
	Key     string `json:"key"`
	Message string `json:"message"`
}

// ErrorMessage goes only to the connection whose request failed.
type ErrorMessage struct {
	Type    string `json:"type"`    // "error"
	Request string `json:"request"` // request type that failed
	Code    string `json:"code"`
	Message string `json:"message"`
}

type LeftMessage struct {
	Type string `json:"type"` // "left"
	Key  string `json:"key"`
}

// ReadyMessage answers set-ready with the requester's new flag.
type ReadyMessage struct {
	Type  string `json:"type"` // "ready"
	Ready bool   `json:"ready"`
}

// MembershipMessage carries the full actor list. You is the recipient's own seat.
type MembershipMessage struct {
	Type         string      `json:"type"`   // "membership-update"
	Status       string      `json:"status"` // "ok" or "start"
	Key          string      `json:"key"`
	You          int         `json:"you"`
	Round        int         `json:"round"`
	Notice       string      `json:"notice,omitempty"`
	Actors       []ActorView `json:"actors"`
	ChatDisabled bool        `json:"chat_disabled,omitempty"`
}

type KickedMessage struct {
	Type    string `json:"type"` // "kicked"
	Key     string `json:"key"`
	Message string `json:"message"`
}

type RoomClosedMessage struct {
	Type    string `json:"type"` // "room-closed"
	Key     string `json:"key"`
	Message string `json:"message"`
}

type ChatMessage struct {
	Type   string `json:"type"` // "chat"
	SeatID int    `json:"seat_id"`
	Author string `json:"author"`
	Text   string `json:"text"`
}

// SubmittedMessage tells the rest of the room a seat is done, without content.
type SubmittedMessage struct {
	Type   string      `json:"type"` // "submitted"
	SeatID int         `json:"seat_id"`
	Round  int         `json:"round"`
	Actors []ActorView `json:"actors"`
}

type SubmitAckMessage struct {
	Type  string `json:"type"` // "submit-ack"
	Round int    `json:"round"`
}

// RoundMessage starts a round, with the paper the recipient must continue,
// or ends the game (Round == -1) with every paper in owner order.
type RoundMessage struct {
	Type   string  `json:"type"` // "round-update"
	Round  int     `json:"round"`
	Rounds int     `json:"rounds"`
	Expect Kind    `json:"expect,omitempty"`
	Paper  *Paper  `json:"paper,omitempty"`
	Papers []Paper `json:"papers,omitempty"`
}

type VoteMessage struct {
	Type              string `json:"type"` // "vote-update"
	PaperIndex        int    `json:"paper_index"`
	ContributionIndex int    `json:"contribution_index"`
	Count             int    `json:"count"`
}

// ResumedMessage lets a reconnecting client re-render without history.
type ResumedMessage struct {
	Type      string  `json:"type"` // "resumed"
	Key       string  `json:"key"`
	SeatID    int     `json:"seat_id"`
	Round     int     `json:"round"`
	Submitted bool    `json:"submitted"`
	Paper     *Paper  `json:"paper,omitempty"`
	Papers    []Paper `json:"papers,omitempty"`
	Votes     [][]int `json:"votes,omitempty"`
}

func (JoinedMessage) serverMessage()       {}
func (AuthRequiredMessage) serverMessage() {}
func (ErrorMessage) serverMessage()        {}
func (LeftMessage) serverMessage()         {}
func (ReadyMessage) serverMessage()        {}
func (MembershipMessage) serverMessage()   {}
func (KickedMessage) serverMessage()       {}
func (RoomClosedMessage) serverMessage()   {}
func (ChatMessage) serverMessage()         {}
func (SubmittedMessage) serverMessage()    {}
func (SubmitAckMessage) serverMessage()    {}
func (RoundMessage) serverMessage()        {}
func (VoteMessage) serverMessage()         {}
func (ResumedMessage) serverMessage()      {}

// Outbox delivers messages to connections. Send must not block.
type Outbox interface {
	Send(connID string, msg ServerMessage)
}
