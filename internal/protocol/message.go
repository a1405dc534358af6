// Package protocol defines the websocket wire protocol of the sketch server:
// a closed set of JSON message variants discriminated by a numeric type tag,
// plus the application close codes.
//
// Decoding validates structure only (tag recognized, fields present with the
// right primitive types). Semantic checks such as stroke shape or phase
// legality belong to the connection handler.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage indicates a frame that is not well-formed JSON, lacks a
// recognized numeric type tag, or carries fields of the wrong type.
var ErrMalformedMessage = errors.New("malformed message")

// Type discriminates the message variants on the wire. The numeric values are
// the wire format and must not be reordered.
type Type int

const (
	TypeEnterRoom Type = iota
	TypeRoomEntered
	TypeNewUser
	TypeUserLeft
	TypeText
	TypeNextPath
	TypeUndoPath
	TypeClearSketching
	TypeCompleteSketching
	TypeNextSketcher
)

// String returns the variant name for logging.
func (t Type) String() string {
	switch t {
	case TypeEnterRoom:
		return "EnterRoom"
	case TypeRoomEntered:
		return "RoomEntered"
	case TypeNewUser:
		return "NewUser"
	case TypeUserLeft:
		return "UserLeft"
	case TypeText:
		return "Text"
	case TypeNextPath:
		return "NextPath"
	case TypeUndoPath:
		return "UndoPath"
	case TypeClearSketching:
		return "ClearSketching"
	case TypeCompleteSketching:
		return "CompleteSketching"
	case TypeNextSketcher:
		return "NextSketcher"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Path is one continuous stroke: an ordered sequence of 2D points. The server
// stores and relays paths but never interprets them geometrically.
type Path [][]float64

// Validate checks that the path is a non-empty sequence of 2-element
// coordinate pairs.
//
// Postcondition: Returns nil iff len(p) > 0 and every point has exactly two coordinates.
func (p Path) Validate() error {
	if len(p) == 0 {
		return errors.New("path must contain at least one point")
	}
	for i, point := range p {
		if len(point) != 2 {
			return fmt.Errorf("path point %d has %d coordinates, want 2", i, len(point))
		}
	}
	return nil
}

// Message is the closed union of wire messages. Exactly the types in this
// package implement it.
type Message interface {
	Type() Type
}

// EnterRoom is sent by a client to join a room under a nickname.
type EnterRoom struct {
	RoomID   string `json:"roomId"`
	Nickname string `json:"nickname"`
}

func (EnterRoom) Type() Type { return TypeEnterRoom }

// RoomEntered is the join snapshot sent to a client that entered a room. It
// carries the current membership and, if a round is active, the sketcher and
// the strokes drawn so far. The guess word is never part of this snapshot.
type RoomEntered struct {
	Nicknames        []string `json:"nicknames"`
	CurrentSketcher  string   `json:"currentSketcher,omitempty"`
	CurrentSketching []Path   `json:"currentSketching,omitempty"`
}

func (RoomEntered) Type() Type { return TypeRoomEntered }

// NewUser announces a member who joined, to everyone already in the room.
type NewUser struct {
	Nickname string `json:"nickname"`
}

func (NewUser) Type() Type { return TypeNewUser }

// UserLeft announces a member who left, to the remaining members.
type UserLeft struct {
	Nickname string `json:"nickname"`
}

func (UserLeft) Type() Type { return TypeUserLeft }

// Text is a chat message from a guesser. Accepted but not interpreted yet.
type Text struct {
	Text string `json:"text"`
}

func (Text) Type() Type { return TypeText }

// NextPath carries one stroke from the sketcher, relayed to every other member.
type NextPath struct {
	NextPath Path `json:"nextPath"`
}

func (NextPath) Type() Type { return TypeNextPath }

// UndoPath removes the most recent stroke of the current sketching.
type UndoPath struct{}

func (UndoPath) Type() Type { return TypeUndoPath }

// ClearSketching resets the current sketching to start over.
type ClearSketching struct{}

func (ClearSketching) Type() Type { return TypeClearSketching }

// CompleteSketching ends a round. The sketcher sends it with the nickname of
// the member who guessed right, or null if nobody did. The server attaches
// the guess word before broadcasting; clients never supply it.
type CompleteSketching struct {
	RightGuessByNickname *string `json:"rightGuessByNickname"`
	GuessWord            string  `json:"guessWord,omitempty"`
}

func (CompleteSketching) Type() Type { return TypeCompleteSketching }

// NextSketcher announces the member selected to sketch. Only the copy sent to
// the sketcher carries the guess word; every other member receives the
// nickname alone. This is how the word stays secret from guessers.
type NextSketcher struct {
	Nickname  string `json:"nickname"`
	GuessWord string `json:"guessWord,omitempty"`
}

func (NextSketcher) Type() Type { return TypeNextSketcher }

// Decode parses one wire frame into a Message.
//
// Postcondition: Returns a concrete message variant, or an error wrapping
// ErrMalformedMessage if the frame is not valid JSON, lacks a recognized
// numeric type tag, or has fields of the wrong type.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type *int `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if envelope.Type == nil {
		return nil, fmt.Errorf("%w: missing type tag", ErrMalformedMessage)
	}

	tag := Type(*envelope.Type)
	var (
		msg Message
		err error
	)
	switch tag {
	case TypeEnterRoom:
		msg, err = decodeAs[EnterRoom](data)
	case TypeRoomEntered:
		msg, err = decodeAs[RoomEntered](data)
	case TypeNewUser:
		msg, err = decodeAs[NewUser](data)
	case TypeUserLeft:
		msg, err = decodeAs[UserLeft](data)
	case TypeText:
		msg, err = decodeAs[Text](data)
	case TypeNextPath:
		msg, err = decodeAs[NextPath](data)
	case TypeUndoPath:
		msg, err = decodeAs[UndoPath](data)
	case TypeClearSketching:
		msg, err = decodeAs[ClearSketching](data)
	case TypeCompleteSketching:
		msg, err = decodeAs[CompleteSketching](data)
	case TypeNextSketcher:
		msg, err = decodeAs[NextSketcher](data)
	default:
		return nil, fmt.Errorf("%w: unknown type tag %d", ErrMalformedMessage, *envelope.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrMalformedMessage, tag, err)
	}
	return msg, nil
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode serializes a Message into one wire frame, injecting the numeric
// type tag.
//
// Postcondition: Returns JSON bytes such that Decode(Encode(m)) yields a
// message equal to m. Encode has no side effects.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Type(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Type(), err)
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	tag, err := json.Marshal(int(m.Type()))
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Type(), err)
	}
	fields["type"] = tag

	return json.Marshal(fields)
}
