package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type represents the kind of inbound frame.
type Type string

const (
	TypeSystem Type = "system"
	TypeChat   Type = "chat"
)

// ErrEmptyMessage is returned when an outbound message is empty after
// trimming. Callers should suppress the send rather than surface this
// to the end user.
var ErrEmptyMessage = errors.New("empty message")

// ErrMalformedFrame is returned when an inbound payload is not valid
// JSON or does not match any recognized frame shape.
var ErrMalformedFrame = errors.New("malformed frame")

// Inbound is one parsed frame received over the streaming connection.
// Users is non-nil only when the frame carried a user list; a nil slice
// means the frame did not update membership.
type Inbound struct {
	Type    Type
	Sender  string
	Message string
	Users   []string
}

// outbound is the only client-to-server payload shape. Identity and
// room are carried by the connection address, not the payload.
type outbound struct {
	Message string `json:"message"`
}

// inboundWire mirrors the server's JSON. Users is a pointer so that an
// absent key is distinguishable from an empty list.
type inboundWire struct {
	Type    string    `json:"type"`
	Sender  string    `json:"sender"`
	Message string    `json:"message"`
	Users   *[]string `json:"users"`
}

// EncodeOutbound wraps trimmed user text in the outbound frame shape.
func EncodeOutbound(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	return json.Marshal(outbound{Message: text})
}

// DecodeInbound parses raw bytes into an Inbound frame. Unrecognized
// shapes fail with ErrMalformedFrame; the caller decides whether the
// connection survives (it should).
func DecodeInbound(data []byte) (Inbound, error) {
	var w inboundWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch w.Type {
	case string(TypeSystem):
		if w.Message == "" {
			return Inbound{}, fmt.Errorf("%w: system frame without message", ErrMalformedFrame)
		}
		f := Inbound{Type: TypeSystem, Message: w.Message}
		if w.Users != nil {
			f.Users = *w.Users
			if f.Users == nil {
				f.Users = []string{}
			}
		}
		return f, nil
	case string(TypeChat), "":
		// The server tags chat frames explicitly, but older builds
		// relied on the sender/message shape alone.
		if w.Sender == "" || w.Message == "" {
			return Inbound{}, fmt.Errorf("%w: chat frame missing sender or message", ErrMalformedFrame)
		}
		return Inbound{Type: TypeChat, Sender: w.Sender, Message: w.Message}, nil
	default:
		return Inbound{}, fmt.Errorf("%w: unknown frame type %q", ErrMalformedFrame, w.Type)
	}
}
