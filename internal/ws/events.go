package ws

import (
	"errors"
	"time"

	"github.com/christopherjohns/roomchat/internal/protocol"
)

// State is the lifecycle phase of the single active connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// EventType classifies events on the manager's stream.
type EventType string

const (
	// EventSystem covers server system frames and the manager's own
	// synthetic notifications (connected, connection closed).
	EventSystem EventType = "system"
	// EventChat is a user message relayed by the server.
	EventChat EventType = "chat"
	// EventError reports a malformed inbound frame or transport error.
	// The connection stays alive unless a close event follows.
	EventError EventType = "error"
)

// Event is one item surfaced to subscribers. Users is non-nil only for
// system events that also updated the membership snapshot.
type Event struct {
	ID        string
	Type      EventType
	Room      string
	Sender    string
	Message   string
	Users     []string
	CreatedAt time.Time
}

// ErrNotConnected is returned by Send when the connection is not Open.
// The message is not queued; the caller decides what to do with it.
var ErrNotConnected = errors.New("not connected")

// ErrBackpressure is returned by Send when the outbound buffer is full.
var ErrBackpressure = errors.New("send buffer full")

// ErrNotAuthenticated is returned by Connect when no credential is held.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrNoRoom is returned by Reconnect before any room was ever joined.
var ErrNoRoom = errors.New("no room to reconnect to")

// Stats holds point-in-time counters for the manager.
type Stats struct {
	State         State
	Room          string
	Generation    uint64
	DroppedEvents int64
	StaleEvents   int64
}

func eventFromFrame(f protocol.Inbound, room string) Event {
	return Event{
		Type:    EventType(f.Type),
		Room:    room,
		Sender:  f.Sender,
		Message: f.Message,
		Users:   f.Users,
	}
}
