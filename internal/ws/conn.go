package ws

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/christopherjohns/roomchat/internal/membership"
	"github.com/christopherjohns/roomchat/internal/protocol"
)

const (
	// sendBufferSize is the number of outbound messages that can be
	// queued for the write pump.
	sendBufferSize = 16

	// defaultEventBuffer is the capacity of the subscriber stream.
	defaultEventBuffer = 64

	// defaultWriteTimeout is the max time to wait for a single write.
	defaultWriteTimeout = 5 * time.Second
)

// TokenSource supplies the bearer token for connection establishment.
// The transport cannot carry custom headers at connect time, so the
// token rides as a query parameter.
type TokenSource interface {
	Token() (string, bool)
}

// DialFunc opens a websocket connection to the given URL. Overridable
// for tests.
type DialFunc func(ctx context.Context, u string) (*websocket.Conn, error)

func defaultDial(ctx context.Context, u string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, u, nil)
	return conn, err
}

// Manager owns the single active streaming connection. It connects,
// disconnects, and reconnects on room switch, parses inbound frames,
// keeps the membership tracker in sync, and exposes an event stream.
//
// Every connection attempt is stamped with a monotonically increasing
// generation. Pumps and callbacks carry the generation of the
// connection that produced them, and the manager discards anything
// whose generation is no longer current. A slow close of a superseded
// connection can therefore never corrupt state after a room switch.
type Manager struct {
	base     string
	username string
	tokens   TokenSource
	tracker  *membership.Tracker
	dial     DialFunc
	log      zerolog.Logger

	writeTimeout time.Duration
	events       chan Event

	mu     sync.Mutex
	gen    uint64
	state  State
	room   string
	conn   *websocket.Conn
	cancel context.CancelFunc
	send   chan []byte

	droppedEvents atomic.Int64
	staleEvents   atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialFunc replaces the websocket dialer. Used by tests.
func WithDialFunc(dial DialFunc) Option {
	return func(m *Manager) {
		m.dial = dial
	}
}

// WithEventBuffer sets the capacity of the event stream.
func WithEventBuffer(n int) Option {
	return func(m *Manager) {
		m.events = make(chan Event, n)
	}
}

// WithWriteTimeout sets the max time to wait for a single write.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.writeTimeout = d
	}
}

// WithLogger sets the logger for the manager.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// NewManager creates a Manager for the given identity. baseURL is the
// websocket origin, e.g. "ws://localhost:8000".
func NewManager(baseURL, username string, tokens TokenSource, tracker *membership.Tracker, opts ...Option) *Manager {
	m := &Manager{
		base:         baseURL,
		username:     username,
		tokens:       tokens,
		tracker:      tracker,
		dial:         defaultDial,
		log:          zerolog.Nop(),
		writeTimeout: defaultWriteTimeout,
		events:       make(chan Event, defaultEventBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the stream of inbound frames, synthetic notifications,
// and error reports. Events from one generation arrive in transport
// order; there is no ordering across a reconnect boundary.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Connect opens a connection scoped to (room, identity, credential).
// Any existing connection is superseded first: its generation becomes
// stale, its pumps are cancelled, and its transport close is issued
// asynchronously without waiting for acknowledgment. Correctness rests
// on generation filtering, not on teardown completion. The membership
// snapshot for the room being left is cleared synchronously.
func (m *Manager) Connect(ctx context.Context, room string) error {
	token, ok := m.tokens.Token()
	if !ok {
		return ErrNotAuthenticated
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.supersedeLocked("room switch")
	m.state = StateConnecting
	m.room = room
	m.tracker.SetRoom(room)
	m.mu.Unlock()

	m.log.Debug().Str("room", room).Uint64("gen", gen).Msg("ws: connecting")

	go m.open(ctx, gen, room, token)
	return nil
}

// Reconnect performs a deliberate full drop-and-reopen of the current
// room's connection. Not a resume: the server treats it as a fresh join.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	room := m.room
	m.mu.Unlock()
	if room == "" {
		return ErrNoRoom
	}
	return m.Connect(ctx, room)
}

// Close tears down the active connection, if any. The generation is
// bumped so late events from the closed connection are discarded.
func (m *Manager) Close() {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	hadConn := m.conn != nil
	m.supersedeLocked("client closed")
	m.state = StateDisconnected
	m.mu.Unlock()

	if hadConn {
		m.tracker.MarkUnavailable()
		m.emit(gen, Event{Type: EventSystem, Message: "connection closed"})
	}
}

// Send encodes text as an outbound frame and queues it for delivery.
// Valid only while Open: otherwise ErrNotConnected is returned and the
// message is neither sent nor queued. Empty-after-trim text fails with
// protocol.ErrEmptyMessage.
func (m *Manager) Send(text string) error {
	data, err := protocol.EncodeOutbound(text)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != StateOpen {
		m.mu.Unlock()
		return ErrNotConnected
	}
	send := m.send
	m.mu.Unlock()

	select {
	case send <- data:
		return nil
	default:
		m.log.Warn().Msg("ws: send buffer full")
		return ErrBackpressure
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Room returns the room of the current (or most recent) connection.
func (m *Manager) Room() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

// Stats returns point-in-time counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	state, room, gen := m.state, m.room, m.gen
	m.mu.Unlock()
	return Stats{
		State:         state,
		Room:          room,
		Generation:    gen,
		DroppedEvents: m.droppedEvents.Load(),
		StaleEvents:   m.staleEvents.Load(),
	}
}

// supersedeLocked abandons the current connection, if any. Must be
// called with mu held. The transport close runs in the background; the
// abandoned generation's events are filtered out regardless.
func (m *Manager) supersedeLocked(reason string) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		old := m.conn
		m.conn = nil
		m.send = nil
		m.state = StateClosing
		go old.Close(websocket.StatusNormalClosure, reason)
	}
}

// open dials the room's endpoint and, if this attempt is still the
// current generation, promotes the connection to Open and starts its
// pumps.
func (m *Manager) open(ctx context.Context, gen uint64, room, token string) {
	u := fmt.Sprintf("%s/ws/%s/%s?token=%s",
		m.base, url.PathEscape(room), url.PathEscape(m.username), url.QueryEscape(token))

	conn, err := m.dial(ctx, u)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.staleEvents.Add(1)
		if conn != nil {
			go conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return
	}
	if err != nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		m.log.Warn().Err(err).Str("room", room).Msg("ws: dial failed")
		m.emit(gen, Event{Type: EventSystem, Room: room, Message: "connection failed: " + err.Error()})
		return
	}

	connCtx, cancel := context.WithCancel(context.Background())
	m.conn = conn
	m.cancel = cancel
	m.send = make(chan []byte, sendBufferSize)
	m.state = StateOpen
	send := m.send
	m.mu.Unlock()

	m.log.Info().Str("room", room).Uint64("gen", gen).Msg("ws: open")
	m.emit(gen, Event{Type: EventSystem, Room: room, Message: "connected"})

	go m.writePump(connCtx, gen, conn, send)
	go m.readPump(connCtx, gen, conn)
}

// readPump reads frames until the connection closes or is superseded.
func (m *Manager) readPump(ctx context.Context, gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.dispatch(gen, data)
	}
}

// dispatch parses one inbound frame and routes it. Frames from a
// superseded generation are counted and dropped. Malformed payloads
// become error events and the connection stays alive.
func (m *Manager) dispatch(gen uint64, data []byte) {
	f, err := protocol.DecodeInbound(data)

	// The generation check and the tracker update share one critical
	// section. A same-room reconnect bumps the generation but not the
	// room name, so the tracker's room guard alone cannot reject a
	// frame from the superseded connection.
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.staleEvents.Add(1)
		return
	}
	room := m.room
	if err == nil && f.Type == protocol.TypeSystem && f.Users != nil {
		m.tracker.Apply(room, f.Users)
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Warn().Err(err).Msg("ws: unparseable frame")
		m.emit(gen, Event{Type: EventError, Room: room, Message: err.Error()})
		return
	}
	m.emit(gen, eventFromFrame(f, room))
}

// handleClose reacts to the transport closing underneath the current
// generation. A close from a superseded generation is ignored: the
// room switch that superseded it already reset the state.
func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.staleEvents.Add(1)
		return
	}
	m.state = StateDisconnected
	m.conn = nil
	m.send = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	room := m.room
	m.mu.Unlock()

	// The user list is now unknown, which is not the same as empty.
	m.tracker.MarkUnavailable()

	if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
		m.log.Warn().Err(err).Str("room", room).Msg("ws: connection error")
		m.emit(gen, Event{Type: EventError, Room: room, Message: "connection error: " + err.Error()})
	}
	m.emit(gen, Event{Type: EventSystem, Room: room, Message: "connection closed"})
}

// writePump drains the send channel, writing each message with a
// deadline. It exits when the connection context is cancelled or a
// write fails; the read pump surfaces the resulting close.
func (m *Manager) writePump(ctx context.Context, gen uint64, conn *websocket.Conn, send chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-send:
			writeCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				m.log.Warn().Err(err).Uint64("gen", gen).Msg("ws: write failed")
				return
			}
		}
	}
}

// emit stamps and delivers an event unless its generation went stale.
// A full subscriber buffer drops the event rather than blocking the
// read pump.
func (m *Manager) emit(gen uint64, ev Event) {
	m.mu.Lock()
	current := m.gen
	m.mu.Unlock()
	if gen != current {
		m.staleEvents.Add(1)
		return
	}

	ev.ID = uuid.NewString()
	ev.CreatedAt = time.Now()

	select {
	case m.events <- ev:
	default:
		m.droppedEvents.Add(1)
		m.log.Warn().Str("type", string(ev.Type)).Msg("ws: event buffer full, dropping")
	}
}
