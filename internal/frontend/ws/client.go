package ws

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/marvindv/group-sketch/internal/config"
	"github.com/marvindv/group-sketch/internal/game/room"
	"github.com/marvindv/group-sketch/internal/protocol"
)

// Phase is the protocol state of one connection.
type Phase int

const (
	// PhaseAwaitingRoom is the initial state: the only message accepted is
	// EnterRoom.
	PhaseAwaitingRoom Phase = iota
	// PhaseGuesser is a room member who is not sketching.
	PhaseGuesser
	// PhaseSketcher is the single member currently authorized to draw and
	// to declare round completion.
	PhaseSketcher
)

// String returns the phase name for logging.
func (p Phase) String() string {
	switch p {
	case PhaseAwaitingRoom:
		return "AwaitingRoom"
	case PhaseGuesser:
		return "Guesser"
	case PhaseSketcher:
		return "Sketcher"
	default:
		return "Unknown"
	}
}

// Client runs the protocol state machine for one connection. It decodes
// inbound frames, rejects what is invalid for the current phase, and
// delegates room mutations to the joined Room.
//
// Client implements room.Member. The room reference it holds after a join is
// non-owning: the Room owns the membership list, the Client only remembers
// which room to notify on disconnect.
type Client struct {
	id           string
	logger       *zap.Logger
	transport    Transport
	registry     *room.Registry
	limiter      *rate.Limiter
	pingInterval time.Duration

	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	phase    Phase
	nickname string
	room     *room.Room
}

// NewClient creates the state machine for one accepted connection.
//
// Precondition: transport, registry, and logger must be non-nil; cfg must be validated.
// Postcondition: Returns a Client in PhaseAwaitingRoom, ready for Run.
func NewClient(transport Transport, registry *room.Registry, cfg config.WebsocketConfig, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:           id,
		logger:       logger.With(zap.String("conn", id)),
		transport:    transport,
		registry:     registry,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		pingInterval: cfg.PingInterval,
		outbox:       make(chan []byte, cfg.SendBuffer),
		done:         make(chan struct{}),
		phase:        PhaseAwaitingRoom,
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// Nickname returns the nickname bound at join time, or "" before a join.
func (c *Client) Nickname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nickname
}

// Phase returns the current protocol phase.
func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// SetSketcher promotes or demotes the connection as the room's rotation
// assigns the sketcher role. Called by the Room under its lock.
func (c *Client) SetSketcher(sketching bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sketching {
		c.phase = PhaseSketcher
	} else {
		c.phase = PhaseGuesser
	}
}

// Send encodes and enqueues one message for delivery. It never blocks: when
// the outbound buffer is full the message is dropped with an error, and the
// peer is expected to surface as a close event shortly after.
func (c *Client) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}

	select {
	case c.outbox <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Shutdown closes the transport, unblocking Run.
func (c *Client) Shutdown() {
	c.transport.Close()
}

// Run services the connection until the peer disconnects or a fatal protocol
// error closes it. It blocks; the caller runs it in its own goroutine.
//
// Postcondition: The connection is closed and, if it had joined a room, the
// membership is removed.
func (c *Client) Run() {
	go c.writePump()
	c.readLoop()
	c.teardown()
}

// teardown releases the connection resources. Idempotent, so a protocol
// close followed by the read loop exiting is harmless.
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.transport.Close()

		c.mu.Lock()
		joined := c.room
		c.room = nil
		c.mu.Unlock()

		if joined != nil {
			joined.RemoveMember(c)
		}
		c.logger.Debug("connection torn down")
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.outbox:
			if err := c.transport.WriteMessage(data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.transport.Close()
				return
			}
		case <-ticker.C:
			if err := c.transport.Ping(); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				c.transport.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readLoop() {
	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			c.logger.Debug("connection closed", zap.Error(err))
			return
		}

		if !c.limiter.Allow() {
			c.logger.Warn("dropping message, rate limit exceeded")
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Before a join the only acceptable frame is a well-formed
			// EnterRoom; garbage here is fatal. After a join a malformed
			// frame is tolerated like any other protocol violation.
			if c.Phase() == PhaseAwaitingRoom {
				c.logger.Warn("malformed message while awaiting room", zap.Error(err))
				c.closeWith(protocol.CloseInvalidPayload, "malformed message")
				return
			}
			c.logger.Warn("dropping malformed message", zap.Error(err))
			continue
		}

		if closed := c.dispatch(msg); closed {
			return
		}
	}
}

// dispatch routes one decoded message to its handler, enforcing phase
// legality. It reports whether the connection was closed.
func (c *Client) dispatch(msg protocol.Message) bool {
	switch m := msg.(type) {
	case protocol.EnterRoom:
		return c.handleEnterRoom(m)

	case protocol.NextPath:
		rm, ok := c.sketcherRoom(msg)
		if !ok {
			return false
		}
		if err := m.NextPath.Validate(); err != nil {
			c.logger.Warn("dropping invalid path", zap.Error(err))
			return false
		}
		rm.BroadcastPath(c, m.NextPath)

	case protocol.UndoPath:
		if rm, ok := c.sketcherRoom(msg); ok {
			rm.UndoPath()
		}

	case protocol.ClearSketching:
		if rm, ok := c.sketcherRoom(msg); ok {
			rm.ClearSketching()
		}

	case protocol.CompleteSketching:
		if rm, ok := c.sketcherRoom(msg); ok {
			rm.CompleteSketching(m)
		}

	case protocol.Text:
		if c.Phase() != PhaseGuesser {
			c.logViolation(msg)
			return false
		}
		// Accepted but not interpreted. Guess evaluation is driven by the
		// sketcher's CompleteSketching, not by server-side text matching.

	default:
		// Server-to-client variants have no legal phase on the inbound side.
		c.logViolation(msg)
	}
	return false
}

// sketcherRoom returns the joined room when the connection is in the
// Sketcher phase; otherwise it logs the violation and reports false.
func (c *Client) sketcherRoom(msg protocol.Message) (*room.Room, bool) {
	c.mu.Lock()
	phase := c.phase
	rm := c.room
	c.mu.Unlock()

	if phase != PhaseSketcher || rm == nil {
		c.logViolation(msg)
		return nil, false
	}
	return rm, true
}

func (c *Client) handleEnterRoom(m protocol.EnterRoom) bool {
	if c.Phase() != PhaseAwaitingRoom {
		c.logViolation(m)
		return false
	}

	roomID := strings.TrimSpace(m.RoomID)
	nickname := strings.TrimSpace(m.Nickname)
	if roomID == "" || nickname == "" {
		c.logger.Warn("rejecting join with blank room id or nickname")
		c.closeWith(protocol.CloseInvalidPayload, "room id and nickname must be non-empty")
		return true
	}

	rm, err := c.registry.Get(roomID)
	if err != nil {
		c.logger.Warn("rejecting join for unknown room", zap.String("room", roomID))
		c.closeWith(protocol.CloseRoomNotFound, "room not found")
		return true
	}

	// Bind nickname and phase before joining: the room may promote this
	// member to sketcher within AddMember.
	c.mu.Lock()
	c.nickname = nickname
	c.phase = PhaseGuesser
	c.mu.Unlock()

	if err := rm.AddMember(c); err != nil {
		c.mu.Lock()
		c.nickname = ""
		c.phase = PhaseAwaitingRoom
		c.mu.Unlock()
		c.logger.Warn("rejecting join, nickname in use",
			zap.String("room", roomID),
			zap.String("nickname", nickname),
		)
		c.closeWith(protocol.CloseNicknameInUse, "nickname already in use")
		return true
	}

	c.mu.Lock()
	c.room = rm
	c.mu.Unlock()

	c.logger.Info("joined room",
		zap.String("room", roomID),
		zap.String("nickname", nickname),
	)
	return false
}

func (c *Client) logViolation(msg protocol.Message) {
	c.logger.Warn("dropping message invalid for phase",
		zap.Stringer("message_type", msg.Type()),
		zap.Stringer("phase", c.Phase()),
	)
}

func (c *Client) closeWith(code protocol.CloseCode, reason string) {
	c.logger.Info("closing connection",
		zap.Stringer("code", code),
		zap.String("reason", reason),
	)
	c.transport.CloseWithCode(code, reason)
	c.teardown()
}
