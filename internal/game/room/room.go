// Package room implements the session engine: room membership, broadcast
// fan-out, turn rotation, and guess-word state for one sketching session.
package room

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/marvindv/group-sketch/internal/game/words"
	"github.com/marvindv/group-sketch/internal/protocol"
)

// ErrNicknameInUse reports a join attempt with a nickname already taken in
// the target room.
var ErrNicknameInUse = errors.New("nickname already in use")

// Member is the room's view of a connected client. Send must be
// fire-and-forget: enqueue and return, never block on a slow peer. A send
// failure is surfaced as an error so the room can log it; the transport layer
// is responsible for tearing the connection down afterwards.
type Member interface {
	// ID is a stable connection identifier, unique per connection.
	ID() string
	// Nickname is the trimmed nickname bound at join time.
	Nickname() string
	// Send enqueues one message for delivery to this member.
	Send(msg protocol.Message) error
	// SetSketcher flips the member's protocol phase between Sketcher and
	// Guesser as rotation promotes and demotes it.
	SetSketcher(sketching bool)
}

// Room owns the membership, turn rotation, word pool, and in-progress
// sketching of one game session. All mutating methods serialize on an
// internal lock, so no two operations on the same room overlap.
//
// Invariant: currentSketcher, currentGuessWord, and currentSketching are
// either all set (round active) or all unset.
// Invariant: nicknames are unique among members at any instant.
type Room struct {
	id     string
	logger *zap.Logger

	mu sync.Mutex
	// members in join order; join order drives rotation fairness.
	members []Member
	// recentSketchers holds connection ids that have sketched since the
	// rotation was last reset.
	recentSketchers map[string]struct{}

	currentSketcher  Member
	currentGuessWord string
	// currentSketching is nil when no round is active and non-nil (possibly
	// empty) while one is.
	currentSketching []protocol.Path

	pool *words.Pool
}

// New creates an empty room.
//
// Precondition: id must be non-empty; pool and logger must be non-nil.
func New(id string, pool *words.Pool, logger *zap.Logger) *Room {
	return &Room{
		id:              id,
		logger:          logger.With(zap.String("room", id)),
		recentSketchers: make(map[string]struct{}),
		pool:            pool,
	}
}

// ID returns the registry key of this room.
func (r *Room) ID() string {
	return r.id
}

// AddMember joins a new member to the room. The member first receives a
// RoomEntered snapshot (membership, current sketcher, and strokes drawn so
// far, letting it reconstruct an in-progress round), then everyone already
// present is told about the newcomer. If no round is active, joining may
// start one.
//
// Precondition: m.Nickname() must be non-empty and already trimmed.
// Postcondition: m is a member, or ErrNicknameInUse and the room is unchanged.
func (r *Room) AddMember(m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasMemberLocked(m.Nickname()) {
		return ErrNicknameInUse
	}

	snapshot := protocol.RoomEntered{
		Nicknames:        r.nicknamesLocked(),
		CurrentSketching: append([]protocol.Path(nil), r.currentSketching...),
	}
	if r.currentSketcher != nil {
		snapshot.CurrentSketcher = r.currentSketcher.Nickname()
	}
	r.send(m, snapshot)

	r.broadcastLocked(protocol.NewUser{Nickname: m.Nickname()}, nil)

	r.members = append(r.members, m)
	r.logger.Info("member joined",
		zap.String("nickname", m.Nickname()),
		zap.Int("members", len(r.members)),
	)

	if r.currentSketcher == nil {
		r.selectNextSketcherLocked()
	}
	return nil
}

// RemoveMember removes a member from the room. A no-op if the member is not
// present, so double-close of a connection is harmless. If the member was the
// current sketcher the round is abandoned (no CompleteSketching is
// synthesized) and a new one starts when enough members remain.
//
// Postcondition: m is not a member.
func (r *Room) RemoveMember(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, existing := range r.members {
		if existing.ID() == m.ID() {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	r.members = append(r.members[:idx], r.members[idx+1:]...)
	r.broadcastLocked(protocol.UserLeft{Nickname: m.Nickname()}, nil)
	r.logger.Info("member left",
		zap.String("nickname", m.Nickname()),
		zap.Int("members", len(r.members)),
	)

	if r.currentSketcher != nil && r.currentSketcher.ID() == m.ID() {
		r.clearRoundLocked()
		r.selectNextSketcherLocked()
	}
}

// HasMember reports whether a member with the given nickname is present.
// The nickname is trimmed before comparison.
func (r *Room) HasMember(nickname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMemberLocked(strings.TrimSpace(nickname))
}

// MemberCount returns the number of joined members.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Nicknames returns the member nicknames in join order.
func (r *Room) Nicknames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nicknamesLocked()
}

// CurrentSketcherNickname returns the nickname of the active sketcher, or
// "" when no round is active.
func (r *Room) CurrentSketcherNickname() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentSketcher == nil {
		return ""
	}
	return r.currentSketcher.Nickname()
}

// BroadcastPath appends a stroke to the current sketching and relays it to
// every member except the source.
//
// Precondition: path has been validated by the caller.
func (r *Room) BroadcastPath(source Member, path protocol.Path) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentSketching != nil {
		r.currentSketching = append(r.currentSketching, path)
	}
	r.broadcastLocked(protocol.NextPath{NextPath: path}, source)
}

// UndoPath removes the most recent stroke and tells every member, the
// sketcher included, to do the same.
func (r *Room) UndoPath() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.currentSketching); n > 0 {
		r.currentSketching = r.currentSketching[:n-1]
	}
	r.broadcastLocked(protocol.UndoPath{}, nil)
}

// ClearSketching resets the current sketching to empty and tells every
// member to clear its canvas.
func (r *Room) ClearSketching() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentSketching != nil {
		r.currentSketching = []protocol.Path{}
	}
	r.broadcastLocked(protocol.ClearSketching{}, nil)
}

// CompleteSketching ends the active round. The room attaches the guess word
// to the outgoing message (the server is the sole source of truth for it),
// clears the round state, demotes the sketcher, broadcasts the result to all
// members, and immediately starts the next round if enough members remain.
//
// Postcondition: currentSketcher, currentGuessWord, and currentSketching are
// unset on return unless a new round started within this call.
func (r *Room) CompleteSketching(msg protocol.CompleteSketching) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg.GuessWord = r.currentGuessWord
	r.clearRoundLocked()
	r.broadcastLocked(msg, nil)
	r.selectNextSketcherLocked()
}

// Broadcast sends a message to every member unconditionally.
func (r *Room) Broadcast(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msg, nil)
}

func (r *Room) hasMemberLocked(trimmed string) bool {
	for _, m := range r.members {
		if m.Nickname() == trimmed {
			return true
		}
	}
	return false
}

func (r *Room) nicknamesLocked() []string {
	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		names = append(names, m.Nickname())
	}
	return names
}

// clearRoundLocked unsets the sketcher/word/sketching triple, demoting the
// sketcher if one is set.
func (r *Room) clearRoundLocked() {
	if r.currentSketcher != nil {
		r.currentSketcher.SetSketcher(false)
		r.currentSketcher = nil
	}
	r.currentGuessWord = ""
	r.currentSketching = nil
}

// selectNextSketcherLocked rotates the sketcher role: the first member in
// join order that has not sketched since the last reset is promoted. When
// every current member has sketched, the rotation resets and starts over
// from the front, so everyone sketches exactly once per cycle even as
// members come and go. A solo room stays idle.
func (r *Room) selectNextSketcherLocked() {
	if len(r.members) < 2 {
		return
	}

	next := -1
	for i, m := range r.members {
		if _, sketched := r.recentSketchers[m.ID()]; !sketched {
			next = i
			break
		}
	}
	if next == -1 {
		// Everyone sketched this cycle. Start at the front again.
		r.recentSketchers = make(map[string]struct{})
		next = 0
	}

	if r.currentSketcher != nil {
		r.currentSketcher.SetSketcher(false)
	}

	sketcher := r.members[next]
	r.recentSketchers[sketcher.ID()] = struct{}{}
	r.currentSketcher = sketcher
	r.currentSketching = []protocol.Path{}
	r.currentGuessWord = r.pool.Next()
	sketcher.SetSketcher(true)

	r.logger.Info("next sketcher selected",
		zap.String("nickname", sketcher.Nickname()),
	)

	announce := protocol.NextSketcher{Nickname: sketcher.Nickname()}
	for _, m := range r.members {
		if m.ID() == sketcher.ID() {
			r.send(m, protocol.NextSketcher{
				Nickname:  sketcher.Nickname(),
				GuessWord: r.currentGuessWord,
			})
		} else {
			r.send(m, announce)
		}
	}
}

// broadcastLocked sends msg to every member except skip. Send failures are
// logged and otherwise ignored; a dead peer surfaces as a close event on its
// own connection and must not block delivery to the rest of the room.
func (r *Room) broadcastLocked(msg protocol.Message, skip Member) {
	for _, m := range r.members {
		if skip != nil && m.ID() == skip.ID() {
			continue
		}
		r.send(m, msg)
	}
}

func (r *Room) send(m Member, msg protocol.Message) {
	if err := m.Send(msg); err != nil {
		r.logger.Warn("dropping message to member",
			zap.String("nickname", m.Nickname()),
			zap.Stringer("message_type", msg.Type()),
			zap.Error(err),
		)
	}
}
