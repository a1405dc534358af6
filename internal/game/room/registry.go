package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/marvindv/group-sketch/internal/game/words"
)

// ErrRoomNotFound reports a lookup for a room id the registry does not know.
var ErrRoomNotFound = errors.New("room not found")

// Registry is the process-wide lookup of rooms by id. It is constructed once
// at startup with a fixed set of rooms and passed to the connection layer;
// rooms are not created or removed at runtime.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates a registry seeded with one room per id, each owning its
// own word pool over the given list.
//
// Precondition: ids must be non-empty with no duplicates; list must be a
// valid word list; src and logger must be non-nil.
// Postcondition: Returns a registry where Get succeeds for every given id.
func NewRegistry(ids []string, list []string, src words.Source, logger *zap.Logger) (*Registry, error) {
	if len(ids) == 0 {
		return nil, errors.New("registry requires at least one room id")
	}

	rooms := make(map[string]*Room, len(ids))
	for _, id := range ids {
		if _, dup := rooms[id]; dup {
			return nil, fmt.Errorf("duplicate room id %q", id)
		}
		pool, err := words.NewPool(list, src)
		if err != nil {
			return nil, fmt.Errorf("creating word pool for room %q: %w", id, err)
		}
		rooms[id] = New(id, pool, logger)
	}

	logger.Info("room registry initialized", zap.Int("rooms", len(rooms)))
	return &Registry{rooms: rooms}, nil
}

// Get looks up a room by id.
//
// Postcondition: Returns the room, or ErrRoomNotFound.
func (r *Registry) Get(id string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRoomNotFound, id)
	}
	return room, nil
}

// IDs returns the registered room ids sorted lexicographically.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
