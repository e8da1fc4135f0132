package board

import (
	"time"

	"github.com/rs/zerolog"

	"inkroom/internal/app/user"
	"inkroom/internal/pkg/errs"
	"inkroom/internal/pkg/logx"
	"inkroom/internal/pkg/randx"
)

// Registry owns every live room, keyed by code.
type Registry struct {
	rooms           map[int]*Room
	sched           Scheduler
	bulkInitTimeout time.Duration
	logger          zerolog.Logger
}

// NewRegistry returns an empty registry. Rooms it creates expire bulk-init entries
// after bulkInitTimeout.
func NewRegistry(sched Scheduler, bulkInitTimeout time.Duration) *Registry {
	return &Registry{
		rooms:           make(map[int]*Room),
		sched:           sched,
		bulkInitTimeout: bulkInitTimeout,
		logger:          logx.Component("registry"),
	}
}

// GetRoomOrCreate returns the live room with code, or creates a room named after
// initialUser's validated username when code resolves to nothing. It does not add
// initialUser to the room.
func (g *Registry) GetRoomOrCreate(initialUser *User, username string, code int) (*Room, error) {
	if room, ok := g.rooms[code]; ok {
		return room, nil
	}
	return g.CreateRoom(initialUser, username, "")
}

// CreateRoom opens a room under a fresh code. An empty or invalid roomName falls back
// to "<owner>'s room".
func (g *Registry) CreateRoom(initialUser *User, username, roomName string) (*Room, error) {
	code, err := randx.RoomCode(g.taken)
	if err != nil {
		g.logger.Error().Err(err).Int("live_rooms", len(g.rooms)).Msg("No room code available.")
		return nil, errs.NewError(errs.ErrUnknown)
	}
	if !randx.IsValidRoomCode(code) || g.taken(code) {
		errs.Invariant("room code %d is out of range or already live", code)
	}

	name, ok := user.ValidateRoomName(roomName)
	if !ok {
		name = user.RoomName(user.NameOrDefault(initialUser.ID, username))
	}

	room := newRoom(code, name, g.sched, g.bulkInitTimeout, g.release)
	g.rooms[code] = room

	g.logger.Info().
		Int("room_code", code).
		Str("room_name", name).
		Int("creator_id", initialUser.ID).
		Msg("Room created.")
	return room, nil
}

// GetRoomWithMembershipCheck resolves code and requires u to be a member. It is the
// single gate for every room-scoped event.
func (g *Registry) GetRoomWithMembershipCheck(u *User, code int) (*Room, error) {
	room, ok := g.rooms[code]
	if !ok {
		return nil, errs.NewError(errs.ErrRoomNotFound, code)
	}
	if !room.Has(u) || !u.InRoom(room) {
		return nil, errs.NewError(errs.ErrNotRoomMember, u.ID, code)
	}
	return room, nil
}

// Get returns the live room with code.
func (g *Registry) Get(code int) (*Room, bool) {
	room, ok := g.rooms[code]
	return room, ok
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	return len(g.rooms)
}

func (g *Registry) taken(code int) bool {
	_, ok := g.rooms[code]
	return ok
}

// release is handed to each room and called when it empties.
func (g *Registry) release(room *Room) {
	if g.rooms[room.Code] != room {
		return
	}
	delete(g.rooms, room.Code)
	g.logger.Info().Int("room_code", room.Code).Msg("Room removed.")
}
