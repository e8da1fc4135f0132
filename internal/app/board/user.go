package board

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"inkroom/internal/app/user"
	"inkroom/internal/pkg/errs"
	"inkroom/internal/pkg/logx"
)

// Conn is the transport side of one client connection. Send must not block.
type Conn interface {
	Send(msgType int, data []byte) error
	IsOpen() bool
	RemoteAddr() string
	Close()
}

// User is one connected client. It may sit in several rooms at once, with an
// independent display name in each.
type User struct {
	// ID is unique among live users and fits the int16 wire field.
	ID int

	// Addr is the client's remote address, kept for same-origin heuristics and logs.
	Addr string

	// SessionID identifies the connection lifetime this user was created for.
	SessionID string

	conn   Conn
	rooms  map[*Room]string
	active bool
	rate   *RateLimiter

	sched        Scheduler
	grace        time.Duration
	deactivation Task

	logger zerolog.Logger
}

// UserOptions configures a new User.
type UserOptions struct {
	SessionID         string
	RateLimit         RateLimitOptions
	DeactivationGrace time.Duration
}

// NewUser returns an inactive user bound to conn. Its rate limiter is started.
func NewUser(id int, conn Conn, sched Scheduler, opts UserOptions) *User {
	u := &User{
		ID:        id,
		Addr:      conn.RemoteAddr(),
		SessionID: opts.SessionID,
		conn:      conn,
		rooms:     make(map[*Room]string),
		rate:      NewRateLimiter(sched, opts.RateLimit),
		sched:     sched,
		grace:     opts.DeactivationGrace,
		logger: logx.Logger().With().
			Int("user_id", id).
			Str("session_id", opts.SessionID).
			Logger(),
	}
	u.rate.Start()
	return u
}

// DefaultName returns "User #<id>".
func (u *User) DefaultName() string {
	return user.DefaultName(u.ID)
}

// IsActive reports whether the user completed its handshake and is connected.
func (u *User) IsActive() bool {
	return u.active
}

// Activate marks the user live and cancels a pending deactivation.
func (u *User) Activate() {
	u.active = true
	if u.deactivation != nil {
		u.deactivation.Stop()
		u.deactivation = nil
	}
}

// Deactivate marks the user inactive and calls onExpire once the grace period passes
// without a new Activate. A zero grace period expires immediately.
func (u *User) Deactivate(onExpire func()) {
	u.active = false
	if u.deactivation != nil {
		u.deactivation.Stop()
		u.deactivation = nil
	}

	if u.grace <= 0 {
		onExpire()
		return
	}

	u.deactivation = u.sched.AfterFunc(u.grace, func() {
		u.deactivation = nil
		onExpire()
	})
}

// Rooms returns the rooms the user belongs to, ordered by code.
func (u *User) Rooms() []*Room {
	rooms := lo.Keys(u.rooms)
	slices.SortFunc(rooms, func(a, b *Room) int { return a.Code - b.Code })
	return rooms
}

// InRoom reports whether the user is a member of r.
func (u *User) InRoom(r *Room) bool {
	_, ok := u.rooms[r]
	return ok
}

// addToRoom records membership of r under the validated desiredName, falling back to
// the default name. Only Room.AddUser calls it, keeping both sides in step.
func (u *User) addToRoom(r *Room, desiredName string) string {
	name := user.NameOrDefault(u.ID, desiredName)
	u.rooms[r] = name
	return name
}

// removeFromRoom drops the back-reference to r. Only Room.RemoveUser calls it.
func (u *User) removeFromRoom(r *Room) {
	delete(u.rooms, r)
}

// NameForRoom returns the user's display name in r, or the default name if the user is
// not a member.
func (u *User) NameForRoom(r *Room) string {
	if name, ok := u.rooms[r]; ok {
		return name
	}
	return u.DefaultName()
}

// SetNameForRoom changes the display name in r. An invalid name leaves the current one in
// place. It returns the name in effect afterwards and whether it changed.
func (u *User) SetNameForRoom(r *Room, name string) (string, bool) {
	current, ok := u.rooms[r]
	if !ok {
		return u.DefaultName(), false
	}

	valid, ok := user.ValidateName(name)
	if !ok || valid == current {
		return current, false
	}

	u.rooms[r] = valid
	return valid, true
}

// Send writes one frame to the client. Writing to an inactive user is a server bug.
func (u *User) Send(msgType int, data []byte) error {
	if !u.active {
		errs.Invariant("send to inactive user #%d", u.ID)
	}
	if u.conn == nil || !u.conn.IsOpen() {
		return errs.ErrSocketClosed
	}
	return u.conn.Send(msgType, data)
}

// SendJSON marshals msg and sends it as a text frame.
func (u *User) SendJSON(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return u.Send(websocket.TextMessage, data)
}

// PrependIDToBuffer returns a copy of a binary frame with the user's id in front.
func (u *User) PrependIDToBuffer(buf []byte) []byte {
	return prependID(u.ID, buf)
}

// TransmittablePeers lists [id, name] for every other member of r, ordered by id.
func (u *User) TransmittablePeers(r *Room) []Peer {
	others := lo.Filter(r.Members(), func(m *User, _ int) bool { return m != u })
	return lo.Map(others, func(m *User, _ int) Peer {
		return Peer{ID: m.ID, Name: m.NameForRoom(r)}
	})
}

// attach moves the user onto a new connection after a resume.
func (u *User) attach(conn Conn) {
	u.conn = conn
	u.Addr = conn.RemoteAddr()
}

// release stops the user's timers once it is discarded.
func (u *User) release() {
	u.rate.Stop()
	if u.deactivation != nil {
		u.deactivation.Stop()
		u.deactivation = nil
	}
}
