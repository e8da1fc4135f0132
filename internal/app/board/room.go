package board

import (
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"inkroom/internal/app/user"
	"inkroom/internal/pkg/errs"
	"inkroom/internal/pkg/logx"
)

// Room is a coded set of users drawing together. Rooms are only touched from the
// Controller's event loop.
type Room struct {
	// Code is the room's 4-digit identifier, unique among live rooms.
	Code int

	name     string
	members  map[*User]struct{}
	bulkInit *bulkInitQueue

	// release removes the room from its registry once the last member leaves.
	release func(*Room)

	logger zerolog.Logger
}

func newRoom(code int, name string, sched Scheduler, bulkInitTimeout time.Duration, release func(*Room)) *Room {
	return &Room{
		Code:     code,
		name:     name,
		members:  make(map[*User]struct{}),
		bulkInit: newBulkInitQueue(sched, bulkInitTimeout),
		release:  release,
		logger:   logx.Logger().With().Int("room_code", code).Logger(),
	}
}

// Name returns the room's display name.
func (r *Room) Name() string {
	return r.name
}

// Rename sets the room name. Any member may rename the room.
func (r *Room) Rename(name string) (string, error) {
	valid, ok := user.ValidateRoomName(name)
	if !ok {
		return "", errs.NewError(errs.ErrInvalidRoomName)
	}
	r.name = valid
	return valid, nil
}

// Size returns the number of members.
func (r *Room) Size() int {
	return len(r.members)
}

// Has reports whether u is a member.
func (r *Room) Has(u *User) bool {
	_, ok := r.members[u]
	return ok
}

// Members returns the members ordered by id.
func (r *Room) Members() []*User {
	members := lo.Keys(r.members)
	slices.SortFunc(members, func(a, b *User) int { return a.ID - b.ID })
	return members
}

// AddUser makes u a member under desiredName (or its default name). A user already in
// the room is left alone and false is returned.
//
// Peers hear about the joiner before it receives its own roster, and the joiner is
// already queued for bulk-init by then, so peers may start sending history at once.
func (r *Room) AddUser(u *User, desiredName string) bool {
	if r.Has(u) {
		return false
	}

	r.members[u] = struct{}{}
	name := u.addToRoom(r, desiredName)

	r.logger.Info().
		Int("user_id", u.ID).
		Str("name", name).
		Int("total_users", len(r.members)).
		Msg("User joined room.")

	r.announce(u)
	return true
}

// announce queues u for bulk-init when it has peers, tells the peers it arrived and
// sends u its join payload.
func (r *Room) announce(u *User) {
	if len(r.members) > 1 {
		r.bulkInit.enqueue(u)
	}

	r.SendJSONToUsers(u, EvtConnect, u.NameForRoom(r))
	r.sendJoinData(u)
}

func (r *Room) sendJoinData(u *User) {
	msg := Message{
		Evt:  EvtJoinData,
		Usr:  lo.ToPtr(u.ID),
		Room: lo.ToPtr(r.Code),
		Val: JoinData{
			Room:        r.Code,
			Name:        u.NameForRoom(r),
			RoomName:    r.name,
			DefaultName: u.DefaultName(),
			Peers:       u.TransmittablePeers(r),
		},
	}

	if err := u.SendJSON(msg); err != nil {
		r.logSendFailure(u, err, EvtJoinData)
	}
}

// RemoveUser drops u from the room. The last member leaving destroys the room.
// The User itself stays valid and may join other rooms.
func (r *Room) RemoveUser(u *User) bool {
	if !r.Has(u) {
		return false
	}

	r.bulkInit.remove(u.ID)
	delete(r.members, u)
	u.removeFromRoom(r)
	r.bulkInit.forgetPeer(u.ID)

	r.logger.Info().
		Int("user_id", u.ID).
		Int("total_users", len(r.members)).
		Msg("User left room.")

	if len(r.members) == 0 {
		r.bulkInit.clear()
		r.logger.Info().Msg("Room is empty. Releasing it.")
		r.release(r)
	}
	return true
}

// suspend withdraws u from the bulk-init queue while its connection is gone. It stays a
// member until its grace period runs out.
func (r *Room) suspend(u *User) {
	r.bulkInit.remove(u.ID)
}

// SendBulkInitData hands one chunk of sender's drawing history to the first queued joiner
// sender has not served yet. Each call delivers at most once; a sender no joiner is
// waiting on gets ErrBulkInitMisuse.
func (r *Room) SendBulkInitData(sender *User, buf []byte) error {
	joiner, ok := r.bulkInit.claim(sender)
	if !ok {
		return errs.NewError(errs.ErrBulkInitMisuse, sender.ID, r.Code)
	}

	if err := joiner.Send(websocket.BinaryMessage, buf); err != nil {
		r.logSendFailure(joiner, err, "bulkInit")
	}
	return nil
}

// SendJSONToUsers sends {evt, usr, room, val} to every active member except sender.
func (r *Room) SendJSONToUsers(sender *User, evt EventName, val any) {
	msg := Message{
		Evt:  evt,
		Usr:  lo.ToPtr(sender.ID),
		Room: lo.ToPtr(r.Code),
		Val:  val,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error().Err(err).Str("evt", string(evt)).Msg("Failed to encode broadcast.")
		return
	}

	r.broadcast(sender, websocket.TextMessage, data, evt)
}

// SendAnyDataToUsers relays a binary frame to every active member except sender.
func (r *Room) SendAnyDataToUsers(sender *User, data []byte) {
	r.broadcast(sender, websocket.BinaryMessage, data, "data")
}

// broadcast never echoes to the sender; clients apply their own actions locally.
// Members inside their reconnect grace period are skipped.
func (r *Room) broadcast(sender *User, msgType int, data []byte, what EventName) {
	for member := range r.members {
		if member == sender || !member.IsActive() {
			continue
		}
		if err := member.Send(msgType, data); err != nil {
			r.logSendFailure(member, err, what)
		}
	}
}

func (r *Room) logSendFailure(u *User, err error, what EventName) {
	event := r.logger.Warn()
	if errors.Is(err, errs.ErrSocketClosed) {
		event = r.logger.Debug()
	}
	event.Err(err).Int("user_id", u.ID).Str("evt", string(what)).Msg("Dropped outbound message.")
}
