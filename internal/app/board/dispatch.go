package board

import (
	"inkroom/internal/pkg/errs"
)

// relay is what a pass-on event forwards to the rest of its room.
type relay struct {
	room *Room

	// val is nil or a string; structured values are never relayed.
	val any
}

// dispatch applies one decoded event for u.
func (c *Controller) dispatch(u *User, event Event) (*relay, error) {
	switch e := event.(type) {
	case ConnectInit:
		return nil, c.handshake(u, e)

	case JoinRoom:
		room, err := c.registry.GetRoomOrCreate(u, e.Username, e.RoomCode)
		if err != nil {
			return nil, err
		}
		room.AddUser(u, e.Username)
		return nil, nil

	case CreateRoom:
		room, err := c.registry.CreateRoom(u, e.Username, e.RoomName)
		if err != nil {
			return nil, err
		}
		room.AddUser(u, e.Username)
		return nil, nil

	case Leave:
		room, err := c.registry.GetRoomWithMembershipCheck(u, e.Room)
		if err != nil {
			return nil, err
		}
		room.RemoveUser(u)
		return &relay{room: room}, nil

	case ChangeName:
		room, err := c.registry.GetRoomWithMembershipCheck(u, e.Room)
		if err != nil {
			return nil, err
		}
		name, changed := u.SetNameForRoom(room, e.Name)
		if !changed {
			u.logger.Debug().Int("room_code", room.Code).Msg("Name change ignored.")
			return nil, nil
		}
		return &relay{room: room, val: name}, nil

	case ChangeRoomName:
		room, err := c.registry.GetRoomWithMembershipCheck(u, e.Room)
		if err != nil {
			return nil, err
		}
		name, err := room.Rename(e.Name)
		if err != nil {
			return nil, err
		}
		return &relay{room: room, val: name}, nil

	case ClearUser:
		room, err := c.registry.GetRoomWithMembershipCheck(u, e.Room)
		if err != nil {
			return nil, err
		}
		return &relay{room: room}, nil
	}

	errs.Invariant("no handler for event %T", event)
	return nil, nil
}

// handshake activates u and seats it in its first room. A valid resume token instead
// hands u's connection to the session it names.
func (c *Controller) handshake(u *User, e ConnectInit) error {
	if u.IsActive() {
		return errs.NewError(errs.ErrAlreadyInitialized)
	}

	if e.ResumeToken != "" {
		if c.resume(u, e.ResumeToken) {
			return nil
		}
		resumeErr := errs.NewError(errs.ErrResumeTokenInvalid)
		u.logger.Warn().Int("code", resumeErr.Code).Msg(resumeErr.Message + " Starting a new session.")
	}

	u.Activate()
	c.sendSessionToken(u)

	room, err := c.registry.GetRoomOrCreate(u, e.Username, e.RoomCode)
	if err != nil {
		return err
	}
	room.AddUser(u, e.Username)
	return nil
}
