package board

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"inkroom/internal/pkg/errs"
	"inkroom/internal/pkg/randx"
)

// EventName is the "evt" field of a JSON frame.
type EventName string

// Client to server events.
const (
	EvtConnectInit    EventName = "connectInit"
	EvtJoinRoom       EventName = "joinRoom"
	EvtCreateRoom     EventName = "createRoom"
	EvtLeave          EventName = "leave"
	EvtChangeName     EventName = "changeName"
	EvtChangeRoomName EventName = "changeRoomName"
	EvtClearUser      EventName = "clearUser"
)

// Server to client events.
const (
	EvtConnect    EventName = "connect"
	EvtDisconnect EventName = "disconnect"
	EvtJoinData   EventName = "joinData"
	EvtSession    EventName = "session"
)

// Message is an outbound JSON frame.
type Message struct {
	Evt  EventName `json:"evt"`
	Usr  *int      `json:"usr,omitempty"`
	Room *int      `json:"room,omitempty"`
	Val  any       `json:"val,omitempty"`
}

// Peer is one roster entry; it encodes as [id, name].
type Peer struct {
	ID   int
	Name string
}

// MarshalJSON encodes the peer as an [id, name] pair.
func (p Peer) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.ID, p.Name})
}

// JoinData is the value of the joinData event a user receives on entering a room.
type JoinData struct {
	Room        int    `json:"room"`
	Name        string `json:"name"`
	RoomName    string `json:"roomName"`
	DefaultName string `json:"defaultName"`
	Peers       []Peer `json:"peers"`
}

// Event is one decoded client event. The set of implementations is closed; the
// dispatcher switches over all of them.
type Event interface {
	Name() EventName
}

// ConnectInit is the handshake. It joins RoomCode when it names a live room and
// creates a new room otherwise. ResumeToken reclaims a session inside its grace period.
type ConnectInit struct {
	Username    string `json:"username" validate:"max=256"`
	RoomCode    int    `json:"roomCode" validate:"omitempty,roomcode"`
	ResumeToken string `json:"resumeToken" validate:"max=2048"`
}

// JoinRoom enters another room by code.
type JoinRoom struct {
	Username string `json:"username" validate:"max=256"`
	RoomCode int    `json:"roomCode" validate:"required,roomcode"`
}

// CreateRoom opens a fresh room with the sender as its first member.
type CreateRoom struct {
	Username string `json:"username" validate:"max=256"`
	RoomName string `json:"roomName" validate:"max=256"`
}

// Leave exits a room.
type Leave struct {
	Room int
}

// ChangeName sets the sender's display name in a room.
type ChangeName struct {
	Room int
	Name string
}

// ChangeRoomName renames a room. Any member may do this.
type ChangeRoomName struct {
	Room int
	Name string
}

// ClearUser tells peers the sender wiped its own drawing.
type ClearUser struct {
	Room int
}

// Name returns EvtConnectInit.
func (ConnectInit) Name() EventName { return EvtConnectInit }

// Name returns EvtJoinRoom.
func (JoinRoom) Name() EventName { return EvtJoinRoom }

// Name returns EvtCreateRoom.
func (CreateRoom) Name() EventName { return EvtCreateRoom }

// Name returns EvtLeave.
func (Leave) Name() EventName { return EvtLeave }

// Name returns EvtChangeName.
func (ChangeName) Name() EventName { return EvtChangeName }

// Name returns EvtChangeRoomName.
func (ChangeRoomName) Name() EventName { return EvtChangeRoomName }

// Name returns EvtClearUser.
func (ClearUser) Name() EventName { return EvtClearUser }

// valKind is the required JSON type of an envelope's val field.
type valKind int

const (
	valNone valKind = iota
	valString
	valObject
)

func (k valKind) String() string {
	switch k {
	case valString:
		return "string"
	case valObject:
		return "object"
	}
	return "nothing"
}

// descriptor declares what an inbound event must carry and how it is handled.
type descriptor struct {
	// needsRoom requires a numeric room field.
	needsRoom bool

	// val is the required type of the val field.
	val valKind

	// handshake marks the event that may arrive before the user is active.
	handshake bool

	// passOn relays the event to the rest of the room once handled. Only scalar values
	// are relayed.
	passOn bool

	build func(room int, val json.RawMessage) (Event, error)
}

var descriptors = map[EventName]descriptor{
	EvtConnectInit: {
		val:       valObject,
		handshake: true,
		build: func(_ int, val json.RawMessage) (Event, error) {
			var e ConnectInit
			err := decodeVal(EvtConnectInit, val, &e)
			return e, err
		},
	},
	EvtJoinRoom: {
		val: valObject,
		build: func(_ int, val json.RawMessage) (Event, error) {
			var e JoinRoom
			err := decodeVal(EvtJoinRoom, val, &e)
			return e, err
		},
	},
	EvtCreateRoom: {
		val: valObject,
		build: func(_ int, val json.RawMessage) (Event, error) {
			var e CreateRoom
			err := decodeVal(EvtCreateRoom, val, &e)
			return e, err
		},
	},
	EvtLeave: {
		needsRoom: true,
		passOn:    true,
		build: func(room int, _ json.RawMessage) (Event, error) {
			return Leave{Room: room}, nil
		},
	},
	EvtChangeName: {
		needsRoom: true,
		val:       valString,
		passOn:    true,
		build: func(room int, val json.RawMessage) (Event, error) {
			e := ChangeName{Room: room}
			err := json.Unmarshal(val, &e.Name)
			return e, err
		},
	},
	EvtChangeRoomName: {
		needsRoom: true,
		val:       valString,
		passOn:    true,
		build: func(room int, val json.RawMessage) (Event, error) {
			e := ChangeRoomName{Room: room}
			err := json.Unmarshal(val, &e.Name)
			return e, err
		},
	},
	EvtClearUser: {
		needsRoom: true,
		passOn:    true,
		build: func(room int, _ json.RawMessage) (Event, error) {
			return ClearUser{Room: room}, nil
		},
	},
}

// inboundEnvelope keeps every field raw so presence and type can be checked per event.
type inboundEnvelope struct {
	Evt  EventName       `json:"evt"`
	Usr  json.RawMessage `json:"usr"`
	Room json.RawMessage `json:"room"`
	Val  json.RawMessage `json:"val"`
}

var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	if err := v.RegisterValidation("roomcode", func(fl validator.FieldLevel) bool {
		return randx.IsValidRoomCode(int(fl.Field().Int()))
	}); err != nil {
		panic(err)
	}
	return v
}

// decodeEvent parses and type-checks a JSON frame against the event table.
func decodeEvent(data []byte) (Event, descriptor, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, descriptor{}, errs.NewError(errs.ErrInvalidJSONFormat)
	}

	desc, ok := descriptors[env.Evt]
	if !ok {
		return nil, descriptor{}, errs.NewError(errs.ErrUnknownEvent, string(env.Evt))
	}

	var room int
	if desc.needsRoom {
		if isAbsent(env.Room) {
			return nil, desc, errs.NewError(errs.ErrMissingField, string(env.Evt), "room")
		}
		if err := json.Unmarshal(env.Room, &room); err != nil {
			return nil, desc, errs.NewError(errs.ErrFieldType, string(env.Evt), "room", "number")
		}
	}

	if desc.val != valNone {
		if isAbsent(env.Val) {
			return nil, desc, errs.NewError(errs.ErrMissingField, string(env.Evt), "val")
		}
		if jsonKind(env.Val) != desc.val {
			return nil, desc, errs.NewError(errs.ErrFieldType, string(env.Evt), "val", desc.val.String())
		}
	}

	event, err := desc.build(room, env.Val)
	if err != nil {
		var customErr *errs.CustomError
		if errors.As(err, &customErr) {
			return nil, desc, customErr
		}
		return nil, desc, errs.NewError(errs.ErrFieldType, string(env.Evt), "val", desc.val.String())
	}
	return event, desc, nil
}

// decodeVal unmarshals an object val into dst and runs its validation tags.
func decodeVal(evt EventName, val json.RawMessage, dst any) error {
	if err := json.Unmarshal(val, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return errs.NewError(errs.ErrFieldType, string(evt), "val."+typeErr.Field, typeErr.Type.Kind().String())
		}
		return err
	}

	if err := payloadValidator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := "val." + verrs[0].Field()
			switch verrs[0].Tag() {
			case "required":
				return errs.NewError(errs.ErrMissingField, string(evt), field)
			case "roomcode":
				return errs.NewError(errs.ErrFieldType, string(evt), field,
					fmt.Sprintf("room code in [%d, %d]", randx.MinRoomCode, randx.MaxRoomCode))
			}
			return errs.NewError(errs.ErrFieldType, string(evt), field, "bounded "+verrs[0].Kind().String())
		}
		return err
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func jsonKind(raw json.RawMessage) valKind {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return valNone
	}
	switch trimmed[0] {
	case '"':
		return valString
	case '{':
		return valObject
	}
	return valNone
}
