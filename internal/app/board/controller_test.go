package board

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkroom/internal/pkg/errs"
	"inkroom/internal/pkg/randx"
)

type harness struct {
	t     *testing.T
	sched *manualScheduler
	c     *Controller
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()
	opts := testOptions()
	for _, f := range configure {
		f(&opts)
	}
	sched := newManualScheduler()
	return &harness{t: t, sched: sched, c: newController(opts, sched)}
}

func (h *harness) open() *fakeConn {
	conn := newFakeConn()
	h.c.handleOpen(conn)
	return conn
}

func (h *harness) user(conn *fakeConn) *User {
	h.t.Helper()
	u, ok := h.c.users[conn]
	require.True(h.t, ok, "connection has no user")
	return u
}

func (h *harness) sendText(conn *fakeConn, format string, args ...any) error {
	h.t.Helper()
	return h.c.receiveMessage(h.user(conn), websocket.TextMessage, []byte(fmt.Sprintf(format, args...)))
}

func (h *harness) sendFrame(conn *fakeConn, values ...int16) error {
	h.t.Helper()
	return h.c.receiveMessage(h.user(conn), websocket.BinaryMessage, encodeFrame(values...))
}

// connect opens a connection and completes the handshake for roomCode.
func (h *harness) connect(name string, roomCode int) (*fakeConn, *User) {
	h.t.Helper()
	conn := h.open()
	require.NoError(h.t, h.sendText(conn, `{"evt":"connectInit","val":{"username":%q,"roomCode":%d}}`, name, roomCode))
	return conn, h.user(conn)
}

func (h *harness) onlyRoom(u *User) *Room {
	h.t.Helper()
	rooms := u.Rooms()
	require.Len(h.t, rooms, 1)
	return rooms[0]
}

func sessionToken(t *testing.T, conn *fakeConn) string {
	t.Helper()
	msg, ok := conn.find(t, EvtSession)
	require.True(t, ok, "no session event")
	var token string
	require.NoError(t, json.Unmarshal(msg.Val, &token))
	return token
}

// pair connects A to a fresh room and B into the same room, then clears both logs.
func (h *harness) pair() (connA *fakeConn, a *User, connB *fakeConn, b *User, room *Room) {
	h.t.Helper()
	connA, a = h.connect("", 0)
	room = h.onlyRoom(a)
	connB, b = h.connect("", room.Code)
	connA.reset()
	connB.reset()
	return connA, a, connB, b, room
}

func TestScenarioFirstUserCreatesRoom(t *testing.T) {
	h := newHarness(t)
	conn, a := h.connect("", 0)

	assert.Equal(t, 0, a.ID)
	assert.True(t, a.IsActive())
	room := h.onlyRoom(a)
	assert.Equal(t, "User #0's room", room.Name())
	assert.Equal(t, "User #0", a.NameForRoom(room))
	assert.Equal(t, []EventName{EvtSession, EvtJoinData}, conn.events(t))

	msg, _ := conn.find(t, EvtJoinData)
	var data JoinData
	require.NoError(t, json.Unmarshal(msg.Val, &data))
	assert.Equal(t, room.Code, data.Room)
	assert.Equal(t, "User #0's room", data.RoomName)
	assert.Empty(t, data.Peers)
}

func TestScenarioSecondUserJoins(t *testing.T) {
	h := newHarness(t)
	connA, a := h.connect("", 0)
	room := h.onlyRoom(a)
	connA.reset()

	connB, b := h.connect("Bea", room.Code)

	assert.Same(t, room, h.onlyRoom(b))
	assert.True(t, room.bulkInit.has(b.ID))
	assert.False(t, room.bulkInit.has(a.ID))

	msg, ok := connA.find(t, EvtConnect)
	require.True(t, ok)
	assert.Equal(t, b.ID, intVal(t, msg.Usr))
	assert.JSONEq(t, `"Bea"`, string(msg.Val))

	_, ok = connB.find(t, EvtConnect)
	assert.False(t, ok)
	msg, ok = connB.find(t, EvtJoinData)
	require.True(t, ok)
	assert.Contains(t, string(msg.Val), `[[0,"User #0"]]`)
}

func TestScenarioBulkInit(t *testing.T) {
	h := newHarness(t)
	connA, a, connB, b, room := h.pair()
	code := int16(room.Code)

	require.NoError(t, h.sendFrame(connA, code, ModeBulkInit, 1, 2, 3))
	assert.Equal(t, [][]byte{prependID(a.ID, encodeFrame(code, ModeBulkInit, 1, 2, 3))}, connB.binaries())
	assert.True(t, room.bulkInit.handledBy(b.ID, a.ID))

	err := h.sendFrame(connA, code, ModeBulkInit, 4)
	assert.True(t, errs.HasCode(err, errs.ErrBulkInitMisuse))
	assert.Len(t, connB.binaries(), 1)

	err = h.sendFrame(connB, code, ModeBulkInit, 5)
	assert.True(t, errs.HasCode(err, errs.ErrBulkInitMisuse))
	assert.Empty(t, connA.binaries())
}

func TestScenarioChangeRoomName(t *testing.T) {
	h := newHarness(t)
	connA, a, connB, _, room := h.pair()

	require.NoError(t, h.sendText(connA, `{"evt":"changeRoomName","val":"Art Jam","room":%d}`, room.Code))
	assert.Equal(t, "Art Jam", room.Name())

	msg, ok := connB.find(t, EvtChangeRoomName)
	require.True(t, ok)
	assert.Equal(t, a.ID, intVal(t, msg.Usr))
	assert.Equal(t, room.Code, intVal(t, msg.Room))
	assert.JSONEq(t, `"Art Jam"`, string(msg.Val))
	assert.Empty(t, connA.frames, "no echo to the sender")

	err := h.sendText(connA, `{"evt":"changeRoomName","val":"  ","room":%d}`, room.Code)
	assert.True(t, errs.HasCode(err, errs.ErrInvalidRoomName))
	assert.Equal(t, "Art Jam", room.Name())
}

func TestScenarioDisconnect(t *testing.T) {
	h := newHarness(t)
	connA, a, connB, b, room := h.pair()

	h.c.handleClose(connA)

	assert.False(t, room.Has(a))
	assert.Equal(t, []*User{b}, room.Members())
	_, live := h.c.registry.Get(room.Code)
	assert.True(t, live)

	msg, ok := connB.find(t, EvtDisconnect)
	require.True(t, ok)
	assert.Equal(t, a.ID, intVal(t, msg.Usr))
	assert.Equal(t, room.Code, intVal(t, msg.Room))

	assert.NotContains(t, h.c.ids, a.ID)
	assert.Equal(t, Stats{Rooms: 1, Connections: 1}, h.c.stats())
}

func TestScenarioLeaveForeignRoom(t *testing.T) {
	h := newHarness(t)
	connA, _, connB, _, room := h.pair()
	connC, _ := h.connect("", 0)
	other := h.onlyRoom(h.user(connC))
	connC.reset()

	err := h.sendText(connA, `{"evt":"leave","room":%d}`, other.Code)
	assert.True(t, errs.HasCode(err, errs.ErrNotRoomMember))
	assert.Empty(t, connB.frames)
	assert.Empty(t, connC.frames)
	assert.Equal(t, 2, room.Size())
}

func TestLeaveRelaysAndDestroysEmptyRoom(t *testing.T) {
	h := newHarness(t)
	connA, a, connB, b, room := h.pair()

	require.NoError(t, h.sendText(connB, `{"evt":"leave","room":%d}`, room.Code))
	msg, ok := connA.find(t, EvtLeave)
	require.True(t, ok)
	assert.Equal(t, b.ID, intVal(t, msg.Usr))
	assert.Empty(t, b.Rooms())
	assert.True(t, b.IsActive(), "a user without rooms stays connected")

	require.NoError(t, h.sendText(connA, `{"evt":"leave","room":%d}`, room.Code))
	_, ok = h.c.registry.Get(room.Code)
	assert.False(t, ok)
	assert.Empty(t, a.Rooms())

	err := h.sendText(connA, `{"evt":"leave","room":%d}`, room.Code)
	assert.True(t, errs.HasCode(err, errs.ErrRoomNotFound))
}

func TestChangeNameRelaysOnlyChanges(t *testing.T) {
	h := newHarness(t)
	connA, a, connB, _, room := h.pair()

	require.NoError(t, h.sendText(connA, `{"evt":"changeName","val":" Ada ","room":%d}`, room.Code))
	assert.Equal(t, "Ada", a.NameForRoom(room))
	msg, ok := connB.find(t, EvtChangeName)
	require.True(t, ok)
	assert.JSONEq(t, `"Ada"`, string(msg.Val))

	connB.reset()
	require.NoError(t, h.sendText(connA, `{"evt":"changeName","val":"Ada","room":%d}`, room.Code))
	require.NoError(t, h.sendText(connA, `{"evt":"changeName","val":"User #1","room":%d}`, room.Code))
	require.NoError(t, h.sendText(connA, `{"evt":"changeName","val":"","room":%d}`, room.Code))
	assert.Empty(t, connB.frames)
	assert.Equal(t, "Ada", a.NameForRoom(room))
}

func TestClearUserRelays(t *testing.T) {
	h := newHarness(t)
	connA, a, connB, _, room := h.pair()

	require.NoError(t, h.sendText(connA, `{"evt":"clearUser","room":%d}`, room.Code))
	msg, ok := connB.find(t, EvtClearUser)
	require.True(t, ok)
	assert.Equal(t, a.ID, intVal(t, msg.Usr))
	assert.Empty(t, msg.Val)
}

func TestJoinAndCreateRooms(t *testing.T) {
	h := newHarness(t)
	connA, a, connB, b, room := h.pair()

	require.NoError(t, h.sendText(connA, `{"evt":"createRoom","val":{"username":"Ada","roomName":"Studio"}}`))
	require.Len(t, a.Rooms(), 2)
	var studio *Room
	for _, r := range a.Rooms() {
		if r != room {
			studio = r
		}
	}
	require.NotNil(t, studio)
	assert.Equal(t, "Studio", studio.Name())
	assert.Equal(t, "Ada", a.NameForRoom(studio))
	assert.Equal(t, "User #0", a.NameForRoom(room))

	require.NoError(t, h.sendText(connB, `{"evt":"joinRoom","val":{"username":"Bea","roomCode":%d}}`, studio.Code))
	assert.True(t, b.InRoom(studio))
	assert.Equal(t, "Bea", b.NameForRoom(studio))
	assert.True(t, studio.bulkInit.has(b.ID))

	require.NoError(t, h.sendText(connB, `{"evt":"joinRoom","val":{"roomCode":%d}}`, studio.Code))
	assert.Equal(t, 2, studio.Size(), "joining twice is a no-op")
}

func TestJoinRoomRejectsOutOfRangeCode(t *testing.T) {
	h := newHarness(t)
	conn, u := h.connect("", 0)
	room := h.onlyRoom(u)
	conn.reset()

	for _, code := range []int{70000, 999, 0} {
		err := h.sendText(conn, `{"evt":"joinRoom","val":{"roomCode":%d}}`, code)
		assert.Error(t, err, "code %d", code)
	}

	assert.Equal(t, []*Room{room}, u.Rooms())
	assert.Equal(t, 1, h.c.registry.Len())
	assert.Empty(t, conn.frames)

	err := h.sendText(conn, `{"evt":"joinRoom","val":{"roomCode":70000}}`)
	assert.True(t, errs.HasCode(err, errs.ErrFieldType))

	conn2 := h.open()
	err = h.sendText(conn2, `{"evt":"connectInit","val":{"roomCode":70000}}`)
	assert.True(t, errs.HasCode(err, errs.ErrFieldType))
	assert.False(t, h.user(conn2).IsActive())
	assert.Equal(t, 1, h.c.registry.Len())
}

func TestBinaryRelay(t *testing.T) {
	h := newHarness(t)
	connA, a, connB, _, room := h.pair()
	code := int16(room.Code)

	for _, mode := range []int16{0, 1, ModeErase, ModeUndo, ModeRedo} {
		require.NoError(t, h.sendFrame(connA, code, mode, 10, 20))
	}

	got := connB.binaries()
	require.Len(t, got, 5)
	assert.Equal(t, []int16{int16(a.ID), code, ModeUndo, 10, 20}, decodeFrame(got[3]))
	assert.Empty(t, connA.binaries())
}

func TestBinaryErrors(t *testing.T) {
	h := newHarness(t)
	connA, _, _, _, room := h.pair()

	err := h.c.receiveMessage(h.user(connA), websocket.BinaryMessage, []byte{1, 2, 3})
	assert.True(t, errs.HasCode(err, errs.ErrMalformedFrame))

	missing := randx.MinRoomCode
	if room.Code == missing {
		missing++
	}
	err = h.sendFrame(connA, int16(missing), 0)
	assert.True(t, errs.HasCode(err, errs.ErrRoomNotFound))

	conn := h.open()
	err = h.sendFrame(conn, int16(room.Code), 0)
	assert.True(t, errs.HasCode(err, errs.ErrHandshakeRequired))
}

func TestHandshakeRules(t *testing.T) {
	h := newHarness(t)
	conn := h.open()

	err := h.sendText(conn, `{"evt":"createRoom","val":{}}`)
	assert.True(t, errs.HasCode(err, errs.ErrHandshakeRequired))
	assert.Empty(t, conn.frames)

	require.NoError(t, h.sendText(conn, `{"evt":"connectInit","val":{}}`))
	err = h.sendText(conn, `{"evt":"connectInit","val":{}}`)
	assert.True(t, errs.HasCode(err, errs.ErrAlreadyInitialized))
	assert.Len(t, h.user(conn).Rooms(), 1)
}

func TestProtocolErrorsKeepConnection(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.connect("", 0)

	for _, frame := range []string{`not json`, `{"evt":"fly"}`, `{"evt":"leave"}`, `{"evt":"leave","room":1}`} {
		h.c.handleMessage(conn, websocket.TextMessage, []byte(frame))
	}
	h.c.handleMessage(conn, websocket.BinaryMessage, []byte{1})

	assert.True(t, conn.IsOpen())
	assert.Equal(t, 0, conn.closed)
	_, ok := h.c.users[conn]
	assert.True(t, ok)
}

func TestRateLimitedMessagesAreDropped(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.RateLimit = RateLimitOptions{Ceiling: 3, TestInterval: time.Second, DecayInterval: time.Hour}
	})
	connA, _, connB, _, room := h.pair()

	for range 4 {
		require.NoError(t, h.sendText(connA, `{"evt":"clearUser","room":%d}`, room.Code))
	}
	h.sched.Advance(time.Second)

	err := h.sendText(connA, `{"evt":"clearUser","room":%d}`, room.Code)
	assert.True(t, errs.HasCode(err, errs.ErrRateLimitExceeded))
	assert.Len(t, connB.messages(t), 4)

	require.NoError(t, h.sendText(connB, `{"evt":"clearUser","room":%d}`, room.Code), "limits are per connection")
}

func TestCloseBeforeHandshake(t *testing.T) {
	h := newHarness(t)
	conn := h.open()
	u := h.user(conn)

	h.c.handleClose(conn)
	assert.NotContains(t, h.c.ids, u.ID)
	assert.Equal(t, Stats{}, h.c.stats())

	h.c.handleClose(conn)
	h.c.handleMessage(conn, websocket.TextMessage, []byte(`{"evt":"connectInit","val":{}}`))
	assert.Empty(t, conn.frames)
}

func TestDiscardUnknownUserPanics(t *testing.T) {
	h := newHarness(t)
	stranger, _ := newTestUser(99, h.sched)

	assert.PanicsWithError(t, "invariant violated: discarding unknown user #99", func() {
		h.c.discard(stranger)
	})
}

func TestAllocateIDSkipsLiveIDs(t *testing.T) {
	h := newHarness(t)
	first := h.user(h.open())
	assert.Equal(t, 0, first.ID)

	h.c.nextID = maxUserID
	assert.Equal(t, maxUserID, h.user(h.open()).ID)
	assert.Equal(t, 1, h.user(h.open()).ID, "id 0 is still taken")

	h.c.handleClose(first.conn)
	h.c.nextID = 0
	assert.Equal(t, 0, h.user(h.open()).ID, "released ids are reused")
}

// pairWithToken is pair, returning the resume token A was issued.
func (h *harness) pairWithToken() (connA *fakeConn, a *User, token string, connB *fakeConn, room *Room) {
	h.t.Helper()
	connA, a = h.connect("", 0)
	token = sessionToken(h.t, connA)
	room = h.onlyRoom(a)
	connB, _ = h.connect("", room.Code)
	connA.reset()
	connB.reset()
	return connA, a, token, connB, room
}

func withGrace(o *Options) { o.DeactivationGrace = 10 * time.Second }

func TestSessionResume(t *testing.T) {
	h := newHarness(t, withGrace)
	connA, a, token, connB, room := h.pairWithToken()

	h.c.handleClose(connA)
	assert.False(t, a.IsActive())
	assert.True(t, room.Has(a), "seat held during grace")
	assert.Empty(t, connB.frames)
	assert.Equal(t, Stats{Rooms: 1, Connections: 1, Reconnecting: 1}, h.c.stats())

	require.NoError(t, h.sendFrame(connB, int16(room.Code), 0, 1))
	assert.Empty(t, connA.frames, "inactive members are skipped")

	h.sched.Advance(5 * time.Second)
	connA2 := h.open()
	require.NoError(t, h.sendText(connA2, `{"evt":"connectInit","val":{"resumeToken":%q}}`, token))

	assert.Same(t, a, h.user(connA2))
	assert.True(t, a.IsActive())
	assert.Equal(t, Stats{Rooms: 1, Connections: 2}, h.c.stats())
	assert.Equal(t, []EventName{EvtSession, EvtJoinData}, connA2.events(t))
	msg, ok := connB.find(t, EvtConnect)
	require.True(t, ok, "peers see the user return")
	assert.Equal(t, a.ID, intVal(t, msg.Usr))
	assert.True(t, room.bulkInit.has(a.ID), "the returning user is owed history again")

	h.sched.Advance(time.Minute)
	_, ok = connB.find(t, EvtDisconnect)
	assert.False(t, ok, "the cancelled grace timer never fires")
	assert.True(t, room.Has(a))
}

func TestSessionExpiresAfterGrace(t *testing.T) {
	h := newHarness(t, withGrace)
	connA, a, token, connB, room := h.pairWithToken()

	h.c.handleClose(connA)
	h.sched.Advance(10 * time.Second)

	assert.False(t, room.Has(a))
	msg, ok := connB.find(t, EvtDisconnect)
	require.True(t, ok)
	assert.Equal(t, a.ID, intVal(t, msg.Usr))
	assert.Equal(t, Stats{Rooms: 1, Connections: 1}, h.c.stats())

	conn := h.open()
	require.NoError(t, h.sendText(conn, `{"evt":"connectInit","val":{"resumeToken":%q}}`, token))
	fresh := h.user(conn)
	assert.NotSame(t, a, fresh)
	assert.True(t, fresh.IsActive(), "a stale token falls back to a new session")
	assert.NotSame(t, room, h.onlyRoom(fresh))
}

func TestResumeRejectsForgedToken(t *testing.T) {
	h := newHarness(t, withGrace)
	connA, a, _, _, room := h.pairWithToken()

	h.c.handleClose(connA)

	conn := h.open()
	require.NoError(t, h.sendText(conn, `{"evt":"connectInit","val":{"resumeToken":"not-a-token","roomCode":%d}}`, room.Code))
	fresh := h.user(conn)
	assert.NotSame(t, a, fresh)
	assert.Same(t, room, h.onlyRoom(fresh))
	assert.Equal(t, 1, h.c.stats().Reconnecting)
}

func TestRunProcessesPostedEvents(t *testing.T) {
	c := NewController(testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	conn := newFakeConn()
	c.Open(conn)
	c.Receive(conn, websocket.TextMessage, []byte(`{"evt":"connectInit","val":{"username":"Ada"}}`))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Rooms: 1, Connections: 1}, stats)

	cancel()
	<-c.stopped
	assert.False(t, conn.IsOpen(), "shutdown closes open connections")

	_, err = c.Stats(context.Background())
	assert.Error(t, err)
}
