package board

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"inkroom/internal/pkg/errs"
)

// manualScheduler fires callbacks only when Advance moves its clock past them.
type manualScheduler struct {
	now   time.Duration
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	at   time.Duration
	seq  int
	f    func()
	done bool
}

func (t *manualTask) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	return true
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{}
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Task {
	s.seq++
	task := &manualTask{at: s.now + d, seq: s.seq, f: f}
	s.tasks = append(s.tasks, task)
	return task
}

// Advance runs every due callback in time order, including ones scheduled by callbacks.
func (s *manualScheduler) Advance(d time.Duration) {
	target := s.now + d
	for {
		next := s.nextDue(target)
		if next == nil {
			break
		}
		s.now = next.at
		next.done = true
		next.f()
	}
	s.now = target
}

func (s *manualScheduler) nextDue(target time.Duration) *manualTask {
	var next *manualTask
	live := s.tasks[:0]
	for _, t := range s.tasks {
		if t.done {
			continue
		}
		live = append(live, t)
		if t.at <= target && (next == nil || t.at < next.at || (t.at == next.at && t.seq < next.seq)) {
			next = t
		}
	}
	s.tasks = live
	return next
}

// pending counts armed callbacks.
func (s *manualScheduler) pending() int {
	n := 0
	for _, t := range s.tasks {
		if !t.done {
			n++
		}
	}
	return n
}

// fakeConn records outbound frames in memory.
type fakeConn struct {
	addr   string
	open   bool
	closed int
	frames []outbound
}

func newFakeConn() *fakeConn {
	return &fakeConn{addr: "192.0.2.10:51000", open: true}
}

func (f *fakeConn) Send(msgType int, data []byte) error {
	if !f.open {
		return errs.ErrSocketClosed
	}
	f.frames = append(f.frames, outbound{msgType: msgType, data: data})
	return nil
}

func (f *fakeConn) IsOpen() bool       { return f.open }
func (f *fakeConn) RemoteAddr() string { return f.addr }
func (f *fakeConn) Close() {
	f.open = false
	f.closed++
}

type sentMessage struct {
	Evt  EventName       `json:"evt"`
	Usr  *int            `json:"usr"`
	Room *int            `json:"room"`
	Val  json.RawMessage `json:"val"`
}

func (f *fakeConn) messages(t *testing.T) []sentMessage {
	t.Helper()
	var out []sentMessage
	for _, fr := range f.frames {
		if fr.msgType != websocket.TextMessage {
			continue
		}
		var m sentMessage
		require.NoError(t, json.Unmarshal(fr.data, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) events(t *testing.T) []EventName {
	t.Helper()
	var out []EventName
	for _, m := range f.messages(t) {
		out = append(out, m.Evt)
	}
	return out
}

func (f *fakeConn) find(t *testing.T, evt EventName) (sentMessage, bool) {
	t.Helper()
	for _, m := range f.messages(t) {
		if m.Evt == evt {
			return m, true
		}
	}
	return sentMessage{}, false
}

func (f *fakeConn) binaries() [][]byte {
	var out [][]byte
	for _, fr := range f.frames {
		if fr.msgType == websocket.BinaryMessage {
			out = append(out, fr.data)
		}
	}
	return out
}

func (f *fakeConn) reset() {
	f.frames = nil
}

func testOptions() Options {
	return Options{
		RateLimit: RateLimitOptions{
			Ceiling:       1000,
			TestInterval:  time.Second,
			DecayInterval: 5 * time.Second,
		},
		BulkInitTimeout:   20 * time.Second,
		DeactivationGrace: 0,
		SessionSecret:     "test-secret",
	}
}

// newTestUser returns an active user on a fake connection.
func newTestUser(id int, sched Scheduler) (*User, *fakeConn) {
	conn := newFakeConn()
	u := NewUser(id, conn, sched, UserOptions{
		SessionID: "session",
		RateLimit: testOptions().RateLimit,
	})
	u.Activate()
	return u, conn
}

func newTestRoom(code int, sched Scheduler) (*Room, *[]*Room) {
	var released []*Room
	room := newRoom(code, "Test room", sched, testOptions().BulkInitTimeout, func(r *Room) {
		released = append(released, r)
	})
	return room, &released
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func intVal(t *testing.T, p *int) int {
	t.Helper()
	require.NotNil(t, p)
	return *p
}

// encodeFrame builds a frame from int16 values.
func encodeFrame(values ...int16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		wireOrder.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// decodeFrame is the inverse of encodeFrame.
func decodeFrame(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(wireOrder.Uint16(data[2*i:]))
	}
	return out
}

// UnmarshalJSON reads an [id, name] pair back into a Peer.
func (p *Peer) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return errors.New("peer must be an [id, name] pair")
	}
	if err := json.Unmarshal(pair[0], &p.ID); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &p.Name)
}
