/*
Package board is the room core of the drawing server: users, rooms, the room registry,
the bulk-init hand-off queue and the Controller that routes socket traffic to them.

Every mutation runs on the Controller's event loop. Sockets post their open, message
and close events into the loop, and timers (rate-limiter decay, bulk-init expiry,
reconnect grace) post their callbacks into the same loop, so no locks guard rooms or
users.
*/
package board

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"inkroom/internal/pkg/auth/jwt"
	"inkroom/internal/pkg/errs"
	"inkroom/internal/pkg/logx"
	"inkroom/internal/pkg/randx"
)

const (
	// maxUserID keeps ids inside the int16 sender field of relayed binary frames.
	maxUserID = 1<<15 - 1

	opsBuffer = 1024
)

// Options configures a Controller.
type Options struct {
	RateLimit         RateLimitOptions
	BulkInitTimeout   time.Duration
	DeactivationGrace time.Duration

	// SessionSecret signs resume tokens.
	SessionSecret string
}

// Stats is a snapshot of the controller's bookkeeping.
type Stats struct {
	Rooms        int `json:"rooms"`
	Connections  int `json:"connections"`
	Reconnecting int `json:"reconnecting"`
}

// Controller owns the connection → user mapping and routes inbound traffic.
type Controller struct {
	opts     Options
	sched    Scheduler
	registry *Registry

	users   map[Conn]*User
	ids     map[int]*User
	pending map[int]*User
	nextID  int

	ops     chan func()
	stopped chan struct{}

	logger zerolog.Logger
}

// NewController returns a controller whose timers fire on its own event loop.
// Call Run to start processing.
func NewController(opts Options) *Controller {
	c := newController(opts, nil)
	c.sched = loopScheduler{post: c.post}
	c.registry.sched = c.sched
	return c
}

func newController(opts Options, sched Scheduler) *Controller {
	return &Controller{
		opts:     opts,
		sched:    sched,
		registry: NewRegistry(sched, opts.BulkInitTimeout),
		users:    make(map[Conn]*User),
		ids:      make(map[int]*User),
		pending:  make(map[int]*User),
		ops:      make(chan func(), opsBuffer),
		stopped:  make(chan struct{}),
		logger:   logx.Component("controller"),
	}
}

// Run processes events until ctx is done, then closes every open connection.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info().Msg("Event loop started.")
	defer close(c.stopped)

	for {
		select {
		case op := <-c.ops:
			op()
		case <-ctx.Done():
			c.shutdown()
			c.logger.Info().Msg("Event loop stopped.")
			return
		}
	}
}

func (c *Controller) shutdown() {
	for conn, u := range c.users {
		conn.Close()
		u.release()
	}
	for _, u := range c.pending {
		u.release()
	}
	c.users = make(map[Conn]*User)
	c.pending = make(map[int]*User)
}

// post queues op for the event loop. It reports false once the loop has stopped.
func (c *Controller) post(op func()) bool {
	select {
	case <-c.stopped:
		return false
	default:
	}

	select {
	case c.ops <- op:
		return true
	case <-c.stopped:
		return false
	}
}

// Open registers a new connection.
func (c *Controller) Open(conn Conn) {
	c.post(func() { c.handleOpen(conn) })
}

// Receive hands one inbound frame to the event loop.
func (c *Controller) Receive(conn Conn, msgType int, data []byte) {
	c.post(func() { c.handleMessage(conn, msgType, data) })
}

// Close reports that conn is gone.
func (c *Controller) Close(conn Conn) {
	c.post(func() { c.handleClose(conn) })
}

// Stats reads a snapshot from the event loop.
func (c *Controller) Stats(ctx context.Context) (Stats, error) {
	result := make(chan Stats, 1)
	if !c.post(func() { result <- c.stats() }) {
		return Stats{}, errors.New("controller stopped")
	}

	select {
	case s := <-result:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (c *Controller) stats() Stats {
	return Stats{
		Rooms:        c.registry.Len(),
		Connections:  len(c.users),
		Reconnecting: len(c.pending),
	}
}

func (c *Controller) handleOpen(conn Conn) {
	id, ok := c.allocateID()
	if !ok {
		c.logger.Error().Int("live_users", len(c.ids)).Msg("No user id available. Closing connection.")
		conn.Close()
		return
	}

	u := NewUser(id, conn, c.sched, UserOptions{
		SessionID:         randx.SessionID(),
		RateLimit:         c.opts.RateLimit,
		DeactivationGrace: c.opts.DeactivationGrace,
	})
	c.users[conn] = u
	c.ids[id] = u

	u.logger.Debug().Str("remote_ip", logx.AnonymizeIP(u.Addr)).Msg("Connection opened.")
}

// allocateID hands out ids in increasing order, wrapping inside the wire range and
// skipping ids still held by a live or reconnecting user.
func (c *Controller) allocateID() (int, bool) {
	for range maxUserID + 1 {
		id := c.nextID
		c.nextID = (c.nextID + 1) % (maxUserID + 1)
		if _, used := c.ids[id]; !used {
			return id, true
		}
	}
	return 0, false
}

func (c *Controller) handleMessage(conn Conn, msgType int, data []byte) {
	u, ok := c.users[conn]
	if !ok {
		c.logger.Debug().Msg("Message from unknown connection ignored.")
		return
	}

	if err := c.receiveMessage(u, msgType, data); err != nil {
		var customErr *errs.CustomError
		if errors.As(err, &customErr) {
			u.logger.Warn().
				Int("code", customErr.Code).
				Time("raised_at", customErr.Timestamp).
				Msg(customErr.Message)
			return
		}
		u.logger.Error().Err(err).Msg("Failed to handle message.")
	}
}

// receiveMessage is the single entry point for inbound frames. Returned errors drop
// the message but keep the connection.
func (c *Controller) receiveMessage(u *User, msgType int, data []byte) error {
	u.rate.Increment()
	if u.rate.IsLimited() {
		return errs.NewError(errs.ErrRateLimitExceeded)
	}

	switch msgType {
	case websocket.BinaryMessage:
		return c.receiveBinary(u, data)
	case websocket.TextMessage:
		return c.receiveJSON(u, data)
	}
	return errs.NewError(errs.ErrMalformedFrame, len(data))
}

func (c *Controller) receiveBinary(u *User, data []byte) error {
	if !u.IsActive() {
		return errs.NewError(errs.ErrHandshakeRequired, "binary")
	}

	code, mode, err := parseFrame(data)
	if err != nil {
		return err
	}

	room, err := c.registry.GetRoomWithMembershipCheck(u, code)
	if err != nil {
		return err
	}

	buf := u.PrependIDToBuffer(data)
	if mode == ModeBulkInit {
		return room.SendBulkInitData(u, buf)
	}

	room.SendAnyDataToUsers(u, buf)
	return nil
}

func (c *Controller) receiveJSON(u *User, data []byte) error {
	event, desc, err := decodeEvent(data)
	if err != nil {
		return err
	}

	if !desc.handshake && !u.IsActive() {
		return errs.NewError(errs.ErrHandshakeRequired, string(event.Name()))
	}

	relay, err := c.dispatch(u, event)
	if err != nil {
		return err
	}

	if desc.passOn && relay != nil {
		relay.room.SendJSONToUsers(u, event.Name(), relay.val)
	}
	return nil
}

// sendSessionToken issues the resume token for u's current session.
func (c *Controller) sendSessionToken(u *User) {
	token, err := jwt.GenerateToken(&jwt.Payload{
		UserID:    u.ID,
		SessionID: u.SessionID,
	}, c.opts.SessionSecret, jwt.ResumeTokenExpiration)
	if err != nil {
		u.logger.Error().Err(err).Msg("Failed to sign resume token.")
		return
	}

	msg := Message{Evt: EvtSession, Usr: lo.ToPtr(u.ID), Val: token}
	if err := u.SendJSON(msg); err != nil {
		u.logger.Debug().Err(err).Msg("Failed to send resume token.")
	}
}

// resume moves the session named by token onto fresh's connection. It reports false
// when the token is invalid or its user is no longer inside the grace period.
func (c *Controller) resume(fresh *User, token string) bool {
	payload, err := jwt.ParseToken(token, c.opts.SessionSecret)
	if err != nil {
		return false
	}

	old, ok := c.pending[payload.UserID]
	if !ok || old.SessionID != payload.SessionID {
		return false
	}

	conn := fresh.conn
	delete(c.users, conn)
	c.discard(fresh)

	delete(c.pending, old.ID)
	old.attach(conn)
	c.users[conn] = old
	old.Activate()

	old.logger.Info().Int("rooms", len(old.rooms)).Msg("Session resumed.")

	c.sendSessionToken(old)
	for _, room := range old.Rooms() {
		room.announce(old)
	}
	return true
}

func (c *Controller) handleClose(conn Conn) {
	u, ok := c.users[conn]
	if !ok {
		return
	}
	delete(c.users, conn)

	if !u.IsActive() {
		u.logger.Debug().Msg("Connection closed before handshake.")
		c.discard(u)
		return
	}

	for _, room := range u.Rooms() {
		room.suspend(u)
	}
	c.pending[u.ID] = u
	u.logger.Info().Dur("grace", c.opts.DeactivationGrace).Msg("Connection closed. Holding seats for reconnect.")

	u.Deactivate(func() { c.expire(u) })
}

// expire removes a user whose grace period ran out from all of its rooms.
func (c *Controller) expire(u *User) {
	delete(c.pending, u.ID)

	for _, room := range u.Rooms() {
		room.RemoveUser(u)
		room.SendJSONToUsers(u, EvtDisconnect, nil)
	}

	u.logger.Info().Msg("User disconnected.")
	c.discard(u)
}

// discard forgets u entirely and stops its timers.
func (c *Controller) discard(u *User) {
	if c.ids[u.ID] != u {
		errs.Invariant("discarding unknown user #%d", u.ID)
	}
	delete(c.ids, u.ID)
	u.release()
}
