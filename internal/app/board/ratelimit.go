package board

import "time"

// decayShare is the fraction of the ceiling removed per test interval's worth of decay.
// Keeping it below 1 lets sustained traffic just under the ceiling drift the counter
// back to zero while short bursts still register.
const decayShare = 0.8

// RateLimitOptions tunes a RateLimiter.
type RateLimitOptions struct {
	// Ceiling is the number of messages per TestInterval above which the connection
	// becomes limited.
	Ceiling       int
	TestInterval  time.Duration
	DecayInterval time.Duration
}

// RateLimiter is a per-connection decaying message counter. It only flips a flag;
// callers consult IsLimited before accepting work.
type RateLimiter struct {
	opts      RateLimitOptions
	sched     Scheduler
	counter   int
	limited   bool
	decrement int

	stopTest  func()
	stopDecay func()
}

// NewRateLimiter returns a stopped limiter; call Start to arm its timers.
func NewRateLimiter(sched Scheduler, opts RateLimitOptions) *RateLimiter {
	decrement := int(decayShare * float64(opts.Ceiling) * float64(opts.DecayInterval) / float64(opts.TestInterval))
	if decrement < 1 {
		decrement = 1
	}

	return &RateLimiter{
		opts:      opts,
		sched:     sched,
		decrement: decrement,
	}
}

// Start arms the test and decay timers. Calling Start twice is a no-op.
func (l *RateLimiter) Start() {
	if l.stopTest != nil {
		return
	}
	l.stopTest = repeat(l.sched, l.opts.TestInterval, l.test)
	l.stopDecay = repeat(l.sched, l.opts.DecayInterval, l.decay)
}

// Stop cancels both timers.
func (l *RateLimiter) Stop() {
	if l.stopTest == nil {
		return
	}
	l.stopTest()
	l.stopDecay()
	l.stopTest, l.stopDecay = nil, nil
}

// Increment counts one inbound message.
func (l *RateLimiter) Increment() {
	l.counter++
}

// IsLimited reports whether the connection is currently throttled.
func (l *RateLimiter) IsLimited() bool {
	return l.limited
}

// test raises the flag above the ceiling and clears it only once the counter has
// drained to exactly zero.
func (l *RateLimiter) test() {
	switch {
	case l.counter > l.opts.Ceiling:
		l.limited = true
	case l.counter == 0:
		l.limited = false
	}
}

func (l *RateLimiter) decay() {
	l.counter -= l.decrement
	if l.counter < 0 {
		l.counter = 0
	}
}
