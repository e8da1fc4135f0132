package board

import "time"

// Task is a pending scheduled callback.
type Task interface {
	// Stop cancels the callback. It reports false if the callback already ran or was
	// stopped before.
	Stop() bool
}

// Scheduler runs callbacks after a delay. Implementations used by the Controller run
// every callback on the event loop, so callbacks may touch rooms and users freely but
// must re-check any state they depend on.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Task
}

// loopScheduler arms a wall-clock timer and hands the callback to the event loop when
// it fires.
type loopScheduler struct {
	post func(op func()) bool
}

type loopTask struct {
	timer *time.Timer

	// done is only read and written on the event loop.
	done bool
}

func (t *loopTask) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	t.timer.Stop()
	return true
}

func (s loopScheduler) AfterFunc(d time.Duration, f func()) Task {
	task := &loopTask{}
	task.timer = time.AfterFunc(d, func() {
		s.post(func() {
			// The timer may have fired just before Stop ran on the loop.
			if task.done {
				return
			}
			task.done = true
			f()
		})
	})
	return task
}

// repeat runs f every interval until the returned stop function is called.
func repeat(s Scheduler, interval time.Duration, f func()) (stop func()) {
	var (
		current Task
		stopped bool
		arm     func()
	)

	arm = func() {
		current = s.AfterFunc(interval, func() {
			if stopped {
				return
			}
			f()
			if !stopped {
				arm()
			}
		})
	}
	arm()

	return func() {
		stopped = true
		current.Stop()
	}
}
