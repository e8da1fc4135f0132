package board

import "time"

// bulkInitEntry tracks one recent joiner and the peers that already sent it history.
type bulkInitEntry struct {
	joiner  *User
	handled map[int]struct{}
	expiry  Task
}

// bulkInitQueue is a room's ordered set of joiners still waiting for peers' drawing
// history. Entries are keyed by joiner id; handled sets hold peer ids so that a
// departed peer can be purged explicitly.
type bulkInitQueue struct {
	entries []*bulkInitEntry
	byID    map[int]*bulkInitEntry
	sched   Scheduler
	timeout time.Duration
}

func newBulkInitQueue(sched Scheduler, timeout time.Duration) *bulkInitQueue {
	return &bulkInitQueue{
		byID:    make(map[int]*bulkInitEntry),
		sched:   sched,
		timeout: timeout,
	}
}

// enqueue adds joiner at the back of the queue with a fresh expiry. A joiner already
// queued is moved to the back and its timer restarted.
func (q *bulkInitQueue) enqueue(joiner *User) {
	q.remove(joiner.ID)

	entry := &bulkInitEntry{
		joiner:  joiner,
		handled: make(map[int]struct{}),
	}
	entry.expiry = q.sched.AfterFunc(q.timeout, func() {
		// Only expire the entry this timer was armed for.
		if q.byID[joiner.ID] == entry {
			q.drop(entry)
		}
	})

	q.entries = append(q.entries, entry)
	q.byID[joiner.ID] = entry
}

// remove drops the joiner's entry, if any, and cancels its timer.
func (q *bulkInitQueue) remove(joinerID int) bool {
	entry, ok := q.byID[joinerID]
	if !ok {
		return false
	}
	entry.expiry.Stop()
	q.drop(entry)
	return true
}

func (q *bulkInitQueue) drop(entry *bulkInitEntry) {
	delete(q.byID, entry.joiner.ID)
	for i, e := range q.entries {
		if e == entry {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
}

// claim finds the first joiner, in queue order, that is not sender and has not been
// served by sender yet, and marks sender as handled for it.
func (q *bulkInitQueue) claim(sender *User) (*User, bool) {
	for _, entry := range q.entries {
		if entry.joiner == sender {
			continue
		}
		if _, done := entry.handled[sender.ID]; done {
			continue
		}
		entry.handled[sender.ID] = struct{}{}
		return entry.joiner, true
	}
	return nil, false
}

// forgetPeer purges peerID from every handled set.
func (q *bulkInitQueue) forgetPeer(peerID int) {
	for _, entry := range q.entries {
		delete(entry.handled, peerID)
	}
}

// clear drops every entry and cancels all timers.
func (q *bulkInitQueue) clear() {
	for _, entry := range q.entries {
		entry.expiry.Stop()
	}
	q.entries = nil
	q.byID = make(map[int]*bulkInitEntry)
}

// has reports whether joinerID is queued.
func (q *bulkInitQueue) has(joinerID int) bool {
	_, ok := q.byID[joinerID]
	return ok
}

// handledBy reports whether peerID already served joinerID.
func (q *bulkInitQueue) handledBy(joinerID, peerID int) bool {
	entry, ok := q.byID[joinerID]
	if !ok {
		return false
	}
	_, done := entry.handled[peerID]
	return done
}

func (q *bulkInitQueue) size() int {
	return len(q.entries)
}
