package board

import (
	"sync"

	"github.com/ferdipret/cred-task/domain"
)

type subscriber struct {
	ch   chan domain.Snapshot
	once sync.Once
}

// Subscribe returns a channel that receives the board state after every
// change. Delivery is latest-wins: a slow reader only sees the newest
// snapshot, never a stale one. The returned func cancels the subscription
// and closes the channel.
func (e *Engine) Subscribe() (<-chan domain.Snapshot, func()) {
	s := &subscriber{ch: make(chan domain.Snapshot, 1)}
	e.mu.Lock()
	e.subs[s] = struct{}{}
	e.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			e.mu.Lock()
			delete(e.subs, s)
			close(s.ch)
			e.mu.Unlock()
		})
	}
	return s.ch, cancel
}

// publishLocked hands every subscriber its own copy of snap.
func (e *Engine) publishLocked(snap domain.Snapshot) {
	first := true
	for s := range e.subs {
		out := snap
		if !first {
			out = snap.Clone()
		}
		first = false
		select {
		case s.ch <- out:
			continue
		default:
		}
		// Replace the undelivered snapshot. Only the engine sends, so the
		// buffer has room once it has been drained.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- out
	}
}
