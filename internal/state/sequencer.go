package state

import "sync"

// sequencer orders the confirm/rollback step of mutations that share a
// collection key. A ticket taken at dispatch waits for the previous ticket
// on the same key to finish before reconciling.
type sequencer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newSequencer() *sequencer {
	return &sequencer{tails: map[string]chan struct{}{}}
}

// enter returns a channel closed when the previous holder of key finishes
// (nil if there is none) and the done func for this ticket.
func (q *sequencer) enter(key string) (<-chan struct{}, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prev := q.tails[key]
	current := make(chan struct{})
	q.tails[key] = current

	var once sync.Once
	return prev, func() {
		once.Do(func() {
			q.mu.Lock()
			if q.tails[key] == current {
				delete(q.tails, key)
			}
			q.mu.Unlock()
			close(current)
		})
	}
}
