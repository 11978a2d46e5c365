package manager

import "sync"

// Queue is the unbounded thread-safe handoff between the execution engine
// and the reconciliation loop. Producers never block; the loop is the only
// consumer.
type Queue struct {
	mu    sync.Mutex
	items []Registration
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(r Registration) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// Drain removes and returns everything queued so far, in FIFO order.
func (q *Queue) Drain() []Registration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Len reports the queued registration count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
